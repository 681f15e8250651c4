package tool

import (
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/hupe1980/channelmesh/core"
	"github.com/hupe1980/channelmesh/internal/util"
)

const (
	defaultFetchLimit   = 4000
	maxFetchBodyBytes   = 1 << 20
	defaultSearchLimit  = 5
	maxSearchLimit      = 20
	searchSnippetLength = 280
)

// ResearchOptions configures the research tool set.
type ResearchOptions struct {
	HTTPClient *http.Client
	// FetchLimit caps the characters of page text returned by fetch_url.
	FetchLimit int
	// Searcher backs search_channel_history. The tool is omitted when nil.
	Searcher core.MessageSearcher
	Clock    func() time.Time
}

// ResearchTools returns the tool set granted to research-capable agents.
func ResearchTools(optFns ...func(o *ResearchOptions)) []Tool {
	opts := ResearchOptions{
		HTTPClient: &http.Client{Timeout: 20 * time.Second},
		FetchLimit: defaultFetchLimit,
		Clock:      time.Now,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	tools := []Tool{
		NewFetchURLTool(opts.HTTPClient, opts.FetchLimit),
		NewCurrentTimeTool(opts.Clock),
	}
	if opts.Searcher != nil {
		tools = append(tools, NewSearchHistoryTool(opts.Searcher))
	}
	return tools
}

type fetchArgs struct {
	URL string `json:"url" description:"Absolute http or https URL of the page to read"`
}

// NewFetchURLTool returns fetch_url, which downloads a page and returns its
// visible text with all markup stripped, capped at limit characters.
func NewFetchURLTool(client *http.Client, limit int) *FunctionTool {
	if client == nil {
		client = http.DefaultClient
	}
	if limit <= 0 {
		limit = defaultFetchLimit
	}
	policy := bluemonday.StrictPolicy()

	return NewFunctionToolFromStruct(
		"fetch_url",
		"Fetch a web page and return its readable text content.",
		fetchArgs{},
		func(tc *core.ToolContext, args map[string]any) (any, error) {
			raw, _ := args["url"].(string)
			u, err := url.Parse(strings.TrimSpace(raw))
			if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
				return nil, NewToolError("fetch_url", fmt.Sprintf("invalid url %q", raw), CodeValidation)
			}

			req, err := http.NewRequestWithContext(tc.Context(), http.MethodGet, u.String(), nil)
			if err != nil {
				return nil, err
			}
			req.Header.Set("User-Agent", "channelmesh-research/1.0")

			resp, err := client.Do(req)
			if err != nil {
				return nil, fmt.Errorf("fetch %s: %w", u.Host, err)
			}
			defer resp.Body.Close()

			if resp.StatusCode >= 400 {
				return nil, fmt.Errorf("fetch %s: status %d", u.Host, resp.StatusCode)
			}

			body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBodyBytes))
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", u.Host, err)
			}

			// tags become word boundaries before StrictPolicy drops them
			text := collapseWhitespace(html.UnescapeString(policy.Sanitize(strings.ReplaceAll(string(body), "<", " <"))))
			return util.Truncate(text, limit), nil
		},
	)
}

type searchArgs struct {
	Query string `json:"query" description:"Case-insensitive text to look for"`
	Limit int    `json:"limit,omitempty" description:"Maximum number of matches (default 5, max 20)"`
}

// NewSearchHistoryTool returns search_channel_history, which searches the
// calling agent's channel transcript.
func NewSearchHistoryTool(searcher core.MessageSearcher) *FunctionTool {
	return NewFunctionToolFromStruct(
		"search_channel_history",
		"Search earlier messages of this channel for a phrase. Returns the newest matches first.",
		searchArgs{},
		func(tc *core.ToolContext, args map[string]any) (any, error) {
			query, _ := args["query"].(string)
			query = strings.TrimSpace(query)
			if query == "" {
				return nil, NewToolError("search_channel_history", "query must not be empty", CodeValidation)
			}

			limit := defaultSearchLimit
			switch v := args["limit"].(type) {
			case float64:
				if v > 0 {
					limit = int(v)
				}
			case int:
				if v > 0 {
					limit = v
				}
			}
			if limit > maxSearchLimit {
				limit = maxSearchLimit
			}

			msgs, err := searcher.SearchMessages(tc.Context(), tc.ChannelID(), query, limit)
			if err != nil {
				return nil, err
			}
			if len(msgs) == 0 {
				return fmt.Sprintf("No messages matching %q.", query), nil
			}

			var sb strings.Builder
			for _, m := range msgs {
				fmt.Fprintf(&sb, "[%s %s] %s\n", m.CreatedAt.UTC().Format(time.RFC3339), m.AuthorID, util.Truncate(m.Content, searchSnippetLength))
			}
			return strings.TrimRight(sb.String(), "\n"), nil
		},
	)
}

// NewCurrentTimeTool returns current_time.
func NewCurrentTimeTool(clock func() time.Time) *FunctionTool {
	if clock == nil {
		clock = time.Now
	}
	return NewFunctionTool(
		"current_time",
		"Return the current date and time in UTC (RFC 3339).",
		map[string]any{"type": "object", "properties": map[string]any{}},
		func(*core.ToolContext, map[string]any) (any, error) {
			return clock().UTC().Format(time.RFC3339), nil
		},
	)
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

var errNoSearcher = errors.New("message store does not support search")

// SearcherOf returns store as a MessageSearcher when it implements one.
func SearcherOf(store core.MessageStore) (core.MessageSearcher, error) {
	if s, ok := store.(core.MessageSearcher); ok {
		return s, nil
	}
	return nil, errNoSearcher
}
