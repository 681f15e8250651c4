// Package accumulator folds a classified event stream into the text of one
// placeholder message and persists every change as it happens.
package accumulator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hupe1980/channelmesh/core"
	"github.com/hupe1980/channelmesh/internal/util"
	"github.com/hupe1980/channelmesh/logging"
	"github.com/hupe1980/channelmesh/metrics"
)

const (
	// SnippetLimit caps rendered tool results, in runes.
	SnippetLimit = 200
	// NoResponse is written when an invocation produced no content at all.
	NoResponse = "_(no response)_"

	paragraph = "\n\n"
)

// Options configures an Accumulator.
type Options struct {
	Logger logging.Logger
}

// Accumulator owns the content of one placeholder message. The buffer only
// grows: every persisted revision is a prefix of the next one. It is not safe
// for concurrent use; each branch owns its accumulator.
type Accumulator struct {
	store     core.MessageStore
	messageID string
	logger    logging.Logger

	buf       strings.Builder
	annotated bool
}

// New creates an Accumulator writing to messageID.
func New(store core.MessageStore, messageID string, optFns ...func(o *Options)) *Accumulator {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	return &Accumulator{store: store, messageID: messageID, logger: opts.Logger}
}

// Text returns the accumulated content.
func (a *Accumulator) Text() string { return a.buf.String() }

// Annotated reports whether an error annotation has been written.
func (a *Accumulator) Annotated() bool { return a.annotated }

// Apply folds ev into the buffer and persists the result when it changed.
func (a *Accumulator) Apply(ctx context.Context, ev core.StreamEvent) (bool, error) {
	if !a.render(ev) {
		return false, nil
	}
	return true, a.persist(ctx)
}

// Fail appends the error annotation unless the stream already reported one.
// Callers pass a context that outlives the branch so the write still lands
// after cancellation.
func (a *Accumulator) Fail(ctx context.Context, err error) error {
	if a.annotated || err == nil {
		return nil
	}
	a.appendError(err.Error())
	return a.persist(ctx)
}

// Finish finalizes the message. An empty buffer becomes NoResponse.
func (a *Accumulator) Finish(ctx context.Context) error {
	if strings.TrimSpace(a.buf.String()) != "" {
		return nil
	}
	a.buf.WriteString(NoResponse)
	return a.persist(ctx)
}

func (a *Accumulator) render(ev core.StreamEvent) bool {
	switch e := ev.(type) {
	case core.TextDelta:
		a.buf.WriteString(e.Text)
		return e.Text != ""
	case core.ReasoningDelta:
		a.buf.WriteString(e.Text)
		return e.Text != ""
	case core.ToolCall:
		a.line(fmt.Sprintf("_Calling tool **%s**..._", e.Name))
		return true
	case core.ToolResult:
		if e.Error != "" {
			a.line(fmt.Sprintf("_Tool **%s** failed: %s_", e.Name, e.Error))
			return true
		}
		a.line(fmt.Sprintf("_Tool **%s** returned:_ %s", e.Name, snippet(e.Result)))
		return true
	case core.StepFinish:
		text := a.buf.String()
		if text == "" || strings.HasSuffix(text, paragraph) {
			return false
		}
		a.buf.WriteString(paragraph)
		return true
	case core.ErrorEvent:
		a.appendError(e.Message())
		return true
	default:
		return false
	}
}

// line writes s on its own line.
func (a *Accumulator) line(s string) {
	if text := a.buf.String(); text != "" && !strings.HasSuffix(text, "\n") {
		a.buf.WriteString("\n")
	}
	a.buf.WriteString(s)
	a.buf.WriteString("\n")
}

func (a *Accumulator) appendError(msg string) {
	if text := a.buf.String(); text != "" && !strings.HasSuffix(text, paragraph) {
		if strings.HasSuffix(text, "\n") {
			a.buf.WriteString("\n")
		} else {
			a.buf.WriteString(paragraph)
		}
	}
	a.buf.WriteString("**Error:** " + msg)
	a.annotated = true
}

func (a *Accumulator) persist(ctx context.Context) error {
	err := a.store.Update(ctx, a.messageID, a.buf.String())
	metrics.PersistenceWritesTotal.WithLabelValues(metrics.Outcome(err)).Inc()
	if err != nil {
		a.logger.Error("accumulator.persist.error", "message_id", a.messageID, "error", err)
		return core.PersistenceError(err)
	}
	return nil
}

func snippet(v any) string {
	var s string
	switch r := v.(type) {
	case nil:
		return "(empty)"
	case string:
		s = r
	case fmt.Stringer:
		s = r.String()
	default:
		b, err := json.Marshal(r)
		if err != nil {
			s = fmt.Sprintf("%v", r)
		} else {
			s = string(b)
		}
	}
	return util.Truncate(strings.TrimSpace(s), SnippetLimit)
}
