// Package gemini provides an implementation of model.Model backed by the
// Google Gen AI SDK (Gemini API or Vertex AI).
package gemini

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/genai"

	"github.com/hupe1980/channelmesh/core"
	"github.com/hupe1980/channelmesh/model"
)

// Options configures the Gemini model adapter.
type Options struct {
	Model           string
	Temperature     float32
	MaxOutputTokens int32
	// IncludeThoughts requests thought summaries, reported as core.ReasoningDelta.
	IncludeThoughts bool
}

// Model wraps genai streaming generation behind the generic model.Model interface.
type Model struct {
	client *genai.Client
	opts   Options
}

// NewModel creates a Gemini API client authenticated with apiKey.
func NewModel(ctx context.Context, apiKey string, optFns ...func(o *Options)) (*Model, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return NewModelFromClient(client, optFns...), nil
}

// NewModelFromClient creates a new Gemini model from an existing client.
func NewModelFromClient(client *genai.Client, optFns ...func(o *Options)) *Model {
	opts := Options{
		Model:           "gemini-2.5-flash",
		Temperature:     0.7,
		MaxOutputTokens: 4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Model{client: client, opts: opts}
}

// Generate implements model.Model.
func (m *Model) Generate(ctx context.Context, req model.Request) (<-chan core.StreamEvent, <-chan error) {
	out := make(chan core.StreamEvent, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(errCh)
		defer close(out)

		name := m.opts.Model
		if req.Model != "" {
			name = req.Model
		}

		if err := m.stream(ctx, name, buildContents(req.Contents), m.buildConfig(req), out); err != nil {
			errCh <- err
		}
	}()

	return out, errCh
}

func (m *Model) buildConfig(req model.Request) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(m.opts.Temperature),
		MaxOutputTokens: m.opts.MaxOutputTokens,
	}
	if req.Instructions != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.Instructions, genai.RoleUser)
	}
	if m.opts.IncludeThoughts {
		cfg.ThinkingConfig = &genai.ThinkingConfig{IncludeThoughts: true}
	}
	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, t := range req.Tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:                 t.Function.Name,
				Description:          t.Function.Description,
				ParametersJsonSchema: t.Function.Parameters,
			})
		}
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}
	return cfg
}

func (m *Model) stream(
	ctx context.Context,
	name string,
	contents []*genai.Content,
	cfg *genai.GenerateContentConfig,
	out chan<- core.StreamEvent,
) error {
	reason := "stop"
	for resp, err := range m.client.Models.GenerateContentStream(ctx, name, contents, cfg) {
		if err != nil {
			return fmt.Errorf("gemini streaming error: %w", err)
		}
		for _, cand := range resp.Candidates {
			if cand.Content != nil {
				for _, part := range cand.Content.Parts {
					ev, ok := classify(part)
					if !ok {
						continue
					}
					select {
					case <-ctx.Done():
						return ctx.Err()
					case out <- ev:
					}
				}
			}
			if cand.FinishReason != "" {
				reason = string(cand.FinishReason)
			}
		}
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case out <- core.StepFinish{Reason: reason}:
		return nil
	}
}

func classify(part *genai.Part) (core.StreamEvent, bool) {
	switch {
	case part == nil:
		return nil, false
	case part.FunctionCall != nil:
		args, _ := json.Marshal(part.FunctionCall.Args)
		return core.ToolCall{ID: part.FunctionCall.ID, Name: part.FunctionCall.Name, Arguments: string(args)}, true
	case part.Text == "":
		return nil, false
	case part.Thought:
		return core.ReasoningDelta{Text: part.Text}, true
	default:
		return core.TextDelta{Text: part.Text}, true
	}
}

// buildContents maps channelmesh contents onto genai user/model turns.
func buildContents(contents []core.Content) []*genai.Content {
	out := make([]*genai.Content, 0, len(contents))
	for _, c := range contents {
		switch c.Role {
		case core.RoleTool:
			var parts []*genai.Part
			for _, p := range c.Parts {
				fr, ok := p.(core.FunctionResponsePart)
				if !ok {
					continue
				}
				response := map[string]any{"output": fr.FunctionResponse.Response}
				if fr.FunctionResponse.Error != "" {
					response = map[string]any{"error": fr.FunctionResponse.Error}
				}
				part := genai.NewPartFromFunctionResponse(fr.FunctionResponse.Name, response)
				part.FunctionResponse.ID = fr.FunctionResponse.ID
				parts = append(parts, part)
			}
			if len(parts) > 0 {
				out = append(out, &genai.Content{Role: genai.RoleUser, Parts: parts})
			}
		case core.RoleAssistant:
			var parts []*genai.Part
			for _, p := range c.Parts {
				switch part := p.(type) {
				case core.TextPart:
					if part.Text != "" {
						parts = append(parts, genai.NewPartFromText(part.Text))
					}
				case core.FunctionCallPart:
					args := map[string]any{}
					_ = json.Unmarshal([]byte(part.FunctionCall.Arguments), &args)
					parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{
						ID:   part.FunctionCall.ID,
						Name: part.FunctionCall.Name,
						Args: args,
					}})
				}
			}
			if len(parts) > 0 {
				out = append(out, &genai.Content{Role: genai.RoleModel, Parts: parts})
			}
		default:
			text := c.Text()
			if text == "" {
				continue
			}
			if c.Name != "" {
				text = fmt.Sprintf("[%s] %s", c.Name, text)
			}
			out = append(out, genai.NewContentFromText(text, genai.RoleUser))
		}
	}
	return out
}

// Info returns metadata describing this Gemini model implementation.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:          m.opts.Model,
		Provider:      "gemini",
		SupportsTools: true,
	}
}
