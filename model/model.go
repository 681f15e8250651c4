package model

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/channelmesh/core"
)

// ToolDefinition declaratively exposes a callable function to the model.
type ToolDefinition struct {
	Type     string             `json:"type"` // "function"
	Function FunctionDefinition `json:"function"`
}

// FunctionDefinition describes an individual function (tool) exposed to the model.
// Parameters is a JSON Schema object.
type FunctionDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Request captures the normalized input of one generation step.
type Request struct {
	Instructions string           `json:"instructions"`
	Contents     []core.Content   `json:"contents"`
	Tools        []ToolDefinition `json:"tools,omitempty"`
	// Model overrides the adapter's configured model name when set.
	Model string `json:"model,omitempty"`
}

// ToolRounds counts the tool result turns already present in req, i.e. the
// index of the current step within a multi-step invocation.
func (r Request) ToolRounds() int {
	n := 0
	for _, c := range r.Contents {
		if c.Role == core.RoleTool {
			n++
		}
	}
	return n
}

// LastUserText returns the text of the last user turn in req.
func (r Request) LastUserText() string {
	for i := len(r.Contents) - 1; i >= 0; i-- {
		if r.Contents[i].Role == core.RoleUser {
			return r.Contents[i].Text()
		}
	}
	return ""
}

// Info contains metadata about a model implementation.
type Info struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"`
	SupportsTools bool   `json:"supports_tools"`
}

// Model is the minimal interface the invoker requires to drive generation.
//
// Generate starts one step. The event channel is closed when the step ends;
// the error channel then yields at most one error and is closed. Tool calls
// are reported as core.ToolCall events and are not executed by the Model.
type Model interface {
	Generate(ctx context.Context, req Request) (<-chan core.StreamEvent, <-chan error)

	// Info returns information about the model implementation.
	Info() Info
}

// ScriptFunc produces the events of one step for req.
type ScriptFunc func(req Request) ([]core.StreamEvent, error)

// ScriptedModel is a deterministic in-memory Model useful for tests and
// examples. Every Generate call is recorded.
type ScriptedModel struct {
	info   Info
	script ScriptFunc
	delay  time.Duration

	mu    sync.Mutex
	calls []Request
}

// NewScriptedModel constructs a ScriptedModel. A nil script echoes the last user turn.
func NewScriptedModel(name string, script ScriptFunc) *ScriptedModel {
	if script == nil {
		script = EchoScript
	}
	return &ScriptedModel{
		info:   Info{Name: name, Provider: "scripted", SupportsTools: true},
		script: script,
	}
}

// WithDelay makes every emitted event wait d first, simulating a slow stream.
func (m *ScriptedModel) WithDelay(d time.Duration) *ScriptedModel {
	m.delay = d
	return m
}

// Calls returns the requests received so far.
func (m *ScriptedModel) Calls() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.calls...)
}

// Generate implements Model.
func (m *ScriptedModel) Generate(ctx context.Context, req Request) (<-chan core.StreamEvent, <-chan error) {
	out := make(chan core.StreamEvent, 16)
	errCh := make(chan error, 1)

	m.mu.Lock()
	m.calls = append(m.calls, req)
	m.mu.Unlock()

	go func() {
		defer close(errCh)
		defer close(out)

		events, err := m.script(req)
		for _, ev := range events {
			if m.delay > 0 {
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				case <-time.After(m.delay):
				}
			}
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case out <- ev:
			}
		}
		if err != nil {
			errCh <- err
		}
	}()

	return out, errCh
}

// Info implements Model.
func (m *ScriptedModel) Info() Info { return m.info }

// EchoScript streams "Mock response to: <last user text>" word by word.
func EchoScript(req Request) ([]core.StreamEvent, error) {
	full := fmt.Sprintf("Mock response to: %s", req.LastUserText())
	return TextEvents(full), nil
}

// TextEvents splits text into word-sized TextDelta events followed by a stop StepFinish.
func TextEvents(text string) []core.StreamEvent {
	words := strings.SplitAfter(text, " ")
	events := make([]core.StreamEvent, 0, len(words)+1)
	for _, w := range words {
		if w != "" {
			events = append(events, core.TextDelta{Text: w})
		}
	}
	return append(events, core.StepFinish{Reason: "stop"})
}
