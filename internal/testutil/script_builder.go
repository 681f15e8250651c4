package testutil

import (
	"strings"

	"github.com/hupe1980/channelmesh/core"
	"github.com/hupe1980/channelmesh/model"
)

// ScriptBuilder provides a fluent helper for constructing the event sequence
// of one scripted model step.
// Example:
//
//	evs := NewScriptBuilder().Reasoning("hmm").Text("Ask @analyst").Finish().Events()
type ScriptBuilder struct {
	events []core.StreamEvent
}

// NewScriptBuilder creates an empty script.
func NewScriptBuilder() *ScriptBuilder { return &ScriptBuilder{} }

// Text appends word-sized text deltas (chainable).
func (b *ScriptBuilder) Text(t string) *ScriptBuilder {
	for _, w := range strings.SplitAfter(t, " ") {
		if w != "" {
			b.events = append(b.events, core.TextDelta{Text: w})
		}
	}
	return b
}

// Reasoning appends a reasoning delta (chainable).
func (b *ScriptBuilder) Reasoning(t string) *ScriptBuilder {
	b.events = append(b.events, core.ReasoningDelta{Text: t})
	return b
}

// Call appends a tool call (chainable).
func (b *ScriptBuilder) Call(id, name, args string) *ScriptBuilder {
	b.events = append(b.events, core.ToolCall{ID: id, Name: name, Arguments: args})
	return b
}

// Finish appends a stop step boundary (chainable).
func (b *ScriptBuilder) Finish() *ScriptBuilder {
	b.events = append(b.events, core.StepFinish{Reason: "stop"})
	return b
}

// Events returns the built sequence.
func (b *ScriptBuilder) Events() []core.StreamEvent {
	return append([]core.StreamEvent(nil), b.events...)
}

// Reply returns a ScriptFunc that always answers text.
func Reply(text string) model.ScriptFunc {
	return func(model.Request) ([]core.StreamEvent, error) {
		return NewScriptBuilder().Text(text).Finish().Events(), nil
	}
}

// Fail returns a ScriptFunc that streams partial text and then fails with err.
func Fail(partial string, err error) model.ScriptFunc {
	return func(model.Request) ([]core.StreamEvent, error) {
		return NewScriptBuilder().Text(partial).Events(), err
	}
}
