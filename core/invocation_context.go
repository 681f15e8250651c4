package core

import (
	"context"

	"github.com/hupe1980/channelmesh/logging"
)

// InvocationContext is the ephemeral, read-only snapshot one delegation branch
// works on. It is taken at invocation start and never persisted; fan-out
// children receive their own snapshot rather than a shared pointer.
type InvocationContext struct {
	Context context.Context

	InvocationID         string
	ChannelID            string
	PlaceholderMessageID string
	Agent                Agent
	TriggeringText       string
	TriggeringUsername   string
	OriginUsername       string
	Depth                int

	// Roster lists the other agents of the channel (the invoking agent excluded).
	Roster       []Agent
	History      []HistoryEntry
	Instructions string

	Logger logging.Logger
}

// Contents converts the history into model request contents.
func (ic *InvocationContext) Contents() []Content {
	out := make([]Content, 0, len(ic.History))
	for _, h := range ic.History {
		out = append(out, NewTextContent(h.Role, h.Name, h.Content))
	}
	return out
}

// Log returns a non-nil logger.
func (ic *InvocationContext) Log() logging.Logger {
	if ic.Logger == nil {
		return logging.NoOpLogger{}
	}
	return ic.Logger
}
