package core

import (
	"context"

	"github.com/hupe1980/channelmesh/logging"
)

// ToolContext is the surface handed to tool implementations. It exposes the
// cancellation context of the stream step plus identifiers of the calling
// branch; tools never see the message store directly.
type ToolContext struct {
	ctx            context.Context
	functionCallID string
	channelID      string
	agent          Agent

	*loggerAdapter
}

// NewToolContext binds a tool call to its branch.
func NewToolContext(ctx context.Context, channelID string, agent Agent, functionCallID string, logger logging.Logger) *ToolContext {
	return &ToolContext{
		ctx:            ctx,
		functionCallID: functionCallID,
		channelID:      channelID,
		agent:          agent,
		loggerAdapter:  newLoggerAdapter(logger),
	}
}

// Context returns the context associated with the tool invocation.
func (tc *ToolContext) Context() context.Context { return tc.ctx }

// FunctionCallID returns the id correlating the model request with this execution.
func (tc *ToolContext) FunctionCallID() string { return tc.functionCallID }

// ChannelID returns the channel the calling agent is answering in.
func (tc *ToolContext) ChannelID() string { return tc.channelID }

// AgentName returns the name of the calling agent.
func (tc *ToolContext) AgentName() string { return tc.agent.Name }
