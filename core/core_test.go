package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/channelmesh/logging"
)

// Compile-time checks that every taxonomy case is a StreamEvent.
var (
	_ StreamEvent = TextDelta{}
	_ StreamEvent = ReasoningDelta{}
	_ StreamEvent = ToolCall{}
	_ StreamEvent = ToolResult{}
	_ StreamEvent = StepFinish{}
	_ StreamEvent = ErrorEvent{}
	_ StreamEvent = Lifecycle{}
)

func TestStreamEvent_Kinds(t *testing.T) {
	tests := []struct {
		ev   StreamEvent
		want EventKind
	}{
		{TextDelta{Text: "a"}, KindTextDelta},
		{ReasoningDelta{Text: "a"}, KindReasoningDelta},
		{ToolCall{Name: "t"}, KindToolCall},
		{ToolResult{Name: "t"}, KindToolResult},
		{ToolResult{Name: "t", Output: true}, KindToolOutput},
		{StepFinish{}, KindStepFinish},
		{StepFinish{TextEnd: true}, KindTextEnd},
		{ErrorEvent{Err: errors.New("x")}, KindError},
		{Lifecycle{Name: "start-step"}, EventKind("start-step")},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.ev.Kind(), "%T", tt.ev)
	}
}

func TestErrorEvent_Message(t *testing.T) {
	assert.Equal(t, "boom", ErrorEvent{Err: errors.New("boom")}.Message())
	assert.Equal(t, "unknown error", ErrorEvent{}.Message())
}

func TestBranchError(t *testing.T) {
	root := errors.New("connection reset")
	err := fmt.Errorf("invoke: %w", StreamError(root))

	assert.ErrorIs(t, err, root)
	assert.Equal(t, StageStream, StageOf(err))
	assert.Equal(t, "invoke: stream failure: connection reset", err.Error())

	assert.Equal(t, StageContext, StageOf(ContextBuildError(root)))
	assert.Equal(t, StageTool, StageOf(ToolInvocationError(root)))
	assert.Equal(t, StagePersistence, StageOf(PersistenceError(root)))
	assert.Equal(t, Stage(""), StageOf(root))
}

func TestAgent_Validate(t *testing.T) {
	valid := Agent{Name: "data_bot-2", Description: "d", Instructions: "i", Class: CapabilityResearch}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(a *Agent)
		field  string
	}{
		{"short name", func(a *Agent) { a.Name = "a" }, "name"},
		{"spaces", func(a *Agent) { a.Name = "data bot" }, "name"},
		{"punctuation", func(a *Agent) { a.Name = "bot!" }, "name"},
		{"no instructions", func(a *Agent) { a.Instructions = "  " }, "instructions"},
		{"no description", func(a *Agent) { a.Description = "" }, "description"},
		{"unknown class", func(a *Agent) { a.Class = "admin" }, "capability_class"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := valid
			tt.mutate(&a)
			var verr *ValidationError
			require.ErrorAs(t, a.Validate(), &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestCapabilityClass(t *testing.T) {
	assert.True(t, CapabilityResearch.ResearchCapable())
	assert.False(t, CapabilityStandard.ResearchCapable())
	assert.False(t, CapabilityClass("").ResearchCapable())
	assert.True(t, CapabilityClass("").Valid())
}

func TestAuthorKind_Role(t *testing.T) {
	assert.Equal(t, RoleUser, AuthorUser.Role())
	assert.Equal(t, RoleAssistant, AuthorAgent.Role())
	assert.Equal(t, RoleAssistant, AuthorSystem.Role())
}

func TestMessage_Before(t *testing.T) {
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	a := Message{ID: "b", CreatedAt: t0}
	b := Message{ID: "a", CreatedAt: t0.Add(time.Millisecond)}
	c := Message{ID: "c", CreatedAt: t0}

	assert.True(t, a.Before(b))
	assert.True(t, a.Before(c), "ties break on id")
	assert.False(t, c.Before(a))
}

func TestNewMessageID_SortsInCreationOrder(t *testing.T) {
	ids := make([]string, 100)
	for i := range ids {
		ids[i] = NewMessageID()
	}
	assert.True(t, sort.StringsAreSorted(ids))
	assert.NotEqual(t, NewID(), NewID())
}

func TestContent(t *testing.T) {
	c := Content{Role: RoleAssistant, Parts: []Part{
		TextPart{Text: "a"},
		FunctionCallPart{FunctionCall: FunctionCall{Name: "t"}},
		TextPart{Text: "b"},
	}}
	assert.Equal(t, "ab", c.Text())

	n := NewTextContent(RoleUser, "alice", "hi")
	assert.Equal(t, "alice", n.Name)
	assert.Equal(t, "hi", n.Text())
}

func TestInvocationContext(t *testing.T) {
	ic := &InvocationContext{History: []HistoryEntry{
		{Role: RoleUser, Name: "alice", Content: "hi"},
		{Role: RoleAssistant, Content: "hello"},
	}}

	contents := ic.Contents()
	require.Len(t, contents, 2)
	assert.Equal(t, "alice", contents[0].Name)
	assert.Equal(t, "hello", contents[1].Text())
	assert.IsType(t, logging.NoOpLogger{}, ic.Log())
}

func TestToolContext(t *testing.T) {
	ctx := context.Background()
	tc := NewToolContext(ctx, "c1", Agent{Name: "researcher"}, "call-1", nil)

	assert.Equal(t, ctx, tc.Context())
	assert.Equal(t, "c1", tc.ChannelID())
	assert.Equal(t, "researcher", tc.AgentName())
	assert.Equal(t, "call-1", tc.FunctionCallID())
	assert.NotNil(t, tc.Logger())
}

func TestModelLimiter(t *testing.T) {
	l := NewModelLimiter(3)

	var wg sync.WaitGroup
	var mu sync.Mutex
	failures := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Increment(); err != nil {
				assert.ErrorIs(t, err, ErrBudgetExhausted)
				mu.Lock()
				failures++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, l.Count())
	assert.Equal(t, 0, l.Remaining())
	assert.Equal(t, 7, failures)
}

func TestModelLimiter_UnlimitedAndNil(t *testing.T) {
	l := NewModelLimiter(0)
	for i := 0; i < 50; i++ {
		require.NoError(t, l.Increment())
	}
	assert.Equal(t, -1, l.Remaining())

	var nilLimiter *ModelLimiter
	assert.NoError(t, nilLimiter.Increment())
	assert.Equal(t, 0, nilLimiter.Count())
	assert.Equal(t, -1, nilLimiter.Remaining())
}
