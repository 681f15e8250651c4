package anthropic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/channelmesh/core"
	"github.com/hupe1980/channelmesh/model"
)

var _ model.Model = (*Model)(nil)

func TestBuildMessages_ToolResultsInUserTurn(t *testing.T) {
	msgs := buildMessages([]core.Content{
		core.NewTextContent(core.RoleUser, "alice", "hi"),
		{Role: core.RoleAssistant, Parts: []core.Part{core.FunctionCallPart{FunctionCall: core.FunctionCall{ID: "t1", Name: "current_time"}}}},
		{Role: core.RoleTool, Parts: []core.Part{core.FunctionResponsePart{FunctionResponse: core.FunctionResponse{ID: "t1", Name: "current_time", Response: "noon"}}}},
	})

	require.Len(t, msgs, 3)
	assert.Equal(t, "user", string(msgs[0].Role))
	assert.Equal(t, "assistant", string(msgs[1].Role))
	assert.Equal(t, "user", string(msgs[2].Role))
	require.Len(t, msgs[2].Content, 1)
	require.NotNil(t, msgs[2].Content[0].OfToolResult)
	assert.Equal(t, "t1", msgs[2].Content[0].OfToolResult.ToolUseID)
}

func TestRequiredNames(t *testing.T) {
	assert.Equal(t, []string{"a"}, requiredNames([]string{"a"}))
	assert.Equal(t, []string{"a", "b"}, requiredNames([]any{"a", 1, "b"}))
	assert.Nil(t, requiredNames(nil))
}

func TestBuildParams_Thinking(t *testing.T) {
	m := NewModelFromClient(nil, func(o *Options) { o.ThinkingBudget = 2048 })
	params := m.buildParams(model.Request{Instructions: "sys"})

	require.NotNil(t, params.Thinking.OfEnabled)
	assert.Equal(t, int64(2048), params.Thinking.OfEnabled.BudgetTokens)
	require.Len(t, params.System, 1)
	assert.Equal(t, "sys", params.System[0].Text)
}
