package accumulator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/channelmesh/core"
	"github.com/hupe1980/channelmesh/store/memory"
)

func newPlaceholder(t *testing.T) (*memory.InMemoryStore, string) {
	t.Helper()
	store := memory.NewInMemoryStore()
	id := core.NewMessageID()
	require.NoError(t, store.Insert(context.Background(), core.Message{
		ID:         id,
		ChannelID:  "c1",
		AuthorKind: core.AuthorAgent,
		AuthorID:   "a1",
		Content:    core.PlaceholderContent,
		CreatedAt:  time.Now(),
	}))
	return store, id
}

func assertMonotonic(t *testing.T, revisions []string) {
	t.Helper()
	for i := 2; i < len(revisions); i++ {
		assert.True(t, strings.HasPrefix(revisions[i], revisions[i-1]),
			"revision %d %q does not extend %q", i, revisions[i], revisions[i-1])
	}
}

func TestApply_RendersEvents(t *testing.T) {
	ctx := context.Background()
	store, id := newPlaceholder(t)
	acc := New(store, id)

	events := []core.StreamEvent{
		core.ReasoningDelta{Text: "Let me check. "},
		core.TextDelta{Text: "Looking"},
		core.StepFinish{Reason: "tool_calls"},
		core.ToolCall{ID: "1", Name: "fetch_url"},
		core.ToolResult{ID: "1", Name: "fetch_url", Result: strings.Repeat("x", 250)},
		core.ToolCall{ID: "2", Name: "current_time"},
		core.ToolResult{ID: "2", Name: "current_time", Error: "tool failure: boom"},
		core.Lifecycle{Name: "start-step"},
		core.TextDelta{Text: "Done."},
		core.StepFinish{TextEnd: true},
		core.StepFinish{Reason: "stop"},
	}
	for _, ev := range events {
		_, err := acc.Apply(ctx, ev)
		require.NoError(t, err)
	}

	want := "Let me check. Looking\n\n" +
		"_Calling tool **fetch_url**..._\n" +
		"_Tool **fetch_url** returned:_ " + strings.Repeat("x", 200) + "…\n" +
		"_Calling tool **current_time**..._\n" +
		"_Tool **current_time** failed: tool failure: boom_\n" +
		"Done.\n\n"
	assert.Equal(t, want, acc.Text())

	msg, ok := store.Message(id)
	require.True(t, ok)
	assert.Equal(t, want, msg.Content)
	assertMonotonic(t, store.Revisions(id))
}

func TestApply_IgnoredEventsDoNotWrite(t *testing.T) {
	ctx := context.Background()
	store, id := newPlaceholder(t)
	acc := New(store, id)

	changed, err := acc.Apply(ctx, core.StepFinish{})
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = acc.Apply(ctx, core.Lifecycle{Name: "finish"})
	require.NoError(t, err)
	assert.False(t, changed)

	assert.Equal(t, []string{core.PlaceholderContent}, store.Revisions(id))
}

func TestFail_AppendsOnce(t *testing.T) {
	ctx := context.Background()
	store, id := newPlaceholder(t)
	acc := New(store, id)

	_, err := acc.Apply(ctx, core.TextDelta{Text: "Partial answer"})
	require.NoError(t, err)
	_, err = acc.Apply(ctx, core.ErrorEvent{Err: errors.New("stream failure: reset")})
	require.NoError(t, err)
	require.True(t, acc.Annotated())

	require.NoError(t, acc.Fail(ctx, errors.New("stream failure: reset")))
	assert.Equal(t, "Partial answer\n\n**Error:** stream failure: reset", acc.Text())
	assertMonotonic(t, store.Revisions(id))
}

func TestFail_WithoutPriorAnnotation(t *testing.T) {
	ctx := context.Background()
	store, id := newPlaceholder(t)
	acc := New(store, id)

	require.NoError(t, acc.Fail(ctx, errors.New("context failure: db down")))
	msg, _ := store.Message(id)
	assert.Equal(t, "**Error:** context failure: db down", msg.Content)
}

func TestFinish(t *testing.T) {
	ctx := context.Background()

	t.Run("empty", func(t *testing.T) {
		store, id := newPlaceholder(t)
		require.NoError(t, New(store, id).Finish(ctx))
		msg, _ := store.Message(id)
		assert.Equal(t, NoResponse, msg.Content)
	})

	t.Run("non-empty", func(t *testing.T) {
		store, id := newPlaceholder(t)
		acc := New(store, id)
		_, err := acc.Apply(ctx, core.TextDelta{Text: "hi"})
		require.NoError(t, err)
		require.NoError(t, acc.Finish(ctx))
		assert.Len(t, store.Revisions(id), 2)
	})
}

func TestPersistenceError(t *testing.T) {
	store := memory.NewInMemoryStore()
	acc := New(store, "missing")

	_, err := acc.Apply(context.Background(), core.TextDelta{Text: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrMessageNotFound)
	assert.Equal(t, core.StagePersistence, core.StageOf(err))
}

func TestSnippet(t *testing.T) {
	assert.Equal(t, "(empty)", snippet(nil))
	assert.Equal(t, `{"a":1}`, snippet(map[string]int{"a": 1}))
	assert.Equal(t, "trimmed", snippet("  trimmed \n"))
}
