package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/channelmesh"
	"github.com/hupe1980/channelmesh/core"
	"github.com/hupe1980/channelmesh/delegation"
	"github.com/hupe1980/channelmesh/internal/testutil"
	"github.com/hupe1980/channelmesh/live"
	"github.com/hupe1980/channelmesh/model"
)

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func newTestServer(t *testing.T, meshFns []func(o *channelmesh.Options), optFns ...func(o *Options)) (*httptest.Server, *testutil.Channel) {
	t.Helper()
	ch := testutil.NewChannelBuilder(t, "general").
		User("alice").
		Agent("researcher", core.CapabilityResearch).
		Build()

	fns := append([]func(o *channelmesh.Options){func(o *channelmesh.Options) {
		o.Models = delegation.StaticModel(model.NewScriptedModel("scripted", testutil.Reply("on it")))
	}}, meshFns...)

	srv := httptest.NewServer(NewRouter(channelmesh.New(ch.Store, fns...), optFns...))
	t.Cleanup(srv.Close)
	return srv, ch
}

func do(t *testing.T, srv *httptest.Server, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			rd = strings.NewReader(b)
		default:
			data, err := json.Marshal(b)
			require.NoError(t, err)
			rd = bytes.NewReader(data)
		}
	}
	req, err := http.NewRequest(method, srv.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func TestPostMessage(t *testing.T) {
	srv, ch := newTestServer(t, nil)

	resp, body := do(t, srv, http.MethodPost, "/channels/general/messages", PostMessageRequest{
		Username: "alice\x00", Content: "@researcher look this up",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var res channelmesh.PostResult
	require.NoError(t, json.Unmarshal(body, &res))
	require.Len(t, res.Placeholders, 1)
	assert.True(t, res.Placeholders[0].Result.Success)

	msgs := ch.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "alice", msgs[0].AuthorID)
	assert.Equal(t, "on it\n\n", msgs[1].Content)
}

func TestPostMessage_BadRequests(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	tests := []struct {
		name string
		body any
	}{
		{"invalid json", "{"},
		{"missing username", PostMessageRequest{Content: "hi"}},
		{"empty content", PostMessageRequest{Username: "alice", Content: "   "}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := do(t, srv, http.MethodPost, "/channels/general/messages", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestTriggerDelegation(t *testing.T) {
	srv, ch := newTestServer(t, nil)
	p := ch.Placeholder("researcher")

	resp, body := do(t, srv, http.MethodPost, "/delegations", delegation.Request{
		ChannelID:            ch.ID,
		AgentID:              ch.AgentNamed("researcher").ID,
		PlaceholderMessageID: p.ID,
		TriggeringText:       "@researcher go",
		TriggeringUsername:   "alice",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var res delegation.Result
	require.NoError(t, json.Unmarshal(body, &res))
	assert.True(t, res.Success)

	resp, _ = do(t, srv, http.MethodPost, "/delegations", delegation.Request{ChannelID: ch.ID})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, srv, http.MethodPost, "/delegations", delegation.Request{
		ChannelID: ch.ID, AgentID: "a", PlaceholderMessageID: "p", Depth: -1,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPostMessage_OutlivesClient(t *testing.T) {
	ch := testutil.NewChannelBuilder(t, "general").
		User("alice").
		Agent("researcher", core.CapabilityResearch).
		Build()
	slow := model.NewScriptedModel("slow", func(model.Request) ([]core.StreamEvent, error) {
		return model.TextEvents("one two three four"), nil
	}).WithDelay(30 * time.Millisecond)
	router := NewRouter(channelmesh.New(ch.Store, func(o *channelmesh.Options) {
		o.Models = delegation.StaticModel(slow)
	}))

	data, err := json.Marshal(PostMessageRequest{Username: "alice", Content: "@researcher count"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 70*time.Millisecond)
	defer cancel()
	req := httptest.NewRequestWithContext(ctx, http.MethodPost, "/channels/general/messages", bytes.NewReader(data))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var res channelmesh.PostResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.Len(t, res.Placeholders, 1)
	assert.True(t, res.Placeholders[0].Result.Success)

	msgs := ch.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "one two three four\n\n", msgs[1].Content)
}

func TestListMessages(t *testing.T) {
	srv, ch := newTestServer(t, nil)
	ch.Post("alice", "one")
	ch.Post("alice", "two")
	ch.Post("alice", "three")

	resp, body := do(t, srv, http.MethodGet, "/channels/general/messages?limit=2", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Messages []core.Message `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(body, &out))
	require.Len(t, out.Messages, 2)
	assert.Equal(t, "two", out.Messages[0].Content)
	assert.Equal(t, "three", out.Messages[1].Content)

	resp, _ = do(t, srv, http.MethodGet, "/channels/general/messages?limit=zero", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = do(t, srv, http.MethodGet, "/channels/empty/messages", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"messages":[]}`, string(body))
}

func TestAgentsAndMembers(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	agent := map[string]any{"name": "writer", "description": "Writes", "instructions": "You write."}
	resp, body := do(t, srv, http.MethodPost, "/agents", agent)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var created core.Agent
	require.NoError(t, json.Unmarshal(body, &created))
	assert.NotEmpty(t, created.ID)

	resp, _ = do(t, srv, http.MethodPost, "/agents", agent)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body = do(t, srv, http.MethodPost, "/agents", map[string]any{"name": "x"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body), `"field":"name"`)

	resp, _ = do(t, srv, http.MethodPost, "/channels/general/members", AddMemberRequest{Kind: core.MemberAgent, MemberID: created.ID})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, _ = do(t, srv, http.MethodPost, "/channels/general/members", AddMemberRequest{Kind: core.MemberAgent, MemberID: "ghost"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = do(t, srv, http.MethodGet, "/channels/general/members", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		Members []core.ChannelMember `json:"members"`
	}
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Len(t, out.Members, 3)
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, nil, func(o *Options) {
		o.Checks = map[string]Pinger{"store": pinger{}}
	})
	resp, body := do(t, srv, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"healthy"`)

	srv, _ = newTestServer(t, nil, func(o *Options) {
		o.Checks = map[string]Pinger{"store": pinger{}, "ledger": pinger{err: errors.New("down")}}
	})
	resp, body = do(t, srv, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Contains(t, string(body), `"degraded"`)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	do(t, srv, http.MethodGet, "/channels/general/messages", nil)

	resp, body := do(t, srv, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `channelmesh_http_requests_total{method="GET",path="/channels/{channelID}/messages",status="200"}`)
}

func TestMaxBodySize(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	big := PostMessageRequest{Username: "alice", Content: strings.Repeat("a", maxBodyBytes+1)}
	resp, _ := do(t, srv, http.MethodPost, "/channels/general/messages", big)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestLive(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	resp, _ := do(t, srv, http.MethodGet, "/channels/general/live", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "disabled without a hub")

	hub := live.NewHub()
	srv, _ = newTestServer(t, []func(o *channelmesh.Options){func(o *channelmesh.Options) { o.Hub = hub }})

	conn, wsResp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/channels/general/live", nil)
	require.NoError(t, err)
	defer wsResp.Body.Close()
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, time.Second, 5*time.Millisecond)

	resp, _ = do(t, srv, http.MethodPost, "/channels/general/messages", PostMessageRequest{Username: "alice", Content: "hello"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev live.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, live.TypeMessageCreated, ev.Type)
	assert.Equal(t, "hello", ev.Content)
}
