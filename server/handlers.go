package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/go-chi/chi/v5"

	"github.com/hupe1980/channelmesh"
	"github.com/hupe1980/channelmesh/core"
	"github.com/hupe1980/channelmesh/delegation"
	"github.com/hupe1980/channelmesh/live"
	"github.com/hupe1980/channelmesh/logging"
)

const (
	defaultMessageLimit = 50
	maxMessageLimit     = 200
	maxUsernameLength   = 64
)

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	mesh    *channelmesh.Mesh
	live    *live.Handler
	checks  map[string]Pinger
	logger  logging.Logger
	version string
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// fail maps domain errors onto status codes.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var verr *core.ValidationError
	switch {
	case errors.As(err, &verr):
		h.JSON(w, http.StatusBadRequest, verr)
	case errors.Is(err, channelmesh.ErrEmptyMessage):
		h.Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, core.ErrAgentNotFound):
		h.Error(w, http.StatusNotFound, err.Error())
	case errors.Is(err, core.ErrAgentNameTaken):
		h.Error(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error("http.request.failed", "path", r.URL.Path, "error", err)
		h.Error(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// sanitizeName trims and limits name, removing control characters.
func sanitizeName(name string) string {
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, strings.TrimSpace(name))

	if r := []rune(name); len(r) > maxUsernameLength {
		name = string(r[:maxUsernameLength])
	}
	return name
}

// PostMessageRequest is the body of POST /channels/{channelID}/messages.
type PostMessageRequest struct {
	Username string `json:"username"`
	Content  string `json:"content"`
}

// PostMessage stores a user message and runs the agents it mentions.
func (h *Handler) PostMessage(w http.ResponseWriter, r *http.Request) {
	var req PostMessageRequest
	if !h.decode(w, r, &req) {
		return
	}
	username := sanitizeName(req.Username)
	if username == "" {
		h.Error(w, http.StatusBadRequest, "username is required")
		return
	}

	// Agents finish even if the client goes away; viewers follow along on the live feed.
	res, err := h.mesh.PostMessage(context.WithoutCancel(r.Context()), chi.URLParam(r, "channelID"), username, req.Content)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.JSON(w, http.StatusCreated, res)
}

// TriggerDelegation runs an agent for an existing placeholder.
func (h *Handler) TriggerDelegation(w http.ResponseWriter, r *http.Request) {
	var req delegation.Request
	if !h.decode(w, r, &req) {
		return
	}
	switch {
	case req.ChannelID == "":
		h.Error(w, http.StatusBadRequest, "channel_id is required")
		return
	case req.AgentID == "":
		h.Error(w, http.StatusBadRequest, "agent_id is required")
		return
	case req.PlaceholderMessageID == "":
		h.Error(w, http.StatusBadRequest, "placeholder_message_id is required")
		return
	case req.Depth < 0:
		h.Error(w, http.StatusBadRequest, "depth must not be negative")
		return
	}

	h.JSON(w, http.StatusOK, h.mesh.Trigger(context.WithoutCancel(r.Context()), req))
}

// ListMessages returns the newest messages of a channel, oldest first.
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	limit := defaultMessageLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			h.Error(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxMessageLimit)
	}

	msgs, err := h.mesh.Messages(r.Context(), chi.URLParam(r, "channelID"), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if msgs == nil {
		msgs = []core.Message{}
	}
	h.JSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

// CreateAgent validates and stores an agent.
func (h *Handler) CreateAgent(w http.ResponseWriter, r *http.Request) {
	var agent core.Agent
	if !h.decode(w, r, &agent) {
		return
	}
	agent.ID = ""

	created, err := h.mesh.CreateAgent(r.Context(), agent)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.JSON(w, http.StatusCreated, created)
}

// AddMemberRequest is the body of POST /channels/{channelID}/members.
type AddMemberRequest struct {
	Kind     core.MemberKind `json:"member_type"`
	MemberID string          `json:"member_id"`
}

// AddMember adds a user or agent to a channel.
func (h *Handler) AddMember(w http.ResponseWriter, r *http.Request) {
	var req AddMemberRequest
	if !h.decode(w, r, &req) {
		return
	}

	member := core.ChannelMember{ChannelID: chi.URLParam(r, "channelID"), Kind: req.Kind, MemberID: req.MemberID}
	if err := h.mesh.AddMember(r.Context(), member); err != nil {
		h.fail(w, r, err)
		return
	}
	h.JSON(w, http.StatusCreated, member)
}

// ListMembers returns the members of a channel.
func (h *Handler) ListMembers(w http.ResponseWriter, r *http.Request) {
	members, err := h.mesh.Members(r.Context(), chi.URLParam(r, "channelID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if members == nil {
		members = []core.ChannelMember{}
	}
	h.JSON(w, http.StatusOK, map[string]any{"members": members})
}

// Live upgrades to a websocket streaming the channel's message changes.
func (h *Handler) Live(w http.ResponseWriter, r *http.Request) {
	if h.live == nil {
		h.Error(w, http.StatusNotFound, "live updates are disabled")
		return
	}
	h.live.Serve(w, r, chi.URLParam(r, "channelID"))
}

// Check represents the status of a health check.
type Check struct {
	Status  string `json:"status"` // "pass" or "fail"
	Latency string `json:"latency,omitempty"`
	Message string `json:"message,omitempty"`
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string           `json:"status"` // "healthy" or "degraded"
	Version   string           `json:"version"`
	Checks    map[string]Check `json:"checks"`
	Timestamp string           `json:"timestamp"`
}

// Health pings every configured dependency.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]Check, len(h.checks))
	allHealthy := true

	for name, p := range h.checks {
		start := time.Now()
		if err := p.Ping(ctx); err != nil {
			checks[name] = Check{Status: "fail", Message: "connection failed"}
			allHealthy = false
			continue
		}
		checks[name] = Check{Status: "pass", Latency: time.Since(start).String()}
	}

	status := "healthy"
	statusCode := http.StatusOK
	if !allHealthy {
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	h.JSON(w, statusCode, HealthResponse{
		Status:    status,
		Version:   h.version,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
