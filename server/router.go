// Package server exposes a Mesh over HTTP and websockets.
package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/hupe1980/channelmesh"
	"github.com/hupe1980/channelmesh/live"
	"github.com/hupe1980/channelmesh/logging"
)

const maxBodyBytes = 64 * 1024

// Pinger is a dependency checked by the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options configures the router.
type Options struct {
	// AccessLog receives one line per request.
	AccessLog zerolog.Logger
	Logger    logging.Logger
	// Checks are pinged by /health, keyed by name.
	Checks map[string]Pinger
	// CheckOrigin guards websocket upgrades. Nil allows same-origin requests only.
	CheckOrigin func(r *http.Request) bool
	Version     string
}

// NewRouter creates and configures the HTTP router.
func NewRouter(mesh *channelmesh.Mesh, optFns ...func(o *Options)) *chi.Mux {
	opts := Options{
		AccessLog: zerolog.Nop(),
		Logger:    logging.NoOpLogger{},
		Version:   "dev",
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(Metrics)
	r.Use(MaxBodySize(maxBodyBytes))

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(Logger(opts.AccessLog))
	r.Use(chimw.Recoverer)

	h := &Handler{mesh: mesh, checks: opts.Checks, logger: opts.Logger, version: opts.Version}
	if hub := mesh.Hub(); hub != nil {
		h.live = live.NewHandler(hub, func(o *live.HandlerOptions) {
			o.Logger = opts.Logger
			o.CheckOrigin = opts.CheckOrigin
		})
	}

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health", h.Health)

	r.Post("/agents", h.CreateAgent)
	r.Post("/delegations", h.TriggerDelegation)

	r.Route("/channels/{channelID}", func(r chi.Router) {
		r.Get("/messages", h.ListMessages)
		r.Post("/messages", h.PostMessage)
		r.Get("/members", h.ListMembers)
		r.Post("/members", h.AddMember)
		r.Get("/live", h.Live)
	})

	return r
}
