package live

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hupe1980/channelmesh/logging"
	"github.com/hupe1980/channelmesh/metrics"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 256
)

// HandlerOptions configures a Handler.
type HandlerOptions struct {
	Logger      logging.Logger
	CheckOrigin func(r *http.Request) bool
}

// Handler streams the events of one channel to a websocket client.
type Handler struct {
	hub      *Hub
	upgrader websocket.Upgrader
	logger   logging.Logger
}

// NewHandler creates a websocket handler backed by hub.
func NewHandler(hub *Hub, optFns ...func(o *HandlerOptions)) *Handler {
	opts := HandlerOptions{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Handler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     opts.CheckOrigin,
		},
		logger: opts.Logger,
	}
}

// Serve upgrades the request and forwards events of channelID until the
// client disconnects. Slow clients lose events rather than stalling publishers.
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request, channelID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("live.upgrade.failed", "channel_id", channelID, "error", err)
		return
	}
	defer conn.Close()

	send := make(chan Event, sendBuffer)
	unsubscribe := h.hub.Subscribe(channelID, func(ev Event) {
		select {
		case send <- ev:
		default:
			h.logger.Warn("live.event.dropped", "channel_id", channelID, "seq", ev.Seq)
		}
	})
	defer unsubscribe()

	metrics.LiveSubscribers.Inc()
	defer metrics.LiveSubscribers.Dec()

	h.logger.Debug("live.subscribed", "channel_id", channelID)

	done := make(chan struct{})
	go h.readPump(conn, done)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				h.logger.Debug("live.write.failed", "channel_id", channelID, "error", err)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}

// readPump discards client frames and detects disconnects.
func (h *Handler) readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
