package dashboard

import (
	"encoding/json"
	"log"

	"github.com/shiftbeat/shiftbeat/internal/engine"
)

// Handler relays engine status events to dashboard clients.
type Handler struct {
	server *Server
	logger *log.Logger

	cancel func()
	done   chan struct{}
}

// NewHandler creates a handler bridging eng's status stream to srv.
func NewHandler(srv *Server, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{
		server: srv,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Attach subscribes to the engine's status stream and starts relaying
// events. Call Detach to stop.
func (h *Handler) Attach(eng *engine.Engine) {
	events, cancel := eng.Subscribe()
	h.cancel = cancel

	go func() {
		defer close(h.done)
		for ev := range events {
			h.relay(ev)
		}
	}()
}

// Detach stops relaying and waits for the relay goroutine to exit.
func (h *Handler) Detach() {
	if h.cancel == nil {
		return
	}
	h.cancel()
	<-h.done
}

// relay converts one engine event into a broadcast frame.
func (h *Handler) relay(ev engine.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Printf("Failed to marshal event: %v", err)
		return
	}

	h.server.Broadcast(Message{
		Type:      string(ev.Kind),
		Timestamp: ev.Time,
		Data:      data,
	})
}
