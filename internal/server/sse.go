package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/ashita-ai/promptlab/internal/eventbus"
	"github.com/ashita-ai/promptlab/internal/model"
)

const (
	// sseBufferSize bounds how far a client may fall behind. A client that
	// overflows it is dropped and reconnects into a fresh initial_state.
	sseBufferSize = 64
	sseKeepalive  = 15 * time.Second
)

// HandleSubscribe handles GET /v1/subscribe?since=<changelog id>.
// The stream starts with connected and initial_state, then carries every
// event published on the bus.
func (h *Handlers) HandleSubscribe(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "streaming not supported")
		return
	}

	ctx := r.Context()
	since := strings.TrimSpace(r.URL.Query().Get("since"))
	sink := eventbus.NewChannelSink(sseBufferSize)
	sub := h.app.Bus.SubscribeSink(sink, eventbus.WithInitialState(func() (eventbus.Event, error) {
		return h.app.InitialState(ctx, since)
	}))
	defer sub.Unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Disable the server's WriteTimeout for this long-lived connection.
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	h.logger.Debug("sse: client connected", "client_id", sub.ID(), "request_id", RequestIDFromContext(ctx))

	keepalive := time.NewTicker(sseKeepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			if _, err := w.Write([]byte(":keepalive\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case ev := <-sink.Events():
			if !h.writeEvent(w, ev) {
				return
			}
			flusher.Flush()
		case <-sink.Done():
			// Dropped by the bus. Flush what was queued, then end the stream.
			for {
				select {
				case ev := <-sink.Events():
					if !h.writeEvent(w, ev) {
						return
					}
				default:
					flusher.Flush()
					h.logger.Info("sse: client dropped", "client_id", sub.ID())
					return
				}
			}
		}
	}
}

func (h *Handlers) writeEvent(w http.ResponseWriter, ev eventbus.Event) bool {
	data, err := eventbus.Encode(ev)
	if err != nil {
		h.logger.Error("sse: encode event", "type", ev.Type(), "error", err)
		return true
	}
	_, err = w.Write(formatSSE(ev.Type(), data))
	return err == nil
}

// formatSSE formats an event as a Server-Sent Events message.
func formatSSE(eventType string, data []byte) []byte {
	// SSE format: "event: <type>\ndata: <payload>\n\n"
	return []byte("event: " + eventType + "\ndata: " + string(data) + "\n\n")
}
