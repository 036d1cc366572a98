package api

import (
	"fmt"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
)

const (
	// streamRetryMillis is the reconnect delay hinted to SSE clients.
	streamRetryMillis = 5000
	// keepaliveInterval paces comment frames that hold idle
	// connections open through proxies.
	keepaliveInterval = 30 * time.Second
)

// handleEventStream serves bus events as server-sent events. Each
// client rides its own bounded subscription, so a stalled client only
// drops its own events.
func (s *Service) handleEventStream(w http.ResponseWriter, r *http.Request) {
	if !s.deps.Streaming {
		s.writeErrorStatus(w, r, http.StatusServiceUnavailable,
			"status streaming disabled: no osc ingress or poller configured", "")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeErrorStatus(w, r, http.StatusInternalServerError, "streaming unsupported by connection", "")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	fmt.Fprintf(w, "retry: %d\n\n", streamRetryMillis)
	fmt.Fprintf(w, "event: connected\ndata: %s\n\n", `{"message":"connected to status stream"}`)
	flusher.Flush()

	sub := s.deps.Hub.Subscribe()
	defer sub.Unsubscribe()

	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.ctx.Done():
			return
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case ev, open := <-sub.Events():
			if !open {
				return
			}
			payload, err := json.Marshal(ev.Status)
			if err != nil {
				s.log.Warn("failed to encode status event", slogError(err))
				continue
			}
			fmt.Fprintf(w, "event: status\nid: %d\ndata: %s\n\n", ev.Seq, payload)
			flusher.Flush()
		}
	}
}
