package controlapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/zdmr/zdmr/pkg/zdmr"
)

// sseEvent is the wire envelope named in §6: `{"type":"ProgressBatch"|
// "DownloadsChanged", "data":…}` sent as one `data:` line per message.
type sseEvent struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// sseSubscriber adapts a single /events connection to zdmr.Subscriber,
// forwarding each batch/change onto the HTTP response as it arrives.
type sseSubscriber struct {
	out chan sseEvent
}

func (s *sseSubscriber) OnProgressBatch(batch zdmr.ProgressBatch) {
	select {
	case s.out <- sseEvent{Type: "ProgressBatch", Data: batch}:
	default:
		// Slow consumer: drop rather than block the Bus's tick goroutine.
	}
}

func (s *sseSubscriber) OnDownloadsChanged(change zdmr.DownloadsChanged) {
	select {
	case s.out <- sseEvent{Type: "DownloadsChanged", Data: change}:
	default:
	}
}

// handleEvents is GET /events (§6): a long-lived server-sent events
// stream. Grounded on the teacher's internal/server/rpc_ws.go use of
// net/http's Flusher for a push-style connection, adapted from
// websocket framing to plain SSE `data:` lines since the spec names SSE
// explicitly.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := &sseSubscriber{out: make(chan sseEvent, 32)}
	unsubscribe := s.bus.Subscribe(sub)
	defer unsubscribe()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-sub.out:
			payload, err := json.Marshal(ev.Data)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: {\"type\":%q,\"data\":%s}\n\n", ev.Type, payload)
			flusher.Flush()
		}
	}
}
