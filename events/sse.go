package events

import (
	"encoding/json"
	"net/http"

	"github.com/zaugust4891/ad-image-generator/domain"
	"github.com/zaugust4891/ad-image-generator/logging"
)

// ServeSSE writes bus's event stream to w as server-sent events, one
// "data: {json}\n\n" frame per event, flushed immediately via
// http.Flusher, until the stream ends (the bus closes the subscriber
// channel) or the request context is cancelled.
func ServeSSE(w http.ResponseWriter, r *http.Request, bus *Bus, log logging.Logger) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	for {
		select {
		case event, ok := <-ch:
			if !ok {
				return
			}
			if err := writeEvent(w, event); err != nil {
				log.Warn("sse: write failed, dropping subscriber", logging.Fields{"error": err.Error()})
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func writeEvent(w http.ResponseWriter, event domain.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if _, err := w.Write([]byte("data: ")); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err = w.Write([]byte("\n\n"))
	return err
}
