package notify

import (
	"fmt"
	"net/http"
	"time"
)

const (
	sseKeepAlive = 25 * time.Second
	sseRetry     = 3 * time.Second
)

// ServeSSE streams events matching f until the client goes away.
func ServeSSE(hub *Hub, f Filter, w http.ResponseWriter, r *http.Request) {
	serveSSE(hub, f, sseKeepAlive, w, r)
}

func serveSSE(hub *Hub, f Filter, keepAlive time.Duration, w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	sub := hub.Subscribe(f)
	defer sub.Close()

	fmt.Fprint(w, ": connected\n\n")
	fmt.Fprintf(w, "retry: %d\n\n", sseRetry.Milliseconds())
	flusher.Flush()

	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case <-ticker.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()

		case evt, ok := <-sub.Events():
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: %s\n", evt.Type)
			fmt.Fprintf(w, "data: %s\n\n", evt.Payload)
			flusher.Flush()
		}
	}
}
