package httpx

import (
	"net/http"
	"time"

	"github.com/splax/splitter/internal/ws"
)

var errEventsUnavailable = errorf(http.StatusServiceUnavailable, "live events unavailable")

func (r *Router) handleEventsWS(w http.ResponseWriter, req *http.Request) error {
	userID, err := currentUser(req)
	if err != nil {
		return err
	}
	if r.hub == nil {
		return errEventsUnavailable
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		// the upgrader already replied
		r.logger.Error("websocket upgrade failed", "error", err)
		return nil
	}
	client := ws.NewClient(conn, r.logger)
	r.hub.Register(userID, client)
	go func() {
		defer func() {
			r.hub.Unregister(userID, client)
			client.Close()
		}()
		client.Serve()
	}()
	return nil
}

// handleEventsSSE streams the same events as Server-Sent Events for clients
// that cannot open a websocket.
func (r *Router) handleEventsSSE(w http.ResponseWriter, req *http.Request) error {
	if req.Method != http.MethodGet {
		return errMethodNotAllowed
	}
	userID, err := currentUser(req)
	if err != nil {
		return err
	}
	if r.hub == nil {
		return errEventsUnavailable
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		return errorf(http.StatusInternalServerError, "streaming unsupported")
	}
	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	headers.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	client := ws.NewSSEClient(w, flusher, r.logger)
	r.hub.Register(userID, client)
	defer r.hub.Unregister(userID, client)

	ticker := time.NewTicker(sseHeartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-req.Context().Done():
			client.Close()
			return nil
		case <-ticker.C:
			if err := client.Heartbeat(); err != nil {
				return nil
			}
		}
	}
}
