package server

import (
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"tasktrack/internal/broadcast"
	"tasktrack/internal/engine"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// tokens travel in the query string, so any origin may connect
	CheckOrigin: func(*http.Request) bool { return true },
}

// registerStream mounts the websocket feed of committed task updates. It
// lives on the router directly because huma does not model upgrades.
func registerStream(r chi.Router, basePath string, e engine.Engine, hub *broadcast.Hub, authCfg AuthConfig) {
	writeTimeout := time.Duration(e.Config.Broadcast.WriteTimeoutSeconds) * time.Second
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	logger := authCfg.logger()

	r.Get(path.Join(basePath, "projects/{project_id}/tasks/stream"), func(w http.ResponseWriter, req *http.Request) {
		projectID, err := strconv.ParseInt(chi.URLParam(req, "project_id"), 10, 64)
		if err != nil {
			respondStatusError(w, newAPIError(http.StatusBadRequest, "bad_request", "invalid project_id", nil))
			return
		}
		if _, _, err := requireMember(req.Context(), e, projectID); err != nil {
			respondStatusError(w, handleError(err))
			return
		}
		// subscribe before the handshake
		sub := hub.Subscribe(projectID)
		defer sub.Close()

		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			logger.Printf("stream: upgrade project %d: %v", projectID, err)
			return
		}
		defer conn.Close()
		logger.Printf("stream: project %d subscribers=%d", projectID, hub.Subscribers(projectID))

		// the read loop only notices the peer going away
		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case <-done:
				return
			case <-req.Context().Done():
				return
			case msg, ok := <-sub.C:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := conn.WriteJSON(msg); err != nil {
					logger.Printf("stream: write project %d: %v", projectID, err)
					return
				}
			}
		}
	})
}
