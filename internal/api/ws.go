package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const wsWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	// The API is bound to localhost and guarded by the bearer token.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleBoardFeed pushes a full session snapshot on connect and after every
// change until the client goes away. Inbound messages are ignored.
func handleBoardFeed(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := session(deps, w, r)
		if !ok {
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Warn("websocket upgrade failed", "error", err)
			return
		}
		defer conn.Close()

		changes, stop := s.Watch()
		defer stop()

		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		send := func() bool {
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(s.Snapshot()); err != nil {
				slog.Debug("board feed write failed", "session", s.ID, "error", err)
				return false
			}
			return true
		}

		if !send() {
			return
		}
		for {
			select {
			case <-closed:
				return
			case <-r.Context().Done():
				return
			case _, ok := <-changes:
				if !ok || !send() {
					return
				}
			}
		}
	}
}
