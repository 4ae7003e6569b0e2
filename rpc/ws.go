package rpc

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const wsWriteTimeout = 10 * time.Second

// EventStreamHandler upgrades the connection to a WebSocket and streams
// journalled deal events as JSON. A ?cursor=N query parameter replays the
// retained backlog newer than that sequence before live entries.
func (s *Server) EventStreamHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var cursor int64
		if raw := r.URL.Query().Get("cursor"); raw != "" {
			parsed, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || parsed < 0 {
				http.Error(w, "invalid cursor", http.StatusBadRequest)
				return
			}
			cursor = parsed
		}

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			s.log.Warn("websocket accept failed", "error", err)
			return
		}
		defer conn.Close(websocket.StatusInternalError, "stream closed")

		ch, cancel, backlog := s.journal.Subscribe(cursor)
		defer cancel()

		ctx := r.Context()
		for _, entry := range backlog {
			if err := writeEntry(ctx, conn, entry); err != nil {
				return
			}
		}
		for {
			select {
			case <-ctx.Done():
				conn.Close(websocket.StatusNormalClosure, "client gone")
				return
			case entry, ok := <-ch:
				if !ok {
					conn.Close(websocket.StatusNormalClosure, "journal closed")
					return
				}
				if err := writeEntry(ctx, conn, entry); err != nil {
					return
				}
			}
		}
	})
}

func writeEntry(ctx context.Context, conn *websocket.Conn, entry interface{}) error {
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return wsjson.Write(writeCtx, conn, entry)
}
