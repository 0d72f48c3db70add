package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/forgo/trellis/internal/model"
)

// WebSocketFunc runs one WebSocket session. Returning a *model.WebSocketError
// closes the connection with its code and reason.
type WebSocketFunc func(ctx context.Context, conn *websocket.Conn) error

// WebSocketOptions configures the upgrade.
type WebSocketOptions struct {
	// CheckOrigin defaults to same-origin checking.
	CheckOrigin  func(r *http.Request) bool
	Subprotocols []string
	// CloseTimeout bounds writing the final close frame.
	CloseTimeout time.Duration
}

const defaultCloseTimeout = time.Second

// WebSocket upgrades the request and runs fn on the connection. Errors
// before the upgrade are answered over HTTP by the upgrader itself.
func WebSocket(fn WebSocketFunc, opts WebSocketOptions) http.Handler {
	upgrader := websocket.Upgrader{
		CheckOrigin:  opts.CheckOrigin,
		Subprotocols: opts.Subprotocols,
	}
	timeout := opts.CloseTimeout
	if timeout <= 0 {
		timeout = defaultCloseTimeout
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Debug("websocket upgrade failed",
				slog.String("path", r.URL.Path),
				slog.String("error", err.Error()),
			)
			return
		}
		defer conn.Close()

		err = fn(r.Context(), conn)
		if msg := closeMessage(err); msg != nil {
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(timeout))
		}
		if err != nil && !isPeerClose(err) {
			slog.Warn("websocket session ended with error",
				slog.String("path", r.URL.Path),
				slog.String("error", err.Error()),
			)
		}
	})
}

// closeMessage picks the close frame for the session result. A session ended
// by the peer closing gets no frame of its own.
func closeMessage(err error) []byte {
	if err == nil {
		return websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	}
	var wsErr *model.WebSocketError
	if errors.As(err, &wsErr) {
		return wsErr.CloseMessage()
	}
	if isPeerClose(err) {
		return nil
	}
	return websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "")
}

func isPeerClose(err error) bool {
	var ce *websocket.CloseError
	return errors.As(err, &ce)
}

// Echo is a WebSocketFunc that writes every message back to the sender.
func Echo(ctx context.Context, conn *websocket.Conn) error {
	for {
		if err := ctx.Err(); err != nil {
			return model.NewWebSocketError(websocket.CloseGoingAway, "server shutting down")
		}
		kind, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if err := conn.WriteMessage(kind, data); err != nil {
			return err
		}
	}
}
