package transport

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/liveview-go/liveview/pkg/live"
	"github.com/liveview-go/liveview/pkg/protocol"
)

// serveWebSocket upgrades the request, attaches the connection to the
// context, and reads callback frames until the connection closes.
func (h *Handler) serveWebSocket(w http.ResponseWriter, r *http.Request, ctx *live.Context) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err, "context_id", ctx.ID())
		return
	}

	t := &wsTransport{conn: conn, writeTimeout: h.writeTimeout}
	if err := ctx.AttachTransport(t); err != nil {
		h.logger.Warn("websocket attach rejected", "error", err, "context_id", ctx.ID())
		conn.Close()
		return
	}

	go h.pingLoop(conn, ctx)
	h.readLoop(conn, r, ctx)
}

// readLoop parses inbound callback frames. A malformed frame or an unknown
// callback id is logged and skipped; it does not tear down the connection.
func (h *Handler) readLoop(conn *websocket.Conn, r *http.Request, ctx *live.Context) {
	defer ctx.Close()

	conn.SetReadLimit(maxCallbackBody)
	conn.SetReadDeadline(time.Now().Add(h.readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(h.readTimeout))
		return nil
	})

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				h.logger.Error("websocket read error", "error", err, "context_id", ctx.ID())
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(h.readTimeout))

		id, args, err := protocol.ParseCallbackFrame(msg)
		if err != nil {
			h.logger.Warn("malformed callback frame", "error", err, "context_id", ctx.ID())
			continue
		}

		err = ctx.DispatchCallback(r.Context(), live.CallbackID(id), args)
		switch {
		case errors.Is(err, live.ErrCallbackNotFound):
			h.logger.Warn("callback not found", "callback_id", id, "context_id", ctx.ID())
		case errors.Is(err, live.ErrContextClosed):
			return
		case err != nil:
			h.logger.Error("callback dispatch error", "error", err, "context_id", ctx.ID())
		}
	}
}

// pingLoop keeps the connection alive until the context closes.
func (h *Handler) pingLoop(conn *websocket.Conn, ctx *live.Context) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			deadline := time.Now().Add(h.writeTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// wsTransport sends patch frames over a WebSocket connection. The mutex
// serializes writes between the context writer and Close.
type wsTransport struct {
	conn         *websocket.Conn
	mu           sync.Mutex
	writeTimeout time.Duration
}

func (t *wsTransport) Send(frame []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
	return t.conn.WriteMessage(websocket.TextMessage, frame)
}

func (t *wsTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	deadline := time.Now().Add(time.Second)
	t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return t.conn.Close()
}
