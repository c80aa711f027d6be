package transport

import (
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/liveview-go/liveview/pkg/live"
)

var errSSEClosed = errors.New("transport: sse stream closed")

// serveSSE attaches a Server-Sent-Events stream to the context. SSE is
// half-duplex: patches flow down this stream, callback invocations arrive
// through the POST path instead.
func (h *Handler) serveSSE(w http.ResponseWriter, r *http.Request, ctx *live.Context) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	t := &sseTransport{w: w, flusher: flusher, closed: make(chan struct{})}

	// Handshake line so the client sees the stream is live before the first
	// patch batch arrives.
	if err := t.Send([]byte(`{"connected":true}`)); err != nil {
		return
	}

	if err := ctx.AttachTransport(t); err != nil {
		h.logger.Warn("sse attach rejected", "error", err, "context_id", ctx.ID())
		return
	}

	select {
	case <-t.closed:
		// Context torn down; the stream ends.
	case <-r.Context().Done():
		// Client went away.
		ctx.Close()
		<-t.closed
	}
}

// sseTransport wraps each frame as a server-push event. The mutex serializes
// the context writer against Close so nothing writes to the ResponseWriter
// after the HTTP handler returns.
type sseTransport struct {
	w       http.ResponseWriter
	flusher http.Flusher

	mu        sync.Mutex
	closed    chan struct{}
	closeOnce sync.Once
	dead      bool
}

func (t *sseTransport) Send(frame []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.dead {
		return errSSEClosed
	}
	if _, err := fmt.Fprintf(t.w, "data: %s\n\n", frame); err != nil {
		return err
	}
	t.flusher.Flush()
	return nil
}

func (t *sseTransport) Close() error {
	t.mu.Lock()
	t.dead = true
	t.mu.Unlock()

	t.closeOnce.Do(func() {
		close(t.closed)
	})
	return nil
}
