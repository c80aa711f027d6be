// Package transport adapts live contexts to the network: a single endpoint
// that upgrades to WebSocket when the client asks for it, falls back to
// Server-Sent-Events otherwise, and accepts callback invocations by HTTP
// POST when no persistent connection is available.
package transport

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/liveview-go/liveview/pkg/live"
)

const (
	defaultReadTimeout  = 60 * time.Second
	defaultWriteTimeout = 10 * time.Second
	defaultPingInterval = 30 * time.Second

	// maxCallbackBody caps inbound callback payloads on both the POST path
	// and persistent connections.
	maxCallbackBody = 1 << 20
)

// Handler serves the live connection endpoint for one engine.
type Handler struct {
	engine   *live.Engine
	upgrader websocket.Upgrader
	logger   *slog.Logger

	readTimeout  time.Duration
	writeTimeout time.Duration
	pingInterval time.Duration
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the handler's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = logger.With("component", "live_transport")
	}
}

// WithCheckOrigin sets the WebSocket origin check.
func WithCheckOrigin(fn func(*http.Request) bool) Option {
	return func(h *Handler) {
		h.upgrader.CheckOrigin = fn
	}
}

// WithReadTimeout sets the idle read deadline for persistent connections.
func WithReadTimeout(d time.Duration) Option {
	return func(h *Handler) {
		h.readTimeout = d
	}
}

// WithWriteTimeout sets the per-frame write deadline.
func WithWriteTimeout(d time.Duration) Option {
	return func(h *Handler) {
		h.writeTimeout = d
	}
}

// New creates a transport handler for the engine.
func New(engine *live.Engine, opts ...Option) *Handler {
	h := &Handler{
		engine: engine,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		logger:       slog.Default().With("component", "live_transport"),
		readTimeout:  defaultReadTimeout,
		writeTimeout: defaultWriteTimeout,
		pingInterval: defaultPingInterval,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes returns a router for the connection endpoint, meant to be mounted
// at a single path (e.g. r.Mount("/live", h.Routes())).
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.handleConnect)
	r.Post("/", h.handleCallback)
	return r
}

// handleConnect opens the persistent connection for the context named by the
// id query parameter: WebSocket when the request is an upgrade, SSE
// otherwise.
func (h *Handler) handleConnect(w http.ResponseWriter, r *http.Request) {
	ctx, ok := h.lookupContext(w, r)
	if !ok {
		return
	}

	if websocket.IsWebSocketUpgrade(r) {
		h.serveWebSocket(w, r, ctx)
		return
	}
	h.serveSSE(w, r, ctx)
}

// handleCallback delivers a one-shot callback invocation: JSON body
// [callbackId, ...args]. Unknown context or callback is a 404; an invocation
// that threw was already logged and is a 200.
func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request) {
	ctx, ok := h.lookupContext(w, r)
	if !ok {
		return
	}

	var body []any
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCallbackBody)).Decode(&body); err != nil {
		http.Error(w, "malformed callback body", http.StatusBadRequest)
		return
	}
	if len(body) == 0 {
		http.Error(w, "missing callback id", http.StatusBadRequest)
		return
	}
	id, ok := callbackID(body[0])
	if !ok {
		http.Error(w, "bad callback id", http.StatusBadRequest)
		return
	}

	err := ctx.DispatchCallback(r.Context(), id, body[1:])
	switch {
	case errors.Is(err, live.ErrCallbackNotFound):
		http.Error(w, "callback not found", http.StatusNotFound)
	case errors.Is(err, live.ErrContextClosed):
		http.Error(w, "context not found", http.StatusNotFound)
	case err != nil:
		h.logger.Error("callback dispatch error", "error", err)
		http.Error(w, "dispatch failed", http.StatusInternalServerError)
	default:
		w.WriteHeader(http.StatusOK)
	}
}

// lookupContext resolves the target context from the id query parameter,
// writing the error response itself when it fails.
func (h *Handler) lookupContext(w http.ResponseWriter, r *http.Request) (*live.Context, bool) {
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "missing context id", http.StatusBadRequest)
		return nil, false
	}
	ctx, err := h.engine.Directory().Lookup(id)
	if err != nil {
		http.Error(w, "context not found", http.StatusNotFound)
		return nil, false
	}
	return ctx, true
}

// callbackID converts the first JSON body element to a callback id.
func callbackID(v any) (live.CallbackID, bool) {
	n, ok := v.(float64)
	if !ok || n < 0 || n != float64(uint64(n)) {
		return 0, false
	}
	return live.CallbackID(n), true
}
