package live

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/liveview-go/liveview/pkg/archive"
	"github.com/liveview-go/liveview/pkg/protocol"
)

// Status is the lifecycle state of a Context.
type Status int32

const (
	// StatusNotConnected: rendered, waiting for the client to connect.
	StatusNotConnected Status = iota

	// StatusConnected: a transport is attached and delivering patches.
	StatusConnected

	// StatusClosed: torn down; no further patch can be generated or sent.
	StatusClosed
)

// String returns a human-readable status name.
func (s Status) String() string {
	switch s {
	case StatusNotConnected:
		return "not-connected"
	case StatusConnected:
		return "connected"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Transport carries encoded frames to one client. Implementations must be
// safe for use from the context's writer goroutine concurrently with Close.
type Transport interface {
	Send(frame []byte) error
	Close() error
}

// Invocation is one callback dispatch flowing through the middleware chain.
type Invocation struct {
	// Ctx is the request-scoped context of the transport that delivered the
	// invocation.
	Ctx context.Context

	// Live is the context the callback belongs to.
	Live *Context

	CallbackID CallbackID
	Args       []any
}

// CallbackHandler executes one callback invocation.
type CallbackHandler func(inv *Invocation) error

// CallbackMiddleware wraps callback dispatch, e.g. for metrics or tracing.
type CallbackMiddleware func(next CallbackHandler) CallbackHandler

// Context is one browser session's live view: the component registry, an
// ordered outbox, and at most one transport.
type Context struct {
	id        string
	createdAt time.Time
	cfg       *Config
	logger    *slog.Logger
	reg       *registry
	dispatch  CallbackHandler

	status    atomic.Int32
	published atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
	onClose   func(*Context)

	// mu guards the transport handle, the outbox and the connect deadline.
	mu        sync.Mutex
	transport Transport
	queue     [][]byte
	deadline  time.Time
	wake      chan struct{}

	patchCount    atomic.Uint64
	batchCount    atomic.Uint64
	callbackCount atomic.Uint64
	bytesSent     atomic.Uint64
}

func newContext(cfg *Config, logger *slog.Logger, mw []CallbackMiddleware) *Context {
	c := &Context{
		id:        uuid.NewString(),
		createdAt: time.Now(),
		cfg:       cfg,
		done:      make(chan struct{}),
		wake:      make(chan struct{}, 1),
	}
	c.logger = logger.With("context_id", c.id)
	c.reg = newRegistry(c)

	handler := CallbackHandler(func(inv *Invocation) error {
		return c.reg.invokeCallback(inv.CallbackID, inv.Args)
	})
	for i := len(mw) - 1; i >= 0; i-- {
		handler = mw[i](handler)
	}
	c.dispatch = handler

	return c
}

// ID returns the opaque context token handed to the client during render.
func (c *Context) ID() string {
	return c.id
}

// Status returns the current lifecycle state.
func (c *Context) Status() Status {
	return Status(c.status.Load())
}

// CreatedAt returns when the context was created.
func (c *Context) CreatedAt() time.Time {
	return c.createdAt
}

// Done is closed when the context closes.
func (c *Context) Done() <-chan struct{} {
	return c.done
}

// Logger returns the context-scoped logger.
func (c *Context) Logger() *slog.Logger {
	return c.logger
}

// ComponentCount returns the number of live component entries.
func (c *Context) ComponentCount() int {
	return c.reg.componentCount()
}

// CallbackCount returns the number of registered callbacks.
func (c *Context) CallbackCount() int {
	return c.reg.callbackCount()
}

// PatchesSent returns the total patches enqueued for this context.
func (c *Context) PatchesSent() uint64 {
	return c.patchCount.Load()
}

// BatchesSent returns the total patch batches enqueued.
func (c *Context) BatchesSent() uint64 {
	return c.batchCount.Load()
}

// CallbacksDispatched returns the number of callback dispatch attempts.
func (c *Context) CallbacksDispatched() uint64 {
	return c.callbackCount.Load()
}

// BytesSent returns the bytes written to the transport so far.
func (c *Context) BytesSent() uint64 {
	return c.bytesSent.Load()
}

func (c *Context) setDeadline(t time.Time) {
	c.mu.Lock()
	c.deadline = t
	c.mu.Unlock()
}

// Deadline returns the connect deadline, zero once connected or closed.
func (c *Context) Deadline() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deadline
}

// expired reports whether the context is still waiting for a connection past
// its deadline.
func (c *Context) expired(now time.Time) bool {
	if c.Status() != StatusNotConnected {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.deadline.IsZero() && now.After(c.deadline)
}

// enqueue appends one encoded patch batch to the outbox, preserving the
// order in which the registry processed updates. Before a transport attaches
// the outbox buffers (bounded, oldest dropped); afterwards the writer
// goroutine drains it.
func (c *Context) enqueue(batch []protocol.Patch) {
	if len(batch) == 0 || c.Status() == StatusClosed {
		return
	}

	frame, err := protocol.EncodePatches(batch)
	if err != nil {
		c.logger.Error("patch encode error", "error", err)
		return
	}

	c.mu.Lock()
	if c.Status() == StatusClosed {
		c.mu.Unlock()
		return
	}
	if len(c.queue) >= c.cfg.MaxQueuedBatches {
		c.queue = c.queue[1:]
		c.logger.Warn("outbox full, dropping oldest batch")
	}
	c.queue = append(c.queue, frame)
	c.mu.Unlock()

	c.patchCount.Add(uint64(len(batch)))
	c.batchCount.Add(1)
	if c.cfg.OnPatches != nil {
		c.cfg.OnPatches(len(batch))
	}

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// AttachTransport connects the context to a transport. This fires the
// not-connected → connected transition exactly once; buffered updates flush
// in order before anything newer is sent.
func (c *Context) AttachTransport(t Transport) error {
	c.mu.Lock()
	switch c.Status() {
	case StatusClosed:
		c.mu.Unlock()
		return ErrContextClosed
	case StatusConnected:
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.transport = t
	c.deadline = time.Time{}
	c.status.Store(int32(StatusConnected))
	c.mu.Unlock()

	c.logger.Info("transport connected")
	go c.writeLoop(t)

	select {
	case c.wake <- struct{}{}:
	default:
	}
	return nil
}

// writeLoop is the single owner of sends for this context: updates may
// originate on any goroutine, but every frame reaches the wire from here.
func (c *Context) writeLoop(t Transport) {
	for {
		select {
		case <-c.wake:
			if !c.flush(t) {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Context) flush(t Transport) bool {
	for {
		c.mu.Lock()
		if len(c.queue) == 0 {
			c.mu.Unlock()
			return true
		}
		frames := c.queue
		c.queue = nil
		c.mu.Unlock()

		for _, frame := range frames {
			if err := t.Send(frame); err != nil {
				c.logger.Error("transport write error", "error", err)
				c.Close()
				return false
			}
			c.bytesSent.Add(uint64(len(frame)))
		}
	}
}

// DispatchCallback looks up and invokes a registered callback. A missing
// callback id is reported as ErrCallbackNotFound; a handler that panics is
// logged and recovered, never fatal to the session.
func (c *Context) DispatchCallback(ctx context.Context, id CallbackID, args []any) error {
	if c.Status() == StatusClosed {
		return ErrContextClosed
	}
	c.callbackCount.Add(1)
	return c.dispatch(&Invocation{Ctx: ctx, Live: c, CallbackID: id, Args: args})
}

// Close tears the context down: every source subscription is cancelled and
// closed, every callback dropped, the transport closed, and the directory
// entry removed. Idempotent — the connect-timeout sweep and a client
// disconnect may race to clean up the same context.
func (c *Context) Close() {
	c.closeOnce.Do(func() {
		c.status.Store(int32(StatusClosed))
		close(c.done)

		runClosers(c.reg.teardownAll())

		c.mu.Lock()
		t := c.transport
		c.transport = nil
		c.queue = nil
		c.mu.Unlock()
		if t != nil {
			t.Close()
		}

		if c.onClose != nil {
			c.onClose(c)
		}
		if c.published.Load() && c.cfg.OnContextClose != nil {
			c.cfg.OnContextClose(c)
		}
		c.archiveTranscript()

		c.logger.Info("context closed",
			"patches", c.patchCount.Load(),
			"batches", c.batchCount.Load(),
			"callbacks", c.callbackCount.Load(),
			"bytes_sent", c.bytesSent.Load())
	})
}

// archiveTranscript saves a post-close session summary when a store is
// configured. Failures are logged; the close itself never fails.
func (c *Context) archiveTranscript() {
	store := c.cfg.Archive
	if store == nil || !c.published.Load() {
		return
	}

	t := &archive.Transcript{
		ContextID: c.id,
		CreatedAt: c.createdAt,
		ClosedAt:  time.Now(),
		Patches:   c.patchCount.Load(),
		Batches:   c.batchCount.Load(),
		Callbacks: c.callbackCount.Load(),
		BytesSent: c.bytesSent.Load(),
	}
	timeout := c.cfg.ArchiveTimeout
	logger := c.logger

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := store.Save(ctx, t); err != nil {
			logger.Error("transcript save failed", "error", err)
		}
	}()
}
