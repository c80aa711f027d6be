package live

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

// RenderRoot produces the initial page for one session. It writes markup to
// w and registers components and callbacks through the root scope.
type RenderRoot func(root *Scope, w io.Writer) error

// Engine creates live contexts and owns the directory they live in. One
// Engine is constructed per server process and passed to the transport
// handler; Shutdown tears it down.
type Engine struct {
	cfg    *Config
	logger *slog.Logger
	dir    *Directory

	mu         sync.Mutex
	middleware []CallbackMiddleware
}

// NewEngine creates an engine with cfg, filling in defaults for unset
// fields. A nil cfg uses DefaultConfig.
func NewEngine(cfg *Config) *Engine {
	cfg = cfg.withDefaults()
	return &Engine{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "live_engine"),
		dir:    newDirectory(cfg, cfg.Logger),
	}
}

// Directory returns the engine's context directory.
func (e *Engine) Directory() *Directory {
	return e.dir
}

// Use appends callback middleware. Must be called before rendering; contexts
// snapshot the chain at creation.
func (e *Engine) Use(mw CallbackMiddleware) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.middleware = append(e.middleware, mw)
}

// Render creates a live context, runs fn against it streaming to w, and
// publishes the context when it registered at least one sourced component.
// A render error or panic closes the output cleanly and leaves no directory
// entry; a fully static page is torn down immediately after render.
func (e *Engine) Render(w io.Writer, fn RenderRoot) (*Context, error) {
	e.mu.Lock()
	mw := make([]CallbackMiddleware, len(e.middleware))
	copy(mw, e.middleware)
	e.mu.Unlock()

	c := newContext(e.cfg, e.cfg.Logger, mw)

	if err := safeRenderRoot(c, fn, w); err != nil {
		c.logger.Error("render failed", "error", err)
		c.Close()
		return nil, err
	}

	if c.reg.sourcedCount() == 0 {
		// Nothing will ever update; there is nothing to keep alive.
		c.Close()
		return c, nil
	}

	c.setDeadline(time.Now().Add(e.cfg.ConnectTimeout))
	c.onClose = func(closed *Context) {
		e.dir.Remove(closed.ID())
	}
	if err := e.dir.Publish(c); err != nil {
		c.Close()
		return nil, err
	}
	c.published.Store(true)

	if e.cfg.OnContextCreate != nil {
		e.cfg.OnContextCreate(c)
	}
	return c, nil
}

// Shutdown stops the directory sweep and closes every remaining context.
func (e *Engine) Shutdown(ctx context.Context) error {
	return e.dir.Stop(ctx)
}

func safeRenderRoot(c *Context, fn RenderRoot, w io.Writer) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			c.logger.Error("render panic",
				"panic", rec,
				"stack", string(debug.Stack()))
			err = fmt.Errorf("live: render panic: %v", rec)
		}
	}()
	return fn(&Scope{ctx: c}, w)
}
