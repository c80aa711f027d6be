package live

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Directory is the process-wide index of live contexts awaiting or holding a
// connection. It owns the connect-timeout sweep. One Directory is constructed
// per Engine and torn down by Stop; there is no implicit singleton.
type Directory struct {
	logger        *slog.Logger
	sweepInterval time.Duration

	mu       sync.RWMutex
	contexts map[string]*Context
	peak     int

	done      chan struct{}
	sweepDone chan struct{}
	stopOnce  sync.Once

	totalPublished atomic.Uint64
	totalTimedOut  atomic.Uint64
}

func newDirectory(cfg *Config, logger *slog.Logger) *Directory {
	d := &Directory{
		logger:        logger.With("component", "context_directory"),
		sweepInterval: cfg.SweepInterval,
		contexts:      make(map[string]*Context),
		done:          make(chan struct{}),
		sweepDone:     make(chan struct{}),
	}
	go d.sweepLoop()
	return d
}

// Publish adds a context to the directory. The directory never holds two
// entries for the same id.
func (d *Directory) Publish(c *Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.contexts[c.ID()]; exists {
		return ErrDuplicateContext
	}
	d.contexts[c.ID()] = c
	if len(d.contexts) > d.peak {
		d.peak = len(d.contexts)
	}
	d.totalPublished.Add(1)
	return nil
}

// Lookup returns the context for id, or ErrContextNotFound.
func (d *Directory) Lookup(id string) (*Context, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	c, ok := d.contexts[id]
	if !ok {
		return nil, ErrContextNotFound
	}
	return c, nil
}

// Remove drops the entry for id. Safe to call for an absent id.
func (d *Directory) Remove(id string) {
	d.mu.Lock()
	delete(d.contexts, id)
	d.mu.Unlock()
}

// Count returns the number of contexts currently in the directory.
func (d *Directory) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.contexts)
}

// TotalPublished returns how many contexts have ever been published.
func (d *Directory) TotalPublished() uint64 {
	return d.totalPublished.Load()
}

// TotalTimedOut returns how many contexts were reclaimed by the sweep.
func (d *Directory) TotalTimedOut() uint64 {
	return d.totalTimedOut.Load()
}

// PeakCount returns the high-water mark of directory size.
func (d *Directory) PeakCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.peak
}

// sweepLoop closes contexts that never received a connection within their
// deadline. The wait is a periodic check, not a blocked goroutine per
// context.
func (d *Directory) sweepLoop() {
	defer close(d.sweepDone)

	ticker := time.NewTicker(d.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.sweep(time.Now())
		case <-d.done:
			return
		}
	}
}

func (d *Directory) sweep(now time.Time) {
	d.mu.RLock()
	var expired []*Context
	for _, c := range d.contexts {
		if c.expired(now) {
			expired = append(expired, c)
		}
	}
	d.mu.RUnlock()

	for _, c := range expired {
		d.logger.Debug("connect timeout", "context_id", c.ID())
		d.totalTimedOut.Add(1)
		// Close removes the entry through the context's close hook.
		c.Close()
		d.Remove(c.ID())
	}
}

// Stop halts the sweep, waits for it to exit, and closes every remaining
// context. Idempotent.
func (d *Directory) Stop(ctx context.Context) error {
	var err error
	d.stopOnce.Do(func() {
		close(d.done)
		select {
		case <-d.sweepDone:
		case <-ctx.Done():
			err = ctx.Err()
		}

		d.mu.Lock()
		remaining := make([]*Context, 0, len(d.contexts))
		for _, c := range d.contexts {
			remaining = append(remaining, c)
		}
		d.mu.Unlock()

		for _, c := range remaining {
			c.Close()
		}

		d.logger.Info("directory stopped",
			"closed", len(remaining),
			"total_published", d.totalPublished.Load(),
			"timed_out", d.totalTimedOut.Load())
	})
	return err
}
