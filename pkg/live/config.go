package live

import (
	"log/slog"
	"time"

	"github.com/liveview-go/liveview/pkg/archive"
)

// Config configures the engine and every context it creates.
type Config struct {
	// ConnectTimeout is how long a context waits for a transport connection
	// after its render completes before it is reclaimed.
	ConnectTimeout time.Duration

	// SweepInterval is how often the directory checks for contexts past
	// their connect deadline.
	SweepInterval time.Duration

	// MaxQueuedBatches bounds the per-context outbox. Updates arriving
	// before the client connects are buffered here and flushed in order on
	// the first transport attach; when the bound is exceeded the oldest
	// batch is dropped and a warning logged.
	MaxQueuedBatches int

	// Archive, when set, receives a session transcript after each live
	// context closes.
	Archive archive.Store

	// ArchiveTimeout bounds each transcript save.
	ArchiveTimeout time.Duration

	// OnContextCreate is called after a context with live components is
	// published into the directory.
	OnContextCreate func(*Context)

	// OnContextClose is called once per context as it closes.
	OnContextClose func(*Context)

	// OnPatches is called with the patch count of each enqueued batch.
	OnPatches func(count int)

	// Logger is the base logger. Defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() *Config {
	return &Config{
		ConnectTimeout:   30 * time.Second,
		SweepInterval:    time.Second,
		MaxQueuedBatches: 256,
		ArchiveTimeout:   5 * time.Second,
	}
}

// withDefaults returns a copy of c with unset fields filled in.
func (c *Config) withDefaults() *Config {
	out := DefaultConfig()
	if c == nil {
		out.Logger = slog.Default()
		return out
	}

	cp := *c
	if cp.ConnectTimeout == 0 {
		cp.ConnectTimeout = out.ConnectTimeout
	}
	if cp.SweepInterval == 0 {
		cp.SweepInterval = out.SweepInterval
	}
	if cp.MaxQueuedBatches == 0 {
		cp.MaxQueuedBatches = out.MaxQueuedBatches
	}
	if cp.ArchiveTimeout == 0 {
		cp.ArchiveTimeout = out.ArchiveTimeout
	}
	if cp.Logger == nil {
		cp.Logger = slog.Default()
	}
	return &cp
}
