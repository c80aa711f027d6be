package live

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/liveview-go/liveview/pkg/protocol"
	"github.com/liveview-go/liveview/pkg/source"
)

// captureTransport records every frame the context writer sends.
type captureTransport struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func (t *captureTransport) Send(frame []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	cp := make([]byte, len(frame))
	copy(cp, frame)
	t.frames = append(t.frames, cp)
	return nil
}

func (t *captureTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *captureTransport) frameCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.frames)
}

func (t *captureTransport) batch(tb testing.TB, i int) []protocol.Patch {
	tb.Helper()
	t.mu.Lock()
	defer t.mu.Unlock()
	if i >= len(t.frames) {
		tb.Fatalf("frame %d not received (have %d)", i, len(t.frames))
	}
	patches, err := protocol.DecodePatches(t.frames[i])
	if err != nil {
		tb.Fatalf("decode frame %d: %v", i, err)
	}
	return patches
}

// fakeSource is a hand-driven source that counts closes and cancels.
type fakeSource struct {
	mu       sync.Mutex
	handlers map[int]func(source.Emission)
	nextID   int
	closes   int
	cancels  int
}

func newFakeSource() *fakeSource {
	return &fakeSource{handlers: map[int]func(source.Emission){}}
}

func (f *fakeSource) Subscribe(fn func(source.Emission)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	f.handlers[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if _, ok := f.handlers[id]; ok {
			delete(f.handlers, id)
			f.cancels++
		}
	}
}

func (f *fakeSource) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeSource) emit(e source.Emission) {
	f.mu.Lock()
	handlers := make([]func(source.Emission), 0, len(f.handlers))
	for _, fn := range f.handlers {
		handlers = append(handlers, fn)
	}
	f.mu.Unlock()
	for _, fn := range handlers {
		fn(e)
	}
}

func (f *fakeSource) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

func (f *fakeSource) cancelCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancels
}

// markupRender renders any value as a prefixed markup payload.
func markupRender(prefix string) RenderFunc {
	return func(_ *Scope, value any) protocol.Payload {
		return protocol.Markup(fmt.Sprintf("%s:%v", prefix, value))
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(tb testing.TB, cond func() bool, msg string) {
	tb.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	tb.Fatalf("condition never held: %s", msg)
}

func testTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 2*time.Second)
}

// newTestEngine creates an engine with fast timeouts, stopped with the test.
func newTestEngine(tb testing.TB, mutate func(*Config)) *Engine {
	tb.Helper()
	cfg := DefaultConfig()
	cfg.ConnectTimeout = time.Minute
	cfg.SweepInterval = 5 * time.Millisecond
	if mutate != nil {
		mutate(cfg)
	}
	e := NewEngine(cfg)
	tb.Cleanup(func() {
		stopCtx, cancel := testTimeout()
		defer cancel()
		_ = e.Shutdown(stopCtx)
	})
	return e
}
