package source

import (
	"sync"
	"testing"
)

func TestEmissionTagging(t *testing.T) {
	if Of(42).IsRemoved() {
		t.Error("value emission should not be removed")
	}
	if Of(42).Value() != 42 {
		t.Errorf("Value() = %v, want 42", Of(42).Value())
	}
	if !Removed().IsRemoved() {
		t.Error("sentinel should report removed")
	}
	if Removed().Value() != nil {
		t.Error("sentinel carries no value")
	}
}

func TestVarSetDeliversToSubscribers(t *testing.T) {
	v := NewVar()

	var got []any
	cancel := v.Subscribe(func(e Emission) {
		got = append(got, e.Value())
	})
	defer cancel()

	v.Set(1)
	v.Set(2)

	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Errorf("got %v, want [1 2]", got)
	}
}

func TestVarCancelStopsDelivery(t *testing.T) {
	v := NewVar()

	count := 0
	cancel := v.Subscribe(func(Emission) { count++ })

	v.Set(1)
	cancel()
	v.Set(2)

	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
	if v.SubscriberCount() != 0 {
		t.Errorf("SubscriberCount = %d, want 0", v.SubscriberCount())
	}
}

func TestVarRemoveEmitsSentinel(t *testing.T) {
	v := NewVar()

	var removed bool
	v.Subscribe(func(e Emission) { removed = e.IsRemoved() })

	v.Remove()
	if !removed {
		t.Error("expected removal sentinel")
	}
}

func TestVarCloseIsIdempotent(t *testing.T) {
	v := NewVar()
	v.Subscribe(func(Emission) { t.Error("should not deliver after close") })

	if err := v.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := v.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if !v.Closed() {
		t.Error("Closed() = false after Close")
	}

	v.Set(1)

	if v.Subscribe(func(Emission) {}) == nil {
		t.Error("Subscribe after close should still return a cancel func")
	}
}

func TestVarReentrantHandler(t *testing.T) {
	v := NewVar()

	var got []any
	v.Subscribe(func(e Emission) {
		got = append(got, e.Value())
		if e.Value() == 1 {
			// A handler may drive the source again.
			v.Set(2)
		}
	})

	v.Set(1)

	if len(got) != 2 || got[1] != 2 {
		t.Errorf("got %v, want [1 2]", got)
	}
}

func TestVarConcurrentSetAndSubscribe(t *testing.T) {
	v := NewVar()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			cancel := v.Subscribe(func(Emission) {})
			cancel()
		}()
		go func() {
			defer wg.Done()
			v.Set(1)
		}()
	}
	wg.Wait()
}
