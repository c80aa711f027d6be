package live

import (
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/liveview-go/liveview/pkg/protocol"
	"github.com/liveview-go/liveview/pkg/source"
)

func TestComponentIDsMonotonic(t *testing.T) {
	e := newTestEngine(t, nil)

	var compIDs []ComponentID
	var cbIDs []CallbackID
	ctx, err := e.Render(io.Discard, func(root *Scope, _ io.Writer) error {
		for i := 0; i < 3; i++ {
			compIDs = append(compIDs, root.Component(newFakeSource(), markupRender("c")))
		}
		cbIDs = append(cbIDs, root.Callback(func([]any) {}))
		cbIDs = append(cbIDs, root.Callback(func([]any) {}))
		return nil
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	defer ctx.Close()

	if diff := cmp.Diff([]ComponentID{1, 2, 3}, compIDs); diff != "" {
		t.Errorf("component ids mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]CallbackID{1, 2}, cbIDs); diff != "" {
		t.Errorf("callback ids mismatch (-want +got):\n%s", diff)
	}
	if got := ctx.ComponentCount(); got != 3 {
		t.Errorf("component count = %d, want 3", got)
	}
	if got := ctx.CallbackCount(); got != 2 {
		t.Errorf("callback count = %d, want 2", got)
	}
}

func TestRemovalSentinel(t *testing.T) {
	e := newTestEngine(t, nil)

	src := newFakeSource()
	var cid ComponentID
	ctx, err := e.Render(io.Discard, func(root *Scope, _ io.Writer) error {
		cid = root.Component(src, markupRender("c"))
		return nil
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	defer ctx.Close()

	tr := &captureTransport{}
	if err := ctx.AttachTransport(tr); err != nil {
		t.Fatalf("attach: %v", err)
	}

	src.emit(source.Removed())
	src.emit(source.Removed()) // second sentinel must be silent

	waitFor(t, func() bool { return tr.frameCount() >= 1 }, "removal frame delivered")
	time.Sleep(20 * time.Millisecond)
	if got := tr.frameCount(); got != 1 {
		t.Fatalf("frame count = %d, want exactly 1", got)
	}

	patches := tr.batch(t, 0)
	want := []protocol.Patch{protocol.NewRemovePatch(uint64(cid))}
	if diff := cmp.Diff(want, patches); diff != "" {
		t.Errorf("removal patch mismatch (-want +got):\n%s", diff)
	}

	if got := src.closeCount(); got != 1 {
		t.Errorf("source close count = %d, want 1", got)
	}
	if got := ctx.ComponentCount(); got != 0 {
		t.Errorf("component count after removal = %d, want 0", got)
	}
}

func TestReplaceTearsDownPreviousRender(t *testing.T) {
	e := newTestEngine(t, nil)

	parentSrc := newFakeSource()
	var childSrcs []*fakeSource
	ctx, err := e.Render(io.Discard, func(root *Scope, _ io.Writer) error {
		root.Component(parentSrc, func(sc *Scope, value any) protocol.Payload {
			cs := newFakeSource()
			childSrcs = append(childSrcs, cs)
			sc.Component(cs, markupRender("child"))
			sc.Callback(func([]any) {})
			return protocol.Markup(fmt.Sprintf("parent:%v", value))
		})
		return nil
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	defer ctx.Close()

	tr := &captureTransport{}
	if err := ctx.AttachTransport(tr); err != nil {
		t.Fatalf("attach: %v", err)
	}

	parentSrc.emit(source.Of(1))
	if got := ctx.ComponentCount(); got != 2 {
		t.Fatalf("component count after first render = %d, want 2", got)
	}
	if got := ctx.CallbackCount(); got != 1 {
		t.Fatalf("callback count after first render = %d, want 1", got)
	}

	parentSrc.emit(source.Of(2))
	if got := childSrcs[0].closeCount(); got != 1 {
		t.Errorf("first render's child source close count = %d, want 1", got)
	}
	if got := childSrcs[1].closeCount(); got != 0 {
		t.Errorf("second render's child source close count = %d, want 0", got)
	}
	if got := ctx.ComponentCount(); got != 2 {
		t.Errorf("component count after re-render = %d, want 2", got)
	}
	if got := ctx.CallbackCount(); got != 1 {
		t.Errorf("callback count after re-render = %d, want 1", got)
	}

	// A stale child source must not drive anything after the teardown.
	before := ctx.PatchesSent()
	childSrcs[0].emit(source.Of(9))
	if got := ctx.PatchesSent(); got != before {
		t.Errorf("patches after stale emission = %d, want %d", got, before)
	}

	waitFor(t, func() bool { return tr.frameCount() >= 2 }, "both parent frames delivered")
	if got := tr.batch(t, 0)[0].Payload.Markup; got != "parent:1" {
		t.Errorf("first frame markup = %q, want %q", got, "parent:1")
	}
	if got := tr.batch(t, 1)[0].Payload.Markup; got != "parent:2" {
		t.Errorf("second frame markup = %q, want %q", got, "parent:2")
	}
}

func TestRootChildRemoval(t *testing.T) {
	e := newTestEngine(t, nil)

	child := source.NewVar()
	var rid, cid ComponentID
	ctx, err := e.Render(io.Discard, func(root *Scope, _ io.Writer) error {
		rid = root.Component(nil, markupRender("root"))
		cid = root.Nest(rid).Component(child, markupRender("child"))
		return nil
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	defer ctx.Close()

	tr := &captureTransport{}
	if err := ctx.AttachTransport(tr); err != nil {
		t.Fatalf("attach: %v", err)
	}

	child.Set(1)
	waitFor(t, func() bool { return tr.frameCount() >= 1 }, "update frame delivered")
	got := tr.batch(t, 0)
	want := []protocol.Patch{{Target: uint64(cid), Mode: protocol.ModeReplace, Payload: protocol.Markup("child:1")}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("update patch mismatch (-want +got):\n%s", diff)
	}

	child.Remove()
	waitFor(t, func() bool { return tr.frameCount() >= 2 }, "removal frame delivered")
	got = tr.batch(t, 1)
	want = []protocol.Patch{protocol.NewRemovePatch(uint64(cid))}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("removal patch mismatch (-want +got):\n%s", diff)
	}

	// Driving the source after removal produces nothing: the subscription is
	// cancelled as part of the teardown.
	child.Set(2)
	time.Sleep(20 * time.Millisecond)
	if got := tr.frameCount(); got != 2 {
		t.Fatalf("frame count after post-removal set = %d, want 2", got)
	}
	if got := ctx.ComponentCount(); got != 1 {
		t.Errorf("component count = %d, want 1 (static root remains)", got)
	}
}

func TestAttributeComponentTargetsParent(t *testing.T) {
	e := newTestEngine(t, nil)

	attrSrc := newFakeSource()
	var pid ComponentID
	ctx, err := e.Render(io.Discard, func(root *Scope, _ io.Writer) error {
		pid = root.Component(nil, markupRender("p"))
		root.Nest(pid).Component(attrSrc, func(_ *Scope, value any) protocol.Payload {
			return protocol.Data(value)
		}, AsAttribute("class"))
		return nil
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	defer ctx.Close()

	tr := &captureTransport{}
	if err := ctx.AttachTransport(tr); err != nil {
		t.Fatalf("attach: %v", err)
	}

	attrSrc.emit(source.Of("highlight"))
	waitFor(t, func() bool { return tr.frameCount() >= 1 }, "attr frame delivered")
	got := tr.batch(t, 0)
	want := []protocol.Patch{protocol.NewAttrPatch(uint64(pid), "class", protocol.Data("highlight"))}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("attr patch mismatch (-want +got):\n%s", diff)
	}

	attrSrc.emit(source.Removed())
	waitFor(t, func() bool { return tr.frameCount() >= 2 }, "attr removal delivered")
	got = tr.batch(t, 1)
	want = []protocol.Patch{protocol.NewRemovePatch(uint64(pid))}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("attr removal mismatch (-want +got):\n%s", diff)
	}
}

func TestDidUpdateSecondaryPatch(t *testing.T) {
	e := newTestEngine(t, nil)

	src := newFakeSource()
	var cid ComponentID
	ctx, err := e.Render(io.Discard, func(root *Scope, _ io.Writer) error {
		cid = root.Component(src, markupRender("c"), WithDidUpdate(func(value any) *protocol.Patch {
			p := protocol.NewAttrPatch(7, "data-updated", protocol.Data(value))
			return &p
		}))
		return nil
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	defer ctx.Close()

	tr := &captureTransport{}
	if err := ctx.AttachTransport(tr); err != nil {
		t.Fatalf("attach: %v", err)
	}

	src.emit(source.Of("x"))
	waitFor(t, func() bool { return tr.frameCount() >= 1 }, "frame delivered")

	got := tr.batch(t, 0)
	want := []protocol.Patch{
		{Target: uint64(cid), Mode: protocol.ModeReplace, Payload: protocol.Markup("c:x")},
		protocol.NewAttrPatch(7, "data-updated", protocol.Data("x")),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("batch mismatch (-want +got):\n%s", diff)
	}
}

func TestNilValueIsNoop(t *testing.T) {
	e := newTestEngine(t, nil)

	src := newFakeSource()
	ctx, err := e.Render(io.Discard, func(root *Scope, _ io.Writer) error {
		root.Component(src, markupRender("c"))
		return nil
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	defer ctx.Close()

	src.emit(source.Of(nil))
	if got := ctx.PatchesSent(); got != 0 {
		t.Errorf("patches after nil emission = %d, want 0", got)
	}
	if got := ctx.ComponentCount(); got != 1 {
		t.Errorf("component count = %d, want 1", got)
	}
}

func TestRenderPanicSkipsUpdate(t *testing.T) {
	e := newTestEngine(t, nil)

	src := newFakeSource()
	ctx, err := e.Render(io.Discard, func(root *Scope, _ io.Writer) error {
		root.Component(src, func(_ *Scope, value any) protocol.Payload {
			if value == "boom" {
				panic("render exploded")
			}
			return protocol.Markup(fmt.Sprintf("ok:%v", value))
		})
		return nil
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	defer ctx.Close()

	tr := &captureTransport{}
	if err := ctx.AttachTransport(tr); err != nil {
		t.Fatalf("attach: %v", err)
	}

	src.emit(source.Of("boom"))
	if got := ctx.PatchesSent(); got != 0 {
		t.Fatalf("patches after panicking render = %d, want 0", got)
	}

	// The session survives a render panic.
	src.emit(source.Of("fine"))
	waitFor(t, func() bool { return tr.frameCount() >= 1 }, "frame after recovery")
	if got := tr.batch(t, 0)[0].Payload.Markup; got != "ok:fine" {
		t.Errorf("markup = %q, want %q", got, "ok:fine")
	}
}

func TestConcurrentSourceEmissions(t *testing.T) {
	e := newTestEngine(t, nil)

	srcA, srcB := newFakeSource(), newFakeSource()
	var idA, idB ComponentID
	ctx, err := e.Render(io.Discard, func(root *Scope, _ io.Writer) error {
		idA = root.Component(srcA, markupRender("a"))
		idB = root.Component(srcB, markupRender("b"))
		return nil
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	defer ctx.Close()

	const perSource = 50
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < perSource; i++ {
			srcA.emit(source.Of(i))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < perSource; i++ {
			srcB.emit(source.Of(i))
		}
	}()
	wg.Wait()

	if got := ctx.BatchesSent(); got != 2*perSource {
		t.Fatalf("batches sent = %d, want %d", got, 2*perSource)
	}
	if got := ctx.ComponentCount(); got != 2 {
		t.Errorf("component count = %d, want 2", got)
	}

	tr := &captureTransport{}
	if err := ctx.AttachTransport(tr); err != nil {
		t.Fatalf("attach: %v", err)
	}
	waitFor(t, func() bool { return tr.frameCount() == 2*perSource }, "all frames delivered")

	for i := 0; i < 2*perSource; i++ {
		patches := tr.batch(t, i)
		if len(patches) != 1 {
			t.Fatalf("frame %d has %d patches, want 1", i, len(patches))
		}
		if tgt := patches[0].Target; tgt != uint64(idA) && tgt != uint64(idB) {
			t.Fatalf("frame %d targets unknown component %d", i, tgt)
		}
	}
}

func TestDeregisterRemovesSubtree(t *testing.T) {
	e := newTestEngine(t, nil)

	parentSrc := newFakeSource()
	childSrc := newFakeSource()
	var pid ComponentID
	var rootScope *Scope
	ctx, err := e.Render(io.Discard, func(root *Scope, _ io.Writer) error {
		rootScope = root
		pid = root.Component(parentSrc, markupRender("p"))
		root.Nest(pid).Component(childSrc, markupRender("c"))
		root.Nest(pid).Callback(func([]any) {})
		return nil
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	defer ctx.Close()

	rootScope.Deregister(pid)

	if got := ctx.ComponentCount(); got != 0 {
		t.Errorf("component count = %d, want 0", got)
	}
	if got := ctx.CallbackCount(); got != 0 {
		t.Errorf("callback count = %d, want 0", got)
	}
	if got := parentSrc.closeCount(); got != 1 {
		t.Errorf("parent source close count = %d, want 1", got)
	}
	if got := childSrc.closeCount(); got != 1 {
		t.Errorf("child source close count = %d, want 1", got)
	}

	// Deregistering again is a no-op.
	rootScope.Deregister(pid)
	if got := parentSrc.closeCount(); got != 1 {
		t.Errorf("parent source close count after repeat = %d, want 1", got)
	}
}
