package live

import (
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/liveview-go/liveview/pkg/protocol"
	"github.com/liveview-go/liveview/pkg/source"
)

// ComponentID identifies a registered component within one context.
// Ids are unique and strictly increasing for the life of the context.
type ComponentID uint64

// CallbackID identifies a registered callback within one context.
type CallbackID uint64

// RenderFunc renders a component for an emitted value. Nested registrations
// made through sc attach as children of the component being rendered.
type RenderFunc func(sc *Scope, value any) protocol.Payload

// UpdateHook computes an optional secondary patch after a successful render.
type UpdateHook func(value any) *protocol.Patch

// CallbackFunc is a server-side handler reachable from the client.
type CallbackFunc func(args []any)

type componentOpts struct {
	mode      protocol.PatchMode
	attr      string
	didUpdate UpdateHook
}

// ComponentOption configures a component registration.
type ComponentOption func(*componentOpts)

// WithMode sets the patch mode for the component's updates.
// The default is replace.
func WithMode(mode protocol.PatchMode) ComponentOption {
	return func(o *componentOpts) {
		o.mode = mode
	}
}

// AsAttribute makes the component patch the named attribute on its parent's
// DOM node instead of replacing content. Deletions for such a component are
// redirected to the parent's id on the wire.
func AsAttribute(name string) ComponentOption {
	return func(o *componentOpts) {
		o.mode = protocol.ModeAttr
		o.attr = name
	}
}

// WithDidUpdate installs a hook that computes a secondary patch delivered in
// the same batch as each successful update.
func WithDidUpdate(hook UpdateHook) ComponentOption {
	return func(o *componentOpts) {
		o.didUpdate = hook
	}
}

// componentEntry is one reactive UI fragment in the live tree.
type componentEntry struct {
	id        ComponentID
	parent    ComponentID // 0 = registered at the root render pass
	mode      protocol.PatchMode
	attr      string
	render    RenderFunc
	didUpdate UpdateHook

	src    source.Source
	cancel func()

	// gen increments on every processed update; a render that finishes
	// against a stale generation is discarded instead of patched.
	gen uint64

	children  []ComponentID
	callbacks []CallbackID
}

type callbackEntry struct {
	id     CallbackID
	parent ComponentID
	fn     CallbackFunc
}

// registry is the per-context component table. A single mutex guards the
// whole table so structural updates (a replace teardown touches child sets,
// the component map and the callback map together) are atomic; renders,
// callback invocations and source closes always run outside the lock.
type registry struct {
	ctx    *Context
	logger *slog.Logger

	mu            sync.Mutex
	nextComponent uint64
	nextCallback  uint64
	components    map[ComponentID]*componentEntry
	callbacks     map[CallbackID]*callbackEntry
	sourced       int
	torn          bool
}

func newRegistry(ctx *Context) *registry {
	return &registry{
		ctx:        ctx,
		logger:     ctx.logger,
		components: make(map[ComponentID]*componentEntry),
		callbacks:  make(map[CallbackID]*callbackEntry),
	}
}

// register adds a component under parent and, if a source is given,
// subscribes to it immediately. Returns 0 when the context is already torn
// down or the parent no longer exists (a render that lost a teardown race).
func (r *registry) register(parent ComponentID, src source.Source, render RenderFunc, opts ...ComponentOption) ComponentID {
	o := componentOpts{mode: protocol.ModeReplace}
	for _, opt := range opts {
		opt(&o)
	}

	r.mu.Lock()
	if r.torn {
		r.mu.Unlock()
		if src != nil {
			src.Close()
		}
		return 0
	}

	var parentEntry *componentEntry
	if parent != 0 {
		var ok bool
		parentEntry, ok = r.components[parent]
		if !ok {
			// The owning component was torn down while its render was in
			// flight; registering under it would leak the subtree.
			r.mu.Unlock()
			if src != nil {
				src.Close()
			}
			return 0
		}
	}

	r.nextComponent++
	id := ComponentID(r.nextComponent)
	e := &componentEntry{
		id:        id,
		parent:    parent,
		mode:      o.mode,
		attr:      o.attr,
		render:    render,
		didUpdate: o.didUpdate,
		src:       src,
	}
	r.components[id] = e
	if parentEntry != nil {
		parentEntry.children = append(parentEntry.children, id)
	}
	if src != nil {
		r.sourced++
	}
	r.mu.Unlock()

	if src != nil {
		cancel := src.Subscribe(func(em source.Emission) {
			r.handleSourceValue(id, em)
		})

		r.mu.Lock()
		if cur, ok := r.components[id]; ok && cur == e {
			e.cancel = cancel
			r.mu.Unlock()
		} else {
			// Torn down between insert and subscribe.
			r.mu.Unlock()
			cancel()
		}
	}

	return id
}

// registerCallback records a handler under the enclosing component for
// ownership-based teardown. Pure table insertion, no subscription semantics.
func (r *registry) registerCallback(parent ComponentID, fn CallbackFunc) CallbackID {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.torn {
		return 0
	}

	var parentEntry *componentEntry
	if parent != 0 {
		var ok bool
		parentEntry, ok = r.components[parent]
		if !ok {
			return 0
		}
	}

	r.nextCallback++
	id := CallbackID(r.nextCallback)
	r.callbacks[id] = &callbackEntry{id: id, parent: parent, fn: fn}
	if parentEntry != nil {
		parentEntry.callbacks = append(parentEntry.callbacks, id)
	}
	return id
}

// handleSourceValue processes one emission from the source owned by id.
func (r *registry) handleSourceValue(id ComponentID, em source.Emission) {
	r.mu.Lock()
	e, ok := r.components[id]
	if !ok {
		// Already removed; a second sentinel or a stray update is a no-op.
		r.mu.Unlock()
		return
	}

	if em.IsRemoved() {
		target := deletionTarget(e)
		closers := r.removeLocked(id)
		r.ctx.enqueue([]protocol.Patch{protocol.NewRemovePatch(target)})
		r.mu.Unlock()
		runClosers(closers)
		return
	}

	if em.Value() == nil {
		// A nil value means "nothing changed".
		r.mu.Unlock()
		return
	}

	var closers []func()
	if e.mode == protocol.ModeReplace {
		// Tear down the previous render of this slot before re-rendering so
		// no stale child can receive a stray update afterwards.
		closers = r.cleanupSubtreeLocked(e)
	}
	e.gen++
	gen := e.gen
	render, mode, attr, parent, didUpdate := e.render, e.mode, e.attr, e.parent, e.didUpdate
	r.mu.Unlock()

	runClosers(closers)

	payload, ok := r.safeRender(id, render, em.Value())
	if !ok {
		// Render failure is scoped to this update; the session continues.
		return
	}

	target := uint64(id)
	if mode == protocol.ModeAttr && parent != 0 {
		target = uint64(parent)
	}
	patch := protocol.Patch{Target: target, Mode: mode, Payload: payload}
	if mode == protocol.ModeAttr {
		patch.Key = attr
	}
	batch := []protocol.Patch{patch}
	if didUpdate != nil {
		if extra := r.safeDidUpdate(id, didUpdate, em.Value()); extra != nil {
			batch = append(batch, *extra)
		}
	}

	r.mu.Lock()
	if cur, ok := r.components[id]; !ok || cur.gen != gen {
		// The component was torn down or re-rendered while this render was
		// in flight; its patch is stale.
		r.mu.Unlock()
		return
	}
	r.ctx.enqueue(batch)
	r.mu.Unlock()
}

// deletionTarget redirects attribute-mode deletions to the parent: an
// attribute component never has a standalone node on the client.
func deletionTarget(e *componentEntry) uint64 {
	if e.mode == protocol.ModeAttr && e.parent != 0 {
		return uint64(e.parent)
	}
	return uint64(e.id)
}

// safeRender runs a render function with panic recovery.
func (r *registry) safeRender(id ComponentID, render RenderFunc, value any) (payload protocol.Payload, ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("render panic",
				"component_id", uint64(id),
				"panic", rec,
				"stack", string(debug.Stack()))
			ok = false
		}
	}()
	return render(&Scope{ctx: r.ctx, id: id}, value), true
}

// safeDidUpdate runs a did-update hook with panic recovery.
func (r *registry) safeDidUpdate(id ComponentID, hook UpdateHook, value any) (patch *protocol.Patch) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("did-update panic",
				"component_id", uint64(id),
				"panic", rec,
				"stack", string(debug.Stack()))
			patch = nil
		}
	}()
	return hook(value)
}

// invokeCallback looks up and runs a callback. Invocation happens outside
// the registry lock: the handler may mutate state observed by a source,
// re-entering handleSourceValue on the same goroutine.
func (r *registry) invokeCallback(id CallbackID, args []any) error {
	r.mu.Lock()
	cb, ok := r.callbacks[id]
	r.mu.Unlock()

	if !ok {
		return ErrCallbackNotFound
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("callback panic",
				"callback_id", uint64(id),
				"panic", rec,
				"stack", string(debug.Stack()))
		}
	}()
	cb.fn(args)
	return nil
}

// deregister removes a component and its subtree. Safe to call for an
// already-absent id.
func (r *registry) deregister(id ComponentID) {
	r.mu.Lock()
	closers := r.removeLocked(id)
	r.mu.Unlock()
	runClosers(closers)
}

// removeLocked detaches id from its parent's child set and destroys its
// subtree. Returns source closers to run outside the lock.
func (r *registry) removeLocked(id ComponentID) []func() {
	e, ok := r.components[id]
	if !ok {
		return nil
	}
	if e.parent != 0 {
		if p, ok := r.components[e.parent]; ok {
			for i, c := range p.children {
				if c == id {
					p.children = append(p.children[:i], p.children[i+1:]...)
					break
				}
			}
		}
	}
	return r.destroyLocked(id)
}

// destroyLocked removes id and its whole subtree from the table. The caller
// has already detached id from its parent's child set.
func (r *registry) destroyLocked(id ComponentID) []func() {
	e, ok := r.components[id]
	if !ok {
		return nil
	}
	closers := r.cleanupSubtreeLocked(e)
	delete(r.components, id)
	if e.src != nil {
		r.sourced--
		closers = append(closers, sourceCloser(e))
	}
	return closers
}

// cleanupSubtreeLocked destroys every child and owned callback of e and
// resets its child/callback sets. Used by replace handling and by deletion.
func (r *registry) cleanupSubtreeLocked(e *componentEntry) []func() {
	var closers []func()

	children := e.children
	e.children = nil
	for _, child := range children {
		closers = append(closers, r.destroyLocked(child)...)
	}

	for _, cb := range e.callbacks {
		delete(r.callbacks, cb)
	}
	e.callbacks = nil

	return closers
}

// teardownAll drops every entry and returns the closers for all live
// subscriptions. Further registrations become no-ops.
func (r *registry) teardownAll() []func() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.torn {
		return nil
	}
	r.torn = true

	var closers []func()
	for _, e := range r.components {
		if e.src != nil {
			closers = append(closers, sourceCloser(e))
		}
	}
	r.components = make(map[ComponentID]*componentEntry)
	r.callbacks = make(map[CallbackID]*callbackEntry)
	r.sourced = 0
	return closers
}

func sourceCloser(e *componentEntry) func() {
	cancel, src := e.cancel, e.src
	return func() {
		if cancel != nil {
			cancel()
		}
		src.Close()
	}
}

func runClosers(closers []func()) {
	for _, fn := range closers {
		fn()
	}
}

func (r *registry) componentCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.components)
}

func (r *registry) callbackCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.callbacks)
}

func (r *registry) sourcedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sourced
}
