package live

import "github.com/liveview-go/liveview/pkg/source"

// Scope identifies the component whose render pass is currently active.
// Registrations go through a Scope so the parent/child tree is built by
// explicit threading rather than ambient state: the root render receives the
// root scope, and every RenderFunc receives a scope for its own component.
type Scope struct {
	ctx *Context
	id  ComponentID
}

// Context returns the live context the scope belongs to.
func (sc *Scope) Context() *Context {
	return sc.ctx
}

// ComponentID returns the id of the scope's component, or 0 for the root
// render pass.
func (sc *Scope) ComponentID() ComponentID {
	return sc.id
}

// Component registers a reactive UI fragment as a child of this scope.
// If src is non-nil the registry subscribes to it immediately; each emitted
// value is rendered with render and delivered as a patch. A nil src registers
// a static structural component that only serves as a parent for others.
func (sc *Scope) Component(src source.Source, render RenderFunc, opts ...ComponentOption) ComponentID {
	return sc.ctx.reg.register(sc.id, src, render, opts...)
}

// Callback registers a server-side handler reachable from the client. The
// callback is owned by this scope's component and is torn down with it.
func (sc *Scope) Callback(fn CallbackFunc) CallbackID {
	return sc.ctx.reg.registerCallback(sc.id, fn)
}

// Nest returns a scope rooted at id, letting the initial render attach
// children to a static structural component whose own render never runs.
func (sc *Scope) Nest(id ComponentID) *Scope {
	return &Scope{ctx: sc.ctx, id: id}
}

// Deregister removes a component registered through this scope's context,
// including its subtree. Safe to call for an id that is already gone.
func (sc *Scope) Deregister(id ComponentID) {
	sc.ctx.reg.deregister(id)
}
