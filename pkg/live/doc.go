// Package live implements the server side of a live view session: a
// per-session component registry, the reactive-source-to-patch pipeline, the
// context lifecycle, and the process-wide directory of contexts awaiting or
// holding a connection.
//
// A render call creates a Context, runs the application's render function
// (which registers components and sources through the Scope it receives, and
// streams the initial markup to the caller's sink), then publishes the
// Context into the Directory. When the client opens a transport connection,
// buffered updates flush and each further source emission is rendered into a
// patch and written to the transport. Client events flow the other way into
// registered callbacks.
//
// Each browser tab maps to exactly one Context. Contexts are isolated from
// each other; the Directory is the only process-wide shared state.
package live
