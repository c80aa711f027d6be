// Package protocol defines the wire format between the live-view server and
// the client runtime.
//
// Outbound traffic is a JSON-encoded batch of patch records, one frame per
// batch. Inbound traffic is a callback invocation frame of the form
// "<id>:<json-array-of-args>", where a bare "<id>" means a zero-argument call.
// The same shapes are used over WebSocket, SSE, and the HTTP POST fallback;
// only the outer envelope differs per transport.
package protocol
