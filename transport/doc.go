// Package transport defines the boundary contract between the netops core and
// the underlying networking stack: a Session that creates Tasks, and a single
// session-wide Delegate sink that receives every event the session produces,
// tagged with the identifier of the task it belongs to.
//
// The package also ships HTTPSession, a net/http-backed Session implementation,
// so the library is usable without writing a transport adapter.
package transport
