// Package session runs a loaded grid of request templates, one pipeline
// instance per request. A request's expressions may reference other
// requests' results; the session resolves such references by awaiting the
// referenced pipeline through the causal tracker, so the dependency set
// reported for a request is exactly what its rendering actually consumed,
// not what its configuration merely mentions.
package session
