// Package app wires the application together: logger, transport registry,
// grid loading, and the session run. It owns no request semantics of its
// own.
package app
