// Package causal tracks causality across concurrently running computations.
// Every computation started through this package runs under its own graph
// node; values recorded with Track attach to the node whose computation is
// currently executing, and Awaited reconstructs the ordered set of values
// observed along every code path that was actually awaited to reach the
// current point, independent of wall-clock completion order.
//
// The "current node" travels in a context.Context rather than in global
// state, so the package is safe under Go's multi-goroutine scheduling as
// long as every tracked entry point is handed the context of the
// computation it runs in.
package causal
