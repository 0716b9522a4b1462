// Package pipeline turns a request template plus input values into a chain
// of derived artifacts: context, match, preview, outbound request, inbound
// response, and final result. Each artifact is an independently awaitable
// handle; a stage computes at most once per pipeline instance, on first
// access, and every later access through any path returns the same
// underlying deferred result.
//
// The six stage functions themselves are supplied by the host application;
// this package owns their ordering, memoization, failure routing, and the
// causal-dependency metadata attached to settled stages.
package pipeline
