package causal

import "context"

// key is an unexported type to prevent collisions with context keys from
// other packages.
type key struct{}

var cellKey = key{}

// cell holds the current node of one running computation. Await replaces
// the node in place at every suspension, so a computation's context always
// points at the node describing "everything awaited so far". Code within a
// single computation is sequential, which is what makes the in-place update
// safe; the cell is never shared between goroutines.
type cell struct {
	n *node

	// barrier is inherited by every continuation node of a Disconnected
	// computation so the firewall holds across internal suspensions.
	barrier bool
}

func withCell(ctx context.Context, c *cell) context.Context {
	return context.WithValue(ctx, cellKey, c)
}

func cellFrom(ctx context.Context) *cell {
	c, _ := ctx.Value(cellKey).(*cell)
	return c
}

// Track attaches v to the causal node of the currently running computation.
// Outside any tracked computation it is a silent no-op.
func Track(ctx context.Context, v any) {
	if c := cellFrom(ctx); c != nil {
		c.n.track(v)
	}
}

// Awaited returns the ordered, deduplicated values causally reachable from
// the current point: everything tracked on the code paths this computation
// actually awaited to get here, earliest-awaited first, then the values
// tracked since the last suspension. Outside any tracked computation it
// returns nil. Repeated calls without an intervening Await return the same
// set.
func Awaited(ctx context.Context) []any {
	c := cellFrom(ctx)
	if c == nil {
		return nil
	}
	return c.n.awaited()
}
