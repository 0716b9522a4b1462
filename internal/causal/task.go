package causal

import "context"

// Task is the deferred result of one tracked computation. It settles exactly
// once; any number of consumers may Await it.
type Task[T any] struct {
	done chan struct{}
	val  T
	err  error

	// final is the node the computation's cell pointed at when its body
	// returned. Consumers chain their continuation from this node, which is
	// how values awaited inside the body stay reachable from outside.
	final *node
}

func start[T any](ctx context.Context, root *node, fn func(context.Context) (T, error)) *Task[T] {
	c := &cell{n: root, barrier: root.barrier}
	t := &Task[T]{done: make(chan struct{})}
	go func() {
		t.val, t.err = fn(withCell(ctx, c))
		t.final = c.n
		close(t.done)
	}()
	return t
}

func currentNode(ctx context.Context) *node {
	if c := cellFrom(ctx); c != nil {
		return c.n
	}
	return nil
}

// Start runs fn as a new tracked computation whose init parent is the node
// active in ctx. The body begins on its own goroutine, so attribution of
// tracked values switches to the new node at the spawn boundary, never
// inside the caller.
func Start[T any](ctx context.Context, fn func(context.Context) (T, error)) *Task[T] {
	return start(ctx, newNode(currentNode(ctx)), fn)
}

// Shared runs fn in a node with no init parent. Use it to wrap a memoized
// computation that will be consumed from several places: without the cut,
// the ambient context of whichever caller happened to trigger the
// computation first would leak into every later consumer's Awaited set.
func Shared[T any](ctx context.Context, fn func(context.Context) (T, error)) *Task[T] {
	return start(ctx, newNode(nil), fn)
}

// Disconnected runs fn behind a one-way firewall: values tracked inside fn
// remain visible to fn's own Awaited calls but are never exposed to
// consumers of the task's result. This bounds graph growth across long
// batches; it is a memory-management tool, not a correctness one.
func Disconnected[T any](ctx context.Context, fn func(context.Context) (T, error)) *Task[T] {
	n := newNode(currentNode(ctx))
	n.barrier = true
	return start(ctx, n, fn)
}

// Await blocks until t settles, then records the suspension in the calling
// computation: the current node is replaced by a continuation whose init
// parent is the previous current node and whose trigger parent is t's final
// node. The returned context is the one to continue with; from an untracked
// context Await degrades to a plain wait.
func Await[T any](ctx context.Context, t *Task[T]) (context.Context, T, error) {
	select {
	case <-t.done:
	case <-ctx.Done():
		var zero T
		return ctx, zero, ctx.Err()
	}
	if c := cellFrom(ctx); c != nil {
		cont := newNode(c.n)
		cont.barrier = c.barrier
		cont.setTrigger(t.final)
		c.n = cont
	}
	return ctx, t.val, t.err
}

// Done returns a channel closed once the task has settled.
func (t *Task[T]) Done() <-chan struct{} {
	return t.done
}

// Settled reports whether the task has already settled.
func (t *Task[T]) Settled() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}
