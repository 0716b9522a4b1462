package causal

import "sync"

// node is one vertex of the causality graph. It records the values tracked
// while its computation runs plus two parent links: the node that was active
// when this one was created (init parent) and the node of the computation
// this one's body is chained from (trigger parent).
type node struct {
	mu     sync.Mutex
	values []any

	// init is fixed at creation. trigger is written at most once, when the
	// continuation is chained from an awaited computation.
	init    *node
	trigger *node

	// barrier marks a node created by Disconnected. Traversal never crosses
	// a trigger edge into a barrier node, so values tracked inside it stay
	// invisible to consumers of its result.
	barrier bool
}

func newNode(init *node) *node {
	return &node{init: init}
}

// track appends v to the node's ordered value list.
func (n *node) track(v any) {
	n.mu.Lock()
	n.values = append(n.values, v)
	n.mu.Unlock()
}

// setTrigger records the trigger parent. The link is write-once; a second
// call for the same node is a programming error in this package.
func (n *node) setTrigger(t *node) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.trigger != nil {
		panic("causal: trigger parent already set")
	}
	n.trigger = t
}

// snapshot returns the parents and a copy of the tracked values under lock.
func (n *node) snapshot() (init, trigger *node, values []any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	values = make([]any, len(n.values))
	copy(values, n.values)
	return n.init, n.trigger, values
}

// collect walks the graph depth-first, init parent before trigger parent,
// appending each node's own values last. Deduplication is by node identity.
// The resulting order puts values from earlier-awaited computations before
// later ones, mirroring lexical await order rather than real completion
// time.
func collect(n *node, seen map[*node]bool, out *[]any) {
	if n == nil || seen[n] {
		return
	}
	seen[n] = true

	init, trigger, values := n.snapshot()
	collect(init, seen, out)
	if trigger != nil && !trigger.barrier {
		collect(trigger, seen, out)
	}
	*out = append(*out, values...)
}

// awaited computes the ordered, deduplicated value set reachable from n.
func (n *node) awaited() []any {
	var out []any
	collect(n, make(map[*node]bool), &out)
	return out
}
