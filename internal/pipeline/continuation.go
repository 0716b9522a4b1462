package pipeline

import (
	"context"

	"github.com/vk/reqrelay/internal/causal"
)

// Continuation is a handle to one stage's deferred result that also exposes
// accessors to every sibling stage's continuation on the same pipeline
// instance. Reading a sibling accessor lazily triggers (and memoizes) that
// stage the first time, so forward and backward navigation never spawns an
// independent pipeline.
type Continuation struct {
	p     *Pipeline
	stage Stage
}

// Result is one settled stage value together with the dependencies its
// computation observed through the causal tracker. Dependencies is ordered
// by await order, not by real completion time.
type Result struct {
	Value        any
	Dependencies []any
}

// Stage reports which stage this continuation belongs to.
func (c *Continuation) Stage() Stage {
	return c.stage
}

// Trace returns the correlation identifier of the underlying instance.
func (c *Continuation) Trace() int64 {
	return c.p.trace
}

// Await blocks until the continuation's stage settles. A stage failure
// surfaces here on every continuation chained from it, carrying the error
// the hook (if any) substituted at the point of origin.
func (c *Continuation) Await(ctx context.Context) (Result, error) {
	_, out, err := causal.Await(ctx, c.p.task(ctx, c.stage))
	if err != nil {
		return Result{}, err
	}
	return Result{Value: out.value, Dependencies: out.deps}, nil
}

// Settled reports whether the stage has already settled. It never triggers
// the stage.
func (c *Continuation) Settled() bool {
	switch c.stage {
	case StageInit:
		return settled(c.p.init.task)
	case StageMatch:
		return settled(c.p.match.task)
	case StagePreview:
		return settled(c.p.preview.task)
	case StageRender:
		return settled(c.p.render.task)
	case StageFetch:
		return settled(c.p.fetch.task)
	default:
		return settled(c.p.process.task)
	}
}

func settled(t *causal.Task[outcome]) bool {
	return t != nil && t.Settled()
}

func (c *Continuation) sibling(ctx context.Context, stage Stage) *Continuation {
	c.p.task(ctx, stage)
	return &Continuation{p: c.p, stage: stage}
}

// Init returns the init continuation of the same instance.
func (c *Continuation) Init(ctx context.Context) *Continuation {
	return c.sibling(ctx, StageInit)
}

// Match returns the match continuation of the same instance.
func (c *Continuation) Match(ctx context.Context) *Continuation {
	return c.sibling(ctx, StageMatch)
}

// Preview returns the preview continuation of the same instance.
func (c *Continuation) Preview(ctx context.Context) *Continuation {
	return c.sibling(ctx, StagePreview)
}

// Render returns the render continuation of the same instance.
func (c *Continuation) Render(ctx context.Context) *Continuation {
	return c.sibling(ctx, StageRender)
}

// Fetch returns the fetch continuation of the same instance.
func (c *Continuation) Fetch(ctx context.Context) *Continuation {
	return c.sibling(ctx, StageFetch)
}

// Process returns the process continuation of the same instance.
func (c *Continuation) Process(ctx context.Context) *Continuation {
	return c.sibling(ctx, StageProcess)
}

// Reprocess reinterprets an already-fetched response under a different
// derivation context without resending anything. It resolves the original
// context, shallow-merges partial over it, re-runs match (only) against the
// merged context, then re-runs process with the original render output, the
// original fetch output, and the fresh match result. Match and process
// deliberately bypass the memoization slots; render and fetch are never
// re-executed.
func (c *Continuation) Reprocess(ctx context.Context, partial map[string]any) (Result, error) {
	p := c.p
	task := causal.Shared(context.WithoutCancel(ctx), func(ctx context.Context) (outcome, error) {
		ctx, base, err := causal.Await(ctx, p.initTask(ctx))
		if err != nil {
			return outcome{}, err
		}
		merged, err := mergeContext(base.value, partial)
		if err != nil {
			return outcome{}, err
		}

		min := MatchInput{Context: merged}
		matchVal, err := p.runner.execute(ctx, p.trace, StageMatch, min, func(ctx context.Context) (any, error) {
			return p.runner.stages.Match(ctx, min)
		})
		if err != nil {
			return outcome{}, err
		}

		ctx, out, err := causal.Await(ctx, p.renderTask(ctx))
		if err != nil {
			return outcome{}, err
		}
		ctx, in, err := causal.Await(ctx, p.fetchTask(ctx))
		if err != nil {
			return outcome{}, err
		}

		pin := ProcessInput{Context: merged, Match: matchVal, Outbound: out.value, Inbound: in.value}
		return p.runStage(ctx, StageProcess, pin, func(ctx context.Context) (any, error) {
			return p.runner.stages.Process(ctx, pin)
		})
	})

	_, out, err := causal.Await(ctx, task)
	if err != nil {
		return Result{}, err
	}
	return Result{Value: out.value, Dependencies: out.deps}, nil
}
