package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/vk/reqrelay/internal/causal"
)

// traceCounter hands out the numeric identifier correlating one pipeline
// instance with external history and visualization tooling.
var traceCounter atomic.Int64

// Runner is the factory for pipeline instances. Its entry points each start
// one fresh instance and return the continuation for the requested stage.
type Runner struct {
	stages Stages
	hook   ErrorHook
}

// Option configures a Runner.
type Option func(*Runner)

// WithErrorHook installs the hook consulted on every originating stage
// failure.
func WithErrorHook(h ErrorHook) Option {
	return func(r *Runner) { r.hook = h }
}

// New validates the stage bundle and returns a Runner.
func New(stages Stages, opts ...Option) (*Runner, error) {
	if err := stages.validate(); err != nil {
		return nil, err
	}
	r := &Runner{stages: stages}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// outcome is what a stage task settles with: the stage value plus the
// dependency set the computation observed through the causal tracker.
type outcome struct {
	value any
	deps  []any
}

// slot is one memoization cell: the stage computation starts at most once
// per pipeline instance, on first access through any path, and every later
// access returns the same deferred result.
type slot struct {
	once sync.Once
	task *causal.Task[outcome]
}

// get starts the slot's computation on first access. The computation runs
// under causal.Shared so the triggering caller's ambient context cannot
// leak into later consumers, and without the caller's cancellation: once a
// stage starts it runs to completion.
func (s *slot) get(ctx context.Context, fn func(context.Context) (outcome, error)) *causal.Task[outcome] {
	s.once.Do(func() {
		s.task = causal.Shared(context.WithoutCancel(ctx), fn)
	})
	return s.task
}

// Pipeline is one ephemeral instance: the original input value plus the six
// memoization slots. Instances are created by a Runner entry point and
// garbage-collected once no continuation referencing them survives.
type Pipeline struct {
	runner *Runner
	input  any
	trace  int64

	init    slot
	match   slot
	preview slot
	render  slot
	fetch   slot
	process slot
}

func (r *Runner) newPipeline(input any) *Pipeline {
	return &Pipeline{runner: r, input: input, trace: traceCounter.Add(1)}
}

// Trace returns the instance's correlation identifier.
func (p *Pipeline) Trace() int64 {
	return p.trace
}

// runStage executes one stage function through the error hook wrapper and,
// on success, captures the causal dependency set observed so far by the
// stage's computation.
func (p *Pipeline) runStage(ctx context.Context, stage Stage, input any, fn func(context.Context) (any, error)) (outcome, error) {
	value, err := p.runner.execute(ctx, p.trace, stage, input, fn)
	if err != nil {
		return outcome{}, err
	}
	return outcome{value: value, deps: causal.Awaited(ctx)}, nil
}

func (p *Pipeline) initTask(ctx context.Context) *causal.Task[outcome] {
	return p.init.get(ctx, func(ctx context.Context) (outcome, error) {
		return p.runStage(ctx, StageInit, p.input, func(ctx context.Context) (any, error) {
			return p.runner.stages.Init(ctx, p.input)
		})
	})
}

func (p *Pipeline) matchTask(ctx context.Context) *causal.Task[outcome] {
	init := p.initTask(ctx)
	return p.match.get(ctx, func(ctx context.Context) (outcome, error) {
		ctx, base, err := causal.Await(ctx, init)
		if err != nil {
			return outcome{}, err
		}
		in := MatchInput{Context: base.value}
		return p.runStage(ctx, StageMatch, in, func(ctx context.Context) (any, error) {
			return p.runner.stages.Match(ctx, in)
		})
	})
}

// previewTask branches from match only. It neither blocks nor is blocked by
// render, fetch, or process.
func (p *Pipeline) previewTask(ctx context.Context) *causal.Task[outcome] {
	init := p.initTask(ctx)
	match := p.matchTask(ctx)
	return p.preview.get(ctx, func(ctx context.Context) (outcome, error) {
		ctx, base, err := causal.Await(ctx, init)
		if err != nil {
			return outcome{}, err
		}
		ctx, m, err := causal.Await(ctx, match)
		if err != nil {
			return outcome{}, err
		}
		in := PreviewInput{Context: base.value, Match: m.value}
		return p.runStage(ctx, StagePreview, in, func(ctx context.Context) (any, error) {
			return p.runner.stages.Preview(ctx, in)
		})
	})
}

func (p *Pipeline) renderTask(ctx context.Context) *causal.Task[outcome] {
	init := p.initTask(ctx)
	match := p.matchTask(ctx)
	return p.render.get(ctx, func(ctx context.Context) (outcome, error) {
		ctx, base, err := causal.Await(ctx, init)
		if err != nil {
			return outcome{}, err
		}
		ctx, m, err := causal.Await(ctx, match)
		if err != nil {
			return outcome{}, err
		}
		in := RenderInput{Context: base.value, Match: m.value}
		return p.runStage(ctx, StageRender, in, func(ctx context.Context) (any, error) {
			return p.runner.stages.Render(ctx, in)
		})
	})
}

func (p *Pipeline) fetchTask(ctx context.Context) *causal.Task[outcome] {
	init := p.initTask(ctx)
	match := p.matchTask(ctx)
	render := p.renderTask(ctx)
	return p.fetch.get(ctx, func(ctx context.Context) (outcome, error) {
		ctx, base, err := causal.Await(ctx, init)
		if err != nil {
			return outcome{}, err
		}
		ctx, m, err := causal.Await(ctx, match)
		if err != nil {
			return outcome{}, err
		}
		ctx, out, err := causal.Await(ctx, render)
		if err != nil {
			return outcome{}, err
		}
		in := FetchInput{Context: base.value, Match: m.value, Outbound: out.value}
		result, err := p.runStage(ctx, StageFetch, in, func(ctx context.Context) (any, error) {
			return p.runner.stages.Fetch(ctx, in)
		})
		if err != nil {
			return outcome{}, err
		}
		// Process piggybacks on the fetch computation: by the time a fetch
		// continuation settles successfully, process has been scheduled
		// without further caller action.
		p.processTask(ctx)
		return result, nil
	})
}

func (p *Pipeline) processTask(ctx context.Context) *causal.Task[outcome] {
	init := p.initTask(ctx)
	match := p.matchTask(ctx)
	render := p.renderTask(ctx)
	fetch := p.fetchTask(ctx)
	return p.process.get(ctx, func(ctx context.Context) (outcome, error) {
		ctx, base, err := causal.Await(ctx, init)
		if err != nil {
			return outcome{}, err
		}
		ctx, m, err := causal.Await(ctx, match)
		if err != nil {
			return outcome{}, err
		}
		ctx, out, err := causal.Await(ctx, render)
		if err != nil {
			return outcome{}, err
		}
		ctx, in, err := causal.Await(ctx, fetch)
		if err != nil {
			return outcome{}, err
		}
		pin := ProcessInput{Context: base.value, Match: m.value, Outbound: out.value, Inbound: in.value}
		return p.runStage(ctx, StageProcess, pin, func(ctx context.Context) (any, error) {
			return p.runner.stages.Process(ctx, pin)
		})
	})
}

func (p *Pipeline) task(ctx context.Context, stage Stage) *causal.Task[outcome] {
	switch stage {
	case StageInit:
		return p.initTask(ctx)
	case StageMatch:
		return p.matchTask(ctx)
	case StagePreview:
		return p.previewTask(ctx)
	case StageRender:
		return p.renderTask(ctx)
	case StageFetch:
		return p.fetchTask(ctx)
	case StageProcess:
		return p.processTask(ctx)
	default:
		panic(fmt.Sprintf("pipeline: unknown stage %q", stage))
	}
}

// mergeContext shallow-merges partial over base. The base context must be a
// map[string]any (or nil); reinterpreting any other context shape is
// refused rather than guessed at.
func mergeContext(base any, partial map[string]any) (any, error) {
	if len(partial) == 0 {
		return base, nil
	}
	switch b := base.(type) {
	case nil:
		merged := make(map[string]any, len(partial))
		for k, v := range partial {
			merged[k] = v
		}
		return merged, nil
	case map[string]any:
		merged := make(map[string]any, len(b)+len(partial))
		for k, v := range b {
			merged[k] = v
		}
		for k, v := range partial {
			merged[k] = v
		}
		return merged, nil
	default:
		return nil, fmt.Errorf("pipeline: context of type %T cannot be merged for reprocessing", base)
	}
}

// Entry points. Each starts one fresh pipeline instance, triggers the
// requested stage's dependency chain, and returns only that stage's
// continuation; every sibling stage remains reachable through the
// continuation's accessors without spawning an independent pipeline.

// Init starts a fresh instance and returns its init continuation.
func (r *Runner) Init(ctx context.Context, input any) *Continuation {
	return r.enter(ctx, input, StageInit)
}

// Match starts a fresh instance and returns its match continuation.
func (r *Runner) Match(ctx context.Context, input any) *Continuation {
	return r.enter(ctx, input, StageMatch)
}

// Preview starts a fresh instance and returns its preview continuation.
func (r *Runner) Preview(ctx context.Context, input any) *Continuation {
	return r.enter(ctx, input, StagePreview)
}

// Render starts a fresh instance and returns its render continuation.
func (r *Runner) Render(ctx context.Context, input any) *Continuation {
	return r.enter(ctx, input, StageRender)
}

// Fetch starts a fresh instance and returns its fetch continuation.
func (r *Runner) Fetch(ctx context.Context, input any) *Continuation {
	return r.enter(ctx, input, StageFetch)
}

// Process starts a fresh instance and returns its process continuation.
func (r *Runner) Process(ctx context.Context, input any) *Continuation {
	return r.enter(ctx, input, StageProcess)
}

func (r *Runner) enter(ctx context.Context, input any, stage Stage) *Continuation {
	p := r.newPipeline(input)
	p.task(ctx, stage)
	return &Continuation{p: p, stage: stage}
}
