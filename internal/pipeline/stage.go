package pipeline

import (
	"context"
	"fmt"

	"github.com/vk/reqrelay/internal/ctxlog"
)

// Stage names one of the six steps of the execution pipeline.
type Stage string

const (
	StageInit    Stage = "init"
	StageMatch   Stage = "match"
	StagePreview Stage = "preview"
	StageRender  Stage = "render"
	StageFetch   Stage = "fetch"
	StageProcess Stage = "process"
)

// MatchInput is the input record for the match stage.
type MatchInput struct {
	Context any
}

// PreviewInput is the input record for the preview stage.
type PreviewInput struct {
	Context any
	Match   any
}

// RenderInput is the input record for the render stage.
type RenderInput struct {
	Context any
	Match   any
}

// FetchInput is the input record for the fetch stage. Outbound is the
// render stage's result.
type FetchInput struct {
	Context  any
	Match    any
	Outbound any
}

// ProcessInput is the input record for the process stage. Inbound is the
// fetch stage's result.
type ProcessInput struct {
	Context  any
	Match    any
	Outbound any
	Inbound  any
}

// Stages bundles the six caller-supplied stage functions. All six are
// required; the pipeline decides when (and whether) each one runs.
type Stages struct {
	Init    func(ctx context.Context, input any) (any, error)
	Match   func(ctx context.Context, in MatchInput) (any, error)
	Preview func(ctx context.Context, in PreviewInput) (any, error)
	Render  func(ctx context.Context, in RenderInput) (any, error)
	Fetch   func(ctx context.Context, in FetchInput) (any, error)
	Process func(ctx context.Context, in ProcessInput) (any, error)
}

func (s Stages) validate() error {
	missing := ""
	switch {
	case s.Init == nil:
		missing = string(StageInit)
	case s.Match == nil:
		missing = string(StageMatch)
	case s.Preview == nil:
		missing = string(StagePreview)
	case s.Render == nil:
		missing = string(StageRender)
	case s.Fetch == nil:
		missing = string(StageFetch)
	case s.Process == nil:
		missing = string(StageProcess)
	}
	if missing != "" {
		return fmt.Errorf("pipeline: missing %s stage function", missing)
	}
	return nil
}

// ErrorHook observes every originating stage failure exactly once. It
// receives the failing stage's name and the partial input that stage was
// given. A non-nil return value replaces the failure reason; a nil return
// re-raises the original error. Downstream stages that never ran because an
// upstream dependency failed do not reach the hook.
type ErrorHook func(ctx context.Context, stage Stage, input any, err error) error

// execute invokes one stage function and routes a failure through the error
// hook before re-raising it. A failure here is terminal for the stage and
// for everything chained from it; nothing is retried.
func (r *Runner) execute(ctx context.Context, trace int64, stage Stage, input any, fn func(context.Context) (any, error)) (any, error) {
	logger := ctxlog.FromContext(ctx).With("stage", string(stage), "trace", trace)
	logger.Debug("Stage started.")

	value, err := fn(ctx)
	if err != nil {
		logger.Debug("Stage failed.", "error", err)
		if r.hook != nil {
			if substituted := r.hook(ctx, stage, input, err); substituted != nil {
				err = substituted
			}
		}
		return nil, err
	}

	logger.Debug("Stage settled.")
	return value, nil
}
