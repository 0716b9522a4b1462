package session

import (
	"context"
	"fmt"

	"github.com/vk/reqrelay/internal/causal"
	"github.com/vk/reqrelay/internal/ctxlog"
	"github.com/vk/reqrelay/internal/hclgrid"
	"github.com/vk/reqrelay/internal/model"
	"github.com/vk/reqrelay/internal/pipeline"
	"github.com/vk/reqrelay/internal/registry"
)

// Session executes every request of a grid through its own pipeline
// instance. Sessions are single-use.
type Session struct {
	grid     *hclgrid.Grid
	registry *registry.Registry
	runner   *pipeline.Runner
	units    map[string]*unit

	// ready is closed once every pipeline has been entered, so a render
	// resolving references never observes a half-built unit table.
	ready   chan struct{}
	started bool
}

// unit pairs one request template with its process continuation.
type unit struct {
	req  *hclgrid.Request
	cont *pipeline.Continuation
}

// Report is the session-level outcome of one request.
type Report struct {
	Request string
	Trace   int64
	Err     error
	Outcome *model.Outcome
	Depends []model.Dependency
}

// New validates the grid's reference structure and prepares a session.
func New(grid *hclgrid.Grid, reg *registry.Registry) (*Session, error) {
	s := &Session{
		grid:     grid,
		registry: reg,
		units:    make(map[string]*unit, len(grid.Requests)),
		ready:    make(chan struct{}),
	}

	for name, req := range grid.Requests {
		s.units[name] = &unit{req: req}
	}
	if err := s.validateReferences(); err != nil {
		return nil, err
	}

	runner, err := pipeline.New(pipeline.Stages{
		Init:    s.stageInit,
		Match:   s.stageMatch,
		Preview: s.stagePreview,
		Render:  s.stageRender,
		Fetch:   s.stageFetch,
		Process: s.stageProcess,
	}, pipeline.WithErrorHook(s.onStageFailure))
	if err != nil {
		return nil, err
	}
	s.runner = runner
	return s, nil
}

// onStageFailure logs every originating stage failure once. It never
// substitutes the error.
func (s *Session) onStageFailure(ctx context.Context, stage pipeline.Stage, input any, err error) error {
	ctxlog.FromContext(ctx).Error("Stage failed.", "stage", string(stage), "error", err)
	return nil
}

// validateReferences checks that every referenced request exists and that
// references form a DAG. Depth-first search with permanent and temporary
// marks, the same scheme the executor uses for its node graph.
func (s *Session) validateReferences() error {
	permanent := make(map[string]bool)
	temporary := make(map[string]bool)

	var visit func(name string) error
	visit = func(name string) error {
		if permanent[name] {
			return nil
		}
		if temporary[name] {
			return fmt.Errorf("reference cycle detected involving request %q", name)
		}
		temporary[name] = true

		for _, ref := range s.units[name].req.References() {
			if _, ok := s.units[ref]; !ok {
				return fmt.Errorf("request %q references unknown request %q", name, ref)
			}
			if err := visit(ref); err != nil {
				return err
			}
		}

		delete(temporary, name)
		permanent[name] = true
		return nil
	}

	for _, name := range s.grid.Names() {
		if err := visit(name); err != nil {
			return err
		}
	}
	return nil
}

// Run enters one pipeline per request, waits for every process result, and
// returns the per-request reports in declaration order. A request failure
// is reported, not returned; the error covers session-level misuse only.
func (s *Session) Run(ctx context.Context) ([]Report, error) {
	if s.started {
		return nil, fmt.Errorf("session: Run called twice")
	}
	s.started = true
	logger := ctxlog.FromContext(ctx)

	for _, name := range s.grid.Names() {
		s.units[name].cont = s.runner.Process(ctx, name)
	}
	close(s.ready)
	logger.Debug("All pipelines entered.", "count", len(s.units))

	reports := make([]Report, 0, len(s.units))
	for _, name := range s.grid.Names() {
		reports = append(reports, s.consume(ctx, s.units[name]))
	}
	return reports, nil
}

// Preview renders the preview line of one request on a fresh pipeline
// instance. Nothing is sent and no other pipeline is triggered, so Preview
// is usable before Run.
func (s *Session) Preview(ctx context.Context, name string) (string, error) {
	if _, ok := s.units[name]; !ok {
		return "", fmt.Errorf("session: unknown request %q", name)
	}
	res, err := s.runner.Preview(ctx, name).Await(ctx)
	if err != nil {
		return "", err
	}
	return res.Value.(string), nil
}

// consume awaits one unit's result behind a Disconnected boundary so a
// long batch does not keep every earlier request's tracked values
// reachable through the session's own node.
func (s *Session) consume(ctx context.Context, u *unit) Report {
	task := causal.Disconnected(ctx, func(ctx context.Context) (Report, error) {
		report := Report{Request: u.req.Name, Trace: u.cont.Trace()}
		res, err := u.cont.Await(ctx)
		if err != nil {
			report.Err = err
			return report, nil
		}
		report.Outcome = res.Value.(*model.Outcome)
		report.Depends = dependencies(res.Dependencies)
		return report, nil
	})

	_, report, err := causal.Await(ctx, task)
	if err != nil {
		return Report{Request: u.req.Name, Trace: u.cont.Trace(), Err: err}
	}
	return report
}

// dependencies filters the raw tracked values down to request
// dependencies.
func dependencies(tracked []any) []model.Dependency {
	var deps []model.Dependency
	for _, v := range tracked {
		if dep, ok := v.(model.Dependency); ok {
			deps = append(deps, dep)
		}
	}
	return deps
}
