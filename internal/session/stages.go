package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vk/reqrelay/internal/causal"
	"github.com/vk/reqrelay/internal/ctxlog"
	"github.com/vk/reqrelay/internal/model"
	"github.com/vk/reqrelay/internal/pipeline"

	"github.com/zclconf/go-cty/cty"
)

// stageInit builds the derivation context for one request: a flat,
// mergeable map so Reprocess can overlay partial contexts over it.
func (s *Session) stageInit(ctx context.Context, input any) (any, error) {
	name, ok := input.(string)
	if !ok {
		return nil, fmt.Errorf("session: pipeline input must be a request name, got %T", input)
	}
	u, ok := s.units[name]
	if !ok {
		return nil, fmt.Errorf("session: unknown request %q", name)
	}

	base := map[string]any{
		"request":   name,
		"transport": u.req.Transport,
	}
	if len(u.req.ExpectStatus) == 2 {
		base["expect_status"] = []int{u.req.ExpectStatus[0], u.req.ExpectStatus[1]}
	} else {
		base["expect_status"] = []int{200, 299}
	}
	if u.req.SocketIO != nil {
		base["on_event"] = u.req.SocketIO.OnEvent
	}
	return base, nil
}

// stageMatch selects the derivation profile from the (possibly merged)
// context.
func (s *Session) stageMatch(ctx context.Context, in pipeline.MatchInput) (any, error) {
	base, ok := in.Context.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("session: context must be a map, got %T", in.Context)
	}

	profile := &model.Profile{}
	if raw, ok := base["expect_status"]; ok {
		low, high, err := statusRange(raw)
		if err != nil {
			return nil, err
		}
		profile.StatusLow, profile.StatusHigh = low, high
	} else {
		profile.StatusLow, profile.StatusHigh = 200, 299
	}
	if event, ok := base["on_event"].(string); ok {
		profile.OnEvent = event
	}
	return profile, nil
}

// stagePreview renders a human-readable approximation of the request
// without resolving references: every referenced result evaluates as
// unknown, so the preview never blocks on (or triggers) other pipelines.
func (s *Session) stagePreview(ctx context.Context, in pipeline.PreviewInput) (any, error) {
	u, err := s.unitFor(in.Context)
	if err != nil {
		return nil, err
	}

	evalCtx := s.previewEvalContext()
	method := "GET"
	if u.req.Method != nil {
		if v, diags := u.req.Method.Value(evalCtx); !diags.HasErrors() && v.IsKnown() && v.Type() == cty.String && !v.IsNull() {
			method = v.AsString()
		}
	}
	url := "<unresolved>"
	if v, diags := u.req.URL.Value(evalCtx); !diags.HasErrors() && v.IsKnown() && v.Type() == cty.String && !v.IsNull() {
		url = v.AsString()
	}
	return fmt.Sprintf("%s %s", strings.ToUpper(method), url), nil
}

// stageRender materializes the outbound request. References to other
// requests are resolved by awaiting their pipelines; each awaited request
// is also tracked as an explicit dependency value for visualization.
func (s *Session) stageRender(ctx context.Context, in pipeline.RenderInput) (any, error) {
	u, err := s.unitFor(in.Context)
	if err != nil {
		return nil, err
	}
	<-s.ready

	refs := u.req.References()
	resolved := make(map[string]cty.Value, len(refs))
	for _, ref := range refs {
		dep := s.units[ref]
		res, err := dep.cont.Await(ctx)
		if err != nil {
			return nil, fmt.Errorf("request %q depends on %q, which failed: %w", u.req.Name, ref, err)
		}
		causal.Track(ctx, model.Dependency{Request: ref, Trace: dep.cont.Trace()})
		resolved[ref] = outcomeValue(res.Value.(*model.Outcome))
	}

	evalCtx := s.evalContext(resolved)

	method := "GET"
	if u.req.Method != nil {
		m, err := evalString(u.req.Method, evalCtx)
		if err != nil {
			return nil, fmt.Errorf("request %q: method: %w", u.req.Name, err)
		}
		method = m
	}
	url, err := evalString(u.req.URL, evalCtx)
	if err != nil {
		return nil, fmt.Errorf("request %q: url: %w", u.req.Name, err)
	}
	headers, err := evalHeaders(u.req.Headers, evalCtx)
	if err != nil {
		return nil, fmt.Errorf("request %q: headers: %w", u.req.Name, err)
	}
	body := ""
	if u.req.Body != nil {
		body, err = evalString(u.req.Body, evalCtx)
		if err != nil {
			return nil, fmt.Errorf("request %q: body: %w", u.req.Name, err)
		}
	}

	out := &model.Outbound{
		Request:   u.req.Name,
		Transport: u.req.Transport,
		Method:    strings.ToUpper(method),
		URL:       url,
		Headers:   headers,
		Body:      body,
	}
	if sio := u.req.SocketIO; sio != nil {
		out.SocketIO = &model.SocketIOOptions{
			Namespace:          sio.Namespace,
			EmitEvent:          sio.EmitEvent,
			OnEvent:            sio.OnEvent,
			Timeout:            sio.Timeout,
			InsecureSkipVerify: sio.InsecureSkipVerify,
		}
	}
	return out, nil
}

// stageFetch sends the outbound request over its transport.
func (s *Session) stageFetch(ctx context.Context, in pipeline.FetchInput) (any, error) {
	out, ok := in.Outbound.(*model.Outbound)
	if !ok {
		return nil, fmt.Errorf("session: outbound must be *model.Outbound, got %T", in.Outbound)
	}

	fetcher, err := s.registry.Fetcher(out.Transport)
	if err != nil {
		return nil, err
	}

	logger := ctxlog.FromContext(ctx)
	logger.Info("Sending request.", "request", out.Request, "transport", out.Transport, "method", out.Method, "url", out.URL)
	inbound, err := fetcher.Fetch(ctx, out)
	if err != nil {
		return nil, err
	}
	logger.Info("Received response.", "request", out.Request, "status", inbound.Status, "duration", inbound.Duration)
	return inbound, nil
}

// stageProcess interprets the inbound response under the match profile.
func (s *Session) stageProcess(ctx context.Context, in pipeline.ProcessInput) (any, error) {
	profile, ok := in.Match.(*model.Profile)
	if !ok {
		return nil, fmt.Errorf("session: match must be *model.Profile, got %T", in.Match)
	}
	inbound, ok := in.Inbound.(*model.Inbound)
	if !ok {
		return nil, fmt.Errorf("session: inbound must be *model.Inbound, got %T", in.Inbound)
	}

	outcome := &model.Outcome{
		Status: inbound.Status,
		Body:   inbound.Body,
		Event:  inbound.Event,
		Data:   inbound.Data,
	}
	if base, ok := in.Context.(map[string]any); ok {
		outcome.Request, _ = base["request"].(string)
	}

	if profile.OnEvent != "" {
		outcome.OK = inbound.Event == profile.OnEvent
		if !outcome.OK {
			outcome.Reason = fmt.Sprintf("expected event %q, got %q", profile.OnEvent, inbound.Event)
		}
	} else {
		outcome.OK = inbound.Status >= profile.StatusLow && inbound.Status <= profile.StatusHigh
		if !outcome.OK {
			outcome.Reason = fmt.Sprintf("status %d outside %d..%d", inbound.Status, profile.StatusLow, profile.StatusHigh)
		}
	}

	if outcome.Data == nil && looksLikeJSON(inbound.Body) {
		var data any
		if err := json.Unmarshal([]byte(inbound.Body), &data); err == nil {
			outcome.Data = data
		}
	}
	return outcome, nil
}

func (s *Session) unitFor(contextVal any) (*unit, error) {
	base, ok := contextVal.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("session: context must be a map, got %T", contextVal)
	}
	name, _ := base["request"].(string)
	u, ok := s.units[name]
	if !ok {
		return nil, fmt.Errorf("session: context names unknown request %q", name)
	}
	return u, nil
}

// statusRange accepts the [low, high] pair in the shapes it can take after
// HCL decoding or a Reprocess merge.
func statusRange(raw any) (int, int, error) {
	toInt := func(v any) (int, bool) {
		switch n := v.(type) {
		case int:
			return n, true
		case int64:
			return int(n), true
		case float64:
			return int(n), true
		default:
			return 0, false
		}
	}

	switch pair := raw.(type) {
	case []int:
		if len(pair) == 2 {
			return pair[0], pair[1], nil
		}
	case []any:
		if len(pair) == 2 {
			low, okL := toInt(pair[0])
			high, okH := toInt(pair[1])
			if okL && okH {
				return low, high, nil
			}
		}
	}
	return 0, 0, fmt.Errorf("session: expect_status must be a [low, high] pair, got %v", raw)
}

func looksLikeJSON(body string) bool {
	trimmed := strings.TrimSpace(body)
	return strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[")
}
