package session

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	ctyjson "github.com/zclconf/go-cty/cty/json"

	"github.com/vk/reqrelay/internal/model"
)

// evalContext builds the evaluation scope for rendering: resolved request
// results plus the process environment.
func (s *Session) evalContext(requests map[string]cty.Value) *hcl.EvalContext {
	vars := map[string]cty.Value{"env": envValue()}
	if len(requests) > 0 {
		vars["request"] = cty.ObjectVal(requests)
	}
	return &hcl.EvalContext{Variables: vars}
}

// previewEvalContext is the render scope with every request result
// unknown, so previews evaluate without blocking on other pipelines.
func (s *Session) previewEvalContext() *hcl.EvalContext {
	return &hcl.EvalContext{Variables: map[string]cty.Value{
		"env":     envValue(),
		"request": cty.DynamicVal,
	}}
}

func envValue() cty.Value {
	env := make(map[string]cty.Value)
	for _, entry := range os.Environ() {
		if key, value, ok := strings.Cut(entry, "="); ok && key != "" {
			env[key] = cty.StringVal(value)
		}
	}
	if len(env) == 0 {
		return cty.EmptyObjectVal
	}
	return cty.ObjectVal(env)
}

// outcomeValue exposes a completed request's outcome to referencing
// expressions as `request.<name>`.
func outcomeValue(o *model.Outcome) cty.Value {
	attrs := map[string]cty.Value{
		"ok":     cty.BoolVal(o.OK),
		"status": cty.NumberIntVal(int64(o.Status)),
		"body":   cty.StringVal(o.Body),
		"event":  cty.StringVal(o.Event),
	}
	if o.Data != nil {
		if v, err := dataValue(o.Data); err == nil {
			attrs["data"] = v
		}
	}
	return cty.ObjectVal(attrs)
}

// dataValue round-trips decoded JSON through cty's JSON typing so nested
// response data is traversable from HCL expressions.
func dataValue(data any) (cty.Value, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return cty.NilVal, err
	}
	typ, err := ctyjson.ImpliedType(raw)
	if err != nil {
		return cty.NilVal, err
	}
	return ctyjson.Unmarshal(raw, typ)
}

func evalString(expr hcl.Expression, evalCtx *hcl.EvalContext) (string, error) {
	v, diags := expr.Value(evalCtx)
	if diags.HasErrors() {
		return "", diags
	}
	v, err := convert.Convert(v, cty.String)
	if err != nil {
		return "", err
	}
	if v.IsNull() || !v.IsKnown() {
		return "", fmt.Errorf("expression did not produce a definite string")
	}
	return v.AsString(), nil
}

func evalHeaders(expr hcl.Expression, evalCtx *hcl.EvalContext) (map[string]string, error) {
	if expr == nil {
		return nil, nil
	}
	v, diags := expr.Value(evalCtx)
	if diags.HasErrors() {
		return nil, diags
	}
	if v.IsNull() {
		return nil, nil
	}
	if !v.Type().IsObjectType() && !v.Type().IsMapType() {
		return nil, fmt.Errorf("headers must be a map of strings, got %s", v.Type().FriendlyName())
	}

	headers := make(map[string]string)
	for key, value := range v.AsValueMap() {
		value, err := convert.Convert(value, cty.String)
		if err != nil {
			return nil, fmt.Errorf("header %q: %w", key, err)
		}
		if value.IsNull() || !value.IsKnown() {
			return nil, fmt.Errorf("header %q did not produce a definite string", key)
		}
		headers[key] = value.AsString()
	}
	return headers, nil
}
