package planner

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/homelabops/orchestrator/internal/llm"
)

// stepRefPattern matches ${steps.<name>.output.<path>} references, the
// syntax spec §9's "dynamically-typed plan payloads" design note uses for
// inter-task data flow.
var stepRefPattern = regexp.MustCompile(`^\$\{steps\.([a-zA-Z0-9_]+)\.output\.(.+)\}$`)

// StepOutput is the prior task output available for resolution, keyed by
// task name (the planner's draft label, not the persisted task id).
type StepOutput map[string]interface{}

// Resolver binds ${steps.X.output.Y} parameter references to concrete
// values, trying structural auto-wiring first and falling back to a
// cheap LLM call only when the reference can't be resolved mechanically.
// Grounded in the teacher's orchestration/hybrid_resolver.go and
// auto_wire.go two-tier design.
type Resolver struct {
	gateway *llm.Gateway
	model   string
}

func NewResolver(gateway *llm.Gateway, model string) *Resolver {
	return &Resolver{gateway: gateway, model: model}
}

// Resolve walks a task's parameters, replacing any ${steps...} references
// it finds with values looked up in outputs. Values it cannot bind
// structurally are passed to the micro-resolver LLM call.
func (r *Resolver) Resolve(ctx context.Context, params map[string]interface{}, outputs map[string]StepOutput) (map[string]interface{}, error) {
	resolved := make(map[string]interface{}, len(params))
	for key, val := range params {
		str, ok := val.(string)
		if !ok {
			resolved[key] = val
			continue
		}
		match := stepRefPattern.FindStringSubmatch(str)
		if match == nil {
			resolved[key] = val
			continue
		}
		stepName, path := match[1], match[2]
		bound, ok := autoWire(outputs[stepName], path)
		if ok {
			resolved[key] = bound
			continue
		}
		if r.gateway == nil {
			return nil, fmt.Errorf("resolve %q: no structural binding and no LLM fallback configured", str)
		}
		bound, err := r.microResolve(ctx, str, outputs[stepName])
		if err != nil {
			return nil, fmt.Errorf("resolve %q: %w", str, err)
		}
		resolved[key] = bound
	}
	return resolved, nil
}

// autoWire walks a dotted path through a nested map/slice structure
// without invoking the LLM. Returns ok=false if any segment can't be
// navigated, signalling the caller to fall back to microResolve.
func autoWire(output StepOutput, path string) (interface{}, bool) {
	if output == nil {
		return nil, false
	}
	var cur interface{} = map[string]interface{}(output)
	for _, seg := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]interface{}:
			v, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case []interface{}:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			cur = node[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

// microResolve asks the LLM Gateway to bind a single unresolved reference
// using the raw prior-step output as context, for cases structural
// auto-wiring can't express (e.g. semantic extraction from free text).
func (r *Resolver) microResolve(ctx context.Context, reference string, output StepOutput) (string, error) {
	comp, err := r.gateway.Complete(ctx, r.model, []llm.Message{
		{Role: "system", Content: "Resolve the reference to a single value from the given step output. Respond with only the value."},
		{Role: "user", Content: fmt.Sprintf("reference: %s\noutput: %v", reference, output)},
	}, llm.Params{Temperature: 0, MaxTokens: 128})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(comp.Text), nil
}
