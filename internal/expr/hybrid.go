package expr

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/l0p7/addrnorm/internal/templates"
)

// Hybrid is a compiled expression that is either a Go template (when the
// source contains "{{") or a CEL program.
type Hybrid struct {
	source   string
	program  *Program
	template *templates.Template
}

// HybridEvaluator compiles expressions that may be written as CEL or as Go
// templates.
type HybridEvaluator struct {
	celEnv   *Environment
	renderer *templates.Renderer
}

// NewHybridEvaluator creates an evaluator that supports both CEL and templates.
func NewHybridEvaluator(renderer *templates.Renderer) (*HybridEvaluator, error) {
	celEnv, err := NewEnvironment()
	if err != nil {
		return nil, fmt.Errorf("hybrid: create CEL environment: %w", err)
	}
	if renderer == nil {
		renderer = templates.NewRenderer()
	}
	return &HybridEvaluator{
		celEnv:   celEnv,
		renderer: renderer,
	}, nil
}

// Environment exposes the CEL environment shared with boolean filters.
func (h *HybridEvaluator) Environment() *Environment { return h.celEnv }

// Compile detects the expression kind and compiles it once. A blank
// expression yields a nil Hybrid.
func (h *HybridEvaluator) Compile(name, expression string) (*Hybrid, error) {
	trimmed := strings.TrimSpace(expression)
	if trimmed == "" {
		return nil, nil
	}
	if strings.Contains(trimmed, "{{") {
		tmpl, err := h.renderer.CompileInline(name, trimmed)
		if err != nil {
			return nil, fmt.Errorf("hybrid: compile template: %w", err)
		}
		return &Hybrid{source: trimmed, template: tmpl}, nil
	}
	prog, err := h.celEnv.CompileValue(trimmed)
	if err != nil {
		return nil, fmt.Errorf("hybrid: compile CEL: %w", err)
	}
	return &Hybrid{source: trimmed, program: &prog}, nil
}

// Evaluate executes the compiled expression against data. Templates always
// produce a string; CEL programs produce whatever value the expression yields.
func (h *Hybrid) Evaluate(data map[string]any) (any, error) {
	if h == nil {
		return nil, fmt.Errorf("hybrid: nil expression")
	}
	if h.template != nil {
		result, err := h.template.Render(data)
		if err != nil {
			return "", fmt.Errorf("hybrid: render template: %w", err)
		}
		return result, nil
	}
	result, err := h.program.Eval(data)
	if err != nil {
		return nil, fmt.Errorf("hybrid: evaluate CEL: %w", err)
	}
	return result, nil
}

// IsTemplate reports whether the expression was compiled as a Go template.
func (h *Hybrid) IsTemplate() bool { return h != nil && h.template != nil }

// Source returns the trimmed expression text.
func (h *Hybrid) Source() string {
	if h == nil {
		return ""
	}
	return h.source
}

// RequestContext builds the request portion of an activation:
// - CEL: request.method, request.path, request.headers["name"], request.query["param"]
// - Template: {{ .request.path }}, {{ .request.query.city }}
func RequestContext(r *http.Request) map[string]any {
	headers := make(map[string]string, len(r.Header))
	for key, values := range r.Header {
		if len(values) > 0 {
			headers[strings.ToLower(key)] = values[0]
		}
	}

	query := make(map[string]string)
	for key, values := range r.URL.Query() {
		if len(values) > 0 {
			query[key] = values[0]
		}
	}

	return map[string]any{
		"remoteAddr": r.RemoteAddr,
		"method":     r.Method,
		"path":       r.URL.Path,
		"headers":    headers,
		"query":      query,
	}
}
