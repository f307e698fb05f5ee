package templates

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"text/template"

	sprig "github.com/Masterminds/sprig/v3"
)

// Renderer compiles inline label templates with the Sprig function set.
// Helpers that read the process environment or the filesystem are removed so
// operator-supplied templates can only see the data they are rendered with.
type Renderer struct {
	funcs template.FuncMap
}

// Template represents a compiled template ready for execution. Templates are
// safe for concurrent use.
type Template struct {
	name string
	tmpl *template.Template
}

var restricted = []string{
	"env",
	"expandenv",
	"readDir",
	"mustReadDir",
	"readFile",
	"mustReadFile",
	"glob",
}

// NewRenderer constructs a renderer with the restricted Sprig function map.
func NewRenderer() *Renderer {
	funcs := sprig.TxtFuncMap()
	for _, name := range restricted {
		delete(funcs, name)
	}
	r := &Renderer{funcs: make(template.FuncMap, len(funcs)+1)}
	for name, fn := range funcs {
		r.funcs[name] = fn
	}
	r.funcs["joinNonEmpty"] = joinNonEmpty
	return r
}

// CompileInline parses an inline template source. Empty or whitespace-only
// sources return nil without error to simplify optional configuration fields.
func (r *Renderer) CompileInline(name, source string) (*Template, error) {
	trimmed := strings.TrimSpace(source)
	if trimmed == "" {
		return nil, nil
	}
	if name == "" {
		name = "inline"
	}
	tmpl, err := template.New(name).Funcs(r.funcs).Option("missingkey=zero").Parse(source)
	if err != nil {
		return nil, fmt.Errorf("templates: compile %q: %w", name, err)
	}
	return &Template{name: name, tmpl: tmpl}, nil
}

// Render executes the compiled template with the supplied data returning the
// rendered string.
func (t *Template) Render(data any) (string, error) {
	if t == nil {
		return "", errors.New("templates: nil template")
	}
	var buf bytes.Buffer
	if err := t.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("templates: execute %q: %w", t.name, err)
	}
	return buf.String(), nil
}

// Name exposes the logical template name which callers may embed in logs.
func (t *Template) Name() string {
	if t == nil {
		return ""
	}
	return t.name
}

// joinNonEmpty joins the string forms of the non-empty arguments with sep:
// {{ joinNonEmpty ", " .enrichment.parsed_city .enrichment.parsed_street }}.
func joinNonEmpty(sep string, parts ...any) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == nil {
			continue
		}
		s := strings.TrimSpace(fmt.Sprint(p))
		if s == "" || s == "<nil>" {
			continue
		}
		kept = append(kept, s)
	}
	return strings.Join(kept, sep)
}
