package render

import (
	"embed"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"text/template"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

var funcs = template.FuncMap{
	"upper": strings.ToUpper,
	"join":  strings.Join,
}

// Engine executes the embedded text templates.
type Engine struct {
	templates *template.Template
}

var shared = sync.OnceValues(New)

// Default returns the process-wide engine, parsing the templates on first use.
func Default() (*Engine, error) {
	return shared()
}

// New parses every embedded template into a fresh Engine.
func New() (*Engine, error) {
	t, err := template.New("render").Funcs(funcs).ParseFS(templatesFS, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	return &Engine{templates: t}, nil
}

// Render writes the named template applied to data into w.
func (e *Engine) Render(w io.Writer, name string, data any) error {
	if e == nil || e.templates == nil {
		return errors.New("nil engine")
	}
	if err := e.templates.ExecuteTemplate(w, name, data); err != nil {
		return fmt.Errorf("render %s: %w", name, err)
	}
	return nil
}
