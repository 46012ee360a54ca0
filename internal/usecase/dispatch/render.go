package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"text/template"

	"event-integrations/internal/domain/integration"
)

// JSONRenderer renders Go text templates against an event. An empty template
// renders the event itself as JSON. Parsed templates are cached.
type JSONRenderer struct {
	mu    sync.Mutex
	cache map[string]*template.Template
}

// NewJSONRenderer creates a JSONRenderer.
func NewJSONRenderer() *JSONRenderer {
	return &JSONRenderer{cache: make(map[string]*template.Template)}
}

var renderFuncs = template.FuncMap{
	// json encodes a value, so templates can embed strings safely.
	"json": func(v any) (string, error) {
		b, err := json.Marshal(v)
		return string(b), err
	},
	"upper": strings.ToUpper,
	"lower": strings.ToLower,
}

// Render implements TemplateRenderer.
func (r *JSONRenderer) Render(_ context.Context, text string, e integration.Event) (string, error) {
	if strings.TrimSpace(text) == "" {
		b, err := json.Marshal(e)
		if err != nil {
			return "", fmt.Errorf("render event %s: %w", e.ID, err)
		}
		return string(b), nil
	}

	tmpl, err := r.parse(text)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, e); err != nil {
		return "", fmt.Errorf("render event %s: %w", e.ID, err)
	}
	return buf.String(), nil
}

func (r *JSONRenderer) parse(text string) (*template.Template, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if tmpl, ok := r.cache[text]; ok {
		return tmpl, nil
	}
	tmpl, err := template.New("integration").Funcs(renderFuncs).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}
	r.cache[text] = tmpl
	return tmpl, nil
}
