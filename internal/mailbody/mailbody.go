// Package mailbody renders the HTML bodies of email notifications from named
// templates checked in with the binary.
package mailbody

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
)

//go:embed templates/*.html
var templateFS embed.FS

// Renderer renders named email templates against a caller-supplied context.
type Renderer struct {
	templates *template.Template
}

func NewRenderer() (*Renderer, error) {
	templates, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse email templates: %w", err)
	}
	return &Renderer{templates: templates}, nil
}

// Render produces the HTML body for one template. The context map is exposed
// to the template as-is; missing keys render as empty strings.
func (r *Renderer) Render(name string, context map[string]any) (string, error) {
	if r == nil || r.templates == nil {
		return "", fmt.Errorf("renderer is not initialized")
	}

	tmpl := r.templates.Lookup(name)
	if tmpl == nil {
		return "", fmt.Errorf("unknown email template %q", name)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, context); err != nil {
		return "", fmt.Errorf("failed to render email template %q: %w", name, err)
	}

	return buf.String(), nil
}

// Has reports whether a template with the given name is registered.
func (r *Renderer) Has(name string) bool {
	return r != nil && r.templates != nil && r.templates.Lookup(name) != nil
}
