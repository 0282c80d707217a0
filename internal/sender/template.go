package sender

import (
	"fmt"
	htmltmpl "html/template"
	"path/filepath"
	"strings"
	texttmpl "text/template"

	"github.com/carepulse/notify/internal/domain"
)

// TemplateRenderer resolves a template name against *.html and *.txt files
// loaded from a directory at startup. A name may have either or both forms;
// a name with neither is a permanent error, since retrying cannot produce
// the missing file.
type TemplateRenderer struct {
	html *htmltmpl.Template
	text *texttmpl.Template
}

func NewTemplateRenderer(dir string) (*TemplateRenderer, error) {
	r := &TemplateRenderer{}

	htmlFiles, err := filepath.Glob(filepath.Join(dir, "*.html"))
	if err != nil {
		return nil, fmt.Errorf("list html templates: %w", err)
	}
	if len(htmlFiles) > 0 {
		r.html, err = htmltmpl.ParseFiles(htmlFiles...)
		if err != nil {
			return nil, fmt.Errorf("parse html templates: %w", err)
		}
	}

	textFiles, err := filepath.Glob(filepath.Join(dir, "*.txt"))
	if err != nil {
		return nil, fmt.Errorf("list text templates: %w", err)
	}
	if len(textFiles) > 0 {
		r.text, err = texttmpl.ParseFiles(textFiles...)
		if err != nil {
			return nil, fmt.Errorf("parse text templates: %w", err)
		}
	}

	return r, nil
}

func (r *TemplateRenderer) Render(name string, data map[string]any) (string, string, error) {
	var html, text string

	if r.html != nil {
		if t := r.html.Lookup(name + ".html"); t != nil {
			var b strings.Builder
			if err := t.Execute(&b, data); err != nil {
				return "", "", fmt.Errorf("execute html template %q: %w", name, err)
			}
			html = b.String()
		}
	}
	if r.text != nil {
		if t := r.text.Lookup(name + ".txt"); t != nil {
			var b strings.Builder
			if err := t.Execute(&b, data); err != nil {
				return "", "", fmt.Errorf("execute text template %q: %w", name, err)
			}
			text = b.String()
		}
	}

	if html == "" && text == "" {
		return "", "", &domain.PermanentError{Err: fmt.Errorf("unknown template %q", name)}
	}
	return html, text, nil
}

var _ Renderer = (*TemplateRenderer)(nil)
