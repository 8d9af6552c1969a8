package epubflat

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"golang.org/x/net/html"
)

// Placeholder tokens recognised in a template.
const (
	TokenMenu    = "${menu}$"
	TokenTitle   = "${title}$"
	TokenContent = "${content}$"
	TokenCSS     = "${css}$"
)

//go:embed template.html
var defaultTemplateText string

// Template is an HTML page carrying each placeholder token exactly once.
type Template struct {
	text string
}

// ParseTemplate validates text and returns a Template. Every token must
// appear exactly once; otherwise the error wraps ErrInvalidTemplate.
func ParseTemplate(text string) (*Template, error) {
	for _, tok := range []string{TokenMenu, TokenTitle, TokenContent, TokenCSS} {
		switch n := strings.Count(text, tok); {
		case n == 0:
			return nil, fmt.Errorf("%w: missing %s", ErrInvalidTemplate, tok)
		case n > 1:
			return nil, fmt.Errorf("%w: %s appears %d times", ErrInvalidTemplate, tok, n)
		}
	}
	return &Template{text: text}, nil
}

// LoadTemplate reads and parses the template file at p.
func LoadTemplate(p string) (*Template, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("read template: %w", err)
	}
	t, err := ParseTemplate(string(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p, err)
	}
	return t, nil
}

// DefaultTemplate returns the built-in sidebar template.
func DefaultTemplate() *Template {
	t, err := ParseTemplate(defaultTemplateText)
	if err != nil {
		panic("epubflat: embedded template: " + err.Error())
	}
	return t
}

// Render substitutes the placeholders in order: menu, title, content, then
// the style block built from css. The title is HTML-escaped; the other values
// are inserted verbatim.
func (t *Template) Render(menu, title, content string, css []string) string {
	out := strings.ReplaceAll(t.text, TokenMenu, menu)
	out = strings.ReplaceAll(out, TokenTitle, html.EscapeString(title))
	out = strings.ReplaceAll(out, TokenContent, content)
	out = strings.ReplaceAll(out, TokenCSS, styleBlock(css))
	return out
}

// styleBlock wraps the concatenated stylesheets in a <style> element. No
// stylesheets yield an empty element.
func styleBlock(css []string) string {
	return "<style>" + strings.Join(css, "\n") + "</style>"
}
