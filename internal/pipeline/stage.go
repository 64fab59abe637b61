package pipeline

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/tjfontaine/polyglot-relay/internal/core/ports"
)

// Shape names the text field a stage consumes or produces. An empty Field
// accepts or provides any text.
type Shape struct {
	Field string `json:"field"`
}

// Accepts reports whether a value shaped like from satisfies s.
func (s Shape) Accepts(from Shape) bool {
	return s.Field == "" || from.Field == "" || s.Field == from.Field
}

func (s Shape) String() string {
	if s.Field == "" {
		return "{*}"
	}
	return "{" + s.Field + ": string}"
}

// Stage is one named transformation step. Stages are values; a Pipeline keeps
// its own copies so callers cannot change them after construction.
type Stage struct {
	ID     string
	Label  string
	Input  Shape
	Output Shape

	// Prompt, when set, wraps the stage input before the capability call.
	Prompt *Prompt

	// Resolve returns the capability for one execution of this stage.
	Resolve ports.Resolver
}

// render produces the text sent to the capability.
func (s Stage) render(input string) (string, error) {
	if s.Prompt == nil {
		return input, nil
	}
	return s.Prompt.Render(input)
}

// Prompt is a parsed text/template. Templates see {{.Input}}.
type Prompt struct {
	source string
	tmpl   *template.Template
}

// ParsePrompt parses a prompt template. Unknown fields are an error.
func ParsePrompt(name, text string) (*Prompt, error) {
	tmpl, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse prompt %s: %w", name, err)
	}
	return &Prompt{source: text, tmpl: tmpl}, nil
}

// Render executes the template against input.
func (p *Prompt) Render(input string) (string, error) {
	var buf bytes.Buffer
	if err := p.tmpl.Execute(&buf, struct{ Input string }{Input: input}); err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return buf.String(), nil
}

// Source returns the unparsed template text.
func (p *Prompt) Source() string { return p.source }
