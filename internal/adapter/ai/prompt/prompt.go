// Package prompt builds provider instructions from YAML templates, one per
// generation strategy.
package prompt

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/fairyhunter13/ask-relay/internal/domain"
)

//go:embed prompts.yaml
var defaultPrompts []byte

// Template is one strategy's instruction and sampling parameters.
type Template struct {
	Instruction     string  `yaml:"instruction"`
	Temperature     float64 `yaml:"temperature"`
	TopK            int     `yaml:"top_k"`
	TopP            float64 `yaml:"top_p"`
	MaxOutputTokens int     `yaml:"max_output_tokens"`

	tmpl *template.Template
}

// Set holds the templates for every strategy.
type Set struct {
	Primary    Template `yaml:"primary"`
	Paraphrase Template `yaml:"paraphrase"`
	sentinel   string
}

// Built is a rendered instruction plus the sampling parameters to send with it.
type Built struct {
	Text            string
	Temperature     float64
	TopK            int
	TopP            float64
	MaxOutputTokens int
}

// Load reads templates from path, or the embedded defaults when path is empty.
func Load(path, sentinel string) (*Set, error) {
	b := defaultPrompts
	if path != "" {
		var err error
		b, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("op=prompt.Load: %w", err)
		}
	}
	return Parse(b, sentinel)
}

// Parse decodes and compiles a YAML template document.
func Parse(b []byte, sentinel string) (*Set, error) {
	var s Set
	if err := yaml.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("op=prompt.Parse: yaml: %w", err)
	}
	s.sentinel = sentinel
	for name, t := range map[string]*Template{"primary": &s.Primary, "paraphrase": &s.Paraphrase} {
		if strings.TrimSpace(t.Instruction) == "" {
			return nil, fmt.Errorf("op=prompt.Parse: %w: %s instruction empty", domain.ErrInvalidArgument, name)
		}
		tmpl, err := template.New(name).Option("missingkey=error").Parse(t.Instruction)
		if err != nil {
			return nil, fmt.Errorf("op=prompt.Parse: %s: %w", name, err)
		}
		t.tmpl = tmpl
	}
	return &s, nil
}

// Build renders the instruction for req.Strategy.
func (s *Set) Build(req domain.GenerationRequest) (Built, error) {
	var t *Template
	switch req.Strategy {
	case domain.StrategyPrimary, "":
		t = &s.Primary
	case domain.StrategyParaphrase:
		t = &s.Paraphrase
	default:
		return Built{}, fmt.Errorf("%w: unknown strategy %q", domain.ErrInvalidArgument, req.Strategy)
	}
	var sb strings.Builder
	sb.Grow(len(t.Instruction) + len(req.Context) + len(req.Question))
	data := struct{ Question, Context, Sentinel string }{req.Question, req.Context, s.sentinel}
	if err := t.tmpl.Execute(&sb, data); err != nil {
		return Built{}, fmt.Errorf("op=prompt.Build: %w", err)
	}
	return Built{
		Text:            sb.String(),
		Temperature:     t.Temperature,
		TopK:            t.TopK,
		TopP:            t.TopP,
		MaxOutputTokens: t.MaxOutputTokens,
	}, nil
}
