package groundex

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tyler-sommer/stick"
	"gopkg.in/yaml.v3"
)

// defaultPromptTemplate is the built-in extraction prompt. Callers can
// replace it wholesale with WithPromptTemplate; the same variables are
// available: description, format, classes, examples, document,
// additional_context.
const defaultPromptTemplate = `{{ description }}

Extract entities from the text below. Respond with {{ format }} only: a list of objects, each mapping an extraction class to the exact text span it labels. Known classes: {{ classes }}.
{% if additional_context %}
{{ additional_context }}
{% endif %}
Examples:
{{ examples }}
Text:
{{ document }}`

// PromptBuilder renders chunk prompts from a stick (Twig-style)
// template. The builder assembles the structured fields; the template
// decides presentation.
type PromptBuilder struct {
	env      *stick.Env
	template string
	log      *slog.Logger
}

// NewPromptBuilder returns a builder using tpl, or the default
// template when tpl is empty.
func NewPromptBuilder(tpl string, log *slog.Logger) *PromptBuilder {
	if tpl == "" {
		tpl = defaultPromptTemplate
	}
	if log == nil {
		log = slog.Default()
	}
	return &PromptBuilder{env: stick.New(nil), template: tpl, log: log}
}

// Build renders the prompt for one chunk.
func (p *PromptBuilder) Build(description string, examples []ExampleData, format FormatType, chunkText, additionalContext string) (string, error) {
	rendered, err := renderExamples(examples, format)
	if err != nil {
		return "", fmt.Errorf("render examples: %w", err)
	}

	ctx := map[string]stick.Value{
		"description":        description,
		"format":             strings.ToUpper(string(format)),
		"classes":            strings.Join(exampleClasses(examples), ", "),
		"examples":           rendered,
		"document":           chunkText,
		"additional_context": additionalContext,
	}

	var out strings.Builder
	if err := p.env.Execute(p.template, &out, ctx); err != nil {
		return "", fmt.Errorf("execute prompt template: %w", err)
	}
	return out.String(), nil
}

// exampleClasses collects the distinct classes across all examples in
// first-appearance order.
func exampleClasses(examples []ExampleData) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, ex := range examples {
		for _, class := range ex.Classes() {
			if _, ok := seen[class]; ok {
				continue
			}
			seen[class] = struct{}{}
			out = append(out, class)
		}
	}
	return out
}

// renderExamples serializes the few-shot examples as input/output
// pairs in the requested format.
func renderExamples(examples []ExampleData, format FormatType) (string, error) {
	var b strings.Builder
	for _, ex := range examples {
		items := make([]map[string]string, 0, len(ex.Extractions))
		for _, e := range ex.Extractions {
			items = append(items, map[string]string{e.Class: e.Text})
		}

		var encoded []byte
		var err error
		switch format {
		case FormatYAML:
			encoded, err = yaml.Marshal(items)
		default:
			encoded, err = json.Marshal(items)
		}
		if err != nil {
			return "", err
		}

		b.WriteString("Input: ")
		b.WriteString(ex.Text)
		b.WriteString("\nOutput: ")
		b.Write(encoded)
		b.WriteString("\n")
	}
	return b.String(), nil
}
