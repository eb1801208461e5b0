package ai

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
)

// Placeholder is replaced with the document text when building a prompt.
const Placeholder = "{{RESUME_TEXT}}"

//go:embed prompt.md
var defaultPromptTemplate string

// PromptBuilder renders the analysis prompt for one document.
type PromptBuilder struct {
	template string
}

// NewPromptBuilder uses the embedded template when template is blank.
func NewPromptBuilder(template string) (*PromptBuilder, error) {
	if strings.TrimSpace(template) == "" {
		template = defaultPromptTemplate
	}
	if !strings.Contains(template, Placeholder) {
		return nil, fmt.Errorf("prompt template must contain %s", Placeholder)
	}
	return &PromptBuilder{template: template}, nil
}

// LoadPromptBuilder reads the template from path, or uses the embedded one
// when path is empty.
func LoadPromptBuilder(path string) (*PromptBuilder, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return NewPromptBuilder("")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompt template %q: %w", path, err)
	}
	return NewPromptBuilder(string(data))
}

func (p *PromptBuilder) Build(text string) string {
	return strings.ReplaceAll(p.template, Placeholder, strings.TrimSpace(text))
}
