// Package ai turns resume text into validated candidate records by calling a
// language-model backend with bounded, classified retries.
package ai

import (
	"context"
)

// Generator is a language-model backend. Generate sends the prompt together
// with a JSON schema describing the expected output and returns the raw text
// of the answer. Implementations must be safe for concurrent use.
//
// Errors wrapped with Permanent stop the retry loop; any other error is retried.
type Generator interface {
	Generate(ctx context.Context, prompt string, schema map[string]any) (string, error)
	Model() string
}
