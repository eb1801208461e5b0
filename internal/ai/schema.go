package ai

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/spigell/resume-ranker/internal/candidate"
)

// RecordSchema describes one candidate record as JSON schema.
func RecordSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": true,
		"properties": map[string]any{
			"name": map[string]any{
				"type":        "string",
				"minLength":   1,
				"description": "The candidate's full name",
			},
			"company_experience_years": map[string]any{
				"type":        "integer",
				"minimum":     0,
				"description": "Total years at well-known software companies",
			},
			"score": map[string]any{
				"type":        "integer",
				"minimum":     candidate.MinScore,
				"maximum":     candidate.MaxScore,
				"description": "AI/ML experience score",
			},
			"rationale": map[string]any{
				"type":        "string",
				"minLength":   candidate.MinRationaleLength,
				"description": "Evidence from the resume supporting the score",
			},
		},
		"required": candidate.RequiredFields(),
	}
}

// CandidateSchema describes the whole model answer: a list of records.
func CandidateSchema() map[string]any {
	return map[string]any{
		"type":  "array",
		"items": RecordSchema(),
	}
}

// answerRecordSchema is RecordSchema as applied to raw model output, where
// integer fields may also arrive as numeric strings.
func answerRecordSchema() map[string]any {
	schema := RecordSchema()
	for _, prop := range schema["properties"].(map[string]any) {
		fields := prop.(map[string]any)
		if fields["type"] == "integer" {
			fields["type"] = []string{"integer", "string"}
		}
	}
	return schema
}

var compiledRecordSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	b, err := json.Marshal(answerRecordSchema())
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("record.json", bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	return compiler.Compile("record.json")
})

// validateFields checks one raw answer object against the record schema
// before it is decoded, so absent keys are not mistaken for zero values.
// The first failing field is reported as a candidate.ValidationError.
func validateFields(fields map[string]any) error {
	for _, key := range candidate.RequiredFields() {
		if _, ok := fields[key]; !ok {
			return &candidate.ValidationError{Field: key, Reason: "is required"}
		}
	}

	schema, err := compiledRecordSchema()
	if err != nil {
		return fmt.Errorf("compile record schema: %w", err)
	}

	err = schema.Validate(fields)
	if err == nil {
		return nil
	}

	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return err
	}
	for len(verr.Causes) > 0 {
		verr = verr.Causes[0]
	}

	field := strings.TrimPrefix(verr.InstanceLocation, "/")
	if field == "" {
		field = "record"
	}
	return &candidate.ValidationError{Field: field, Reason: verr.Message}
}
