// Package candidate defines the evaluation record produced for one candidate
// found in a resume and the batch of such records produced by one analysis call.
package candidate

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	MinScore           = 1
	MaxScore           = 10
	MinRationaleLength = 10
)

// RequiredFields lists the JSON keys every stored or parsed record must carry.
func RequiredFields() []string {
	return []string{"name", "company_experience_years", "score", "rationale"}
}

// ErrInvalidRecord is matched by every ValidationError.
var ErrInvalidRecord = errors.New("invalid candidate record")

// ValidationError describes the first field of a record that failed validation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s %s", ErrInvalidRecord, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidRecord
}

// Record is one evaluated candidate extracted from one document.
type Record struct {
	Name                   string `json:"name" yaml:"name" mapstructure:"name"`
	CompanyExperienceYears int    `json:"company_experience_years" yaml:"company_experience_years" mapstructure:"company_experience_years"`
	Score                  int    `json:"score" yaml:"score" mapstructure:"score"`
	Rationale              string `json:"rationale" yaml:"rationale" mapstructure:"rationale"`
}

// New builds a validated record. Name and rationale are trimmed.
func New(name string, years, score int, rationale string) (Record, error) {
	r := Record{
		Name:                   strings.TrimSpace(name),
		CompanyExperienceYears: years,
		Score:                  score,
		Rationale:              strings.TrimSpace(rationale),
	}
	if err := r.Validate(); err != nil {
		return Record{}, err
	}
	return r, nil
}

// Decode parses one JSON object into a validated record. Every key of
// RequiredFields must be present.
func Decode(data []byte) (Record, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return Record{}, &ValidationError{Field: "record", Reason: err.Error()}
	}
	for _, key := range RequiredFields() {
		if _, ok := fields[key]; !ok {
			return Record{}, &ValidationError{Field: key, Reason: "is required"}
		}
	}

	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return Record{}, &ValidationError{Field: "record", Reason: err.Error()}
	}
	return New(r.Name, r.CompanyExperienceYears, r.Score, r.Rationale)
}

// Validate checks every field constraint of the record.
func (r Record) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return &ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if r.CompanyExperienceYears < 0 {
		return &ValidationError{Field: "company_experience_years", Reason: fmt.Sprintf("must be >= 0, got %d", r.CompanyExperienceYears)}
	}
	if r.Score < MinScore || r.Score > MaxScore {
		return &ValidationError{Field: "score", Reason: fmt.Sprintf("must be in [%d,%d], got %d", MinScore, MaxScore, r.Score)}
	}
	if n := utf8.RuneCountInString(strings.TrimSpace(r.Rationale)); n < MinRationaleLength {
		return &ValidationError{Field: "rationale", Reason: fmt.Sprintf("must have at least %d characters, got %d", MinRationaleLength, n)}
	}
	return nil
}

// Key returns the deduplication key: the name lower-cased and trimmed.
func (r Record) Key() string {
	return NormalizeName(r.Name)
}

// NormalizeName lower-cases and trims a candidate name.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
