package ai

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/spigell/resume-ranker/internal/candidate"
)

// errNotCandidateList is returned for answers that hold no list of candidates.
var errNotCandidateList = errors.New("model response is not a list of candidates")

// legacyKeys maps field names used by earlier prompt versions to current ones.
var legacyKeys = map[string]string{
	"well_known_software_company_experience": "company_experience_years",
	"ai_ml_experience_score":                 "score",
	"reason_for_score":                       "rationale",
}

// ParseBatch converts a raw model answer into a batch. The answer may be a
// JSON array of records, an object with a "candidates" array, or a single
// record, optionally wrapped in a Markdown code fence. Records that fail
// validation are dropped and returned as errors; the rest form the batch.
func ParseBatch(raw string) (candidate.Batch, []error, error) {
	cleaned := extractJSON(raw)
	if cleaned == "" {
		return candidate.Batch{}, nil, errors.New("model response is empty")
	}

	var payload any
	if err := json.Unmarshal([]byte(cleaned), &payload); err != nil {
		return candidate.Batch{}, nil, fmt.Errorf("parse model response: %w", err)
	}

	items, err := candidateItems(payload)
	if err != nil {
		return candidate.Batch{}, nil, err
	}

	records := make([]candidate.Record, 0, len(items))
	var dropped []error
	for idx, item := range items {
		record, err := decodeRecord(item)
		if err != nil {
			dropped = append(dropped, fmt.Errorf("candidate %d: %w", idx, err))
			continue
		}
		records = append(records, record)
	}

	batch, err := candidate.NewBatch(records)
	if err != nil {
		return candidate.Batch{}, dropped, err
	}

	return batch, dropped, nil
}

func candidateItems(payload any) ([]any, error) {
	switch val := payload.(type) {
	case []any:
		return val, nil
	case map[string]any:
		if list, ok := val["candidates"].([]any); ok {
			return list, nil
		}
		if _, ok := val["name"]; ok {
			return []any{val}, nil
		}
	}
	return nil, errNotCandidateList
}

func decodeRecord(item any) (candidate.Record, error) {
	fields, ok := item.(map[string]any)
	if !ok {
		return candidate.Record{}, &candidate.ValidationError{Field: "record", Reason: fmt.Sprintf("must be an object, got %T", item)}
	}

	normalized := make(map[string]any, len(fields))
	for key, value := range fields {
		normalized[strings.ToLower(strings.TrimSpace(key))] = value
	}
	for legacy, current := range legacyKeys {
		if v, ok := normalized[legacy]; ok {
			if _, exists := normalized[current]; !exists {
				normalized[current] = v
			}
		}
	}

	if err := validateFields(normalized); err != nil {
		return candidate.Record{}, err
	}

	var record candidate.Record
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       integralNumberHook,
		WeaklyTypedInput: true,
		Result:           &record,
		TagName:          "mapstructure",
	})
	if err != nil {
		return candidate.Record{}, err
	}
	if err := decoder.Decode(normalized); err != nil {
		return candidate.Record{}, &candidate.ValidationError{Field: "record", Reason: err.Error()}
	}

	return candidate.New(record.Name, record.CompanyExperienceYears, record.Score, record.Rationale)
}

// integralNumberHook refuses to truncate fractional numbers into int fields.
func integralNumberHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if to.Kind() != reflect.Int {
		return data, nil
	}
	if from.Kind() == reflect.Float64 {
		f := data.(float64)
		if f != math.Trunc(f) {
			return nil, fmt.Errorf("expected an integer, got %v", f)
		}
	}
	return data, nil
}

func extractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		raw = strings.TrimSpace(raw)
		if idx := strings.LastIndex(raw, "```"); idx != -1 {
			raw = raw[:idx]
		}
	}
	raw = strings.Trim(raw, "`")
	return strings.TrimSpace(raw)
}
