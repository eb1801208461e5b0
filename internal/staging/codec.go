package staging

import (
	"encoding/json"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/spigell/resume-ranker/internal/candidate"
)

// TextCodec stores extracted document text.
type TextCodec struct{}

func (TextCodec) Encode(v string) ([]byte, error) {
	return []byte(v), nil
}

// Decode rejects empty or non UTF-8 files. Converters never produce empty
// text, so an empty artifact is the result of a failed write.
func (TextCodec) Decode(data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", errors.New("text artifact is not valid utf-8")
	}
	text := string(data)
	if strings.TrimSpace(text) == "" {
		return "", errors.New("text artifact is empty")
	}
	return text, nil
}

// BatchCodec stores the analysis result as a JSON array of records.
type BatchCodec struct{}

func (BatchCodec) Encode(v candidate.Batch) ([]byte, error) {
	return json.MarshalIndent(v, "", "    ")
}

// Decode revalidates every stored record.
func (BatchCodec) Decode(data []byte) (candidate.Batch, error) {
	var b candidate.Batch
	if err := json.Unmarshal(data, &b); err != nil {
		return candidate.Batch{}, err
	}
	return b, nil
}
