// Package report renders a ranking run for humans and machines.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/spigell/resume-ranker/internal/batch"
	"github.com/spigell/resume-ranker/internal/candidate"
)

const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// Formats lists the formats accepted by Render.
var Formats = []string{FormatText, FormatJSON, FormatYAML}

// StepSummary is the rendered form of one ranking step.
type StepSummary struct {
	Name    string `json:"name" yaml:"name"`
	Initial int    `json:"initial" yaml:"initial"`
	Dropped int    `json:"dropped" yaml:"dropped"`
	Left    int    `json:"left" yaml:"left"`
}

// Document is what every renderer writes.
type Document struct {
	RunID       string             `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	GeneratedAt time.Time          `json:"generated_at" yaml:"generated_at"`
	Summary     batch.Summary      `json:"summary" yaml:"summary"`
	Steps       []StepSummary      `json:"steps" yaml:"steps"`
	Candidates  []candidate.Record `json:"candidates" yaml:"candidates"`
	Skipped     []batch.Skip       `json:"skipped,omitempty" yaml:"skipped,omitempty"`
}

// NewDocument snapshots a batch result.
func NewDocument(res *batch.Result, runID string) Document {
	doc := Document{
		RunID:       runID,
		GeneratedAt: time.Now().UTC(),
		Candidates:  []candidate.Record{},
		Steps:       []StepSummary{},
	}
	if res == nil {
		return doc
	}

	doc.Summary = res.Summary
	doc.Skipped = append(doc.Skipped, res.Skipped...)
	doc.Candidates = append(doc.Candidates, res.Candidates...)
	for _, s := range res.Steps {
		doc.Steps = append(doc.Steps, StepSummary{
			Name:    s.Name,
			Initial: s.Step.Initial,
			Dropped: s.Step.Dropped,
			Left:    s.Step.Left,
		})
	}
	return doc
}

// Render writes doc to w in the named format.
func Render(w io.Writer, format string, doc Document) error {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", FormatText:
		return Text(w, doc)
	case FormatJSON:
		return JSON(w, doc)
	case FormatYAML:
		return YAML(w, doc)
	default:
		return fmt.Errorf("unknown report format %q (expected one of %s)", format, strings.Join(Formats, ", "))
	}
}

func JSON(w io.Writer, doc Document) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

func YAML(w io.Writer, doc Document) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return err
	}
	return enc.Close()
}

// DumpToTmpFile writes doc as JSON to a new temporary file and returns its name.
func DumpToTmpFile(doc Document) (string, error) {
	file, err := os.CreateTemp("", "candidates_*.json")
	if err != nil {
		return "", err
	}
	defer file.Close()

	if err := JSON(file, doc); err != nil {
		return "", err
	}
	return file.Name(), nil
}
