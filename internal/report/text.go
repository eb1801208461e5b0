package report

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spigell/resume-ranker/internal/candidate"
)

const (
	wideRule   = 80
	narrowRule = 40
)

// Band groups ranked candidates whose score falls into [Min, Max].
type Band struct {
	Label      string
	Min        int
	Max        int
	Candidates []candidate.Record
}

var bands = []Band{
	{Label: "excellent", Min: 9, Max: 10},
	{Label: "strong", Min: 7, Max: 8},
	{Label: "moderate", Min: 5, Max: 6},
	{Label: "basic", Min: 3, Max: 4},
	{Label: "minimal", Min: 1, Max: 2},
}

// ByScoreBand splits records into score bands, highest first, keeping the
// record order inside each band. Empty bands are omitted.
func ByScoreBand(records []candidate.Record) []Band {
	out := make([]Band, 0, len(bands))
	for _, b := range bands {
		band := Band{Label: b.Label, Min: b.Min, Max: b.Max}
		for _, r := range records {
			if r.Score >= b.Min && r.Score <= b.Max {
				band.Candidates = append(band.Candidates, r)
			}
		}
		if len(band.Candidates) > 0 {
			out = append(out, band)
		}
	}
	return out
}

// Text writes a human-readable ranking with a summary.
func Text(w io.Writer, doc Document) error {
	bw := bufio.NewWriter(w)
	s := doc.Summary

	fmt.Fprintln(bw, strings.Repeat("=", wideRule))
	fmt.Fprintln(bw, "RESUME ANALYSIS RESULTS")
	fmt.Fprintln(bw, strings.Repeat("=", wideRule))
	if doc.RunID != "" {
		fmt.Fprintf(bw, "Run: %s\n", doc.RunID)
	}
	fmt.Fprintf(bw, "\nDocuments: %d total, %d processed, %d skipped (cached: %d text, %d analysis)\n",
		s.DocumentsTotal, s.DocumentsProcessed, s.DocumentsSkipped, s.TextCacheHits, s.AnalysisCacheHits)
	fmt.Fprintf(bw, "Candidates: %d found, %d duplicates removed, %d filtered out\n",
		s.CandidatesSeen, s.DuplicatesRemoved, s.FilteredOut)
	for _, step := range doc.Steps {
		fmt.Fprintf(bw, "  step %-14s %d -> %d (dropped %d)\n", step.Name, step.Initial, step.Left, step.Dropped)
	}

	fmt.Fprintf(bw, "\nQualified candidates: %d\n", len(doc.Candidates))
	if len(doc.Candidates) == 0 {
		fmt.Fprintln(bw, "No candidates meet the minimum criteria.")
	} else {
		fmt.Fprintln(bw, "\nRanked candidates:")
		fmt.Fprintln(bw, strings.Repeat("-", wideRule))
		for i, c := range doc.Candidates {
			fmt.Fprintf(bw, "\n%d. %s\n", i+1, c.Name)
			fmt.Fprintf(bw, "   AI/ML experience score: %d/%d\n", c.Score, candidate.MaxScore)
			fmt.Fprintf(bw, "   Well-known company experience: %d %s\n", c.CompanyExperienceYears, plural(c.CompanyExperienceYears, "year", "years"))
			fmt.Fprintf(bw, "   Analysis: %s\n", c.Rationale)
			if i < len(doc.Candidates)-1 {
				fmt.Fprintln(bw, strings.Repeat("-", narrowRule))
			}
		}
	}

	if len(doc.Skipped) > 0 {
		fmt.Fprintf(bw, "\nSkipped documents: %d\n", len(doc.Skipped))
		for _, skip := range doc.Skipped {
			fmt.Fprintf(bw, "  - %s: %s\n", skip.Path, skip.Error)
		}
	}

	fmt.Fprintln(bw, "\n"+strings.Repeat("=", wideRule))
	return bw.Flush()
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
