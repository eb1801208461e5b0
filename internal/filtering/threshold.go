package filtering

import (
	"strconv"
	"strings"

	"github.com/spigell/resume-ranker/internal/candidate"
)

const (
	ThresholdName = "threshold"

	DefaultMinScore        = 6
	DefaultMinCompanyYears = 1
)

type thresholdFilter struct {
	toggle
	minScore int
	minYears int
}

// NewThreshold keeps candidates scoring at least minScore with strictly more
// than minYears years at well-known companies.
func NewThreshold(minScore, minYears int) Filter {
	return &thresholdFilter{minScore: minScore, minYears: minYears}
}

func (f *thresholdFilter) Name() string { return ThresholdName }

func (f *thresholdFilter) Validate() error { return nil }

func (f *thresholdFilter) Apply(records []candidate.Record) ([]candidate.Record, Step) {
	return keep(records, func(r candidate.Record) bool {
		return r.Score >= f.minScore && r.CompanyExperienceYears > f.minYears
	})
}

func (f *thresholdFilter) Status() Status {
	return Status{
		Name:    f.Name(),
		Enabled: f.IsEnabled(),
		Reason:  f.reason,
		Details: map[string]string{
			"min_score":         strconv.Itoa(f.minScore),
			"min_company_years": strconv.Itoa(f.minYears),
		},
	}
}

type predicateFilter struct {
	toggle
	name string
	fn   func(candidate.Record) bool
}

// NewPredicate wraps an arbitrary keep predicate as a step. A nil fn keeps everything.
func NewPredicate(name string, fn func(candidate.Record) bool) Filter {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "predicate"
	}
	if fn == nil {
		fn = func(candidate.Record) bool { return true }
	}
	return &predicateFilter{name: name, fn: fn}
}

func (f *predicateFilter) Name() string { return f.name }

func (f *predicateFilter) Validate() error { return nil }

func (f *predicateFilter) Apply(records []candidate.Record) ([]candidate.Record, Step) {
	return keep(records, f.fn)
}
