package filtering

import (
	"github.com/spigell/resume-ranker/internal/candidate"
)

// DedupName is the name of the deduplication step.
const DedupName = "dedup"

type dedupFilter struct {
	toggle
}

// NewDedup creates a step that keeps the first record seen for every
// normalized candidate name and drops later ones.
func NewDedup() Filter {
	return &dedupFilter{}
}

func (f *dedupFilter) Name() string { return DedupName }

func (f *dedupFilter) Validate() error { return nil }

func (f *dedupFilter) Apply(records []candidate.Record) ([]candidate.Record, Step) {
	seen := make(map[string]struct{}, len(records))
	kept, step := keep(records, func(r candidate.Record) bool {
		key := r.Key()
		if _, ok := seen[key]; ok {
			return false
		}
		seen[key] = struct{}{}
		return true
	})
	return kept, step
}

// WithDedup returns steps led by an enabled dedup step, prepending a new one
// when the list does not start with it.
func WithDedup(steps []Filter) []Filter {
	if len(steps) > 0 && steps[0].Name() == DedupName && steps[0].IsEnabled() {
		return steps
	}
	out := make([]Filter, 0, len(steps)+1)
	out = append(out, NewDedup())
	for _, step := range steps {
		if step.Name() == DedupName {
			continue
		}
		out = append(out, step)
	}
	return out
}
