package filtering

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/spigell/resume-ranker/internal/candidate"
)

// Filter represents a single ranking step applied to the merged candidate list.
type Filter interface {
	Name() string
	Disable(reason string)
	IsEnabled() bool

	// Validate loads whatever the step needs before Apply is called.
	Validate() error
	// Apply must not modify records; it returns the kept records in order.
	Apply(records []candidate.Record) ([]candidate.Record, Step)
}

// Step describes the result of executing a filtering step.
type Step struct {
	Initial int
	Dropped int
	Left    int
}

// Report is the outcome of one named step.
type Report struct {
	Name string
	Step Step
}

// Status represents runtime information about a filter.
type Status struct {
	Name    string
	Enabled bool
	Reason  string
	Details map[string]string
}

// statusProvider is implemented by filters that can supply detailed status information.
type statusProvider interface {
	Status() Status
}

// DisableByName marks a filter with the provided name as disabled while keeping it in the list.
func DisableByName(steps []Filter, name, reason string) {
	for _, step := range steps {
		if step.Name() == name {
			step.Disable(reason)
		}
	}
}

// Validate prepares every enabled step.
func Validate(steps []Filter) error {
	for _, step := range steps {
		if !step.IsEnabled() {
			continue
		}
		if err := step.Validate(); err != nil {
			return fmt.Errorf("%s: %w", step.Name(), err)
		}
	}
	return nil
}

// Run applies the enabled steps in order and reports what each one dropped.
func Run(steps []Filter, records []candidate.Record) ([]candidate.Record, []Report) {
	reports := make([]Report, 0, len(steps))
	for _, step := range steps {
		if !step.IsEnabled() {
			continue
		}
		var info Step
		records, info = step.Apply(records)
		reports = append(reports, Report{Name: step.Name(), Step: info})
	}
	return records, reports
}

// Log writes one entry per step report.
func Log(logger *zap.Logger, steps []Filter, reports []Report) {
	if logger == nil {
		return
	}

	for _, step := range steps {
		if !step.IsEnabled() {
			logger.Info("filter disabled", zap.String("name", step.Name()))
		}
	}

	for _, r := range reports {
		logger.Info("filter step",
			zap.String("name", r.Name),
			zap.Int("initial", r.Step.Initial),
			zap.Int("dropped", r.Step.Dropped),
			zap.Int("left", r.Step.Left),
		)
	}
}

// Describe returns status entries for the provided filters.
func Describe(steps []Filter) []Status {
	statuses := make([]Status, 0, len(steps))
	for _, step := range steps {
		if reporter, ok := step.(statusProvider); ok {
			statuses = append(statuses, reporter.Status())
			continue
		}

		statuses = append(statuses, Status{
			Name:    step.Name(),
			Enabled: step.IsEnabled(),
		})
	}
	return statuses
}

// keep returns the records accepted by fn and the step counters.
func keep(records []candidate.Record, fn func(candidate.Record) bool) ([]candidate.Record, Step) {
	kept := make([]candidate.Record, 0, len(records))
	for _, r := range records {
		if fn(r) {
			kept = append(kept, r)
		}
	}
	return kept, Step{Initial: len(records), Dropped: len(records) - len(kept), Left: len(kept)}
}

type toggle struct {
	disabled bool
	reason   string
}

func (t *toggle) Disable(reason string) {
	t.disabled = true
	t.reason = reason
}

func (t *toggle) IsEnabled() bool { return !t.disabled }
