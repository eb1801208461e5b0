package filtering

import (
	"strings"

	"github.com/spigell/resume-ranker/internal/candidate"
)

type excludeNamesFilter struct {
	toggle
	names []string
	set   map[string]struct{}
}

// NewExcludeNames creates a filter that removes candidates whose names are
// listed in the config. Matching ignores case and surrounding spaces.
func NewExcludeNames(names []string) Filter {
	f := &excludeNamesFilter{names: append([]string(nil), names...)}
	f.set = nameSet(f.names)
	return f
}

func (f *excludeNamesFilter) Name() string { return "exclude_names" }

func (f *excludeNamesFilter) Validate() error { return nil }

func (f *excludeNamesFilter) Apply(records []candidate.Record) ([]candidate.Record, Step) {
	return excludeByName(records, f.set)
}

func (f *excludeNamesFilter) Status() Status {
	details := map[string]string{}
	if len(f.names) > 0 {
		details["names"] = strings.Join(f.names, ",")
	}
	return Status{Name: f.Name(), Enabled: f.IsEnabled(), Reason: f.reason, Details: details}
}

func nameSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, name := range names {
		key := candidate.NormalizeName(name)
		if key == "" {
			continue
		}
		set[key] = struct{}{}
	}
	return set
}

func excludeByName(records []candidate.Record, set map[string]struct{}) ([]candidate.Record, Step) {
	return keep(records, func(r candidate.Record) bool {
		_, excluded := set[r.Key()]
		return !excluded
	})
}
