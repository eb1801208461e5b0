package filtering

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spigell/resume-ranker/internal/candidate"
)

type excludeFileFilter struct {
	toggle
	path string
	set  map[string]struct{}
}

// NewExcludeFile creates a filter that removes candidates listed in a file,
// one name per line. Blank lines and lines starting with # are ignored.
// The file is read by Validate; an empty path excludes nothing.
func NewExcludeFile(path string) Filter {
	return &excludeFileFilter{path: strings.TrimSpace(path)}
}

func (f *excludeFileFilter) Name() string { return "exclude_file" }

func (f *excludeFileFilter) Validate() error {
	f.set = nil
	if f.path == "" {
		return nil
	}

	names, err := ReadNames(f.path)
	if err != nil {
		return fmt.Errorf("getting excluded candidates from file: %w", err)
	}
	f.set = nameSet(names)
	return nil
}

func (f *excludeFileFilter) Apply(records []candidate.Record) ([]candidate.Record, Step) {
	if len(f.set) == 0 {
		return records, Step{Initial: len(records), Dropped: 0, Left: len(records)}
	}
	return excludeByName(records, f.set)
}

func (f *excludeFileFilter) Status() Status {
	details := map[string]string{}
	if f.path != "" {
		details["path"] = f.path
		details["names"] = strconv.Itoa(len(f.set))
	}
	return Status{Name: f.Name(), Enabled: f.IsEnabled(), Reason: f.reason, Details: details}
}

// ReadNames returns the non-empty, non-comment lines of path.
func ReadNames(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var names []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		names = append(names, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return names, nil
}

// AppendNames adds names to the exclude file at path, creating it if needed.
func AppendNames(path string, names []string) error {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}

	w := bufio.NewWriter(file)
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, err := w.WriteString(name + "\n"); err != nil {
			file.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}
