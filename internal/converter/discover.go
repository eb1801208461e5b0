package converter

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// Discover returns the documents under root with one of the given extensions.
// A root that is a file is returned as-is when its extension matches.
// Results are sorted so runs over the same tree are reproducible.
func Discover(root string, exts []string) ([]string, error) {
	allowed := make(map[string]struct{}, len(exts))
	for _, ext := range exts {
		allowed[normalizeExt(ext)] = struct{}{}
	}

	match := func(path string) bool {
		_, ok := allowed[strings.ToLower(filepath.Ext(path))]
		return ok
	}

	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat input %q: %w", root, err)
	}

	if !info.IsDir() {
		if match(root) {
			return []string{root}, nil
		}
		return nil, nil
	}

	var found []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !match(path) {
			return nil
		}
		found = append(found, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk input %q: %w", root, err)
	}

	slices.Sort(found)
	return found, nil
}
