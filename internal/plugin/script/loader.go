package script

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// LoadDir loads every *.lua file in dirs, in directory then file name order.
// Missing directories are skipped. A script that fails to load is reported
// in the returned error and does not stop the others.
func LoadDir(dirs []string, opts Options) ([]*Script, error) {
	var (
		out  []*Script
		errs []error
	)
	for _, dir := range dirs {
		matches, err := filepath.Glob(filepath.Join(dir, "*.lua"))
		if err != nil {
			errs = append(errs, fmt.Errorf("scanning %s: %w", dir, err))
			continue
		}
		if len(matches) == 0 {
			if _, err := os.Stat(dir); err != nil && !os.IsNotExist(err) {
				errs = append(errs, err)
			}
			continue
		}
		sort.Strings(matches)
		for _, path := range matches {
			s, err := Load(path, opts)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			out = append(out, s)
		}
	}
	return out, errors.Join(errs...)
}
