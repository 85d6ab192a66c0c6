package kolog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// normalizePath expands ~ and environment variables, makes the path
// absolute, and ensures the parent directory exists.
func normalizePath(path string) (string, error) {
	if path == "" {
		return "", errors.New("empty file path")
	}

	expanded := os.ExpandEnv(path)
	if expanded == "~" || strings.HasPrefix(expanded, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", errors.Wrap(err, "resolving home directory")
		}
		expanded = filepath.Join(home, strings.TrimPrefix(expanded, "~"))
	}

	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", errors.Wrapf(err, "resolving path %q", path)
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", errors.Wrapf(err, "creating log directory for %q", abs)
	}
	return abs, nil
}

// avoidClobber probes suffixed alternatives (path.0001, path.0002, ...)
// until it finds a path that does not exist yet. The original path is
// returned untouched when nothing occupies it.
func avoidClobber(path string) string {
	candidate := path
	for retry := 1; ; retry++ {
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
		candidate = fmt.Sprintf("%s.%04d", path, retry)
	}
}

// backupName is the default rotation naming scheme: index 0 is the active
// file, higher indexes append a zero-padded suffix.
func backupName(base string, index int) string {
	if index == 0 {
		return base
	}
	return fmt.Sprintf("%s.%04d", base, index)
}
