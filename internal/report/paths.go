package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultOutputPath names the chart for a run in the current directory.
// Run IDs are normally UUIDs, but journals can be written by other tools,
// so the ID is reduced to a safe file name first.
func DefaultOutputPath(runID string) string {
	return "run-" + sanitizeFilename(runID) + ".png"
}

func sanitizeFilename(s string) string {
	const maxLen = 96
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		if b.Len() >= maxLen {
			break
		}
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '.':
			b.WriteRune(r)
			lastUnderscore = false
		case !lastUnderscore:
			b.WriteRune('_')
			lastUnderscore = true
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unknown"
	}
	return out
}

// ValidateOutputPath rejects chart paths outside the working directory and
// the temp directory, following symlinks on the deepest existing parent.
func ValidateOutputPath(path string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}
	target, err := canonical(path)
	if err != nil {
		return err
	}
	for _, dir := range []string{cwd, os.TempDir()} {
		root, err := canonical(dir)
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(root, target)
		if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return nil
		}
	}
	return fmt.Errorf("output %s must be inside the working directory or %s", path, os.TempDir())
}

// canonical resolves path to an absolute path with symlinks evaluated on
// the deepest ancestor that exists.
func canonical(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	for dir := abs; ; dir = filepath.Dir(dir) {
		if resolved, err := filepath.EvalSymlinks(dir); err == nil {
			rest, _ := filepath.Rel(dir, abs)
			return filepath.Join(resolved, rest), nil
		}
		if filepath.Dir(dir) == dir {
			return abs, nil
		}
	}
}
