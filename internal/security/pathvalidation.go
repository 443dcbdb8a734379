// Package security validates user-supplied export paths and file names.
package security

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrPathTraversal is returned when a path resolves outside every allowed directory.
var ErrPathTraversal = errors.New("path traversal detected")

// canonical resolves path to an absolute, symlink-free form. Paths that do
// not exist yet are resolved through their nearest existing ancestor, so
// a symlinked parent cannot smuggle a new file outside the directory.
func canonical(path string) (string, error) {
	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("failed to resolve absolute path: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	for dir := filepath.Dir(abs); ; dir = filepath.Dir(dir) {
		if resolved, err := filepath.EvalSymlinks(dir); err == nil {
			rest, _ := filepath.Rel(dir, abs)
			return filepath.Join(resolved, rest), nil
		}
		if filepath.Dir(dir) == dir {
			return abs, nil
		}
	}
}

// ValidatePathWithinDirectory checks that filePath stays inside safeDir
// after cleaning and symlink resolution.
func ValidatePathWithinDirectory(filePath, safeDir string) error {
	target, err := canonical(filePath)
	if err != nil {
		return err
	}
	absSafe, err := filepath.Abs(safeDir)
	if err != nil {
		return fmt.Errorf("failed to resolve safe directory path: %w", err)
	}
	root, err := filepath.EvalSymlinks(absSafe)
	if err != nil {
		return fmt.Errorf("failed to resolve safe directory symlinks: %w", err)
	}
	rel, err := filepath.Rel(root, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return fmt.Errorf("%w: %s attempts to escape %s", ErrPathTraversal, filePath, safeDir)
	}
	return nil
}

// ValidateExportPath checks that filePath lies within one of allowedDirs.
// With no allowedDirs, the temp directory and the working directory are allowed.
func ValidateExportPath(filePath string, allowedDirs ...string) error {
	if len(allowedDirs) == 0 {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get working directory: %w", err)
		}
		allowedDirs = []string{os.TempDir(), cwd}
	}
	for _, dir := range allowedDirs {
		if err := ValidatePathWithinDirectory(filePath, dir); err == nil {
			return nil
		}
	}
	return fmt.Errorf("%w: %s must be within one of %v", ErrPathTraversal, filePath, allowedDirs)
}

// SanitizeFilename makes a safe filename from an arbitrary string such as
// a session label. Characters other than ASCII letters, digits, dot,
// underscore and dash become a single underscore; the result is capped
// at 128 bytes and never empty.
func SanitizeFilename(s string) string {
	const maxLen = 128
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		if b.Len() >= maxLen {
			break
		}
		safe := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') ||
			r == '.' || r == '_' || r == '-'
		switch {
		case safe:
			b.WriteRune(r)
			lastUnderscore = r == '_'
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
