package validation

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ValidateFilename checks that name is a single path element. Module names
// arriving from the CLI or a server are checked with it before they are
// joined onto a catalog directory.
func ValidateFilename(name string) error {
	if name == "" {
		return fmt.Errorf("filename cannot be empty")
	}
	if strings.ContainsRune(name, 0) {
		return fmt.Errorf("filename contains null byte: %q", name)
	}
	if strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("filename cannot contain path separators: %s", name)
	}
	// "foo..bar" is fine, only the parent reference itself is rejected
	if name == ".." {
		return fmt.Errorf("filename cannot be '..'")
	}
	return nil
}

// ValidatePathInDirectory checks that path, resolved against baseDir when
// relative, stays inside baseDir.
//
//	ValidatePathInDirectory("../../etc/passwd", "/data/run") // error
//	ValidatePathInDirectory("inputs/dem.tif", "/data/run")   // ok
func ValidatePathInDirectory(path string, baseDir string) error {
	_, err := resolveWithin(path, baseDir)
	return err
}

// ResolveInDirectory joins a relative path onto baseDir and returns the
// cleaned absolute result, failing when it escapes baseDir. Absolute paths
// are returned cleaned and are not required to lie under baseDir.
func ResolveInDirectory(path string, baseDir string) (string, error) {
	if filepath.IsAbs(path) {
		return filepath.Clean(path), nil
	}
	return resolveWithin(path, baseDir)
}

func resolveWithin(path string, baseDir string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path cannot be empty")
	}
	if baseDir == "" {
		return "", fmt.Errorf("base directory cannot be empty")
	}

	base, err := filepath.Abs(filepath.Clean(baseDir))
	if err != nil {
		return "", fmt.Errorf("failed to resolve base directory: %w", err)
	}

	resolved := filepath.Clean(path)
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(base, resolved)
	}

	rel, err := filepath.Rel(base, resolved)
	if err != nil {
		return "", fmt.Errorf("failed to compute relative path: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes base directory: %s (base: %s)", path, baseDir)
	}
	return resolved, nil
}
