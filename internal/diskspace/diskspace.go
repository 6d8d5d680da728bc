// Package diskspace checks the free space of the filesystem a model run
// writes its workspace to.
package diskspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// InsufficientSpaceError indicates that a workspace filesystem is too full
// to start a run.
type InsufficientSpaceError struct {
	Path           string
	RequiredBytes  int64
	AvailableBytes int64
}

func (e *InsufficientSpaceError) Error() string {
	requiredMB := float64(e.RequiredBytes) / (1024 * 1024)
	availableMB := float64(e.AvailableBytes) / (1024 * 1024)
	return fmt.Sprintf("insufficient disk space for %s: need %.2f MB, have %.2f MB available",
		e.Path, requiredMB, availableMB)
}

// CheckWorkspace fails with an InsufficientSpaceError when the filesystem
// holding dir has less than requiredBytes free. dir need not exist yet; its
// deepest existing ancestor is checked. When free space cannot be
// determined (network or virtual filesystems) the check passes.
func CheckWorkspace(dir string, requiredBytes int64) error {
	if dir == "" || requiredBytes <= 0 {
		return nil
	}
	available, err := GetAvailableSpace(dir)
	if err != nil {
		return nil
	}
	if available < requiredBytes {
		return &InsufficientSpaceError{
			Path:           dir,
			RequiredBytes:  requiredBytes,
			AvailableBytes: available,
		}
	}
	return nil
}

// GetAvailableSpace returns the bytes available to the current user on the
// filesystem holding path or its deepest existing ancestor.
func GetAvailableSpace(path string) (int64, error) {
	dir, err := existingAncestor(path)
	if err != nil {
		return 0, err
	}
	return availableBytes(dir)
}

// IsInsufficientSpaceError checks if an error is an InsufficientSpaceError
func IsInsufficientSpaceError(err error) bool {
	var target *InsufficientSpaceError
	return errors.As(err, &target)
}

func existingAncestor(path string) (string, error) {
	current, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(current); err == nil {
			return current, nil
		}
		parent := filepath.Dir(current)
		if parent == current {
			return "", fmt.Errorf("no existing ancestor of %s", path)
		}
		current = parent
	}
}
