// Package pathutil normalizes the file paths users type on the command line.
package pathutil

import (
	"os"
	"path/filepath"
	"strings"
)

// Expand turns a local path into a clean absolute path, expanding a leading
// "~" and resolving symlinks in the part of the path that exists. Remote
// paths (scheme://...) and the empty path are returned unchanged.
func Expand(path string) (string, error) {
	if path == "" || strings.Contains(path, "://") {
		return path, nil
	}

	if path == "~" || strings.HasPrefix(path, "~/") || strings.HasPrefix(path, `~\`) {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}

	if resolved, err := filepath.EvalSymlinks(absPath); err == nil {
		return resolved, nil
	}

	// Resolve the deepest existing ancestor and re-append the rest, so a
	// not-yet-created output file under a symlinked folder still resolves.
	current := absPath
	var remainder []string
	for {
		if _, err := os.Stat(current); err == nil {
			resolved, err := filepath.EvalSymlinks(current)
			if err != nil {
				resolved = current
			}
			for i := len(remainder) - 1; i >= 0; i-- {
				resolved = filepath.Join(resolved, remainder[i])
			}
			return resolved, nil
		}
		parent := filepath.Dir(current)
		if parent == current {
			return absPath, nil
		}
		remainder = append(remainder, filepath.Base(current))
		current = parent
	}
}
