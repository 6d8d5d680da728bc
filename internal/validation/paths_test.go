package validation

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateFilename(t *testing.T) {
	testCases := []struct {
		name        string
		filename    string
		expectValid bool
	}{
		{"module name", "stormwater", true},
		{"with dots", "carbon.v2", true},
		{"double dots inside", "file..json", true},
		{"hidden", ".hidden", true},
		{"empty", "", false},
		{"parent", "..", false},
		{"unix separator", "sub/stormwater", false},
		{"windows separator", `sub\stormwater`, false},
		{"traversal", "../etc/passwd", false},
		{"null byte", "storm\x00water", false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateFilename(tc.filename)
			if tc.expectValid {
				assert.NoError(t, err, "filename %q", tc.filename)
			} else {
				assert.Error(t, err, "filename %q", tc.filename)
			}
		})
	}
}

func TestValidatePathInDirectory(t *testing.T) {
	base := t.TempDir()

	testCases := []struct {
		name        string
		path        string
		expectValid bool
	}{
		{"child file", "dem.tif", true},
		{"nested", "inputs/dem.tif", true},
		{"dot", ".", true},
		{"inner traversal", "inputs/../dem.tif", true},
		{"escape", "../dem.tif", false},
		{"deep escape", "inputs/../../dem.tif", false},
		{"absolute inside", filepath.Join(base, "a.csv"), true},
		{"absolute outside", filepath.Join(filepath.Dir(base), "a.csv"), false},
		{"empty", "", false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidatePathInDirectory(tc.path, base)
			if tc.expectValid {
				assert.NoError(t, err, "%q within %s", tc.path, base)
			} else {
				assert.Error(t, err, "%q within %s", tc.path, base)
			}
		})
	}

	assert.Error(t, ValidatePathInDirectory("a", ""), "empty base directory")
}

func TestResolveInDirectory(t *testing.T) {
	base := t.TempDir()

	got, err := ResolveInDirectory("inputs/dem.tif", base)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "inputs", "dem.tif"), got)

	abs := filepath.Join(filepath.Dir(base), "elsewhere", "lulc.tif")
	got, err = ResolveInDirectory(abs, base)
	require.NoError(t, err)
	assert.Equal(t, abs, got, "absolute paths pass through unchanged")

	_, err = ResolveInDirectory("../../x", base)
	assert.Error(t, err, "escaping relative path")
}
