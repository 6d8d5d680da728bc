package datastack

import (
	"bytes"
	"context"
	"fmt"

	"github.com/rescale/modelbench/internal/models"
)

// Persistence stores payloads and reads raw datastacks. An empty path is
// never passed to it: a canceled file dialog is handled before any call.
type Persistence interface {
	WriteParameterSet(ctx context.Context, path string, payload models.ParameterSet) error
	WriteScript(ctx context.Context, path string, payload models.ScriptPayload) error
	ReadDatastackFromFile(ctx context.Context, path string) ([]byte, error)
	ReadDatastackFromLogfile(ctx context.Context, path string) ([]byte, error)
}

// PathFromSelection returns the first chosen path of a file dialog, or ""
// when nothing was chosen.
func PathFromSelection(paths []string) string {
	for _, p := range paths {
		if p != "" {
			return p
		}
	}
	return ""
}

// SaveParameterSet encodes values as a parameter set and writes it to path.
// An empty path is a canceled dialog: nothing is written and saved is false.
func SaveParameterSet(ctx context.Context, p Persistence, path string, values models.ArgumentSet, spec models.ModelSpec, opts Options) (saved bool, err error) {
	if path == "" {
		return false, nil
	}
	opts.TargetPath = path
	payload, err := BuildParameterSet(values, spec, opts)
	if err != nil {
		return false, err
	}
	if err := p.WriteParameterSet(ctx, path, payload); err != nil {
		return false, fmt.Errorf("failed to save parameter set: %w", err)
	}
	return true, nil
}

// SaveScript builds a script payload for path and hands it to p. An empty
// path is a no-op.
func SaveScript(ctx context.Context, p Persistence, path string, values models.ArgumentSet, spec models.ModelSpec, workers int) (saved bool, err error) {
	if path == "" {
		return false, nil
	}
	payload, err := BuildScript(values, spec, workers, path)
	if err != nil {
		return false, err
	}
	if err := p.WriteScript(ctx, path, payload); err != nil {
		return false, fmt.Errorf("failed to save script: %w", err)
	}
	return true, nil
}

// LoadFromFile reads and parses a parameter set. An empty path is a no-op
// and ok is false.
func LoadFromFile(ctx context.Context, p Persistence, path string) (ds models.Datastack, ok bool, err error) {
	if path == "" {
		return models.Datastack{}, false, nil
	}
	raw, err := p.ReadDatastackFromFile(ctx, path)
	if err != nil {
		return models.Datastack{}, false, fmt.Errorf("failed to read %s: %w", path, err)
	}
	ds, err = DeserializeDatastack(raw)
	if err != nil {
		return models.Datastack{}, false, err
	}
	return ds, true, nil
}

// LoadFromLogfile recovers a datastack from a model run logfile. An empty
// path is a no-op and ok is false.
func LoadFromLogfile(ctx context.Context, p Persistence, path string) (ds models.Datastack, ok bool, err error) {
	if path == "" {
		return models.Datastack{}, false, nil
	}
	raw, err := p.ReadDatastackFromLogfile(ctx, path)
	if err != nil {
		return models.Datastack{}, false, fmt.Errorf("failed to read %s: %w", path, err)
	}
	ds, err = ExtractFromLogfile(bytes.NewReader(raw))
	if err != nil {
		return models.Datastack{}, false, err
	}
	return ds, true, nil
}
