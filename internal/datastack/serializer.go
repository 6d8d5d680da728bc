// Package datastack converts argument values to and from the parameter set
// and script payloads, and reads datastacks back from files and logfiles.
//
// Every argument value is written as a JSON string, whatever its declared
// type, and both payloads carry a synthesized n_workers key that is not part
// of any model spec.
package datastack

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/rescale/modelbench/internal/constants"
	"github.com/rescale/modelbench/internal/models"
	"github.com/rescale/modelbench/internal/validation"
	"github.com/rescale/modelbench/internal/version"
)

// MalformedDatastackError reports input that is not a usable datastack.
type MalformedDatastackError struct {
	Field  string // missing or invalid field, empty for unparseable input
	Reason string
	Err    error
}

func (e *MalformedDatastackError) Error() string {
	msg := "malformed datastack"
	if e.Field != "" {
		msg += ": " + e.Field
	}
	if e.Reason != "" {
		msg += " " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *MalformedDatastackError) Unwrap() error {
	return e.Err
}

// Options controls parameter set encoding.
type Options struct {
	// Workers becomes the synthesized n_workers value.
	Workers int
	// RelativePaths rewrites path arguments relative to TargetPath's
	// directory.
	RelativePaths bool
	TargetPath    string
}

// EncodeArgs renders values plus n_workers as a JSON object of strings.
func EncodeArgs(values models.ArgumentSet, workers int) (string, error) {
	out := make(map[string]string, len(values)+1)
	for k, v := range values {
		out[k] = v
	}
	out[constants.NWorkersKey] = strconv.Itoa(workers)

	// encoding/json sorts map keys, so equal inputs encode identically
	data, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("failed to encode args: %w", err)
	}
	return string(data), nil
}

// BuildParameterSet builds the parameter set payload for spec's model.
func BuildParameterSet(values models.ArgumentSet, spec models.ModelSpec, opts Options) (models.ParameterSet, error) {
	if opts.RelativePaths {
		if opts.TargetPath == "" {
			return models.ParameterSet{}, fmt.Errorf("relative paths need a target path")
		}
		values = MakeRelative(values, spec, filepath.Dir(opts.TargetPath))
	}
	args, err := EncodeArgs(values, opts.Workers)
	if err != nil {
		return models.ParameterSet{}, err
	}
	return models.ParameterSet{
		ModuleName:    spec.ModuleName,
		ModelName:     spec.ModelName,
		RelativePaths: opts.RelativePaths,
		Args:          args,
		Version:       version.Version,
	}, nil
}

// BuildScript builds the payload a script renderer turns into a standalone
// invocation script saved at filePath.
func BuildScript(values models.ArgumentSet, spec models.ModelSpec, workers int, filePath string) (models.ScriptPayload, error) {
	args, err := EncodeArgs(values, workers)
	if err != nil {
		return models.ScriptPayload{}, err
	}
	meta := models.MetaOf(spec)
	return models.ScriptPayload{
		FilePath:  filePath,
		ModelName: meta.ModelName,
		PyName:    meta.PyName,
		Args:      args,
	}, nil
}

// MarshalParameterSet renders the on-disk form of ps.
func MarshalParameterSet(ps models.ParameterSet) ([]byte, error) {
	data, err := json.MarshalIndent(ps, "", "    ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal parameter set: %w", err)
	}
	return append(data, '\n'), nil
}

type rawParameterSet struct {
	ModuleName    *string         `json:"model_name"`
	RelativePaths bool            `json:"relativePaths"`
	Args          json.RawMessage `json:"args"`
	Version       string          `json:"invest_version"`
}

// DeserializeDatastack parses a parameter set. args may be the string blob
// written by BuildParameterSet or a plain JSON object; non-string values are
// stringified. On failure the returned Datastack is always the zero value.
func DeserializeDatastack(raw []byte) (models.Datastack, error) {
	var ps rawParameterSet
	if err := json.Unmarshal(raw, &ps); err != nil {
		return models.Datastack{}, &MalformedDatastackError{Reason: "is not a JSON object", Err: err}
	}
	if ps.ModuleName == nil || *ps.ModuleName == "" {
		return models.Datastack{}, &MalformedDatastackError{Field: "model_name", Reason: "is missing"}
	}
	if len(ps.Args) == 0 || string(ps.Args) == "null" {
		return models.Datastack{}, &MalformedDatastackError{Field: "args", Reason: "is missing"}
	}

	argsObject := []byte(ps.Args)
	var blob string
	if err := json.Unmarshal(ps.Args, &blob); err == nil {
		argsObject = []byte(blob)
	}
	args, err := decodeArgsObject(argsObject)
	if err != nil {
		return models.Datastack{}, &MalformedDatastackError{Field: "args", Reason: "is not an object", Err: err}
	}

	return models.Datastack{
		ModuleName:    *ps.ModuleName,
		Args:          args,
		RelativePaths: ps.RelativePaths,
		Version:       ps.Version,
	}, nil
}

func decodeArgsObject(data []byte) (models.ArgumentSet, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	if fields == nil {
		return nil, fmt.Errorf("args is null")
	}
	out := make(models.ArgumentSet, len(fields))
	for k, v := range fields {
		s, err := stringify(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		out[k] = s
	}
	return out, nil
}

func stringify(raw json.RawMessage) (string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return "", err
	}
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	case json.Number:
		return t.String(), nil
	case bool:
		return strconv.FormatBool(t), nil
	default:
		var buf bytes.Buffer
		if err := json.Compact(&buf, raw); err != nil {
			return "", err
		}
		return buf.String(), nil
	}
}

// MakeRelative rewrites absolute path arguments that lie inside baseDir as
// paths relative to it. Other values are returned unchanged.
func MakeRelative(values models.ArgumentSet, spec models.ModelSpec, baseDir string) models.ArgumentSet {
	out := values.Clone()
	for key, v := range values {
		arg, ok := spec.Args[key]
		if !ok || !arg.Type.IsPath() || v == "" || !filepath.IsAbs(v) {
			continue
		}
		if err := validation.ValidatePathInDirectory(v, baseDir); err != nil {
			continue
		}
		base, err := filepath.Abs(baseDir)
		if err != nil {
			continue
		}
		if rel, err := filepath.Rel(base, v); err == nil {
			out[key] = filepath.ToSlash(rel)
		}
	}
	return out
}

// ResolveRelative turns relative path arguments back into absolute paths
// under baseDir. A relative path that escapes baseDir is an error.
func ResolveRelative(values models.ArgumentSet, spec models.ModelSpec, baseDir string) (models.ArgumentSet, error) {
	out := values.Clone()
	for key, v := range values {
		arg, ok := spec.Args[key]
		if !ok || !arg.Type.IsPath() || v == "" {
			continue
		}
		resolved, err := validation.ResolveInDirectory(filepath.FromSlash(v), baseDir)
		if err != nil {
			return nil, fmt.Errorf("argument %s: %w", key, err)
		}
		out[key] = resolved
	}
	return out, nil
}
