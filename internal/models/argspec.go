// Package models defines the data structures shared by the workbench core:
// argument specifications, datastacks and jobs.
package models

import (
	"encoding/json"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

// ArgType is the declared type of one model argument.
type ArgType string

const (
	TypeDirectory       ArgType = "directory"
	TypeFile            ArgType = "file"
	TypeCSV             ArgType = "csv"
	TypeVector          ArgType = "vector"
	TypeRaster          ArgType = "raster"
	TypeNumber          ArgType = "number"
	TypeRatio           ArgType = "ratio"
	TypePercent         ArgType = "percent"
	TypeInteger         ArgType = "integer"
	TypeFreestyleString ArgType = "freestyle_string"
	TypeBoolean         ArgType = "boolean"
	TypeOptionString    ArgType = "option_string"
)

// IsPath reports whether values of this type name something on disk.
func (t ArgType) IsPath() bool {
	switch t {
	case TypeDirectory, TypeFile, TypeCSV, TypeVector, TypeRaster:
		return true
	}
	return false
}

// IsNumeric reports whether values of this type must parse as a number.
func (t ArgType) IsNumeric() bool {
	switch t {
	case TypeNumber, TypeRatio, TypePercent, TypeInteger:
		return true
	}
	return false
}

// Valid reports whether t is a known argument type. "option" is accepted as
// an alias of option_string.
func (t ArgType) Valid() bool {
	switch t {
	case TypeDirectory, TypeFile, TypeCSV, TypeVector, TypeRaster,
		TypeNumber, TypeRatio, TypePercent, TypeInteger,
		TypeFreestyleString, TypeBoolean, TypeOptionString:
		return true
	}
	return false
}

func normalizeType(t ArgType) ArgType {
	if t == "option" {
		return TypeOptionString
	}
	return t
}

// RequiredRule says whether an argument must have a value. The zero value
// means optional. A non-empty When makes the argument required only when
// the named argument holds a truthy value.
type RequiredRule struct {
	Always bool
	When   string
}

// IsRequired evaluates the rule against the current argument values.
func (r RequiredRule) IsRequired(args map[string]string) bool {
	if r.Always {
		return true
	}
	if r.When == "" {
		return false
	}
	return Truthy(args[r.When])
}

// MarshalJSON encodes the rule as a bool or a key name.
func (r RequiredRule) MarshalJSON() ([]byte, error) {
	if r.When != "" {
		return json.Marshal(r.When)
	}
	return json.Marshal(r.Always)
}

// UnmarshalJSON accepts true/false or the name of another argument.
func (r *RequiredRule) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*r = RequiredRule{Always: b}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("required must be a bool or an argument key: %w", err)
	}
	*r = RequiredRule{When: s}
	return nil
}

// UnmarshalYAML accepts true/false or the name of another argument.
func (r *RequiredRule) UnmarshalYAML(node *yaml.Node) error {
	var b bool
	if err := node.Decode(&b); err == nil {
		*r = RequiredRule{Always: b}
		return nil
	}
	var s string
	if err := node.Decode(&s); err != nil {
		return fmt.Errorf("line %d: required must be a bool or an argument key: %w", node.Line, err)
	}
	*r = RequiredRule{When: s}
	return nil
}

// ArgSpec is the static description of one model argument.
type ArgSpec struct {
	Key               string                 `json:"key" yaml:"key"`
	DisplayName       string                 `json:"name" yaml:"name"`
	Type              ArgType                `json:"type" yaml:"type"`
	HelpText          string                 `json:"about,omitempty" yaml:"about,omitempty"`
	Required          RequiredRule           `json:"required" yaml:"required"`
	Options           []string               `json:"options,omitempty" yaml:"options,omitempty"`
	Default           string                 `json:"default,omitempty" yaml:"default,omitempty"`
	ValidationOptions map[string]interface{} `json:"validation_options,omitempty" yaml:"validation_options,omitempty"`
}

// ModelSpec describes one model's arguments. Order is a grouping hint for
// renderers and is never interpreted by the core.
type ModelSpec struct {
	ModuleName string             `json:"module" yaml:"module"`
	ModelName  string             `json:"model_name" yaml:"model_name"`
	PyName     string             `json:"pyname,omitempty" yaml:"pyname,omitempty"`
	Args       map[string]ArgSpec `json:"args" yaml:"args"`
	Order      [][]string         `json:"order,omitempty" yaml:"order,omitempty"`
}

// Normalize fills each ArgSpec.Key from its map key and canonicalizes type
// aliases. It returns an error for empty or unknown types.
func (m *ModelSpec) Normalize() error {
	if m.ModuleName == "" {
		return fmt.Errorf("model spec has no module name")
	}
	for key, arg := range m.Args {
		if arg.Key == "" {
			arg.Key = key
		}
		if arg.Key != key {
			return fmt.Errorf("argument %q declares mismatched key %q", key, arg.Key)
		}
		arg.Type = normalizeType(arg.Type)
		if !arg.Type.Valid() {
			return fmt.Errorf("argument %q has unknown type %q", key, arg.Type)
		}
		m.Args[key] = arg
	}
	return nil
}

// Keys returns the declared argument keys in sorted order.
func (m ModelSpec) Keys() []string {
	keys := make([]string, 0, len(m.Args))
	for k := range m.Args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Has reports whether key is declared by the model.
func (m ModelSpec) Has(key string) bool {
	_, ok := m.Args[key]
	return ok
}

// Truthy mirrors how textual argument values are read as booleans.
func Truthy(v string) bool {
	switch v {
	case "", "0", "false", "False", "FALSE", "no", "No", "off":
		return false
	}
	return true
}
