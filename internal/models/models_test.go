package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestRequiredRule_JSON(t *testing.T) {
	var spec struct {
		A RequiredRule `json:"a"`
		B RequiredRule `json:"b"`
		C RequiredRule `json:"c"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a": true, "b": false, "c": "adjust_retention_ratios"}`), &spec))

	assert.Equal(t, RequiredRule{Always: true}, spec.A)
	assert.Equal(t, RequiredRule{}, spec.B)
	assert.Equal(t, RequiredRule{When: "adjust_retention_ratios"}, spec.C)

	out, err := json.Marshal(spec.C)
	require.NoError(t, err)
	assert.JSONEq(t, `"adjust_retention_ratios"`, string(out))

	assert.Error(t, json.Unmarshal([]byte(`{"a": 12}`), &spec))
}

func TestRequiredRule_YAML(t *testing.T) {
	var spec struct {
		A RequiredRule `yaml:"a"`
		C RequiredRule `yaml:"c"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("a: true\nc: flow_dir_algorithm\n"), &spec))
	assert.True(t, spec.A.Always)
	assert.Equal(t, "flow_dir_algorithm", spec.C.When)
}

func TestRequiredRule_IsRequired(t *testing.T) {
	rule := RequiredRule{When: "adjust_retention_ratios"}
	assert.False(t, rule.IsRequired(map[string]string{"adjust_retention_ratios": ""}))
	assert.False(t, rule.IsRequired(map[string]string{"adjust_retention_ratios": "False"}))
	assert.True(t, rule.IsRequired(map[string]string{"adjust_retention_ratios": "True"}))
	assert.True(t, RequiredRule{Always: true}.IsRequired(nil))
	assert.False(t, RequiredRule{}.IsRequired(nil))
}

func TestModelSpec_Normalize(t *testing.T) {
	spec := ModelSpec{
		ModuleName: "stormwater",
		Args: map[string]ArgSpec{
			"workspace_dir":  {Type: TypeDirectory},
			"algorithm":      {Type: "option", Options: []string{"D8", "MFD"}},
			"retention_rate": {Key: "retention_rate", Type: TypeRatio},
		},
	}
	require.NoError(t, spec.Normalize())

	assert.Equal(t, "workspace_dir", spec.Args["workspace_dir"].Key)
	assert.Equal(t, TypeOptionString, spec.Args["algorithm"].Type)
	assert.Equal(t, []string{"algorithm", "retention_rate", "workspace_dir"}, spec.Keys())

	bad := ModelSpec{ModuleName: "x", Args: map[string]ArgSpec{"a": {Type: "matrix"}}}
	assert.Error(t, bad.Normalize())

	mismatched := ModelSpec{ModuleName: "x", Args: map[string]ArgSpec{"a": {Key: "b", Type: TypeFile}}}
	assert.Error(t, mismatched.Normalize())
}

func TestJobStatus_Transitions(t *testing.T) {
	tests := []struct {
		from, to JobStatus
		want     bool
	}{
		{StatusIdle, StatusRunning, true},
		{StatusIdle, StatusSuccess, false},
		{StatusRunning, StatusSuccess, true},
		{StatusRunning, StatusError, true},
		{StatusRunning, StatusRunning, false},
		{StatusSuccess, StatusRunning, true},
		{StatusError, StatusRunning, true},
		{StatusError, StatusIdle, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to), "%s -> %s", tt.from, tt.to)
	}
	assert.True(t, StatusError.IsTerminal())
	assert.False(t, StatusIdle.IsTerminal())
}

func TestArgTypeClassification(t *testing.T) {
	assert.True(t, TypeRaster.IsPath())
	assert.False(t, TypeNumber.IsPath())
	assert.True(t, TypePercent.IsNumeric())
	assert.False(t, TypeBoolean.IsNumeric())
}
