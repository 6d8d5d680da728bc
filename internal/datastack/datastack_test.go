package datastack

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rescale/modelbench/internal/models"
)

func carbonSpec() models.ModelSpec {
	return models.ModelSpec{
		ModuleName: "carbon",
		ModelName:  "Carbon Storage and Sequestration",
		PyName:     "natcap.invest.carbon",
		Args: map[string]models.ArgSpec{
			"workspace_dir":             {Key: "workspace_dir", Type: models.TypeDirectory},
			"lulc_cur_path":             {Key: "lulc_cur_path", Type: models.TypeRaster},
			"calc_sequestration":        {Key: "calc_sequestration", Type: models.TypeBoolean},
			"price_per_metric_ton_of_c": {Key: "price_per_metric_ton_of_c", Type: models.TypeNumber},
			"results_suffix":            {Key: "results_suffix", Type: models.TypeFreestyleString},
		},
	}
}

func carbonValues() models.ArgumentSet {
	return models.ArgumentSet{
		"workspace_dir":             "/data/ws",
		"lulc_cur_path":             "/data/lulc.tif",
		"calc_sequestration":        "True",
		"price_per_metric_ton_of_c": "43",
		"results_suffix":            `quoted "suffix"`,
	}
}

func TestEncodeArgs_AllStringsWithNWorkers(t *testing.T) {
	blob, err := EncodeArgs(carbonValues(), 4)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(blob), &decoded))

	for k, v := range decoded {
		_, isString := v.(string)
		assert.True(t, isString, "%s should be encoded as a string, got %T", k, v)
	}
	assert.Equal(t, "4", decoded["n_workers"])
	assert.Len(t, decoded, len(carbonValues())+1)
}

func TestRoundTrip(t *testing.T) {
	spec := carbonSpec()
	values := carbonValues()

	for _, workers := range []int{-1, 0, 8} {
		ps, err := BuildParameterSet(values, spec, Options{Workers: workers})
		require.NoError(t, err)
		raw, err := MarshalParameterSet(ps)
		require.NoError(t, err)

		ds, err := DeserializeDatastack(raw)
		require.NoError(t, err)

		assert.Equal(t, "carbon", ds.ModuleName)
		for key := range spec.Args {
			assert.Equal(t, values[key], ds.Args[key], "key %s", key)
		}
		// the synthesized key is present and a string
		assert.Equal(t, strings.TrimSpace(jsonInt(workers)), ds.Args["n_workers"])
		assert.False(t, ds.RelativePaths)
	}
}

func jsonInt(n int) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func TestBuildParameterSet_ArgsIsStringBlob(t *testing.T) {
	ps, err := BuildParameterSet(carbonValues(), carbonSpec(), Options{Workers: -1})
	require.NoError(t, err)
	raw, err := MarshalParameterSet(ps)
	require.NoError(t, err)

	var generic map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &generic))
	_, isString := generic["args"].(string)
	assert.True(t, isString, "args is serialized as a text blob")
	assert.Equal(t, "carbon", generic["model_name"])
	assert.Equal(t, false, generic["relativePaths"])
}

func TestBuildScript(t *testing.T) {
	payload, err := BuildScript(carbonValues(), carbonSpec(), 2, "/tmp/run_carbon.py")
	require.NoError(t, err)

	assert.Equal(t, "/tmp/run_carbon.py", payload.FilePath)
	assert.Equal(t, "Carbon Storage and Sequestration", payload.ModelName)
	assert.Equal(t, "natcap.invest.carbon", payload.PyName)
	assert.Contains(t, payload.Args, `"n_workers":"2"`)
}

func TestDeserializeDatastack_ObjectArgs(t *testing.T) {
	raw := []byte(`{
		"model_name": "carbon",
		"invest_version": "3.14.2",
		"args": {"price_per_metric_ton_of_c": 43.5, "calc_sequestration": true, "lulc_cur_path": null, "extra": [1, 2]}
	}`)
	ds, err := DeserializeDatastack(raw)
	require.NoError(t, err)

	assert.Equal(t, models.ArgumentSet{
		"price_per_metric_ton_of_c": "43.5",
		"calc_sequestration":        "true",
		"lulc_cur_path":             "",
		"extra":                     "[1,2]",
	}, ds.Args)
	assert.Equal(t, "3.14.2", ds.Version)
}

func TestDeserializeDatastack_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		field string
	}{
		{"not json", `model_name = carbon`, ""},
		{"missing model name", `{"args": "{}"}`, "model_name"},
		{"empty model name", `{"model_name": "", "args": "{}"}`, "model_name"},
		{"missing args", `{"model_name": "carbon"}`, "args"},
		{"null args", `{"model_name": "carbon", "args": null}`, "args"},
		{"args not object", `{"model_name": "carbon", "args": "[1, 2]"}`, "args"},
		{"args blob not json", `{"model_name": "carbon", "args": "workspace=/x"}`, "args"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ds, err := DeserializeDatastack([]byte(tt.raw))
			var malformed *MalformedDatastackError
			require.True(t, errors.As(err, &malformed), "got %v", err)
			assert.Equal(t, tt.field, malformed.Field)
			assert.Equal(t, models.Datastack{}, ds, "nothing is partially filled")
		})
	}
}

func TestRelativePaths(t *testing.T) {
	base := t.TempDir()
	target := filepath.Join(base, "params.json")
	spec := carbonSpec()
	values := carbonValues()
	values["workspace_dir"] = filepath.Join(base, "ws")
	values["lulc_cur_path"] = filepath.Join(base, "inputs", "lulc.tif")
	outside := filepath.Join(filepath.Dir(base), "shared", "other.tif")

	ps, err := BuildParameterSet(values, spec, Options{RelativePaths: true, TargetPath: target})
	require.NoError(t, err)
	assert.True(t, ps.RelativePaths)

	raw, err := MarshalParameterSet(ps)
	require.NoError(t, err)
	ds, err := DeserializeDatastack(raw)
	require.NoError(t, err)
	assert.True(t, ds.RelativePaths)
	assert.Equal(t, "ws", ds.Args["workspace_dir"])
	assert.Equal(t, "inputs/lulc.tif", ds.Args["lulc_cur_path"])
	assert.Equal(t, `quoted "suffix"`, ds.Args["results_suffix"], "non-path values untouched")

	resolved, err := ResolveRelative(ds.Args, spec, base)
	require.NoError(t, err)
	assert.Equal(t, values["workspace_dir"], resolved["workspace_dir"])
	assert.Equal(t, values["lulc_cur_path"], resolved["lulc_cur_path"])

	// paths outside the target directory stay absolute
	values["lulc_cur_path"] = outside
	rel := MakeRelative(values, spec, base)
	assert.Equal(t, outside, rel["lulc_cur_path"])

	_, err = ResolveRelative(models.ArgumentSet{"lulc_cur_path": "../../escape.tif"}, spec, base)
	assert.Error(t, err)

	_, err = BuildParameterSet(values, spec, Options{RelativePaths: true})
	assert.Error(t, err, "relative paths without a target")
}

func TestExtractFromLogfile(t *testing.T) {
	logfile := `01/05/2024 10:00:00  natcap.invest.utils INFO Writing log messages to /ws/log.txt
Arguments for InVEST natcap.invest.carbon 3.14.2:
calc_sequestration        True
lulc_cur_path             /data/lulc cur.tif
n_workers                 -1
results_suffix

01/05/2024 10:00:01  natcap.invest.carbon INFO Starting model
`
	ds, err := ExtractFromLogfile(strings.NewReader(logfile))
	require.NoError(t, err)

	assert.Equal(t, "natcap.invest.carbon", ds.ModuleName)
	assert.Equal(t, "3.14.2", ds.Version)
	assert.Equal(t, models.ArgumentSet{
		"calc_sequestration": "True",
		"lulc_cur_path":      "/data/lulc cur.tif",
		"n_workers":          "-1",
		"results_suffix":     "",
	}, ds.Args)
}

func TestExtractFromLogfile_ShortHeaderAndPrefixes(t *testing.T) {
	logfile := "Arguments for stormwater:\r\n" +
		"01/05/2024 10:00:00  natcap.invest.utils INFO workspace_dir   /tmp/ws\r\n" +
		"\r\n"
	ds, err := ExtractFromLogfile(strings.NewReader(logfile))
	require.NoError(t, err)
	assert.Equal(t, "stormwater", ds.ModuleName)
	assert.Equal(t, "", ds.Version)
	assert.Equal(t, models.ArgumentSet{"workspace_dir": "/tmp/ws"}, ds.Args)
}

func TestExtractFromLogfile_NoBlock(t *testing.T) {
	_, err := ExtractFromLogfile(strings.NewReader("nothing to see\n"))
	var malformed *MalformedDatastackError
	assert.True(t, errors.As(err, &malformed))

	_, err = ExtractFromLogfile(strings.NewReader("Arguments for carbon:\n\n"))
	assert.True(t, errors.As(err, &malformed))
}

// countingPersistence records every collaborator call.
type countingPersistence struct {
	calls    []string
	files    map[string][]byte
	logfiles map[string][]byte
	written  []models.ParameterSet
	scripts  []models.ScriptPayload
}

func (c *countingPersistence) WriteParameterSet(_ context.Context, path string, payload models.ParameterSet) error {
	c.calls = append(c.calls, "WriteParameterSet:"+path)
	c.written = append(c.written, payload)
	return nil
}

func (c *countingPersistence) WriteScript(_ context.Context, path string, payload models.ScriptPayload) error {
	c.calls = append(c.calls, "WriteScript:"+path)
	c.scripts = append(c.scripts, payload)
	return nil
}

func (c *countingPersistence) ReadDatastackFromFile(_ context.Context, path string) ([]byte, error) {
	c.calls = append(c.calls, "ReadDatastackFromFile:"+path)
	raw, ok := c.files[path]
	if !ok {
		return nil, errors.New("no such file")
	}
	return raw, nil
}

func (c *countingPersistence) ReadDatastackFromLogfile(_ context.Context, path string) ([]byte, error) {
	c.calls = append(c.calls, "ReadDatastackFromLogfile:"+path)
	return c.logfiles[path], nil
}

func TestCanceledDialogsMakeNoCalls(t *testing.T) {
	ctx := context.Background()
	p := &countingPersistence{}
	spec := carbonSpec()

	saved, err := SaveParameterSet(ctx, p, "", carbonValues(), spec, Options{})
	assert.NoError(t, err)
	assert.False(t, saved)

	saved, err = SaveScript(ctx, p, PathFromSelection(nil), carbonValues(), spec, -1)
	assert.NoError(t, err)
	assert.False(t, saved)

	_, ok, err := LoadFromFile(ctx, p, PathFromSelection([]string{}))
	assert.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = LoadFromLogfile(ctx, p, "")
	assert.NoError(t, err)
	assert.False(t, ok)

	assert.Empty(t, p.calls)
}

func TestSaveAndLoadThroughPersistence(t *testing.T) {
	ctx := context.Background()
	p := &countingPersistence{files: map[string][]byte{}}
	spec := carbonSpec()

	saved, err := SaveParameterSet(ctx, p, "/out/params.json", carbonValues(), spec, Options{Workers: 3})
	require.NoError(t, err)
	require.True(t, saved)
	require.Len(t, p.written, 1)

	raw, err := MarshalParameterSet(p.written[0])
	require.NoError(t, err)
	p.files["/out/params.json"] = raw

	ds, ok, err := LoadFromFile(ctx, p, PathFromSelection([]string{"/out/params.json"}))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "3", ds.Args["n_workers"])

	_, _, err = LoadFromFile(ctx, p, "/missing.json")
	assert.Error(t, err)

	saved, err = SaveScript(ctx, p, "/out/run.py", carbonValues(), spec, 1)
	require.NoError(t, err)
	assert.True(t, saved)
	assert.Equal(t, "/out/run.py", p.scripts[0].FilePath)

	assert.Equal(t, []string{
		"WriteParameterSet:/out/params.json",
		"ReadDatastackFromFile:/out/params.json",
		"ReadDatastackFromFile:/missing.json",
		"WriteScript:/out/run.py",
	}, p.calls)
}
