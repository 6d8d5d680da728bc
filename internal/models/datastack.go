package models

// ArgumentSet maps argument keys to their textual values.
type ArgumentSet map[string]string

// Clone returns an independent copy.
func (a ArgumentSet) Clone() ArgumentSet {
	out := make(ArgumentSet, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// ValidationError is one failure shared by one or more argument keys.
type ValidationError struct {
	AffectedKeys []string `json:"keys"`
	Message      string   `json:"message"`
}

// Datastack is the portable unit of load and save. RelativePaths and
// Version are carried over from the file the datastack was read from.
type Datastack struct {
	ModuleName    string      `json:"model_name"`
	Args          ArgumentSet `json:"args"`
	RelativePaths bool        `json:"-"`
	Version       string      `json:"-"`
}

// ParameterSet is the on-disk parameter set payload. Args holds a JSON object
// encoded as a string, every value itself a string.
type ParameterSet struct {
	ModuleName    string `json:"model_name"`
	ModelName     string `json:"model_human_name,omitempty"`
	RelativePaths bool   `json:"relativePaths"`
	Args          string `json:"args"`
	Version       string `json:"invest_version,omitempty"`
}

// ScriptPayload carries what a renderer needs to produce an invocation script.
type ScriptPayload struct {
	FilePath  string `json:"filepath"`
	ModelName string `json:"modelname"`
	PyName    string `json:"pyname"`
	Args      string `json:"args"`
}

// ModelMeta identifies the model a payload belongs to.
type ModelMeta struct {
	ModuleName string
	ModelName  string
	PyName     string
}

// MetaOf extracts identity metadata from a model spec.
func MetaOf(spec ModelSpec) ModelMeta {
	py := spec.PyName
	if py == "" {
		py = spec.ModuleName
	}
	return ModelMeta{
		ModuleName: spec.ModuleName,
		ModelName:  spec.ModelName,
		PyName:     py,
	}
}
