package validation

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/gocty"

	"github.com/rescale/modelbench/internal/constants"
	"github.com/rescale/modelbench/internal/models"
)

// Messages reported by SpecValidator.
const (
	MsgRequired     = "is a required key"
	MsgNotNumber    = "must be a number"
	MsgNotInteger   = "must be an integer"
	MsgNotBoolean   = "must be true or false"
	MsgRatioRange   = "must be between 0 and 1"
	MsgPercentRange = "must be between 0 and 100"
	MsgNotFound     = "not found on disk"
	MsgNotDirectory = "must be a directory"
	MsgIsDirectory  = "must be a file, not a directory"
	MsgNWorkers     = "must be an integer of -1 or greater"
)

// SpecValidator validates argument values locally against a ModelSpec.
type SpecValidator struct {
	specs map[string]models.ModelSpec
	// BaseDir resolves relative path arguments. Empty means the process
	// working directory.
	BaseDir string
}

// NewSpecValidator creates a validator for the given model specs.
func NewSpecValidator(specs ...models.ModelSpec) *SpecValidator {
	v := &SpecValidator{specs: make(map[string]models.ModelSpec, len(specs))}
	for _, s := range specs {
		v.specs[s.ModuleName] = s
	}
	return v
}

// Validate implements Validator. Keys sharing a message are grouped into a
// single entry, in the order the message first appears.
func (v *SpecValidator) Validate(ctx context.Context, moduleName string, args map[string]string) ([]models.ValidationError, error) {
	spec, ok := v.specs[moduleName]
	if !ok {
		return nil, fmt.Errorf("no spec loaded for model %q", moduleName)
	}

	var grouped groupedErrors
	for _, key := range spec.Keys() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		arg := spec.Args[key]
		value, present := args[key]
		value = strings.TrimSpace(value)

		if !present || value == "" {
			if arg.Required.IsRequired(args) {
				grouped.add(key, MsgRequired)
			}
			continue
		}
		if msg := v.checkValue(arg, value); msg != "" {
			grouped.add(key, msg)
		}
	}

	if raw, ok := args[constants.NWorkersKey]; ok && !spec.Has(constants.NWorkersKey) {
		if msg := checkNWorkers(raw); msg != "" {
			grouped.add(constants.NWorkersKey, msg)
		}
	}
	return grouped.list, nil
}

func (v *SpecValidator) checkValue(arg models.ArgSpec, value string) string {
	switch arg.Type {
	case models.TypeNumber, models.TypeRatio, models.TypePercent, models.TypeInteger:
		return checkNumber(arg.Type, value)
	case models.TypeBoolean:
		if _, err := convert.Convert(cty.StringVal(strings.ToLower(value)), cty.Bool); err != nil {
			return MsgNotBoolean
		}
	case models.TypeOptionString:
		return checkOption(arg.Options, value)
	case models.TypeDirectory:
		return v.checkPath(arg, value, true)
	case models.TypeFile, models.TypeCSV, models.TypeRaster, models.TypeVector:
		return v.checkPath(arg, value, false)
	}
	return ""
}

func checkNumber(t models.ArgType, value string) string {
	num, err := convert.Convert(cty.StringVal(value), cty.Number)
	if err != nil {
		return MsgNotNumber
	}
	bf := num.AsBigFloat()
	switch t {
	case models.TypeInteger:
		if !bf.IsInt() {
			return MsgNotInteger
		}
	case models.TypeRatio:
		if bf.Cmp(big.NewFloat(0)) < 0 || bf.Cmp(big.NewFloat(1)) > 0 {
			return MsgRatioRange
		}
	case models.TypePercent:
		if bf.Cmp(big.NewFloat(0)) < 0 || bf.Cmp(big.NewFloat(100)) > 0 {
			return MsgPercentRange
		}
	}
	return ""
}

func checkNWorkers(value string) string {
	num, err := convert.Convert(cty.StringVal(strings.TrimSpace(value)), cty.Number)
	if err != nil {
		return MsgNWorkers
	}
	var n int
	if err := gocty.FromCtyValue(num, &n); err != nil || n < constants.MinNWorkers {
		return MsgNWorkers
	}
	return ""
}

func checkOption(options []string, value string) string {
	if len(options) == 0 {
		return ""
	}
	for _, o := range options {
		if o == value {
			return ""
		}
	}
	return "must be one of: " + strings.Join(options, ", ")
}

func (v *SpecValidator) checkPath(arg models.ArgSpec, value string, wantDir bool) string {
	if mustExist, ok := arg.ValidationOptions["must_exist"].(bool); ok && !mustExist {
		return ""
	}
	path := value
	if !filepath.IsAbs(path) && v.BaseDir != "" {
		path = filepath.Join(v.BaseDir, path)
	}
	info, err := os.Stat(path)
	if err != nil {
		return MsgNotFound
	}
	if wantDir && !info.IsDir() {
		return MsgNotDirectory
	}
	if !wantDir && info.IsDir() {
		return MsgIsDirectory
	}
	return ""
}

type groupedErrors struct {
	list []models.ValidationError
}

func (g *groupedErrors) add(key, msg string) {
	for i := range g.list {
		if g.list[i].Message == msg {
			g.list[i].AffectedKeys = append(g.list[i].AffectedKeys, key)
			return
		}
	}
	g.list = append(g.list, models.ValidationError{AffectedKeys: []string{key}, Message: msg})
}
