// Package specs loads model argument specifications from YAML or JSON files.
//
// A catalog searches user directories first and then the specs built into
// the binary. A model is found by the last component of its module name:
// natcap.invest.stormwater is read from stormwater.yaml, stormwater.yml or
// stormwater.json.
package specs

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/rescale/modelbench/internal/models"
	"github.com/rescale/modelbench/internal/validation"
)

//go:embed builtin/*.yaml
var builtin embed.FS

// ErrSpecNotFound is returned when no source has a spec for a module.
var ErrSpecNotFound = errors.New("model spec not found")

var extensions = []string{".yaml", ".yml", ".json"}

// Catalog implements the core's SpecProvider on top of spec files.
type Catalog struct {
	sources []fs.FS

	mu    sync.Mutex
	cache map[string]models.ModelSpec
}

// NewCatalog searches dirs in order and then the built-in specs.
func NewCatalog(dirs ...string) *Catalog {
	sources := make([]fs.FS, 0, len(dirs)+1)
	for _, d := range dirs {
		if d != "" {
			sources = append(sources, os.DirFS(d))
		}
	}
	sub, err := fs.Sub(builtin, "builtin")
	if err == nil {
		sources = append(sources, sub)
	}
	return NewCatalogFS(sources...)
}

// NewCatalogFS searches the given file systems in order.
func NewCatalogFS(sources ...fs.FS) *Catalog {
	return &Catalog{sources: sources, cache: make(map[string]models.ModelSpec)}
}

// baseName returns the file stem for a module name.
func baseName(moduleName string) string {
	if i := strings.LastIndex(moduleName, "."); i >= 0 {
		return moduleName[i+1:]
	}
	return moduleName
}

// GetSpec returns the spec of moduleName. Full module names and their last
// component are both accepted.
func (c *Catalog) GetSpec(ctx context.Context, moduleName string) (models.ModelSpec, error) {
	if err := ctx.Err(); err != nil {
		return models.ModelSpec{}, err
	}
	base := baseName(moduleName)
	if err := validation.ValidateFilename(base); err != nil {
		return models.ModelSpec{}, fmt.Errorf("invalid model name %q: %w", moduleName, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if spec, ok := c.cache[base]; ok {
		return spec, nil
	}

	for _, src := range c.sources {
		for _, ext := range extensions {
			data, err := fs.ReadFile(src, base+ext)
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			if err != nil {
				return models.ModelSpec{}, fmt.Errorf("failed to read spec %s: %w", base+ext, err)
			}
			spec, err := Parse(data, ext)
			if err != nil {
				return models.ModelSpec{}, fmt.Errorf("spec %s: %w", base+ext, err)
			}
			if baseName(spec.ModuleName) != base {
				return models.ModelSpec{}, fmt.Errorf("spec %s declares module %q", base+ext, spec.ModuleName)
			}
			c.cache[base] = spec
			return spec, nil
		}
	}
	return models.ModelSpec{}, fmt.Errorf("%w: %s", ErrSpecNotFound, moduleName)
}

// Parse decodes a spec file. ext selects JSON (".json") or YAML.
func Parse(data []byte, ext string) (models.ModelSpec, error) {
	var spec models.ModelSpec
	var err error
	if ext == ".json" {
		err = json.Unmarshal(data, &spec)
	} else {
		err = yaml.Unmarshal(data, &spec)
	}
	if err != nil {
		return models.ModelSpec{}, fmt.Errorf("failed to parse: %w", err)
	}
	if err := spec.Normalize(); err != nil {
		return models.ModelSpec{}, err
	}
	return spec, nil
}

// List returns the models available from every source, sorted by module
// name. Earlier sources shadow later ones. Unparseable files are skipped.
func (c *Catalog) List(ctx context.Context) ([]models.ModelMeta, error) {
	seen := make(map[string]bool)
	var out []models.ModelMeta
	for _, src := range c.sources {
		entries, err := fs.ReadDir(src, ".")
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("failed to list specs: %w", err)
		}
		for _, e := range entries {
			ext := path.Ext(e.Name())
			base := strings.TrimSuffix(e.Name(), ext)
			if e.IsDir() || !isSpecExt(ext) || seen[base] {
				continue
			}
			spec, err := c.GetSpec(ctx, base)
			if err != nil {
				continue
			}
			seen[base] = true
			out = append(out, models.MetaOf(spec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ModuleName < out[j].ModuleName })
	return out, nil
}

func isSpecExt(ext string) bool {
	for _, e := range extensions {
		if e == ext {
			return true
		}
	}
	return false
}
