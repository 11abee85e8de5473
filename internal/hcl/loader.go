package hcl

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/vk/pagirun/internal/config"
	"github.com/vk/pagirun/internal/ctxlog"
	"github.com/vk/pagirun/internal/options"
)

// Loader is the HCL/JSON implementation of config.Loader.
type Loader struct{}

// NewLoader creates a new HCL definition loader.
func NewLoader() *Loader {
	return &Loader{}
}

var _ config.Loader = (*Loader)(nil)

// Load parses the file at path. Files ending in .json are parsed as JSON,
// everything else as native HCL syntax.
func (l *Loader) Load(ctx context.Context, path string) (*config.Definition, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Loading experiment definition.", "path", path)

	parser := hclparse.NewParser()
	var (
		file  *hcl.File
		diags hcl.Diagnostics
	)
	if strings.EqualFold(filepath.Ext(path), ".json") {
		file, diags = parser.ParseJSONFile(path)
	} else {
		file, diags = parser.ParseHCLFile(path)
	}
	if diags.HasErrors() {
		return nil, &config.ConfigurationError{Target: path, Err: fmt.Errorf("failed to parse: %w", diags)}
	}

	blocks, err := l.blocks(file.Body)
	if err != nil {
		return nil, &config.ConfigurationError{Target: path, Err: err}
	}

	def, err := config.NewDefinition(path, blocks)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(blocks))
	for k := range blocks {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	logger.Debug("Experiment definition loaded.", "path", path, "blocks", keys)
	return def, nil
}

// blocks collects the top-level mappings of a definition body.
func (l *Loader) blocks(body hcl.Body) (map[string]options.Mapping, error) {
	out := make(map[string]options.Mapping)

	if syn, ok := body.(*hclsyntax.Body); ok {
		for _, b := range syn.Blocks {
			if len(b.Labels) > 0 {
				return nil, fmt.Errorf("%s: block %q must not have labels", b.DefRange().String(), b.Type)
			}
			if len(b.Body.Blocks) > 0 {
				return nil, fmt.Errorf("%s: block %q must only contain attributes", b.DefRange().String(), b.Type)
			}
			if _, dup := out[b.Type]; dup {
				return nil, fmt.Errorf("%s: %q defined more than once", b.DefRange().String(), b.Type)
			}
			attrs := make(hcl.Attributes, len(b.Body.Attributes))
			for name, a := range b.Body.Attributes {
				attrs[name] = a.AsHCLAttribute()
			}
			m, err := attributesMapping(attrs)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", b.Type, err)
			}
			out[b.Type] = m
		}
		for name, a := range syn.Attributes {
			if _, dup := out[name]; dup {
				return nil, fmt.Errorf("%s: %q defined more than once", a.SrcRange.String(), name)
			}
			m, err := valueMapping(name, a.AsHCLAttribute())
			if err != nil {
				return nil, err
			}
			out[name] = m
		}
		return out, nil
	}

	attrs, diags := body.JustAttributes()
	if diags.HasErrors() {
		return nil, diags
	}
	for name, a := range attrs {
		m, err := valueMapping(name, a)
		if err != nil {
			return nil, err
		}
		out[name] = m
	}
	return out, nil
}

func valueMapping(name string, a *hcl.Attribute) (options.Mapping, error) {
	val, diags := a.Expr.Value(nil)
	if diags.HasErrors() {
		return nil, fmt.Errorf("%s: %w", name, diags)
	}
	if val.IsNull() {
		return nil, nil
	}
	m, err := options.MappingFromValue(val)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return m, nil
}

func attributesMapping(attrs hcl.Attributes) (options.Mapping, error) {
	out := make(options.Mapping, len(attrs))
	for name, a := range attrs {
		val, diags := a.Expr.Value(nil)
		if diags.HasErrors() {
			return nil, fmt.Errorf("%s: %w", name, diags)
		}
		if !val.IsWhollyKnown() {
			return nil, fmt.Errorf("%s: value is not known", name)
		}
		out[name] = val
	}
	return out, nil
}
