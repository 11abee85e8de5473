package hcl

import (
	"fmt"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/vk/pagirun/internal/config"
	"github.com/vk/pagirun/internal/options"
)

// ParseMapping parses a string-encoded override mapping such as
// `{learning_rate = 0.1, filters = 32}` or `{"learning_rate": 0.1}`. The
// surrounding braces are optional. An empty string yields a nil mapping,
// meaning no override. name identifies the flag in errors.
func ParseMapping(name, text string) (options.Mapping, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	if !strings.HasPrefix(text, "{") {
		text = "{" + text + "}"
	}

	expr, diags := hclsyntax.ParseExpression([]byte(text), name, hcl.Pos{Line: 1, Column: 1, Byte: 0})
	if diags.HasErrors() {
		return nil, &config.ConfigurationError{Target: name, Err: fmt.Errorf("malformed mapping: %w", diags)}
	}
	val, diags := expr.Value(nil)
	if diags.HasErrors() {
		return nil, &config.ConfigurationError{Target: name, Err: fmt.Errorf("malformed mapping: %w", diags)}
	}
	m, err := options.MappingFromValue(val)
	if err != nil {
		return nil, &config.ConfigurationError{Target: name, Err: err}
	}
	if m == nil {
		m = options.Mapping{}
	}
	return m, nil
}
