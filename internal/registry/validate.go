package registry

import (
	"context"
	"fmt"
	"strings"

	"github.com/vk/pagirun/internal/ctxlog"
	"github.com/vk/pagirun/internal/options"
)

// ValidateRegistry checks every code-level override table against the
// options its target declares. Tables must name a registered component or
// workflow, and every key must be a declared option whose value converts to
// the declared kind.
func (r *Registry) ValidateRegistry(ctx context.Context) error {
	var errs []string
	logger := ctxlog.FromContext(ctx)

	for _, name := range sortedKeys(r.CodeOverrides) {
		var defaults func() *options.OptionSet
		if c, ok := r.Components[name]; ok {
			defaults = c.Defaults
		} else if w, ok := r.Workflows[name]; ok {
			defaults = w.Defaults
		} else {
			errs = append(errs, fmt.Sprintf("code overrides for '%s': no component or workflow with that name", name))
			continue
		}

		set := defaults()
		if err := set.Override(r.CodeOverrides[name], options.Strict); err != nil {
			errs = append(errs, fmt.Sprintf("code overrides for '%s': %v", name, err))
		}
	}

	for _, name := range sortedKeys(r.Components) {
		if r.Components[name].Defaults().Sealed() {
			errs = append(errs, fmt.Sprintf("component '%s': defaults must return a fresh, unsealed option set", name))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("registry validation failed:\n- %s", strings.Join(errs, "\n- "))
	}

	logger.Debug("Registry validated.",
		"components", len(r.Components),
		"datasets", len(r.Datasets),
		"workflows", len(r.Workflows),
		"code_overrides", len(r.CodeOverrides),
	)
	return nil
}
