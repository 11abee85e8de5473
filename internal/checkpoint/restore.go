package checkpoint

import (
	"context"
	"fmt"

	"github.com/vk/pagirun/internal/ctxlog"
	"github.com/vk/pagirun/internal/scope"
	"github.com/vk/pagirun/internal/session"
)

// Restore loads the checkpoint at path into sess. Only variables under
// scopes are restored; an empty list restores every variable. Every failure
// wraps ErrRestore.
func Restore(ctx context.Context, store Store, sess session.Session, path string, scopes scope.List) ([]string, error) {
	vars, err := store.Load(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRestore, err)
	}
	names, err := sess.Restore(vars, scopes)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrRestore, path, err)
	}
	ctxlog.FromContext(ctx).Info("Restored variables from checkpoint.", "path", path, "scopes", scopes.String(), "variables", len(names))
	return names, nil
}

// Export saves every variable of sess to path.
func Export(ctx context.Context, store Store, sess session.Session, path string) error {
	if err := store.Save(ctx, path, sess.Variables(nil)); err != nil {
		return fmt.Errorf("exporting checkpoint %s: %w", path, err)
	}
	return nil
}
