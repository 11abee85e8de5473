// Package session defines the core interfaces for creating and managing an
// execution session: the opaque engine that executes a set of requested
// computations for one step. It abstracts away the details of the concrete
// numeric backend.
package session

import (
	"context"
	"errors"

	"github.com/vk/pagirun/internal/scope"
)

// ErrClosed is returned by a Session that has already been closed.
var ErrClosed = errors.New("session is closed")

// FeedDict maps a placeholder handle to the value supplied for one step.
type FeedDict map[Handle]any

// FetchDict maps a requested handle to its result. Before a step the values
// are ignored; after a step they hold what the engine produced.
type FetchDict map[Handle]any

// Keys returns the handles of the fetch dictionary in name order.
func (f FetchDict) Keys() []Handle {
	keys := make([]Handle, 0, len(f))
	for h := range f {
		keys = append(keys, h)
	}
	SortHandles(keys)
	return keys
}

// Factory creates an execution Session for a built graph.
type Factory interface {
	NewSession(ctx context.Context, g *Graph) (Session, error)
}

// Session represents a live engine bound to one graph and owns the values of
// its variables.
//
// Run is atomic from the caller's point of view only: it blocks until every
// requested computation finished or one failed. Whether a failed Run can
// leave variables partially updated is engine specific, so callers treat
// state mutation as at-least-once.
type Session interface {
	// Run evaluates the requested handles with the given feed and returns a
	// result for every requested handle.
	Run(ctx context.Context, feed FeedDict, fetches []Handle) (FetchDict, error)

	// Mutates reports whether evaluating h updates learned state.
	Mutates(h Handle) bool

	// Variables returns a copy of every variable under the given scopes, or
	// of all variables when scopes is empty.
	Variables(scopes scope.List) map[string]Tensor

	// Restore overwrites the variables under the given scopes (all variables
	// when scopes is empty) from values and returns the restored names.
	Restore(values map[string]Tensor, scopes scope.List) ([]string, error)

	// Freeze excludes the variables under the given scopes from any further
	// update and returns the frozen names.
	Freeze(scopes scope.List) []string

	// Close releases any resources held by the session. It accepts a context
	// to allow for graceful cleanup operations.
	Close(ctx context.Context) error
}
