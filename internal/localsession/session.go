// Package localsession provides a concrete implementation of the
// session.Session and session.Factory interfaces for in-process execution.
//
// Ops are plain Go closures evaluated lazily and memoised for the duration
// of one Run. Updates stage their assignments, and the staged values are
// committed only after every requested fetch evaluated successfully, so a
// failed Run leaves variables untouched.
package localsession

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/vk/pagirun/internal/ctxlog"
	"github.com/vk/pagirun/internal/scope"
	"github.com/vk/pagirun/internal/session"
)

// Factory implements session.Factory for local runs.
type Factory struct{}

// NewSession creates a session holding the initial value of every variable
// declared in g.
func (f *Factory) NewSession(ctx context.Context, g *session.Graph) (session.Session, error) {
	logger := ctxlog.FromContext(ctx)

	s := &Session{
		graph:  g,
		values: make(map[string]session.Tensor),
		frozen: make(map[string]bool),
	}
	for _, n := range g.Nodes() {
		if n.Kind == session.KindVariable {
			s.values[n.Handle.Name()] = n.Init.Clone()
		}
	}
	logger.Debug("Local session created.", "nodes", len(g.Nodes()), "variables", len(s.values))
	return s, nil
}

// Session implements session.Session for local runs.
type Session struct {
	mu     sync.Mutex
	graph  *session.Graph
	values map[string]session.Tensor
	frozen map[string]bool
	closed bool
	steps  int
}

// Steps returns how many Run calls completed successfully.
func (s *Session) Steps() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.steps
}

// Run implements session.Session.
func (s *Session) Run(ctx context.Context, feed session.FeedDict, fetches []session.Handle) (session.FetchDict, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, session.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for h := range feed {
		n, ok := s.graph.Node(h)
		if !ok {
			return nil, fmt.Errorf("feed for undeclared computation %q", h.Name())
		}
		if n.Kind != session.KindPlaceholder {
			return nil, fmt.Errorf("cannot feed %s %q", n.Kind, h.Name())
		}
	}

	r := &run{
		s:       s,
		feed:    feed,
		memo:    make(map[string]any),
		active:  make(map[string]bool),
		staged:  make(map[string]session.Tensor),
		skipped: make(map[string]bool),
	}

	out := make(session.FetchDict, len(fetches))
	for _, h := range fetches {
		v, err := r.eval(h, true)
		if err != nil {
			return nil, fmt.Errorf("evaluating %q: %w", h.Name(), err)
		}
		out[h] = v
	}

	for name, t := range r.staged {
		s.values[name] = t
	}
	if len(r.skipped) > 0 {
		names := make([]string, 0, len(r.skipped))
		for n := range r.skipped {
			names = append(names, n)
		}
		sort.Strings(names)
		ctxlog.FromContext(ctx).Debug("Ignored updates to frozen variables.", "variables", names)
	}
	s.steps++
	return out, nil
}

// Mutates implements session.Session.
func (s *Session) Mutates(h session.Handle) bool {
	n, ok := s.graph.Node(h)
	return ok && n.Kind == session.KindUpdate
}

// Variables implements session.Session.
func (s *Session) Variables(scopes scope.List) map[string]session.Tensor {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]session.Tensor)
	for name, t := range s.values {
		if scopes.Empty() || scopes.Contains(name) {
			out[name] = t.Clone()
		}
	}
	return out
}

// Restore implements session.Session. Every variable selected by scopes must
// be present in values with a matching shape; otherwise nothing is restored.
func (s *Session) Restore(values map[string]session.Tensor, scopes scope.List) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var names []string
	for name, cur := range s.values {
		if !scopes.Empty() && !scopes.Contains(name) {
			continue
		}
		v, ok := values[name]
		if !ok {
			return nil, fmt.Errorf("no value for variable %q", name)
		}
		if !v.SameShape(cur) || v.Size() != cur.Size() {
			return nil, fmt.Errorf("variable %q: shape %v does not match %v", name, v.Shape, cur.Shape)
		}
		names = append(names, name)
	}
	if !scopes.Empty() && len(names) == 0 {
		return nil, fmt.Errorf("no variables under scopes %q", scopes.String())
	}

	sort.Strings(names)
	for _, name := range names {
		s.values[name] = values[name].Clone()
	}
	return names, nil
}

// Freeze implements session.Session.
func (s *Session) Freeze(scopes scope.List) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var names []string
	for name := range s.values {
		if scopes.Contains(name) {
			s.frozen[name] = true
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Close implements session.Session.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	ctxlog.FromContext(ctx).Debug("Local session closed.", "steps", s.steps)
	return nil
}
