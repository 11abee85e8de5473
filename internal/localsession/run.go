package localsession

import (
	"fmt"

	"github.com/vk/pagirun/internal/session"
)

// run holds the state of a single Run call and implements session.Context.
type run struct {
	s       *Session
	feed    session.FeedDict
	memo    map[string]any
	active  map[string]bool
	staged  map[string]session.Tensor
	skipped map[string]bool
	// updating is the update currently being evaluated, if any.
	updating string
}

func (r *run) eval(h session.Handle, top bool) (any, error) {
	n, ok := r.s.graph.Node(h)
	if !ok {
		return nil, fmt.Errorf("undeclared computation %q", h.Name())
	}

	switch n.Kind {
	case session.KindPlaceholder:
		v, ok := r.feed[h]
		if !ok {
			return nil, fmt.Errorf("placeholder %q was not fed", h.Name())
		}
		return v, nil
	case session.KindVariable:
		// Reads see the value from the start of the step.
		return r.s.values[h.Name()].Clone(), nil
	case session.KindUpdate:
		if !top {
			return nil, fmt.Errorf("update %q can only be requested as a fetch", h.Name())
		}
	}

	if v, done := r.memo[h.Name()]; done {
		return v, nil
	}
	if r.active[h.Name()] {
		return nil, fmt.Errorf("dependency cycle through %q", h.Name())
	}
	r.active[h.Name()] = true
	defer delete(r.active, h.Name())

	prev := r.updating
	if n.Kind == session.KindUpdate {
		r.updating = h.Name()
	}
	v, err := n.Fn(r)
	r.updating = prev
	if err != nil {
		return nil, err
	}
	r.memo[h.Name()] = v
	return v, nil
}

// Eval implements session.Context.
func (r *run) Eval(h session.Handle) (any, error) {
	return r.eval(h, false)
}

// Assign implements session.Context.
func (r *run) Assign(variable session.Handle, value session.Tensor) error {
	if r.updating == "" {
		return fmt.Errorf("assignment to %q outside of an update", variable.Name())
	}
	cur, ok := r.s.values[variable.Name()]
	if !ok {
		return fmt.Errorf("assignment to %q: not a variable", variable.Name())
	}
	if !value.SameShape(cur) || value.Size() != cur.Size() {
		return fmt.Errorf("assignment to %q: shape %v does not match %v", variable.Name(), value.Shape, cur.Shape)
	}
	if r.s.frozen[variable.Name()] {
		r.skipped[variable.Name()] = true
		return nil
	}
	r.staged[variable.Name()] = value.Clone()
	return nil
}
