package session

import (
	"fmt"
	"sort"
	"strings"
)

// Handle identifies a computation declared in a Graph. The zero Handle is
// invalid.
type Handle struct {
	name string
}

// Name returns the fully scoped name of the computation.
func (h Handle) Name() string { return h.name }

// IsZero reports whether h was never declared.
func (h Handle) IsZero() bool { return h.name == "" }

func (h Handle) String() string { return h.name }

// SortHandles orders handles by name.
func SortHandles(hs []Handle) {
	sort.Slice(hs, func(i, j int) bool { return hs[i].name < hs[j].name })
}

// NodeKind classifies a declared computation.
type NodeKind int

const (
	KindPlaceholder NodeKind = iota
	KindVariable
	KindOp
	KindUpdate
)

func (k NodeKind) String() string {
	switch k {
	case KindPlaceholder:
		return "placeholder"
	case KindVariable:
		return "variable"
	case KindOp:
		return "op"
	case KindUpdate:
		return "update"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Context is what an op sees while it is evaluated.
type Context interface {
	// Eval returns the value of another computation in the same step.
	Eval(h Handle) (any, error)
	// Assign stages a new value for a variable. Only update ops may assign.
	Assign(variable Handle, value Tensor) error
}

// OpFunc computes the value of an op or update.
type OpFunc func(ctx Context) (any, error)

// Node is a declared computation.
type Node struct {
	Handle Handle
	Kind   NodeKind
	Init   Tensor
	Fn     OpFunc
}

type nodes struct {
	order  []*Node
	byName map[string]*Node
}

// Graph declares computations. Scoped views created with Scope share the
// same set of nodes.
type Graph struct {
	prefix string
	nodes  *nodes
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{nodes: &nodes{byName: make(map[string]*Node)}}
}

// Scope returns a view of g that prefixes every declared name with name/.
func (g *Graph) Scope(name string) *Graph {
	return &Graph{prefix: g.qualify(name), nodes: g.nodes}
}

// Prefix returns the scope prefix of this view.
func (g *Graph) Prefix() string { return g.prefix }

func (g *Graph) qualify(name string) string {
	name = strings.Trim(name, "/")
	if g.prefix == "" {
		return name
	}
	return g.prefix + "/" + name
}

func (g *Graph) declare(name string, kind NodeKind, init Tensor, fn OpFunc) Handle {
	full := g.qualify(name)
	if full == "" {
		panic("session: computation name cannot be empty")
	}
	if _, exists := g.nodes.byName[full]; exists {
		panic(fmt.Sprintf("session: computation %q declared twice", full))
	}
	n := &Node{Handle: Handle{name: full}, Kind: kind, Init: init, Fn: fn}
	g.nodes.byName[full] = n
	g.nodes.order = append(g.nodes.order, n)
	return n.Handle
}

// Placeholder declares an input that must be fed on every step that needs it.
func (g *Graph) Placeholder(name string) Handle {
	return g.declare(name, KindPlaceholder, Tensor{}, nil)
}

// Variable declares learned state with its initial value.
func (g *Graph) Variable(name string, init Tensor) Handle {
	return g.declare(name, KindVariable, init.Clone(), nil)
}

// Op declares a read-only computation.
func (g *Graph) Op(name string, fn OpFunc) Handle {
	return g.declare(name, KindOp, Tensor{}, fn)
}

// Update declares a computation that may assign variables.
func (g *Graph) Update(name string, fn OpFunc) Handle {
	return g.declare(name, KindUpdate, Tensor{}, fn)
}

// Node returns the declaration behind h.
func (g *Graph) Node(h Handle) (*Node, bool) {
	n, ok := g.nodes.byName[h.name]
	return n, ok
}

// Lookup returns the handle with the given fully scoped name.
func (g *Graph) Lookup(name string) (Handle, bool) {
	n, ok := g.nodes.byName[name]
	if !ok {
		return Handle{}, false
	}
	return n.Handle, true
}

// Nodes returns every declaration in declaration order.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, len(g.nodes.order))
	copy(out, g.nodes.order)
	return out
}
