package options

import (
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
)

// Kind is the declared type of a single option.
type Kind int

const (
	KindBool Kind = iota
	KindInt
	KindFloat
	KindString
	KindMap
)

// String returns the lowercase name of the kind.
func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindMap:
		return "map"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Policy controls how Override treats names that are not declared in the set.
type Policy int

const (
	// Strict rejects unknown names with an UnknownOptionError.
	Strict Policy = iota
	// Additive appends unknown names as new options.
	Additive
)

// Mapping is a typed override mapping from option name to value.
type Mapping map[string]cty.Value

// Keys returns the mapping's names in lexical order.
func (m Mapping) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a shallow copy of the mapping. cty values are immutable, so
// this is enough to isolate the copy.
func (m Mapping) Clone() Mapping {
	if m == nil {
		return nil
	}
	out := make(Mapping, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// ErrSealed is returned when an OptionSet is overridden after it was read.
var ErrSealed = errors.New("option set is sealed: overrides must be applied before the first read")

// UnknownOptionError reports an override name that is not declared in a
// strict OptionSet.
type UnknownOptionError struct {
	Name string
}

func (e *UnknownOptionError) Error() string {
	return fmt.Sprintf("unknown option %q", e.Name)
}

// InvalidValueError reports an override value that cannot be converted to
// the option's declared kind.
type InvalidValueError struct {
	Name string
	Kind Kind
	Err  error
}

func (e *InvalidValueError) Error() string {
	return fmt.Sprintf("option %q: cannot use value as %s: %v", e.Name, e.Kind, e.Err)
}

func (e *InvalidValueError) Unwrap() error { return e.Err }

type entry struct {
	name  string
	kind  Kind
	value cty.Value
}

// Decl declares a single option with its default value.
type Decl struct {
	name  string
	kind  Kind
	value cty.Value
}

// Bool declares a boolean option.
func Bool(name string, v bool) Decl { return Decl{name, KindBool, cty.BoolVal(v)} }

// Int declares an integer option.
func Int(name string, v int) Decl { return Decl{name, KindInt, cty.NumberIntVal(int64(v))} }

// Float declares a floating point option.
func Float(name string, v float64) Decl { return Decl{name, KindFloat, cty.NumberFloatVal(v)} }

// String declares a string option.
func String(name string, v string) Decl { return Decl{name, KindString, cty.StringVal(v)} }

// Map declares a nested mapping option. The value must be an object or map.
func Map(name string, v cty.Value) Decl {
	if !v.Type().IsObjectType() && !v.Type().IsMapType() {
		panic(fmt.Sprintf("options: Map(%q) requires an object or map value, got %s", name, v.Type().FriendlyName()))
	}
	return Decl{name, KindMap, v}
}

// OptionSet is an ordered, typed mapping from option name to value.
type OptionSet struct {
	entries []*entry
	index   map[string]int
	sealed  bool
}

// New builds an OptionSet from declarations, preserving their order. A
// duplicated name is a programming error and panics.
func New(decls ...Decl) *OptionSet {
	s := &OptionSet{index: make(map[string]int, len(decls))}
	for _, d := range decls {
		if _, exists := s.index[d.name]; exists {
			panic(fmt.Sprintf("options: option %q declared twice", d.name))
		}
		s.append(d.name, d.kind, d.value)
	}
	return s
}

func (s *OptionSet) append(name string, kind Kind, v cty.Value) {
	s.index[name] = len(s.entries)
	s.entries = append(s.entries, &entry{name: name, kind: kind, value: v})
}

// Clone returns an unsealed deep copy of the set.
func (s *OptionSet) Clone() *OptionSet {
	c := &OptionSet{
		entries: make([]*entry, len(s.entries)),
		index:   make(map[string]int, len(s.index)),
	}
	for i, e := range s.entries {
		cp := *e
		c.entries[i] = &cp
		c.index[e.name] = i
	}
	return c
}

// Sealed reports whether the set has been read and no longer accepts overrides.
func (s *OptionSet) Sealed() bool { return s.sealed }

// Override applies every name in m on top of the current values. Names are
// processed in lexical order and the whole mapping is validated before any
// value changes, so a failed override leaves the set untouched.
func (s *OptionSet) Override(m Mapping, policy Policy) error {
	if s.sealed {
		return ErrSealed
	}
	type pending struct {
		name  string
		kind  Kind
		value cty.Value
		isNew bool
	}
	var changes []pending

	for _, name := range m.Keys() {
		raw := m[name]
		if i, ok := s.index[name]; ok {
			kind := s.entries[i].kind
			v, err := coerce(kind, raw)
			if err != nil {
				return &InvalidValueError{Name: name, Kind: kind, Err: err}
			}
			changes = append(changes, pending{name: name, kind: kind, value: v})
			continue
		}
		if policy != Additive {
			return &UnknownOptionError{Name: name}
		}
		kind, err := impliedKind(raw)
		if err != nil {
			return &InvalidValueError{Name: name, Kind: kind, Err: err}
		}
		v, err := coerce(kind, raw)
		if err != nil {
			return &InvalidValueError{Name: name, Kind: kind, Err: err}
		}
		changes = append(changes, pending{name: name, kind: kind, value: v, isNew: true})
	}

	for _, c := range changes {
		if c.isNew {
			s.append(c.name, c.kind, c.value)
			continue
		}
		s.entries[s.index[c.name]].value = c.value
	}
	return nil
}

// coerce converts v to the representation of the given kind.
func coerce(kind Kind, v cty.Value) (cty.Value, error) {
	if v == cty.NilVal || v.IsNull() {
		return cty.NilVal, errors.New("value is null")
	}
	if !v.IsWhollyKnown() {
		return cty.NilVal, errors.New("value is not known")
	}
	switch kind {
	case KindBool:
		return convert.Convert(v, cty.Bool)
	case KindString:
		return convert.Convert(v, cty.String)
	case KindFloat:
		return convert.Convert(v, cty.Number)
	case KindInt:
		n, err := convert.Convert(v, cty.Number)
		if err != nil {
			return cty.NilVal, err
		}
		bf := n.AsBigFloat()
		if !bf.IsInt() {
			return cty.NilVal, fmt.Errorf("%s is not a whole number", bf.Text('g', -1))
		}
		if _, acc := bf.Int64(); acc != big.Exact {
			return cty.NilVal, fmt.Errorf("%s is out of range for an integer", bf.Text('g', -1))
		}
		return n, nil
	case KindMap:
		ty := v.Type()
		if !ty.IsObjectType() && !ty.IsMapType() {
			return cty.NilVal, fmt.Errorf("expected a mapping, got %s", ty.FriendlyName())
		}
		return v, nil
	default:
		return cty.NilVal, fmt.Errorf("unsupported kind %s", kind)
	}
}

// impliedKind picks a kind for an additive option from its value.
func impliedKind(v cty.Value) (Kind, error) {
	if v == cty.NilVal || v.IsNull() {
		return KindString, errors.New("value is null")
	}
	ty := v.Type()
	switch {
	case ty == cty.Bool:
		return KindBool, nil
	case ty == cty.String:
		return KindString, nil
	case ty == cty.Number:
		if v.IsKnown() && v.AsBigFloat().IsInt() {
			return KindInt, nil
		}
		return KindFloat, nil
	case ty.IsObjectType() || ty.IsMapType():
		return KindMap, nil
	default:
		return KindString, fmt.Errorf("unsupported option type %s", ty.FriendlyName())
	}
}
