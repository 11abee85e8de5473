package options

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"reflect"
	"strings"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/gocty"
	ctyjson "github.com/zclconf/go-cty/cty/json"
)

// lookup seals the set and returns the entry for name. Accessors panic on
// an unknown name or a kind mismatch: both are programming errors in the
// code that declared the options.
func (s *OptionSet) lookup(name string) *entry {
	s.sealed = true
	i, ok := s.index[name]
	if !ok {
		panic(fmt.Sprintf("options: no option named %q", name))
	}
	return s.entries[i]
}

func (s *OptionSet) mustKind(name string, kinds ...Kind) *entry {
	e := s.lookup(name)
	for _, k := range kinds {
		if e.kind == k {
			return e
		}
	}
	panic(fmt.Sprintf("options: option %q is %s, not %v", name, e.kind, kinds))
}

// Has reports whether name is declared.
func (s *OptionSet) Has(name string) bool {
	s.sealed = true
	_, ok := s.index[name]
	return ok
}

// Len returns the number of options.
func (s *OptionSet) Len() int { return len(s.entries) }

// Names returns the option names in declaration order.
func (s *OptionSet) Names() []string {
	s.sealed = true
	names := make([]string, len(s.entries))
	for i, e := range s.entries {
		names[i] = e.name
	}
	return names
}

// Kind returns the declared kind of name.
func (s *OptionSet) Kind(name string) Kind { return s.lookup(name).kind }

// Value returns the raw cty value of name.
func (s *OptionSet) Value(name string) cty.Value { return s.lookup(name).value }

// Bool returns a boolean option.
func (s *OptionSet) Bool(name string) bool {
	return s.mustKind(name, KindBool).value.True()
}

// Int returns an integer option.
func (s *OptionSet) Int(name string) int {
	bf := s.mustKind(name, KindInt).value.AsBigFloat()
	i, _ := bf.Int64()
	return int(i)
}

// Float returns a numeric option. Integer options are widened.
func (s *OptionSet) Float(name string) float64 {
	f, _ := s.mustKind(name, KindFloat, KindInt).value.AsBigFloat().Float64()
	return f
}

// String returns a string option.
func (s *OptionSet) String(name string) string {
	return s.mustKind(name, KindString).value.AsString()
}

// Map returns a nested mapping option.
func (s *OptionSet) Map(name string) Mapping {
	v := s.mustKind(name, KindMap).value
	out := make(Mapping)
	for it := v.ElementIterator(); it.Next(); {
		k, ev := it.Element()
		out[k.AsString()] = ev
	}
	return out
}

// Values returns the set as native Go values, for logging and tracking.
func (s *OptionSet) Values() map[string]any {
	s.sealed = true
	out := make(map[string]any, len(s.entries))
	for _, e := range s.entries {
		out[e.name] = ToGo(e.value)
	}
	return out
}

// MarshalJSON renders the set as a JSON object with keys in declaration order.
func (s *OptionSet) MarshalJSON() ([]byte, error) {
	s.sealed = true
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range s.entries {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(e.name)
		if err != nil {
			return nil, err
		}
		val, err := ctyjson.Marshal(e.value, e.value.Type())
		if err != nil {
			return nil, fmt.Errorf("option %q: %w", e.name, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Decode binds options into the exported fields of the struct pointed to by
// target. Fields are matched by their `opt` tag; untagged fields and fields
// tagged "-" are ignored. Interface-typed fields receive native Go values.
func (s *OptionSet) Decode(target any) error {
	rv := reflect.ValueOf(target)
	if rv.Kind() != reflect.Ptr || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("decode target must be a non-nil pointer to a struct, got %T", target)
	}
	rv = rv.Elem()
	rt := rv.Type()

	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		if !field.IsExported() {
			continue
		}
		name := strings.Split(field.Tag.Get("opt"), ",")[0]
		if name == "" || name == "-" {
			continue
		}
		if !s.Has(name) {
			return fmt.Errorf("field %s: no option named %q", field.Name, name)
		}
		v := s.Value(name)
		fv := rv.Field(i)
		if field.Type.Kind() == reflect.Interface {
			if g := ToGo(v); g != nil {
				fv.Set(reflect.ValueOf(g))
			}
			continue
		}
		if err := gocty.FromCtyValue(v, fv.Addr().Interface()); err != nil {
			return fmt.Errorf("field %s (option %q): %w", field.Name, name, err)
		}
	}
	return nil
}

// ToGo converts a cty value to plain Go values: bool, int64 for whole
// numbers, float64, string, []any and map[string]any. Null and unknown
// values become nil.
func ToGo(v cty.Value) any {
	if v == cty.NilVal || v.IsNull() || !v.IsKnown() {
		return nil
	}
	ty := v.Type()
	switch {
	case ty == cty.Bool:
		return v.True()
	case ty == cty.String:
		return v.AsString()
	case ty == cty.Number:
		bf := v.AsBigFloat()
		if bf.IsInt() {
			if i, acc := bf.Int64(); acc == big.Exact {
				return i
			}
		}
		f, _ := bf.Float64()
		return f
	case ty.IsObjectType() || ty.IsMapType():
		out := make(map[string]any, v.LengthInt())
		for it := v.ElementIterator(); it.Next(); {
			k, ev := it.Element()
			out[k.AsString()] = ToGo(ev)
		}
		return out
	case ty.IsListType() || ty.IsTupleType() || ty.IsSetType():
		out := make([]any, 0, v.LengthInt())
		for it := v.ElementIterator(); it.Next(); {
			_, ev := it.Element()
			out = append(out, ToGo(ev))
		}
		return out
	default:
		return nil
	}
}
