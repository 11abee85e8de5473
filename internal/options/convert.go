package options

import (
	"fmt"
	"sort"

	"github.com/zclconf/go-cty/cty"
)

// FromGo converts a native Go value into a cty.Value. It accepts the shapes
// produced by JSON and TOML decoders and by Go literals: bools, signed and
// unsigned integers, floats, strings, slices and string-keyed maps.
func FromGo(data any) (cty.Value, error) {
	if data == nil {
		return cty.NullVal(cty.DynamicPseudoType), nil
	}
	switch v := data.(type) {
	case cty.Value:
		return v, nil
	case bool:
		return cty.BoolVal(v), nil
	case string:
		return cty.StringVal(v), nil
	case int:
		return cty.NumberIntVal(int64(v)), nil
	case int32:
		return cty.NumberIntVal(int64(v)), nil
	case int64:
		return cty.NumberIntVal(v), nil
	case uint:
		return cty.NumberUIntVal(uint64(v)), nil
	case uint32:
		return cty.NumberUIntVal(uint64(v)), nil
	case uint64:
		return cty.NumberUIntVal(v), nil
	case float32:
		return cty.NumberFloatVal(float64(v)), nil
	case float64:
		return cty.NumberFloatVal(v), nil
	case []float64:
		elems := make([]cty.Value, len(v))
		for i, f := range v {
			elems[i] = cty.NumberFloatVal(f)
		}
		return tupleOrEmpty(elems), nil
	case []string:
		elems := make([]cty.Value, len(v))
		for i, s := range v {
			elems[i] = cty.StringVal(s)
		}
		return tupleOrEmpty(elems), nil
	case []any:
		elems := make([]cty.Value, 0, len(v))
		for i, item := range v {
			ev, err := FromGo(item)
			if err != nil {
				return cty.NilVal, fmt.Errorf("index %d: %w", i, err)
			}
			elems = append(elems, ev)
		}
		return tupleOrEmpty(elems), nil
	case map[string]any:
		attrs := make(map[string]cty.Value, len(v))
		for key, item := range v {
			ev, err := FromGo(item)
			if err != nil {
				return cty.NilVal, fmt.Errorf("key %q: %w", key, err)
			}
			attrs[key] = ev
		}
		return cty.ObjectVal(attrs), nil
	case Mapping:
		return v.Object(), nil
	default:
		return cty.NilVal, fmt.Errorf("unsupported type for conversion to cty.Value: %T", v)
	}
}

func tupleOrEmpty(elems []cty.Value) cty.Value {
	if len(elems) == 0 {
		return cty.EmptyTupleVal
	}
	return cty.TupleVal(elems)
}

// MappingFromGo converts a native Go map into a Mapping.
func MappingFromGo(m map[string]any) (Mapping, error) {
	if m == nil {
		return nil, nil
	}
	out := make(Mapping, len(m))
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v, err := FromGo(m[k])
		if err != nil {
			return nil, fmt.Errorf("option %q: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}

// MustMapping is MappingFromGo for literals in code; it panics on error.
func MustMapping(m map[string]any) Mapping {
	out, err := MappingFromGo(m)
	if err != nil {
		panic(err)
	}
	return out
}

// MappingFromValue converts an object or map cty value into a Mapping.
func MappingFromValue(v cty.Value) (Mapping, error) {
	if v.IsNull() {
		return nil, nil
	}
	ty := v.Type()
	if !ty.IsObjectType() && !ty.IsMapType() {
		return nil, fmt.Errorf("expected a mapping, got %s", ty.FriendlyName())
	}
	if !v.IsWhollyKnown() {
		return nil, fmt.Errorf("mapping contains unknown values")
	}
	out := make(Mapping, v.LengthInt())
	for it := v.ElementIterator(); it.Next(); {
		k, ev := it.Element()
		out[k.AsString()] = ev
	}
	return out, nil
}

// Object returns the mapping as a cty object value.
func (m Mapping) Object() cty.Value {
	if len(m) == 0 {
		return cty.EmptyObjectVal
	}
	return cty.ObjectVal(map[string]cty.Value(m))
}
