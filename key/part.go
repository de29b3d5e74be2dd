// Package key canonicalizes query key descriptors.
//
// A descriptor is text, an ordered list of parts or a mapping from text to
// parts, nested to any depth. Encode turns a descriptor into a string that is
// equal for structurally equal descriptors and different otherwise:
//
//	Encode(Text("posts"))                              -> posts
//	Encode(List(Text("posts"), Int(2)))                -> ["posts",2]
//	Encode(Map(map[string]Part{"b": Int(2), "a": Int(1)})) -> {"a":1,"b":2}
//
// Mapping keys are sorted at every level; list order is kept.
package key

import (
	"fmt"
	"math"
	"reflect"
	"sort"
)

// Kind tags the variant held by a Part.
type Kind uint8

const (
	KindInvalid Kind = iota // zero Part; "absent"
	KindText
	KindInt
	KindFloat
	KindBool
	KindNull
	KindList
	KindMap
	KindUint // integers above math.MaxInt64
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindNull:
		return "null"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	case KindUint:
		return "uint"
	default:
		return "invalid"
	}
}

// Part is one node of a key descriptor. The zero value is an absent part.
type Part struct {
	kind Kind
	s    string
	i    int64
	u    uint64
	f    float64
	b    bool
	list []Part
	m    map[string]Part
}

func Text(s string) Part   { return Part{kind: KindText, s: s} }
func Int(n int64) Part     { return Part{kind: KindInt, i: n} }
func Bool(b bool) Part     { return Part{kind: KindBool, b: b} }
func Null() Part           { return Part{kind: KindNull} }
func List(ps ...Part) Part { return Part{kind: KindList, list: append([]Part(nil), ps...)} }

// Uint returns an integer part. Values that fit in int64 are stored as Int;
// larger ones keep every digit.
func Uint(u uint64) Part {
	if u <= math.MaxInt64 {
		return Int(int64(u))
	}
	return Part{kind: KindUint, u: u}
}

// Float returns a numeric part. Integral values that fit in int64 or uint64
// are stored as integers so that Float(2) and Int(2) encode identically.
func Float(f float64) Part {
	if f == math.Trunc(f) {
		switch {
		case f >= math.MinInt64 && f < math.MaxInt64:
			return Int(int64(f))
		case f >= 0 && f < 1<<64:
			return Uint(uint64(f))
		}
	}
	return Part{kind: KindFloat, f: f}
}

// Map returns a mapping part. The input map is copied.
func Map(m map[string]Part) Part {
	cp := make(map[string]Part, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return Part{kind: KindMap, m: cp}
}

func (p Part) Kind() Kind    { return p.kind }
func (p Part) IsValid() bool { return p.kind != KindInvalid }

// Text returns the string held by a text part.
func (p Part) Text() (string, bool) { return p.s, p.kind == KindText }

// Int returns the integer held by an int part.
func (p Part) Int() (int64, bool) { return p.i, p.kind == KindInt }

// Len reports the number of elements of a list or map part.
func (p Part) Len() int {
	switch p.kind {
	case KindList:
		return len(p.list)
	case KindMap:
		return len(p.m)
	}
	return 0
}

// Keys returns the sorted keys of a map part.
func (p Part) Keys() []string {
	if p.kind != KindMap {
		return nil
	}
	ks := make([]string, 0, len(p.m))
	for k := range p.m {
		ks = append(ks, k)
	}
	sort.Strings(ks)
	return ks
}

// UnsupportedError reports a Go value that has no key representation.
type UnsupportedError struct {
	Type string
	Path string
}

func (e *UnsupportedError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("key: unsupported value of type %s", e.Type)
	}
	return fmt.Sprintf("key: unsupported value of type %s at %s", e.Type, e.Path)
}

// Of converts a plain Go value into a Part. Strings, integers, floats, bools,
// nil, slices/arrays and maps with string keys are accepted, recursively.
// Functions, channels, pointers to non-key values and the like are rejected.
func Of(v any) (Part, error) {
	return of(v, "")
}

// MustOf is like Of but panics on error. Handy for literals in tests.
func MustOf(v any) Part {
	p, err := Of(v)
	if err != nil {
		panic(err)
	}
	return p
}

func of(v any, path string) (Part, error) {
	switch x := v.(type) {
	case nil:
		return Null(), nil
	case Part:
		return x, nil
	case string:
		return Text(x), nil
	case bool:
		return Bool(x), nil
	case int:
		return Int(int64(x)), nil
	case int64:
		return Int(x), nil
	case uint64:
		return Uint(x), nil
	case float64:
		return Float(x), nil
	case []any:
		out := make([]Part, len(x))
		for i, e := range x {
			p, err := of(e, fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return Part{}, err
			}
			out[i] = p
		}
		return Part{kind: KindList, list: out}, nil
	case map[string]any:
		out := make(map[string]Part, len(x))
		for k, e := range x {
			p, err := of(e, path+"."+k)
			if err != nil {
				return Part{}, err
			}
			out[k] = p
		}
		return Part{kind: KindMap, m: out}, nil
	}
	return ofReflect(reflect.ValueOf(v), path)
}

func ofReflect(rv reflect.Value, path string) (Part, error) {
	switch rv.Kind() {
	case reflect.String:
		return Text(rv.String()), nil
	case reflect.Bool:
		return Bool(rv.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Int(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return Uint(rv.Uint()), nil
	case reflect.Float32, reflect.Float64:
		return Float(rv.Float()), nil
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return Null(), nil
		}
		return of(rv.Elem().Interface(), path)
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return Null(), nil
		}
		out := make([]Part, rv.Len())
		for i := range out {
			p, err := of(rv.Index(i).Interface(), fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return Part{}, err
			}
			out[i] = p
		}
		return Part{kind: KindList, list: out}, nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return Part{}, &UnsupportedError{Type: rv.Type().String(), Path: path}
		}
		out := make(map[string]Part, rv.Len())
		it := rv.MapRange()
		for it.Next() {
			k := it.Key().String()
			p, err := of(it.Value().Interface(), path+"."+k)
			if err != nil {
				return Part{}, err
			}
			out[k] = p
		}
		return Part{kind: KindMap, m: out}, nil
	}
	t := "nil"
	if rv.IsValid() {
		t = rv.Type().String()
	}
	return Part{}, &UnsupportedError{Type: t, Path: path}
}
