// Package shape inspects opaque fetch payloads: dotted path lookups for page
// cursors and the list flattening used by paginated reads.
package shape

import (
	"reflect"
	"strconv"
	"strings"

	"github.com/ohler55/ojg/jp"
)

// ListFields are the record fields probed, in order, when a page is a record
// wrapping its items.
var ListFields = []string{"data", "items", "results", "records", "nodes", "edges", "list"}

// Lookup walks a dotted path ("meta.next", "links.0.href") through maps,
// slices and structs. A numeric segment indexes a list, or names a map key
// when the value is not a list. Struct fields match by name, ignoring case.
// ok is false when a segment is missing or the value found is nil.
func Lookup(data any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	cur := data
	for _, seg := range strings.Split(path, ".") {
		next, ok := step(cur, seg)
		if !ok {
			return nil, false
		}
		cur = next
	}
	if isNil(cur) {
		return nil, false
	}
	return cur, true
}

func step(v any, seg string) (any, bool) {
	if isNil(v) {
		return nil, false
	}
	if i, err := strconv.Atoi(seg); err == nil && i >= 0 {
		if r := jp.N(i).Get(v); len(r) > 0 {
			return r[0], true
		}
	}
	if r := jp.C(seg).Get(v); len(r) > 0 {
		return r[0], true
	}
	return nil, false
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}

// Items returns the elements of a list-shaped value.
func Items(v any) ([]any, bool) {
	switch x := v.(type) {
	case nil:
		return nil, false
	case []any:
		return x, true
	case []byte:
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// ListField returns the first of fields that holds a list in v.
func ListField(v any, fields []string) (string, bool) {
	for _, f := range fields {
		x, ok := step(v, f)
		if !ok {
			continue
		}
		if _, ok := Items(x); ok {
			return f, true
		}
	}
	return "", false
}

// Flatten merges pages into one list. The first page decides how:
//   - a list: every page's elements are concatenated (a non-list page is kept
//     as a single element);
//   - a record with a list field from fields: that field is concatenated
//     across pages (pages without it contribute nothing);
//   - anything else: each page is one element.
func Flatten(pages []any, fields []string) []any {
	if len(pages) == 0 {
		return nil
	}
	if len(fields) == 0 {
		fields = ListFields
	}

	first := pages[0]
	if _, ok := Items(first); ok {
		var out []any
		for _, p := range pages {
			if items, ok := Items(p); ok {
				out = append(out, items...)
			} else {
				out = append(out, p)
			}
		}
		return out
	}

	if f, ok := ListField(first, fields); ok {
		var out []any
		for _, p := range pages {
			x, ok := step(p, f)
			if !ok {
				continue
			}
			if items, ok := Items(x); ok {
				out = append(out, items...)
			}
		}
		return out
	}

	return append([]any(nil), pages...)
}
