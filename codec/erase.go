package codec

import "fmt"

// TypeError is returned by an erased codec asked to encode a value of the
// wrong type.
type TypeError struct {
	Want string
	Got  string
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("codec: cannot encode %s as %s", e.Got, e.Want)
}

type erased[V any] struct{ inner Codec[V] }

// Erase adapts a typed codec to Codec[any]. Encoding a value that is not a V
// fails with *TypeError.
func Erase[V any](c Codec[V]) Codec[any] { return erased[V]{inner: c} }

func (e erased[V]) Encode(v any) ([]byte, error) {
	tv, ok := v.(V)
	if !ok {
		var zero V
		return nil, &TypeError{Want: fmt.Sprintf("%T", zero), Got: fmt.Sprintf("%T", v)}
	}
	return e.inner.Encode(tv)
}

func (e erased[V]) Decode(b []byte) (any, error) {
	v, err := e.inner.Decode(b)
	if err != nil {
		return nil, err
	}
	return v, nil
}
