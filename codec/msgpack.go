package codec

import (
	"bytes"

	"github.com/vmihailenco/msgpack/v5"
)

// Msgpack encodes values with vmihailenco/msgpack. Struct fields are named by
// their json tags, so a value cached from a JSON API keeps the field names
// that page paths ("meta.next") refer to. Integers decoded into an interface
// are int64 or uint64. The zero value is ready to use.
type Msgpack[V any] struct{}

var _ Codec[any] = Msgpack[any]{}

func (Msgpack[V]) Encode(v V) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (Msgpack[V]) Decode(b []byte) (V, error) {
	var v V
	dec := msgpack.NewDecoder(bytes.NewReader(b))
	dec.SetCustomStructTag("json")
	dec.UseLooseInterfaceDecoding(true)
	if err := dec.Decode(&v); err != nil {
		var zero V
		return zero, err
	}
	return v, nil
}
