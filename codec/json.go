package codec

import "encoding/json"

// JSON is the default codec. Decoding into V=any yields map[string]any,
// []any, float64, string, bool and nil, which is what page cursor lookups and
// list flattening expect.
type JSON[V any] struct{}

var _ Codec[any] = JSON[any]{}

func (JSON[V]) Encode(v V) ([]byte, error) { return json.Marshal(v) }
func (JSON[V]) Decode(b []byte) (V, error) {
	var v V
	err := json.Unmarshal(b, &v)
	return v, err
}
