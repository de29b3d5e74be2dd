// Package codec turns fetched values into bytes and back. The store uses a
// Codec[any] for its optional warm tier; source adapters use typed codecs.
package codec

// Codec encodes/decodes values V to []byte for storage.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}
