package codec

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// CBOR encodes values with fxamacker/cbor. Build it with NewCBOR or MustCBOR;
// the zero value has no modes and panics.
//
// Decoding into an interface yields the same shapes as JSON where CBOR allows
// it: maps become map[string]any and integers become int64, so cursor
// lookups and integer page params behave the same whichever codec backs the
// tier.
type CBOR[V any] struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

var _ Codec[any] = CBOR[any]{}

// NewCBOR builds a CBOR codec. deterministic selects RFC 8949 core
// deterministic encoding (sorted map keys); otherwise map order is left as
// iterated.
func NewCBOR[V any](deterministic bool) (CBOR[V], error) {
	eo := cbor.PreferredUnsortedEncOptions()
	if deterministic {
		eo = cbor.CoreDetEncOptions()
	}
	eo.Time = cbor.TimeRFC3339Nano

	em, err := eo.EncMode()
	if err != nil {
		return CBOR[V]{}, err
	}
	dm, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
		IntDec:         cbor.IntDecConvertSigned,
	}.DecMode()
	if err != nil {
		return CBOR[V]{}, err
	}
	return CBOR[V]{enc: em, dec: dm}, nil
}

// MustCBOR is NewCBOR that panics on error.
func MustCBOR[V any](deterministic bool) CBOR[V] {
	c, err := NewCBOR[V](deterministic)
	if err != nil {
		panic(err)
	}
	return c
}

func (c CBOR[V]) Encode(v V) ([]byte, error) { return c.enc.Marshal(v) }

func (c CBOR[V]) Decode(b []byte) (V, error) {
	var v V
	if err := c.dec.Unmarshal(b, &v); err != nil {
		var zero V
		return zero, err
	}
	return v, nil
}
