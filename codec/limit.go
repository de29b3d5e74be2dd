package codec

import "fmt"

// SizeError reports a payload over a Limit.
type SizeError struct {
	Op   string // "encode" or "decode"
	Size int
	Max  int
}

func (e *SizeError) Error() string {
	return fmt.Sprintf("codec: %s payload of %d bytes exceeds %d", e.Op, e.Size, e.Max)
}

// Limit caps payload sizes in both directions. An oversized result is kept
// out of the tier instead of being written, and an oversized record is
// rejected before decoding. Max <= 0 disables the cap.
type Limit[V any] struct {
	Inner Codec[V]
	Max   int
}

func (c Limit[V]) Encode(v V) ([]byte, error) {
	b, err := c.Inner.Encode(v)
	if err != nil {
		return nil, err
	}
	if c.Max > 0 && len(b) > c.Max {
		return nil, &SizeError{Op: "encode", Size: len(b), Max: c.Max}
	}
	return b, nil
}

func (c Limit[V]) Decode(b []byte) (V, error) {
	if c.Max > 0 && len(b) > c.Max {
		var zero V
		return zero, &SizeError{Op: "decode", Size: len(b), Max: c.Max}
	}
	return c.Inner.Decode(b)
}
