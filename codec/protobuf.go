package codec

import "google.golang.org/protobuf/proto"

// Protobuf encodes messages of one type T. It is typed, so a store tier needs
// Erase(NewProtobuf(...)) and then only accepts T values.
type Protobuf[T proto.Message] struct {
	alloc func() T
	mo    proto.MarshalOptions
	uo    proto.UnmarshalOptions
}

// NewProtobuf takes the allocator for decoded messages, for example
// func() *pb.Feed { return new(pb.Feed) }. Encoding is deterministic and
// unknown fields are dropped on decode.
func NewProtobuf[T proto.Message](alloc func() T) Protobuf[T] {
	return Protobuf[T]{
		alloc: alloc,
		mo:    proto.MarshalOptions{Deterministic: true},
		uo:    proto.UnmarshalOptions{DiscardUnknown: true},
	}
}

func (c Protobuf[T]) Encode(v T) ([]byte, error) { return c.mo.Marshal(v) }

func (c Protobuf[T]) Decode(b []byte) (T, error) {
	m := c.alloc()
	if err := c.uo.Unmarshal(b, m); err != nil {
		var zero T
		return zero, err
	}
	return m, nil
}
