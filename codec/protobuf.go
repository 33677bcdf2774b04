package codec

import "google.golang.org/protobuf/proto"

// Protobuf serializes generated message types. ctor returns a fresh message
// to decode into, e.g. func() *meshpb.Mesh { return new(meshpb.Mesh) }.
type Protobuf[T proto.Message] struct {
	ctor func() T
	opts proto.MarshalOptions
}

// NewProtobuf builds a codec. Deterministic output makes identical objects
// produce identical hot-storage files.
func NewProtobuf[T proto.Message](ctor func() T, deterministic bool) Protobuf[T] {
	return Protobuf[T]{ctor: ctor, opts: proto.MarshalOptions{Deterministic: deterministic}}
}

func (c Protobuf[T]) Encode(v T) ([]byte, error) {
	return c.opts.Marshal(v)
}

func (c Protobuf[T]) Decode(b []byte) (T, error) {
	m := c.ctor()
	err := proto.Unmarshal(b, m)
	return m, err
}
