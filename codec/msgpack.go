package codec

import (
	"bytes"

	"github.com/vmihailenco/msgpack/v5"
)

// Msgpack serializes values with vmihailenco/msgpack/v5. The zero value is
// ready to use. Compact shrinks integers and floats to the smallest wire
// type that holds them, which matters for large numeric payloads.
//
// Use `msgpack:"name"` tags for explicit field names.
type Msgpack[V any] struct {
	Compact bool
}

func (c Msgpack[V]) Encode(v V) ([]byte, error) {
	if !c.Compact {
		return msgpack.Marshal(v)
	}
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.UseCompactInts(true)
	enc.UseCompactFloats(true)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (Msgpack[V]) Decode(b []byte) (V, error) {
	var v V
	err := msgpack.Unmarshal(b, &v)
	return v, err
}
