// Package codec holds the serialize/deserialize pairs a bank uses to move
// item data in and out of hot storage. Codecs see only the payload; the
// bank frames it with the source stamp and checksum.
package codec

// Codec encodes/decodes values V to []byte for hot storage.
// Implementations must be safe for concurrent use.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}
