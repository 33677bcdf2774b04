package wire

import (
	"bytes"
	"encoding/binary"
	"errors"

	"github.com/cespare/xxhash/v2"
)

const (
	version   byte = 1
	flagStamp byte = 1 << 0

	// magic(4) | ver(1) | flags(1) | stamp(i64 be) | sum(u64 be) | vlen(u32 be)
	headerLen = 4 + 1 + 1 + 8 + 8 + 4
)

var (
	ErrCorrupt = errors.New("databank: corrupt hot-storage entry")
	magic4     = [...]byte{'D', 'B', 'N', 'K'}
)

// Header is the metadata stored in front of every hot-storage payload.
// Stamp is the source modification time (unix nanos) observed when the
// payload was produced; HasStamp is false for sources without a modtime.
type Header struct {
	Stamp    int64
	HasStamp bool
}

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

// Encode frames payload behind h. The checksum is xxhash64 over payload only.
func Encode(h Header, payload []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(headerLen + len(payload))

	buf.Write(magic4[:])
	buf.WriteByte(version)

	var flags byte
	if h.HasStamp {
		flags |= flagStamp
	}
	buf.WriteByte(flags)

	var u8 [8]byte
	var u4 [4]byte

	binary.BigEndian.PutUint64(u8[:], uint64(h.Stamp))
	buf.Write(u8[:])

	binary.BigEndian.PutUint64(u8[:], xxhash.Sum64(payload))
	buf.Write(u8[:])

	binary.BigEndian.PutUint32(u4[:], uint32(len(payload)))
	buf.Write(u4[:])

	buf.Write(payload)
	return buf.Bytes()
}

// DecodeHeader validates framing and the declared length without hashing
// the payload. Use it to check staleness cheaply.
func DecodeHeader(b []byte) (Header, error) {
	h, _, _, err := parse(b)
	return h, err
}

// Decode validates framing, length, and checksum and returns the payload
// as a sub-slice of b.
func Decode(b []byte) (Header, []byte, error) {
	h, sum, payload, err := parse(b)
	if err != nil {
		return Header{}, nil, err
	}
	if xxhash.Sum64(payload) != sum {
		return Header{}, nil, ErrCorrupt
	}
	return h, payload, nil
}

func parse(b []byte) (Header, uint64, []byte, error) {
	if len(b) < headerLen || !hasMagic(b) || b[4] != version {
		return Header{}, 0, nil, ErrCorrupt
	}
	flags := b[5]
	if flags&^flagStamp != 0 {
		return Header{}, 0, nil, ErrCorrupt
	}

	off := 6
	stamp := int64(binary.BigEndian.Uint64(b[off : off+8]))
	off += 8
	sum := binary.BigEndian.Uint64(b[off : off+8])
	off += 8
	vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4

	// exact length: no trailing bytes
	if vlen != len(b)-off {
		return Header{}, 0, nil, ErrCorrupt
	}

	h := Header{HasStamp: flags&flagStamp != 0}
	if h.HasStamp {
		h.Stamp = stamp
	}
	return h, sum, b[off:], nil
}
