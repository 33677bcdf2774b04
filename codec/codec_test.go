package codec

import (
	"bytes"
	"strings"
	"testing"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

type mesh struct {
	Name     string            `json:"name" msgpack:"name" cbor:"name"`
	Vertices []int64           `json:"vertices" msgpack:"vertices" cbor:"vertices"`
	Tags     map[string]string `json:"tags" msgpack:"tags" cbor:"tags"`
}

func TestLimitRejectsOversized(t *testing.T) {
	lc := Limit[string]{Inner: String{}, MaxEncode: 4, MaxDecode: 3}

	if _, err := lc.Encode("hello"); err == nil {
		t.Fatalf("expected encode limit error")
	}
	if b, err := lc.Encode("ok"); err != nil || string(b) != "ok" {
		t.Fatalf("Encode within limit: b=%q err=%v", b, err)
	}
	if _, err := lc.Decode([]byte("four")); err == nil || !strings.Contains(err.Error(), "too large") {
		t.Fatalf("expected decode limit error, got %v", err)
	}

	unlimited := Limit[string]{Inner: String{}}
	if _, err := unlimited.Decode(bytes.Repeat([]byte("x"), 1<<16)); err != nil {
		t.Fatalf("zero bounds must disable limits: %v", err)
	}
}

func TestBytesDecodeCopies(t *testing.T) {
	src := []byte("abc")
	out, err := Bytes{}.Decode(src)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	src[0] = 'X'
	if out[0] != 'a' {
		t.Fatalf("decoded bytes alias input")
	}
}

func TestCBORDeterministicIsStable(t *testing.T) {
	c := MustCBOR[mesh](CBOROptions{Deterministic: true})
	v := mesh{Name: "rock", Tags: map[string]string{"z": "1", "a": "2", "m": "3"}}

	first, err := c.Encode(v)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, _ := c.Encode(v)
		if !bytes.Equal(first, again) {
			t.Fatalf("deterministic encoding changed between calls")
		}
	}
	got, err := c.Decode(first)
	if err != nil || got.Name != "rock" || got.Tags["a"] != "2" {
		t.Fatalf("Decode: got=%+v err=%v", got, err)
	}
}

func TestMsgpackCompactIsSmaller(t *testing.T) {
	v := mesh{Name: "grid", Vertices: make([]int64, 256)}
	for i := range v.Vertices {
		v.Vertices[i] = int64(i % 100)
	}

	loose, err := Msgpack[mesh]{}.Encode(v)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	compact, err := Msgpack[mesh]{Compact: true}.Encode(v)
	if err != nil {
		t.Fatalf("Encode compact: %v", err)
	}
	if len(compact) >= len(loose) {
		t.Fatalf("compact=%d loose=%d: expected compact to be smaller", len(compact), len(loose))
	}

	got, err := Msgpack[mesh]{}.Decode(compact)
	if err != nil {
		t.Fatalf("Decode compact: %v", err)
	}
	if got.Name != v.Name || len(got.Vertices) != 256 || got.Vertices[99] != 99 {
		t.Fatalf("compact payload decoded wrong: %+v", got.Name)
	}
}

func TestProtobufUsesConstructor(t *testing.T) {
	c := NewProtobuf(func() *wrapperspb.StringValue { return new(wrapperspb.StringValue) }, true)

	b, err := c.Encode(wrapperspb.String("albedo"))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := c.Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !proto.Equal(got, wrapperspb.String("albedo")) {
		t.Fatalf("got %v", got)
	}
}

func TestJSONRejectsGarbage(t *testing.T) {
	if _, err := (JSON[mesh]{}).Decode([]byte("{not json")); err == nil {
		t.Fatalf("expected decode error")
	}
}
