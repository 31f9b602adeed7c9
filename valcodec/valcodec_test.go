package valcodec

import (
	"bytes"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	cases := [][]byte{
		[]byte(""),
		[]byte("a"),
		[]byte("the quick brown fox jumps over the lazy dog, repeatedly, for a while"),
		bytes.Repeat([]byte("ab"), 256),
	}
	for _, raw := range cases {
		compressed, err := Encode(raw)
		if err != nil {
			t.Fatalf("Encode(%q): %v", raw, err)
		}
		got, err := Decode(compressed)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if !bytes.Equal(got, raw) {
			t.Fatalf("roundtrip mismatch: want %q got %q", raw, got)
		}
	}
}

func TestEncodeSkewedInputShrinks(t *testing.T) {
	raw := bytes.Repeat([]byte("x"), 1024)
	compressed, err := Encode(raw)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(compressed) >= len(raw) {
		t.Fatalf("expected compression to shrink a single-byte-repeated payload: got %d >= %d", len(compressed), len(raw))
	}
}
