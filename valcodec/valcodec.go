// Package valcodec compresses value-node payloads with Huffman-only Deflate
// (spec §3.3, §9). It's the one place this module reaches for the standard
// library over a pack dependency: compress/flate's HuffmanOnly mode already
// gives symbol-frequency compression without the dictionary-match search a
// full Deflate pass would spend cycles on for the short, high-entropy text
// and attribute values a document tree actually stores, and nothing in the
// retrieval pack wraps that preset.
package valcodec

import (
	"bytes"
	"compress/flate"
	"fmt"
	"io"
)

// Encode compresses raw at Huffman-only level. The result is only ever
// smaller than raw for inputs with skewed byte-frequency distributions.
// node's value codec calls Encode for every value flagged Compressed and
// stores the result as is, without comparing its length to raw.
func Encode(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.HuffmanOnly)
	if err != nil {
		return nil, fmt.Errorf("valcodec: new writer: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		return nil, fmt.Errorf("valcodec: write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("valcodec: close: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode reverses Encode, recovering the exact original bytes.
func Decode(compressed []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(compressed))
	defer r.Close()
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("valcodec: read: %w", err)
	}
	return raw, nil
}
