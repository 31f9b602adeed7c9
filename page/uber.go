package page

import (
	"fmt"

	"github.com/sirixcore/sirix/internal/format"
	"github.com/sirixcore/sirix/sirixerr"
)

// Uber is the single mutable on-disk pointer naming the latest revision
// root. It is rewritten on every commit and is the crash-atomicity
// linearization point (spec §3.2, §4.2 step 4).
type Uber struct {
	RevisionRootOffset int64
	RevisionCount      uint32
}

// EncodeUber serializes an uber page.
func EncodeUber(u *Uber) []byte {
	buf := make([]byte, 0, 13)
	buf = append(buf, byte(KindUber))
	off := make([]byte, 8)
	format.PutU64(off, 0, uint64(u.RevisionRootOffset))
	buf = append(buf, off...)
	cnt := make([]byte, 4)
	format.PutU32(cnt, 0, u.RevisionCount)
	return append(buf, cnt...)
}

// DecodeUber parses a page produced by EncodeUber.
func DecodeUber(buf []byte) (*Uber, error) {
	if len(buf) < 13 || Kind(buf[0]) != KindUber {
		return nil, fmt.Errorf("page: decode uber: %w", sirixerr.ErrCorruption)
	}
	return &Uber{
		RevisionRootOffset: int64(format.ReadU64(buf, 1)),
		RevisionCount:      format.ReadU32(buf, 9),
	}, nil
}
