package page

import (
	"fmt"

	"github.com/sirixcore/sirix/internal/format"
	"github.com/sirixcore/sirix/sirixerr"
)

// Indirect is a fan-out page of child references (spec §3.2). A fixed
// number of indirect-page levels addresses the full 64-bit node-key space
// at the configured fan-out.
type Indirect struct {
	Fanout   int
	Children []Reference
}

// NewIndirect allocates an empty indirect page with fanout slots.
func NewIndirect(fanout int) *Indirect {
	return &Indirect{Fanout: fanout, Children: make([]Reference, fanout)}
}

// Clone returns a deep copy, used by the COW path when an indirect page is
// materialized into the current revision (spec §4.2 step 2).
func (p *Indirect) Clone() *Indirect {
	cp := &Indirect{Fanout: p.Fanout, Children: make([]Reference, len(p.Children))}
	copy(cp.Children, p.Children)
	return cp
}

// EncodeIndirect serializes an indirect page (spec §6.2: fanout ×
// (1-byte present flag, 8-byte child offset)).
func EncodeIndirect(p *Indirect) []byte {
	buf := make([]byte, 0, 1+len(p.Children)*9)
	buf = append(buf, byte(KindIndirect))
	off := make([]byte, 8)
	for _, c := range p.Children {
		if c.Present {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
		format.PutU64(off, 0, uint64(c.Offset))
		buf = append(buf, off...)
	}
	return buf
}

// DecodeIndirect parses a page produced by EncodeIndirect.
func DecodeIndirect(buf []byte) (*Indirect, error) {
	if len(buf) < 1 || Kind(buf[0]) != KindIndirect {
		return nil, fmt.Errorf("page: decode indirect: %w", sirixerr.ErrCorruption)
	}
	body := buf[1:]
	if len(body)%9 != 0 {
		return nil, fmt.Errorf("page: decode indirect: %w: truncated body", sirixerr.ErrCorruption)
	}
	n := len(body) / 9
	p := &Indirect{Fanout: n, Children: make([]Reference, n)}
	for i := 0; i < n; i++ {
		o := i * 9
		p.Children[i] = Reference{
			Present: body[o] != 0,
			Offset:  int64(format.ReadU64(body, o+1)),
		}
	}
	return p, nil
}
