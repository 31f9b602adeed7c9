package page

import (
	"fmt"
	"hash/fnv"

	"github.com/sirixcore/sirix/internal/format"
	"github.com/sirixcore/sirix/node"
	"github.com/sirixcore/sirix/sirixerr"
)

// HashName computes the content-addressed name key for s scoped by kind
// (spec §3.1 "Name key: 32-bit hash of (string, kind)"), following the
// teacher's own FNV-32a name hashing (hive/namecache/cache.go).
func HashName(s string, kind node.Kind) int32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte{byte(kind)})
	_, _ = h.Write([]byte(s))
	return int32(h.Sum32())
}

// Name is the content-addressed page resolving a (name-key, node-kind)
// slot to its decoded string (spec §3.2, §4.1 get_name).
type Name struct {
	Entries map[uint64]string
}

// NewName allocates an empty name page.
func NewName() *Name { return &Name{Entries: make(map[uint64]string)} }

// NameSlot composes the map key for a name lookup.
func NameSlot(nameKey int32, kind node.Kind) uint64 {
	return uint64(uint32(nameKey))<<8 | uint64(kind)
}

// Clone deep-copies the page for the COW path.
func (p *Name) Clone() *Name {
	cp := &Name{Entries: make(map[uint64]string, len(p.Entries))}
	for k, v := range p.Entries {
		cp.Entries[k] = v
	}
	return cp
}

// EncodeName serializes a name page: count (4 bytes), then per-entry
// (slot key 8 bytes, string length varint, UTF-8 bytes).
func EncodeName(p *Name) []byte {
	buf := make([]byte, 0, 16+len(p.Entries)*16)
	buf = append(buf, byte(KindName))
	cnt := make([]byte, 4)
	format.PutU32(cnt, 0, uint32(len(p.Entries)))
	buf = append(buf, cnt...)

	key := make([]byte, 8)
	for k, v := range p.Entries {
		format.PutU64(key, 0, k)
		buf = append(buf, key...)
		buf = format.AppendVarInt(buf, int64(len(v)))
		buf = append(buf, v...)
	}
	return buf
}

// DecodeName parses a page produced by EncodeName.
func DecodeName(buf []byte) (*Name, error) {
	if len(buf) < 5 || Kind(buf[0]) != KindName {
		return nil, fmt.Errorf("page: decode name: %w", sirixerr.ErrCorruption)
	}
	count := int(format.ReadU32(buf, 1))
	off := 5
	p := NewName()
	for i := 0; i < count; i++ {
		if off+8 > len(buf) {
			return nil, fmt.Errorf("page: decode name: %w", sirixerr.ErrCorruption)
		}
		k := format.ReadU64(buf, off)
		off += 8
		l, n, err := format.ReadVarInt(buf, off)
		if err != nil {
			return nil, fmt.Errorf("page: decode name: %w", err)
		}
		off += n
		if off+int(l) > len(buf) {
			return nil, fmt.Errorf("page: decode name: %w", sirixerr.ErrCorruption)
		}
		p.Entries[k] = string(buf[off : off+int(l)])
		off += int(l)
	}
	return p, nil
}
