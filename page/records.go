package page

import (
	"fmt"
	"sort"

	"github.com/sirixcore/sirix/internal/format"
	"github.com/sirixcore/sirix/node"
	"github.com/sirixcore/sirix/sirixerr"
)

// Slot is one low-order-key entry in a Records leaf page. Present
// distinguishes "this delta changed the record at this key" from "this
// delta says nothing about this key"; the record body itself may still be
// a tombstone (node.KindDeleted) when a live node was removed (spec §4.5).
type Slot struct {
	Present bool
	Record  []byte // output of node.Serialize
}

// Records is a leaf page holding up to 2^pageShift records keyed by the
// low-order bits of the node key, storing only the slots that changed
// since the sliding-window-merged view at the prior revision — except that
// every FullDumpEvery revisions a full page is emitted (spec §3.2, §4.5).
type Records struct {
	PageKey  int64 // high-order bucket: nodeKey >> pageShift
	Revision uint32
	Family   Family
	Index    int
	Slots    map[int64]Slot

	// Full marks this page as a complete dump of the bucket rather than a
	// delta: a slot absent here is absent, full stop, terminating the
	// sliding-window walk (spec §4.5: "every FullDumpEvery revisions a
	// full page is emitted" bounds the walk to at most Window hops).
	Full bool

	// Previous chains to the prior version of this same bucket, so
	// get_record can walk the window without re-descending the indirect
	// tree for each hop.
	Previous Reference
}

// NewRecords allocates an empty leaf page for the given bucket.
func NewRecords(family Family, index int, pageKey int64, revision uint32) *Records {
	return &Records{Family: family, Index: index, PageKey: pageKey, Revision: revision, Slots: make(map[int64]Slot)}
}

// Clone returns a deep copy, used when a leaf page materializes into the
// current revision as a fresh (non-delta) page (spec §4.2 step 3).
func (p *Records) Clone() *Records {
	cp := &Records{
		PageKey: p.PageKey, Revision: p.Revision, Family: p.Family, Index: p.Index,
		Slots: make(map[int64]Slot, len(p.Slots)), Full: p.Full, Previous: p.Previous,
	}
	for k, v := range p.Slots {
		cp.Slots[k] = v
	}
	return cp
}

// Put sets the record at a low-order key, marking the slot present.
func (p *Records) Put(slotKey int64, r node.Record) error {
	buf, err := node.Serialize(r)
	if err != nil {
		return err
	}
	p.Slots[slotKey] = Slot{Present: true, Record: buf}
	return nil
}

// Tombstone writes a Deleted record at slotKey (spec §3.4 remove_entry).
func (p *Records) Tombstone(slotKey int64, d node.DeletedNode) error {
	return p.Put(slotKey, &d)
}

// Get returns the decoded record at a low-order key, if present in this
// page's delta.
func (p *Records) Get(slotKey int64) (node.Record, bool, error) {
	s, ok := p.Slots[slotKey]
	if !ok || !s.Present {
		return nil, false, nil
	}
	r, err := node.Deserialize(s.Record)
	if err != nil {
		return nil, true, err
	}
	return r, true, nil
}

// EncodeRecords serializes a Records page (spec §6.2: revision (4 bytes),
// full-dump flag (1 byte), previous-version reference (9 bytes), slot count
// (2 bytes), then per-slot (low-key varint, 1-byte kind tag, body-length
// varint, record body)).
func EncodeRecords(p *Records) []byte {
	buf := make([]byte, 0, 16+len(p.Slots)*24)
	buf = append(buf, byte(KindRecords))

	rev := make([]byte, 4)
	format.PutU32(rev, 0, p.Revision)
	buf = append(buf, rev...)

	if p.Full {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = encodeRef(buf, p.Previous)

	cnt := make([]byte, 2)
	format.PutU16(cnt, 0, uint16(len(p.Slots)))
	buf = append(buf, cnt...)

	keys := make([]int64, 0, len(p.Slots))
	for k := range p.Slots {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	for _, k := range keys {
		s := p.Slots[k]
		buf = format.AppendVarInt(buf, k)
		if !s.Present || len(s.Record) == 0 {
			buf = append(buf, byte(node.KindNull))
			buf = format.AppendVarInt(buf, 0)
			continue
		}
		buf = append(buf, s.Record[0]) // kind tag, mirrored at page level per spec §6.2
		buf = format.AppendVarInt(buf, int64(len(s.Record)-1))
		buf = append(buf, s.Record[1:]...)
	}
	return buf
}

// DecodeRecords parses a page produced by EncodeRecords. Family/Index/
// PageKey are not part of the wire form (they are the logical identity
// under which the page was addressed) and must be supplied by the caller.
func DecodeRecords(buf []byte, family Family, index int, pageKey int64) (*Records, error) {
	if len(buf) < 17 || Kind(buf[0]) != KindRecords {
		return nil, fmt.Errorf("page: decode records: %w", sirixerr.ErrCorruption)
	}
	revision := format.ReadU32(buf, 1)
	full := buf[5] != 0
	prev, n, err := decodeRef(buf, 6)
	if err != nil {
		return nil, fmt.Errorf("page: decode records: %w", err)
	}
	off := 6 + n
	if off+2 > len(buf) {
		return nil, fmt.Errorf("page: decode records: %w", sirixerr.ErrCorruption)
	}
	count := int(format.ReadU16(buf, off))
	off += 2

	p := &Records{PageKey: pageKey, Revision: revision, Family: family, Index: index, Slots: make(map[int64]Slot, count), Full: full, Previous: prev}
	for i := 0; i < count; i++ {
		k, n, err := format.ReadVarInt(buf, off)
		if err != nil {
			return nil, fmt.Errorf("page: decode records: %w", err)
		}
		off += n
		if off >= len(buf) {
			return nil, fmt.Errorf("page: decode records: %w", sirixerr.ErrCorruption)
		}
		kindTag := buf[off]
		off++
		bodyLen, n, err := format.ReadVarInt(buf, off)
		if err != nil {
			return nil, fmt.Errorf("page: decode records: %w", err)
		}
		off += n
		if off+int(bodyLen) > len(buf) {
			return nil, fmt.Errorf("page: decode records: %w", sirixerr.ErrCorruption)
		}
		if node.Kind(kindTag) == node.KindNull && bodyLen == 0 {
			p.Slots[k] = Slot{Present: false}
			continue
		}
		record := make([]byte, 1+bodyLen)
		record[0] = kindTag
		copy(record[1:], buf[off:off+int(bodyLen)])
		off += int(bodyLen)
		p.Slots[k] = Slot{Present: true, Record: record}
	}
	return p, nil
}
