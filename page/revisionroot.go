package page

import (
	"fmt"

	"github.com/sirixcore/sirix/internal/format"
	"github.com/sirixcore/sirix/sirixerr"
)

// RevisionRoot is the per-revision metadata page: the revision number, a
// commit timestamp, the high-water node key, and the sub-root pointers for
// the document store and every secondary-index family (spec §3.2).
type RevisionRoot struct {
	RevisionNumber uint32
	TimestampMilli int64
	MaxNodeKey     int64

	// Previous points at the immediately preceding revision's root page,
	// forming a backward-linked chain that the sliding window walks
	// instead of requiring a separate revision-number index (spec §4.5:
	// "the revision manager materializes a snapshot by composing a chain
	// of prior revisions"). Absent for revision 1.
	Previous Reference

	NameRoot        Reference // flat page, not an indirect tree
	DocumentRoot    Reference
	PathRoot        Reference
	CASRoot         Reference
	PathSummaryRoot Reference
}

// RootFor returns the sub-root reference for a structural Family
// (everything but FamilyName, which is a flat page resolved separately).
func (r *RevisionRoot) RootFor(f Family) Reference {
	switch f {
	case FamilyDocument:
		return r.DocumentRoot
	case FamilyPath:
		return r.PathRoot
	case FamilyCAS:
		return r.CASRoot
	case FamilyPathSummary:
		return r.PathSummaryRoot
	default:
		return NoReference
	}
}

// SetRootFor updates the sub-root reference for a structural Family.
func (r *RevisionRoot) SetRootFor(f Family, ref Reference) {
	switch f {
	case FamilyDocument:
		r.DocumentRoot = ref
	case FamilyPath:
		r.PathRoot = ref
	case FamilyCAS:
		r.CASRoot = ref
	case FamilyPathSummary:
		r.PathSummaryRoot = ref
	}
}

// EncodeRevisionRoot serializes a revision root page.
func EncodeRevisionRoot(r *RevisionRoot) []byte {
	buf := make([]byte, 0, 96)
	buf = append(buf, byte(KindRevisionRoot))

	u := make([]byte, 8)
	format.PutU32(u[:4], 0, r.RevisionNumber)
	buf = append(buf, u[:4]...)
	format.PutU64(u, 0, uint64(r.TimestampMilli))
	buf = append(buf, u...)
	buf = format.AppendVarInt(buf, r.MaxNodeKey)

	buf = encodeRef(buf, r.Previous)
	buf = encodeRef(buf, r.NameRoot)
	buf = encodeRef(buf, r.DocumentRoot)
	buf = encodeRef(buf, r.PathRoot)
	buf = encodeRef(buf, r.CASRoot)
	buf = encodeRef(buf, r.PathSummaryRoot)
	return buf
}

// DecodeRevisionRoot parses a page produced by EncodeRevisionRoot.
func DecodeRevisionRoot(buf []byte) (*RevisionRoot, error) {
	if len(buf) < 13 || Kind(buf[0]) != KindRevisionRoot {
		return nil, fmt.Errorf("page: decode revision root: %w", sirixerr.ErrCorruption)
	}
	r := &RevisionRoot{}
	r.RevisionNumber = format.ReadU32(buf, 1)
	r.TimestampMilli = int64(format.ReadU64(buf, 5))
	off := 13

	mnk, n, err := format.ReadVarInt(buf, off)
	if err != nil {
		return nil, fmt.Errorf("page: decode revision root: %w", err)
	}
	r.MaxNodeKey = mnk
	off += n

	refs := [6]*Reference{&r.Previous, &r.NameRoot, &r.DocumentRoot, &r.PathRoot, &r.CASRoot, &r.PathSummaryRoot}
	for _, dst := range refs {
		ref, n, err := decodeRef(buf, off)
		if err != nil {
			return nil, fmt.Errorf("page: decode revision root: %w", err)
		}
		*dst = ref
		off += n
	}
	return r, nil
}

func encodeRef(buf []byte, ref Reference) []byte {
	if ref.Present {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	off := make([]byte, 8)
	format.PutU64(off, 0, uint64(ref.Offset))
	return append(buf, off...)
}

func decodeRef(buf []byte, off int) (Reference, int, error) {
	if off+9 > len(buf) {
		return Reference{}, 0, sirixerr.ErrCorruption
	}
	ref := Reference{Present: buf[off] != 0, Offset: int64(format.ReadU64(buf, off+1))}
	return ref, 9, nil
}
