package avl

import (
	"fmt"
	"sort"

	"github.com/sirixcore/sirix/internal/format"
	"github.com/sirixcore/sirix/sirixerr"
)

// References is the node-key set an index value carries: every document
// node whose key resolves to this entry (spec §4.7). Kept sorted so
// Contains can binary search.
type References struct {
	keys []int64
}

// NewReferences builds a References set from zero or more node keys.
func NewReferences(keys ...int64) *References {
	r := &References{}
	for _, k := range keys {
		r.AddNodeKey(k)
	}
	return r
}

func (r *References) search(k int64) (int, bool) {
	i := sort.Search(len(r.keys), func(i int) bool { return r.keys[i] >= k })
	return i, i < len(r.keys) && r.keys[i] == k
}

// AddNodeKey inserts k, reporting whether it was not already present.
func (r *References) AddNodeKey(k int64) bool {
	i, found := r.search(k)
	if found {
		return false
	}
	r.keys = append(r.keys, 0)
	copy(r.keys[i+1:], r.keys[i:])
	r.keys[i] = k
	return true
}

// RemoveNodeKey deletes k, reporting whether it was present.
func (r *References) RemoveNodeKey(k int64) bool {
	i, found := r.search(k)
	if !found {
		return false
	}
	r.keys = append(r.keys[:i], r.keys[i+1:]...)
	return true
}

// Contains reports whether k is a member.
func (r *References) Contains(k int64) bool {
	_, found := r.search(k)
	return found
}

// IsEmpty reports whether the set holds no keys.
func (r *References) IsEmpty() bool { return len(r.keys) == 0 }

// Keys returns the sorted node keys. Callers must not mutate the slice.
func (r *References) Keys() []int64 { return r.keys }

// EncodeReferences serializes r to the opaque bytes an AVLNodeRecord's
// Value field carries.
func EncodeReferences(r *References) []byte {
	buf := format.AppendVarInt(nil, int64(len(r.keys)))
	for _, k := range r.keys {
		buf = format.AppendVarInt(buf, k)
	}
	return buf
}

// DecodeReferences parses a value produced by EncodeReferences.
func DecodeReferences(buf []byte) (*References, error) {
	count, n, err := format.ReadVarInt(buf, 0)
	if err != nil {
		return nil, fmt.Errorf("avl: decode references: %w", err)
	}
	if count < 0 {
		return nil, fmt.Errorf("avl: decode references: %w", sirixerr.ErrCorruption)
	}
	off := n
	keys := make([]int64, count)
	for i := range keys {
		v, n, err := format.ReadVarInt(buf, off)
		if err != nil {
			return nil, fmt.Errorf("avl: decode references: %w", err)
		}
		keys[i] = v
		off += n
	}
	return &References{keys: keys}, nil
}
