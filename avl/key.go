// Package avl implements the self-balancing secondary-index tree every
// path/CAS/name index is stored as: AVLNode records addressed through the
// same page-keyed record store pagetx already provides for document nodes
// (spec §4.6). No pack example ships a textbook AVL implementation, so the
// rotation and rebalance logic here is original; the surrounding shape
// (record store, delegate reuse, opaque key/value bytes) follows the rest
// of this module.
package avl

import "bytes"

// Key is the ordering capability an index's search key implements.
// CompareTo compares the receiver against another key's wire encoding, so
// the tree itself never needs to know which concrete key type an index
// uses (spec §4.6: "standard BST descent comparing k.compare_to(node.key)").
type Key interface {
	// Encode returns the wire form stored in an AVLNodeRecord's Key field.
	Encode() []byte
	// CompareTo reports -1, 0, or 1 comparing the receiver to encoded,
	// another key's Encode() output.
	CompareTo(encoded []byte) int
}

// BytesKey orders lexicographically; the shape CAS indexes key typed
// values by and name indexes key qualified names by.
type BytesKey []byte

func (k BytesKey) Encode() []byte { return []byte(k) }

func (k BytesKey) CompareTo(encoded []byte) int {
	return bytes.Compare([]byte(k), encoded)
}

// Int64Key orders numerically; path indexes key path-summary node ids by
// this.
type Int64Key int64

func (k Int64Key) Encode() []byte {
	b := make([]byte, 8)
	u := uint64(k) ^ (1 << 63) // flip sign bit so big-endian byte order is also numeric order
	for i := 7; i >= 0; i-- {
		b[i] = byte(u)
		u >>= 8
	}
	return b
}

func (k Int64Key) CompareTo(encoded []byte) int {
	var u uint64
	for _, b := range encoded {
		u = u<<8 | uint64(b)
	}
	o := int64(u ^ (1 << 63))
	switch {
	case int64(k) < o:
		return -1
	case int64(k) > o:
		return 1
	default:
		return 0
	}
}
