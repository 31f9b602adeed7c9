// Package alloc provides the bump allocator used to hand out new node keys
// within a write transaction. It is grounded on the teacher corpus's
// hive/alloc/bump.go, generalized from "next free byte in an HBIN" to "next
// free node key in the current revision" (spec §4.2 create_entry: "assigns
// key = current_max_node_key + 1, increments the max").
package alloc

import (
	"fmt"

	"github.com/sirixcore/sirix/sirixerr"
)

// NodeKeyBump hands out strictly monotonic node keys, never reusing one
// even after the node it named is removed (spec §3.1, §3.3 invariant 1).
type NodeKeyBump struct {
	max int64
}

// NewNodeKeyBump resumes allocation from the current revision's max node
// key (0 for a brand-new, empty resource).
func NewNodeKeyBump(currentMax int64) *NodeKeyBump {
	return &NodeKeyBump{max: currentMax}
}

// Next allocates and returns the next node key.
func (b *NodeKeyBump) Next() int64 {
	b.max++
	return b.max
}

// Max returns the current high-water node key without allocating.
func (b *NodeKeyBump) Max() int64 {
	return b.max
}

// Reserve advances the high-water mark to at least key, used when replaying
// a spilled log entry that already names a key beyond the in-memory max.
func (b *NodeKeyBump) Reserve(key int64) error {
	if key < 0 {
		return fmt.Errorf("alloc: reserve: %w: negative key %d", sirixerr.ErrBadArgument, key)
	}
	if key > b.max {
		b.max = key
	}
	return nil
}
