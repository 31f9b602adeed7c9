// Package cursor implements the node cursor: the read-only half of the
// embedding API (spec §6.4), navigating the document tree one node at a
// time via move_to_parent/first_child/last_child/left_sibling/
// right_sibling and exposing get_name/get_value/get_kind/get_*_key/has_*
// (spec §6.4, §9 "Generators/cursors" — a stateful cursor, not a lazy
// sequence). Navigation follows the node.StructDelegate sibling-chain
// fields, resolved as node-key lookups through a page read transaction.
package cursor

import (
	"fmt"

	"github.com/sirixcore/sirix/node"
	"github.com/sirixcore/sirix/page"
	"github.com/sirixcore/sirix/sirixerr"
)

// reader is the subset of pagetx.PageReadTrx/PageWriteTrx a Cursor needs to
// dereference node keys; both satisfy it structurally.
type reader interface {
	GetRecord(key int64, family page.Family, index int) (node.Record, error)
}

// nameResolver additionally resolves an interned name key to its string,
// which pagetx.PageReadTrx/PageWriteTrx both provide.
type nameResolver interface {
	ResolveName(nameKey int32, kind node.Kind) (string, bool, error)
}

// Capability interfaces a concrete node.Record may satisfy via its
// embedded delegates' promoted Get* methods (node/delegate.go), used here
// instead of a type switch over every node kind.
type hasParent interface{ GetParentKey() int64 }
type hasStruct interface {
	GetFirstChildKey() int64
	GetLeftSiblingKey() int64
	GetRightSiblingKey() int64
	GetChildCount() int64
	GetDescendantCount() int64
}
type hasName interface {
	GetURIKey() int32
	GetPrefixKey() int32
	GetLocalNameKey() int32
	GetPathNodeKey() int64
}
type hasValue interface{ GetValue() []byte }

// Cursor is a mutable, stateful position over one resource's document
// tree at a pinned revision. It never mutates the underlying resource.
type Cursor struct {
	rtx  reader
	key  int64
	node node.Record
}

// New opens a cursor positioned at startKey, typically node.DocumentNodeKey.
func New(rtx reader, startKey int64) (*Cursor, error) {
	c := &Cursor{rtx: rtx}
	if err := c.moveTo(startKey); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Cursor) moveTo(key int64) error {
	rec, err := c.rtx.GetRecord(key, page.FamilyDocument, 0)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("cursor: move to %d: %w", key, sirixerr.ErrPageNotFound)
	}
	c.key = key
	c.node = rec
	return nil
}

// Key returns the node key the cursor is currently positioned on.
func (c *Cursor) Key() int64 { return c.key }

// GetKind returns the current node's kind.
func (c *Cursor) GetKind() node.Kind { return c.node.Kind() }

// HasParent, HasFirstChild, HasLeftSibling, HasRightSibling report link
// presence without moving the cursor. A node kind lacking the relevant
// capability (e.g. Attribute has no siblings) reports false.
func (c *Cursor) HasParent() bool {
	n, ok := c.node.(hasParent)
	return ok && n.GetParentKey() != node.NullNodeKey
}

func (c *Cursor) HasFirstChild() bool {
	n, ok := c.node.(hasStruct)
	return ok && n.GetFirstChildKey() != node.NullNodeKey
}

func (c *Cursor) HasLeftSibling() bool {
	n, ok := c.node.(hasStruct)
	return ok && n.GetLeftSiblingKey() != node.NullNodeKey
}

func (c *Cursor) HasRightSibling() bool {
	n, ok := c.node.(hasStruct)
	return ok && n.GetRightSiblingKey() != node.NullNodeKey
}

// GetParentKey, GetFirstChildKey, GetLeftSiblingKey, GetRightSiblingKey,
// GetChildCount, GetDescendantCount return node.NullNodeKey (or 0 for the
// counts) when the current node lacks the relevant capability.
func (c *Cursor) GetParentKey() int64 {
	if n, ok := c.node.(hasParent); ok {
		return n.GetParentKey()
	}
	return node.NullNodeKey
}

func (c *Cursor) GetFirstChildKey() int64 {
	if n, ok := c.node.(hasStruct); ok {
		return n.GetFirstChildKey()
	}
	return node.NullNodeKey
}

func (c *Cursor) GetLeftSiblingKey() int64 {
	if n, ok := c.node.(hasStruct); ok {
		return n.GetLeftSiblingKey()
	}
	return node.NullNodeKey
}

func (c *Cursor) GetRightSiblingKey() int64 {
	if n, ok := c.node.(hasStruct); ok {
		return n.GetRightSiblingKey()
	}
	return node.NullNodeKey
}

func (c *Cursor) GetChildCount() int64 {
	if n, ok := c.node.(hasStruct); ok {
		return n.GetChildCount()
	}
	return 0
}

func (c *Cursor) GetDescendantCount() int64 {
	if n, ok := c.node.(hasStruct); ok {
		return n.GetDescendantCount()
	}
	return 0
}

// GetValue returns the raw value bytes of a value-bearing node kind
// (Attribute, Text, Comment, ProcessingInstruction), or nil otherwise.
func (c *Cursor) GetValue() []byte {
	if n, ok := c.node.(hasValue); ok {
		return n.GetValue()
	}
	return nil
}

// GetName resolves the current node's (prefix:local) name against the
// resource's name page, reporting false if the node kind carries no name
// or the name key is unbound (spec §4.1 get_name).
func (c *Cursor) GetName() (qualified string, ok bool, err error) {
	n, hasN := c.node.(hasName)
	if !hasN {
		return "", false, nil
	}
	nr, hasResolver := c.rtx.(nameResolver)
	if !hasResolver {
		return "", false, nil
	}
	local, ok, err := nr.ResolveName(n.GetLocalNameKey(), c.node.Kind())
	if err != nil || !ok {
		return "", false, err
	}
	prefix, hasPrefix, err := nr.ResolveName(n.GetPrefixKey(), c.node.Kind())
	if err != nil {
		return "", false, err
	}
	if hasPrefix && prefix != "" {
		return prefix + ":" + local, true, nil
	}
	return local, true, nil
}

// MoveToParent repositions the cursor on the current node's parent,
// reporting whether the move happened.
func (c *Cursor) MoveToParent() (bool, error) {
	n, ok := c.node.(hasParent)
	if !ok || n.GetParentKey() == node.NullNodeKey {
		return false, nil
	}
	if err := c.moveTo(n.GetParentKey()); err != nil {
		return false, err
	}
	return true, nil
}

// MoveToFirstChild repositions the cursor on the current node's first
// child, reporting whether the move happened.
func (c *Cursor) MoveToFirstChild() (bool, error) {
	n, ok := c.node.(hasStruct)
	if !ok || n.GetFirstChildKey() == node.NullNodeKey {
		return false, nil
	}
	if err := c.moveTo(n.GetFirstChildKey()); err != nil {
		return false, err
	}
	return true, nil
}

// MoveToLastChild repositions the cursor on the current node's last child
// by walking the sibling chain from the first child (there is no direct
// last-child pointer), reporting whether the move happened.
func (c *Cursor) MoveToLastChild() (bool, error) {
	moved, err := c.MoveToFirstChild()
	if err != nil || !moved {
		return moved, err
	}
	for {
		moved, err := c.MoveToRightSibling()
		if err != nil {
			return false, err
		}
		if !moved {
			return true, nil
		}
	}
}

// MoveToLeftSibling, MoveToRightSibling reposition the cursor along the
// sibling chain, reporting whether the move happened.
func (c *Cursor) MoveToLeftSibling() (bool, error) {
	n, ok := c.node.(hasStruct)
	if !ok || n.GetLeftSiblingKey() == node.NullNodeKey {
		return false, nil
	}
	if err := c.moveTo(n.GetLeftSiblingKey()); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Cursor) MoveToRightSibling() (bool, error) {
	n, ok := c.node.(hasStruct)
	if !ok || n.GetRightSiblingKey() == node.NullNodeKey {
		return false, nil
	}
	if err := c.moveTo(n.GetRightSiblingKey()); err != nil {
		return false, err
	}
	return true, nil
}

// MoveTo jumps the cursor directly to key, bypassing tree navigation.
// Useful for resuming at a node key obtained from an index lookup.
func (c *Cursor) MoveTo(key int64) (bool, error) {
	prevKey, prevNode := c.key, c.node
	if err := c.moveTo(key); err != nil {
		c.key, c.node = prevKey, prevNode
		return false, err
	}
	return true, nil
}
