// Package pathsummary maintains the path-summary tree: one PathNode per
// unique root-to-node name path, reference-counted by the named document
// nodes whose own path resolves to it (spec §3.3 invariant 5, §3.2). It is
// addressed through the same page-keyed record store the document tree and
// the AVL secondary indexes use, under page.FamilyPathSummary, but the
// tree shape itself is a trie over name segments rather than a BST: a path
// node's children are scanned by sibling-chain walk, matched by
// (uri, prefix, local-name, kind).
package pathsummary

import (
	"fmt"

	"github.com/sirixcore/sirix/node"
	"github.com/sirixcore/sirix/page"
	"github.com/sirixcore/sirix/sirixerr"
)

// rootKey is the virtual path node representing the empty path (the
// document root itself). It is never reference-counted or pruned.
const rootKey = node.DocumentNodeKey

// QName is the (uri, prefix, local-name) key triple one path segment
// matches against; these are resolved name keys, already interned via the
// resource's name page (spec §3.1 "name key").
type QName struct {
	URIKey       int32
	PrefixKey    int32
	LocalNameKey int32
}

func (q QName) matches(n *node.PathNode) bool {
	return n.URIKey == q.URIKey && n.PrefixKey == q.PrefixKey && n.LocalNameKey == q.LocalNameKey
}

// reader is the subset of pagetx.PageReadTrx/PageWriteTrx a Reader needs;
// both satisfy it structurally.
type reader interface {
	GetRecord(key int64, family page.Family, index int) (node.Record, error)
}

// writer additionally lets a Tree create, update, and drop path nodes;
// only pagetx.PageWriteTrx satisfies it.
type writer interface {
	reader
	NextNodeKey() int64
	PrepareEntryForModification(key int64, family page.Family, index int) (node.Record, error)
	CreateEntry(rec node.Record, family page.Family, index int) error
	PutEntry(key int64, rec node.Record, family page.Family, index int) error
	RemoveEntry(key int64, family page.Family, index int) error
}

// Reader reads a resource's path summary without mutating it.
type Reader struct {
	rtx reader
}

// NewReader binds a Reader to a resource's path-summary tree.
func NewReader(rtx reader) *Reader { return &Reader{rtx: rtx} }

func (r *Reader) load(key int64) (*node.PathNode, error) {
	rec, err := r.rtx.GetRecord(key, page.FamilyPathSummary, 0)
	if err != nil {
		return nil, err
	}
	if n, ok := rec.(*node.PathNode); ok && n != nil {
		return n, nil
	}
	if key == rootKey && rec == nil {
		return &node.PathNode{
			Delegate:   node.Delegate{NodeKey: rootKey, ParentKey: node.NullNodeKey},
			PathNodeKind: node.KindDocumentRoot,
			Level:      0,
		}, nil
	}
	return nil, fmt.Errorf("pathsummary: load path node %d: %w", key, sirixerr.ErrCorruption)
}

// Load returns the path node stored at key.
func (r *Reader) Load(key int64) (*node.PathNode, error) { return r.load(key) }

// FindChild scans parentKey's sibling chain for a child matching q and
// kind, returning nil if none exists.
func (r *Reader) FindChild(parentKey int64, q QName, kind node.Kind) (*node.PathNode, error) {
	parent, err := r.load(parentKey)
	if err != nil {
		return nil, err
	}
	cur := parent.FirstChildKey
	for cur != node.NullNodeKey {
		n, err := r.load(cur)
		if err != nil {
			return nil, err
		}
		if n.PathNodeKind == kind && q.matches(n) {
			return n, nil
		}
		cur = n.RightSiblingKey
	}
	return nil, nil
}

// Resolve walks path from the root without creating anything, returning
// the path node key of the deepest existing prefix and how many of path's
// segments matched. A full match returns matched == len(path).
func (r *Reader) Resolve(path []QName, kinds []node.Kind) (key int64, matched int, err error) {
	key = rootKey
	for i, q := range path {
		child, err := r.FindChild(key, q, kinds[i])
		if err != nil {
			return 0, 0, err
		}
		if child == nil {
			return key, i, nil
		}
		key = child.NodeKey
	}
	return key, len(path), nil
}

// Path reconstructs the name/kind sequence from the root down to key by
// walking ParentKey pointers and reversing.
func (r *Reader) Path(key int64) ([]QName, []node.Kind, error) {
	var names []QName
	var kinds []node.Kind
	for key != rootKey {
		n, err := r.load(key)
		if err != nil {
			return nil, nil, err
		}
		names = append(names, QName{URIKey: n.URIKey, PrefixKey: n.PrefixKey, LocalNameKey: n.LocalNameKey})
		kinds = append(kinds, n.PathNodeKind)
		key = n.ParentKey
	}
	for i, j := 0, len(names)-1; i < j; i, j = i+1, j-1 {
		names[i], names[j] = names[j], names[i]
		kinds[i], kinds[j] = kinds[j], kinds[i]
	}
	return names, kinds, nil
}

// Tree is the mutable view of a resource's path summary: inserting new
// paths and adjusting reference counts as named nodes bind to or release
// them (spec §3.3 invariant 5).
type Tree struct {
	*Reader
	wtx writer
}

// NewTree binds a Tree to a resource's path-summary tree.
func NewTree(wtx writer) *Tree { return &Tree{Reader: NewReader(wtx), wtx: wtx} }

func (t *Tree) loadForWrite(key int64) (*node.PathNode, error) {
	rec, err := t.wtx.PrepareEntryForModification(key, page.FamilyPathSummary, 0)
	if err != nil {
		return nil, err
	}
	n, ok := rec.(*node.PathNode)
	if !ok {
		return nil, fmt.Errorf("pathsummary: prepare path node %d: %w", key, sirixerr.ErrCorruption)
	}
	return n, nil
}

func (t *Tree) save(n *node.PathNode) error {
	return t.wtx.PutEntry(n.NodeKey, n, page.FamilyPathSummary, 0)
}

func (t *Tree) ensureRoot() error {
	rec, err := t.wtx.GetRecord(rootKey, page.FamilyPathSummary, 0)
	if err != nil {
		return err
	}
	if rec != nil {
		return nil
	}
	root := &node.PathNode{
		Delegate:     node.Delegate{NodeKey: rootKey, ParentKey: node.NullNodeKey},
		PathNodeKind: node.KindDocumentRoot,
		Level:        0,
	}
	return t.wtx.CreateEntry(root, page.FamilyPathSummary, 0)
}

// addChild creates and links a new path node as parentKey's first child.
func (t *Tree) addChild(parentKey int64, q QName, kind node.Kind, level int32) (int64, error) {
	parent, err := t.loadForWrite(parentKey)
	if err != nil {
		return 0, err
	}
	childKey := t.wtx.NextNodeKey()
	child := &node.PathNode{
		Delegate: node.Delegate{NodeKey: childKey, ParentKey: parentKey},
		StructDelegate: node.StructDelegate{
			FirstChildKey:   node.NullNodeKey,
			LeftSiblingKey:  node.NullNodeKey,
			RightSiblingKey: parent.FirstChildKey,
		},
		NameDelegate: node.NameDelegate{
			URIKey: q.URIKey, PrefixKey: q.PrefixKey, LocalNameKey: q.LocalNameKey,
			PathNodeKey: node.NullNodeKey,
		},
		PathNodeKind: kind,
		Level:        level,
	}
	if err := t.wtx.CreateEntry(child, page.FamilyPathSummary, 0); err != nil {
		return 0, err
	}
	if parent.FirstChildKey != node.NullNodeKey {
		sibling, err := t.loadForWrite(parent.FirstChildKey)
		if err != nil {
			return 0, err
		}
		sibling.LeftSiblingKey = childKey
		if err := t.save(sibling); err != nil {
			return 0, err
		}
	}
	parent.FirstChildKey = childKey
	parent.ChildCount++
	if err := t.save(parent); err != nil {
		return 0, err
	}
	return childKey, nil
}

// Insert walks path from the root, creating any missing segments, and
// increments the reference count of the path node at the full path's
// depth (spec §3.3 invariant 5: "path_node_key points to a live
// path-summary node whose path equals the root-to-node name sequence").
// The returned key is what a named node's NameDelegate.PathNodeKey should
// be set to.
func (t *Tree) Insert(path []QName, kinds []node.Kind) (int64, error) {
	if len(path) != len(kinds) {
		return 0, fmt.Errorf("pathsummary: insert: %w: path/kind length mismatch", sirixerr.ErrBadArgument)
	}
	if err := t.ensureRoot(); err != nil {
		return 0, err
	}
	key := int64(rootKey)
	level := int32(0)
	for i, q := range path {
		child, err := t.FindChild(key, q, kinds[i])
		if err != nil {
			return 0, err
		}
		level++
		if child != nil {
			key = child.NodeKey
			continue
		}
		key, err = t.addChild(key, q, kinds[i], level)
		if err != nil {
			return 0, err
		}
	}
	if len(path) == 0 {
		return rootKey, nil
	}
	if err := t.IncRef(key); err != nil {
		return 0, err
	}
	return key, nil
}

// IncRef increments key's reference count; the root is never counted.
func (t *Tree) IncRef(key int64) error {
	if key == rootKey {
		return nil
	}
	n, err := t.loadForWrite(key)
	if err != nil {
		return err
	}
	n.IncRef()
	return t.save(n)
}

// DecRef decrements key's reference count, pruning the node (and any
// now-empty, now-childless ancestors) once both its reference count and
// its child count reach zero.
func (t *Tree) DecRef(key int64) error {
	if key == rootKey {
		return nil
	}
	n, err := t.loadForWrite(key)
	if err != nil {
		return err
	}
	n.DecRef()
	if err := t.save(n); err != nil {
		return err
	}
	return t.pruneIfEmpty(key)
}

func (t *Tree) pruneIfEmpty(key int64) error {
	if key == rootKey {
		return nil
	}
	n, err := t.load(key)
	if err != nil {
		return err
	}
	if n.ReferenceCount > 0 || n.ChildCount > 0 {
		return nil
	}
	parentKey := n.ParentKey
	if err := t.unlink(n); err != nil {
		return err
	}
	if err := t.wtx.RemoveEntry(key, page.FamilyPathSummary, 0); err != nil {
		return err
	}
	return t.pruneIfEmpty(parentKey)
}

// unlink splices n out of its parent's child sibling chain.
func (t *Tree) unlink(n *node.PathNode) error {
	parent, err := t.loadForWrite(n.ParentKey)
	if err != nil {
		return err
	}
	if parent.FirstChildKey == n.NodeKey {
		parent.FirstChildKey = n.RightSiblingKey
	}
	parent.ChildCount--
	if err := t.save(parent); err != nil {
		return err
	}
	if n.LeftSiblingKey != node.NullNodeKey {
		left, err := t.loadForWrite(n.LeftSiblingKey)
		if err != nil {
			return err
		}
		left.RightSiblingKey = n.RightSiblingKey
		if err := t.save(left); err != nil {
			return err
		}
	}
	if n.RightSiblingKey != node.NullNodeKey {
		right, err := t.loadForWrite(n.RightSiblingKey)
		if err != nil {
			return err
		}
		right.LeftSiblingKey = n.LeftSiblingKey
		if err := t.save(right); err != nil {
			return err
		}
	}
	return nil
}
