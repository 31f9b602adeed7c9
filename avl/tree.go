package avl

import (
	"fmt"

	"github.com/sirixcore/sirix/node"
	"github.com/sirixcore/sirix/page"
	"github.com/sirixcore/sirix/sirixerr"
)

// SearchMode selects how Reader.Search treats a miss on the exact key
// (spec §4.6: "EQUAL, GREATER, GREATER_OR_EQUAL, LESS, LESS_OR_EQUAL").
type SearchMode int

const (
	Equal SearchMode = iota
	Greater
	GreaterOrEqual
	Less
	LessOrEqual
)

// reader is the subset of pagetx.PageReadTrx/PageWriteTrx a Reader needs;
// both satisfy it structurally.
type reader interface {
	GetRecord(key int64, family page.Family, index int) (node.Record, error)
}

// writer additionally lets a Tree create, update, and drop entries; only
// pagetx.PageWriteTrx satisfies it.
type writer interface {
	reader
	NextNodeKey() int64
	PrepareEntryForModification(key int64, family page.Family, index int) (node.Record, error)
	CreateEntry(rec node.Record, family page.Family, index int) error
	PutEntry(key int64, rec node.Record, family page.Family, index int) error
	RemoveEntry(key int64, family page.Family, index int) error
}

// Reader searches a secondary index without mutating it. The tree root key
// lives in the index's DocumentRootNode.FirstChildKey (spec §4.6 "Layout").
type Reader struct {
	rtx    reader
	family page.Family
	index  int
}

// NewReader binds a Reader to one secondary index's sub-tree.
func NewReader(rtx reader, family page.Family, index int) *Reader {
	return &Reader{rtx: rtx, family: family, index: index}
}

func (r *Reader) head() (*node.DocumentRootNode, error) {
	rec, err := r.rtx.GetRecord(node.DocumentNodeKey, r.family, r.index)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return &node.DocumentRootNode{
			Delegate:       node.Delegate{NodeKey: node.DocumentNodeKey, ParentKey: node.NullNodeKey},
			StructDelegate: node.StructDelegate{FirstChildKey: node.NullNodeKey, LeftSiblingKey: node.NullNodeKey, RightSiblingKey: node.NullNodeKey},
		}, nil
	}
	h, ok := rec.(*node.DocumentRootNode)
	if !ok {
		return nil, fmt.Errorf("avl: head: %w: unexpected record kind", sirixerr.ErrCorruption)
	}
	return h, nil
}

// RootKey returns the tree's current root node key, or node.NullNodeKey
// for an empty index.
func (r *Reader) RootKey() (int64, error) {
	h, err := r.head()
	if err != nil {
		return node.NullNodeKey, err
	}
	return h.FirstChildKey, nil
}

func (r *Reader) load(key int64) (*node.AVLNodeRecord, error) {
	rec, err := r.rtx.GetRecord(key, r.family, r.index)
	if err != nil {
		return nil, err
	}
	n, ok := rec.(*node.AVLNodeRecord)
	if !ok || n == nil {
		return nil, fmt.Errorf("avl: load tree node %d: %w", key, sirixerr.ErrCorruption)
	}
	return n, nil
}

func (r *Reader) loadOrNil(key int64) (*node.AVLNodeRecord, error) {
	if key == node.NullNodeKey {
		return nil, nil
	}
	return r.load(key)
}

// Search descends the BST comparing k against each node's key, tracking
// the best inexact candidate for Greater/GreaterOrEqual/Less/LessOrEqual
// (spec §4.6 search modes).
func (r *Reader) Search(k Key, mode SearchMode) (*node.AVLNodeRecord, error) {
	cur, err := r.RootKey()
	if err != nil {
		return nil, err
	}

	var best *node.AVLNodeRecord
	for cur != node.NullNodeKey {
		n, err := r.load(cur)
		if err != nil {
			return nil, err
		}
		c := k.CompareTo(n.Key)
		switch {
		case c == 0:
			switch mode {
			case Equal, GreaterOrEqual, LessOrEqual:
				return n, nil
			case Greater:
				cur = n.RightKey
			case Less:
				cur = n.LeftKey
			}
		case c < 0:
			if mode == Greater || mode == GreaterOrEqual {
				best = n
			}
			cur = n.LeftKey
		default:
			if mode == Less || mode == LessOrEqual {
				best = n
			}
			cur = n.RightKey
		}
	}
	if mode == Equal {
		return nil, nil
	}
	return best, nil
}

// Tree is the mutable view of a secondary index: insertion, merge, and
// removal, each followed by an AVL rebalance walk (spec §4.6).
type Tree struct {
	*Reader
	wtx writer
}

// NewTree binds a Tree to one secondary index's sub-tree.
func NewTree(wtx writer, family page.Family, index int) *Tree {
	return &Tree{Reader: NewReader(wtx, family, index), wtx: wtx}
}

func (t *Tree) loadForWrite(key int64) (*node.AVLNodeRecord, error) {
	rec, err := t.wtx.PrepareEntryForModification(key, t.family, t.index)
	if err != nil {
		return nil, err
	}
	n, ok := rec.(*node.AVLNodeRecord)
	if !ok {
		return nil, fmt.Errorf("avl: prepare tree node %d: %w", key, sirixerr.ErrCorruption)
	}
	return n, nil
}

func (t *Tree) save(n *node.AVLNodeRecord) error {
	return t.wtx.PutEntry(n.NodeKey, n, t.family, t.index)
}

func (t *Tree) setHead(rootKey int64) error {
	rec, err := t.wtx.GetRecord(node.DocumentNodeKey, t.family, t.index)
	if err != nil {
		return err
	}
	if rec == nil {
		head := &node.DocumentRootNode{
			Delegate:       node.Delegate{NodeKey: node.DocumentNodeKey, ParentKey: node.NullNodeKey},
			StructDelegate: node.StructDelegate{FirstChildKey: rootKey, LeftSiblingKey: node.NullNodeKey, RightSiblingKey: node.NullNodeKey},
		}
		return t.wtx.CreateEntry(head, t.family, t.index)
	}
	h, ok := rec.(*node.DocumentRootNode)
	if !ok {
		return fmt.Errorf("avl: set head: %w", sirixerr.ErrCorruption)
	}
	h.FirstChildKey = rootKey
	return t.wtx.PutEntry(node.DocumentNodeKey, h, t.family, t.index)
}

func (t *Tree) createLeaf(key, parent int64, k Key, v []byte) error {
	n := &node.AVLNodeRecord{
		Delegate:  node.Delegate{NodeKey: key, ParentKey: parent},
		Key:       k.Encode(),
		Value:     v,
		ParentKey: parent,
		LeftKey:   node.NullNodeKey,
		RightKey:  node.NullNodeKey,
		Height:    1,
		Changed:   true,
	}
	return t.wtx.CreateEntry(n, t.family, t.index)
}

func (t *Tree) setChild(parentKey int64, left bool, childKey int64) error {
	n, err := t.loadForWrite(parentKey)
	if err != nil {
		return err
	}
	if left {
		n.LeftKey = childKey
	} else {
		n.RightKey = childKey
	}
	return t.save(n)
}

// Index inserts k with value v, or merges v into the existing entry's
// value via merge when k is already present (spec §4.6 index, §4.7).
func (t *Tree) Index(k Key, v []byte, merge func(existing []byte) []byte) error {
	rootKey, err := t.RootKey()
	if err != nil {
		return err
	}
	if rootKey == node.NullNodeKey {
		leafKey := t.wtx.NextNodeKey()
		if err := t.createLeaf(leafKey, node.NullNodeKey, k, v); err != nil {
			return err
		}
		return t.setHead(leafKey)
	}

	var ancestors []int64
	var sides []bool
	cur := rootKey
	for {
		n, err := t.load(cur)
		if err != nil {
			return err
		}
		c := k.CompareTo(n.Key)
		if c == 0 {
			fresh, err := t.loadForWrite(cur)
			if err != nil {
				return err
			}
			fresh.Value = merge(fresh.Value)
			return t.save(fresh)
		}
		ancestors = append(ancestors, cur)
		if c < 0 {
			sides = append(sides, true)
			if n.LeftKey == node.NullNodeKey {
				leafKey := t.wtx.NextNodeKey()
				if err := t.createLeaf(leafKey, cur, k, v); err != nil {
					return err
				}
				if err := t.setChild(cur, true, leafKey); err != nil {
					return err
				}
				break
			}
			cur = n.LeftKey
		} else {
			sides = append(sides, false)
			if n.RightKey == node.NullNodeKey {
				leafKey := t.wtx.NextNodeKey()
				if err := t.createLeaf(leafKey, cur, k, v); err != nil {
					return err
				}
				if err := t.setChild(cur, false, leafKey); err != nil {
					return err
				}
				break
			}
			cur = n.RightKey
		}
	}

	return t.rebalance(ancestors, sides)
}

// rebalance walks ancestors from the deepest (just-touched) node up to the
// root, fixing heights and rotating where a child's height changed the
// balance factor past 1, then relinking each parent to the (possibly new)
// subtree root beneath it (spec §4.6 "rotations rewrite parent/child
// pointers... in one COW batch").
func (t *Tree) rebalance(ancestors []int64, sides []bool) error {
	childKey := ancestors[0]
	for i := len(ancestors) - 1; i >= 0; i-- {
		newKey, err := t.fixAt(ancestors[i])
		if err != nil {
			return err
		}
		childKey = newKey
		if i > 0 && newKey != ancestors[i] {
			if err := t.setChild(ancestors[i-1], sides[i-1], newKey); err != nil {
				return err
			}
		}
	}
	if childKey != ancestors[0] {
		if err := t.setHead(childKey); err != nil {
			return err
		}
	}
	return t.clearRootChanged()
}

// rebalanceFromAncestor walks upward from startKey via stored parent
// pointers, used after a structural removal where no descent path is
// already in hand (spec §4.6 remove: "re-balanced from the successor's
// former parent").
func (t *Tree) rebalanceFromAncestor(startKey int64) error {
	key := startKey
	for key != node.NullNodeKey {
		n, err := t.load(key)
		if err != nil {
			return err
		}
		parentKey := n.ParentKey

		newKey, err := t.fixAt(key)
		if err != nil {
			return err
		}

		if parentKey == node.NullNodeKey {
			if newKey != key {
				if err := t.setHead(newKey); err != nil {
					return err
				}
			}
			return t.clearRootChanged()
		}
		if newKey != key {
			parent, err := t.loadForWrite(parentKey)
			if err != nil {
				return err
			}
			if parent.LeftKey == key {
				parent.LeftKey = newKey
			} else {
				parent.RightKey = newKey
			}
			if err := t.save(parent); err != nil {
				return err
			}
		}
		key = parentKey
	}
	return t.clearRootChanged()
}

// fixAt recomputes key's height from its current children and, if the
// resulting balance factor exceeds 1 in magnitude, rotates. It returns the
// key now occupying this subtree's root position: key itself, unless a
// rotation replaced it.
func (t *Tree) fixAt(key int64) (int64, error) {
	n, err := t.loadForWrite(key)
	if err != nil {
		return 0, err
	}
	left, err := t.loadOrNil(n.LeftKey)
	if err != nil {
		return 0, err
	}
	right, err := t.loadOrNil(n.RightKey)
	if err != nil {
		return 0, err
	}
	n.Height = 1 + maxHeight(heightOf(left), heightOf(right))
	n.Changed = true
	bf := heightOf(left) - heightOf(right)

	switch {
	case bf > 1:
		if left == nil {
			return 0, fmt.Errorf("avl: fix at %d: %w: left-heavy node has no left child", key, sirixerr.ErrInvariantViolation)
		}
		ll, err := t.loadOrNil(left.LeftKey)
		if err != nil {
			return 0, err
		}
		lr, err := t.loadOrNil(left.RightKey)
		if err != nil {
			return 0, err
		}
		if heightOf(ll) < heightOf(lr) {
			newLeftKey, err := t.rotateLeft(left.NodeKey)
			if err != nil {
				return 0, err
			}
			n2, err := t.loadForWrite(key)
			if err != nil {
				return 0, err
			}
			n2.LeftKey = newLeftKey
			if err := t.save(n2); err != nil {
				return 0, err
			}
		}
		return t.rotateRight(key)
	case bf < -1:
		if right == nil {
			return 0, fmt.Errorf("avl: fix at %d: %w: right-heavy node has no right child", key, sirixerr.ErrInvariantViolation)
		}
		rl, err := t.loadOrNil(right.LeftKey)
		if err != nil {
			return 0, err
		}
		rr, err := t.loadOrNil(right.RightKey)
		if err != nil {
			return 0, err
		}
		if heightOf(rr) < heightOf(rl) {
			newRightKey, err := t.rotateRight(right.NodeKey)
			if err != nil {
				return 0, err
			}
			n2, err := t.loadForWrite(key)
			if err != nil {
				return 0, err
			}
			n2.RightKey = newRightKey
			if err := t.save(n2); err != nil {
				return 0, err
			}
		}
		return t.rotateLeft(key)
	default:
		if err := t.save(n); err != nil {
			return 0, err
		}
		return key, nil
	}
}

func (t *Tree) recomputeHeight(n *node.AVLNodeRecord) error {
	l, err := t.loadOrNil(n.LeftKey)
	if err != nil {
		return err
	}
	r, err := t.loadOrNil(n.RightKey)
	if err != nil {
		return err
	}
	n.Height = 1 + maxHeight(heightOf(l), heightOf(r))
	return nil
}

// rotateLeft promotes pivot's right child to the subtree root, returning
// its key. pivot becomes the new root's left child.
func (t *Tree) rotateLeft(pivotKey int64) (int64, error) {
	pivot, err := t.loadForWrite(pivotKey)
	if err != nil {
		return 0, err
	}
	newRoot, err := t.loadForWrite(pivot.RightKey)
	if err != nil {
		return 0, err
	}

	pivot.RightKey = newRoot.LeftKey
	if newRoot.LeftKey != node.NullNodeKey {
		moved, err := t.loadForWrite(newRoot.LeftKey)
		if err != nil {
			return 0, err
		}
		moved.ParentKey = pivot.NodeKey
		if err := t.save(moved); err != nil {
			return 0, err
		}
	}
	newRoot.ParentKey = pivot.ParentKey
	pivot.ParentKey = newRoot.NodeKey
	newRoot.LeftKey = pivot.NodeKey

	if err := t.recomputeHeight(pivot); err != nil {
		return 0, err
	}
	pivot.Changed = true
	if err := t.save(pivot); err != nil {
		return 0, err
	}
	if err := t.recomputeHeight(newRoot); err != nil {
		return 0, err
	}
	newRoot.Changed = true
	if err := t.save(newRoot); err != nil {
		return 0, err
	}
	return newRoot.NodeKey, nil
}

// rotateRight promotes pivot's left child to the subtree root, returning
// its key. pivot becomes the new root's right child.
func (t *Tree) rotateRight(pivotKey int64) (int64, error) {
	pivot, err := t.loadForWrite(pivotKey)
	if err != nil {
		return 0, err
	}
	newRoot, err := t.loadForWrite(pivot.LeftKey)
	if err != nil {
		return 0, err
	}

	pivot.LeftKey = newRoot.RightKey
	if newRoot.RightKey != node.NullNodeKey {
		moved, err := t.loadForWrite(newRoot.RightKey)
		if err != nil {
			return 0, err
		}
		moved.ParentKey = pivot.NodeKey
		if err := t.save(moved); err != nil {
			return 0, err
		}
	}
	newRoot.ParentKey = pivot.ParentKey
	pivot.ParentKey = newRoot.NodeKey
	newRoot.RightKey = pivot.NodeKey

	if err := t.recomputeHeight(pivot); err != nil {
		return 0, err
	}
	pivot.Changed = true
	if err := t.save(pivot); err != nil {
		return 0, err
	}
	if err := t.recomputeHeight(newRoot); err != nil {
		return 0, err
	}
	newRoot.Changed = true
	if err := t.save(newRoot); err != nil {
		return 0, err
	}
	return newRoot.NodeKey, nil
}

func (t *Tree) clearRootChanged() error {
	rootKey, err := t.RootKey()
	if err != nil {
		return err
	}
	if rootKey == node.NullNodeKey {
		return nil
	}
	root, err := t.loadForWrite(rootKey)
	if err != nil {
		return err
	}
	if !root.Changed {
		return nil
	}
	root.Changed = false
	return t.save(root)
}

// Remove locates k and applies removeRef to its stored value. If removeRef
// reports the value is now empty, the tree node is physically removed
// using the classical three BST-deletion cases and the tree is rebalanced
// from the point of structural change (spec §4.6 remove, §4.7).
func (t *Tree) Remove(k Key, removeRef func(value []byte) (newValue []byte, empty bool)) (bool, error) {
	found, err := t.Search(k, Equal)
	if err != nil || found == nil {
		return false, err
	}
	newVal, empty := removeRef(found.Value)
	if !empty {
		fresh, err := t.loadForWrite(found.NodeKey)
		if err != nil {
			return false, err
		}
		fresh.Value = newVal
		return true, t.save(fresh)
	}
	return true, t.deleteNode(found.NodeKey)
}

// deleteNode removes key from the tree. A two-child node is handled by
// copying its in-order successor's key/value into place and physically
// deleting the successor instead, which has at most one (right) child.
func (t *Tree) deleteNode(key int64) error {
	n, err := t.load(key)
	if err != nil {
		return err
	}

	if n.LeftKey != node.NullNodeKey && n.RightKey != node.NullNodeKey {
		succKey := n.RightKey
		for {
			succ, err := t.load(succKey)
			if err != nil {
				return err
			}
			if succ.LeftKey == node.NullNodeKey {
				break
			}
			succKey = succ.LeftKey
		}
		succ, err := t.load(succKey)
		if err != nil {
			return err
		}

		fresh, err := t.loadForWrite(key)
		if err != nil {
			return err
		}
		fresh.Key = succ.Key
		fresh.Value = succ.Value
		if err := t.save(fresh); err != nil {
			return err
		}
		return t.spliceOut(succKey)
	}
	return t.spliceOut(key)
}

// spliceOut detaches key, which has zero or one children, from the tree
// and rebalances from its former parent.
func (t *Tree) spliceOut(key int64) error {
	n, err := t.load(key)
	if err != nil {
		return err
	}

	childKey := node.NullNodeKey
	if n.LeftKey != node.NullNodeKey {
		childKey = n.LeftKey
	} else if n.RightKey != node.NullNodeKey {
		childKey = n.RightKey
	}

	parentKey := n.ParentKey
	if childKey != node.NullNodeKey {
		child, err := t.loadForWrite(childKey)
		if err != nil {
			return err
		}
		child.ParentKey = parentKey
		if err := t.save(child); err != nil {
			return err
		}
	}

	if err := t.wtx.RemoveEntry(key, t.family, t.index); err != nil {
		return err
	}

	if parentKey == node.NullNodeKey {
		return t.setHead(childKey)
	}

	parent, err := t.loadForWrite(parentKey)
	if err != nil {
		return err
	}
	if parent.LeftKey == key {
		parent.LeftKey = childKey
	} else {
		parent.RightKey = childKey
	}
	if err := t.save(parent); err != nil {
		return err
	}

	return t.rebalanceFromAncestor(parentKey)
}

func heightOf(n *node.AVLNodeRecord) int32 {
	if n == nil {
		return 0
	}
	return n.Height
}

func maxHeight(a, b int32) int32 {
	if a > b {
		return a
	}
	return b
}
