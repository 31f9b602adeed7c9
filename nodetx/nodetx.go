// Package nodetx implements the node write transaction: translation of
// structural mutations (insert/move/copy/remove, set_name/set_value) into
// record operations on the page write transaction, maintaining the
// sibling-chain and descendant-count invariants, the rolling hash, the
// path-summary tree, and the name/path secondary indexes as it goes (spec
// §4.8). It embeds a *cursor.Cursor for read-side navigation, the same
// "cursor plus mutation surface" shape SPEC_FULL.md's embedding API
// describes for NodeWriteTransaction.
package nodetx

import (
	"fmt"

	"github.com/sirixcore/sirix/avl"
	"github.com/sirixcore/sirix/cursor"
	"github.com/sirixcore/sirix/node"
	"github.com/sirixcore/sirix/page"
	"github.com/sirixcore/sirix/pagetx"
	"github.com/sirixcore/sirix/pathsummary"
	"github.com/sirixcore/sirix/sirixerr"
)

// Name is a (possibly empty) qualified name supplied by the caller; an empty
// URI or Prefix is never interned (its key stays 0), matching
// cursor.GetName's "unbound name key resolves false" convention. Local is
// always interned, even when empty.
type Name struct {
	URI, Prefix, Local string
}

// Placement selects where a structural insert lands relative to its
// anchor node (spec §4.8's three insert_*_as_* variants per node kind).
type Placement int

const (
	AsFirstChild Placement = iota
	AsLeftSibling
	AsRightSibling
)

// Event is one step of the flat preorder stream insert_subtree_as_*
// drains: Start opens a structural node (with Name/Value populated as the
// kind requires), and a following End closes it once all of its own
// Start/End children have been consumed.
type Event struct {
	Start bool
	Kind  node.Kind
	Name  Name
	Value []byte
}

type reader interface {
	GetRecord(key int64, family page.Family, index int) (node.Record, error)
}

type nameResolver interface {
	ResolveName(nameKey int32, kind node.Kind) (string, bool, error)
}

type writer interface {
	reader
	NextNodeKey() int64
	PrepareEntryForModification(key int64, family page.Family, index int) (node.Record, error)
	CreateEntry(rec node.Record, family page.Family, index int) error
	PutEntry(key int64, rec node.Record, family page.Family, index int) error
	RemoveEntry(key int64, family page.Family, index int) error
	InternName(s string, kind node.Kind) (int32, error)
}

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
type hasHash interface{ GetHash() uint64 }

// structSetter is satisfied by every structural, hashable, reparentable
// document-tree node kind (DocumentRoot, Element, Text, Comment,
// ProcessingInstruction) via their embedded delegates' promoted Set*
// methods (node/delegate.go).
type structSetter interface {
	node.Record
	hasParent
	hasStruct
	hasHash
	SetParentKey(int64)
	SetFirstChildKey(int64)
	SetLeftSiblingKey(int64)
	SetRightSiblingKey(int64)
	SetChildCount(int64)
	SetDescendantCount(int64)
	SetHash(uint64)
}

type nameSetter interface {
	hasName
	SetName(uriKey, prefixKey, localNameKey int32)
	SetPathNodeKey(int64)
}

// Transaction is the sole mutation surface over one resource's document
// tree at the revision its underlying page write transaction is building
// (spec §5: at most one of these exists per resource at a time).
type Transaction struct {
	*cursor.Cursor

	wtx   writer
	paths *pathsummary.Tree

	nameIndex avl.Store
	pathIndex avl.Store
	casIndex  avl.Store

	mutations int
}

// New opens a node write transaction over wtx, positioned at startKey
// (typically node.DocumentNodeKey).
func New(wtx writer, startKey int64) (*Transaction, error) {
	c, err := cursor.New(wtx, startKey)
	if err != nil {
		return nil, err
	}
	return &Transaction{
		Cursor:    c,
		wtx:       wtx,
		paths:     pathsummary.NewTree(wtx),
		nameIndex: avl.Store{Family: page.FamilyName},
		pathIndex: avl.Store{Family: page.FamilyPath},
		casIndex:  avl.Store{Family: page.FamilyCAS},
	}, nil
}

// MutationCount reports how many mutating calls have been made since the
// last commit, the policy input for the auto-commit threshold spec §4.8
// describes; this package only counts, the caller (the resource-level
// package wrapping revision.Manager) decides when to act on it.
func (t *Transaction) MutationCount() int { return t.mutations }

func (t *Transaction) bump() { t.mutations++ }

// ResetMutationCount is called by the caller once it has committed.
func (t *Transaction) ResetMutationCount() { t.mutations = 0 }

func (t *Transaction) internName(n Name, kind node.Kind) (uriKey, prefixKey, localKey int32, err error) {
	if n.URI != "" {
		if uriKey, err = t.wtx.InternName(n.URI, kind); err != nil {
			return
		}
	}
	if n.Prefix != "" {
		if prefixKey, err = t.wtx.InternName(n.Prefix, kind); err != nil {
			return
		}
	}
	localKey, err = t.wtx.InternName(n.Local, kind)
	return
}

// --- structural linking -----------------------------------------------

func (t *Transaction) loadStructSetter(key int64) (structSetter, error) {
	rec, err := t.wtx.PrepareEntryForModification(key, page.FamilyDocument, 0)
	if err != nil {
		return nil, err
	}
	s, ok := rec.(structSetter)
	if !ok {
		return nil, fmt.Errorf("nodetx: %w: node %d is not a structural node", sirixerr.ErrInvariantViolation, key)
	}
	return s, nil
}

func nodeKeyOf(rec node.Record) int64 { return node.NodeKeyOf(rec) }

func (t *Transaction) subtreeSize(key int64) (int64, error) {
	rec, err := t.wtx.GetRecord(key, page.FamilyDocument, 0)
	if err != nil {
		return 0, err
	}
	if rec == nil {
		return 0, fmt.Errorf("nodetx: subtree size: %w: key %d", sirixerr.ErrPageNotFound, key)
	}
	if s, ok := rec.(hasStruct); ok {
		return s.GetDescendantCount() + 1, nil
	}
	return 1, nil
}

// incrementDescendantCount adds delta to the descendant_count of key and
// every ancestor above it (spec §3.3 invariant 3).
func (t *Transaction) incrementDescendantCount(key int64, delta int64) error {
	for key != node.NullNodeKey {
		s, err := t.loadStructSetter(key)
		if err != nil {
			return err
		}
		s.SetDescendantCount(s.GetDescendantCount() + delta)
		if err := t.wtx.PutEntry(nodeKeyOf(s), s.(node.Record), page.FamilyDocument, 0); err != nil {
			return err
		}
		key = s.GetParentKey()
	}
	return nil
}

// linkAsFirstChild splices the already-created-or-detached node key in as
// parentKey's new first child.
func (t *Transaction) linkAsFirstChild(key, parentKey int64) error {
	parent, err := t.loadStructSetter(parentKey)
	if err != nil {
		return err
	}
	oldFirst := parent.GetFirstChildKey()

	self, err := t.loadStructSetter(key)
	if err != nil {
		return err
	}
	self.SetParentKey(parentKey)
	self.SetLeftSiblingKey(node.NullNodeKey)
	self.SetRightSiblingKey(oldFirst)
	if err := t.wtx.PutEntry(key, self.(node.Record), page.FamilyDocument, 0); err != nil {
		return err
	}

	if oldFirst != node.NullNodeKey {
		oldFirstNode, err := t.loadStructSetter(oldFirst)
		if err != nil {
			return err
		}
		oldFirstNode.SetLeftSiblingKey(key)
		if err := t.wtx.PutEntry(oldFirst, oldFirstNode.(node.Record), page.FamilyDocument, 0); err != nil {
			return err
		}
	}

	parent.SetFirstChildKey(key)
	parent.SetChildCount(parent.GetChildCount() + 1)
	if err := t.wtx.PutEntry(parentKey, parent.(node.Record), page.FamilyDocument, 0); err != nil {
		return err
	}

	size, err := t.subtreeSize(key)
	if err != nil {
		return err
	}
	if err := t.incrementDescendantCount(parentKey, size); err != nil {
		return err
	}
	return t.propagateHash(key)
}

// linkAsSibling splices key in immediately before (left=true) or after
// (left=false) siblingKey.
func (t *Transaction) linkAsSibling(key, siblingKey int64, left bool) error {
	sibling, err := t.loadStructSetter(siblingKey)
	if err != nil {
		return err
	}
	parentKey := sibling.GetParentKey()

	self, err := t.loadStructSetter(key)
	if err != nil {
		return err
	}
	self.SetParentKey(parentKey)

	var outerKey int64
	if left {
		outerKey = sibling.GetLeftSiblingKey()
		self.SetLeftSiblingKey(outerKey)
		self.SetRightSiblingKey(siblingKey)
		sibling.SetLeftSiblingKey(key)
	} else {
		outerKey = sibling.GetRightSiblingKey()
		self.SetRightSiblingKey(outerKey)
		self.SetLeftSiblingKey(siblingKey)
		sibling.SetRightSiblingKey(key)
	}
	if err := t.wtx.PutEntry(key, self.(node.Record), page.FamilyDocument, 0); err != nil {
		return err
	}
	if err := t.wtx.PutEntry(siblingKey, sibling.(node.Record), page.FamilyDocument, 0); err != nil {
		return err
	}

	if outerKey != node.NullNodeKey {
		outer, err := t.loadStructSetter(outerKey)
		if err != nil {
			return err
		}
		if left {
			outer.SetRightSiblingKey(key)
		} else {
			outer.SetLeftSiblingKey(key)
		}
		if err := t.wtx.PutEntry(outerKey, outer.(node.Record), page.FamilyDocument, 0); err != nil {
			return err
		}
	} else if left {
		parent, err := t.loadStructSetter(parentKey)
		if err != nil {
			return err
		}
		parent.SetFirstChildKey(key)
		if err := t.wtx.PutEntry(parentKey, parent.(node.Record), page.FamilyDocument, 0); err != nil {
			return err
		}
	}

	parent, err := t.loadStructSetter(parentKey)
	if err != nil {
		return err
	}
	parent.SetChildCount(parent.GetChildCount() + 1)
	if err := t.wtx.PutEntry(parentKey, parent.(node.Record), page.FamilyDocument, 0); err != nil {
		return err
	}

	size, err := t.subtreeSize(key)
	if err != nil {
		return err
	}
	if err := t.incrementDescendantCount(parentKey, size); err != nil {
		return err
	}
	return t.propagateHash(key)
}

// unlinkFromParent removes key from its parent's child chain without
// touching key's own parent/sibling fields (the caller either re-links it
// elsewhere or tombstones it next).
func (t *Transaction) unlinkFromParent(key int64) (parentKey int64, err error) {
	self, err := t.loadStructSetter(key)
	if err != nil {
		return 0, err
	}
	parentKey = self.GetParentKey()
	left := self.GetLeftSiblingKey()
	right := self.GetRightSiblingKey()

	if left != node.NullNodeKey {
		leftNode, err := t.loadStructSetter(left)
		if err != nil {
			return 0, err
		}
		leftNode.SetRightSiblingKey(right)
		if err := t.wtx.PutEntry(left, leftNode.(node.Record), page.FamilyDocument, 0); err != nil {
			return 0, err
		}
	}
	if right != node.NullNodeKey {
		rightNode, err := t.loadStructSetter(right)
		if err != nil {
			return 0, err
		}
		rightNode.SetLeftSiblingKey(left)
		if err := t.wtx.PutEntry(right, rightNode.(node.Record), page.FamilyDocument, 0); err != nil {
			return 0, err
		}
	}

	parent, err := t.loadStructSetter(parentKey)
	if err != nil {
		return 0, err
	}
	if parent.GetFirstChildKey() == key {
		parent.SetFirstChildKey(right)
	}
	parent.SetChildCount(parent.GetChildCount() - 1)
	if err := t.wtx.PutEntry(parentKey, parent.(node.Record), page.FamilyDocument, 0); err != nil {
		return 0, err
	}

	size, err := t.subtreeSize(key)
	if err != nil {
		return 0, err
	}
	if err := t.incrementDescendantCount(parentKey, -size); err != nil {
		return 0, err
	}
	return parentKey, t.propagateHash(parentKey)
}

// --- rolling hash --------------------------------------------------------

func (t *Transaction) recomputeOwnHash(key int64) error {
	rec, err := t.wtx.PrepareEntryForModification(key, page.FamilyDocument, 0)
	if err != nil {
		return err
	}
	h := contentHash(rec)
	if s, ok := rec.(hasStruct); ok {
		cur := s.GetFirstChildKey()
		for cur != node.NullNodeKey {
			child, err := t.wtx.GetRecord(cur, page.FamilyDocument, 0)
			if err != nil {
				return err
			}
			if hh, ok := child.(hasHash); ok {
				h = combineHash(h, hh.GetHash())
			}
			cs, ok := child.(hasStruct)
			if !ok {
				break
			}
			cur = cs.GetRightSiblingKey()
		}
	}
	if hs, ok := rec.(interface{ SetHash(uint64) }); ok {
		hs.SetHash(h)
	}
	return t.wtx.PutEntry(key, rec, page.FamilyDocument, 0)
}

// propagateHash recomputes key's own rolling hash and then every
// ancestor's, each refolding over its (possibly just-changed) children.
func (t *Transaction) propagateHash(key int64) error {
	for key != node.NullNodeKey {
		if err := t.recomputeOwnHash(key); err != nil {
			return err
		}
		rec, err := t.wtx.GetRecord(key, page.FamilyDocument, 0)
		if err != nil {
			return err
		}
		p, ok := rec.(hasParent)
		if !ok {
			return nil
		}
		key = p.GetParentKey()
	}
	return nil
}

// --- path summary + secondary indexes ------------------------------------

// documentPath walks key's ancestor chain (document tree, not the
// path-summary tree) collecting every named node's key triple in
// root-to-node order, the input pathsummary.Tree.Insert needs.
func (t *Transaction) documentPath(key int64) ([]pathsummary.QName, []node.Kind, error) {
	var names []pathsummary.QName
	var kinds []node.Kind
	cur := key
	for cur != node.NullNodeKey {
		rec, err := t.wtx.GetRecord(cur, page.FamilyDocument, 0)
		if err != nil {
			return nil, nil, err
		}
		if rec == nil {
			break
		}
		if hn, ok := rec.(hasName); ok {
			names = append(names, pathsummary.QName{URIKey: hn.GetURIKey(), PrefixKey: hn.GetPrefixKey(), LocalNameKey: hn.GetLocalNameKey()})
			kinds = append(kinds, rec.Kind())
		}
		hp, ok := rec.(hasParent)
		if !ok {
			break
		}
		cur = hp.GetParentKey()
	}
	for i, j := 0, len(names)-1; i < j; i, j = i+1, j-1 {
		names[i], names[j] = names[j], names[i]
		kinds[i], kinds[j] = kinds[j], kinds[i]
	}
	return names, kinds, nil
}

// bindPath (re)resolves key's full root-to-node path in the path-summary
// tree, releasing the old binding if this is a rebind (spec §3.3
// invariant 5). It also maintains the name and path secondary indexes.
func (t *Transaction) bindPath(key int64) error {
	rec, err := t.wtx.PrepareEntryForModification(key, page.FamilyDocument, 0)
	if err != nil {
		return err
	}
	ns, ok := rec.(nameSetter)
	if !ok {
		return nil
	}
	oldPathKey := ns.GetPathNodeKey()

	names, kinds, err := t.documentPath(key)
	if err != nil {
		return err
	}
	newPathKey, err := t.paths.Insert(names, kinds)
	if err != nil {
		return err
	}
	ns.SetPathNodeKey(newPathKey)
	if err := t.wtx.PutEntry(key, rec, page.FamilyDocument, 0); err != nil {
		return err
	}

	if oldPathKey != node.NullNodeKey && oldPathKey != newPathKey {
		if _, err := t.pathIndex.Unindex(t.wtx, avl.Int64Key(oldPathKey), key); err != nil {
			return err
		}
		if err := t.paths.DecRef(oldPathKey); err != nil {
			return err
		}
	}
	if oldPathKey != newPathKey {
		if err := t.pathIndex.Upsert(t.wtx, avl.Int64Key(newPathKey), key); err != nil {
			return err
		}
	}

	if err := t.nameIndex.Upsert(t.wtx, avl.BytesKey(int32Bytes(ns.GetLocalNameKey())), key); err != nil {
		return err
	}
	if v, ok := rec.(hasValue); ok {
		casKey := append(int64Bytes(newPathKey), v.GetValue()...)
		if err := t.casIndex.Upsert(t.wtx, avl.BytesKey(casKey), key); err != nil {
			return err
		}
	}
	return nil
}

func (t *Transaction) unbindPath(key int64, rec node.Record) error {
	ns, ok := rec.(hasName)
	if !ok {
		return nil
	}
	if _, err := t.nameIndex.Unindex(t.wtx, avl.BytesKey(int32Bytes(ns.GetLocalNameKey())), key); err != nil {
		return err
	}
	pathKey := ns.GetPathNodeKey()
	if pathKey == node.NullNodeKey {
		return nil
	}
	if _, err := t.pathIndex.Unindex(t.wtx, avl.Int64Key(pathKey), key); err != nil {
		return err
	}
	if v, ok := rec.(hasValue); ok {
		casKey := append(int64Bytes(pathKey), v.GetValue()...)
		if _, err := t.casIndex.Unindex(t.wtx, avl.BytesKey(casKey), key); err != nil {
			return err
		}
	}
	return t.paths.DecRef(pathKey)
}

func int32Bytes(v int32) []byte {
	u := uint32(v)
	return []byte{byte(u >> 24), byte(u >> 16), byte(u >> 8), byte(u)}
}

func int64Bytes(v int64) []byte {
	u := uint64(v)
	b := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		b[i] = byte(u)
		u >>= 8
	}
	return b
}

// --- element attribute/namespace helpers ---------------------------------

func (t *Transaction) loadElement(key int64) (*node.ElementNode, error) {
	rec, err := t.wtx.PrepareEntryForModification(key, page.FamilyDocument, 0)
	if err != nil {
		return nil, err
	}
	el, ok := rec.(*node.ElementNode)
	if !ok {
		return nil, fmt.Errorf("nodetx: %w: node %d is not an element", sirixerr.ErrBadArgument, key)
	}
	return el, nil
}

// attrNameResolver looks an attribute node up by key and returns the name
// key it was interned under, the lookup an ElementNode needs to rebuild its
// attribute bi-map after a fresh decode.
func (t *Transaction) attrNameResolver() node.AttrNameResolver {
	return func(key int64) (int32, error) {
		rec, err := t.wtx.GetRecord(key, page.FamilyDocument, 0)
		if err != nil {
			return 0, err
		}
		attr, ok := rec.(*node.AttributeNode)
		if !ok {
			return 0, fmt.Errorf("nodetx: %w: node %d is not an attribute", sirixerr.ErrCorruption, key)
		}
		return attr.LocalNameKey, nil
	}
}

// InsertAttribute appends a new attribute to elementKey, interning its
// name and binding it into the path-summary and secondary indexes.
func (t *Transaction) InsertAttribute(elementKey int64, name Name, value []byte) (int64, error) {
	uriKey, prefixKey, localKey, err := t.internName(name, node.KindAttribute)
	if err != nil {
		return 0, err
	}
	el, err := t.loadElement(elementKey)
	if err != nil {
		return 0, err
	}
	if _, exists, err := el.AttributeByName(localKey, t.attrNameResolver()); err != nil {
		return 0, err
	} else if exists {
		return 0, fmt.Errorf("nodetx: %w: element %d already has an attribute named %q", sirixerr.ErrInvariantViolation, elementKey, name.Local)
	}
	key := t.wtx.NextNodeKey()
	attr := &node.AttributeNode{
		Delegate:     node.Delegate{NodeKey: key, ParentKey: elementKey},
		NameDelegate: node.NameDelegate{URIKey: uriKey, PrefixKey: prefixKey, LocalNameKey: localKey, PathNodeKey: node.NullNodeKey},
		ValDelegate:  node.NewValue(value),
	}
	if err := t.wtx.CreateEntry(attr, page.FamilyDocument, 0); err != nil {
		return 0, err
	}
	if err := el.InsertAttribute(localKey, key, t.attrNameResolver()); err != nil {
		return 0, err
	}
	if err := t.wtx.PutEntry(elementKey, el, page.FamilyDocument, 0); err != nil {
		return 0, err
	}
	if err := t.bindPath(key); err != nil {
		return 0, err
	}
	t.bump()
	return key, nil
}

// InsertNamespace appends a new namespace binding to elementKey.
func (t *Transaction) InsertNamespace(elementKey int64, name Name) (int64, error) {
	uriKey, prefixKey, localKey, err := t.internName(name, node.KindNamespace)
	if err != nil {
		return 0, err
	}
	el, err := t.loadElement(elementKey)
	if err != nil {
		return 0, err
	}
	key := t.wtx.NextNodeKey()
	ns := &node.NamespaceNode{
		Delegate:     node.Delegate{NodeKey: key, ParentKey: elementKey},
		NameDelegate: node.NameDelegate{URIKey: uriKey, PrefixKey: prefixKey, LocalNameKey: localKey, PathNodeKey: node.NullNodeKey},
	}
	if err := t.wtx.CreateEntry(ns, page.FamilyDocument, 0); err != nil {
		return 0, err
	}
	el.InsertNamespace(key)
	if err := t.wtx.PutEntry(elementKey, el, page.FamilyDocument, 0); err != nil {
		return 0, err
	}
	if err := t.bindPath(key); err != nil {
		return 0, err
	}
	t.bump()
	return key, nil
}

// --- structural inserts ---------------------------------------------------

func (t *Transaction) create(rec structSetter, pl Placement, anchor int64) (int64, error) {
	key := nodeKeyOf(rec.(node.Record))
	if err := t.wtx.CreateEntry(rec.(node.Record), page.FamilyDocument, 0); err != nil {
		return 0, err
	}
	var err error
	switch pl {
	case AsFirstChild:
		err = t.linkAsFirstChild(key, anchor)
	case AsLeftSibling:
		err = t.linkAsSibling(key, anchor, true)
	default:
		err = t.linkAsSibling(key, anchor, false)
	}
	if err != nil {
		return 0, err
	}
	t.bump()
	return key, nil
}

func (t *Transaction) insertElement(pl Placement, anchor int64, name Name) (int64, error) {
	uriKey, prefixKey, localKey, err := t.internName(name, node.KindElement)
	if err != nil {
		return 0, err
	}
	key := t.wtx.NextNodeKey()
	el := &node.ElementNode{
		Delegate:       node.Delegate{NodeKey: key},
		StructDelegate: node.StructDelegate{FirstChildKey: node.NullNodeKey},
		NameDelegate:   node.NameDelegate{URIKey: uriKey, PrefixKey: prefixKey, LocalNameKey: localKey, PathNodeKey: node.NullNodeKey},
	}
	newKey, err := t.create(el, pl, anchor)
	if err != nil {
		return 0, err
	}
	if err := t.bindPath(newKey); err != nil {
		return 0, err
	}
	return newKey, nil
}

func (t *Transaction) insertText(pl Placement, anchor int64, value []byte) (int64, error) {
	key := t.wtx.NextNodeKey()
	tn := &node.TextNode{
		Delegate:       node.Delegate{NodeKey: key},
		StructDelegate: node.StructDelegate{FirstChildKey: node.NullNodeKey},
		ValDelegate:    node.NewValue(value),
	}
	return t.create(tn, pl, anchor)
}

func (t *Transaction) insertComment(pl Placement, anchor int64, value []byte) (int64, error) {
	key := t.wtx.NextNodeKey()
	cn := &node.CommentNode{
		Delegate:       node.Delegate{NodeKey: key},
		StructDelegate: node.StructDelegate{FirstChildKey: node.NullNodeKey},
		ValDelegate:    node.NewValue(value),
	}
	return t.create(cn, pl, anchor)
}

func (t *Transaction) insertPI(pl Placement, anchor int64, name Name, value []byte) (int64, error) {
	uriKey, prefixKey, localKey, err := t.internName(name, node.KindProcessingInstruction)
	if err != nil {
		return 0, err
	}
	key := t.wtx.NextNodeKey()
	pi := &node.ProcessingInstructionNode{
		Delegate:       node.Delegate{NodeKey: key},
		StructDelegate: node.StructDelegate{FirstChildKey: node.NullNodeKey},
		NameDelegate:   node.NameDelegate{URIKey: uriKey, PrefixKey: prefixKey, LocalNameKey: localKey, PathNodeKey: node.NullNodeKey},
		ValDelegate:    node.NewValue(value),
	}
	newKey, err := t.create(pi, pl, anchor)
	if err != nil {
		return 0, err
	}
	if err := t.bindPath(newKey); err != nil {
		return 0, err
	}
	return newKey, nil
}

func (t *Transaction) InsertElementAsFirstChild(parentKey int64, name Name) (int64, error) {
	return t.insertElement(AsFirstChild, parentKey, name)
}
func (t *Transaction) InsertElementAsLeftSibling(siblingKey int64, name Name) (int64, error) {
	return t.insertElement(AsLeftSibling, siblingKey, name)
}
func (t *Transaction) InsertElementAsRightSibling(siblingKey int64, name Name) (int64, error) {
	return t.insertElement(AsRightSibling, siblingKey, name)
}

func (t *Transaction) InsertTextAsFirstChild(parentKey int64, value []byte) (int64, error) {
	return t.insertText(AsFirstChild, parentKey, value)
}
func (t *Transaction) InsertTextAsLeftSibling(siblingKey int64, value []byte) (int64, error) {
	return t.insertText(AsLeftSibling, siblingKey, value)
}
func (t *Transaction) InsertTextAsRightSibling(siblingKey int64, value []byte) (int64, error) {
	return t.insertText(AsRightSibling, siblingKey, value)
}

func (t *Transaction) InsertCommentAsFirstChild(parentKey int64, value []byte) (int64, error) {
	return t.insertComment(AsFirstChild, parentKey, value)
}
func (t *Transaction) InsertCommentAsLeftSibling(siblingKey int64, value []byte) (int64, error) {
	return t.insertComment(AsLeftSibling, siblingKey, value)
}
func (t *Transaction) InsertCommentAsRightSibling(siblingKey int64, value []byte) (int64, error) {
	return t.insertComment(AsRightSibling, siblingKey, value)
}

func (t *Transaction) InsertProcessingInstructionAsFirstChild(parentKey int64, target Name, value []byte) (int64, error) {
	return t.insertPI(AsFirstChild, parentKey, target, value)
}
func (t *Transaction) InsertProcessingInstructionAsLeftSibling(siblingKey int64, target Name, value []byte) (int64, error) {
	return t.insertPI(AsLeftSibling, siblingKey, target, value)
}
func (t *Transaction) InsertProcessingInstructionAsRightSibling(siblingKey int64, target Name, value []byte) (int64, error) {
	return t.insertPI(AsRightSibling, siblingKey, target, value)
}

func (t *Transaction) insertByKind(kind node.Kind, pl Placement, anchor int64, name Name, value []byte) (int64, error) {
	switch kind {
	case node.KindElement:
		return t.insertElement(pl, anchor, name)
	case node.KindText:
		return t.insertText(pl, anchor, value)
	case node.KindComment:
		return t.insertComment(pl, anchor, value)
	case node.KindProcessingInstruction:
		return t.insertPI(pl, anchor, name, value)
	default:
		return 0, fmt.Errorf("nodetx: insert subtree: %w: kind %v is not structurally insertable", sirixerr.ErrBadArgument, kind)
	}
}

// InsertSubtreeAsFirstChild, ...AsLeftSibling, ...AsRightSibling drain a
// flat preorder event stream, building a whole subtree under/alongside
// anchor (spec §4.8 insert_subtree_as_*).
func (t *Transaction) InsertSubtreeAsFirstChild(parentKey int64, events []Event) (int64, error) {
	idx := 0
	return t.buildSubtree(events, &idx, AsFirstChild, parentKey)
}
func (t *Transaction) InsertSubtreeAsLeftSibling(siblingKey int64, events []Event) (int64, error) {
	idx := 0
	return t.buildSubtree(events, &idx, AsLeftSibling, siblingKey)
}
func (t *Transaction) InsertSubtreeAsRightSibling(siblingKey int64, events []Event) (int64, error) {
	idx := 0
	return t.buildSubtree(events, &idx, AsRightSibling, siblingKey)
}

func (t *Transaction) buildSubtree(events []Event, idx *int, pl Placement, anchor int64) (int64, error) {
	if *idx >= len(events) || !events[*idx].Start {
		return 0, fmt.Errorf("nodetx: insert subtree: %w: expected a start event", sirixerr.ErrBadArgument)
	}
	ev := events[*idx]
	*idx++
	newKey, err := t.insertByKind(ev.Kind, pl, anchor, ev.Name, ev.Value)
	if err != nil {
		return 0, err
	}

	lastChild := int64(node.NullNodeKey)
	for *idx < len(events) && events[*idx].Start {
		var childPl Placement
		var childAnchor int64
		if lastChild == node.NullNodeKey {
			childPl, childAnchor = AsFirstChild, newKey
		} else {
			childPl, childAnchor = AsRightSibling, lastChild
		}
		childKey, err := t.buildSubtree(events, idx, childPl, childAnchor)
		if err != nil {
			return 0, err
		}
		lastChild = childKey
	}
	if *idx >= len(events) || events[*idx].Start {
		return 0, fmt.Errorf("nodetx: insert subtree: %w: missing end event", sirixerr.ErrBadArgument)
	}
	*idx++ // consume End
	return newKey, nil
}

// --- move / copy -----------------------------------------------------------

func (t *Transaction) isAncestorOrSelf(ancestorKey, key int64) (bool, error) {
	cur := key
	for cur != node.NullNodeKey {
		if cur == ancestorKey {
			return true, nil
		}
		rec, err := t.wtx.GetRecord(cur, page.FamilyDocument, 0)
		if err != nil {
			return false, err
		}
		if rec == nil {
			return false, nil
		}
		p, ok := rec.(hasParent)
		if !ok {
			return false, nil
		}
		cur = p.GetParentKey()
	}
	return false, nil
}

func (t *Transaction) checkNotAncestor(fromKey, targetKey int64) error {
	isAnc, err := t.isAncestorOrSelf(fromKey, targetKey)
	if err != nil {
		return err
	}
	if isAnc {
		return fmt.Errorf("nodetx: move subtree: %w: %d is an ancestor of the move target", sirixerr.ErrInvariantViolation, fromKey)
	}
	return nil
}

func (t *Transaction) moveSubtree(fromKey int64, pl Placement, anchor int64) error {
	target := anchor
	if pl != AsFirstChild {
		rec, err := t.wtx.GetRecord(anchor, page.FamilyDocument, 0)
		if err != nil {
			return err
		}
		p, ok := rec.(hasParent)
		if !ok {
			return fmt.Errorf("nodetx: move subtree: %w: anchor %d has no parent", sirixerr.ErrInvariantViolation, anchor)
		}
		target = p.GetParentKey()
	}
	if err := t.checkNotAncestor(fromKey, target); err != nil {
		return err
	}
	if fromKey == anchor {
		return fmt.Errorf("nodetx: move subtree: %w: cannot move %d relative to itself", sirixerr.ErrBadArgument, fromKey)
	}
	if _, err := t.unlinkFromParent(fromKey); err != nil {
		return err
	}
	var err error
	switch pl {
	case AsFirstChild:
		err = t.linkAsFirstChild(fromKey, anchor)
	case AsLeftSibling:
		err = t.linkAsSibling(fromKey, anchor, true)
	default:
		err = t.linkAsSibling(fromKey, anchor, false)
	}
	if err != nil {
		return err
	}
	t.bump()
	return nil
}

// MoveSubtreeToFirstChild relocates fromKey's whole subtree to be
// parentKey's new first child (spec §4.8, cycle prevention).
func (t *Transaction) MoveSubtreeToFirstChild(fromKey, parentKey int64) error {
	return t.moveSubtree(fromKey, AsFirstChild, parentKey)
}

// MoveSubtreeToLeftSibling relocates fromKey to be siblingKey's new left
// sibling.
func (t *Transaction) MoveSubtreeToLeftSibling(fromKey, siblingKey int64) error {
	return t.moveSubtree(fromKey, AsLeftSibling, siblingKey)
}

// MoveSubtreeToRightSibling relocates fromKey to be siblingKey's new
// right sibling.
func (t *Transaction) MoveSubtreeToRightSibling(fromKey, siblingKey int64) error {
	return t.moveSubtree(fromKey, AsRightSibling, siblingKey)
}

func (t *Transaction) resolveSrcName(src reader, rec node.Record) Name {
	hn, ok := rec.(hasName)
	if !ok {
		return Name{}
	}
	nr, ok := src.(nameResolver)
	if !ok {
		return Name{}
	}
	var n Name
	if s, ok, _ := nr.ResolveName(hn.GetURIKey(), rec.Kind()); ok {
		n.URI = s
	}
	if s, ok, _ := nr.ResolveName(hn.GetPrefixKey(), rec.Kind()); ok {
		n.Prefix = s
	}
	if s, ok, _ := nr.ResolveName(hn.GetLocalNameKey(), rec.Kind()); ok {
		n.Local = s
	}
	return n
}

func (t *Transaction) copySubtree(src reader, srcKey int64, pl Placement, anchor int64) (int64, error) {
	rec, err := src.GetRecord(srcKey, page.FamilyDocument, 0)
	if err != nil {
		return 0, err
	}
	if rec == nil {
		return 0, fmt.Errorf("nodetx: copy subtree: %w: source key %d", sirixerr.ErrPageNotFound, srcKey)
	}

	name := t.resolveSrcName(src, rec)
	var value []byte
	if hv, ok := rec.(hasValue); ok {
		value = hv.GetValue()
	}
	newKey, err := t.insertByKind(rec.Kind(), pl, anchor, name, value)
	if err != nil {
		return 0, err
	}

	if srcEl, ok := rec.(*node.ElementNode); ok {
		for _, ak := range srcEl.AttributeKeys {
			arec, err := src.GetRecord(ak, page.FamilyDocument, 0)
			if err != nil {
				return 0, err
			}
			an, ok := arec.(*node.AttributeNode)
			if !ok {
				continue
			}
			if _, err := t.InsertAttribute(newKey, t.resolveSrcName(src, an), an.Raw); err != nil {
				return 0, err
			}
		}
		for _, nk := range srcEl.NamespaceKeys {
			nrec, err := src.GetRecord(nk, page.FamilyDocument, 0)
			if err != nil {
				return 0, err
			}
			nn, ok := nrec.(*node.NamespaceNode)
			if !ok {
				continue
			}
			if _, err := t.InsertNamespace(newKey, t.resolveSrcName(src, nn)); err != nil {
				return 0, err
			}
		}
	}

	if sn, ok := rec.(hasStruct); ok {
		cur := sn.GetFirstChildKey()
		lastNew := int64(node.NullNodeKey)
		for cur != node.NullNodeKey {
			var childKey int64
			if lastNew == node.NullNodeKey {
				childKey, err = t.copySubtree(src, cur, AsFirstChild, newKey)
			} else {
				childKey, err = t.copySubtree(src, cur, AsRightSibling, lastNew)
			}
			if err != nil {
				return 0, err
			}
			lastNew = childKey

			childRec, err := src.GetRecord(cur, page.FamilyDocument, 0)
			if err != nil {
				return 0, err
			}
			csn, ok := childRec.(hasStruct)
			if !ok {
				break
			}
			cur = csn.GetRightSiblingKey()
		}
	}
	return newKey, nil
}

// CopySubtreeAsFirstChild, ...AsLeftSibling, ...AsRightSibling deep-copy
// the subtree rooted at srcKey out of another read transaction src,
// re-interning names and re-resolving path-summary/index bindings fresh
// in this transaction (spec §4.8 copy_subtree_as_*).
func (t *Transaction) CopySubtreeAsFirstChild(parentKey int64, src reader, srcKey int64) (int64, error) {
	return t.copySubtree(src, srcKey, AsFirstChild, parentKey)
}
func (t *Transaction) CopySubtreeAsLeftSibling(siblingKey int64, src reader, srcKey int64) (int64, error) {
	return t.copySubtree(src, srcKey, AsLeftSibling, siblingKey)
}
func (t *Transaction) CopySubtreeAsRightSibling(siblingKey int64, src reader, srcKey int64) (int64, error) {
	return t.copySubtree(src, srcKey, AsRightSibling, siblingKey)
}

// --- rename / set value / remove -------------------------------------------

// SetName re-interns key's qualified name and rebinds its path-summary
// and secondary-index entries accordingly (spec §4.8 set_name).
func (t *Transaction) SetName(key int64, name Name) error {
	rec, err := t.wtx.PrepareEntryForModification(key, page.FamilyDocument, 0)
	if err != nil {
		return err
	}
	ns, ok := rec.(nameSetter)
	if !ok {
		return fmt.Errorf("nodetx: set name: %w: node %d carries no name", sirixerr.ErrBadArgument, key)
	}
	uriKey, prefixKey, localKey, err := t.internName(name, rec.Kind())
	if err != nil {
		return err
	}
	ns.SetName(uriKey, prefixKey, localKey)
	if err := t.wtx.PutEntry(key, rec, page.FamilyDocument, 0); err != nil {
		return err
	}
	if err := t.bindPath(key); err != nil {
		return err
	}
	t.bump()
	return t.propagateHash(key)
}

// SetValue replaces key's raw value bytes (spec §4.8 set_value).
func (t *Transaction) SetValue(key int64, value []byte) error {
	rec, err := t.wtx.PrepareEntryForModification(key, page.FamilyDocument, 0)
	if err != nil {
		return err
	}
	vs, ok := rec.(interface{ SetValue([]byte) })
	if !ok {
		return fmt.Errorf("nodetx: set value: %w: node %d carries no value", sirixerr.ErrBadArgument, key)
	}
	vs.SetValue(value)
	if err := t.wtx.PutEntry(key, rec, page.FamilyDocument, 0); err != nil {
		return err
	}
	t.bump()
	return t.propagateHash(key)
}

// Remove deletes key and, for a structural node, its whole subtree,
// releasing path-summary references and secondary-index entries along
// the way (spec §4.8 remove).
func (t *Transaction) Remove(key int64) error {
	rec, err := t.wtx.GetRecord(key, page.FamilyDocument, 0)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("nodetx: remove: %w: key %d", sirixerr.ErrPageNotFound, key)
	}

	switch n := rec.(type) {
	case *node.AttributeNode:
		return t.removeAttribute(key, n)
	case *node.NamespaceNode:
		return t.removeNamespace(key, n)
	}

	if sn, ok := rec.(hasStruct); ok {
		if el, ok := rec.(*node.ElementNode); ok {
			for _, ak := range append([]int64{}, el.AttributeKeys...) {
				if err := t.Remove(ak); err != nil {
					return err
				}
			}
			for _, nk := range append([]int64{}, el.NamespaceKeys...) {
				if err := t.Remove(nk); err != nil {
					return err
				}
			}
		}
		child := sn.GetFirstChildKey()
		for child != node.NullNodeKey {
			childRec, err := t.wtx.GetRecord(child, page.FamilyDocument, 0)
			if err != nil {
				return err
			}
			next := node.NullNodeKey
			if cs, ok := childRec.(hasStruct); ok {
				next = cs.GetRightSiblingKey()
			}
			if err := t.Remove(child); err != nil {
				return err
			}
			child = next
		}
	}

	if err := t.unbindPath(key, rec); err != nil {
		return err
	}
	if _, err := t.unlinkFromParent(key); err != nil {
		return err
	}
	if err := t.wtx.RemoveEntry(key, page.FamilyDocument, 0); err != nil {
		return err
	}
	t.bump()
	return nil
}

func (t *Transaction) removeAttribute(key int64, attr *node.AttributeNode) error {
	el, err := t.loadElement(attr.ParentKey)
	if err != nil {
		return err
	}
	if err := el.RemoveAttribute(attr.LocalNameKey, key, t.attrNameResolver()); err != nil {
		return err
	}
	if err := t.wtx.PutEntry(attr.ParentKey, el, page.FamilyDocument, 0); err != nil {
		return err
	}
	if err := t.unbindPath(key, attr); err != nil {
		return err
	}
	if err := t.wtx.RemoveEntry(key, page.FamilyDocument, 0); err != nil {
		return err
	}
	t.bump()
	return t.propagateHash(attr.ParentKey)
}

func (t *Transaction) removeNamespace(key int64, ns *node.NamespaceNode) error {
	el, err := t.loadElement(ns.ParentKey)
	if err != nil {
		return err
	}
	el.RemoveNamespace(key)
	if err := t.wtx.PutEntry(ns.ParentKey, el, page.FamilyDocument, 0); err != nil {
		return err
	}
	if err := t.unbindPath(key, ns); err != nil {
		return err
	}
	if err := t.wtx.RemoveEntry(key, page.FamilyDocument, 0); err != nil {
		return err
	}
	t.bump()
	return t.propagateHash(ns.ParentKey)
}

// --- content hash ----------------------------------------------------------

func contentHash(rec node.Record) uint64 {
	h := fnvOffset
	h = fnvStep(h, byte(rec.Kind()))
	if hn, ok := rec.(hasName); ok {
		h = fnvStep32(h, uint32(hn.GetURIKey()))
		h = fnvStep32(h, uint32(hn.GetPrefixKey()))
		h = fnvStep32(h, uint32(hn.GetLocalNameKey()))
	}
	if hv, ok := rec.(hasValue); ok {
		for _, b := range hv.GetValue() {
			h = fnvStep(h, b)
		}
	}
	return h
}

func combineHash(a, b uint64) uint64 {
	h := fnvStep64(fnvOffset, a)
	return fnvStep64(h, b)
}

// FNV-1a 64-bit, the 64-bit member of the hash family page.HashName uses
// (there at 32 bits) for content addressing, applied here over a node's own
// content plus its children's already-folded hashes rather than a raw string.
const (
	fnvOffset = uint64(14695981039346656037)
	fnvPrime  = uint64(1099511628211)
)

func fnvStep(h uint64, b byte) uint64 { return (h ^ uint64(b)) * fnvPrime }

func fnvStep32(h uint64, v uint32) uint64 {
	for i := 0; i < 4; i++ {
		h = fnvStep(h, byte(v>>(24-8*i)))
	}
	return h
}

func fnvStep64(h uint64, v uint64) uint64 {
	for i := 0; i < 8; i++ {
		h = fnvStep(h, byte(v>>(56-8*i)))
	}
	return h
}
