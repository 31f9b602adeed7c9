package node

// DocumentRootNode is the single per-resource (or per-index) root. Its
// FirstChildKey names the document element, or the root of an AVL index
// tree when this DocumentRootNode heads an index sub-tree (spec §4.6).
type DocumentRootNode struct {
	Delegate
	StructDelegate
}

func (n *DocumentRootNode) Kind() Kind { return KindDocumentRoot }

// AttrNameResolver looks up the name key an attribute node (identified by
// its node key) was stored under. ElementNode needs one to rebuild its
// bi-map after a fresh deserialize, since AttributeKeys alone only carries
// node keys: the name side has to come from the attribute records
// themselves, which live in the page store this package doesn't reach.
type AttrNameResolver func(nodeKey int64) (int32, error)

// ElementNode is a named, structural node carrying ordered attribute and
// namespace lists plus a name-key → node-key bi-map for O(1) attribute
// lookup by name (spec §3.3 invariant 4). The bi-map is lazily rebuilt from
// AttributeKeys via an AttrNameResolver the first time it's needed after a
// fresh decode, so callers must supply one on every bi-map-touching call.
type ElementNode struct {
	Delegate
	StructDelegate
	NameDelegate

	AttributeKeys []int64
	NamespaceKeys []int64
	attrByName    map[int32]int64
}

func (n *ElementNode) Kind() Kind { return KindElement }

// AttributeByName looks up a live attribute node key by its name key,
// rebuilding the bi-map via resolve first if this is a freshly decoded
// node that hasn't built one yet.
func (n *ElementNode) AttributeByName(nameKey int32, resolve AttrNameResolver) (int64, bool, error) {
	if err := n.ensureAttrIndex(resolve); err != nil {
		return 0, false, err
	}
	k, ok := n.attrByName[nameKey]
	return k, ok, nil
}

// InsertAttribute records an attribute in both the ordered list and the
// bi-map, keeping them inverse-consistent.
func (n *ElementNode) InsertAttribute(nameKey int32, nodeKey int64, resolve AttrNameResolver) error {
	if err := n.ensureAttrIndex(resolve); err != nil {
		return err
	}
	n.AttributeKeys = append(n.AttributeKeys, nodeKey)
	n.attrByName[nameKey] = nodeKey
	return nil
}

// RemoveAttribute deletes an attribute by node key from both views.
func (n *ElementNode) RemoveAttribute(nameKey int32, nodeKey int64, resolve AttrNameResolver) error {
	if err := n.ensureAttrIndex(resolve); err != nil {
		return err
	}
	delete(n.attrByName, nameKey)
	for i, k := range n.AttributeKeys {
		if k == nodeKey {
			n.AttributeKeys = append(n.AttributeKeys[:i], n.AttributeKeys[i+1:]...)
			break
		}
	}
	return nil
}

// ensureAttrIndex rebuilds attrByName from AttributeKeys the first time
// it's touched on a node that doesn't already have one in memory (either
// freshly decoded, or freshly allocated with no attributes yet). resolve is
// only invoked for the existing keys, so a nil resolve is safe on a node
// with no attributes.
func (n *ElementNode) ensureAttrIndex(resolve AttrNameResolver) error {
	if n.attrByName != nil {
		return nil
	}
	n.attrByName = make(map[int32]int64, len(n.AttributeKeys))
	for _, key := range n.AttributeKeys {
		nameKey, err := resolve(key)
		if err != nil {
			return err
		}
		n.attrByName[nameKey] = key
	}
	return nil
}

// InsertNamespace appends a namespace binding. Namespace bindings are
// looked up positionally during prefix resolution (walking NamespaceKeys
// and reading each node), not by name key, so no bi-map is kept for them.
func (n *ElementNode) InsertNamespace(nodeKey int64) {
	n.NamespaceKeys = append(n.NamespaceKeys, nodeKey)
}

// RemoveNamespace deletes a namespace binding by node key.
func (n *ElementNode) RemoveNamespace(nodeKey int64) {
	for i, k := range n.NamespaceKeys {
		if k == nodeKey {
			n.NamespaceKeys = append(n.NamespaceKeys[:i], n.NamespaceKeys[i+1:]...)
			break
		}
	}
}

// AttributeNode is a leaf name+value node hanging off an ElementNode.
type AttributeNode struct {
	Delegate
	NameDelegate
	ValDelegate
}

func (n *AttributeNode) Kind() Kind { return KindAttribute }

// NamespaceNode binds a prefix to a URI on an ElementNode.
type NamespaceNode struct {
	Delegate
	NameDelegate
}

func (n *NamespaceNode) Kind() Kind { return KindNamespace }

// TextNode is a structural, unnamed value node.
type TextNode struct {
	Delegate
	StructDelegate
	ValDelegate
}

func (n *TextNode) Kind() Kind { return KindText }

// CommentNode is a structural, unnamed value node carrying comment text.
type CommentNode struct {
	Delegate
	StructDelegate
	ValDelegate
}

func (n *CommentNode) Kind() Kind { return KindComment }

// ProcessingInstructionNode is a structural, named+valued node.
type ProcessingInstructionNode struct {
	Delegate
	StructDelegate
	NameDelegate
	ValDelegate
}

func (n *ProcessingInstructionNode) Kind() Kind { return KindProcessingInstruction }

// PathNode is a node of the path-summary tree: one per unique root-to-node
// name path, reference-counted by the named nodes that point to it.
type PathNode struct {
	Delegate
	StructDelegate
	NameDelegate

	PathNodeKind   Kind // kind of the named node this path segment represents
	Level          int32
	ReferenceCount int64
}

func (n *PathNode) Kind() Kind { return KindPathNode }

// IncRef/DecRef adjust the reference count as named nodes bind to or
// release this path; DecRef reports whether the count reached zero.
func (n *PathNode) IncRef() { n.ReferenceCount++ }

func (n *PathNode) DecRef() (zero bool) {
	n.ReferenceCount--
	return n.ReferenceCount <= 0
}

// AVLNodeRecord is the generic, opaque-key/value storage shape for a node
// of a secondary-index AVL tree (spec §4.6). Key and Value are the
// comparator-specific and reference-list-specific wire encodings,
// interpreted by package avl; this package only knows how to move the
// bytes and the tree-pointer triple.
type AVLNodeRecord struct {
	Delegate

	Key   []byte
	Value []byte

	ParentKey int64
	LeftKey   int64
	RightKey  int64
	Height    int32
	Changed   bool
}

func (n *AVLNodeRecord) Kind() Kind { return KindAVLNode }

// DeletedNode is the tombstone left behind by remove_entry; its key is
// never reused (spec §3.4).
type DeletedNode struct {
	Delegate
}

func (n *DeletedNode) Kind() Kind { return KindDeleted }

// Record is implemented by every concrete node kind above.
type Record interface {
	Kind() Kind
}
