package node

// NodeKeyOf returns the node key carried by any concrete Record, without
// requiring callers to type-switch themselves (spec §9's delegate fields
// are not exposed through the Record interface directly since not every
// embedder needs them).
func NodeKeyOf(r Record) int64 {
	switch n := r.(type) {
	case *DocumentRootNode:
		return n.NodeKey
	case *ElementNode:
		return n.NodeKey
	case *AttributeNode:
		return n.NodeKey
	case *NamespaceNode:
		return n.NodeKey
	case *TextNode:
		return n.NodeKey
	case *CommentNode:
		return n.NodeKey
	case *ProcessingInstructionNode:
		return n.NodeKey
	case *PathNode:
		return n.NodeKey
	case *AVLNodeRecord:
		return n.NodeKey
	case *DeletedNode:
		return n.NodeKey
	default:
		return NullNodeKey
	}
}
