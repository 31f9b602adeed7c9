package node

// Delegate is the base field set every record carries: the node's own key,
// its parent, a type key, the revision that created it, a rolling hash, and
// an optional Dewey ID. Concrete node kinds embed Delegate by value and
// re-export its accessors, the same composition the teacher uses to share
// NK fields across cell views (spec §9 "forwarding abstract classes" become
// a thin embedded struct rather than an inheritance chain).
type Delegate struct {
	NodeKey   int64
	ParentKey int64 // NullNodeKey if this is the document root
	TypeKey   int32
	Revision  uint32
	Hash      uint64
	DeweyID   []byte // nil when unset; optional per spec §3.1
}

// HasParent reports whether the node has a live parent.
func (d Delegate) HasParent() bool { return d.ParentKey != NullNodeKey }

// HasDeweyID reports whether a Dewey ID label is attached.
func (d Delegate) HasDeweyID() bool { return len(d.DeweyID) > 0 }

// GetNodeKey and GetParentKey expose the delegate's keys through promoted
// methods, so code driving a node cursor (spec §6.4) can reach them via a
// small capability interface instead of a type switch over every concrete
// node kind.
func (d Delegate) GetNodeKey() int64   { return d.NodeKey }
func (d Delegate) GetParentKey() int64 { return d.ParentKey }

// SetParentKey and SetHash mutate the delegate in place through a pointer
// receiver, so a write transaction can relink/rehash a node reached only
// through a capability interface (see GetParentKey above).
func (d *Delegate) SetParentKey(key int64) { d.ParentKey = key }
func (d *Delegate) SetHash(h uint64)       { d.Hash = h }
func (d Delegate) GetHash() uint64         { return d.Hash }

// StructDelegate adds the sibling-chain and subtree-size fields shared by
// every structural (tree-shaped) node kind.
type StructDelegate struct {
	FirstChildKey    int64
	LeftSiblingKey   int64
	RightSiblingKey  int64
	ChildCount       int64
	DescendantCount  int64
}

// HasFirstChild, HasLeftSibling, HasRightSibling report link presence.
func (s StructDelegate) HasFirstChild() bool   { return s.FirstChildKey != NullNodeKey }
func (s StructDelegate) HasLeftSibling() bool  { return s.LeftSiblingKey != NullNodeKey }
func (s StructDelegate) HasRightSibling() bool { return s.RightSiblingKey != NullNodeKey }

// IsLeaf reports whether the node has no children.
func (s StructDelegate) IsLeaf() bool { return s.ChildCount == 0 }

// GetFirstChildKey, GetLeftSiblingKey, GetRightSiblingKey, GetChildCount,
// and GetDescendantCount expose the structural fields for cursor capability
// dispatch (see Delegate's own Get* methods).
func (s StructDelegate) GetFirstChildKey() int64   { return s.FirstChildKey }
func (s StructDelegate) GetLeftSiblingKey() int64  { return s.LeftSiblingKey }
func (s StructDelegate) GetRightSiblingKey() int64 { return s.RightSiblingKey }
func (s StructDelegate) GetChildCount() int64      { return s.ChildCount }
func (s StructDelegate) GetDescendantCount() int64 { return s.DescendantCount }

// SetFirstChildKey, SetLeftSiblingKey, SetRightSiblingKey, SetChildCount,
// and SetDescendantCount mutate the structural fields in place, mirroring
// the Get* accessors above for write-side relinking.
func (s *StructDelegate) SetFirstChildKey(k int64)    { s.FirstChildKey = k }
func (s *StructDelegate) SetLeftSiblingKey(k int64)   { s.LeftSiblingKey = k }
func (s *StructDelegate) SetRightSiblingKey(k int64)  { s.RightSiblingKey = k }
func (s *StructDelegate) SetChildCount(n int64)       { s.ChildCount = n }
func (s *StructDelegate) SetDescendantCount(n int64)  { s.DescendantCount = n }

// NameDelegate carries the (uri, prefix, local-name) name-key triple plus
// the path-summary node this name resolves to (spec §3.3 invariant 5).
type NameDelegate struct {
	URIKey       int32
	PrefixKey    int32
	LocalNameKey int32
	PathNodeKey  int64
}

// GetURIKey, GetPrefixKey, GetLocalNameKey, GetPathNodeKey expose the name
// fields for cursor capability dispatch (see Delegate's own Get* methods).
func (n NameDelegate) GetURIKey() int32       { return n.URIKey }
func (n NameDelegate) GetPrefixKey() int32    { return n.PrefixKey }
func (n NameDelegate) GetLocalNameKey() int32 { return n.LocalNameKey }
func (n NameDelegate) GetPathNodeKey() int64  { return n.PathNodeKey }

// SetName and SetPathNodeKey rebind a name in place, mirroring the Get*
// accessors above for write-side set_name support (spec §4.8).
func (n *NameDelegate) SetName(uriKey, prefixKey, localNameKey int32) {
	n.URIKey, n.PrefixKey, n.LocalNameKey = uriKey, prefixKey, localNameKey
}
func (n *NameDelegate) SetPathNodeKey(key int64) { n.PathNodeKey = key }

// compressedThreshold is the minimum raw length a value must exceed before
// it opts into compression (spec §3.3).
const compressedThreshold = 10

// ValDelegate carries a node's value payload. Raw always holds the decoded,
// logical bytes; Compressed only records whether the codec should spend a
// Huffman-only Deflate pass on Raw when writing this node to a page (see
// package valcodec). Compression never changes what GetValue returns.
type ValDelegate struct {
	Compressed bool
	Raw        []byte // unpacked bytes; callers never see the wire encoding
}

// NewValue builds a ValDelegate for raw, opting it into compression once
// its length clears compressedThreshold.
func NewValue(raw []byte) ValDelegate {
	return ValDelegate{Raw: raw, Compressed: len(raw) > compressedThreshold}
}

// Len returns the logical (uncompressed) byte length of the value.
func (v ValDelegate) Len() int { return len(v.Raw) }

// GetValue returns the decoded value bytes for cursor capability dispatch
// (see Delegate's own Get* methods).
func (v ValDelegate) GetValue() []byte { return v.Raw }

// SetValue replaces the raw value bytes in place (spec §4.8 set_value),
// re-deciding the compression opt-in for the new payload.
func (v *ValDelegate) SetValue(raw []byte) {
	v.Raw = raw
	v.Compressed = len(raw) > compressedThreshold
}
