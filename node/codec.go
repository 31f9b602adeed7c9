package node

import (
	"fmt"

	"github.com/sirixcore/sirix/internal/format"
	"github.com/sirixcore/sirix/sirixerr"
	"github.com/sirixcore/sirix/valcodec"
)

// Serialize encodes a Record to its wire form. The inverse, Deserialize,
// recovers an identical value for every node kind (spec §6.3 round-trip
// law: serialize ∘ deserialize = identity).
func Serialize(r Record) ([]byte, error) {
	buf := make([]byte, 0, 64)
	buf = append(buf, byte(r.Kind()))

	switch n := r.(type) {
	case *DocumentRootNode:
		buf = encodeDelegate(buf, n.Delegate)
		buf = encodeStruct(buf, n.NodeKey, n.StructDelegate)
	case *ElementNode:
		buf = encodeDelegate(buf, n.Delegate)
		buf = encodeStruct(buf, n.NodeKey, n.StructDelegate)
		buf = encodeName(buf, n.NameDelegate)
		buf = encodeKeyList(buf, n.AttributeKeys)
		buf = encodeKeyList(buf, n.NamespaceKeys)
	case *AttributeNode:
		buf = encodeDelegate(buf, n.Delegate)
		buf = encodeName(buf, n.NameDelegate)
		var err error
		if buf, err = encodeVal(buf, n.ValDelegate); err != nil {
			return nil, err
		}
	case *NamespaceNode:
		buf = encodeDelegate(buf, n.Delegate)
		buf = encodeName(buf, n.NameDelegate)
	case *TextNode:
		buf = encodeDelegate(buf, n.Delegate)
		buf = encodeStruct(buf, n.NodeKey, n.StructDelegate)
		var err error
		if buf, err = encodeVal(buf, n.ValDelegate); err != nil {
			return nil, err
		}
	case *CommentNode:
		buf = encodeDelegate(buf, n.Delegate)
		buf = encodeStruct(buf, n.NodeKey, n.StructDelegate)
		var err error
		if buf, err = encodeVal(buf, n.ValDelegate); err != nil {
			return nil, err
		}
	case *ProcessingInstructionNode:
		buf = encodeDelegate(buf, n.Delegate)
		buf = encodeStruct(buf, n.NodeKey, n.StructDelegate)
		buf = encodeName(buf, n.NameDelegate)
		var err error
		if buf, err = encodeVal(buf, n.ValDelegate); err != nil {
			return nil, err
		}
	case *PathNode:
		buf = encodeDelegate(buf, n.Delegate)
		buf = encodeStruct(buf, n.NodeKey, n.StructDelegate)
		buf = encodeName(buf, n.NameDelegate)
		buf = append(buf, byte(n.PathNodeKind))
		buf = format.AppendVarInt(buf, int64(n.Level))
		buf = format.AppendVarInt(buf, n.ReferenceCount)
	case *AVLNodeRecord:
		buf = encodeDelegate(buf, n.Delegate)
		buf = encodeBytes(buf, n.Key)
		buf = encodeBytes(buf, n.Value)
		buf = format.AppendVarInt(buf, n.ParentKey)
		buf = format.AppendVarInt(buf, n.LeftKey)
		buf = format.AppendVarInt(buf, n.RightKey)
		buf = format.AppendVarInt(buf, int64(n.Height))
		if n.Changed {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	case *DeletedNode:
		buf = encodeDelegate(buf, n.Delegate)
	default:
		return nil, fmt.Errorf("node: serialize: %w: unknown record type %T", sirixerr.ErrBadArgument, r)
	}
	return buf, nil
}

// Deserialize decodes a Record previously produced by Serialize.
func Deserialize(buf []byte) (Record, error) {
	if len(buf) == 0 {
		return nil, fmt.Errorf("node: deserialize: %w", sirixerr.ErrCorruption)
	}
	kind := Kind(buf[0])
	dec := &decoder{buf: buf, off: 1}

	switch kind {
	case KindDocumentRoot:
		n := &DocumentRootNode{}
		n.Delegate = dec.delegate()
		n.StructDelegate = dec.strct(n.NodeKey)
		return n, dec.err
	case KindElement:
		n := &ElementNode{}
		n.Delegate = dec.delegate()
		n.StructDelegate = dec.strct(n.NodeKey)
		n.NameDelegate = dec.name()
		n.AttributeKeys = dec.keyList()
		n.NamespaceKeys = dec.keyList()
		return n, dec.err
	case KindAttribute:
		n := &AttributeNode{}
		n.Delegate = dec.delegate()
		n.NameDelegate = dec.name()
		n.ValDelegate = dec.val()
		return n, dec.err
	case KindNamespace:
		n := &NamespaceNode{}
		n.Delegate = dec.delegate()
		n.NameDelegate = dec.name()
		return n, dec.err
	case KindText:
		n := &TextNode{}
		n.Delegate = dec.delegate()
		n.StructDelegate = dec.strct(n.NodeKey)
		n.ValDelegate = dec.val()
		return n, dec.err
	case KindComment:
		n := &CommentNode{}
		n.Delegate = dec.delegate()
		n.StructDelegate = dec.strct(n.NodeKey)
		n.ValDelegate = dec.val()
		return n, dec.err
	case KindProcessingInstruction:
		n := &ProcessingInstructionNode{}
		n.Delegate = dec.delegate()
		n.StructDelegate = dec.strct(n.NodeKey)
		n.NameDelegate = dec.name()
		n.ValDelegate = dec.val()
		return n, dec.err
	case KindPathNode:
		n := &PathNode{}
		n.Delegate = dec.delegate()
		n.StructDelegate = dec.strct(n.NodeKey)
		n.NameDelegate = dec.name()
		n.PathNodeKind = dec.kindTag()
		n.Level = int32(dec.varint())
		n.ReferenceCount = dec.varint()
		return n, dec.err
	case KindAVLNode:
		n := &AVLNodeRecord{}
		n.Delegate = dec.delegate()
		n.Key = dec.bytes()
		n.Value = dec.bytes()
		n.ParentKey = dec.varint()
		n.LeftKey = dec.varint()
		n.RightKey = dec.varint()
		n.Height = int32(dec.varint())
		n.Changed = dec.flag()
		return n, dec.err
	case KindDeleted:
		n := &DeletedNode{}
		n.Delegate = dec.delegate()
		return n, dec.err
	default:
		return nil, fmt.Errorf("node: deserialize: %w: kind tag %d", sirixerr.ErrCorruption, kind)
	}
}

func encodeDelegate(buf []byte, d Delegate) []byte {
	buf = format.AppendVarInt(buf, d.NodeKey)
	buf = format.AppendVarInt(buf, d.ParentKey)
	buf = format.AppendVarInt(buf, int64(d.TypeKey))
	hashBuf := make([]byte, 8)
	format.PutU64(hashBuf, 0, d.Hash)
	buf = append(buf, hashBuf...)
	buf = format.AppendVarInt(buf, int64(d.Revision))
	buf = encodeBytes(buf, d.DeweyID)
	return buf
}

func encodeStruct(buf []byte, selfKey int64, s StructDelegate) []byte {
	buf = format.EncodeSelfRelative(buf, selfKey, s.FirstChildKey, !s.HasFirstChild())
	buf = format.EncodeSelfRelative(buf, selfKey, s.LeftSiblingKey, !s.HasLeftSibling())
	buf = format.EncodeSelfRelative(buf, selfKey, s.RightSiblingKey, !s.HasRightSibling())
	buf = format.EncodeSelfRelative(buf, selfKey, s.ChildCount, false)
	buf = format.EncodeSelfRelative(buf, selfKey, s.DescendantCount, false)
	return buf
}

func encodeName(buf []byte, nd NameDelegate) []byte {
	u := make([]byte, 4)
	format.PutU32(u, 0, uint32(nd.URIKey))
	buf = append(buf, u...)
	format.PutU32(u, 0, uint32(nd.PrefixKey))
	buf = append(buf, u...)
	format.PutU32(u, 0, uint32(nd.LocalNameKey))
	buf = append(buf, u...)
	buf = format.AppendVarInt(buf, nd.PathNodeKey)
	return buf
}

func encodeVal(buf []byte, v ValDelegate) ([]byte, error) {
	payload := v.Raw
	if v.Compressed {
		compressed, err := valcodec.Encode(v.Raw)
		if err != nil {
			return nil, fmt.Errorf("node: encode value: %w", err)
		}
		payload = compressed
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	l := make([]byte, 4)
	format.PutU32(l, 0, uint32(len(payload)))
	buf = append(buf, l...)
	return append(buf, payload...), nil
}

func encodeBytes(buf []byte, b []byte) []byte {
	buf = format.AppendVarInt(buf, int64(len(b)))
	return append(buf, b...)
}

func encodeKeyList(buf []byte, keys []int64) []byte {
	buf = format.AppendVarInt(buf, int64(len(keys)))
	for _, k := range keys {
		buf = format.AppendVarInt(buf, k)
	}
	return buf
}

// decoder walks a Serialize-produced buffer, accumulating the first error
// encountered so call sites can stay linear without per-field error checks.
type decoder struct {
	buf []byte
	off int
	err error
}

func (d *decoder) fail(err error) {
	if d.err == nil {
		d.err = err
	}
}

func (d *decoder) varint() int64 {
	if d.err != nil {
		return 0
	}
	v, n, err := format.ReadVarInt(d.buf, d.off)
	if err != nil {
		d.fail(err)
		return 0
	}
	d.off += n
	return v
}

func (d *decoder) u32() int32 {
	if d.err != nil {
		return 0
	}
	if d.off+4 > len(d.buf) {
		d.fail(sirixerr.ErrCorruption)
		return 0
	}
	v := format.ReadU32(d.buf, d.off)
	d.off += 4
	return int32(v)
}

func (d *decoder) u64() uint64 {
	if d.err != nil {
		return 0
	}
	if d.off+8 > len(d.buf) {
		d.fail(sirixerr.ErrCorruption)
		return 0
	}
	v := format.ReadU64(d.buf, d.off)
	d.off += 8
	return v
}

func (d *decoder) flag() bool {
	if d.err != nil {
		return false
	}
	if d.off >= len(d.buf) {
		d.fail(sirixerr.ErrCorruption)
		return false
	}
	v := d.buf[d.off] != 0
	d.off++
	return v
}

func (d *decoder) kindTag() Kind {
	if d.err != nil {
		return KindNull
	}
	if d.off >= len(d.buf) {
		d.fail(sirixerr.ErrCorruption)
		return KindNull
	}
	v := Kind(d.buf[d.off])
	d.off++
	return v
}

func (d *decoder) bytes() []byte {
	n := int(d.varint())
	if d.err != nil {
		return nil
	}
	if n == 0 {
		return nil
	}
	if d.off+n > len(d.buf) {
		d.fail(sirixerr.ErrCorruption)
		return nil
	}
	b := make([]byte, n)
	copy(b, d.buf[d.off:d.off+n])
	d.off += n
	return b
}

func (d *decoder) delegate() Delegate {
	var del Delegate
	del.NodeKey = d.varint()
	del.ParentKey = d.varint()
	del.TypeKey = int32(d.varint())
	del.Hash = d.u64()
	del.Revision = uint32(d.varint())
	del.DeweyID = d.bytes()
	return del
}

func (d *decoder) strct(selfKey int64) StructDelegate {
	var s StructDelegate
	s.FirstChildKey = d.selfRelative(selfKey)
	s.LeftSiblingKey = d.selfRelative(selfKey)
	s.RightSiblingKey = d.selfRelative(selfKey)
	s.ChildCount = d.selfRelative(selfKey)
	s.DescendantCount = d.selfRelative(selfKey)
	return s
}

func (d *decoder) selfRelative(selfKey int64) int64 {
	if d.err != nil {
		return NullNodeKey
	}
	v, isNull, n, err := format.DecodeSelfRelative(d.buf, d.off, selfKey)
	if err != nil {
		d.fail(err)
		return NullNodeKey
	}
	d.off += n
	if isNull {
		return NullNodeKey
	}
	return v
}

func (d *decoder) name() NameDelegate {
	var nd NameDelegate
	nd.URIKey = d.u32()
	nd.PrefixKey = d.u32()
	nd.LocalNameKey = d.u32()
	nd.PathNodeKey = d.varint()
	return nd
}

func (d *decoder) val() ValDelegate {
	var v ValDelegate
	v.Compressed = d.flag()
	n := int(d.u32())
	if d.err != nil {
		return v
	}
	if d.off+n > len(d.buf) {
		d.fail(sirixerr.ErrCorruption)
		return v
	}
	payload := make([]byte, n)
	copy(payload, d.buf[d.off:d.off+n])
	d.off += n
	if !v.Compressed {
		v.Raw = payload
		return v
	}
	raw, err := valcodec.Decode(payload)
	if err != nil {
		d.fail(fmt.Errorf("node: decode value: %w", err))
		return v
	}
	v.Raw = raw
	return v
}

func (d *decoder) keyList() []int64 {
	n := int(d.varint())
	if d.err != nil || n == 0 {
		return nil
	}
	keys := make([]int64, n)
	for i := range keys {
		keys[i] = d.varint()
	}
	return keys
}
