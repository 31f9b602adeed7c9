// Package format provides the low-level binary primitives shared by the
// page and node codecs: fixed-width big-endian integers, LEB128 varints,
// and the self-relative delta encoding used for structural pointers.
//
// Integer encoding is big-endian fixed width except where varint is noted,
// per the on-disk layout (spec §6.2).
package format

import (
	"encoding/binary"

	"github.com/sirixcore/sirix/sirixerr"
)

// PutU16 writes a uint16 at off in big-endian order.
func PutU16(b []byte, off int, v uint16) {
	binary.BigEndian.PutUint16(b[off:off+2], v)
}

// PutU32 writes a uint32 at off in big-endian order.
func PutU32(b []byte, off int, v uint32) {
	binary.BigEndian.PutUint32(b[off:off+4], v)
}

// PutU64 writes a uint64 at off in big-endian order.
func PutU64(b []byte, off int, v uint64) {
	binary.BigEndian.PutUint64(b[off:off+8], v)
}

// ReadU16 reads a uint16 at off in big-endian order.
func ReadU16(b []byte, off int) uint16 {
	return binary.BigEndian.Uint16(b[off : off+2])
}

// ReadU32 reads a uint32 at off in big-endian order.
func ReadU32(b []byte, off int) uint32 {
	return binary.BigEndian.Uint32(b[off : off+4])
}

// ReadU64 reads a uint64 at off in big-endian order.
func ReadU64(b []byte, off int) uint64 {
	return binary.BigEndian.Uint64(b[off : off+8])
}

// AppendVarInt appends n as a LEB128-style signed varint (zigzag-encoded).
func AppendVarInt(b []byte, n int64) []byte {
	u := zigzagEncode(n)
	return appendUvarint(b, u)
}

// ReadVarInt reads a zigzag-encoded signed varint starting at off, returning
// the value and the number of bytes consumed.
func ReadVarInt(b []byte, off int) (int64, int, error) {
	u, n, err := readUvarint(b, off)
	if err != nil {
		return 0, 0, err
	}
	return zigzagDecode(u), n, nil
}

func zigzagEncode(n int64) uint64 {
	return uint64((n << 1) ^ (n >> 63))
}

func zigzagDecode(u uint64) int64 {
	return int64(u>>1) ^ -int64(u&1)
}

func appendUvarint(b []byte, u uint64) []byte {
	for u >= 0x80 {
		b = append(b, byte(u)|0x80)
		u >>= 7
	}
	return append(b, byte(u))
}

func readUvarint(b []byte, off int) (uint64, int, error) {
	var u uint64
	var shift uint
	for i := off; i < len(b); i++ {
		c := b[i]
		u |= uint64(c&0x7f) << shift
		if c&0x80 == 0 {
			return u, i - off + 1, nil
		}
		shift += 7
		if shift >= 64 {
			return 0, 0, sirixerr.ErrCorruption
		}
	}
	return 0, 0, sirixerr.ErrCorruption
}

// EncodeSelfRelative encodes a nullable node-key field as a self-relative
// delta: a 1-byte null flag followed, when non-null, by a signed varint of
// (selfKey - value). This is the wire form for first-child, left-sibling,
// right-sibling, child-count, and descendant-count fields (spec §6.3).
func EncodeSelfRelative(b []byte, selfKey, value int64, isNull bool) []byte {
	if isNull {
		return append(b, 1)
	}
	b = append(b, 0)
	return AppendVarInt(b, selfKey-value)
}

// DecodeSelfRelative decodes a self-relative delta field written by
// EncodeSelfRelative, returning the absolute value, a null flag, and the
// number of bytes consumed.
func DecodeSelfRelative(b []byte, off int, selfKey int64) (value int64, isNull bool, n int, err error) {
	if off >= len(b) {
		return 0, false, 0, sirixerr.ErrCorruption
	}
	flag := b[off]
	if flag == 1 {
		return 0, true, 1, nil
	}
	delta, consumed, err := ReadVarInt(b, off+1)
	if err != nil {
		return 0, false, 0, err
	}
	return selfKey - delta, false, consumed + 1, nil
}
