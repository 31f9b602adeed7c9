// Package page implements the on-disk page-tree: the uber page, revision
// root page, fan-out indirect pages, and the delta-merging record leaf
// pages that back the document store and every secondary index family
// (spec §3.2, §4.5).
package page

// Kind tags a page's on-disk shape. Every serialized page begins with a
// one-byte Kind tag (spec §6.2).
type Kind uint8

const (
	KindUber Kind = iota
	KindRevisionRoot
	KindIndirect
	KindRecords
	KindName
)

// Family identifies which logical sub-tree a revision root pointer or
// indirect page belongs to: the primary document/node store, one of the
// three secondary-index families (name, path, CAS), or the path-summary
// tree (spec §3.2).
type Family uint8

const (
	FamilyDocument Family = iota
	FamilyName
	FamilyPath
	FamilyCAS
	FamilyPathSummary

	numFamilies = int(FamilyPathSummary) + 1
)

func (f Family) String() string {
	switch f {
	case FamilyDocument:
		return "document"
	case FamilyName:
		return "name"
	case FamilyPath:
		return "path"
	case FamilyCAS:
		return "cas"
	case FamilyPathSummary:
		return "pathSummary"
	default:
		return "unknown"
	}
}

const (
	// DefaultFanout is the number of children per indirect page (spec §3.2,
	// default 128, configurable via iobackend.Header.Fanout).
	DefaultFanout = 128

	// DefaultLevels is the number of indirect-page levels used to address
	// the full 64-bit node-key space at the default fan-out.
	DefaultLevels = 4

	// DefaultWindow is the default sliding-window size W (spec §4.5).
	DefaultWindow = 4

	// DefaultFullDumpEvery is the default full-page-dump interval, equal
	// to the window size per spec §4.5.
	DefaultFullDumpEvery = DefaultWindow

	// DefaultPageShift determines how many low-order key bits (2^shift
	// keys) live in one record page's slot space.
	DefaultPageShift = 10
)

// IndexAddress decomposes a record key into the per-level child indices
// used to walk the indirect-page hierarchy, plus the low-order slot key
// within the terminal record page. The first returned index selects among
// distinct index numbers within a Family (spec §4.6's "its own page_kind/
// index sub-tree"); the remaining indices address the 64-bit key space.
func IndexAddress(key int64, index int, fanout int, levels int, pageShift uint) (path []int, pageKey int64, slotKey int64) {
	path = make([]int, 0, levels+1)
	path = append(path, index%fanout)

	shifted := key >> pageShift
	pageKey = shifted

	remaining := shifted
	levelIdx := make([]int, levels)
	for i := levels - 1; i >= 0; i-- {
		levelIdx[i] = int(remaining % int64(fanout))
		remaining /= int64(fanout)
	}
	path = append(path, levelIdx...)

	slotKey = key & ((int64(1) << pageShift) - 1)
	return path, pageKey, slotKey
}
