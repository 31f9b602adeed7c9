// Package pagetx implements the page-level read and write transactions: the
// indirect-tree walk that resolves a node key to its record, the sliding-
// window merge across leaf-page versions, and the copy-on-write protocol
// that produces a new revision on commit (spec §4.1, §4.2, §4.5).
package pagetx

import (
	"fmt"

	"github.com/sirixcore/sirix/cache"
	"github.com/sirixcore/sirix/iobackend"
	"github.com/sirixcore/sirix/node"
	"github.com/sirixcore/sirix/page"
	"github.com/sirixcore/sirix/sirixerr"
)

// leafLevel tags a cached Records page, distinguishing it from the
// Indirect pages cached at levels 0..len(path)-1.
const leafLevel = -1

// PageReadTrx is a read-only snapshot pinned to one revision root. It never
// mutates the resource file; every load is served from the shared page
// cache or read straight off disk (spec §4.1, §4.3).
type PageReadTrx struct {
	rf       *iobackend.ResourceFile
	cache    *cache.PageCache
	resource string

	root *page.RevisionRoot
	// rootOffset is where root itself lives on disk, or NoReference for a
	// brand-new resource whose first revision has not been written yet. A
	// write transaction built on top of this one chains its new revision
	// root's Previous pointer to this offset (spec §4.5).
	rootOffset page.Reference

	fanout int
	levels int
	shift  uint
	window int
}

// NewPageReadTrx opens a read transaction pinned to root, which was read
// from (or is about to be written to) rootOffset. fanout/window come from
// the resource file's header; the indirect-tree depth and slot-bucket
// width use the package defaults for every resource (spec §3.2).
func NewPageReadTrx(rf *iobackend.ResourceFile, c *cache.PageCache, resource string, root *page.RevisionRoot, rootOffset page.Reference) *PageReadTrx {
	h := rf.Header()
	return &PageReadTrx{
		rf:         rf,
		cache:      c,
		resource:   resource,
		root:       root,
		rootOffset: rootOffset,
		fanout:     int(h.Fanout),
		levels:     page.DefaultLevels,
		shift:      page.DefaultPageShift,
		window:     int(h.Window),
	}
}

// RevisionNumber returns the pinned revision.
func (t *PageReadTrx) RevisionNumber() uint32 { return t.root.RevisionNumber }

// Root returns the pinned revision root page.
func (t *PageReadTrx) Root() *page.RevisionRoot { return t.root }

// RootOffset returns the on-disk offset of the pinned revision root.
func (t *PageReadTrx) RootOffset() page.Reference { return t.rootOffset }

// Fanout, Levels, Shift, Window expose the addressing parameters this
// transaction was opened with, so a write transaction derived from it stays
// consistent.
func (t *PageReadTrx) Fanout() int { return t.fanout }
func (t *PageReadTrx) Levels() int { return t.levels }
func (t *PageReadTrx) Shift() uint { return t.shift }
func (t *PageReadTrx) Window() int { return t.window }

// loadIndirect loads the indirect page at ref. At level 0 the page is the
// family's single shared root (selected further by the index-number slot
// within it, per page.IndexAddress), so index is normalized to 0 there to
// avoid caching the same on-disk page once per index number.
func (t *PageReadTrx) loadIndirect(ref page.Reference, family page.Family, index, level int) (*page.Indirect, error) {
	if level == 0 {
		index = 0
	}
	key := cache.Key{Resource: t.resource, Kind: uint8(page.KindIndirect), Family: uint8(family), Index: index, Level: level, Offset: ref.Offset}
	if v, ok := t.cache.Get(key); ok {
		return v.(*page.Indirect), nil
	}
	blob, err := t.rf.ReadPage(ref.Offset)
	if err != nil {
		return nil, fmt.Errorf("pagetx: load indirect: %w", err)
	}
	ind, err := page.DecodeIndirect(blob)
	if err != nil {
		return nil, fmt.Errorf("pagetx: load indirect: %w", err)
	}
	t.cache.Put(key, ind)
	return ind, nil
}

func (t *PageReadTrx) loadRecords(ref page.Reference, family page.Family, index int, pageKey int64) (*page.Records, error) {
	key := cache.Key{Resource: t.resource, Kind: uint8(page.KindRecords), Family: uint8(family), Index: index, Level: leafLevel, Offset: ref.Offset}
	if v, ok := t.cache.Get(key); ok {
		return v.(*page.Records), nil
	}
	blob, err := t.rf.ReadPage(ref.Offset)
	if err != nil {
		return nil, fmt.Errorf("pagetx: load records: %w", err)
	}
	rec, err := page.DecodeRecords(blob, family, index, pageKey)
	if err != nil {
		return nil, fmt.Errorf("pagetx: load records: %w", err)
	}
	t.cache.Put(key, rec)
	return rec, nil
}

// leafRef walks the indirect tree rooted at ref along path, returning the
// reference to the terminal Records page. An absent hop anywhere along the
// way means the bucket has never been written; that is not an error.
func (t *PageReadTrx) leafRef(ref page.Reference, family page.Family, index int, path []int) (page.Reference, error) {
	cur := ref
	for lvl, idx := range path {
		if !cur.Present {
			return page.NoReference, nil
		}
		ind, err := t.loadIndirect(cur, family, index, lvl)
		if err != nil {
			return page.NoReference, err
		}
		if idx < 0 || idx >= len(ind.Children) {
			return page.NoReference, fmt.Errorf("pagetx: leaf ref: %w: child index %d out of range", sirixerr.ErrInvariantViolation, idx)
		}
		cur = ind.Children[idx]
	}
	return cur, nil
}

// GetRecord resolves key within family/index at the pinned revision,
// merging across the sliding window of leaf-page versions until it finds a
// present slot or a full dump settles the question (spec §4.5). A nil,
// nil result means the key has never existed or has been deleted.
func (t *PageReadTrx) GetRecord(key int64, family page.Family, index int) (node.Record, error) {
	path, pageKey, slotKey := page.IndexAddress(key, index, t.fanout, t.levels, t.shift)
	ref, err := t.leafRef(t.root.RootFor(family), family, index, path)
	if err != nil {
		return nil, err
	}
	return t.mergeSlot(ref, family, index, pageKey, slotKey)
}

// loadName loads the flat name page at ref, or a fresh empty one if the
// resource has never interned a name (spec §3.2 "Name page... flat page,
// not an indirect tree").
func (t *PageReadTrx) loadName(ref page.Reference) (*page.Name, error) {
	if !ref.Present {
		return page.NewName(), nil
	}
	key := cache.Key{Resource: t.resource, Kind: uint8(page.KindName), Offset: ref.Offset}
	if v, ok := t.cache.Get(key); ok {
		return v.(*page.Name), nil
	}
	blob, err := t.rf.ReadPage(ref.Offset)
	if err != nil {
		return nil, fmt.Errorf("pagetx: load name page: %w", err)
	}
	np, err := page.DecodeName(blob)
	if err != nil {
		return nil, fmt.Errorf("pagetx: load name page: %w", err)
	}
	t.cache.Put(key, np)
	return np, nil
}

// ResolveName resolves a name-page key slot to its decoded string (spec
// §4.1 get_name). The second result reports whether the slot is bound.
func (t *PageReadTrx) ResolveName(nameKey int32, kind node.Kind) (string, bool, error) {
	np, err := t.loadName(t.root.NameRoot)
	if err != nil {
		return "", false, err
	}
	s, ok := np.Entries[page.NameSlot(nameKey, kind)]
	return s, ok, nil
}

// mergeSlot walks the Previous chain of a leaf bucket looking for slotKey,
// bounded to Window hops (spec §4.5's boundedness guarantee).
func (t *PageReadTrx) mergeSlot(ref page.Reference, family page.Family, index int, pageKey, slotKey int64) (node.Record, error) {
	for hops := 0; ref.Present && hops < t.window; hops++ {
		rec, err := t.loadRecords(ref, family, index, pageKey)
		if err != nil {
			return nil, err
		}
		r, present, err := rec.Get(slotKey)
		if err != nil {
			return nil, fmt.Errorf("pagetx: get record: %w", err)
		}
		if present {
			if r.Kind() == node.KindDeleted {
				return nil, nil
			}
			return r, nil
		}
		if rec.Full {
			return nil, nil
		}
		ref = rec.Previous
	}
	return nil, nil
}
