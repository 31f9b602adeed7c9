package pagetx

import (
	"fmt"
	"time"

	"github.com/sirixcore/sirix/alloc"
	"github.com/sirixcore/sirix/iobackend"
	"github.com/sirixcore/sirix/node"
	"github.com/sirixcore/sirix/page"
	"github.com/sirixcore/sirix/sirixerr"
	"github.com/sirixcore/sirix/txlog"
)

// touchedPath remembers the full indirect-tree route to one leaf bucket, so
// Commit can thread freshly written offsets back up to the revision root.
type touchedPath struct {
	family page.Family
	index  int
	path   []int
}

// PageWriteTrx is the single, exclusive writer building the next revision
// on top of a base snapshot (spec §4.2, §5: only one write transaction may
// be open per resource at a time). Every mutation copies its target page
// into an in-memory dirty set first; nothing touches the resource file
// until Commit (spec §4.2's copy-on-write protocol).
type PageWriteTrx struct {
	base *PageReadTrx

	rf       *iobackend.ResourceFile
	resource string
	log      *txlog.Log // optional durable spill; nil disables it

	fanout int
	levels int
	shift  uint
	window int

	root *page.RevisionRoot
	bump *alloc.NodeKeyBump

	dirtyRecords   map[recordsKey]*page.Records
	dirtyIndirect  map[indirectKey]*page.Indirect
	touched        map[recordsKey]touchedPath
	dirtyName      *page.Name // nil until the first InternName call this transaction
	dirtyCapacity  int
	recordOrder    []recordsKey // first-touch order, for choosing what to spill first
	spilledRecords map[recordsKey]struct{}

	closed bool
}

// DefaultDirtyCapacity is the in-memory leaf-page budget before a write
// transaction starts spilling to its transaction log (spec §3.4: "held in
// the in-memory cache until it overflows, then spilled"). Chosen well above
// what a typical single document build touches, so the common case never
// spills at all.
const DefaultDirtyCapacity = 4096

// NewPageWriteTrx opens a write transaction building the revision
// immediately after base. log may be nil to disable the durable spill: the
// in-memory transaction is always the source of truth while it is open,
// the spill is an overflow valve for long-running transactions that touch
// more leaf pages than dirtyCapacity allows to stay resident (spec §3.4,
// §4.4). dirtyCapacity<=0 uses DefaultDirtyCapacity; it is ignored when log
// is nil, since there is nowhere to spill to.
func NewPageWriteTrx(base *PageReadTrx, rf *iobackend.ResourceFile, resource string, log *txlog.Log, dirtyCapacity int) *PageWriteTrx {
	if dirtyCapacity <= 0 {
		dirtyCapacity = DefaultDirtyCapacity
	}
	newRoot := &page.RevisionRoot{
		RevisionNumber:  base.root.RevisionNumber + 1,
		TimestampMilli:  time.Now().UnixMilli(),
		MaxNodeKey:      base.root.MaxNodeKey,
		Previous:        base.rootOffset,
		NameRoot:        base.root.NameRoot,
		DocumentRoot:    base.root.DocumentRoot,
		PathRoot:        base.root.PathRoot,
		CASRoot:         base.root.CASRoot,
		PathSummaryRoot: base.root.PathSummaryRoot,
	}
	return &PageWriteTrx{
		base:           base,
		rf:             rf,
		resource:       resource,
		log:            log,
		fanout:         base.fanout,
		levels:         base.levels,
		shift:          base.shift,
		window:         base.window,
		root:           newRoot,
		bump:           alloc.NewNodeKeyBump(base.root.MaxNodeKey),
		dirtyRecords:   make(map[recordsKey]*page.Records),
		dirtyIndirect:  make(map[indirectKey]*page.Indirect),
		touched:        make(map[recordsKey]touchedPath),
		dirtyCapacity:  dirtyCapacity,
		spilledRecords: make(map[recordsKey]struct{}),
	}
}

// Root returns the in-progress revision root.
func (w *PageWriteTrx) Root() *page.RevisionRoot { return w.root }

// DirtyPageCount returns the number of leaf record pages touched since the
// transaction began or was last committed, the input to the auto-commit
// threshold policy (spec §4.8 point 5). It counts every bucket touched,
// including ones since spilled out of memory, not just the pages currently
// resident in the in-memory dirty set.
func (w *PageWriteTrx) DirtyPageCount() int { return len(w.touched) }

// NextNodeKey allocates and returns the next node key. Callers stamp it
// onto a freshly constructed record before calling CreateEntry.
func (w *PageWriteTrx) NextNodeKey() int64 {
	k := w.bump.Next()
	if k > w.root.MaxNodeKey {
		w.root.MaxNodeKey = k
	}
	return k
}

// GetRecord resolves key, preferring this transaction's own uncommitted
// writes over the base revision's committed state.
func (w *PageWriteTrx) GetRecord(key int64, family page.Family, index int) (node.Record, error) {
	path, pageKey, slotKey := page.IndexAddress(key, index, w.fanout, w.levels, w.shift)
	rk := recordsKey{family: family, index: index, pageKey: pageKey}
	if leaf, ok := w.dirtyRecords[rk]; ok {
		return w.readSlot(leaf, family, index, pageKey, slotKey)
	}
	if _, spilled := w.spilledRecords[rk]; spilled {
		leaf, err := w.loadSpilledRecords(rk)
		if err != nil {
			return nil, err
		}
		return w.readSlot(leaf, family, index, pageKey, slotKey)
	}
	ref, err := w.base.leafRef(w.root.RootFor(family), family, index, path)
	if err != nil {
		return nil, err
	}
	return w.base.mergeSlot(ref, family, index, pageKey, slotKey)
}

// readSlot resolves slotKey within an already-loaded leaf page, falling
// back to the base revision's sliding-window merge when the leaf's own
// delta says nothing about this key.
func (w *PageWriteTrx) readSlot(leaf *page.Records, family page.Family, index int, pageKey, slotKey int64) (node.Record, error) {
	r, present, err := leaf.Get(slotKey)
	if err != nil {
		return nil, err
	}
	if present {
		if r.Kind() == node.KindDeleted {
			return nil, nil
		}
		return r, nil
	}
	if leaf.Full {
		return nil, nil
	}
	return w.base.mergeSlot(leaf.Previous, family, index, pageKey, slotKey)
}

// PrepareEntryForModification returns the live record at key, materializing
// its bucket into this transaction's dirty set first (spec §4.2
// prepare_entry_for_modification). The caller mutates the returned value's
// fields and calls PutEntry to persist the change.
func (w *PageWriteTrx) PrepareEntryForModification(key int64, family page.Family, index int) (node.Record, error) {
	path, pageKey, slotKey := page.IndexAddress(key, index, w.fanout, w.levels, w.shift)
	leaf, err := w.ensureLeaf(family, index, path, pageKey)
	if err != nil {
		return nil, err
	}
	if s, ok := leaf.Slots[slotKey]; ok {
		if !s.Present {
			return nil, fmt.Errorf("pagetx: prepare entry: %w: key %d", sirixerr.ErrInvariantViolation, key)
		}
		return node.Deserialize(s.Record)
	}
	if !leaf.Previous.Present {
		return nil, fmt.Errorf("pagetx: prepare entry: %w: key %d", sirixerr.ErrPageNotFound, key)
	}
	rec, err := w.base.mergeSlot(leaf.Previous, family, index, pageKey, slotKey)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("pagetx: prepare entry: %w: key %d", sirixerr.ErrPageNotFound, key)
	}
	return rec, nil
}

// PutEntry stores rec at key, the write half shared by create_entry and
// the mutate-then-persist pattern following PrepareEntryForModification
// (spec §4.2).
func (w *PageWriteTrx) PutEntry(key int64, rec node.Record, family page.Family, index int) error {
	path, pageKey, slotKey := page.IndexAddress(key, index, w.fanout, w.levels, w.shift)
	leaf, err := w.ensureLeaf(family, index, path, pageKey)
	if err != nil {
		return err
	}
	return leaf.Put(slotKey, rec)
}

// CreateEntry stores a freshly allocated record under its own NodeKeyOf
// value (spec §4.2 create_entry). Callers obtain the key via NextNodeKey
// and stamp it into rec before calling this.
func (w *PageWriteTrx) CreateEntry(rec node.Record, family page.Family, index int) error {
	key := node.NodeKeyOf(rec)
	if key == node.NullNodeKey {
		return fmt.Errorf("pagetx: create entry: %w: record has no node key", sirixerr.ErrBadArgument)
	}
	return w.PutEntry(key, rec, family, index)
}

// RemoveEntry tombstones key: the slot becomes a DeletedNode and the key is
// never reused (spec §3.4, §4.2 remove_entry).
func (w *PageWriteTrx) RemoveEntry(key int64, family page.Family, index int) error {
	path, pageKey, slotKey := page.IndexAddress(key, index, w.fanout, w.levels, w.shift)
	leaf, err := w.ensureLeaf(family, index, path, pageKey)
	if err != nil {
		return err
	}
	return leaf.Tombstone(slotKey, node.DeletedNode{Delegate: node.Delegate{NodeKey: key, ParentKey: node.NullNodeKey}})
}

// InternName hashes s scoped by kind into a content-addressed name key
// (spec §3.1) and binds it in the name page, staging the page as dirty on
// first touch. Re-interning the same (s, kind) pair returns the same key
// idempotently.
func (w *PageWriteTrx) InternName(s string, kind node.Kind) (int32, error) {
	np, err := w.ensureDirtyName()
	if err != nil {
		return 0, err
	}
	nameKey := page.HashName(s, kind)
	slot := page.NameSlot(nameKey, kind)
	if existing, ok := np.Entries[slot]; ok {
		if existing != s {
			return 0, fmt.Errorf("pagetx: intern name: %w: hash collision between %q and %q", sirixerr.ErrInvariantViolation, existing, s)
		}
		return nameKey, nil
	}
	np.Entries[slot] = s
	return nameKey, nil
}

func (w *PageWriteTrx) ensureDirtyName() (*page.Name, error) {
	if w.dirtyName != nil {
		return w.dirtyName, nil
	}
	base, err := w.base.loadName(w.root.NameRoot)
	if err != nil {
		return nil, err
	}
	w.dirtyName = base.Clone()
	return w.dirtyName, nil
}

// ResolveName resolves a name-page key slot, preferring this transaction's
// own interned-but-uncommitted names over the base revision's.
func (w *PageWriteTrx) ResolveName(nameKey int32, kind node.Kind) (string, bool, error) {
	if w.dirtyName != nil {
		s, ok := w.dirtyName.Entries[page.NameSlot(nameKey, kind)]
		return s, ok, nil
	}
	return w.base.ResolveName(nameKey, kind)
}

// ensureLeaf returns this transaction's dirty copy of the bucket
// (family, index, pageKey), creating it from the base revision's committed
// page (or from nothing, if the bucket has never been written) on first
// touch.
func (w *PageWriteTrx) ensureLeaf(family page.Family, index int, path []int, pageKey int64) (*page.Records, error) {
	rk := recordsKey{family: family, index: index, pageKey: pageKey}
	if rec, ok := w.dirtyRecords[rk]; ok {
		return rec, nil
	}
	w.touched[rk] = touchedPath{family: family, index: index, path: append([]int(nil), path...)}

	if _, spilled := w.spilledRecords[rk]; spilled {
		rec, err := w.loadSpilledRecords(rk)
		if err != nil {
			return nil, err
		}
		delete(w.spilledRecords, rk)
		return w.residentize(rk, rec)
	}

	ref, err := w.base.leafRef(w.root.RootFor(family), family, index, path)
	if err != nil {
		return nil, err
	}
	if !ref.Present {
		rec := page.NewRecords(family, index, pageKey, w.root.RevisionNumber)
		rec.Full = true // nothing to inherit: trivially a complete dump of its own
		return w.residentize(rk, rec)
	}
	old, err := w.base.loadRecords(ref, family, index, pageKey)
	if err != nil {
		return nil, err
	}
	rec := page.NewRecords(family, index, pageKey, w.root.RevisionNumber)
	rec.Previous = ref
	rec.Full = w.depthSinceFull(old) >= w.window-1
	if rec.Full {
		// a full dump carries every slot still visible through the window.
		cur := old
		for hops := 1; ; hops++ {
			for k, s := range cur.Slots {
				if _, seen := rec.Slots[k]; !seen && s.Present {
					rec.Slots[k] = s
				}
			}
			if cur.Full || !cur.Previous.Present || hops >= w.window {
				break
			}
			if cur, err = w.base.loadRecords(cur.Previous, family, index, pageKey); err != nil {
				return nil, err
			}
		}
	}
	return w.residentize(rk, rec)
}

// residentize adds rec to the in-memory dirty set and, if that pushes the
// set over capacity, spills the oldest other bucket out to the transaction
// log to make room (spec §3.4 overflow policy).
func (w *PageWriteTrx) residentize(rk recordsKey, rec *page.Records) (*page.Records, error) {
	w.dirtyRecords[rk] = rec
	w.recordOrder = append(w.recordOrder, rk)
	if err := w.maybeSpillRecords(rk); err != nil {
		return nil, err
	}
	return rec, nil
}

// maybeSpillRecords evicts the least-recently-first-touched leaf buckets
// (other than keep, which the caller is about to mutate) to the
// transaction log until the in-memory dirty set is back within
// dirtyCapacity. A no-op when there is no log to spill to.
func (w *PageWriteTrx) maybeSpillRecords(keep recordsKey) error {
	if w.log == nil {
		return nil
	}
	for len(w.dirtyRecords) > w.dirtyCapacity && len(w.recordOrder) > 0 {
		rk := w.recordOrder[0]
		w.recordOrder = w.recordOrder[1:]
		if rk == keep {
			// the bucket the caller is about to mutate can't be spilled out
			// from under it; put it back at the front and stop rather than
			// spin looking for another candidate that doesn't exist yet.
			w.recordOrder = append([]recordsKey{rk}, w.recordOrder...)
			return nil
		}
		rec, ok := w.dirtyRecords[rk]
		if !ok {
			continue
		}
		if err := w.log.Put(recordsLogKey(rk), page.EncodeRecords(rec)); err != nil {
			return fmt.Errorf("pagetx: spill records: %w", err)
		}
		delete(w.dirtyRecords, rk)
		w.spilledRecords[rk] = struct{}{}
	}
	return nil
}

// loadSpilledRecords reads back a bucket previously evicted by
// maybeSpillRecords.
func (w *PageWriteTrx) loadSpilledRecords(rk recordsKey) (*page.Records, error) {
	blob, found, err := w.log.Get(recordsLogKey(rk))
	if err != nil {
		return nil, fmt.Errorf("pagetx: load spilled records: %w", err)
	}
	if !found {
		return nil, fmt.Errorf("pagetx: load spilled records: %w: key missing from spill", sirixerr.ErrCorruption)
	}
	return page.DecodeRecords(blob, rk.family, rk.index, rk.pageKey)
}

// recordsLogKey maps a leaf bucket's in-memory identity onto the
// transaction log's logical key shape. pageKey alone is a unique, collision
// -free identifier within (family, index), so no hashing is needed.
func recordsLogKey(rk recordsKey) txlog.Key {
	return txlog.Key{Kind: uint8(rk.family), Level: -1, KeySlice: rk.pageKey, Index: int32(rk.index)}
}

// depthSinceFull counts how many delta hops separate rec from the nearest
// full dump (0 if rec itself is a full dump), bounded at window so commit
// always terminates regardless of history length.
func (w *PageWriteTrx) depthSinceFull(rec *page.Records) int {
	depth := 0
	cur := rec
	for !cur.Full {
		depth++
		if depth >= w.window || !cur.Previous.Present {
			break
		}
		next, err := w.base.loadRecords(cur.Previous, cur.Family, cur.Index, cur.PageKey)
		if err != nil {
			break
		}
		cur = next
	}
	return depth
}

// materializeIndirect returns this transaction's dirty copy of the indirect
// page identified by ik, cloning it from the base revision (or allocating a
// fresh one, if the position was never written) on first touch.
func (w *PageWriteTrx) materializeIndirect(ik indirectKey) (*page.Indirect, error) {
	if ind, ok := w.dirtyIndirect[ik]; ok {
		return ind, nil
	}
	path := pathOf(ik)
	ref, err := w.pageRefAt(ik.family, ik.index, path)
	if err != nil {
		return nil, err
	}
	var ind *page.Indirect
	if ref.Present {
		old, lerr := w.base.loadIndirect(ref, ik.family, ik.index, len(path))
		if lerr != nil {
			return nil, lerr
		}
		ind = old.Clone()
	} else {
		ind = page.NewIndirect(w.fanout)
	}
	w.dirtyIndirect[ik] = ind
	return ind, nil
}

// pageRefAt walks the base revision's committed indirect tree following
// prefix and returns the reference naming the page reached, so
// materializeIndirect can clone its committed contents.
func (w *PageWriteTrx) pageRefAt(family page.Family, index int, prefix []int) (page.Reference, error) {
	cur := w.root.RootFor(family)
	for lvl, idx := range prefix {
		if !cur.Present {
			return page.NoReference, nil
		}
		ind, err := w.base.loadIndirect(cur, family, index, lvl)
		if err != nil {
			return page.NoReference, err
		}
		if idx < 0 || idx >= len(ind.Children) {
			return page.NoReference, fmt.Errorf("pagetx: page ref at: %w", sirixerr.ErrInvariantViolation)
		}
		cur = ind.Children[idx]
	}
	return cur, nil
}

func pathOf(ik indirectKey) []int {
	if ik.path == "[]" || ik.path == "" {
		return nil
	}
	var out []int
	cur := 0
	started := false
	for i := 1; i < len(ik.path)-1; i++ {
		c := ik.path[i]
		switch {
		case c >= '0' && c <= '9':
			cur = cur*10 + int(c-'0')
			started = true
		case c == ' ':
			if started {
				out = append(out, cur)
			}
			cur = 0
			started = false
		}
	}
	if started {
		out = append(out, cur)
	}
	return out
}

// Commit flushes every dirty leaf and indirect page bottom-up, rewrites the
// revision root, and atomically republishes the uber trailer (spec §4.2
// steps 2-4, §6.1). It returns a fresh read transaction pinned to the
// committed revision.
func (w *PageWriteTrx) Commit() (*PageReadTrx, error) {
	if w.closed {
		return nil, fmt.Errorf("pagetx: commit: %w", sirixerr.ErrTransactionClosed)
	}
	w.closed = true

	for rk := range w.spilledRecords {
		rec, err := w.loadSpilledRecords(rk)
		if err != nil {
			return nil, fmt.Errorf("pagetx: commit: %w", err)
		}
		w.dirtyRecords[rk] = rec
	}
	w.spilledRecords = nil

	leafOff := make(map[recordsKey]int64, len(w.dirtyRecords))
	for rk, rec := range w.dirtyRecords {
		off, err := w.rf.WritePage(page.EncodeRecords(rec))
		if err != nil {
			return nil, fmt.Errorf("pagetx: commit: flush records: %w", err)
		}
		leafOff[rk] = off
	}

	indOff := make(map[indirectKey]int64)
	for lvl := w.levels; lvl >= 0; lvl-- {
		byPage := make(map[indirectKey]map[int]int64)
		for rk, tp := range w.touched {
			if len(tp.path) <= lvl {
				continue
			}
			ik := makeIndirectKey(tp.family, tp.index, tp.path[:lvl])
			childIdx := tp.path[lvl]

			var childOff int64
			var ok bool
			if lvl == w.levels {
				childOff, ok = leafOff[rk]
			} else {
				childOff, ok = indOff[makeIndirectKey(tp.family, tp.index, tp.path[:lvl+1])]
			}
			if !ok {
				continue
			}
			m := byPage[ik]
			if m == nil {
				m = make(map[int]int64)
				byPage[ik] = m
			}
			m[childIdx] = childOff
		}

		for ik, children := range byPage {
			ind, err := w.materializeIndirect(ik)
			if err != nil {
				return nil, fmt.Errorf("pagetx: commit: materialize indirect: %w", err)
			}
			for idx, off := range children {
				ind.Children[idx] = page.Reference{Present: true, Offset: off}
			}
			off, err := w.rf.WritePage(page.EncodeIndirect(ind))
			if err != nil {
				return nil, fmt.Errorf("pagetx: commit: flush indirect: %w", err)
			}
			indOff[ik] = off
		}
	}

	for _, family := range []page.Family{page.FamilyDocument, page.FamilyPath, page.FamilyCAS, page.FamilyPathSummary} {
		if off, ok := indOff[makeIndirectKey(family, 0, nil)]; ok {
			w.root.SetRootFor(family, page.Reference{Present: true, Offset: off})
		}
	}

	if w.dirtyName != nil {
		off, err := w.rf.WritePage(page.EncodeName(w.dirtyName))
		if err != nil {
			return nil, fmt.Errorf("pagetx: commit: flush name page: %w", err)
		}
		w.root.NameRoot = page.Reference{Present: true, Offset: off}
	}

	blob := page.EncodeRevisionRoot(w.root)
	rootOff, err := w.rf.WritePage(blob)
	if err != nil {
		return nil, fmt.Errorf("pagetx: commit: flush revision root: %w", err)
	}
	uber := &page.Uber{RevisionRootOffset: rootOff, RevisionCount: w.root.RevisionNumber + 1}
	if err := w.rf.WriteUberAtomic(page.EncodeUber(uber)); err != nil {
		return nil, fmt.Errorf("pagetx: commit: %w", err)
	}

	if w.log != nil {
		if err := w.log.Clear(); err != nil {
			return nil, fmt.Errorf("pagetx: commit: clear spill: %w", err)
		}
	}

	return NewPageReadTrx(w.rf, w.base.cache, w.resource, w.root, page.Reference{Present: true, Offset: rootOff}), nil
}

// Abort discards every uncommitted change. The resource file is untouched
// since nothing was flushed before Commit (spec §4.2 step 5).
func (w *PageWriteTrx) Abort() error {
	w.closed = true
	w.dirtyRecords = nil
	w.dirtyIndirect = nil
	w.touched = nil
	w.spilledRecords = nil
	w.recordOrder = nil
	if w.log != nil {
		return w.log.Clear()
	}
	return nil
}
