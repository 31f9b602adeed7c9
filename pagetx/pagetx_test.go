package pagetx

import (
	"path/filepath"
	"testing"

	"github.com/sirixcore/sirix/cache"
	"github.com/sirixcore/sirix/iobackend"
	"github.com/sirixcore/sirix/node"
	"github.com/sirixcore/sirix/page"
	"github.com/sirixcore/sirix/txlog"
)

func newResource(t *testing.T) *iobackend.ResourceFile {
	t.Helper()
	path := filepath.Join(t.TempDir(), "resource.sirix")
	rf, err := iobackend.Create(path, iobackend.Header{
		PageSize: 4096, Fanout: page.DefaultFanout, Window: page.DefaultWindow, FullDumpEvery: page.DefaultFullDumpEvery,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = rf.Close() })
	return rf
}

func emptyRoot() *page.RevisionRoot {
	return &page.RevisionRoot{RevisionNumber: 0, MaxNodeKey: node.DocumentNodeKey}
}

func TestCreateAndReadBackRecord(t *testing.T) {
	rf := newResource(t)
	c := cache.New(64)

	base := NewPageReadTrx(rf, c, "res", emptyRoot(), page.NoReference)
	wtx := NewPageWriteTrx(base, rf, "res", nil, 0)

	doc := &node.DocumentRootNode{Delegate: node.Delegate{NodeKey: node.DocumentNodeKey, ParentKey: node.NullNodeKey}}
	if err := wtx.CreateEntry(doc, page.FamilyDocument, 0); err != nil {
		t.Fatal(err)
	}

	elemKey := wtx.NextNodeKey()
	elem := &node.ElementNode{Delegate: node.Delegate{NodeKey: elemKey, ParentKey: node.DocumentNodeKey}}
	elem.NameDelegate.LocalNameKey = 7
	if err := wtx.CreateEntry(elem, page.FamilyDocument, 0); err != nil {
		t.Fatal(err)
	}

	committed, err := wtx.Commit()
	if err != nil {
		t.Fatal(err)
	}
	if committed.RevisionNumber() != 1 {
		t.Fatalf("revision = %d, want 1", committed.RevisionNumber())
	}

	got, err := committed.GetRecord(elemKey, page.FamilyDocument, 0)
	if err != nil {
		t.Fatal(err)
	}
	el, ok := got.(*node.ElementNode)
	if !ok {
		t.Fatalf("got %T, want *ElementNode", got)
	}
	if el.NameDelegate.LocalNameKey != 7 {
		t.Fatalf("local name key = %d, want 7", el.NameDelegate.LocalNameKey)
	}
}

func TestPrepareEntryForModificationRoundTrips(t *testing.T) {
	rf := newResource(t)
	c := cache.New(64)

	base := NewPageReadTrx(rf, c, "res", emptyRoot(), page.NoReference)
	wtx := NewPageWriteTrx(base, rf, "res", nil, 0)

	textKey := wtx.NextNodeKey()
	text := &node.TextNode{Delegate: node.Delegate{NodeKey: textKey, ParentKey: node.DocumentNodeKey}}
	text.ValDelegate.Raw = []byte("hello")
	if err := wtx.CreateEntry(text, page.FamilyDocument, 0); err != nil {
		t.Fatal(err)
	}
	r1, err := wtx.Commit()
	if err != nil {
		t.Fatal(err)
	}

	wtx2 := NewPageWriteTrx(r1, rf, "res", nil, 0)
	rec, err := wtx2.PrepareEntryForModification(textKey, page.FamilyDocument, 0)
	if err != nil {
		t.Fatal(err)
	}
	tn := rec.(*node.TextNode)
	tn.ValDelegate.Raw = []byte("world")
	if err := wtx2.PutEntry(textKey, tn, page.FamilyDocument, 0); err != nil {
		t.Fatal(err)
	}
	r2, err := wtx2.Commit()
	if err != nil {
		t.Fatal(err)
	}

	got, err := r2.GetRecord(textKey, page.FamilyDocument, 0)
	if err != nil {
		t.Fatal(err)
	}
	if string(got.(*node.TextNode).ValDelegate.Raw) != "world" {
		t.Fatalf("got %q, want %q", got.(*node.TextNode).ValDelegate.Raw, "world")
	}

	// the earlier revision's view must be untouched (spec §3.1 immutability).
	oldView, err := r1.GetRecord(textKey, page.FamilyDocument, 0)
	if err != nil {
		t.Fatal(err)
	}
	if string(oldView.(*node.TextNode).ValDelegate.Raw) != "hello" {
		t.Fatalf("revision 1 view mutated: got %q", oldView.(*node.TextNode).ValDelegate.Raw)
	}
}

func TestSlidingWindowMergeAcrossManyRevisions(t *testing.T) {
	rf := newResource(t)
	c := cache.New(64)

	base := NewPageReadTrx(rf, c, "res", emptyRoot(), page.NoReference)
	w0 := NewPageWriteTrx(base, rf, "res", nil, 0)

	stableKey := w0.NextNodeKey()
	stable := &node.TextNode{Delegate: node.Delegate{NodeKey: stableKey, ParentKey: node.DocumentNodeKey}}
	stable.ValDelegate.Raw = []byte("stable")
	if err := w0.CreateEntry(stable, page.FamilyDocument, 0); err != nil {
		t.Fatal(err)
	}
	churnKey := w0.NextNodeKey()
	churn := &node.TextNode{Delegate: node.Delegate{NodeKey: churnKey, ParentKey: node.DocumentNodeKey}}
	churn.ValDelegate.Raw = []byte("v0")
	if err := w0.CreateEntry(churn, page.FamilyDocument, 0); err != nil {
		t.Fatal(err)
	}
	r, err := w0.Commit()
	if err != nil {
		t.Fatal(err)
	}

	// churn the second key across more revisions than the window size so a
	// full dump must occur and older deltas fall out of the chain.
	for i := 1; i <= 10; i++ {
		w := NewPageWriteTrx(r, rf, "res", nil, 0)
		rec, err := w.PrepareEntryForModification(churnKey, page.FamilyDocument, 0)
		if err != nil {
			t.Fatal(err)
		}
		tn := rec.(*node.TextNode)
		tn.ValDelegate.Raw = []byte{byte('a' + i)}
		if err := w.PutEntry(churnKey, tn, page.FamilyDocument, 0); err != nil {
			t.Fatal(err)
		}
		r, err = w.Commit()
		if err != nil {
			t.Fatal(err)
		}
	}

	got, err := r.GetRecord(churnKey, page.FamilyDocument, 0)
	if err != nil {
		t.Fatal(err)
	}
	if string(got.(*node.TextNode).ValDelegate.Raw) != string([]byte{byte('a' + 10)}) {
		t.Fatalf("churned value wrong after %d revisions: %q", r.RevisionNumber(), got.(*node.TextNode).ValDelegate.Raw)
	}

	stillStable, err := r.GetRecord(stableKey, page.FamilyDocument, 0)
	if err != nil {
		t.Fatal(err)
	}
	if string(stillStable.(*node.TextNode).ValDelegate.Raw) != "stable" {
		t.Fatalf("untouched key drifted: %q", stillStable.(*node.TextNode).ValDelegate.Raw)
	}
}

func TestRemoveEntryTombstones(t *testing.T) {
	rf := newResource(t)
	c := cache.New(64)

	base := NewPageReadTrx(rf, c, "res", emptyRoot(), page.NoReference)
	wtx := NewPageWriteTrx(base, rf, "res", nil, 0)
	key := wtx.NextNodeKey()
	n := &node.TextNode{Delegate: node.Delegate{NodeKey: key, ParentKey: node.DocumentNodeKey}}
	if err := wtx.CreateEntry(n, page.FamilyDocument, 0); err != nil {
		t.Fatal(err)
	}
	r1, err := wtx.Commit()
	if err != nil {
		t.Fatal(err)
	}

	w2 := NewPageWriteTrx(r1, rf, "res", nil, 0)
	if err := w2.RemoveEntry(key, page.FamilyDocument, 0); err != nil {
		t.Fatal(err)
	}
	r2, err := w2.Commit()
	if err != nil {
		t.Fatal(err)
	}

	got, err := r2.GetRecord(key, page.FamilyDocument, 0)
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatalf("expected nil after remove, got %T", got)
	}

	// the prior revision must still see the live node.
	prior, err := r1.GetRecord(key, page.FamilyDocument, 0)
	if err != nil {
		t.Fatal(err)
	}
	if prior == nil {
		t.Fatal("revision 1 lost its record after a later remove")
	}
}

// TestDirtyRecordsSpillAndRehydrate forces an overflow by touching more leaf
// buckets than dirtyCapacity allows, so at least one bucket must spill to the
// transaction log and be rehydrated again, both on next touch and at commit
// time (spec §3.4).
func TestDirtyRecordsSpillAndRehydrate(t *testing.T) {
	rf := newResource(t)
	c := cache.New(64)

	logPath := filepath.Join(t.TempDir(), "spill.bbolt")
	log, err := txlog.Open(logPath, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = log.Close() })

	base := NewPageReadTrx(rf, c, "res", emptyRoot(), page.NoReference)
	wtx := NewPageWriteTrx(base, rf, "res", log, 2)

	families := []page.Family{page.FamilyDocument, page.FamilyPath, page.FamilyCAS, page.FamilyPathSummary}
	keys := make(map[page.Family]int64, len(families))
	for i, family := range families {
		key := wtx.NextNodeKey()
		keys[family] = key
		n := &node.TextNode{Delegate: node.Delegate{NodeKey: key, ParentKey: node.NullNodeKey}}
		n.ValDelegate.Raw = []byte{byte('a' + i)}
		if err := wtx.CreateEntry(n, family, 0); err != nil {
			t.Fatal(err)
		}
	}

	if len(wtx.dirtyRecords) > 2 {
		t.Fatalf("dirty records = %d, want at most capacity 2", len(wtx.dirtyRecords))
	}
	if len(wtx.spilledRecords) == 0 {
		t.Fatal("expected at least one bucket to have spilled")
	}

	// touching an already-spilled bucket again (PrepareEntryForModification
	// routes through ensureLeaf) must transparently rehydrate it.
	for i, family := range families {
		rec, err := wtx.PrepareEntryForModification(keys[family], family, 0)
		if err != nil {
			t.Fatalf("family %v: %v", family, err)
		}
		tn := rec.(*node.TextNode)
		if string(tn.ValDelegate.Raw) != string([]byte{byte('a' + i)}) {
			t.Fatalf("family %v: got %q after rehydrate", family, tn.ValDelegate.Raw)
		}
	}

	committed, err := wtx.Commit()
	if err != nil {
		t.Fatal(err)
	}
	for i, family := range families {
		got, err := committed.GetRecord(keys[family], family, 0)
		if err != nil {
			t.Fatal(err)
		}
		tn, ok := got.(*node.TextNode)
		if !ok {
			t.Fatalf("family %v: got %T, want *TextNode", family, got)
		}
		if string(tn.ValDelegate.Raw) != string([]byte{byte('a' + i)}) {
			t.Fatalf("family %v: got %q after commit, want %q", family, tn.ValDelegate.Raw, []byte{byte('a' + i)})
		}
	}
}

// TestSpilledRecordVisibleToGetRecordBeforeRehydrate exercises the read-only
// path: GetRecord must see a transaction's own uncommitted write even while
// that write's bucket is currently spilled out to the log, not just after
// PrepareEntryForModification pulls it back into memory.
func TestSpilledRecordVisibleToGetRecordBeforeRehydrate(t *testing.T) {
	rf := newResource(t)
	c := cache.New(64)

	logPath := filepath.Join(t.TempDir(), "spill.bbolt")
	log, err := txlog.Open(logPath, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = log.Close() })

	base := NewPageReadTrx(rf, c, "res", emptyRoot(), page.NoReference)
	wtx := NewPageWriteTrx(base, rf, "res", log, 1)

	families := []page.Family{page.FamilyDocument, page.FamilyPath, page.FamilyCAS}
	keys := make(map[page.Family]int64, len(families))
	for i, family := range families {
		key := wtx.NextNodeKey()
		keys[family] = key
		n := &node.TextNode{Delegate: node.Delegate{NodeKey: key, ParentKey: node.NullNodeKey}}
		n.ValDelegate.Raw = []byte{byte('x' + i)}
		if err := wtx.CreateEntry(n, family, 0); err != nil {
			t.Fatal(err)
		}
	}

	if len(wtx.spilledRecords) == 0 {
		t.Fatal("expected at least one bucket to have spilled with capacity 1")
	}

	for i, family := range families {
		got, err := wtx.GetRecord(keys[family], family, 0)
		if err != nil {
			t.Fatal(err)
		}
		tn, ok := got.(*node.TextNode)
		if !ok {
			t.Fatalf("family %v: got %T, want *TextNode", family, got)
		}
		if string(tn.ValDelegate.Raw) != string([]byte{byte('x' + i)}) {
			t.Fatalf("family %v: got %q, want %q", family, tn.ValDelegate.Raw, []byte{byte('x' + i)})
		}
	}
}
