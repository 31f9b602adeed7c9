package nodetx

import (
	"path/filepath"
	"testing"

	"github.com/sirixcore/sirix/cache"
	"github.com/sirixcore/sirix/iobackend"
	"github.com/sirixcore/sirix/node"
	"github.com/sirixcore/sirix/page"
	"github.com/sirixcore/sirix/pagetx"
	"github.com/sirixcore/sirix/sirixerr"
)

func newTestWriteTrx(t *testing.T) *pagetx.PageWriteTrx {
	t.Helper()
	path := filepath.Join(t.TempDir(), "resource.sirix")
	rf, err := iobackend.Create(path, iobackend.Header{
		PageSize: 4096, Fanout: page.DefaultFanout, Window: page.DefaultWindow, FullDumpEvery: page.DefaultFullDumpEvery,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = rf.Close() })
	c := cache.New(64)
	root := &page.RevisionRoot{RevisionNumber: 0, MaxNodeKey: node.DocumentNodeKey}
	base := pagetx.NewPageReadTrx(rf, c, "res", root, page.NoReference)
	return pagetx.NewPageWriteTrx(base, rf, "res", nil, 0)
}

func newTestTransaction(t *testing.T) (*Transaction, *pagetx.PageWriteTrx) {
	t.Helper()
	wtx := newTestWriteTrx(t)

	docKey := node.DocumentNodeKey
	doc := &node.DocumentRootNode{
		Delegate:       node.Delegate{NodeKey: int64(docKey), ParentKey: node.NullNodeKey},
		StructDelegate: node.StructDelegate{FirstChildKey: node.NullNodeKey},
	}
	if err := wtx.CreateEntry(doc, page.FamilyDocument, 0); err != nil {
		t.Fatal(err)
	}
	tx, err := New(wtx, int64(docKey))
	if err != nil {
		t.Fatal(err)
	}
	return tx, wtx
}

func getRecord(t *testing.T, wtx *pagetx.PageWriteTrx, key int64) node.Record {
	t.Helper()
	rec, err := wtx.GetRecord(key, page.FamilyDocument, 0)
	if err != nil {
		t.Fatal(err)
	}
	if rec == nil {
		t.Fatalf("expected record at key %d", key)
	}
	return rec
}

func TestInsertElementAsFirstChildUpdatesCountsAndMutationCount(t *testing.T) {
	tx, wtx := newTestTransaction(t)

	rootKey, err := tx.InsertElementAsFirstChild(node.DocumentNodeKey, Name{Local: "root"})
	if err != nil {
		t.Fatal(err)
	}
	doc := getRecord(t, wtx, node.DocumentNodeKey).(*node.DocumentRootNode)
	if doc.FirstChildKey != rootKey || doc.ChildCount != 1 || doc.DescendantCount != 1 {
		t.Fatalf("doc root not updated: %+v", doc)
	}

	childKey, err := tx.InsertElementAsFirstChild(rootKey, Name{Local: "child"})
	if err != nil {
		t.Fatal(err)
	}
	root := getRecord(t, wtx, rootKey).(*node.ElementNode)
	if root.FirstChildKey != childKey || root.ChildCount != 1 || root.DescendantCount != 1 {
		t.Fatalf("root element not updated: %+v", root)
	}
	docAfter := getRecord(t, wtx, node.DocumentNodeKey).(*node.DocumentRootNode)
	if docAfter.DescendantCount != 2 {
		t.Fatalf("expected doc descendant count 2, got %d", docAfter.DescendantCount)
	}

	if tx.MutationCount() != 2 {
		t.Fatalf("expected 2 mutations, got %d", tx.MutationCount())
	}
}

func TestInsertSiblingsOrderCorrectly(t *testing.T) {
	tx, wtx := newTestTransaction(t)
	rootKey, err := tx.InsertElementAsFirstChild(node.DocumentNodeKey, Name{Local: "root"})
	if err != nil {
		t.Fatal(err)
	}
	a, err := tx.InsertElementAsFirstChild(rootKey, Name{Local: "a"})
	if err != nil {
		t.Fatal(err)
	}
	c, err := tx.InsertElementAsRightSibling(a, Name{Local: "c"})
	if err != nil {
		t.Fatal(err)
	}
	b, err := tx.InsertElementAsLeftSibling(c, Name{Local: "b"})
	if err != nil {
		t.Fatal(err)
	}

	root := getRecord(t, wtx, rootKey).(*node.ElementNode)
	if root.FirstChildKey != a || root.ChildCount != 3 {
		t.Fatalf("unexpected root after inserts: %+v", root)
	}
	an := getRecord(t, wtx, a).(*node.ElementNode)
	bn := getRecord(t, wtx, b).(*node.ElementNode)
	cn := getRecord(t, wtx, c).(*node.ElementNode)
	if an.RightSiblingKey != b || bn.LeftSiblingKey != a || bn.RightSiblingKey != c || cn.LeftSiblingKey != b {
		t.Fatalf("sibling chain out of order: a=%+v b=%+v c=%+v", an, bn, cn)
	}
}

func TestInsertAttributeAndGetValue(t *testing.T) {
	tx, wtx := newTestTransaction(t)
	rootKey, err := tx.InsertElementAsFirstChild(node.DocumentNodeKey, Name{Local: "root"})
	if err != nil {
		t.Fatal(err)
	}
	attrKey, err := tx.InsertAttribute(rootKey, Name{Local: "id"}, []byte("7"))
	if err != nil {
		t.Fatal(err)
	}
	root := getRecord(t, wtx, rootKey).(*node.ElementNode)
	if len(root.AttributeKeys) != 1 || root.AttributeKeys[0] != attrKey {
		t.Fatalf("attribute not recorded on element: %+v", root)
	}
	attr := getRecord(t, wtx, attrKey).(*node.AttributeNode)
	if string(attr.Raw) != "7" {
		t.Fatalf("expected attribute value 7, got %q", attr.Raw)
	}
}

func TestSetNameRebindsPathSummary(t *testing.T) {
	tx, wtx := newTestTransaction(t)
	rootKey, err := tx.InsertElementAsFirstChild(node.DocumentNodeKey, Name{Local: "root"})
	if err != nil {
		t.Fatal(err)
	}
	before := getRecord(t, wtx, rootKey).(*node.ElementNode)
	oldPathKey := before.PathNodeKey

	if err := tx.SetName(rootKey, Name{Local: "renamed"}); err != nil {
		t.Fatal(err)
	}
	after := getRecord(t, wtx, rootKey).(*node.ElementNode)
	if after.PathNodeKey == oldPathKey {
		t.Fatal("expected a new path-summary node after rename")
	}
	local, ok, err := wtx.ResolveName(after.LocalNameKey, node.KindElement)
	if err != nil {
		t.Fatal(err)
	}
	if !ok || local != "renamed" {
		t.Fatalf("expected resolved name %q, got %q (ok=%v)", "renamed", local, ok)
	}
}

func TestMoveSubtreeRejectsCycle(t *testing.T) {
	tx, _ := newTestTransaction(t)
	rootKey, err := tx.InsertElementAsFirstChild(node.DocumentNodeKey, Name{Local: "root"})
	if err != nil {
		t.Fatal(err)
	}
	childKey, err := tx.InsertElementAsFirstChild(rootKey, Name{Local: "child"})
	if err != nil {
		t.Fatal(err)
	}
	err = tx.MoveSubtreeToFirstChild(rootKey, childKey)
	if err == nil {
		t.Fatal("expected cycle-prevention error moving an ancestor under its own descendant")
	}
	if !errorsIs(err, sirixerr.ErrInvariantViolation) {
		t.Fatalf("expected ErrInvariantViolation, got %v", err)
	}
}

func TestMoveSubtreeRelocatesAndUpdatesCounts(t *testing.T) {
	tx, wtx := newTestTransaction(t)
	rootKey, err := tx.InsertElementAsFirstChild(node.DocumentNodeKey, Name{Local: "root"})
	if err != nil {
		t.Fatal(err)
	}
	a, err := tx.InsertElementAsFirstChild(rootKey, Name{Local: "a"})
	if err != nil {
		t.Fatal(err)
	}
	b, err := tx.InsertElementAsFirstChild(rootKey, Name{Local: "b"})
	if err != nil {
		t.Fatal(err)
	}
	leaf, err := tx.InsertTextAsFirstChild(a, []byte("x"))
	if err != nil {
		t.Fatal(err)
	}

	if err := tx.MoveSubtreeToFirstChild(leaf, b); err != nil {
		t.Fatal(err)
	}

	aAfter := getRecord(t, wtx, a).(*node.ElementNode)
	bAfter := getRecord(t, wtx, b).(*node.ElementNode)
	if aAfter.ChildCount != 0 || aAfter.DescendantCount != 0 {
		t.Fatalf("expected a to lose its only child: %+v", aAfter)
	}
	if bAfter.ChildCount != 1 || bAfter.DescendantCount != 1 || bAfter.FirstChildKey != leaf {
		t.Fatalf("expected b to gain the moved leaf: %+v", bAfter)
	}
	leafAfter := getRecord(t, wtx, leaf).(*node.TextNode)
	if leafAfter.ParentKey != b {
		t.Fatalf("expected leaf's parent to be updated to b, got %d", leafAfter.ParentKey)
	}
}

func TestRemoveSubtreeDecrementsAncestorCounts(t *testing.T) {
	tx, wtx := newTestTransaction(t)
	rootKey, err := tx.InsertElementAsFirstChild(node.DocumentNodeKey, Name{Local: "root"})
	if err != nil {
		t.Fatal(err)
	}
	child, err := tx.InsertElementAsFirstChild(rootKey, Name{Local: "child"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tx.InsertTextAsFirstChild(child, []byte("leaf")); err != nil {
		t.Fatal(err)
	}

	if err := tx.Remove(child); err != nil {
		t.Fatal(err)
	}

	root := getRecord(t, wtx, rootKey).(*node.ElementNode)
	if root.ChildCount != 0 || root.DescendantCount != 0 || root.FirstChildKey != node.NullNodeKey {
		t.Fatalf("expected root to have no children after removing its subtree: %+v", root)
	}
	if rec, err := wtx.GetRecord(child, page.FamilyDocument, 0); err != nil || rec != nil {
		t.Fatalf("expected removed node to read back as nil, got rec=%v err=%v", rec, err)
	}
}

func TestInsertSubtreeAsFirstChildDrainsEventStream(t *testing.T) {
	tx, wtx := newTestTransaction(t)
	rootKey, err := tx.InsertElementAsFirstChild(node.DocumentNodeKey, Name{Local: "root"})
	if err != nil {
		t.Fatal(err)
	}

	events := []Event{
		{Start: true, Kind: node.KindElement, Name: Name{Local: "a"}},
		{Start: true, Kind: node.KindText, Value: []byte("hi")},
		{Start: false},
		{Start: false},
	}
	newKey, err := tx.InsertSubtreeAsFirstChild(rootKey, events)
	if err != nil {
		t.Fatal(err)
	}
	el := getRecord(t, wtx, newKey).(*node.ElementNode)
	if el.FirstChildKey == node.NullNodeKey {
		t.Fatal("expected inserted element to have a text child")
	}
	textNode := getRecord(t, wtx, el.FirstChildKey).(*node.TextNode)
	if string(textNode.Raw) != "hi" {
		t.Fatalf("expected text %q, got %q", "hi", textNode.Raw)
	}
}

func TestCopySubtreeFromAnotherTransaction(t *testing.T) {
	srcTx, srcWtx := newTestTransaction(t)
	srcRoot, err := srcTx.InsertElementAsFirstChild(node.DocumentNodeKey, Name{Local: "root"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := srcTx.InsertAttribute(srcRoot, Name{Local: "id"}, []byte("1")); err != nil {
		t.Fatal(err)
	}
	if _, err := srcTx.InsertTextAsFirstChild(srcRoot, []byte("body")); err != nil {
		t.Fatal(err)
	}

	dstTx, dstWtx := newTestTransaction(t)
	newKey, err := dstTx.CopySubtreeAsFirstChild(node.DocumentNodeKey, srcWtx, srcRoot)
	if err != nil {
		t.Fatal(err)
	}
	copied := getRecord(t, dstWtx, newKey).(*node.ElementNode)
	if len(copied.AttributeKeys) != 1 {
		t.Fatalf("expected copied element to carry one attribute, got %+v", copied)
	}
	if copied.FirstChildKey == node.NullNodeKey {
		t.Fatal("expected copied element to carry its text child")
	}
	textNode := getRecord(t, dstWtx, copied.FirstChildKey).(*node.TextNode)
	if string(textNode.Raw) != "body" {
		t.Fatalf("expected copied text %q, got %q", "body", textNode.Raw)
	}
}

func errorsIs(err, target error) bool {
	for err != nil {
		if err == target {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
