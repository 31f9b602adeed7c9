package cursor

import (
	"path/filepath"
	"testing"

	"github.com/sirixcore/sirix/cache"
	"github.com/sirixcore/sirix/iobackend"
	"github.com/sirixcore/sirix/node"
	"github.com/sirixcore/sirix/page"
	"github.com/sirixcore/sirix/pagetx"
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

// buildSmallTree writes: doc root -> <root uri=0 prefix=0 local="root">,
// which has a text child "hi" and an attribute "a".
func buildSmallTree(t *testing.T, w *pagetx.PageWriteTrx) (docKey, elemKey, textKey, attrKey int64) {
	t.Helper()

	localName, err := w.InternName("root", node.KindElement)
	if err != nil {
		t.Fatal(err)
	}
	attrName, err := w.InternName("a", node.KindAttribute)
	if err != nil {
		t.Fatal(err)
	}

	docKey = node.DocumentNodeKey
	elemKey = w.NextNodeKey()
	doc := &node.DocumentRootNode{
		Delegate:       node.Delegate{NodeKey: docKey, ParentKey: node.NullNodeKey},
		StructDelegate: node.StructDelegate{FirstChildKey: elemKey, LeftSiblingKey: node.NullNodeKey, RightSiblingKey: node.NullNodeKey, ChildCount: 1},
	}
	if err := w.CreateEntry(doc, page.FamilyDocument, 0); err != nil {
		t.Fatal(err)
	}

	textKey = w.NextNodeKey()
	attrKey = w.NextNodeKey()

	elem := &node.ElementNode{
		Delegate:       node.Delegate{NodeKey: elemKey, ParentKey: docKey},
		StructDelegate: node.StructDelegate{FirstChildKey: textKey, LeftSiblingKey: node.NullNodeKey, RightSiblingKey: node.NullNodeKey, ChildCount: 1},
		NameDelegate:   node.NameDelegate{LocalNameKey: localName, PathNodeKey: node.NullNodeKey},
	}
	if err := elem.InsertAttribute(attrName, attrKey, nil); err != nil {
		t.Fatal(err)
	}
	if err := w.CreateEntry(elem, page.FamilyDocument, 0); err != nil {
		t.Fatal(err)
	}

	text := &node.TextNode{
		Delegate:       node.Delegate{NodeKey: textKey, ParentKey: elemKey},
		StructDelegate: node.StructDelegate{FirstChildKey: node.NullNodeKey, LeftSiblingKey: node.NullNodeKey, RightSiblingKey: node.NullNodeKey},
		ValDelegate:    node.ValDelegate{Raw: []byte("hi")},
	}
	if err := w.CreateEntry(text, page.FamilyDocument, 0); err != nil {
		t.Fatal(err)
	}

	attr := &node.AttributeNode{
		Delegate:     node.Delegate{NodeKey: attrKey, ParentKey: elemKey},
		NameDelegate: node.NameDelegate{LocalNameKey: attrName, PathNodeKey: node.NullNodeKey},
		ValDelegate:  node.ValDelegate{Raw: []byte("v")},
	}
	if err := w.CreateEntry(attr, page.FamilyDocument, 0); err != nil {
		t.Fatal(err)
	}

	return docKey, elemKey, textKey, attrKey
}

func TestMoveToFirstChildAndParent(t *testing.T) {
	w := newTestWriteTrx(t)
	docKey, elemKey, _, _ := buildSmallTree(t, w)

	c, err := New(w, docKey)
	if err != nil {
		t.Fatal(err)
	}
	moved, err := c.MoveToFirstChild()
	if err != nil || !moved {
		t.Fatalf("move to first child: moved=%v err=%v", moved, err)
	}
	if c.Key() != elemKey {
		t.Fatalf("expected to land on element %d, got %d", elemKey, c.Key())
	}
	moved, err = c.MoveToParent()
	if err != nil || !moved {
		t.Fatalf("move to parent: moved=%v err=%v", moved, err)
	}
	if c.Key() != docKey {
		t.Fatalf("expected to return to doc root %d, got %d", docKey, c.Key())
	}
}

func TestMoveToLastChildWalksSiblingChain(t *testing.T) {
	w := newTestWriteTrx(t)
	_, elemKey, textKey, _ := buildSmallTree(t, w)

	c, err := New(w, elemKey)
	if err != nil {
		t.Fatal(err)
	}
	moved, err := c.MoveToLastChild()
	if err != nil || !moved {
		t.Fatalf("move to last child: moved=%v err=%v", moved, err)
	}
	if c.Key() != textKey {
		t.Fatalf("expected last child %d (only child), got %d", textKey, c.Key())
	}
}

func TestGetValueOnTextNode(t *testing.T) {
	w := newTestWriteTrx(t)
	_, _, textKey, _ := buildSmallTree(t, w)

	c, err := New(w, textKey)
	if err != nil {
		t.Fatal(err)
	}
	if got := string(c.GetValue()); got != "hi" {
		t.Fatalf("expected value %q, got %q", "hi", got)
	}
}

func TestGetNameResolvesInternedName(t *testing.T) {
	w := newTestWriteTrx(t)
	_, elemKey, _, _ := buildSmallTree(t, w)

	c, err := New(w, elemKey)
	if err != nil {
		t.Fatal(err)
	}
	name, ok, err := c.GetName()
	if err != nil {
		t.Fatal(err)
	}
	if !ok || name != "root" {
		t.Fatalf("expected name %q, got %q (ok=%v)", "root", name, ok)
	}
}

func TestAttributeHasNoStructuralMoves(t *testing.T) {
	w := newTestWriteTrx(t)
	_, _, _, attrKey := buildSmallTree(t, w)

	c, err := New(w, attrKey)
	if err != nil {
		t.Fatal(err)
	}
	if c.HasFirstChild() || c.HasLeftSibling() || c.HasRightSibling() {
		t.Fatal("attribute node should report no structural links")
	}
	moved, err := c.MoveToFirstChild()
	if err != nil || moved {
		t.Fatalf("attribute move to first child should be a no-op, got moved=%v err=%v", moved, err)
	}
}

func TestMoveToJumpsDirectlyAndRestoresOnFailure(t *testing.T) {
	w := newTestWriteTrx(t)
	docKey, _, textKey, _ := buildSmallTree(t, w)

	c, err := New(w, docKey)
	if err != nil {
		t.Fatal(err)
	}
	moved, err := c.MoveTo(textKey)
	if err != nil || !moved {
		t.Fatalf("move to text: moved=%v err=%v", moved, err)
	}
	if c.Key() != textKey {
		t.Fatalf("expected key %d, got %d", textKey, c.Key())
	}

	moved, err = c.MoveTo(999999)
	if err == nil || moved {
		t.Fatalf("expected move to nonexistent key to fail, got moved=%v err=%v", moved, err)
	}
	if c.Key() != textKey {
		t.Fatalf("cursor should remain at %d after failed move, got %d", textKey, c.Key())
	}
}
