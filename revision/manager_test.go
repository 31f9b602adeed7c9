package revision

import (
	"path/filepath"
	"testing"

	"github.com/sirixcore/sirix/iobackend"
	"github.com/sirixcore/sirix/node"
	"github.com/sirixcore/sirix/page"
	"github.com/sirixcore/sirix/sirixerr"
)

func newManagerT(t *testing.T) *Manager {
	t.Helper()
	path := filepath.Join(t.TempDir(), "resource.sirix")
	m, err := Create(path, "res", iobackend.Header{
		PageSize: 4096, Fanout: page.DefaultFanout, Window: page.DefaultWindow, FullDumpEvery: page.DefaultFullDumpEvery,
	}, Options{CacheCapacity: 64})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestOpenLatestOnFreshResource(t *testing.T) {
	m := newManagerT(t)
	r, err := m.OpenLatest()
	if err != nil {
		t.Fatal(err)
	}
	if r.RevisionNumber() != 0 {
		t.Fatalf("revision = %d, want 0", r.RevisionNumber())
	}
}

func TestBeginWriteExclusivity(t *testing.T) {
	m := newManagerT(t)
	w, err := m.BeginWrite()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.BeginWrite(); err == nil {
		t.Fatal("expected second writer to be rejected")
	} else if !isWriterActive(err) {
		t.Fatalf("got %v, want ErrWriterActive", err)
	}
	if _, err := w.Commit(); err != nil {
		t.Fatal(err)
	}
	m.Release()
	if _, err := m.BeginWrite(); err != nil {
		t.Fatalf("expected a new writer after release, got %v", err)
	}
}

func isWriterActive(err error) bool {
	for err != nil {
		if err == sirixerr.ErrWriterActive {
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

func TestOpenPastRevision(t *testing.T) {
	m := newManagerT(t)

	w1, err := m.BeginWrite()
	if err != nil {
		t.Fatal(err)
	}
	key := w1.NextNodeKey()
	n := &node.TextNode{Delegate: node.Delegate{NodeKey: key, ParentKey: node.DocumentNodeKey}}
	n.ValDelegate.Raw = []byte("rev1")
	if err := w1.CreateEntry(n, page.FamilyDocument, 0); err != nil {
		t.Fatal(err)
	}
	if _, err := w1.Commit(); err != nil {
		t.Fatal(err)
	}
	m.Release()

	w2, err := m.BeginWrite()
	if err != nil {
		t.Fatal(err)
	}
	rec, err := w2.PrepareEntryForModification(key, page.FamilyDocument, 0)
	if err != nil {
		t.Fatal(err)
	}
	tn := rec.(*node.TextNode)
	tn.ValDelegate.Raw = []byte("rev2")
	if err := w2.PutEntry(key, tn, page.FamilyDocument, 0); err != nil {
		t.Fatal(err)
	}
	if _, err := w2.Commit(); err != nil {
		t.Fatal(err)
	}
	m.Release()

	old, err := m.Open(1)
	if err != nil {
		t.Fatal(err)
	}
	got, err := old.GetRecord(key, page.FamilyDocument, 0)
	if err != nil {
		t.Fatal(err)
	}
	if string(got.(*node.TextNode).ValDelegate.Raw) != "rev1" {
		t.Fatalf("revision 1 got %q", got.(*node.TextNode).ValDelegate.Raw)
	}

	latest, err := m.OpenLatest()
	if err != nil {
		t.Fatal(err)
	}
	got2, err := latest.GetRecord(key, page.FamilyDocument, 0)
	if err != nil {
		t.Fatal(err)
	}
	if string(got2.(*node.TextNode).ValDelegate.Raw) != "rev2" {
		t.Fatalf("latest got %q", got2.(*node.TextNode).ValDelegate.Raw)
	}
}
