package iobackend

import (
	"path/filepath"
	"testing"
)

func TestCreateOpenHeaderRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resource.sirix")
	h := Header{PageSize: 1024, Fanout: 128, Window: 4, FullDumpEvery: 4}

	rf, err := Create(path, h)
	if err != nil {
		t.Fatal(err)
	}
	if rf.Header() != h {
		t.Fatalf("got %+v want %+v", rf.Header(), h)
	}
	if err := rf.Close(); err != nil {
		t.Fatal(err)
	}

	rf2, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer rf2.Close()
	if rf2.Header() != h {
		t.Fatalf("reopened header got %+v want %+v", rf2.Header(), h)
	}
}

func TestWritePageReadPage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resource.sirix")
	rf, err := Create(path, Header{PageSize: 1024, Fanout: 128, Window: 4, FullDumpEvery: 4})
	if err != nil {
		t.Fatal(err)
	}
	defer rf.Close()

	off, err := rf.WritePage([]byte("hello page"))
	if err != nil {
		t.Fatal(err)
	}
	got, err := rf.ReadPage(off)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello page" {
		t.Fatalf("got %q", got)
	}
}

func TestUberTrailerAtomicity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resource.sirix")
	rf, err := Create(path, Header{PageSize: 1024, Fanout: 128, Window: 4, FullDumpEvery: 4})
	if err != nil {
		t.Fatal(err)
	}
	defer rf.Close()

	if trailer, err := rf.ReadTrailer(); err != nil || trailer != 0 {
		t.Fatalf("expected empty trailer, got %d, err=%v", trailer, err)
	}

	if err := rf.WriteUberAtomic([]byte("uber-1")); err != nil {
		t.Fatal(err)
	}
	off1, err := rf.ReadTrailer()
	if err != nil {
		t.Fatal(err)
	}
	blob, err := rf.ReadPage(off1)
	if err != nil {
		t.Fatal(err)
	}
	if string(blob) != "uber-1" {
		t.Fatalf("got %q", blob)
	}

	if err := rf.WriteUberAtomic([]byte("uber-2")); err != nil {
		t.Fatal(err)
	}
	off2, err := rf.ReadTrailer()
	if err != nil {
		t.Fatal(err)
	}
	if off2 == off1 {
		t.Fatal("trailer did not advance")
	}
	blob2, err := rf.ReadPage(off2)
	if err != nil {
		t.Fatal(err)
	}
	if string(blob2) != "uber-2" {
		t.Fatalf("got %q", blob2)
	}
}
