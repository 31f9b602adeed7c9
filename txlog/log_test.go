package txlog

import (
	"path/filepath"
	"testing"
)

func TestPutGetDeleteClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "translog.db")
	l, err := Open(path, 4, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	k := Key{Kind: 3, Level: 1, KeySlice: 42, Index: 0}
	if _, ok, err := l.Get(k); err != nil || ok {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}

	if err := l.Put(k, []byte("payload")); err != nil {
		t.Fatal(err)
	}
	blob, ok, err := l.Get(k)
	if err != nil || !ok {
		t.Fatalf("expected hit, err=%v ok=%v", err, ok)
	}
	if string(blob) != "payload" {
		t.Fatalf("got %q", blob)
	}

	if err := l.Delete(k); err != nil {
		t.Fatal(err)
	}
	if _, ok, err := l.Get(k); err != nil || ok {
		t.Fatalf("expected miss after delete, ok=%v err=%v", ok, err)
	}

	if err := l.Put(k, []byte("payload2")); err != nil {
		t.Fatal(err)
	}
	if err := l.Clear(); err != nil {
		t.Fatal(err)
	}
	if _, ok, err := l.Get(k); err != nil || ok {
		t.Fatalf("expected miss after clear, ok=%v err=%v", ok, err)
	}
}

func TestPeriodicSync(t *testing.T) {
	path := filepath.Join(t.TempDir(), "translog.db")
	l, err := Open(path, 2, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	for i := int64(0); i < 5; i++ {
		if err := l.Put(Key{KeySlice: i}, []byte("x")); err != nil {
			t.Fatal(err)
		}
	}
	if l.puts.Load() != 5 {
		t.Fatalf("expected 5 puts recorded, got %d", l.puts.Load())
	}
}
