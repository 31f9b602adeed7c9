package avl

import "testing"

func TestReferencesAddContainsRemove(t *testing.T) {
	r := NewReferences()
	if !r.IsEmpty() {
		t.Fatal("fresh set should be empty")
	}
	if !r.AddNodeKey(5) {
		t.Fatal("first add of 5 should report true")
	}
	if r.AddNodeKey(5) {
		t.Fatal("duplicate add of 5 should report false")
	}
	r.AddNodeKey(2)
	r.AddNodeKey(9)

	want := []int64{2, 5, 9}
	got := r.Keys()
	if len(got) != len(want) {
		t.Fatalf("keys = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("keys = %v, want %v", got, want)
		}
	}

	if !r.Contains(5) || r.Contains(7) {
		t.Fatal("contains mismatched")
	}
	if !r.RemoveNodeKey(5) {
		t.Fatal("remove of present key should report true")
	}
	if r.RemoveNodeKey(5) {
		t.Fatal("remove of absent key should report false")
	}
	if r.Contains(5) {
		t.Fatal("5 should be gone")
	}
	if r.IsEmpty() {
		t.Fatal("set still has 2 and 9")
	}
}

func TestReferencesEncodeDecodeRoundTrip(t *testing.T) {
	r := NewReferences(3, 1, 4, 1, 5, 9, 2, 6)
	buf := EncodeReferences(r)
	got, err := DecodeReferences(buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Keys()) != len(r.Keys()) {
		t.Fatalf("round trip key count = %d, want %d", len(got.Keys()), len(r.Keys()))
	}
	for i, k := range r.Keys() {
		if got.Keys()[i] != k {
			t.Fatalf("round trip keys = %v, want %v", got.Keys(), r.Keys())
		}
	}
}
