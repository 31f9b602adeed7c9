package avl

import "github.com/sirixcore/sirix/page"

// Store names the conventional family/index-number binding of a single
// secondary index's sub-tree: CAS-typed values under page.FamilyCAS, path
// names under page.FamilyPath, and so on, each index number selecting a
// distinct tree within that family's shared indirect-page root (spec §4.6
// "its own page_kind/index sub-tree").
type Store struct {
	Family page.Family
	Index  int
}

// OpenReader returns a read-only view of the index backed by rtx.
func (s Store) OpenReader(rtx reader) *Reader {
	return NewReader(rtx, s.Family, s.Index)
}

// OpenTree returns a mutable view of the index backed by wtx.
func (s Store) OpenTree(wtx writer) *Tree {
	return NewTree(wtx, s.Family, s.Index)
}

// Upsert indexes k against document node nk, adding nk to an existing
// entry's reference list instead of overwriting it (spec §4.6, §4.7).
func (s Store) Upsert(wtx writer, k Key, nk int64) error {
	t := s.OpenTree(wtx)
	return t.Index(k, EncodeReferences(NewReferences(nk)), func(existing []byte) []byte {
		refs, err := DecodeReferences(existing)
		if err != nil {
			refs = NewReferences()
		}
		refs.AddNodeKey(nk)
		return EncodeReferences(refs)
	})
}

// Unindex drops nk from k's reference list, deleting the tree entry
// entirely once the list empties. Reports whether k was found at all.
func (s Store) Unindex(wtx writer, k Key, nk int64) (bool, error) {
	t := s.OpenTree(wtx)
	return t.Remove(k, func(existing []byte) ([]byte, bool) {
		refs, err := DecodeReferences(existing)
		if err != nil {
			return existing, false
		}
		refs.RemoveNodeKey(nk)
		return EncodeReferences(refs), refs.IsEmpty()
	})
}
