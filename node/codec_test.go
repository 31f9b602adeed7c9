package node

import (
	"reflect"
	"testing"
)

func TestRoundTripAllKinds(t *testing.T) {
	cases := []Record{
		&DocumentRootNode{
			Delegate:       Delegate{NodeKey: 0, ParentKey: NullNodeKey, Hash: 42, Revision: 1},
			StructDelegate: StructDelegate{FirstChildKey: 1, LeftSiblingKey: NullNodeKey, RightSiblingKey: NullNodeKey, ChildCount: 1, DescendantCount: 3},
		},
		&ElementNode{
			Delegate:       Delegate{NodeKey: 1, ParentKey: 0, Hash: 7, Revision: 1, DeweyID: []byte{1, 2}},
			StructDelegate: StructDelegate{FirstChildKey: 2, LeftSiblingKey: NullNodeKey, RightSiblingKey: NullNodeKey, ChildCount: 1, DescendantCount: 1},
			NameDelegate:   NameDelegate{URIKey: 0, PrefixKey: 0, LocalNameKey: 99, PathNodeKey: 5},
			AttributeKeys:  []int64{10, 11},
			NamespaceKeys:  []int64{20},
		},
		&AttributeNode{
			Delegate:     Delegate{NodeKey: 10, ParentKey: 1, Revision: 1},
			NameDelegate: NameDelegate{LocalNameKey: 3},
			ValDelegate:  ValDelegate{Raw: []byte("value")},
		},
		&NamespaceNode{
			Delegate:     Delegate{NodeKey: 20, ParentKey: 1, Revision: 1},
			NameDelegate: NameDelegate{PrefixKey: 1, URIKey: 2},
		},
		&TextNode{
			Delegate:       Delegate{NodeKey: 2, ParentKey: 1, Revision: 1},
			StructDelegate: StructDelegate{FirstChildKey: NullNodeKey, LeftSiblingKey: NullNodeKey, RightSiblingKey: NullNodeKey},
			ValDelegate:    ValDelegate{Raw: []byte("hello world")},
		},
		&CommentNode{
			Delegate:       Delegate{NodeKey: 3, ParentKey: 1, Revision: 1},
			StructDelegate: StructDelegate{FirstChildKey: NullNodeKey, LeftSiblingKey: NullNodeKey, RightSiblingKey: NullNodeKey},
			ValDelegate:    ValDelegate{Raw: []byte("a comment")},
		},
		&ProcessingInstructionNode{
			Delegate:       Delegate{NodeKey: 4, ParentKey: 1, Revision: 1},
			StructDelegate: StructDelegate{FirstChildKey: NullNodeKey, LeftSiblingKey: NullNodeKey, RightSiblingKey: NullNodeKey},
			NameDelegate:   NameDelegate{LocalNameKey: 8},
			ValDelegate:    ValDelegate{Raw: []byte("pi")},
		},
		&PathNode{
			Delegate:       Delegate{NodeKey: 5, ParentKey: NullNodeKey, Revision: 1},
			StructDelegate: StructDelegate{FirstChildKey: NullNodeKey, LeftSiblingKey: NullNodeKey, RightSiblingKey: NullNodeKey},
			NameDelegate:   NameDelegate{LocalNameKey: 99},
			PathNodeKind:   KindElement,
			Level:          1,
			ReferenceCount: 4,
		},
		&AVLNodeRecord{
			Delegate:  Delegate{NodeKey: 6, ParentKey: NullNodeKey, Revision: 1},
			Key:       []byte("x"),
			Value:     []byte{1, 2, 3},
			ParentKey: NullNodeKey,
			LeftKey:   NullNodeKey,
			RightKey:  NullNodeKey,
			Changed:   true,
		},
		&DeletedNode{
			Delegate: Delegate{NodeKey: 7, ParentKey: NullNodeKey, Revision: 1},
		},
	}

	for _, want := range cases {
		buf, err := Serialize(want)
		if err != nil {
			t.Fatalf("Serialize(%T): %v", want, err)
		}
		got, err := Deserialize(buf)
		if err != nil {
			t.Fatalf("Deserialize(%T): %v", want, err)
		}
		if !reflect.DeepEqual(normalize(want), normalize(got)) {
			t.Fatalf("roundtrip mismatch for %T:\n want %+v\n got  %+v", want, want, got)
		}
	}
}

func TestRoundTripCompressedValue(t *testing.T) {
	want := &TextNode{
		Delegate:       Delegate{NodeKey: 1, ParentKey: NullNodeKey, Revision: 1},
		StructDelegate: StructDelegate{FirstChildKey: NullNodeKey, LeftSiblingKey: NullNodeKey, RightSiblingKey: NullNodeKey},
		ValDelegate:    NewValue([]byte("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")),
	}
	if !want.Compressed {
		t.Fatalf("NewValue: expected a 40-byte payload to opt into compression")
	}

	buf, err := Serialize(want)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	got, err := Deserialize(buf)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	if !reflect.DeepEqual(want, got) {
		t.Fatalf("roundtrip mismatch:\n want %+v\n got  %+v", want, got)
	}
}

// normalize clears the unexported lazily-built attribute index on
// ElementNode so DeepEqual compares only wire-relevant state.
func normalize(r Record) Record {
	if e, ok := r.(*ElementNode); ok {
		cp := *e
		cp.attrByName = nil
		return &cp
	}
	return r
}
