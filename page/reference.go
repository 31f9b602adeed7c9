package page

// Reference names a child page by its file offset. A zero Offset with
// Present=false means the slot is empty (spec §6.2: indirect pages store a
// 1-byte present flag plus an 8-byte child offset per slot).
type Reference struct {
	Present bool
	Offset  int64
}

// NoReference is the empty slot value.
var NoReference = Reference{}
