package volumefs

// NodeKind is the on-disk type tag of a directory tree node. It's stored in an
// 8-byte field of each node record.
type NodeKind string

const (
	KindFolder NodeKind = "folder"
	KindFile   NodeKind = "file"
)

// Reserved path segments. None of them may be used as a node name.
const (
	RootName      = "~"
	ParentSegment = ".."
	SelfSegment   = "."
	PathSeparator = "/"
)

// ListSeparator joins identifiers and extents inside fixed-width text fields,
// so it can't appear in names either.
const ListSeparator = "|"
