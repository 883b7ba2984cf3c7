package volfs

import (
	"fmt"
	"strings"

	"github.com/dargueta/volumefs"
)

// NodeID is the durable identity of a node. It's what the on-disk format uses
// to link folders to their children, so it must be unique within a volume.
// IDs come from a per-volume counter and are never derived from the clock.
type NodeID uint64

// RootID is the identity of the implicit root folder. No record on disk ever
// uses it.
const RootID NodeID = 0

// Node is either a *Folder or a *File. The interface is sealed, so a type
// switch over those two cases is exhaustive.
type Node interface {
	Name() string
	ID() NodeID
	Kind() volumefs.NodeKind
	sealed()
}

type Folder struct {
	name     string
	id       NodeID
	children []Node
}

type File struct {
	name string
	id   NodeID
	// BlockIndex is the first block of the file's data. It's meaningless if
	// BlockCount is 0.
	BlockIndex volumefs.BlockID
	// BlockCount is the number of contiguous blocks the file occupies.
	BlockCount uint
}

func (f *Folder) Name() string            { return f.name }
func (f *Folder) ID() NodeID              { return f.id }
func (f *Folder) Kind() volumefs.NodeKind { return volumefs.KindFolder }
func (*Folder) sealed()                   {}

func (f *File) Name() string            { return f.name }
func (f *File) ID() NodeID              { return f.id }
func (f *File) Kind() volumefs.NodeKind { return volumefs.KindFile }
func (*File) sealed()                   {}

// Extent returns the block range the file occupies.
func (f *File) Extent() volumefs.Extent {
	return volumefs.Extent{Start: f.BlockIndex, Length: f.BlockCount}
}

// Children returns a copy of the folder's children in insertion order.
func (f *Folder) Children() []Node {
	result := make([]Node, len(f.children))
	copy(result, f.children)
	return result
}

// IsEmpty returns true if the folder has no children.
func (f *Folder) IsEmpty() bool {
	return len(f.children) == 0
}

// Lookup finds the first child named `name`. If `kind` is non-empty only
// children of that kind are considered. It returns the child's index and the
// child, or -1 and nil if there's no match.
func (f *Folder) Lookup(name string, kind volumefs.NodeKind) (int, Node) {
	for i, child := range f.children {
		if child.Name() == name && (kind == "" || child.Kind() == kind) {
			return i, child
		}
	}
	return -1, nil
}

func (f *Folder) folderWithID(id NodeID) *Folder {
	for _, child := range f.children {
		if folder, ok := child.(*Folder); ok && folder.id == id {
			return folder
		}
	}
	return nil
}

func (f *Folder) indexOf(node Node) int {
	for i, child := range f.children {
		if child == node {
			return i
		}
	}
	return -1
}

func (f *Folder) append(node Node) {
	f.children = append(f.children, node)
}

func (f *Folder) removeAt(i int) {
	f.children = append(f.children[:i], f.children[i+1:]...)
}

// Contains returns true if `target` is somewhere below the folder.
func (f *Folder) Contains(target Node) bool {
	for _, child := range f.children {
		if child == target {
			return true
		}
		if folder, ok := child.(*Folder); ok && folder.Contains(target) {
			return true
		}
	}
	return false
}

// Tree is the directory hierarchy of one volume.
type Tree struct {
	root   *Folder
	nextID NodeID
}

// NewTree returns a tree with nothing but an empty root.
func NewTree() *Tree {
	return &Tree{
		root:   &Folder{id: RootID},
		nextID: RootID + 1,
	}
}

func (t *Tree) Root() *Folder {
	return t.root
}

func (t *Tree) allocateID() NodeID {
	id := t.nextID
	t.nextID++
	return id
}

func (t *Tree) newFolder(name string) *Folder {
	return &Folder{name: name, id: t.allocateID()}
}

func (t *Tree) newFile(name string, blockIndex volumefs.BlockID, blockCount uint) *File {
	return &File{
		name:       name,
		id:         t.allocateID(),
		BlockIndex: blockIndex,
		BlockCount: blockCount,
	}
}

// Walk visits every node below the root in pre-order: a folder is visited
// before its children, and children in insertion order.
func (t *Tree) Walk(visit func(node Node, parent *Folder)) {
	walkFolder(t.root, visit)
}

func walkFolder(folder *Folder, visit func(node Node, parent *Folder)) {
	for _, child := range folder.children {
		visit(child, folder)
		if subfolder, ok := child.(*Folder); ok {
			walkFolder(subfolder, visit)
		}
	}
}

// Files returns every file in the subtree rooted at `folder`.
func Files(folder *Folder) []*File {
	var result []*File
	walkFolder(folder, func(node Node, _ *Folder) {
		if file, ok := node.(*File); ok {
			result = append(result, file)
		}
	})
	return result
}

// Counts returns the number of folders (root excluded) and files in the tree.
func (t *Tree) Counts() (folders, files int) {
	t.Walk(func(node Node, _ *Folder) {
		switch node.(type) {
		case *Folder:
			folders++
		case *File:
			files++
		}
	})
	return folders, files
}

// ValidateName checks that `name` can be stored as a node or volume name.
func ValidateName(name string) error {
	switch {
	case name == "":
		return volumefs.ErrInvalidArgument.WithMessage("name can't be empty")
	case len(name) > volumefs.MaxNameLength:
		return volumefs.ErrNameTooLong.WithMessage(
			fmt.Sprintf(
				"%q is %d bytes, the limit is %d",
				name,
				len(name),
				volumefs.MaxNameLength,
			),
		)
	case name == volumefs.SelfSegment,
		name == volumefs.ParentSegment,
		name == volumefs.RootName:
		return volumefs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("%q is a reserved name", name))
	case strings.ContainsAny(name, volumefs.PathSeparator+volumefs.ListSeparator+"\x00"):
		return volumefs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("%q can't contain '/', '|', or null bytes", name))
	}
	return nil
}
