package volfs

import (
	"fmt"
	"strings"

	"github.com/dargueta/volumefs"
	"github.com/dargueta/volumefs/file_systems/common/extents"
	"go.uber.org/zap"
)

// Volume is a session on one volume: its directory tree, free-space allocator,
// and the working folder. Every successful mutation is persisted to the
// metadata store before the call returns. A mutation that fails partway
// through, including one whose metadata write fails, leaves the session
// exactly as it was before the call.
//
// A Volume is not safe for concurrent use.
type Volume struct {
	geometry   volumefs.VolumeGeometry
	regionSize uint
	store      volumefs.MetadataStore
	tree       *Tree
	alloc      *extents.Allocator
	nav        Navigation
	committed  []byte
	logger     *zap.Logger
}

// Open reads and decodes the metadata region from `store`. A region that fails
// to decode is logged and returned as an error.
func Open(
	geometry volumefs.VolumeGeometry,
	store volumefs.MetadataStore,
	regionSize uint,
	logger *zap.Logger,
) (*Volume, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	volume := &Volume{
		geometry:   geometry,
		regionSize: regionSize,
		store:      store,
		logger:     logger.With(zap.String("volume", geometry.Name)),
	}

	err := volume.Reload()
	if err != nil {
		return nil, err
	}
	return volume, nil
}

// Reload re-reads the metadata region. If the region can't be read or decoded
// the error is logged and returned, and the session keeps its current state.
// The working folder is kept if it still exists.
func (v *Volume) Reload() error {
	region := make([]byte, v.regionSize)
	err := v.store.ReadMetadata(region)
	if err != nil {
		v.logger.Error("failed to read metadata region", zap.Error(err))
		return volumefs.CastToDriverError(err)
	}

	tree, alloc, err := Decode(region, v.geometry)
	if err != nil {
		v.logger.Error("metadata region is corrupted, keeping previous state", zap.Error(err))
		return err
	}

	v.tree = tree
	v.alloc = alloc
	v.nav = tree.remap(v.nav)
	v.committed = region
	v.logger.Debug(
		"loaded metadata",
		zap.Int("free_extents", len(alloc.Extents())),
		zap.Uint("free_blocks", alloc.FreeBlocks()),
	)
	return nil
}

// commit encodes the current state and writes it out. On failure the session
// is restored from the last committed region.
func (v *Volume) commit(operation string) error {
	region, err := Encode(v.tree, v.alloc, v.regionSize)
	if err == nil {
		err = v.store.WriteMetadata(region)
		if err != nil {
			v.restoreStore()
		}
	}
	if err != nil {
		v.logger.Warn("rolling back failed operation", zap.String("op", operation), zap.Error(err))
		v.rollback()
		return volumefs.CastToDriverError(err)
	}

	v.committed = region
	v.logger.Debug(
		"committed metadata",
		zap.String("op", operation),
		zap.Uint("free_blocks", v.alloc.FreeBlocks()),
	)
	return nil
}

// restoreStore puts the last committed region back after a failed write, in
// case the store got part of the new one.
func (v *Volume) restoreStore() {
	err := v.store.WriteMetadata(v.committed)
	if err != nil {
		v.logger.Error(
			"couldn't restore previous metadata region; reopen the volume to recover",
			zap.Error(err),
		)
	}
}

// rollback discards every in-memory change since the last commit.
func (v *Volume) rollback() {
	tree, alloc, err := Decode(v.committed, v.geometry)
	if err != nil {
		// The committed region was produced by Encode, so this means memory
		// corruption or a bug.
		v.logger.DPanic("last committed metadata doesn't decode", zap.Error(err))
		return
	}
	v.tree = tree
	v.alloc = alloc
	v.nav = tree.remap(v.nav)
}

// abort rolls back in-memory changes and returns `err`.
func (v *Volume) abort(err error) error {
	v.rollback()
	return err
}

func (v *Volume) current() *Folder {
	return v.nav.Current(v.tree.root)
}

func (v *Volume) Geometry() volumefs.VolumeGeometry {
	return v.geometry
}

func (v *Volume) Root() *Folder {
	return v.tree.root
}

func (v *Volume) Navigation() Navigation {
	return v.nav
}

// FreeExtents returns a copy of the allocator's free list.
func (v *Volume) FreeExtents() []volumefs.Extent {
	return v.alloc.Extents()
}

// WorkingPath returns the working folder's path, e.g. "~/docs".
func (v *Volume) WorkingPath() string {
	return v.nav.String()
}

// CheckInsert returns the error that inserting a node of the given kind and
// name into the working folder would fail with, or nil.
func (v *Volume) CheckInsert(name string, kind volumefs.NodeKind) error {
	err := ValidateName(name)
	if err != nil {
		return err
	}
	if _, node := v.current().Lookup(name, kind); node != nil {
		return volumefs.ErrExists.WithMessage(
			fmt.Sprintf("a %s named %q already exists in %s", kind, name, v.nav))
	}
	return nil
}

// AllocateBlocks finds `count` contiguous free blocks without claiming them.
// The blocks are claimed by [Volume.InsertFile]. Asking for zero blocks
// returns block 0.
func (v *Volume) AllocateBlocks(count uint) (volumefs.BlockID, error) {
	if count == 0 {
		return 0, nil
	}
	return v.alloc.Allocate(count)
}

// InsertFolder creates an empty folder in the working folder.
func (v *Volume) InsertFolder(name string) (*Folder, error) {
	err := v.CheckInsert(name, volumefs.KindFolder)
	if err != nil {
		return nil, err
	}

	folder := v.tree.newFolder(name)
	v.current().append(folder)
	err = v.commit("createdir")
	if err != nil {
		return nil, err
	}
	return folder, nil
}

// InsertFile records a file occupying `blockCount` blocks from `blockIndex` in
// the working folder. The blocks must start a free extent, normally one found
// by [Volume.AllocateBlocks]. A file with no blocks owns nothing.
func (v *Volume) InsertFile(
	name string, blockIndex volumefs.BlockID, blockCount uint,
) (*File, error) {
	err := v.CheckInsert(name, volumefs.KindFile)
	if err != nil {
		return nil, err
	}

	if blockCount == 0 {
		blockIndex = 0
	} else {
		err = v.alloc.Commit(blockIndex, blockCount)
		if err != nil {
			return nil, err
		}
	}

	file := v.tree.newFile(name, blockIndex, blockCount)
	v.current().append(file)
	err = v.commit("createfile")
	if err != nil {
		return nil, err
	}
	return file, nil
}

func (v *Volume) releaseFile(file *File) error {
	if file.BlockCount == 0 {
		return nil
	}
	return v.alloc.Release(file.BlockIndex, file.BlockCount)
}

// Remove deletes the first child of the working folder named `name`. Folders
// must be empty unless `recursive` is set, in which case every file below it
// gives its blocks back.
func (v *Volume) Remove(name string, recursive bool) (Node, error) {
	folder := v.current()
	i, node := folder.Lookup(name, "")
	if node == nil {
		return nil, volumefs.ErrNotFound.WithMessage(
			fmt.Sprintf("nothing named %q in %s", name, v.nav))
	}

	var err error
	switch n := node.(type) {
	case *File:
		err = v.releaseFile(n)
	case *Folder:
		if !n.IsEmpty() && !recursive {
			return nil, volumefs.ErrDirectoryNotEmpty.WithMessage(
				fmt.Sprintf("folder %q has %d children", name, len(n.children)))
		}
		for _, file := range Files(n) {
			if err = v.releaseFile(file); err != nil {
				break
			}
		}
	}
	if err != nil {
		return nil, v.abort(err)
	}

	folder.removeAt(i)
	err = v.commit("remove")
	if err != nil {
		return nil, err
	}
	return node, nil
}

// NavigateTo changes the working folder. On failure nothing changes.
func (v *Volume) NavigateTo(path string) error {
	nav, err := v.tree.Navigate(v.nav, path)
	if err != nil {
		return err
	}
	v.nav = nav
	return nil
}

// NavigateBack moves to the parent of the working folder. It does nothing at
// the root.
func (v *Volume) NavigateBack() {
	v.nav = v.nav.Pop()
}

// GetByName returns the first child of the working folder named `name`.
func (v *Volume) GetByName(name string) (Node, error) {
	_, node := v.current().Lookup(name, "")
	if node == nil {
		return nil, volumefs.ErrNotFound.WithMessage(
			fmt.Sprintf("nothing named %q in %s", name, v.nav))
	}
	return node, nil
}

// GetNode resolves a path relative to the working folder.
func (v *Volume) GetNode(path string) (Node, error) {
	_, node, err := v.tree.Resolve(v.nav, path)
	if err != nil {
		return nil, err
	}
	return node, nil
}

// GetFile resolves a path that must name a file.
func (v *Volume) GetFile(path string) (*File, error) {
	node, err := v.GetNode(path)
	if err != nil {
		return nil, err
	}
	file, ok := node.(*File)
	if !ok {
		return nil, volumefs.ErrIsADirectory.WithMessage(
			fmt.Sprintf("%q is a folder", path))
	}
	return file, nil
}

// List returns the children of the folder at `path` (the working folder if
// empty), folders first, each group in insertion order.
func (v *Volume) List(path string) ([]Node, error) {
	node, err := v.GetNode(path)
	if err != nil {
		return nil, err
	}
	folder, ok := node.(*Folder)
	if !ok {
		return nil, volumefs.ErrNotADirectory.WithMessage(
			fmt.Sprintf("%q is a file", path))
	}

	result := make([]Node, 0, len(folder.children))
	for _, child := range folder.children {
		if child.Kind() == volumefs.KindFolder {
			result = append(result, child)
		}
	}
	for _, child := range folder.children {
		if child.Kind() == volumefs.KindFile {
			result = append(result, child)
		}
	}
	return result, nil
}

// resolveSource finds the node at `path` along with the folder containing it.
func (v *Volume) resolveSource(path string) (*Folder, Node, error) {
	parentNav, node, err := v.tree.Resolve(v.nav, path)
	if err != nil {
		return nil, nil, volumefs.ErrInvalidPath.Wrap(err)
	}
	if node == v.tree.root {
		return nil, nil, volumefs.ErrInvalidPath.WithMessage("can't move or copy the root folder")
	}
	return parentNav.Current(v.tree.root), node, nil
}

// resolveDestination finds the folder a node is moved or copied into. If
// `path` names an existing folder the node goes inside it. Otherwise the path's
// parent must be a folder, and the last segment is returned as the name the
// node should have there.
func (v *Volume) resolveDestination(path string) (*Folder, string, error) {
	_, node, err := v.tree.Resolve(v.nav, path)
	if err == nil {
		folder, ok := node.(*Folder)
		if !ok {
			return nil, "", volumefs.ErrNotADirectory.WithMessage(
				fmt.Sprintf("destination %q is a file", path))
		}
		return folder, "", nil
	}

	segments, absolute := splitPath(path)
	if len(segments) == 0 || segments[len(segments)-1] == volumefs.ParentSegment {
		return nil, "", volumefs.ErrInvalidPath.Wrap(err)
	}

	parentPath := strings.Join(segments[:len(segments)-1], volumefs.PathSeparator)
	if absolute {
		parentPath = volumefs.RootName + volumefs.PathSeparator + parentPath
	}

	_, parent, parentErr := v.tree.Resolve(v.nav, parentPath)
	if parentErr != nil {
		return nil, "", volumefs.ErrInvalidPath.Wrap(parentErr)
	}
	folder, ok := parent.(*Folder)
	if !ok {
		return nil, "", volumefs.ErrNotADirectory.WithMessage(
			fmt.Sprintf("%q is a file", parentPath))
	}

	name := segments[len(segments)-1]
	if err = ValidateName(name); err != nil {
		return nil, "", err
	}
	return folder, name, nil
}

func (v *Volume) checkNotInside(node Node, destination *Folder) error {
	folder, ok := node.(*Folder)
	if ok && (folder == destination || folder.Contains(destination)) {
		return volumefs.ErrInvalidPath.WithMessage(
			fmt.Sprintf("can't put folder %q inside itself", folder.name))
	}
	return nil
}

func checkCollision(destination *Folder, name string, kind volumefs.NodeKind) error {
	if _, existing := destination.Lookup(name, kind); existing != nil {
		return volumefs.ErrExists.WithMessage(
			fmt.Sprintf("folder %q already has a %s named %q", destination.name, kind, name))
	}
	return nil
}

// Move relinks the node at `sourcePath` into the folder at `destPath`, keeping
// its name. The destination may also be spelled as the node's full new path,
// as long as the last segment is the node's current name.
func (v *Volume) Move(sourcePath, destPath string) error {
	parent, node, err := v.resolveSource(sourcePath)
	if err != nil {
		return err
	}
	destination, name, err := v.resolveDestination(destPath)
	if err != nil {
		return err
	}
	if name != "" && name != node.Name() {
		return volumefs.ErrInvalidPath.WithMessage(
			fmt.Sprintf("move can't rename %q to %q", node.Name(), name))
	}
	if err = v.checkNotInside(node, destination); err != nil {
		return err
	}
	if destination == parent {
		return nil
	}
	if err = checkCollision(destination, node.Name(), node.Kind()); err != nil {
		return err
	}

	working := v.current()
	previous := v.nav
	parent.removeAt(parent.indexOf(node))
	destination.append(node)

	// The working folder may have been inside what was moved.
	if nav, ok := v.tree.navigationTo(working); ok {
		v.nav = nav
	}
	err = v.commit("move")
	if err != nil {
		// The rolled-back tree has the folders where they were before the move.
		v.nav = v.tree.remap(previous)
	}
	return err
}

// Copy duplicates the node at `sourcePath` into `destPath`. File contents are
// duplicated by calling `copyBlocks` with each new file's freshly allocated
// blocks. Either the entire copy succeeds or nothing changes.
func (v *Volume) Copy(sourcePath, destPath string, copyBlocks volumefs.BlockCopyFunc) error {
	_, node, err := v.resolveSource(sourcePath)
	if err != nil {
		return err
	}
	destination, name, err := v.resolveDestination(destPath)
	if err != nil {
		return err
	}
	if name == "" {
		name = node.Name()
	}
	if err = v.checkNotInside(node, destination); err != nil {
		return err
	}

	err = v.copyNode(node, destination, name, copyBlocks)
	if err != nil {
		return v.abort(err)
	}
	return v.commit("copy")
}

func (v *Volume) copyNode(
	node Node, destination *Folder, name string, copyBlocks volumefs.BlockCopyFunc,
) error {
	err := checkCollision(destination, name, node.Kind())
	if err != nil {
		return err
	}

	switch n := node.(type) {
	case *File:
		start := volumefs.BlockID(0)
		if n.BlockCount > 0 {
			start, err = v.alloc.Allocate(n.BlockCount)
			if err != nil {
				return err
			}
			if err = v.alloc.Commit(start, n.BlockCount); err != nil {
				return err
			}
			if copyBlocks != nil {
				err = copyBlocks(start, n.BlockCount, n.BlockIndex)
				if err != nil {
					return volumefs.CastToDriverError(err)
				}
			}
		}
		destination.append(v.tree.newFile(name, start, n.BlockCount))

	case *Folder:
		// Snapshot the children first, so copying a folder into one of its
		// siblings doesn't pick up the new copy.
		children := n.Children()
		copied := v.tree.newFolder(name)
		destination.append(copied)
		for _, child := range children {
			err = v.copyNode(child, copied, child.Name(), copyBlocks)
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// Rename changes the name of the first child of the working folder named
// `name`. No sibling of the same kind may already have the new name.
func (v *Volume) Rename(name, newName string) error {
	err := ValidateName(newName)
	if err != nil {
		return err
	}

	_, node := v.current().Lookup(name, "")
	if node == nil {
		return volumefs.ErrNotFound.WithMessage(
			fmt.Sprintf("nothing named %q in %s", name, v.nav))
	}
	if name == newName {
		return nil
	}
	if err = checkCollision(v.current(), newName, node.Kind()); err != nil {
		return err
	}

	switch n := node.(type) {
	case *File:
		n.name = newName
	case *Folder:
		n.name = newName
	}
	return v.commit("rename")
}

// Format erases the directory tree and frees every usable block. Data blocks
// aren't touched. The working folder goes back to the root.
func (v *Volume) Format() error {
	v.tree = NewTree()
	v.alloc = extents.New(v.geometry.ReservedBlocks(v.regionSize), v.geometry.BlockCount)
	err := v.commit("format")
	if err != nil {
		return err
	}
	v.nav = Navigation{}
	return nil
}

// Check verifies that the in-memory tree and free list agree with each other.
func (v *Volume) Check() (Report, error) {
	report, err := Check(v.tree, v.alloc)
	if err != nil {
		v.logger.Error("consistency check failed", zap.Error(err))
	}
	return report, err
}

// Stat summarizes block usage and node counts.
func (v *Volume) Stat() Report {
	report, _ := v.Check()
	return report
}
