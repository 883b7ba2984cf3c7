package volfs

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"strconv"
	"strings"

	"github.com/dargueta/volumefs"
	"github.com/dargueta/volumefs/file_systems/common/extents"
	"github.com/noxer/bytewriter"
)

const Magic = "VFS1"

const (
	headerSize        = 8
	extentFieldSize   = 1600
	rootFieldSize     = 400
	nameFieldSize     = volumefs.MaxNameLength
	typeFieldSize     = 8
	idFieldSize       = 14
	childrenFieldSize = 120
	filePayloadSize   = 8

	recordHeaderSize = nameFieldSize + typeFieldSize + idFieldSize
	fileRecordSize   = recordHeaderSize + filePayloadSize
	folderRecordSize = recordHeaderSize + childrenFieldSize
	recordsOffset    = headerSize + extentFieldSize + rootFieldSize
)

// MinMetadataRegionSize is the smallest region that can hold an empty volume.
const MinMetadataRegionSize = recordsOffset

// maxNodeID is the largest ID that fits in the ID field.
const maxNodeID NodeID = 99_999_999_999_999

type encoder struct {
	writer    io.Writer
	remaining int
	err       error
}

func (enc *encoder) fail(err error) {
	if enc.err == nil {
		enc.err = err
	}
}

func (enc *encoder) write(data []byte) {
	if enc.err != nil {
		return
	}
	_, err := enc.writer.Write(data)
	if err != nil {
		enc.fail(volumefs.ErrIOFailed.Wrap(err))
	}
}

func (enc *encoder) field(value string, width int, what string) {
	if len(value) > width {
		enc.fail(
			volumefs.ErrNoSpaceOnDevice.WithMessage(
				fmt.Sprintf("%s needs %d bytes, only %d available", what, len(value), width),
			),
		)
		return
	}
	padded := make([]byte, width)
	copy(padded, value)
	enc.write(padded)
}

func (enc *encoder) reserve(size int, what string) bool {
	if enc.err != nil {
		return false
	}
	if size > enc.remaining {
		enc.fail(
			volumefs.ErrNoSpaceOnDevice.WithMessage(
				fmt.Sprintf("metadata region is full, no room for %s", what),
			),
		)
		return false
	}
	enc.remaining -= size
	return true
}

func (enc *encoder) record(node Node) {
	if node.ID() > maxNodeID {
		enc.fail(volumefs.ErrNoSpaceOnDevice.WithMessage("ran out of node IDs"))
		return
	}

	switch n := node.(type) {
	case *File:
		if !enc.reserve(fileRecordSize, fmt.Sprintf("file %q", n.name)) {
			return
		}
		enc.field(n.name, nameFieldSize, "name")
		enc.field(string(volumefs.KindFile), typeFieldSize, "type")
		enc.field(formatID(n.id), idFieldSize, "ID")

		payload := make([]byte, filePayloadSize)
		binary.LittleEndian.PutUint32(payload[0:4], uint32(n.BlockIndex))
		binary.LittleEndian.PutUint32(payload[4:8], uint32(n.BlockCount))
		enc.write(payload)

	case *Folder:
		if !enc.reserve(folderRecordSize, fmt.Sprintf("folder %q", n.name)) {
			return
		}
		enc.field(n.name, nameFieldSize, "name")
		enc.field(string(volumefs.KindFolder), typeFieldSize, "type")
		enc.field(formatID(n.id), idFieldSize, "ID")
		enc.field(
			joinChildIDs(n.children),
			childrenFieldSize,
			fmt.Sprintf("child list of folder %q", n.name),
		)
	}
}

// Encode serializes the tree and the allocator's free list into a metadata
// region of `regionSize` bytes. If anything doesn't fit, it fails with
// [volumefs.ErrNoSpaceOnDevice] and nothing is returned.
func Encode(tree *Tree, alloc *extents.Allocator, regionSize uint) ([]byte, error) {
	if regionSize < MinMetadataRegionSize {
		return nil, volumefs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf(
				"metadata region must be at least %d bytes, got %d",
				MinMetadataRegionSize,
				regionSize,
			),
		)
	}

	region := make([]byte, regionSize)
	enc := encoder{
		writer:    bytewriter.New(region[recordsOffset:]),
		remaining: int(regionSize) - recordsOffset,
	}

	// The two fixed fields always fit, so they're written through a separate
	// writer and don't count against the record area.
	fixed := encoder{writer: bytewriter.New(region[headerSize:recordsOffset])}
	fixed.field(formatExtents(alloc.Extents()), extentFieldSize, "free extent list")
	fixed.field(joinChildIDs(tree.root.children), rootFieldSize, "root folder's child list")
	if fixed.err != nil {
		return nil, fixed.err
	}

	tree.Walk(func(node Node, _ *Folder) {
		enc.record(node)
	})
	if enc.err != nil {
		return nil, enc.err
	}

	copy(region[0:4], Magic)
	binary.LittleEndian.PutUint32(region[4:8], crc32.ChecksumIEEE(region[headerSize:]))
	return region, nil
}

// VerifyRegion checks the magic number and checksum of a metadata region
// without parsing anything else.
func VerifyRegion(region []byte) error {
	if len(region) < MinMetadataRegionSize {
		return volumefs.ErrFileSystemCorrupted.WithMessage(
			fmt.Sprintf("metadata region is only %d bytes", len(region)))
	}
	if string(region[0:4]) != Magic {
		if bytes.Count(region, []byte{0}) == len(region) {
			return volumefs.ErrFileSystemCorrupted.WithMessage("volume isn't formatted")
		}
		return volumefs.ErrFileSystemCorrupted.WithMessage(
			fmt.Sprintf("bad magic number %q", region[0:4]))
	}

	expected := binary.LittleEndian.Uint32(region[4:8])
	actual := crc32.ChecksumIEEE(region[headerSize:])
	if expected != actual {
		return volumefs.ErrFileSystemCorrupted.WithMessage(
			fmt.Sprintf("metadata checksum mismatch: stored %08x, computed %08x", expected, actual))
	}
	return nil
}

type decoder struct {
	reader *bytes.Reader
}

func (dec *decoder) field(width int) (string, error) {
	buffer := make([]byte, width)
	_, err := io.ReadFull(dec.reader, buffer)
	if err != nil {
		return "", volumefs.ErrFileSystemCorrupted.WithMessage("metadata record is truncated")
	}
	return string(bytes.TrimRight(buffer, "\x00")), nil
}

type rawRecord struct {
	node     Node
	children []NodeID
}

func (dec *decoder) record() (*rawRecord, error) {
	if dec.reader.Len() < recordHeaderSize {
		return nil, nil
	}

	name, err := dec.field(nameFieldSize)
	if err != nil || name == "" {
		return nil, err
	}
	if err = ValidateName(name); err != nil {
		return nil, volumefs.ErrFileSystemCorrupted.Wrap(err)
	}

	kind, err := dec.field(typeFieldSize)
	if err != nil {
		return nil, err
	}
	rawID, err := dec.field(idFieldSize)
	if err != nil {
		return nil, err
	}
	id, err := parseID(rawID)
	if err != nil {
		return nil, err
	}

	switch volumefs.NodeKind(kind) {
	case volumefs.KindFile:
		payload := make([]byte, filePayloadSize)
		if _, err = io.ReadFull(dec.reader, payload); err != nil {
			return nil, volumefs.ErrFileSystemCorrupted.WithMessage(
				fmt.Sprintf("record for file %q is truncated", name))
		}
		file := &File{
			name:       name,
			id:         id,
			BlockIndex: volumefs.BlockID(binary.LittleEndian.Uint32(payload[0:4])),
			BlockCount: uint(binary.LittleEndian.Uint32(payload[4:8])),
		}
		return &rawRecord{node: file}, nil

	case volumefs.KindFolder:
		rawChildren, err := dec.field(childrenFieldSize)
		if err != nil {
			return nil, err
		}
		children, err := parseChildIDs(rawChildren)
		if err != nil {
			return nil, err
		}
		return &rawRecord{node: &Folder{name: name, id: id}, children: children}, nil

	default:
		return nil, volumefs.ErrFileSystemCorrupted.WithMessage(
			fmt.Sprintf("node %q has unknown type %q", name, kind))
	}
}

// Decode parses a metadata region written by [Encode] and rebuilds the tree
// and allocator for a volume with the given geometry. It verifies that the
// records form a single tree and that no two owners claim the same block.
// Every failure is a [volumefs.ErrFileSystemCorrupted].
func Decode(region []byte, geometry volumefs.VolumeGeometry) (*Tree, *extents.Allocator, error) {
	err := VerifyRegion(region)
	if err != nil {
		return nil, nil, err
	}

	dec := decoder{reader: bytes.NewReader(region[headerSize:])}

	rawExtents, err := dec.field(extentFieldSize)
	if err != nil {
		return nil, nil, err
	}
	freeList, err := parseExtents(rawExtents)
	if err != nil {
		return nil, nil, err
	}

	rawRoot, err := dec.field(rootFieldSize)
	if err != nil {
		return nil, nil, err
	}
	rootChildren, err := parseChildIDs(rawRoot)
	if err != nil {
		return nil, nil, err
	}

	records := map[NodeID]*rawRecord{}
	var order []*rawRecord
	maxID := RootID
	for {
		record, err := dec.record()
		if err != nil {
			return nil, nil, err
		}
		if record == nil {
			break
		}

		id := record.node.ID()
		if id == RootID {
			return nil, nil, volumefs.ErrFileSystemCorrupted.WithMessage(
				fmt.Sprintf("node %q uses the root's ID", record.node.Name()))
		}
		if _, exists := records[id]; exists {
			return nil, nil, volumefs.ErrFileSystemCorrupted.WithMessage(
				fmt.Sprintf("more than one node has ID %d", id))
		}
		records[id] = record
		order = append(order, record)
		if id > maxID {
			maxID = id
		}
	}

	tree := &Tree{root: &Folder{id: RootID}, nextID: maxID + 1}
	err = linkTree(tree, rootChildren, records, order)
	if err != nil {
		return nil, nil, err
	}

	alloc, err := extents.FromExtents(
		geometry.ReservedBlocks(uint(len(region))), geometry.BlockCount, freeList)
	if err != nil {
		return nil, nil, err
	}

	_, err = Check(tree, alloc)
	if err != nil {
		return nil, nil, err
	}
	return tree, alloc, nil
}

// linkTree resolves every folder's child IDs into node references. Each record
// must be referenced exactly once and be reachable from the root.
func linkTree(
	tree *Tree,
	rootChildren []NodeID,
	records map[NodeID]*rawRecord,
	order []*rawRecord,
) error {
	referenced := make(map[NodeID]bool, len(records))

	link := func(parent *Folder, childIDs []NodeID) error {
		for _, id := range childIDs {
			record, ok := records[id]
			if !ok {
				return volumefs.ErrFileSystemCorrupted.WithMessage(
					fmt.Sprintf("folder %q refers to missing node %d", parent.name, id))
			}
			if referenced[id] {
				return volumefs.ErrFileSystemCorrupted.WithMessage(
					fmt.Sprintf("node %d is listed in more than one folder", id))
			}
			referenced[id] = true
			parent.children = append(parent.children, record.node)
		}
		return nil
	}

	err := link(tree.root, rootChildren)
	if err != nil {
		return err
	}
	for _, record := range order {
		if folder, ok := record.node.(*Folder); ok {
			if err = link(folder, record.children); err != nil {
				return err
			}
		}
	}

	reachable := 0
	tree.Walk(func(Node, *Folder) { reachable++ })
	if reachable != len(records) {
		for _, record := range order {
			if !referenced[record.node.ID()] {
				return volumefs.ErrFileSystemCorrupted.WithMessage(
					fmt.Sprintf("node %q (%d) isn't in any folder", record.node.Name(), record.node.ID()))
			}
		}
		return volumefs.ErrFileSystemCorrupted.WithMessage(
			fmt.Sprintf("%d nodes can't be reached from the root", len(records)-reachable))
	}
	return nil
}

func formatID(id NodeID) string {
	return strconv.FormatUint(uint64(id), 10)
}

func parseID(raw string) (NodeID, error) {
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, volumefs.ErrFileSystemCorrupted.WithMessage(
			fmt.Sprintf("bad node ID %q", raw))
	}
	return NodeID(id), nil
}

func joinChildIDs(children []Node) string {
	ids := make([]string, len(children))
	for i, child := range children {
		ids[i] = formatID(child.ID())
	}
	return strings.Join(ids, volumefs.ListSeparator)
}

func parseChildIDs(raw string) ([]NodeID, error) {
	if raw == "" {
		return nil, nil
	}

	parts := strings.Split(raw, volumefs.ListSeparator)
	ids := make([]NodeID, len(parts))
	for i, part := range parts {
		id, err := parseID(part)
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}
	return ids, nil
}

func formatExtents(freeList []volumefs.Extent) string {
	parts := make([]string, len(freeList))
	for i, extent := range freeList {
		parts[i] = fmt.Sprintf("%d:%d", extent.Start, extent.Length)
	}
	return strings.Join(parts, volumefs.ListSeparator)
}

func parseExtents(raw string) ([]volumefs.Extent, error) {
	if raw == "" {
		return nil, nil
	}

	parts := strings.Split(raw, volumefs.ListSeparator)
	freeList := make([]volumefs.Extent, len(parts))
	for i, part := range parts {
		rawStart, rawLength, found := strings.Cut(part, ":")
		start, startErr := strconv.ParseUint(rawStart, 10, 32)
		length, lengthErr := strconv.ParseUint(rawLength, 10, 32)
		if !found || startErr != nil || lengthErr != nil {
			return nil, volumefs.ErrFileSystemCorrupted.WithMessage(
				fmt.Sprintf("bad free extent %q", part))
		}
		freeList[i] = volumefs.Extent{Start: volumefs.BlockID(start), Length: uint(length)}
	}
	return freeList, nil
}
