package volumefs

import (
	"fmt"
)

// BlockID is the index of a block within a volume image. Block 0 is the first
// block of the image, which always belongs to the metadata region.
type BlockID uint32

// DefaultMetadataRegionSize is the number of bytes reserved at the start of
// every volume image for the serialized directory tree and free list.
const DefaultMetadataRegionSize = 10000

// MaxNameLength is the longest name, in bytes, that a volume, file, or folder
// may have. Names are stored in fixed 20-byte fields on disk.
const MaxNameLength = 20

// VolumeGeometry describes the shape of a volume image.
type VolumeGeometry struct {
	Name       string `csv:"name"`
	BlockSize  uint   `csv:"block_size"`
	BlockCount uint   `csv:"block_count"`
}

// TotalSizeBytes gives the size of the volume image file, in bytes.
func (g VolumeGeometry) TotalSizeBytes() int64 {
	return int64(g.BlockSize) * int64(g.BlockCount)
}

// LengthToNumBlocks gives the minimum number of blocks required to hold the
// given number of bytes.
func (g VolumeGeometry) LengthToNumBlocks(size int64) uint {
	if size <= 0 {
		return 0
	}
	blockSize := int64(g.BlockSize)
	return uint((size + blockSize - 1) / blockSize)
}

// ReservedBlocks gives the number of blocks at the start of the image taken up
// by a metadata region of `regionSize` bytes. These can never be allocated.
func (g VolumeGeometry) ReservedBlocks(regionSize uint) uint {
	return (regionSize + g.BlockSize - 1) / g.BlockSize
}

func (g VolumeGeometry) String() string {
	return fmt.Sprintf("%s (%d blocks of %d B)", g.Name, g.BlockCount, g.BlockSize)
}

// Extent is a contiguous run of free blocks.
type Extent struct {
	Start  BlockID
	Length uint
}

// End returns the index of the first block after the extent.
func (e Extent) End() BlockID {
	return e.Start + BlockID(e.Length)
}

// BlockCopyFunc duplicates `blockCount` blocks of a volume's data region,
// starting at `originBlockIndex`, into the blocks starting at `newBlockIndex`.
// It's how the directory tree asks the byte-copy layer to move file contents
// without knowing anything about how the bytes are stored.
type BlockCopyFunc func(newBlockIndex BlockID, blockCount uint, originBlockIndex BlockID) error

// MetadataStore reads and writes the metadata region of a volume image. The
// buffers passed in are always exactly the size of the region.
type MetadataStore interface {
	ReadMetadata(buffer []byte) error
	WriteMetadata(buffer []byte) error
}
