// Package blockio provides block-addressed access to a volume image stream.
//
// It's the only code that moves file contents in and out of a volume. The
// directory tree decides which blocks a file occupies; this package reads and
// writes those blocks without knowing anything about the tree.
package blockio

import (
	"bytes"
	"fmt"
	"io"

	"github.com/dargueta/volumefs"
)

// Device is an abstraction layer around a stream to make it look like a block
// device, e.g. a file that can only be addressed in multiples of its
// fundamental unit, a "block".
//
// The exposed fields are for informational purposes only and should never be
// changed.
type Device struct {
	// BlockSize gives the size of a block on this device, in bytes.
	BlockSize uint
	// TotalBlocks is the total number of blocks in the stream.
	TotalBlocks uint
	stream      io.ReadWriteSeeker
}

func New(stream io.ReadWriteSeeker, blockSize, totalBlocks uint) *Device {
	return &Device{
		BlockSize:   blockSize,
		TotalBlocks: totalBlocks,
		stream:      stream,
	}
}

// NewFromGeometry creates a device sized according to a volume's geometry.
func NewFromGeometry(stream io.ReadWriteSeeker, geometry volumefs.VolumeGeometry) *Device {
	return New(stream, geometry.BlockSize, geometry.BlockCount)
}

// BlockIDToFileOffset converts a block ID into a byte offset into the backing
// stream.
func (device *Device) BlockIDToFileOffset(blockID volumefs.BlockID) (int64, error) {
	if uint(blockID) >= device.TotalBlocks {
		return -1,
			volumefs.ErrInvalidArgument.WithMessage(
				fmt.Sprintf(
					"invalid block ID %d: not in range [0, %d)",
					blockID,
					device.TotalBlocks,
				),
			)
	}
	return int64(blockID) * int64(device.BlockSize), nil
}

// CheckIOBounds verifies that `count` blocks starting at `blockID` are all
// inside the device.
func (device *Device) CheckIOBounds(blockID volumefs.BlockID, count uint) error {
	if uint64(blockID)+uint64(count) > uint64(device.TotalBlocks) {
		return volumefs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf(
				"block %d plus %d blocks of data extends past end of image (%d blocks)",
				blockID,
				count,
				device.TotalBlocks,
			),
		)
	}
	return nil
}

func (device *Device) seekToBlock(blockID volumefs.BlockID) error {
	offset, err := device.BlockIDToFileOffset(blockID)
	if err != nil {
		return err
	}
	_, err = device.stream.Seek(offset, io.SeekStart)
	if err != nil {
		return volumefs.ErrIOFailed.Wrap(err)
	}
	return nil
}

// ReadBlocks returns the contents of `count` blocks starting at `blockID`.
func (device *Device) ReadBlocks(blockID volumefs.BlockID, count uint) ([]byte, error) {
	err := device.CheckIOBounds(blockID, count)
	if err != nil {
		return nil, err
	}

	buffer := make([]byte, count*device.BlockSize)
	if count == 0 {
		return buffer, nil
	}

	err = device.seekToBlock(blockID)
	if err != nil {
		return nil, err
	}

	_, err = io.ReadFull(device.stream, buffer)
	if err != nil {
		return nil, volumefs.ErrIOFailed.Wrap(err)
	}
	return buffer, nil
}

// WriteBlocks writes `data` beginning at block `blockID`. If `data` isn't a
// multiple of the block size, the rest of the final block is zeroed.
func (device *Device) WriteBlocks(blockID volumefs.BlockID, data []byte) error {
	numBlocks := device.lengthToNumBlocks(uint(len(data)))
	err := device.CheckIOBounds(blockID, numBlocks)
	if err != nil {
		return err
	}
	if numBlocks == 0 {
		return nil
	}

	err = device.seekToBlock(blockID)
	if err != nil {
		return err
	}

	padded := data
	if remainder := uint(len(data)) % device.BlockSize; remainder != 0 {
		padded = make([]byte, numBlocks*device.BlockSize)
		copy(padded, data)
	}

	_, err = device.stream.Write(padded)
	if err != nil {
		return volumefs.ErrIOFailed.Wrap(err)
	}
	return nil
}

// CopyBlocks duplicates `count` blocks starting at `source` into the blocks
// starting at `destination`. It matches [volumefs.BlockCopyFunc].
func (device *Device) CopyBlocks(
	destination volumefs.BlockID, count uint, source volumefs.BlockID,
) error {
	err := device.CheckIOBounds(destination, count)
	if err != nil {
		return err
	}

	data, err := device.ReadBlocks(source, count)
	if err != nil {
		return err
	}
	return device.WriteBlocks(destination, data)
}

// WriteFrom copies exactly `size` bytes from `reader` into the device,
// beginning at block `blockID`.
func (device *Device) WriteFrom(reader io.Reader, blockID volumefs.BlockID, size int64) error {
	data := make([]byte, size)
	_, err := io.ReadFull(reader, data)
	if err != nil {
		return volumefs.ErrIOFailed.Wrap(err)
	}
	return device.WriteBlocks(blockID, data)
}

// ReadTo copies `count` blocks starting at `blockID` into `writer`. Trailing
// null bytes in the last block are dropped, since the device only knows about
// whole blocks and file lengths aren't recorded anywhere.
func (device *Device) ReadTo(writer io.Writer, blockID volumefs.BlockID, count uint) (int64, error) {
	data, err := device.ReadBlocks(blockID, count)
	if err != nil {
		return 0, err
	}

	data = bytes.TrimRight(data, "\x00")
	n, err := writer.Write(data)
	if err != nil {
		return int64(n), volumefs.ErrIOFailed.Wrap(err)
	}
	return int64(n), nil
}

// ReadMetadata fills `buffer` from the start of the image.
func (device *Device) ReadMetadata(buffer []byte) error {
	_, err := device.stream.Seek(0, io.SeekStart)
	if err != nil {
		return volumefs.ErrIOFailed.Wrap(err)
	}
	_, err = io.ReadFull(device.stream, buffer)
	if err != nil {
		return volumefs.ErrIOFailed.Wrap(err)
	}
	return nil
}

// WriteMetadata overwrites the start of the image with `buffer`. This is a
// single plain write with no protection against being interrupted halfway.
func (device *Device) WriteMetadata(buffer []byte) error {
	_, err := device.stream.Seek(0, io.SeekStart)
	if err != nil {
		return volumefs.ErrIOFailed.Wrap(err)
	}
	_, err = device.stream.Write(buffer)
	if err != nil {
		return volumefs.ErrIOFailed.Wrap(err)
	}
	return nil
}

func (device *Device) lengthToNumBlocks(size uint) uint {
	return (size + device.BlockSize - 1) / device.BlockSize
}
