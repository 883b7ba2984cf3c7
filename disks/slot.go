package disks

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/dargueta/volumefs"
	"github.com/noxer/bytewriter"
)

// A registry slot is a fixed-size record with the volume's name, block count,
// and block size as null-padded text, followed by reserved bytes. A slot that's
// entirely null bytes is free.
const (
	SlotSize          = 64
	slotNameSize      = volumefs.MaxNameLength
	slotNumberSize    = 20
	slotReservedBytes = SlotSize - slotNameSize - 2*slotNumberSize
)

// EncodeSlot serializes a geometry into a registry slot.
func EncodeSlot(geometry volumefs.VolumeGeometry) ([]byte, error) {
	if geometry.Name == "" || len(geometry.Name) > slotNameSize {
		return nil, volumefs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("volume name %q must be 1-%d bytes", geometry.Name, slotNameSize))
	}
	if geometry.BlockCount == 0 || geometry.BlockSize == 0 ||
		uint64(geometry.BlockCount) > MaxGeometryValue || uint64(geometry.BlockSize) > MaxGeometryValue {
		return nil, volumefs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf(
				"volume %q can't be stored with %d blocks of %d bytes",
				geometry.Name,
				geometry.BlockCount,
				geometry.BlockSize,
			),
		)
	}

	slot := make([]byte, SlotSize)
	writer := bytewriter.New(slot)
	for _, field := range []struct {
		value string
		width int
	}{
		{geometry.Name, slotNameSize},
		{strconv.FormatUint(uint64(geometry.BlockCount), 10), slotNumberSize},
		{strconv.FormatUint(uint64(geometry.BlockSize), 10), slotNumberSize},
	} {
		padded := make([]byte, field.width)
		copy(padded, field.value)
		if _, err := writer.Write(padded); err != nil {
			return nil, volumefs.ErrIOFailed.Wrap(err)
		}
	}
	return slot, nil
}

// DecodeSlot parses a registry slot. The slot must not be free.
func DecodeSlot(slot []byte) (volumefs.VolumeGeometry, error) {
	if len(slot) != SlotSize {
		return volumefs.VolumeGeometry{}, volumefs.ErrFileSystemCorrupted.WithMessage(
			fmt.Sprintf("registry slot is %d bytes, expected %d", len(slot), SlotSize))
	}

	field := func(offset, width int) string {
		return string(bytes.TrimRight(slot[offset:offset+width], "\x00"))
	}
	name := field(0, slotNameSize)
	rawCount := field(slotNameSize, slotNumberSize)
	rawSize := field(slotNameSize+slotNumberSize, slotNumberSize)

	if name == "" {
		return volumefs.VolumeGeometry{}, volumefs.ErrFileSystemCorrupted.WithMessage(
			"registry slot has no volume name")
	}
	blockCount, countErr := strconv.ParseUint(rawCount, 10, 32)
	blockSize, sizeErr := strconv.ParseUint(rawSize, 10, 32)
	if countErr != nil || sizeErr != nil || blockCount == 0 || blockSize == 0 {
		return volumefs.VolumeGeometry{}, volumefs.ErrFileSystemCorrupted.WithMessage(
			fmt.Sprintf(
				"registry slot for %q has bad geometry: %q blocks of %q bytes",
				name,
				rawCount,
				rawSize,
			),
		)
	}

	return volumefs.VolumeGeometry{
		Name:       name,
		BlockSize:  uint(blockSize),
		BlockCount: uint(blockCount),
	}, nil
}

// IsFreeSlot returns true if every byte of the slot is zero.
func IsFreeSlot(slot []byte) bool {
	for _, b := range slot {
		if b != 0 {
			return false
		}
	}
	return true
}
