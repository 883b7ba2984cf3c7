// Package testing provides helpers for tests that need volume images without
// touching the host file system.
package testing

import (
	"bytes"
	"crypto/rand"
	"io"
	"testing"

	"github.com/dargueta/volumefs"
	"github.com/dargueta/volumefs/file_systems/common/blockio"
	"github.com/dargueta/volumefs/utilities/compression"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/bytesextra"
)

// CreateRandomImage returns an image with the given number of blocks and bytes
// per block, filled with random bytes. It is guaranteed to either return a
// valid slice or fail the test and abort.
func CreateRandomImage(bytesPerBlock, totalBlocks uint, t *testing.T) []byte {
	backingData := make([]byte, bytesPerBlock*totalBlocks)

	_, err := rand.Read(backingData)
	require.NoErrorf(
		t,
		err,
		"failed to initialize %d blocks of size %d with random bytes",
		totalBlocks,
		bytesPerBlock,
	)
	return backingData
}

// NewMemoryDevice creates a zero-filled in-memory image for `geometry` and a
// block device on top of it. The returned slice is the live backing storage,
// so tests can inspect exactly what was written.
//
// Writes past the end of the image fail; the image can't grow.
func NewMemoryDevice(
	t *testing.T, geometry volumefs.VolumeGeometry,
) (*blockio.Device, []byte) {
	backingData := make([]byte, geometry.TotalSizeBytes())
	require.NotEmpty(t, backingData, "geometry %s has no bytes", geometry)

	stream := bytesextra.NewReadWriteSeeker(backingData)
	return blockio.NewFromGeometry(stream, geometry), backingData
}

// LoadCompressedImage takes an image snapshot (RLE8 + gzip) and returns a
// stream to access the uncompressed data.
//
//   - Writes to the stream do not affect `compressedImageBytes`.
//   - While the stream can be written to, its size is fixed to
//     `blockSize * totalBlocks`.
func LoadCompressedImage(
	t *testing.T, compressedImageBytes []byte, blockSize, totalBlocks uint,
) io.ReadWriteSeeker {
	require.Greater(t, len(compressedImageBytes), 0, "compressed image is empty")

	imageBytes, err := compression.DecompressImageToBytes(
		bytes.NewReader(compressedImageBytes))
	require.NoError(t, err)

	require.Equal(
		t,
		totalBlocks*blockSize,
		uint(len(imageBytes)),
		"uncompressed image is wrong size",
	)
	return bytesextra.NewReadWriteSeeker(imageBytes)
}

// CountingStore wraps a [volumefs.MetadataStore] and counts the writes that go
// through it. Setting FailWrites makes every write fail without reaching the
// wrapped store.
type CountingStore struct {
	volumefs.MetadataStore
	Writes     int
	FailWrites bool
}

func (store *CountingStore) WriteMetadata(buffer []byte) error {
	if store.FailWrites {
		return volumefs.ErrIOFailed.WithMessage("injected write failure")
	}
	store.Writes++
	return store.MetadataStore.WriteMetadata(buffer)
}
