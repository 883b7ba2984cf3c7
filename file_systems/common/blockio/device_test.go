package blockio_test

import (
	"bytes"
	"testing"

	"github.com/dargueta/volumefs"
	dt "github.com/dargueta/volumefs/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var smallGeometry = volumefs.VolumeGeometry{Name: "small", BlockSize: 128, BlockCount: 16}

func TestDevice__WriteBlocks__PadsLastBlock(t *testing.T) {
	device, backing := dt.NewMemoryDevice(t, smallGeometry)
	copy(backing[3*128:], bytes.Repeat([]byte{0xff}, 256))

	data := bytes.Repeat([]byte{'a'}, 130)
	require.NoError(t, device.WriteBlocks(3, data))

	assert.Equal(t, data, backing[3*128:3*128+130])
	assert.Equal(
		t,
		make([]byte, 126),
		backing[3*128+130:5*128],
		"rest of the last block must be zeroed",
	)
}

func TestDevice__ReadBlocks__Bounds(t *testing.T) {
	device, backing := dt.NewMemoryDevice(t, smallGeometry)
	copy(backing[15*128:], []byte("last block"))

	data, err := device.ReadBlocks(15, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte("last block"), data[:10])

	_, err = device.ReadBlocks(15, 2)
	assert.ErrorIs(t, err, volumefs.ErrInvalidArgument)

	_, err = device.ReadBlocks(16, 1)
	assert.ErrorIs(t, err, volumefs.ErrInvalidArgument)
}

func TestDevice__CopyBlocks(t *testing.T) {
	device, backing := dt.NewMemoryDevice(t, smallGeometry)
	original := dt.CreateRandomImage(128, 3, t)
	copy(backing[2*128:], original)

	require.NoError(t, device.CopyBlocks(10, 3, 2))
	assert.Equal(t, original, backing[10*128:13*128])
	assert.Equal(t, original, backing[2*128:5*128], "source must be untouched")

	err := device.CopyBlocks(14, 3, 2)
	assert.ErrorIs(t, err, volumefs.ErrInvalidArgument)
}

func TestDevice__WriteFromReadTo__RoundTrip(t *testing.T) {
	device, _ := dt.NewMemoryDevice(t, smallGeometry)
	content := []byte("hello, volume\nsecond line\n")

	require.NoError(t, device.WriteFrom(bytes.NewReader(content), 4, int64(len(content))))

	output := bytes.Buffer{}
	n, err := device.ReadTo(&output, 4, 1)
	require.NoError(t, err)
	assert.EqualValues(t, len(content), n)
	assert.Equal(t, content, output.Bytes())
}

func TestDevice__WriteFrom__ShortReader(t *testing.T) {
	device, _ := dt.NewMemoryDevice(t, smallGeometry)
	err := device.WriteFrom(bytes.NewReader([]byte("abc")), 1, 10)
	assert.ErrorIs(t, err, volumefs.ErrIOFailed)
}

func TestDevice__Metadata__RoundTrip(t *testing.T) {
	device, backing := dt.NewMemoryDevice(t, smallGeometry)
	region := dt.CreateRandomImage(100, 1, t)

	require.NoError(t, device.WriteMetadata(region))
	assert.Equal(t, region, backing[:100])

	readBack := make([]byte, 100)
	require.NoError(t, device.ReadMetadata(readBack))
	assert.Equal(t, region, readBack)
}
