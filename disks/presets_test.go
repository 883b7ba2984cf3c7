package disks

import (
	"testing"

	"github.com/dargueta/volumefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPresets__EmbeddedTableLoads(t *testing.T) {
	presets := Presets()
	require.NotEmpty(t, presets)

	for i := 1; i < len(presets); i++ {
		prev := uint64(presets[i-1].BlockSize) * uint64(presets[i-1].BlockCount)
		cur := uint64(presets[i].BlockSize) * uint64(presets[i].BlockCount)
		assert.LessOrEqual(t, prev, cur, "presets aren't sorted by size")
	}

	for _, preset := range presets {
		err := DefaultLimits.Validate(preset.Geometry("check"))
		assert.NoErrorf(t, err, "preset %q is below the default limits", preset.Slug)
	}
}

func TestParsePresets__BareQuotesInNotes(t *testing.T) {
	presets, err := parsePresets(
		"slug|block_size|block_count|notes\nfloppy|512|720|5.25\" double density floppy\n")
	require.NoError(t, err)
	assert.Equal(t, `5.25" double density floppy`, presets["floppy"].Notes)

	preset, err := GetPreset("floppy-360k")
	require.NoError(t, err)
	assert.Equal(t, `5.25" double density floppy`, preset.Notes)
}

func TestGetPreset(t *testing.T) {
	preset, err := GetPreset("floppy-1440k")
	require.NoError(t, err)
	assert.Equal(
		t,
		volumefs.VolumeGeometry{Name: "f", BlockSize: 512, BlockCount: 2880},
		preset.Geometry("f"),
	)

	_, err = GetPreset("punch-card")
	assert.ErrorIs(t, err, volumefs.ErrNotFound)
}

func TestParsePresets__Errors(t *testing.T) {
	_, err := parsePresets("slug|block_size|block_count|notes\na|1|1|\na|2|2|\n")
	assert.Error(t, err, "duplicate slug")

	_, err = parsePresets("slug|block_size|block_count|notes\na|0|1|\n")
	assert.Error(t, err, "zero block size")

	_, err = parsePresets("slug|block_size|block_count|notes\na|big|1|\n")
	assert.Error(t, err, "not a number")
}

func TestLimits__Validate(t *testing.T) {
	limits := Limits{MinBlockSize: 32, MinBlockCount: 500}

	assert.NoError(t, limits.Validate(volumefs.VolumeGeometry{Name: "A", BlockSize: 512, BlockCount: 500}))
	assert.ErrorIs(
		t,
		limits.Validate(volumefs.VolumeGeometry{Name: "A", BlockSize: 16, BlockCount: 500}),
		volumefs.ErrInvalidArgument,
	)
	assert.ErrorIs(
		t,
		limits.Validate(volumefs.VolumeGeometry{Name: "A", BlockSize: 512, BlockCount: 499}),
		volumefs.ErrInvalidArgument,
	)
	assert.ErrorIs(
		t,
		limits.Validate(volumefs.VolumeGeometry{Name: "a/b", BlockSize: 512, BlockCount: 500}),
		volumefs.ErrInvalidArgument,
	)
}

func TestLimits__Validate__UpperBound(t *testing.T) {
	limits := Limits{MinBlockSize: 32, MinBlockCount: 500}
	tooBig := uint(MaxGeometryValue)
	tooBig++

	assert.NoError(
		t,
		limits.Validate(volumefs.VolumeGeometry{Name: "A", BlockSize: 512, BlockCount: MaxGeometryValue}),
	)
	assert.ErrorIs(
		t,
		limits.Validate(volumefs.VolumeGeometry{Name: "A", BlockSize: 512, BlockCount: tooBig}),
		volumefs.ErrInvalidArgument,
	)
	assert.ErrorIs(
		t,
		limits.Validate(volumefs.VolumeGeometry{Name: "A", BlockSize: tooBig, BlockCount: 500}),
		volumefs.ErrInvalidArgument,
	)
}
