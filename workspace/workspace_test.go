package workspace_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/dargueta/volumefs"
	"github.com/dargueta/volumefs/config"
	"github.com/dargueta/volumefs/disks"
	"github.com/dargueta/volumefs/file_systems/common/blockio"
	"github.com/dargueta/volumefs/file_systems/volfs"
	dt "github.com/dargueta/volumefs/testing"
	"github.com/dargueta/volumefs/workspace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var geometryA = volumefs.VolumeGeometry{Name: "A", BlockSize: 512, BlockCount: 500}

func testConfig(t *testing.T) config.Config {
	dir := t.TempDir()
	return config.Config{
		Workspace:          dir,
		RegistrySlots:      8,
		MetadataRegionSize: volumefs.DefaultMetadataRegionSize,
		MinBlockSize:       32,
		MinBlockCount:      500,
		LogLevel:           "debug",
		HistoryFile:        filepath.Join(dir, config.HistoryFileName),
	}
}

func openWorkspace(t *testing.T, cfg config.Config) *workspace.Workspace {
	ws, err := workspace.Open(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func TestWorkspace__ScenarioA(t *testing.T) {
	cfg := testConfig(t)
	ws := openWorkspace(t, cfg)

	entry, err := ws.CreateVolume(geometryA)
	require.NoError(t, err)
	assert.Equal(t, disks.Entry{Geometry: geometryA, Slot: 0}, entry)

	raw, err := os.ReadFile(cfg.RegistryPath())
	require.NoError(t, err)
	stored, err := disks.DecodeSlot(raw[:disks.SlotSize])
	require.NoError(t, err)
	assert.Equal(t, geometryA, stored)

	volume, err := ws.Enter("A")
	require.NoError(t, err)
	_, err = volume.InsertFolder("docs")
	require.NoError(t, err)
	assert.Len(t, volume.Root().Children(), 1)
	assert.Equal(t, volumefs.KindFolder, volume.Root().Children()[0].Kind())

	require.NoError(t, volume.NavigateTo("docs"))
	content := bytes.Repeat([]byte("x"), 1100)
	file, err := ws.CreateFile("note.txt", content)
	require.NoError(t, err)
	assert.EqualValues(t, 3, file.BlockCount)
	assert.EqualValues(t, 20, file.BlockIndex)

	data, err := ws.ReadFile("note.txt")
	require.NoError(t, err)
	assert.Equal(t, content, data)
}

func TestWorkspace__CreateVolumeValidation(t *testing.T) {
	ws := openWorkspace(t, testConfig(t))

	_, err := ws.CreateVolume(volumefs.VolumeGeometry{Name: "small", BlockSize: 512, BlockCount: 10})
	assert.ErrorIs(t, err, volumefs.ErrInvalidArgument)

	_, err = ws.CreateVolume(geometryA)
	require.NoError(t, err)
	_, err = ws.CreateVolume(geometryA)
	assert.ErrorIs(t, err, volumefs.ErrExists)
}

func TestWorkspace__CreateVolumeUndoesRegistration(t *testing.T) {
	cfg := testConfig(t)
	ws := openWorkspace(t, cfg)

	// A stray image file makes image creation fail.
	require.NoError(t, os.WriteFile(ws.ImagePath("A"), []byte("stray"), 0o644))

	_, err := ws.CreateVolume(geometryA)
	assert.ErrorIs(t, err, volumefs.ErrExists)
	_, err = ws.Lookup("A")
	assert.ErrorIs(t, err, volumefs.ErrNotFound, "failed creation must not stay registered")
}

func TestWorkspace__RemoveVolume(t *testing.T) {
	ws := openWorkspace(t, testConfig(t))
	_, err := ws.CreateVolume(geometryA)
	require.NoError(t, err)
	_, err = ws.Enter("A")
	require.NoError(t, err)

	require.NoError(t, ws.RemoveVolume("A"))
	assert.Equal(t, "", ws.ActiveName())
	assert.NoFileExists(t, ws.ImagePath("A"))
	assert.Empty(t, ws.ListVolumes())

	_, err = ws.Active()
	assert.ErrorIs(t, err, volumefs.ErrNoDevice)
	assert.ErrorIs(t, ws.RemoveVolume("A"), volumefs.ErrNotFound)
}

func TestWorkspace__NoVolumeEntered(t *testing.T) {
	ws := openWorkspace(t, testConfig(t))

	_, err := ws.CreateFile("x", []byte("x"))
	assert.ErrorIs(t, err, volumefs.ErrNoDevice)
	_, err = ws.ReadFile("x")
	assert.ErrorIs(t, err, volumefs.ErrNoDevice)
	assert.ErrorIs(t, ws.Copy("a", "b"), volumefs.ErrNoDevice)
	assert.NoError(t, ws.Leave())

	_, err = ws.Enter("missing")
	assert.ErrorIs(t, err, volumefs.ErrNotFound)
}

func TestWorkspace__EnterReplacesSessionAndPersists(t *testing.T) {
	ws := openWorkspace(t, testConfig(t))
	for _, name := range []string{"A", "B"} {
		geometry := geometryA
		geometry.Name = name
		_, err := ws.CreateVolume(geometry)
		require.NoError(t, err)
	}

	volume, err := ws.Enter("A")
	require.NoError(t, err)
	_, err = volume.InsertFolder("only-in-a")
	require.NoError(t, err)

	volume, err = ws.Enter("B")
	require.NoError(t, err)
	assert.Equal(t, "B", ws.ActiveName())
	assert.Empty(t, volume.Root().Children())

	volume, err = ws.Enter("A")
	require.NoError(t, err)
	_, err = volume.GetNode("only-in-a")
	assert.NoError(t, err)
}

func TestWorkspace__ImportExport(t *testing.T) {
	ws := openWorkspace(t, testConfig(t))
	_, err := ws.CreateVolume(geometryA)
	require.NoError(t, err)
	_, err = ws.Enter("A")
	require.NoError(t, err)

	hostDir := t.TempDir()
	source := filepath.Join(hostDir, "input.bin")
	content := bytes.Repeat([]byte("abcdefg"), 300)
	require.NoError(t, os.WriteFile(source, content, 0o644))

	file, err := ws.ImportFile(source, "")
	require.NoError(t, err)
	assert.Equal(t, "input.bin", file.Name())
	assert.EqualValues(t, 5, file.BlockCount)

	destination := filepath.Join(hostDir, "output.bin")
	written, err := ws.ExportFile("input.bin", destination)
	require.NoError(t, err)
	assert.EqualValues(t, len(content), written)

	exported, err := os.ReadFile(destination)
	require.NoError(t, err)
	assert.Equal(t, content, exported)

	_, err = ws.ImportFile(filepath.Join(hostDir, "nope"), "")
	assert.ErrorIs(t, err, volumefs.ErrNotFound)
	_, err = ws.ImportFile(hostDir, "dir")
	assert.ErrorIs(t, err, volumefs.ErrIsADirectory)
	_, err = ws.ImportFile(source, "")
	assert.ErrorIs(t, err, volumefs.ErrExists)
}

func TestWorkspace__CopyDuplicatesContents(t *testing.T) {
	ws := openWorkspace(t, testConfig(t))
	_, err := ws.CreateVolume(geometryA)
	require.NoError(t, err)
	volume, err := ws.Enter("A")
	require.NoError(t, err)

	_, err = volume.InsertFolder("docs2")
	require.NoError(t, err)
	_, err = ws.CreateFile("note.txt", []byte("original"))
	require.NoError(t, err)

	require.NoError(t, ws.Copy("note.txt", "docs2/note.txt"))
	data, err := ws.ReadFile("docs2/note.txt")
	require.NoError(t, err)
	assert.Equal(t, "original", string(data))
}

func TestWorkspace__EmptyFileOwnsNoBlocks(t *testing.T) {
	ws := openWorkspace(t, testConfig(t))
	_, err := ws.CreateVolume(geometryA)
	require.NoError(t, err)
	volume, err := ws.Enter("A")
	require.NoError(t, err)

	file, err := ws.CreateFile("empty", nil)
	require.NoError(t, err)
	assert.EqualValues(t, 0, file.BlockCount)
	assert.EqualValues(t, 0, file.BlockIndex)
	assert.Equal(t, []volumefs.Extent{{Start: 20, Length: 480}}, volume.FreeExtents())

	data, err := ws.ReadFile("empty")
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestWorkspace__TypeVolume(t *testing.T) {
	ws := openWorkspace(t, testConfig(t))
	_, err := ws.CreateVolume(geometryA)
	require.NoError(t, err)

	files, err := ws.TypeVolume("A")
	require.NoError(t, err)
	assert.Empty(t, files)

	volume, err := ws.Enter("A")
	require.NoError(t, err)
	_, err = volume.InsertFolder("docs")
	require.NoError(t, err)
	_, err = ws.CreateFile("top.txt", []byte("top\n"))
	require.NoError(t, err)
	require.NoError(t, volume.NavigateTo("docs"))
	_, err = ws.CreateFile("note.txt", []byte("hello"))
	require.NoError(t, err)
	_, err = ws.CreateFile("empty", nil)
	require.NoError(t, err)

	check := func(files []workspace.VolumeFile) {
		require.Len(t, files, 3)
		assert.Equal(t, "~/docs/note.txt", files[0].Path)
		assert.Equal(t, "hello", string(files[0].Content))
		assert.Equal(t, "~/docs/empty", files[1].Path)
		assert.Empty(t, files[1].Content)
		assert.Equal(t, "~/top.txt", files[2].Path)
		assert.Equal(t, "top\n", string(files[2].Content))
	}

	files, err = ws.TypeVolume("A")
	require.NoError(t, err)
	check(files)
	assert.Equal(t, "~/docs", volume.WorkingPath(), "reading must not move the working folder")

	require.NoError(t, ws.Leave())
	files, err = ws.TypeVolume("A")
	require.NoError(t, err)
	check(files)
	assert.Empty(t, ws.ActiveName(), "reading a volume must not enter it")

	_, err = ws.TypeVolume("missing")
	assert.ErrorIs(t, err, volumefs.ErrNotFound)
}

func TestWorkspace__SnapshotRestore(t *testing.T) {
	ws := openWorkspace(t, testConfig(t))
	_, err := ws.CreateVolume(geometryA)
	require.NoError(t, err)
	volume, err := ws.Enter("A")
	require.NoError(t, err)
	_, err = volume.InsertFolder("keep")
	require.NoError(t, err)
	require.NoError(t, volume.NavigateTo("keep"))

	var snapshot bytes.Buffer
	written, err := ws.Snapshot("A", &snapshot)
	require.NoError(t, err)
	assert.EqualValues(t, snapshot.Len(), written)
	assert.Less(t, snapshot.Len(), int(geometryA.TotalSizeBytes()))

	_, err = volume.InsertFolder("discard")
	require.NoError(t, err)

	require.NoError(t, ws.Restore("A", bytes.NewReader(snapshot.Bytes())))
	restored, err := ws.Active()
	require.NoError(t, err)
	assert.Equal(t, "~/keep", restored.WorkingPath())
	children, err := restored.List("")
	require.NoError(t, err)
	assert.Empty(t, children, "changes after the snapshot must be gone")

	geometryB := geometryA
	geometryB.Name = "B"
	geometryB.BlockCount = 600
	_, err = ws.CreateVolume(geometryB)
	require.NoError(t, err)
	err = ws.Restore("B", bytes.NewReader(snapshot.Bytes()))
	assert.ErrorIs(t, err, volumefs.ErrInvalidArgument, "geometry mismatch")

	err = ws.Restore("A", bytes.NewReader([]byte("not a snapshot")))
	assert.ErrorIs(t, err, volumefs.ErrInvalidArgument)
}

func TestWorkspace__SnapshotOpensInMemory(t *testing.T) {
	ws := openWorkspace(t, testConfig(t))
	_, err := ws.CreateVolume(geometryA)
	require.NoError(t, err)
	_, err = ws.Enter("A")
	require.NoError(t, err)
	_, err = ws.CreateFile("note.txt", []byte("kept in the snapshot"))
	require.NoError(t, err)

	var snapshot bytes.Buffer
	_, err = ws.Snapshot("A", &snapshot)
	require.NoError(t, err)

	stream := dt.LoadCompressedImage(t, snapshot.Bytes(), geometryA.BlockSize, geometryA.BlockCount)
	device := blockio.NewFromGeometry(stream, geometryA)
	volume, err := volfs.Open(geometryA, device, volumefs.DefaultMetadataRegionSize, zaptest.NewLogger(t))
	require.NoError(t, err)

	file, err := volume.GetFile("note.txt")
	require.NoError(t, err)
	var content bytes.Buffer
	_, err = device.ReadTo(&content, file.BlockIndex, file.BlockCount)
	require.NoError(t, err)
	assert.Equal(t, "kept in the snapshot", content.String())
}

func TestWorkspace__FormatVolume(t *testing.T) {
	ws := openWorkspace(t, testConfig(t))
	_, err := ws.CreateVolume(geometryA)
	require.NoError(t, err)
	volume, err := ws.Enter("A")
	require.NoError(t, err)
	_, err = volume.InsertFolder("docs")
	require.NoError(t, err)

	require.NoError(t, ws.FormatVolume("A"))
	assert.Empty(t, volume.Root().Children())

	_, err = volume.InsertFolder("again")
	require.NoError(t, err)
	require.NoError(t, ws.Leave())
	require.NoError(t, ws.FormatVolume("A"))

	volume, err = ws.Enter("A")
	require.NoError(t, err)
	assert.Empty(t, volume.Root().Children())
}

func TestWorkspace__SynchronizeLeavesVolumeRemovedElsewhere(t *testing.T) {
	cfg := testConfig(t)
	ws := openWorkspace(t, cfg)
	_, err := ws.CreateVolume(geometryA)
	require.NoError(t, err)
	_, err = ws.Enter("A")
	require.NoError(t, err)

	other, err := workspace.Open(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, other.RemoveVolume("A"))
	require.NoError(t, other.Close())

	require.NoError(t, ws.Synchronize())
	assert.Equal(t, "", ws.ActiveName())
	assert.Empty(t, ws.ListVolumes())
}
