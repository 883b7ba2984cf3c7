package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dargueta/volumefs"
	"github.com/dargueta/volumefs/config"
	"github.com/dargueta/volumefs/workspace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestShell(t *testing.T, script string) (*Shell, *workspace.Workspace, *bytes.Buffer) {
	dir := t.TempDir()
	cfg := config.Config{
		Workspace:          dir,
		RegistrySlots:      4,
		MetadataRegionSize: volumefs.DefaultMetadataRegionSize,
		MinBlockSize:       32,
		MinBlockCount:      500,
		LogLevel:           "debug",
		HistoryFile:        filepath.Join(dir, config.HistoryFileName),
	}
	logger := zaptest.NewLogger(t)
	ws, err := workspace.Open(cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })

	out := &bytes.Buffer{}
	return NewShell(ws, newScriptReader(strings.NewReader(script)), out, logger), ws, out
}

func TestShell__Script(t *testing.T) {
	script := strings.Join([]string{
		"createdisk A 512 500",
		"enterdisk A",
		"createdir docs",
		"cd docs",
		"createfile note.txt",
		"hello",
		"world",
		"EOF",
		"pwd",
		"cat note.txt",
		"cd ..",
		"dir docs",
		"stat",
		"fsck",
	}, "\n")
	shell, ws, out := newTestShell(t, script)
	require.NoError(t, shell.Run())

	output := out.String()
	assert.NotContains(t, output, "error:")
	assert.Contains(t, output, "created A (500 blocks of 512 B) in slot 0")
	assert.Contains(t, output, "wrote 12 bytes to 1 blocks")
	assert.Contains(t, output, "A:~/docs\n")
	assert.Contains(t, output, "hello\nworld\n")
	assert.Contains(t, output, "note.txt")
	assert.Contains(t, output, "A is consistent: 1 folders, 1 files, 0 leaked blocks")

	volume, err := ws.Active()
	require.NoError(t, err)
	assert.Equal(t, "~", volume.WorkingPath())
}

func TestShell__ErrorsDontStopScript(t *testing.T) {
	script := strings.Join([]string{
		"cd docs",
		"bogus",
		"createdisk A 512 10",
		"createdisk A 512 500",
		"enterdisk A",
		"remove missing",
		"createdir \"two words\"",
	}, "\n")
	shell, ws, out := newTestShell(t, script)
	require.NoError(t, shell.Run())

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 5)
	assert.True(t, strings.HasPrefix(lines[0], "error: "), "no volume entered")
	assert.Contains(t, lines[1], "unknown command")
	assert.Contains(t, lines[2], "at least 500 blocks")
	assert.Contains(t, lines[3], "created A")
	assert.Contains(t, lines[4], "error: ")

	volume, err := ws.Active()
	require.NoError(t, err)
	_, err = volume.GetNode("two words")
	assert.NoError(t, err, "quoted names should be one argument")
}

func TestShell__CreateFileConsumesContentOnFailure(t *testing.T) {
	script := strings.Join([]string{
		"createfile note.txt",
		"createdisk B 512 500",
		"EOF",
	}, "\n")
	shell, ws, out := newTestShell(t, script)
	require.NoError(t, shell.Run())

	assert.Contains(t, out.String(), "error: ")
	assert.Empty(t, ws.ListVolumes(), "content lines must not run as commands")
}

func TestShell__CreateFileConsumesContentOnUsageError(t *testing.T) {
	script := strings.Join([]string{
		"createfile a b",
		"createdisk B 512 500",
		"EOF",
		"lsdisk",
	}, "\n")
	shell, ws, out := newTestShell(t, script)
	require.NoError(t, shell.Run())

	output := out.String()
	assert.Equal(t, 1, strings.Count(output, "error: "))
	assert.Contains(t, output, "usage: createfile NAME")
	assert.Contains(t, output, "no volumes registered")
	assert.Empty(t, ws.ListVolumes(), "content lines must not run as commands")
}

func TestShell__TypeDisk(t *testing.T) {
	script := strings.Join([]string{
		"createdisk A 512 500",
		"typedisk A",
		"enterdisk A",
		"createdir docs",
		"cd docs",
		"createfile note.txt",
		"hello",
		"EOF",
		"cd ..",
		"createfile flat.txt",
		"EOF",
		"exitdisk",
		"typedisk A",
		"typedisk missing",
	}, "\n")
	shell, _, out := newTestShell(t, script)
	require.NoError(t, shell.Run())

	output := out.String()
	assert.Contains(t, output, "volume A has no files\n")
	assert.Contains(t, output, "==> ~/docs/note.txt <==\nhello\n==> ~/flat.txt <==\n")
	assert.Equal(t, 1, strings.Count(output, "error: "), "only the missing volume fails")
}

func TestShell__HelpMentionsExportTrimming(t *testing.T) {
	shell, _, out := newTestShell(t, "")
	_, err := shell.Execute("help")
	require.NoError(t, err)
	assert.Contains(t, out.String(), "dropping trailing NUL bytes")
	assert.Contains(t, out.String(), "typedisk NAME")
}

func TestShell__CreateFileEndOfInput(t *testing.T) {
	shell, ws, _ := newTestShell(t, "createdisk A 512 500\nenterdisk A\ncreatefile tail\nlast line")
	require.NoError(t, shell.Run())

	content, err := ws.ReadFile("tail")
	require.NoError(t, err)
	assert.Equal(t, "last line\n", string(content))
}

func TestShell__Execute(t *testing.T) {
	shell, ws, out := newTestShell(t, "")

	quit, err := shell.Execute("   ")
	assert.False(t, quit)
	assert.NoError(t, err)

	quit, err = shell.Execute("# comment")
	assert.False(t, quit)
	assert.NoError(t, err)

	_, err = shell.Execute("rename onlyone")
	assert.ErrorIs(t, err, volumefs.ErrInvalidArgument)

	_, err = shell.Execute("createdir \"unterminated")
	assert.ErrorIs(t, err, volumefs.ErrInvalidArgument)

	_, err = shell.Execute("createdisk P floppy-1440k")
	require.NoError(t, err)
	entry, err := ws.Lookup("P")
	require.NoError(t, err)
	assert.EqualValues(t, 512, entry.Geometry.BlockSize)
	assert.EqualValues(t, 2880, entry.Geometry.BlockCount)

	_, err = shell.Execute("exitdisk")
	assert.ErrorIs(t, err, volumefs.ErrNoDevice)

	out.Reset()
	_, err = shell.Execute("lsdisk")
	require.NoError(t, err)
	assert.Contains(t, out.String(), "P")

	quit, err = shell.Execute("exit")
	assert.True(t, quit)
	assert.NoError(t, err)
}

func TestShell__ImportExportRemove(t *testing.T) {
	hostDir := t.TempDir()
	source := filepath.Join(hostDir, "in.txt")
	require.NoError(t, os.WriteFile(source, []byte("payload"), 0o644))
	destination := filepath.Join(hostDir, "out.txt")

	script := strings.Join([]string{
		"createdisk A 512 500",
		"enterdisk A",
		"createdir box",
		"import " + source + " data",
		"copy data box",
		"export box/data " + destination,
		"remove box",
		"remove -r box",
		"dir",
	}, "\n")
	shell, _, out := newTestShell(t, script)
	require.NoError(t, shell.Run())

	exported, err := os.ReadFile(destination)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(exported))

	output := out.String()
	assert.Equal(t, 1, strings.Count(output, "error: "), "only the non-recursive remove fails")
	assert.Contains(t, output, "has 1 children")
}

func TestParseGeometry(t *testing.T) {
	geometry, err := parseGeometry("A", "", []string{"512", "600"})
	require.NoError(t, err)
	assert.Equal(t, volumefs.VolumeGeometry{Name: "A", BlockSize: 512, BlockCount: 600}, geometry)

	_, err = parseGeometry("A", "", []string{"512"})
	assert.ErrorIs(t, err, volumefs.ErrInvalidArgument)
	_, err = parseGeometry("A", "", []string{"big", "600"})
	assert.ErrorIs(t, err, volumefs.ErrInvalidArgument)
	_, err = parseGeometry("A", "tiny", []string{"512", "600"})
	assert.ErrorIs(t, err, volumefs.ErrInvalidArgument)
	_, err = parseGeometry("A", "no-such-preset", nil)
	assert.ErrorIs(t, err, volumefs.ErrNotFound)
}

func TestDecompressFile(t *testing.T) {
	shell, ws, _ := newTestShell(t, "")
	_, err := shell.Execute("createdisk A 64 500")
	require.NoError(t, err)

	dir := t.TempDir()
	snapshotPath := filepath.Join(dir, "a.snap")
	snapshot, err := os.Create(snapshotPath)
	require.NoError(t, err)
	_, err = ws.Snapshot("A", snapshot)
	require.NoError(t, err)
	require.NoError(t, snapshot.Close())

	rawPath := filepath.Join(dir, "a.img")
	written, err := decompressFile(snapshotPath, rawPath)
	require.NoError(t, err)
	assert.EqualValues(t, 64*500, written)

	original, err := os.ReadFile(ws.ImagePath("A"))
	require.NoError(t, err)
	expanded, err := os.ReadFile(rawPath)
	require.NoError(t, err)
	assert.Equal(t, original, expanded)

	_, err = decompressFile(filepath.Join(dir, "missing"), rawPath)
	assert.ErrorIs(t, err, volumefs.ErrIOFailed)
}
