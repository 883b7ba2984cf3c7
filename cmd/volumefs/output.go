package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/dargueta/volumefs"
	"github.com/dargueta/volumefs/disks"
	"github.com/dargueta/volumefs/file_systems/volfs"
	"github.com/dargueta/volumefs/workspace"
	"github.com/olekukonko/tablewriter"
)

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	return table
}

func formatUint(n uint) string {
	return strconv.FormatUint(uint64(n), 10)
}

func renderVolumes(w io.Writer, entries []disks.Entry, active string) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "no volumes registered")
		return
	}

	table := newTable(w, "Slot", "Name", "Block size", "Blocks", "Bytes", "")
	for _, entry := range entries {
		marker := ""
		if entry.Geometry.Name == active {
			marker = "*"
		}
		table.Append([]string{
			formatUint(entry.Slot),
			entry.Geometry.Name,
			formatUint(entry.Geometry.BlockSize),
			formatUint(entry.Geometry.BlockCount),
			strconv.FormatInt(entry.Geometry.TotalSizeBytes(), 10),
			marker,
		})
	}
	table.Render()
}

func renderPresets(w io.Writer, presets []disks.Preset) {
	table := newTable(w, "Preset", "Block size", "Blocks", "Notes")
	for _, preset := range presets {
		table.Append([]string{
			preset.Slug,
			formatUint(preset.BlockSize),
			formatUint(preset.BlockCount),
			preset.Notes,
		})
	}
	table.Render()
}

// renderListing prints a folder's children. Files show the extent they
// occupy.
func renderListing(w io.Writer, nodes []volfs.Node) {
	if len(nodes) == 0 {
		fmt.Fprintln(w, "(empty)")
		return
	}

	table := newTable(w, "Name", "Type", "Blocks")
	for _, node := range nodes {
		blocks := "-"
		if file, ok := node.(*volfs.File); ok {
			blocks = fmt.Sprintf("%d (from %d)", file.BlockCount, file.BlockIndex)
		}
		table.Append([]string{node.Name(), string(node.Kind()), blocks})
	}
	table.Render()
}

func renderReport(w io.Writer, geometry volumefs.VolumeGeometry, report volfs.Report) {
	table := newTable(w, "Volume", geometry.Name)
	table.AppendBulk([][]string{
		{"Block size", formatUint(geometry.BlockSize)},
		{"Total blocks", formatUint(report.TotalBlocks)},
		{"Reserved blocks", formatUint(report.ReservedBlocks)},
		{"Used blocks", formatUint(report.UsedBlocks)},
		{"Free blocks", formatUint(report.FreeBlocks)},
		{"Free extents", strconv.Itoa(report.FreeExtents)},
		{"Leaked blocks", formatUint(report.LeakedBlocks)},
		{"Folders", strconv.Itoa(report.Folders)},
		{"Files", strconv.Itoa(report.Files)},
	})
	table.Render()
}

// printVolumeFiles writes every file on a volume, each under a header naming
// its path.
func printVolumeFiles(ws *workspace.Workspace, name string, w io.Writer) error {
	files, err := ws.TypeVolume(name)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		fmt.Fprintf(w, "volume %s has no files\n", name)
		return nil
	}

	for _, file := range files {
		fmt.Fprintf(w, "==> %s <==\n", file.Path)
		w.Write(file.Content)
		if len(file.Content) > 0 && file.Content[len(file.Content)-1] != '\n' {
			fmt.Fprintln(w)
		}
	}
	return nil
}
