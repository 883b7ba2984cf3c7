package volfs

import (
	"fmt"

	"github.com/boljen/go-bitmap"
	"github.com/dargueta/volumefs"
	"github.com/dargueta/volumefs/file_systems/common/extents"
)

// Report summarizes how a volume's blocks are accounted for.
type Report struct {
	TotalBlocks    uint
	ReservedBlocks uint
	FreeBlocks     uint
	UsedBlocks     uint
	// LeakedBlocks are usable blocks that are neither free nor owned by any
	// file. They're harmless but can never be allocated again.
	LeakedBlocks uint
	FreeExtents  int
	Folders      int
	Files        int
}

// Check cross-references the allocator's free list against the blocks owned
// by files. A block claimed by two owners (two files, or a file and the free
// list) or a file extending outside the usable area means the volume is
// corrupted. Blocks claimed by nobody are only counted.
func Check(tree *Tree, alloc *extents.Allocator) (Report, error) {
	total := alloc.TotalBlocks()
	firstUsable := uint(alloc.FirstUsableBlock())
	claimed := bitmap.New(int(total))

	report := Report{
		TotalBlocks:    total,
		ReservedBlocks: total - alloc.UsableBlocks(),
		FreeBlocks:     alloc.FreeBlocks(),
	}

	freeList := alloc.Extents()
	report.FreeExtents = len(freeList)
	for _, extent := range freeList {
		for block := uint(extent.Start); block < uint(extent.End()); block++ {
			claimed.Set(int(block), true)
		}
	}

	var err error
	tree.Walk(func(node Node, _ *Folder) {
		file, ok := node.(*File)
		if !ok {
			report.Folders++
			return
		}
		report.Files++
		if err != nil || file.BlockCount == 0 {
			return
		}

		end := uint64(file.BlockIndex) + uint64(file.BlockCount)
		if uint(file.BlockIndex) < firstUsable || end > uint64(total) {
			err = volumefs.ErrFileSystemCorrupted.WithMessage(
				fmt.Sprintf(
					"file %q occupies blocks %d:%d, outside usable range [%d, %d)",
					file.name,
					file.BlockIndex,
					file.BlockCount,
					firstUsable,
					total,
				),
			)
			return
		}

		for block := uint(file.BlockIndex); block < uint(end); block++ {
			if claimed.Get(int(block)) {
				err = volumefs.ErrFileSystemCorrupted.WithMessage(
					fmt.Sprintf(
						"block %d of file %q is also free or owned by another file",
						block,
						file.name,
					),
				)
				return
			}
			claimed.Set(int(block), true)
		}
		report.UsedBlocks += file.BlockCount
	})
	if err != nil {
		return report, err
	}

	report.LeakedBlocks = alloc.UsableBlocks() - report.FreeBlocks - report.UsedBlocks
	return report, nil
}
