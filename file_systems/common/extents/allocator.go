// Package extents implements a free-space allocator that tracks runs of free
// blocks ("extents") instead of one bit per block.
//
// The free list is kept sorted by starting block, and no two extents ever
// overlap or touch. Allocation is first-fit and happens in two steps: Allocate
// finds a run without modifying anything, and Commit claims it. This lets the
// caller do other fallible work (like writing file contents) between the two.
package extents

import (
	"fmt"
	"sort"

	"github.com/dargueta/volumefs"
)

type Allocator struct {
	extents     []volumefs.Extent
	firstUsable volumefs.BlockID
	totalBlocks volumefs.BlockID
}

// New creates an allocator where every block in [firstUsable, totalBlocks) is
// free. Blocks before `firstUsable` are reserved and are never handed out.
func New(firstUsable, totalBlocks uint) *Allocator {
	alloc := &Allocator{
		firstUsable: volumefs.BlockID(firstUsable),
		totalBlocks: volumefs.BlockID(totalBlocks),
	}
	if firstUsable < totalBlocks {
		alloc.extents = []volumefs.Extent{
			{Start: volumefs.BlockID(firstUsable), Length: totalBlocks - firstUsable},
		}
	}
	return alloc
}

// FromExtents rebuilds an allocator from a free list read back from storage.
// The list must already be sorted, coalesced, and inside the usable range;
// anything else means the stored list is damaged.
func FromExtents(
	firstUsable, totalBlocks uint, freeList []volumefs.Extent,
) (*Allocator, error) {
	alloc := &Allocator{
		extents:     make([]volumefs.Extent, len(freeList)),
		firstUsable: volumefs.BlockID(firstUsable),
		totalBlocks: volumefs.BlockID(totalBlocks),
	}
	copy(alloc.extents, freeList)

	for i, extent := range alloc.extents {
		if extent.Length == 0 {
			return nil, volumefs.ErrFileSystemCorrupted.WithMessage(
				fmt.Sprintf("free extent %d at block %d is empty", i, extent.Start))
		}
		if !alloc.inUsableRange(extent.Start, extent.Length) {
			return nil, volumefs.ErrFileSystemCorrupted.WithMessage(
				fmt.Sprintf(
					"free extent %d:%d not in range [%d, %d)",
					extent.Start,
					extent.Length,
					firstUsable,
					totalBlocks,
				),
			)
		}
		if i > 0 && alloc.extents[i-1].End() >= extent.Start {
			return nil, volumefs.ErrFileSystemCorrupted.WithMessage(
				fmt.Sprintf(
					"free extents %d:%d and %d:%d overlap, touch, or are out of order",
					alloc.extents[i-1].Start,
					alloc.extents[i-1].Length,
					extent.Start,
					extent.Length,
				),
			)
		}
	}
	return alloc, nil
}

func (alloc *Allocator) inUsableRange(start volumefs.BlockID, count uint) bool {
	end := uint64(start) + uint64(count)
	return start >= alloc.firstUsable && end <= uint64(alloc.totalBlocks)
}

// Allocate returns the first block of the first free extent that can hold
// `count` blocks. It does not claim the blocks; call Commit for that.
func (alloc *Allocator) Allocate(count uint) (volumefs.BlockID, error) {
	if count == 0 {
		return 0, volumefs.ErrInvalidArgument.WithMessage("can't allocate zero blocks")
	}

	for _, extent := range alloc.extents {
		if extent.Length >= count {
			return extent.Start, nil
		}
	}

	return 0, volumefs.ErrNoSpaceOnDevice.WithMessage(
		fmt.Sprintf(
			"no run of %d contiguous free blocks (%d free in total)",
			count,
			alloc.FreeBlocks(),
		),
	)
}

// Commit claims `count` blocks from the front of the free extent beginning at
// exactly `start`. If the extent is used up completely it's removed.
func (alloc *Allocator) Commit(start volumefs.BlockID, count uint) error {
	if count == 0 {
		return volumefs.ErrInvalidArgument.WithMessage("can't commit zero blocks")
	}

	i := alloc.search(start)
	if i >= len(alloc.extents) || alloc.extents[i].Start != start {
		return volumefs.ErrAllocatorInconsistency.WithMessage(
			fmt.Sprintf("no free extent starts at block %d", start))
	}

	extent := &alloc.extents[i]
	if extent.Length < count {
		return volumefs.ErrAllocatorInconsistency.WithMessage(
			fmt.Sprintf(
				"free extent at block %d has %d blocks, can't commit %d",
				start,
				extent.Length,
				count,
			),
		)
	}

	extent.Start += volumefs.BlockID(count)
	extent.Length -= count
	if extent.Length == 0 {
		alloc.extents = append(alloc.extents[:i], alloc.extents[i+1:]...)
	}
	return nil
}

// Release returns `count` blocks starting at `start` to the free list, merging
// the new extent with its neighbors if they touch. Releasing blocks that are
// already free or outside the usable range fails without modifying anything.
func (alloc *Allocator) Release(start volumefs.BlockID, count uint) error {
	if count == 0 {
		return volumefs.ErrInvalidArgument.WithMessage("can't release zero blocks")
	}
	if !alloc.inUsableRange(start, count) {
		return volumefs.ErrAllocatorInconsistency.WithMessage(
			fmt.Sprintf(
				"blocks %d:%d not in usable range [%d, %d)",
				start,
				count,
				alloc.firstUsable,
				alloc.totalBlocks,
			),
		)
	}

	released := volumefs.Extent{Start: start, Length: count}

	// `i` is the index the new extent would be inserted at, so the left
	// neighbor (if any) is at i-1 and the right neighbor at i.
	i := alloc.search(start)
	if i > 0 && alloc.extents[i-1].End() > start {
		return alloc.doubleFreeError(released, alloc.extents[i-1])
	}
	if i < len(alloc.extents) && alloc.extents[i].Start < released.End() {
		return alloc.doubleFreeError(released, alloc.extents[i])
	}

	mergeLeft := i > 0 && alloc.extents[i-1].End() == start
	mergeRight := i < len(alloc.extents) && alloc.extents[i].Start == released.End()

	switch {
	case mergeLeft && mergeRight:
		alloc.extents[i-1].Length += count + alloc.extents[i].Length
		alloc.extents = append(alloc.extents[:i], alloc.extents[i+1:]...)
	case mergeLeft:
		alloc.extents[i-1].Length += count
	case mergeRight:
		alloc.extents[i].Start = start
		alloc.extents[i].Length += count
	default:
		alloc.extents = append(alloc.extents, volumefs.Extent{})
		copy(alloc.extents[i+1:], alloc.extents[i:])
		alloc.extents[i] = released
	}
	return nil
}

func (alloc *Allocator) doubleFreeError(released, free volumefs.Extent) error {
	return volumefs.ErrAllocatorInconsistency.WithMessage(
		fmt.Sprintf(
			"tried to release %d:%d but %d:%d is already free",
			released.Start,
			released.Length,
			free.Start,
			free.Length,
		),
	)
}

// search returns the index of the first extent starting at or after `block`.
func (alloc *Allocator) search(block volumefs.BlockID) int {
	return sort.Search(len(alloc.extents), func(i int) bool {
		return alloc.extents[i].Start >= block
	})
}

// Extents returns a copy of the free list, sorted by starting block.
func (alloc *Allocator) Extents() []volumefs.Extent {
	result := make([]volumefs.Extent, len(alloc.extents))
	copy(result, alloc.extents)
	return result
}

// FreeBlocks gives the total number of free blocks across all extents.
func (alloc *Allocator) FreeBlocks() uint {
	total := uint(0)
	for _, extent := range alloc.extents {
		total += extent.Length
	}
	return total
}

// FirstUsableBlock is the first block that isn't reserved.
func (alloc *Allocator) FirstUsableBlock() volumefs.BlockID {
	return alloc.firstUsable
}

// TotalBlocks is the total number of blocks in the volume, reserved included.
func (alloc *Allocator) TotalBlocks() uint {
	return uint(alloc.totalBlocks)
}

// UsableBlocks is the number of blocks the allocator manages.
func (alloc *Allocator) UsableBlocks() uint {
	if alloc.firstUsable >= alloc.totalBlocks {
		return 0
	}
	return uint(alloc.totalBlocks - alloc.firstUsable)
}

// Clone returns an independent copy of the allocator.
func (alloc *Allocator) Clone() *Allocator {
	return &Allocator{
		extents:     alloc.Extents(),
		firstUsable: alloc.firstUsable,
		totalBlocks: alloc.totalBlocks,
	}
}
