package disks

import (
	"fmt"
	"math"

	"github.com/dargueta/volumefs"
	"github.com/dargueta/volumefs/file_systems/volfs"
)

// Limits are the smallest volumes that may be created.
type Limits struct {
	MinBlockSize  uint
	MinBlockCount uint
}

var DefaultLimits = Limits{MinBlockSize: 32, MinBlockCount: 500}

// MaxGeometryValue is the largest block size or block count a volume can have.
// Block numbers are 32 bits wide, and registry slots store both values as
// 32-bit numbers.
const MaxGeometryValue = math.MaxUint32

// Validate checks a geometry before it's registered: the name must be usable
// as a node name and both dimensions must meet the minimums.
func (limits Limits) Validate(geometry volumefs.VolumeGeometry) error {
	err := volfs.ValidateName(geometry.Name)
	if err != nil {
		return err
	}
	if geometry.BlockSize < limits.MinBlockSize {
		return volumefs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf(
				"block size must be at least %d bytes, got %d",
				limits.MinBlockSize,
				geometry.BlockSize,
			),
		)
	}
	if geometry.BlockCount < limits.MinBlockCount {
		return volumefs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf(
				"volume must have at least %d blocks, got %d",
				limits.MinBlockCount,
				geometry.BlockCount,
			),
		)
	}
	if uint64(geometry.BlockSize) > MaxGeometryValue || uint64(geometry.BlockCount) > MaxGeometryValue {
		return volumefs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf(
				"block size and count must be at most %d, got %d blocks of %d bytes",
				uint64(MaxGeometryValue),
				geometry.BlockCount,
				geometry.BlockSize,
			),
		)
	}
	return nil
}
