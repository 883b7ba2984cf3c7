package volfs

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/dargueta/volumefs"
	"github.com/dargueta/volumefs/file_systems/common/blockio"
	"github.com/dargueta/volumefs/file_systems/common/extents"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
)

// JournalSuffix is appended to an image's path to get its journal's path.
const JournalSuffix = ".journal"

// Image is a volume image stored in a host file. Data blocks are accessed
// through the embedded device; the metadata region is rewritten through a
// journal so that a crash mid-write leaves either the old or the new region in
// place, never a mix of the two.
type Image struct {
	*blockio.Device
	path       string
	file       *os.File
	geometry   volumefs.VolumeGeometry
	regionSize uint
}

func validateImageGeometry(geometry volumefs.VolumeGeometry, regionSize uint) error {
	if geometry.BlockSize == 0 || geometry.BlockCount == 0 {
		return volumefs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("volume geometry %s has no blocks", geometry))
	}
	if regionSize < MinMetadataRegionSize {
		return volumefs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf(
				"metadata region must be at least %d bytes, got %d",
				MinMetadataRegionSize,
				regionSize,
			),
		)
	}
	if reserved := geometry.ReservedBlocks(regionSize); reserved >= geometry.BlockCount {
		return volumefs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf(
				"volume %s is too small: the metadata region alone takes %d blocks",
				geometry,
				reserved,
			),
		)
	}
	return nil
}

// CreateImage creates a new zero-filled image at `path` and formats it with an
// empty directory tree. It fails with [volumefs.ErrExists] if the file is
// already there.
func CreateImage(
	path string, geometry volumefs.VolumeGeometry, regionSize uint,
) (*Image, error) {
	err := validateImageGeometry(geometry, regionSize)
	if err != nil {
		return nil, err
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, volumefs.ErrExists.WithMessage(
				fmt.Sprintf("image file %q already exists", path))
		}
		return nil, volumefs.ErrIOFailed.Wrap(err)
	}

	img := newImage(path, file, geometry, regionSize)
	err = file.Truncate(int64(geometry.TotalSizeBytes()))
	if err == nil {
		err = img.Format()
	}
	if err != nil {
		file.Close()
		os.Remove(path)
		return nil, volumefs.CastToDriverError(err)
	}
	return img, nil
}

// OpenImage opens an existing image. If a journal was left behind by an
// interrupted metadata write, it's replayed when intact and discarded when not.
func OpenImage(
	path string,
	geometry volumefs.VolumeGeometry,
	regionSize uint,
	logger *zap.Logger,
) (*Image, error) {
	err := validateImageGeometry(geometry, regionSize)
	if err != nil {
		return nil, err
	}

	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, volumefs.ErrNotFound.WithMessage(
				fmt.Sprintf("image file %q doesn't exist", path))
		}
		return nil, volumefs.ErrIOFailed.Wrap(err)
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, volumefs.ErrIOFailed.Wrap(err)
	}
	if uint64(stat.Size()) != uint64(geometry.TotalSizeBytes()) {
		file.Close()
		return nil, volumefs.ErrFileSystemCorrupted.WithMessage(
			fmt.Sprintf(
				"image %q is %d bytes, expected %d for %s",
				path,
				stat.Size(),
				geometry.TotalSizeBytes(),
				geometry,
			),
		)
	}

	img := newImage(path, file, geometry, regionSize)
	if logger == nil {
		logger = zap.NewNop()
	}
	err = img.recoverJournal(logger)
	if err != nil {
		file.Close()
		return nil, err
	}
	return img, nil
}

func newImage(
	path string, file *os.File, geometry volumefs.VolumeGeometry, regionSize uint,
) *Image {
	return &Image{
		Device:     blockio.NewFromGeometry(file, geometry),
		path:       path,
		file:       file,
		geometry:   geometry,
		regionSize: regionSize,
	}
}

func (img *Image) Path() string {
	return img.path
}

func (img *Image) JournalPath() string {
	return img.path + JournalSuffix
}

func (img *Image) Geometry() volumefs.VolumeGeometry {
	return img.geometry
}

func (img *Image) RegionSize() uint {
	return img.regionSize
}

// Format overwrites the metadata region with an empty tree and a single free
// extent covering every usable block. Data blocks aren't touched.
func (img *Image) Format() error {
	alloc := extents.New(img.geometry.ReservedBlocks(img.regionSize), img.geometry.BlockCount)
	region, err := Encode(NewTree(), alloc, img.regionSize)
	if err != nil {
		return err
	}
	return img.WriteMetadata(region)
}

// ReadMetadata fills `buffer` from the start of the image.
func (img *Image) ReadMetadata(buffer []byte) error {
	_, err := img.file.ReadAt(buffer, 0)
	if err != nil {
		return volumefs.ErrIOFailed.Wrap(err)
	}
	return nil
}

// WriteMetadata replaces the metadata region in two phases: the region goes to
// the journal first, then to the image, and the journal is deleted once the
// image is safely on disk.
func (img *Image) WriteMetadata(region []byte) error {
	err := writeSynced(img.JournalPath(), region)
	if err != nil {
		return err
	}

	_, err = img.file.WriteAt(region, 0)
	if err == nil {
		err = img.file.Sync()
	}
	if err != nil {
		return volumefs.ErrIOFailed.Wrap(err)
	}

	// The image already holds the new region, so a journal that can't be
	// deleted is only replayed again on the next open.
	os.Remove(img.JournalPath())
	return nil
}

func writeSynced(path string, data []byte) error {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return volumefs.ErrIOFailed.Wrap(err)
	}

	_, err = file.Write(data)
	if err == nil {
		err = file.Sync()
	}
	closeErr := file.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		return volumefs.ErrIOFailed.Wrap(err)
	}
	return nil
}

func (img *Image) recoverJournal(logger *zap.Logger) error {
	journalPath := img.JournalPath()
	journal, err := os.ReadFile(journalPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return volumefs.ErrIOFailed.Wrap(err)
	}

	if uint(len(journal)) != img.regionSize {
		logger.Warn(
			"discarding truncated metadata journal",
			zap.String("journal", journalPath),
			zap.Int("size", len(journal)),
			zap.Uint("expected", img.regionSize),
		)
	} else if err = VerifyRegion(journal); err != nil {
		logger.Warn(
			"discarding damaged metadata journal",
			zap.String("journal", journalPath),
			zap.Error(err),
		)
	} else {
		logger.Info("replaying metadata journal", zap.String("journal", journalPath))
		_, err = img.file.WriteAt(journal, 0)
		if err == nil {
			err = img.file.Sync()
		}
		if err != nil {
			return volumefs.ErrIOFailed.Wrap(err)
		}
	}

	err = os.Remove(journalPath)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return volumefs.ErrIOFailed.Wrap(err)
	}
	return nil
}

// Close closes the underlying file. The image can't be used afterwards.
func (img *Image) Close() error {
	err := img.file.Close()
	if err != nil {
		return volumefs.ErrIOFailed.Wrap(err)
	}
	return nil
}

// RemoveImage deletes an image and any journal it left behind. Files that are
// already gone are ignored.
func RemoveImage(path string) error {
	var result error
	for _, target := range []string{path, path + JournalSuffix} {
		err := os.Remove(target)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			result = multierror.Append(result, err)
		}
	}
	if result != nil {
		return volumefs.ErrIOFailed.Wrap(result)
	}
	return nil
}
