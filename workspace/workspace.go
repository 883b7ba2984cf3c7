// Package workspace ties the registry, volume images, and the active volume
// session together. It's the layer the shell and CLI talk to.
//
// A workspace is a directory holding the registry file and one image per
// volume, named after the volume with an ".img" extension. At most one volume
// is entered at a time.
package workspace

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dargueta/volumefs"
	"github.com/dargueta/volumefs/config"
	"github.com/dargueta/volumefs/disks"
	"github.com/dargueta/volumefs/file_systems/volfs"
	"github.com/dargueta/volumefs/utilities/compression"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
)

// ImageExtension is appended to a volume's name to get its image's file name.
const ImageExtension = ".img"

type session struct {
	name   string
	image  *volfs.Image
	volume *volfs.Volume
}

type Workspace struct {
	cfg      config.Config
	registry *disks.Registry
	logger   *zap.Logger
	active   *session
}

// Open creates the workspace directory if needed and loads the registry.
// Damaged registry slots are logged and skipped rather than failing the open.
func Open(cfg config.Config, logger *zap.Logger) (*Workspace, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	err := os.MkdirAll(cfg.Workspace, 0o755)
	if err != nil {
		return nil, volumefs.ErrIOFailed.Wrap(err)
	}

	registry, err := disks.OpenRegistry(cfg.RegistryPath(), cfg.RegistrySlots, logger)
	if err != nil {
		if registry == nil {
			return nil, err
		}
		logger.Warn("some registry slots were skipped", zap.Error(err))
	}

	logger.Debug(
		"opened workspace",
		zap.String("path", cfg.Workspace),
		zap.Int("volumes", len(registry.List())),
	)
	return &Workspace{cfg: cfg, registry: registry, logger: logger}, nil
}

func (w *Workspace) Config() config.Config {
	return w.cfg
}

// ImagePath returns where the image of the volume named `name` is stored.
func (w *Workspace) ImagePath(name string) string {
	return filepath.Join(w.cfg.Workspace, name+ImageExtension)
}

// Synchronize reloads the registry from disk. If the entered volume has been
// removed from the registry by someone else, the workspace leaves it.
func (w *Workspace) Synchronize() error {
	err := w.registry.Synchronize()
	if w.active != nil {
		if _, lookupErr := w.registry.Lookup(w.active.name); lookupErr != nil {
			w.logger.Warn(
				"entered volume was removed from the registry, leaving it",
				zap.String("volume", w.active.name),
			)
			if leaveErr := w.Leave(); leaveErr != nil {
				err = multierror.Append(err, leaveErr)
			}
		}
	}
	return err
}

// ListVolumes returns every registered volume in slot order.
func (w *Workspace) ListVolumes() []disks.Entry {
	return w.registry.List()
}

func (w *Workspace) Lookup(name string) (disks.Entry, error) {
	return w.registry.Lookup(name)
}

// CreateVolume registers a new volume and creates its formatted image. If the
// image can't be created the registration is undone.
func (w *Workspace) CreateVolume(geometry volumefs.VolumeGeometry) (disks.Entry, error) {
	err := w.cfg.Limits().Validate(geometry)
	if err != nil {
		return disks.Entry{}, err
	}

	entry, err := w.registry.Register(geometry)
	if err != nil {
		return disks.Entry{}, err
	}

	image, err := volfs.CreateImage(w.ImagePath(geometry.Name), geometry, w.cfg.MetadataRegionSize)
	if err != nil {
		if _, undoErr := w.registry.Unregister(geometry.Name); undoErr != nil {
			err = multierror.Append(err, undoErr)
		}
		return disks.Entry{}, volumefs.CastToDriverError(err)
	}

	w.logger.Info("created volume", zap.Stringer("geometry", geometry))
	return entry, volumefs.CastToDriverError(image.Close())
}

// RemoveVolume unregisters a volume and deletes its image. If it's the entered
// volume, the workspace leaves it first.
func (w *Workspace) RemoveVolume(name string) error {
	_, err := w.registry.Lookup(name)
	if err != nil {
		return err
	}

	if w.active != nil && w.active.name == name {
		if err = w.Leave(); err != nil {
			return err
		}
	}

	if _, err = w.registry.Unregister(name); err != nil {
		return err
	}
	w.logger.Info("removed volume", zap.String("volume", name))
	return volfs.RemoveImage(w.ImagePath(name))
}

// FormatVolume erases the directory tree of a volume.
func (w *Workspace) FormatVolume(name string) error {
	if w.active != nil && w.active.name == name {
		return w.active.volume.Format()
	}

	entry, err := w.registry.Lookup(name)
	if err != nil {
		return err
	}
	image, err := w.openImage(entry.Geometry)
	if err != nil {
		return err
	}

	err = image.Format()
	closeErr := image.Close()
	if err != nil {
		return err
	}
	return closeErr
}

func (w *Workspace) openImage(geometry volumefs.VolumeGeometry) (*volfs.Image, error) {
	return volfs.OpenImage(
		w.ImagePath(geometry.Name),
		geometry,
		w.cfg.MetadataRegionSize,
		w.logger,
	)
}

// Enter opens a volume and makes it the active one, replacing whatever volume
// was entered before. If the volume can't be opened the previous one stays
// entered.
func (w *Workspace) Enter(name string) (*volfs.Volume, error) {
	entry, err := w.registry.Lookup(name)
	if err != nil {
		return nil, err
	}

	image, err := w.openImage(entry.Geometry)
	if err != nil {
		return nil, err
	}
	volume, err := volfs.Open(entry.Geometry, image, w.cfg.MetadataRegionSize, w.logger)
	if err != nil {
		image.Close()
		return nil, err
	}

	if w.active != nil {
		if err = w.Leave(); err != nil {
			w.logger.Warn("failed to close previous volume", zap.Error(err))
		}
	}
	w.active = &session{name: name, image: image, volume: volume}
	w.logger.Debug("entered volume", zap.String("volume", name))
	return volume, nil
}

// Leave closes the active volume. It does nothing if no volume is entered.
func (w *Workspace) Leave() error {
	if w.active == nil {
		return nil
	}
	err := w.active.image.Close()
	w.logger.Debug("left volume", zap.String("volume", w.active.name))
	w.active = nil
	return err
}

// ActiveName returns the name of the entered volume, or "" if there is none.
func (w *Workspace) ActiveName() string {
	if w.active == nil {
		return ""
	}
	return w.active.name
}

// Active returns the session of the entered volume.
func (w *Workspace) Active() (*volfs.Volume, error) {
	s, err := w.session()
	if err != nil {
		return nil, err
	}
	return s.volume, nil
}

func (w *Workspace) session() (*session, error) {
	if w.active == nil {
		return nil, volumefs.ErrNoDevice.WithMessage("no volume entered")
	}
	return w.active, nil
}

// writeNewFile reserves blocks for `size` bytes, lets `write` fill them, then
// records the file in the working folder.
func (w *Workspace) writeNewFile(
	name string, size int64, write func(image *volfs.Image, start volumefs.BlockID) error,
) (*volfs.File, error) {
	s, err := w.session()
	if err != nil {
		return nil, err
	}
	err = s.volume.CheckInsert(name, volumefs.KindFile)
	if err != nil {
		return nil, err
	}

	count := s.volume.Geometry().LengthToNumBlocks(size)
	start, err := s.volume.AllocateBlocks(count)
	if err != nil {
		return nil, err
	}
	if count > 0 {
		if err = write(s.image, start); err != nil {
			return nil, err
		}
	}
	return s.volume.InsertFile(name, start, count)
}

// CreateFile creates a file with the given contents in the working folder.
func (w *Workspace) CreateFile(name string, content []byte) (*volfs.File, error) {
	return w.writeNewFile(
		name,
		int64(len(content)),
		func(image *volfs.Image, start volumefs.BlockID) error {
			return image.WriteBlocks(start, content)
		},
	)
}

// ImportFile copies a host file into the working folder. If `name` is empty
// the host file's base name is used.
func (w *Workspace) ImportFile(hostPath, name string) (*volfs.File, error) {
	if name == "" {
		name = filepath.Base(hostPath)
	}

	source, err := os.Open(hostPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, volumefs.ErrNotFound.WithMessage(
				fmt.Sprintf("host file %q doesn't exist", hostPath))
		}
		return nil, volumefs.ErrIOFailed.Wrap(err)
	}
	defer source.Close()

	stat, err := source.Stat()
	if err != nil {
		return nil, volumefs.ErrIOFailed.Wrap(err)
	}
	if stat.IsDir() {
		return nil, volumefs.ErrIsADirectory.WithMessage(
			fmt.Sprintf("%q is a directory", hostPath))
	}

	return w.writeNewFile(
		name,
		stat.Size(),
		func(image *volfs.Image, start volumefs.BlockID) error {
			return image.WriteFrom(source, start, stat.Size())
		},
	)
}

// ReadFile returns the contents of the file at `path`, without the null padding
// at the end of its last block.
func (w *Workspace) ReadFile(path string) ([]byte, error) {
	var buffer bytes.Buffer
	_, err := w.readTo(path, &buffer)
	if err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}

// ExportFile copies the file at `path` to a new host file.
func (w *Workspace) ExportFile(path, hostPath string) (int64, error) {
	output, err := os.OpenFile(hostPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, volumefs.ErrIOFailed.Wrap(err)
	}

	written, err := w.readTo(path, output)
	closeErr := output.Close()
	if err != nil {
		os.Remove(hostPath)
		return 0, err
	}
	if closeErr != nil {
		return written, volumefs.ErrIOFailed.Wrap(closeErr)
	}
	return written, nil
}

func (w *Workspace) readTo(path string, output io.Writer) (int64, error) {
	s, err := w.session()
	if err != nil {
		return 0, err
	}
	file, err := s.volume.GetFile(path)
	if err != nil {
		return 0, err
	}
	return s.image.ReadTo(output, file.BlockIndex, file.BlockCount)
}

// VolumeFile is a file found by [Workspace.TypeVolume], with its content.
type VolumeFile struct {
	// Path is absolute, e.g. "~/docs/note.txt".
	Path    string
	File    *volfs.File
	Content []byte
}

// TypeVolume reads every file on the volume named `name`, depth first in
// insertion order. The volume doesn't need to be entered.
func (w *Workspace) TypeVolume(name string) ([]VolumeFile, error) {
	if w.active != nil && w.active.name == name {
		return collectFiles(w.active.volume, w.active.image)
	}

	entry, err := w.registry.Lookup(name)
	if err != nil {
		return nil, err
	}
	image, err := w.openImage(entry.Geometry)
	if err != nil {
		return nil, err
	}
	defer image.Close()

	volume, err := volfs.Open(entry.Geometry, image, w.cfg.MetadataRegionSize, w.logger)
	if err != nil {
		return nil, err
	}
	return collectFiles(volume, image)
}

func collectFiles(volume *volfs.Volume, image *volfs.Image) ([]VolumeFile, error) {
	var files []VolumeFile
	var visit func(folder *volfs.Folder, prefix string) error

	visit = func(folder *volfs.Folder, prefix string) error {
		for _, child := range folder.Children() {
			path := prefix + volumefs.PathSeparator + child.Name()
			switch node := child.(type) {
			case *volfs.Folder:
				if err := visit(node, path); err != nil {
					return err
				}
			case *volfs.File:
				var buffer bytes.Buffer
				_, err := image.ReadTo(&buffer, node.BlockIndex, node.BlockCount)
				if err != nil {
					return err
				}
				files = append(files, VolumeFile{Path: path, File: node, Content: buffer.Bytes()})
			}
		}
		return nil
	}

	if err := visit(volume.Root(), volumefs.RootName); err != nil {
		return nil, err
	}
	return files, nil
}

// Copy duplicates a file or folder in the entered volume, contents included.
func (w *Workspace) Copy(sourcePath, destPath string) error {
	s, err := w.session()
	if err != nil {
		return err
	}
	return s.volume.Copy(sourcePath, destPath, s.image.CopyBlocks)
}

// Snapshot writes a compressed copy of a volume's image to `output`, and
// returns the number of compressed bytes written.
func (w *Workspace) Snapshot(name string, output io.Writer) (int64, error) {
	_, err := w.registry.Lookup(name)
	if err != nil {
		return 0, err
	}

	input, err := os.Open(w.ImagePath(name))
	if err != nil {
		return 0, volumefs.ErrIOFailed.Wrap(err)
	}
	defer input.Close()

	written, err := compression.CompressImage(input, output)
	if err != nil {
		return written, volumefs.ErrIOFailed.Wrap(err)
	}
	return written, nil
}

// Restore replaces a volume's image with a snapshot made by [Workspace.Snapshot].
// The snapshot must match the volume's registered geometry and hold a valid
// metadata region. If the volume is entered, it's reopened afterwards.
func (w *Workspace) Restore(name string, input io.Reader) error {
	entry, err := w.registry.Lookup(name)
	if err != nil {
		return err
	}

	data, err := compression.DecompressImageToBytes(input)
	if err != nil {
		return volumefs.ErrInvalidArgument.Wrap(
			fmt.Errorf("snapshot can't be decompressed: %w", err))
	}
	if int64(len(data)) != entry.Geometry.TotalSizeBytes() {
		return volumefs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf(
				"snapshot is %d bytes, but volume %s needs %d",
				len(data),
				entry.Geometry,
				entry.Geometry.TotalSizeBytes(),
			),
		)
	}
	if uint(len(data)) < w.cfg.MetadataRegionSize {
		return volumefs.ErrInvalidArgument.WithMessage("snapshot is smaller than a metadata region")
	}
	_, _, err = volfs.Decode(data[:w.cfg.MetadataRegionSize], entry.Geometry)
	if err != nil {
		return err
	}

	workingPath := ""
	wasActive := w.active != nil && w.active.name == name
	if wasActive {
		workingPath = w.active.volume.WorkingPath()
		if err = w.Leave(); err != nil {
			return volumefs.CastToDriverError(err)
		}
	}

	err = replaceFile(w.ImagePath(name), data)
	if err != nil {
		return err
	}
	w.logger.Info("restored volume from snapshot", zap.String("volume", name))

	if wasActive {
		volume, err := w.Enter(name)
		if err != nil {
			return err
		}
		if volume.NavigateTo(workingPath) != nil {
			w.logger.Debug(
				"working folder is gone after restore",
				zap.String("path", workingPath),
			)
		}
	}
	return nil
}

// replaceFile atomically replaces the file at `path` with `data` and removes
// any journal the old file left behind.
func replaceFile(path string, data []byte) error {
	temp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return volumefs.ErrIOFailed.Wrap(err)
	}

	_, err = temp.Write(data)
	if err == nil {
		err = temp.Sync()
	}
	closeErr := temp.Close()
	if err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Rename(temp.Name(), path)
	}
	if err != nil {
		os.Remove(temp.Name())
		return volumefs.ErrIOFailed.Wrap(err)
	}

	err = os.Remove(path + volfs.JournalSuffix)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return volumefs.ErrIOFailed.Wrap(err)
	}
	return nil
}

// Close leaves the entered volume and closes the registry.
func (w *Workspace) Close() error {
	var result error
	if err := w.Leave(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := w.registry.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	return result
}
