package disks

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/boljen/go-bitmap"
	"github.com/dargueta/volumefs"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
)

// DefaultSlotCount is the number of volumes a registry can hold unless
// configured otherwise. The registry file is always exactly this many slots.
const DefaultSlotCount = 1000

// Entry is a registered volume and the slot it's stored in.
type Entry struct {
	Geometry volumefs.VolumeGeometry
	Slot     uint
}

// Registry is the table of every known volume, backed by a file of fixed-size
// slots. The in-memory copy is only a cache; call Synchronize to pick up
// changes made to the file by someone else.
type Registry struct {
	path      string
	file      *os.File
	slotCount uint
	volumes   map[string]Entry
	used      bitmap.Bitmap
	logger    *zap.Logger
}

// OpenRegistry opens or creates the registry file at `path` and loads it. If
// some slots can't be decoded the registry is still returned along with an
// error describing every bad slot.
func OpenRegistry(path string, slotCount uint, logger *zap.Logger) (*Registry, error) {
	if slotCount == 0 {
		return nil, volumefs.ErrInvalidArgument.WithMessage("registry must have at least one slot")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, volumefs.ErrIOFailed.Wrap(err)
	}

	registry := &Registry{
		path:      path,
		file:      file,
		slotCount: slotCount,
		volumes:   map[string]Entry{},
		used:      bitmap.New(int(slotCount)),
		logger:    logger.With(zap.String("registry", path)),
	}

	err = registry.Synchronize()
	if err != nil && !errors.Is(err, volumefs.ErrFileSystemCorrupted) {
		file.Close()
		return nil, err
	}
	return registry, err
}

func (r *Registry) Path() string {
	return r.path
}

func (r *Registry) SlotCount() uint {
	return r.slotCount
}

// Synchronize re-reads the whole registry file and rebuilds the cache. A file
// shorter than the full slot table is grown first. Slots that can't be decoded
// stay marked as used so they're never overwritten, and are reported together
// as a single [volumefs.ErrFileSystemCorrupted].
func (r *Registry) Synchronize() error {
	expectedSize := int64(r.slotCount) * SlotSize

	stat, err := r.file.Stat()
	if err != nil {
		return volumefs.ErrIOFailed.Wrap(err)
	}
	if stat.Size() < expectedSize {
		r.logger.Debug(
			"growing registry file",
			zap.Int64("size", stat.Size()),
			zap.Int64("expected", expectedSize),
		)
		if err = r.file.Truncate(expectedSize); err != nil {
			return volumefs.ErrIOFailed.Wrap(err)
		}
	} else if stat.Size() > expectedSize {
		r.logger.Warn(
			"registry file is larger than the slot table, ignoring the rest",
			zap.Int64("size", stat.Size()),
			zap.Uint("slots", r.slotCount),
		)
	}

	data := make([]byte, expectedSize)
	if _, err = r.file.ReadAt(data, 0); err != nil {
		return volumefs.ErrIOFailed.Wrap(err)
	}

	volumes := map[string]Entry{}
	used := bitmap.New(int(r.slotCount))
	var badSlots error

	for slot := uint(0); slot < r.slotCount; slot++ {
		raw := data[slot*SlotSize : (slot+1)*SlotSize]
		if IsFreeSlot(raw) {
			continue
		}
		used.Set(int(slot), true)

		geometry, err := DecodeSlot(raw)
		if err != nil {
			badSlots = multierror.Append(badSlots, fmt.Errorf("slot %d: %w", slot, err))
			continue
		}
		if existing, ok := volumes[geometry.Name]; ok {
			badSlots = multierror.Append(
				badSlots,
				fmt.Errorf(
					"slot %d: volume %q is already in slot %d",
					slot,
					geometry.Name,
					existing.Slot,
				),
			)
			continue
		}
		volumes[geometry.Name] = Entry{Geometry: geometry, Slot: slot}
	}

	r.volumes = volumes
	r.used = used
	if badSlots != nil {
		r.logger.Error("registry has damaged slots", zap.Error(badSlots))
		return volumefs.ErrFileSystemCorrupted.Wrap(badSlots)
	}
	return nil
}

// AllocateSlot returns the first free slot without claiming it.
func (r *Registry) AllocateSlot() (uint, error) {
	for slot := uint(0); slot < r.slotCount; slot++ {
		if !r.used.Get(int(slot)) {
			return slot, nil
		}
	}
	return 0, volumefs.ErrNoSpaceOnDevice.WithMessage(
		fmt.Sprintf("all %d registry slots are in use", r.slotCount))
}

func (r *Registry) checkSlot(slot uint) error {
	if slot >= r.slotCount {
		return volumefs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("slot %d not in range [0, %d)", slot, r.slotCount))
	}
	return nil
}

func (r *Registry) writeSlot(slot uint, data []byte) error {
	_, err := r.file.WriteAt(data, int64(slot)*SlotSize)
	if err == nil {
		err = r.file.Sync()
	}
	if err != nil {
		return volumefs.ErrIOFailed.Wrap(err)
	}
	return nil
}

// Persist writes `geometry` into `slot`, replacing whatever was there.
func (r *Registry) Persist(geometry volumefs.VolumeGeometry, slot uint) error {
	err := r.checkSlot(slot)
	if err != nil {
		return err
	}
	data, err := EncodeSlot(geometry)
	if err != nil {
		return err
	}
	if err = r.writeSlot(slot, data); err != nil {
		return err
	}

	r.forgetSlot(slot)
	r.used.Set(int(slot), true)
	r.volumes[geometry.Name] = Entry{Geometry: geometry, Slot: slot}
	return nil
}

// Erase zeroes `slot`, making it free.
func (r *Registry) Erase(slot uint) error {
	err := r.checkSlot(slot)
	if err != nil {
		return err
	}
	if err = r.writeSlot(slot, make([]byte, SlotSize)); err != nil {
		return err
	}

	r.forgetSlot(slot)
	r.used.Set(int(slot), false)
	return nil
}

func (r *Registry) forgetSlot(slot uint) {
	for name, entry := range r.volumes {
		if entry.Slot == slot {
			delete(r.volumes, name)
		}
	}
}

// Register stores a new volume in the first free slot.
func (r *Registry) Register(geometry volumefs.VolumeGeometry) (Entry, error) {
	if _, exists := r.volumes[geometry.Name]; exists {
		return Entry{}, volumefs.ErrExists.WithMessage(
			fmt.Sprintf("a volume named %q already exists", geometry.Name))
	}

	slot, err := r.AllocateSlot()
	if err != nil {
		return Entry{}, err
	}
	if err = r.Persist(geometry, slot); err != nil {
		return Entry{}, err
	}

	r.logger.Info(
		"registered volume",
		zap.String("volume", geometry.Name),
		zap.Uint("slot", slot),
		zap.Uint("block_size", geometry.BlockSize),
		zap.Uint("block_count", geometry.BlockCount),
	)
	return Entry{Geometry: geometry, Slot: slot}, nil
}

// Unregister frees the slot of the volume named `name`.
func (r *Registry) Unregister(name string) (Entry, error) {
	entry, err := r.Lookup(name)
	if err != nil {
		return Entry{}, err
	}
	if err = r.Erase(entry.Slot); err != nil {
		return Entry{}, err
	}
	r.logger.Info("unregistered volume", zap.String("volume", name), zap.Uint("slot", entry.Slot))
	return entry, nil
}

func (r *Registry) Lookup(name string) (Entry, error) {
	entry, ok := r.volumes[name]
	if !ok {
		return Entry{}, volumefs.ErrNotFound.WithMessage(
			fmt.Sprintf("no volume named %q", name))
	}
	return entry, nil
}

// List returns every registered volume in slot order.
func (r *Registry) List() []Entry {
	result := make([]Entry, 0, len(r.volumes))
	for _, entry := range r.volumes {
		result = append(result, entry)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Slot < result[j].Slot
	})
	return result
}

func (r *Registry) Close() error {
	err := r.file.Close()
	if err != nil {
		return volumefs.ErrIOFailed.Wrap(err)
	}
	return nil
}
