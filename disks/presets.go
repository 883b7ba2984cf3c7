package disks

import (
	_ "embed"
	"encoding/csv"
	"fmt"
	"sort"
	"strings"

	"github.com/dargueta/volumefs"
	"github.com/gocarina/gocsv"
)

// Preset is a named volume shape that can be used instead of spelling out the
// block size and count.
type Preset struct {
	Slug       string `csv:"slug"`
	BlockSize  uint   `csv:"block_size"`
	BlockCount uint   `csv:"block_count"`
	Notes      string `csv:"notes"`
}

// Geometry returns the geometry of a volume named `name` with this preset's
// shape.
func (p Preset) Geometry(name string) volumefs.VolumeGeometry {
	return volumefs.VolumeGeometry{
		Name:       name,
		BlockSize:  p.BlockSize,
		BlockCount: p.BlockCount,
	}
}

//go:embed volume-presets.csv
var volumePresetsRawCSV string
var volumePresets map[string]Preset

func GetPreset(slug string) (Preset, error) {
	preset, ok := volumePresets[slug]
	if ok {
		return preset, nil
	}
	return Preset{}, volumefs.ErrNotFound.WithMessage(
		fmt.Sprintf("no volume preset exists with slug %q", slug))
}

// Presets returns every preset, sorted by total size and then by slug.
func Presets() []Preset {
	result := make([]Preset, 0, len(volumePresets))
	for _, preset := range volumePresets {
		result = append(result, preset)
	}
	sort.Slice(result, func(i, j int) bool {
		sizeI := uint64(result[i].BlockSize) * uint64(result[i].BlockCount)
		sizeJ := uint64(result[j].BlockSize) * uint64(result[j].BlockCount)
		if sizeI != sizeJ {
			return sizeI < sizeJ
		}
		return result[i].Slug < result[j].Slug
	})
	return result
}

func parsePresets(rawCSV string) (map[string]Preset, error) {
	csvReader := csv.NewReader(strings.NewReader(rawCSV))
	csvReader.Comma = '|'
	// Notes use `"` for inches.
	csvReader.LazyQuotes = true

	var rows []Preset
	err := gocsv.UnmarshalCSV(csvReader, &rows)
	if err != nil {
		return nil, fmt.Errorf("failed to decode volume presets: %w", err)
	}

	presets := make(map[string]Preset, len(rows))
	for i, row := range rows {
		if _, exists := presets[row.Slug]; exists {
			return nil, fmt.Errorf(
				"duplicate definition for preset %q found on row %d", row.Slug, i+1)
		}
		if row.BlockSize == 0 || row.BlockCount == 0 {
			return nil, fmt.Errorf("preset %q on row %d has no blocks", row.Slug, i+1)
		}
		presets[row.Slug] = row
	}
	return presets, nil
}

func init() {
	var err error
	volumePresets, err = parsePresets(volumePresetsRawCSV)
	if err != nil {
		panic(err)
	}
}
