package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/dargueta/volumefs"
	"github.com/dargueta/volumefs/disks"
	"github.com/dargueta/volumefs/utilities/compression"
	"github.com/spf13/cast"
	"github.com/urfave/cli/v2"
)

// oneLine flattens an error message so it prints on a single line.
func oneLine(err error) string {
	return strings.Join(strings.Fields(err.Error()), " ")
}

// parseGeometry builds a geometry from `NAME BLOCKSIZE BLOCKS` or from a name
// and a preset slug.
func parseGeometry(name, preset string, dimensions []string) (volumefs.VolumeGeometry, error) {
	if preset != "" {
		if len(dimensions) != 0 {
			return volumefs.VolumeGeometry{}, volumefs.ErrInvalidArgument.WithMessage(
				"give either a preset or a block size and count, not both")
		}
		p, err := disks.GetPreset(preset)
		if err != nil {
			return volumefs.VolumeGeometry{}, err
		}
		return p.Geometry(name), nil
	}

	if len(dimensions) != 2 {
		return volumefs.VolumeGeometry{}, volumefs.ErrInvalidArgument.WithMessage(
			"expected a block size and a block count")
	}
	blockSize, err := cast.ToUintE(dimensions[0])
	if err != nil {
		return volumefs.VolumeGeometry{}, volumefs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("bad block size %q", dimensions[0]))
	}
	blockCount, err := cast.ToUintE(dimensions[1])
	if err != nil {
		return volumefs.VolumeGeometry{}, volumefs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("bad block count %q", dimensions[1]))
	}
	return volumefs.VolumeGeometry{Name: name, BlockSize: blockSize, BlockCount: blockCount}, nil
}

func requireArgs(c *cli.Context, count int) error {
	if c.NArg() != count {
		return cli.Exit(
			fmt.Sprintf("usage: %s %s %s", c.App.Name, c.Command.Name, c.Command.ArgsUsage),
			2,
		)
	}
	return nil
}

func (r *runtime) createDisk(c *cli.Context) error {
	if c.NArg() < 1 {
		return requireArgs(c, 1)
	}
	args := c.Args().Slice()
	geometry, err := parseGeometry(args[0], c.String("preset"), args[1:])
	if err != nil {
		return err
	}

	entry, err := r.ws.CreateVolume(geometry)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "created %s in slot %d\n", entry.Geometry, entry.Slot)
	return nil
}

func (r *runtime) removeDisk(c *cli.Context) error {
	if err := requireArgs(c, 1); err != nil {
		return err
	}
	return r.ws.RemoveVolume(c.Args().First())
}

func (r *runtime) formatDisk(c *cli.Context) error {
	if err := requireArgs(c, 1); err != nil {
		return err
	}
	return r.ws.FormatVolume(c.Args().First())
}

func (r *runtime) typeDisk(c *cli.Context) error {
	if err := requireArgs(c, 1); err != nil {
		return err
	}
	return printVolumeFiles(r.ws, c.Args().First(), c.App.Writer)
}

func (r *runtime) listDisks(c *cli.Context) error {
	renderVolumes(c.App.Writer, r.ws.ListVolumes(), r.ws.ActiveName())
	return nil
}

func (r *runtime) listPresets(c *cli.Context) error {
	renderPresets(c.App.Writer, disks.Presets())
	return nil
}

func (r *runtime) snapshot(c *cli.Context) error {
	if err := requireArgs(c, 2); err != nil {
		return err
	}

	output, err := os.Create(c.Args().Get(1))
	if err != nil {
		return volumefs.ErrIOFailed.Wrap(err)
	}
	defer output.Close()

	written, err := r.ws.Snapshot(c.Args().Get(0), output)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "wrote %d compressed bytes\n", written)
	return nil
}

func (r *runtime) restore(c *cli.Context) error {
	if err := requireArgs(c, 2); err != nil {
		return err
	}

	input, err := os.Open(c.Args().Get(1))
	if err != nil {
		return volumefs.ErrIOFailed.Wrap(err)
	}
	defer input.Close()
	return r.ws.Restore(c.Args().Get(0), input)
}

func (r *runtime) decompress(c *cli.Context) error {
	if err := requireArgs(c, 2); err != nil {
		return err
	}
	written, err := decompressFile(c.Args().Get(0), c.Args().Get(1))
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "expanded snapshot to %d bytes\n", written)
	return nil
}

// decompressFile expands the snapshot at `sourcePath` into a raw image at
// `outputPath`. A partially written output is removed.
func decompressFile(sourcePath, outputPath string) (int64, error) {
	source, err := os.Open(sourcePath)
	if err != nil {
		return 0, volumefs.ErrIOFailed.Wrap(
			fmt.Errorf("failed to open %q for reading: %w", sourcePath, err))
	}
	defer source.Close()

	output, err := os.Create(outputPath)
	if err != nil {
		return 0, volumefs.ErrIOFailed.Wrap(
			fmt.Errorf("failed to open %q for writing: %w", outputPath, err))
	}

	written, err := compression.DecompressImage(source, output)
	closeErr := output.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(outputPath)
		return 0, volumefs.ErrIOFailed.Wrap(err)
	}
	return written, nil
}
