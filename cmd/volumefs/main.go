package main

import (
	"log"
	"os"

	"github.com/dargueta/volumefs/config"
	"github.com/dargueta/volumefs/utilities/logging"
	"github.com/dargueta/volumefs/workspace"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

// runtime is the state shared by every command once the workspace is open.
type runtime struct {
	cfg    config.Config
	logger *zap.Logger
	ws     *workspace.Workspace
}

func (r *runtime) setUp(c *cli.Context) error {
	var opts []config.Option
	if path := c.String("config"); path != "" {
		opts = append(opts, config.WithConfigFile(path))
	}
	if c.IsSet("workspace") {
		opts = append(opts, config.WithOverride(config.KeyWorkspace, c.String("workspace")))
	}
	if c.IsSet("log-level") {
		opts = append(opts, config.WithOverride(config.KeyLogLevel, c.String("log-level")))
	}

	cfg, err := config.Load(opts...)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	ws, err := workspace.Open(cfg, logger)
	if err != nil {
		return err
	}

	r.cfg = cfg
	r.logger = logger
	r.ws = ws
	return nil
}

func (r *runtime) tearDown(c *cli.Context) error {
	if r.ws == nil {
		return nil
	}
	err := r.ws.Close()
	_ = r.logger.Sync()
	return err
}

func newApp() *cli.App {
	r := &runtime{}
	return &cli.App{
		Name:  "volumefs",
		Usage: "Create simulated block volumes and manage the files inside them",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "read settings from `FILE`",
			},
			&cli.StringFlag{
				Name:    "workspace",
				Aliases: []string{"w"},
				Usage:   "keep the registry and images in `DIR`",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "one of debug, info, warn, error",
			},
		},
		Before: r.setUp,
		After:  r.tearDown,
		Action: r.runShell,
		Commands: []*cli.Command{
			{
				Name:      "createdisk",
				Usage:     "Register a new volume and create its image",
				ArgsUsage: "NAME [BLOCKSIZE BLOCKS]",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "preset",
						Usage: "take the block size and count from preset `SLUG`",
					},
				},
				Action: r.createDisk,
			},
			{
				Name:      "removedisk",
				Usage:     "Unregister a volume and delete its image",
				ArgsUsage: "NAME",
				Action:    r.removeDisk,
			},
			{
				Name:      "formatdisk",
				Usage:     "Erase every file and folder on a volume",
				ArgsUsage: "NAME",
				Action:    r.formatDisk,
			},
			{
				Name:   "lsdisk",
				Usage:  "List registered volumes",
				Action: r.listDisks,
			},
			{
				Name:      "typedisk",
				Usage:     "Print every file stored on a volume",
				ArgsUsage: "NAME",
				Action:    r.typeDisk,
			},
			{
				Name:   "presets",
				Usage:  "List the volume shapes usable with --preset",
				Action: r.listPresets,
			},
			{
				Name:      "snapshot",
				Usage:     "Write a compressed copy of a volume's image",
				ArgsUsage: "NAME OUTPUT_FILE",
				Action:    r.snapshot,
			},
			{
				Name:      "restore",
				Usage:     "Replace a volume's image with a snapshot",
				ArgsUsage: "NAME SNAPSHOT_FILE",
				Action:    r.restore,
			},
			{
				Name:      "decompress",
				Usage:     "Expand a snapshot into a raw image file",
				ArgsUsage: "SNAPSHOT_FILE OUTPUT_FILE",
				Action:    r.decompress,
			},
			{
				Name:   "shell",
				Usage:  "Start the interactive shell (the default)",
				Action: r.runShell,
			},
		},
	}
}

func main() {
	err := newApp().Run(os.Args)
	if err != nil {
		log.Fatalf("fatal error: %s", oneLine(err))
	}
}
