// Package config loads settings from defaults, an optional config file, and
// environment variables, in increasing order of precedence. Command-line flags
// are applied on top as overrides.
//
// Every key can be set from the environment by upper-casing it, replacing "."
// with "_", and adding the VOLUMEFS_ prefix, e.g. VOLUMEFS_REGISTRY_SLOTS. The
// workspace can also be set with WORKSPACE.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dargueta/volumefs"
	"github.com/dargueta/volumefs/disks"
	"github.com/hashicorp/go-multierror"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

const EnvPrefix = "VOLUMEFS"

// LegacyWorkspaceEnv is checked for the workspace directory if the prefixed
// variable isn't set.
const LegacyWorkspaceEnv = "WORKSPACE"

const (
	KeyWorkspace     = "workspace"
	KeyRegistrySlots = "registry.slots"
	KeyMetadataSize  = "volume.metadata_size"
	KeyMinBlockSize  = "limits.min_block_size"
	KeyMinBlockCount = "limits.min_block_count"
	KeyLogLevel      = "log.level"
	KeyShellHistory  = "shell.history"
)

const separator = "."

// HistoryFileName is the shell history file's name inside the workspace when
// no other path is configured.
const HistoryFileName = ".history"

type Config struct {
	// Workspace is the directory holding the registry and volume images.
	Workspace          string
	RegistrySlots      uint
	MetadataRegionSize uint
	MinBlockSize       uint
	MinBlockCount      uint
	LogLevel           string
	HistoryFile        string
}

// RegistryPath is where the registry file lives.
func (c Config) RegistryPath() string {
	return filepath.Join(c.Workspace, "registry.vfr")
}

func (c Config) Limits() disks.Limits {
	return disks.Limits{MinBlockSize: c.MinBlockSize, MinBlockCount: c.MinBlockCount}
}

type options struct {
	path      string
	overrides map[string]any
}

type Option func(*options)

// WithConfigFile reads settings from the file at `path`. Its format is
// determined by the extension.
func WithConfigFile(path string) Option {
	return func(o *options) {
		o.path = path
	}
}

// WithOverride sets `key` to `value`, taking precedence over everything else.
func WithOverride(key string, value any) Option {
	return func(o *options) {
		o.overrides[key] = value
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(KeyWorkspace, "~/.volumefs")
	v.SetDefault(KeyRegistrySlots, disks.DefaultSlotCount)
	v.SetDefault(KeyMetadataSize, volumefs.DefaultMetadataRegionSize)
	v.SetDefault(KeyMinBlockSize, disks.DefaultLimits.MinBlockSize)
	v.SetDefault(KeyMinBlockCount, disks.DefaultLimits.MinBlockCount)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyShellHistory, "")

	if legacy := os.Getenv(LegacyWorkspaceEnv); legacy != "" {
		v.SetDefault(KeyWorkspace, legacy)
	}
}

// Load builds the configuration.
func Load(opts ...Option) (Config, error) {
	o := options{overrides: map[string]any{}}
	for _, opt := range opts {
		opt(&o)
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(separator, "_"))
	setDefaults(v)

	if o.path != "" {
		v.SetConfigFile(o.path)
		err := v.ReadInConfig()
		if err != nil {
			return Config{}, volumefs.ErrInvalidArgument.Wrap(
				fmt.Errorf("failed to read config file %q: %w", o.path, err))
		}
	}
	for key, value := range o.overrides {
		v.Set(key, value)
	}

	var errs error
	toUint := func(key string) uint {
		value, err := cast.ToUintE(v.Get(key))
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", key, err))
		}
		return value
	}

	cfg := Config{
		RegistrySlots:      toUint(KeyRegistrySlots),
		MetadataRegionSize: toUint(KeyMetadataSize),
		MinBlockSize:       toUint(KeyMinBlockSize),
		MinBlockCount:      toUint(KeyMinBlockCount),
		LogLevel:           cast.ToString(v.Get(KeyLogLevel)),
	}

	workspace, err := homedir.Expand(cast.ToString(v.Get(KeyWorkspace)))
	if err != nil {
		errs = multierror.Append(errs, fmt.Errorf("%s: %w", KeyWorkspace, err))
	}
	cfg.Workspace = workspace

	history := cast.ToString(v.Get(KeyShellHistory))
	if history == "" {
		cfg.HistoryFile = filepath.Join(workspace, HistoryFileName)
	} else if cfg.HistoryFile, err = homedir.Expand(history); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("%s: %w", KeyShellHistory, err))
	}

	if errs == nil {
		errs = cfg.validate()
	}
	if errs != nil {
		return Config{}, volumefs.ErrInvalidArgument.Wrap(errs)
	}
	return cfg, nil
}

func (c Config) validate() error {
	var errs error
	if c.Workspace == "" {
		errs = multierror.Append(errs, fmt.Errorf("%s can't be empty", KeyWorkspace))
	}
	if c.RegistrySlots == 0 {
		errs = multierror.Append(errs, fmt.Errorf("%s must be positive", KeyRegistrySlots))
	}
	if c.MinBlockSize == 0 {
		errs = multierror.Append(errs, fmt.Errorf("%s must be positive", KeyMinBlockSize))
	}
	return errs
}
