package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dargueta/volumefs"
	"github.com/dargueta/volumefs/config"
	"github.com/mitchellh/go-homedir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	for _, name := range []string{
		config.LegacyWorkspaceEnv,
		"VOLUMEFS_WORKSPACE",
		"VOLUMEFS_REGISTRY_SLOTS",
		"VOLUMEFS_LOG_LEVEL",
	} {
		t.Setenv(name, "")
		os.Unsetenv(name)
	}
}

func TestLoad__Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := config.Load()
	require.NoError(t, err)

	home, err := homedir.Dir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".volumefs"), cfg.Workspace)
	assert.EqualValues(t, 1000, cfg.RegistrySlots)
	assert.EqualValues(t, volumefs.DefaultMetadataRegionSize, cfg.MetadataRegionSize)
	assert.EqualValues(t, 32, cfg.MinBlockSize)
	assert.EqualValues(t, 500, cfg.MinBlockCount)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, filepath.Join(cfg.Workspace, config.HistoryFileName), cfg.HistoryFile)
	assert.Equal(t, filepath.Join(cfg.Workspace, "registry.vfr"), cfg.RegistryPath())
}

func TestLoad__EnvironmentAndLegacyWorkspace(t *testing.T) {
	clearEnv(t)
	legacy := t.TempDir()
	t.Setenv(config.LegacyWorkspaceEnv, legacy)

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, legacy, cfg.Workspace)

	preferred := t.TempDir()
	t.Setenv("VOLUMEFS_WORKSPACE", preferred)
	t.Setenv("VOLUMEFS_REGISTRY_SLOTS", "12")
	cfg, err = config.Load()
	require.NoError(t, err)
	assert.Equal(t, preferred, cfg.Workspace, "prefixed variable should win")
	assert.EqualValues(t, 12, cfg.RegistrySlots)
}

func TestLoad__FileAndOverrides(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "volumefs.yaml")
	content := "workspace: " + dir + "\n" +
		"registry:\n  slots: 7\n" +
		"limits:\n  min_block_count: 50\n" +
		"log:\n  level: debug\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := config.Load(
		config.WithConfigFile(path),
		config.WithOverride(config.KeyLogLevel, "warn"),
	)
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.Workspace)
	assert.EqualValues(t, 7, cfg.RegistrySlots)
	assert.EqualValues(t, 50, cfg.Limits().MinBlockCount)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestLoad__Errors(t *testing.T) {
	clearEnv(t)

	_, err := config.Load(config.WithConfigFile(filepath.Join(t.TempDir(), "missing.yaml")))
	assert.ErrorIs(t, err, volumefs.ErrInvalidArgument)

	_, err = config.Load(config.WithOverride(config.KeyRegistrySlots, -4))
	assert.ErrorIs(t, err, volumefs.ErrInvalidArgument)

	_, err = config.Load(config.WithOverride(config.KeyRegistrySlots, 0))
	assert.ErrorIs(t, err, volumefs.ErrInvalidArgument)
}
