// Package fsyncconfig loads the two layers of configuration this engine
// recognizes: a per-root ".fsync/config.toml" sync profile (SyncOptions,
// §4.1) and a global "~/.config/fsync/config.json" holding CLI defaults.
// Values in a file override the hardcoded defaults; environment variables
// are not consulted.
package fsyncconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	homedir "github.com/mitchellh/go-homedir"

	"github.com/foldersync/fsync/internal/model"
)

// RootProfile is the per-sync-root configuration, stored at
// "<root>/.fsync/config.toml".
type RootProfile struct {
	NewFilesAreVirtual                bool     `toml:"new_files_are_virtual"`
	LocalDiscoveryMode                string   `toml:"local_discovery_mode"` // "database_and_filesystem" | "filesystem_only" | "database_only"
	LocalDiscoveryPrefixes            []string `toml:"local_discovery_prefixes"`
	SubtreeDownloadPolicy             string   `toml:"subtree_download_policy"` // "keep_virtual" | "inherit_materialization"
	ConflictSuppressesOnChecksumMatch bool     `toml:"conflict_suppresses_on_checksum_match"`
}

const rootProfileRelPath = ".fsync/config.toml"

// LoadRootProfile reads the sync profile for root, returning defaults if
// no config file exists yet.
func LoadRootProfile(root string) (RootProfile, error) {
	profile := defaultRootProfile()

	path := filepath.Join(root, rootProfileRelPath)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return profile, nil
	}

	if _, err := toml.DecodeFile(path, &profile); err != nil {
		return RootProfile{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return profile, nil
}

// SaveRootProfile writes profile to root's sync config.
func SaveRootProfile(root string, profile RootProfile) error {
	dir := filepath.Join(root, ".fsync")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	path := filepath.Join(root, rootProfileRelPath)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(profile); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func defaultRootProfile() RootProfile {
	opts := model.DefaultSyncOptions()
	return RootProfile{
		NewFilesAreVirtual:                opts.NewFilesAreVirtual,
		LocalDiscoveryMode:                "database_and_filesystem",
		SubtreeDownloadPolicy:             "keep_virtual",
		ConflictSuppressesOnChecksumMatch: opts.ConflictSuppressesOnChecksumMatch,
	}
}

// ToSyncOptions converts the on-disk profile into the runtime SyncOptions
// the Reconciler consumes.
func (p RootProfile) ToSyncOptions() model.SyncOptions {
	opts := model.SyncOptions{
		NewFilesAreVirtual:                p.NewFilesAreVirtual,
		LocalDiscoveryPrefixes:            p.LocalDiscoveryPrefixes,
		ConflictSuppressesOnChecksumMatch: p.ConflictSuppressesOnChecksumMatch,
	}
	switch p.LocalDiscoveryMode {
	case "filesystem_only":
		opts.LocalDiscoveryMode = model.FilesystemOnly
	case "database_only":
		opts.LocalDiscoveryMode = model.DatabaseOnly
	default:
		opts.LocalDiscoveryMode = model.DatabaseAndFilesystem
	}
	switch p.SubtreeDownloadPolicy {
	case "inherit_materialization":
		opts.SubtreeDownloadPolicy = model.InheritMaterialization
	default:
		opts.SubtreeDownloadPolicy = model.KeepVirtualForNewFiles
	}
	return opts
}

// GlobalConfig holds CLI-wide defaults that aren't tied to any one sync
// root: log level/format, log file path for rotation, and a default root.
// DefaultRoot is stored and loaded with the rest of the file, but
// cmd/fsyncd does not read it: its --root flag defaults to ".".
type GlobalConfig struct {
	LogLevel  string `json:"log_level"`
	LogFormat string `json:"log_format"`
	LogFile   string `json:"log_file"`
	DefaultRoot string `json:"default_root"`
}

// ConfigDir returns "~/.config/fsync", resolving "~" via go-homedir so it
// works regardless of how HOME is set in the environment.
func ConfigDir() (string, error) {
	home, err := homedir.Dir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".config", "fsync"), nil
}

// LoadGlobalConfig reads "~/.config/fsync/config.json", returning an empty
// GlobalConfig if it doesn't exist yet.
func LoadGlobalConfig() (GlobalConfig, error) {
	dir, err := ConfigDir()
	if err != nil {
		return GlobalConfig{}, err
	}
	path := filepath.Join(dir, "config.json")

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return GlobalConfig{}, nil
	}
	if err != nil {
		return GlobalConfig{}, fmt.Errorf("read %s: %w", path, err)
	}

	var cfg GlobalConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return GlobalConfig{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// SaveGlobalConfig writes cfg to "~/.config/fsync/config.json".
func SaveGlobalConfig(cfg GlobalConfig) error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal global config: %w", err)
	}

	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
