// Package config loads and persists the sync configuration file. The file
// is JSON because the tool writes refreshed credentials back into it, and
// round-tripping user comments is not a concern for machine-managed fields.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultFileName is the config file looked up in the working directory
// when no explicit path is given.
const DefaultFileName = "sync_config.json"

// Defaults applied to zero-valued tuning fields.
const (
	DefaultMaxParallelWorkers = 4
	DefaultDiffThreshold      = 15
	DefaultRateLimitMS        = 200
)

// Task is one sync pairing between a local path and a cloud location.
// Local may be a single Markdown file or a directory; Cloud is a folder
// token on the document service.
type Task struct {
	// Note is a free-form label shown in logs and stats.
	Note string `json:"note,omitempty"`

	Local string `json:"local"`
	Cloud string `json:"cloud"`

	// VaultRoot overrides the resource-index root for this task. Empty
	// means the local path itself (or its directory for file tasks).
	VaultRoot string `json:"vault_root,omitempty"`

	Enabled bool `json:"enabled"`

	// Force pushes local content even when modification times say the
	// remote side is newer.
	Force bool `json:"force,omitempty"`

	// Overwrite replaces the whole remote document on upload instead of
	// computing an incremental edit script.
	Overwrite bool `json:"overwrite,omitempty"`
}

// Config is the on-disk configuration. Credential fields are written back
// by the tool after login and token refresh.
type Config struct {
	AppID     string `json:"feishu_app_id"`
	AppSecret string `json:"feishu_app_secret"`

	UserAccessToken  string `json:"feishu_user_access_token,omitempty"`
	UserRefreshToken string `json:"feishu_user_refresh_token,omitempty"`

	// AssetsToken is the drive folder that receives uploaded attachments.
	AssetsToken string `json:"feishu_assets_token,omitempty"`

	MaxParallelWorkers int `json:"max_parallel_workers,omitempty"`
	DiffThreshold      int `json:"diff_threshold,omitempty"`
	RateLimitMS        int `json:"rate_limit_ms,omitempty"`

	Tasks []Task `json:"tasks"`

	// path the config was loaded from, for Save.
	path string
}

// Load reads and validates the config at path. An empty path loads
// DefaultFileName from the working directory.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultFileName
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	cfg.path = path
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.MaxParallelWorkers <= 0 {
		c.MaxParallelWorkers = DefaultMaxParallelWorkers
	}

	if c.DiffThreshold <= 0 {
		c.DiffThreshold = DefaultDiffThreshold
	}

	if c.RateLimitMS <= 0 {
		c.RateLimitMS = DefaultRateLimitMS
	}
}

// Validate checks the fields a sync run cannot proceed without.
func (c *Config) Validate() error {
	if c.AppID == "" {
		return errors.New("config: feishu_app_id is required")
	}

	if c.AppSecret == "" {
		return errors.New("config: feishu_app_secret is required")
	}

	for i, t := range c.Tasks {
		if !t.Enabled {
			continue
		}

		if t.Local == "" {
			return fmt.Errorf("config: task %d: local path is required", i)
		}

		if t.Cloud == "" {
			return fmt.Errorf("config: task %d: cloud folder token is required", i)
		}
	}

	return nil
}

// EnabledTasks returns the tasks marked enabled, in file order.
func (c *Config) EnabledTasks() []Task {
	out := make([]Task, 0, len(c.Tasks))

	for _, t := range c.Tasks {
		if t.Enabled {
			out = append(out, t)
		}
	}

	return out
}

// Path returns the file the config was loaded from.
func (c *Config) Path() string {
	return c.path
}

// Save writes the config back to the file it was loaded from, atomically,
// preserving refreshed credentials across runs.
func (c *Config) Save() error {
	if c.path == "" {
		return errors.New("config: no file path to save to")
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("config: encoding: %w", err)
	}

	data = append(data, '\n')

	dir := filepath.Dir(c.path)

	tmp, err := os.CreateTemp(dir, ".sync_config-*.tmp")
	if err != nil {
		return fmt.Errorf("config: creating temp file: %w", err)
	}

	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)

		return fmt.Errorf("config: writing temp file: %w", err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)

		return fmt.Errorf("config: closing temp file: %w", err)
	}

	if err := os.Rename(tmpName, c.path); err != nil {
		os.Remove(tmpName)

		return fmt.Errorf("config: replacing %s: %w", c.path, err)
	}

	return nil
}
