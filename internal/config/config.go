// Package config loads the smartcapture configuration file and applies
// SMARTCAPTURE_* environment overrides.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/teslashibe/go-smartcapture/pkg/camera"
	"github.com/teslashibe/go-smartcapture/pkg/scan"
)

const (
	// DefaultPath is used when neither a path nor SMARTCAPTURE_CONFIG is given.
	DefaultPath = "~/.config/smartcapture/config.json"

	DefaultPort = "8080"
)

// Environment overrides, applied after the file is read.
const (
	EnvConfig      = "SMARTCAPTURE_CONFIG"
	EnvLogLevel    = "SMARTCAPTURE_LOG_LEVEL"
	EnvUploadURL   = "SMARTCAPTURE_UPLOAD_URL"
	EnvUploadToken = "SMARTCAPTURE_UPLOAD_TOKEN"
	EnvCamera      = "SMARTCAPTURE_CAMERA"
	EnvPort        = "SMARTCAPTURE_PORT"
)

// Config holds every user-editable setting.
type Config struct {
	Scan      scan.Config   `json:"scan"`
	Camera    camera.Config `json:"camera"`
	Upload    Upload        `json:"upload"`
	Dashboard Dashboard     `json:"dashboard"`
	Journal   Journal       `json:"journal"`
	Inbox     Inbox         `json:"inbox"`
	Logging   Logging       `json:"logging"`
}

// Upload selects where captures go. URL wins over Dir; neither disables
// uploading.
type Upload struct {
	URL        string `json:"url"`
	Token      string `json:"token"`
	FieldName  string `json:"field_name"`
	Dir        string `json:"dir"`
	TimeoutSec int    `json:"timeout_sec"`
	MaxRetries int    `json:"max_retries"`
}

// Enabled reports whether any upload target is configured.
func (u Upload) Enabled() bool {
	return u.URL != "" || u.Dir != ""
}

// Dashboard configures the web UI.
type Dashboard struct {
	Enabled   bool   `json:"enabled"`
	Port      string `json:"port"`
	StaticDir string `json:"static_dir"` // Optional asset directory served at /
}

// Journal configures the capture journal. An empty path disables it.
type Journal struct {
	Path string `json:"path"`
}

// Inbox configures the folder watcher.
type Inbox struct {
	Dir       string `json:"dir"`
	OutputDir string `json:"output_dir"` // Defaults to Dir
	SettleMs  int    `json:"settle_ms"`
}

// Logging controls logging verbosity.
type Logging struct {
	Level string `json:"level"` // debug, info, warn, error
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Scan:   scan.DefaultConfig(),
		Camera: camera.DefaultConfig(),
		Upload: Upload{
			FieldName:  "image",
			TimeoutSec: 30,
			MaxRetries: 2,
		},
		Dashboard: Dashboard{
			Enabled: true,
			Port:    DefaultPort,
		},
		Journal: Journal{
			Path: "~/.local/share/smartcapture/journal.db",
		},
		Inbox: Inbox{
			SettleMs: 500,
		},
		Logging: Logging{
			Level: "info",
		},
	}
}

// Load reads configuration from path, falling back to SMARTCAPTURE_CONFIG and
// then DefaultPath. A missing file yields the defaults. Fields absent from the
// file keep their default values.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvConfig)
	}
	if path == "" {
		path = DefaultPath
	}

	expanded, err := ExpandUser(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(expanded)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("config: %w", err)
	default:
		defer f.Close()
		dec := json.NewDecoder(f)
		dec.DisallowUnknownFields()
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("config: %s: %w", expanded, err)
		}
	}

	cfg.applyEnv()

	if cfg.Journal.Path, err = ExpandUser(cfg.Journal.Path); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv(EnvUploadURL); v != "" {
		c.Upload.URL = v
	}
	if v := os.Getenv(EnvUploadToken); v != "" {
		c.Upload.Token = v
	}
	if v := os.Getenv(EnvCamera); v != "" {
		c.Camera.Device = v
	}
	if v := os.Getenv(EnvPort); v != "" {
		c.Dashboard.Port = v
	}
}

// Validate collects problems from every section.
func (c *Config) Validate() []string {
	var errs []string
	for _, e := range c.Scan.Validate() {
		errs = append(errs, "scan: "+e)
	}
	for _, e := range c.Camera.Validate() {
		errs = append(errs, "camera: "+e)
	}
	if c.Upload.TimeoutSec < 0 || c.Upload.MaxRetries < 0 {
		errs = append(errs, "upload: timeout_sec and max_retries must not be negative")
	}
	if c.Dashboard.Enabled && c.Dashboard.Port == "" {
		errs = append(errs, "dashboard: port is required")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("logging: unknown level %q", c.Logging.Level))
	}
	return errs
}

// Write encodes the configuration as indented JSON.
func (c *Config) Write(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(c)
}

// Save writes the configuration to path, creating parent directories.
func (c *Config) Save(path string) error {
	expanded, err := ExpandUser(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	f, err := os.Create(expanded)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := c.Write(f); err != nil {
		f.Close()
		return fmt.Errorf("config: %w", err)
	}
	return f.Close()
}

// ExpandUser replaces a leading ~ with the home directory.
func ExpandUser(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	if path == "~" {
		return home, nil
	}

	return filepath.Join(home, path[2:]), nil
}
