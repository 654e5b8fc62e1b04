package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"easybook/internal/booking"
)

// Input encodings accepted by InputEncoding.
const (
	EncodingAuto     = "auto"
	EncodingUTF8     = "utf-8"
	EncodingShiftJIS = "shift_jis"
)

// BasicAuthConfig holds HTTP Basic Auth credentials for the Web UI/API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// ReportConfig controls the weekly report export.
type ReportConfig struct {
	// Width / Height are the capture viewport in CSS pixels.
	Width  int `yaml:"width" json:"width"`
	Height int `yaml:"height" json:"height"`
	// TimeoutSec bounds one page capture.
	TimeoutSec int `yaml:"timeout_sec" json:"timeout_sec"`
	// MaxEventsPerCell limits events drawn per facility/day cell; the rest
	// collapse into "...".
	MaxEventsPerCell int `yaml:"max_events_per_cell" json:"max_events_per_cell"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the Web UI and API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone that event dates and times belong to.
	Timezone string `yaml:"timezone" json:"timezone"`

	// WatchDir is the drop directory the portal exports land in. The newest
	// *.csv there is loaded on start and on every refresh.
	WatchDir string `yaml:"watch_dir" json:"watch_dir"`

	// OutputPath, if set, receives events.json after every successful load.
	OutputPath string `yaml:"output_path" json:"output_path"`

	// RefreshCron is a cron-style schedule for re-checking WatchDir.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	LogLevel string `yaml:"log_level" json:"log_level"`

	// InputEncoding is one of "auto", "utf-8", "shift_jis".
	InputEncoding string `yaml:"input_encoding" json:"input_encoding"`

	// UploadRatePerMinute throttles POST /api/upload per client address.
	UploadRatePerMinute int `yaml:"upload_rate_per_minute" json:"upload_rate_per_minute"`

	CORSOrigins []string `yaml:"cors_origins" json:"cors_origins"`

	Report ReportConfig `yaml:"report" json:"report"`

	// Mapping describes the export's column layout and facilities.
	Mapping booking.Mapping `yaml:"mapping" json:"mapping"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:              "127.0.0.1:8080",
		Timezone:            "Asia/Tokyo",
		WatchDir:            "./csv",
		OutputPath:          "",
		RefreshCron:         "*/5 * * * *",
		LogLevel:            "info",
		InputEncoding:       EncodingAuto,
		UploadRatePerMinute: 10,
		CORSOrigins:         []string{},
		Report: ReportConfig{
			Width:            1200,
			Height:           600,
			TimeoutSec:       30,
			MaxEventsPerCell: 3,
		},
		Mapping:   booking.DefaultMapping(),
		BasicAuth: nil,
	}
}

// Normalize fills in missing/zero values with defaults so that
// partially-filled configs still behave.
func (c *Config) Normalize() {
	def := DefaultConfig()
	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	if c.RefreshCron == "" {
		c.RefreshCron = def.RefreshCron
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	switch strings.ToLower(c.InputEncoding) {
	case EncodingAuto, EncodingUTF8, EncodingShiftJIS:
		c.InputEncoding = strings.ToLower(c.InputEncoding)
	default:
		c.InputEncoding = EncodingAuto
	}
	if c.UploadRatePerMinute <= 0 {
		c.UploadRatePerMinute = def.UploadRatePerMinute
	}
	if c.CORSOrigins == nil {
		c.CORSOrigins = []string{}
	}
	if c.Report.Width <= 0 {
		c.Report.Width = def.Report.Width
	}
	if c.Report.Height <= 0 {
		c.Report.Height = def.Report.Height
	}
	if c.Report.TimeoutSec <= 0 {
		c.Report.TimeoutSec = def.Report.TimeoutSec
	}
	if c.Report.MaxEventsPerCell <= 0 {
		c.Report.MaxEventsPerCell = def.Report.MaxEventsPerCell
	}
	// A config without any mapping section gets the portal's built-in layout.
	if c.Mapping.DateColumn == "" && c.Mapping.RoomColumn == "" && len(c.Mapping.Facilities) == 0 {
		c.Mapping = def.Mapping
	}
	c.Mapping.Normalize()
}

// Validate reports configuration errors that Normalize cannot repair.
func (c *Config) Validate() error {
	if err := c.Mapping.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults and validate the mapping
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".easybook-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
