package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// NOTE: the YAML file is the primary source; PROMOCAL_* environment
// variables (optionally from a .env file) override it after loading.

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// FeedConfig describes a store's ICS feed that is synced into promotions.
type FeedConfig struct {
	// ID is an internal identifier used for de-dup and logging.
	ID string `yaml:"id" json:"id"`
	// StoreID is the store the imported promotions belong to.
	StoreID string `yaml:"store_id" json:"store_id"`
	// URL is the ICS endpoint.
	URL string `yaml:"url" json:"url"`
}

// DatabaseConfig selects the promotion source backend.
type DatabaseConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `yaml:"driver" json:"driver"`
	DSN    string `yaml:"dsn" json:"dsn"`
}

// CacheConfig tunes the expansion cache.
type CacheConfig struct {
	Enabled         bool          `yaml:"enabled" json:"enabled"`
	TTL             time.Duration `yaml:"ttl" json:"ttl"`
	MaxEntries      int           `yaml:"max_entries" json:"max_entries"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" json:"cleanup_interval"`
}

// LogConfig configures internal/log.
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA timezone used for default windows and output.
	Timezone string `yaml:"timezone" json:"timezone"`

	// WeekStart controls where the default window begins. Supported values:
	//   - "monday" (default)
	//   - "sunday"
	WeekStart string `yaml:"week_start" json:"week_start"`

	// WindowMonths is how far past the start of the current week the default
	// window reaches.
	WindowMonths int `yaml:"window_months" json:"window_months"`

	// MaxOccurrencesPerPromotion caps a single promotion's expansion in one
	// listing.
	MaxOccurrencesPerPromotion int `yaml:"max_occurrences_per_promotion" json:"max_occurrences_per_promotion"`

	DefaultLocale string   `yaml:"default_locale" json:"default_locale"`
	Locales       []string `yaml:"locales" json:"locales"`

	Database DatabaseConfig `yaml:"database" json:"database"`
	Cache    CacheConfig    `yaml:"cache" json:"cache"`
	Log      LogConfig      `yaml:"log" json:"log"`

	// FeedSync is a cron-style schedule for ICS feed imports.
	FeedSync string       `yaml:"feed_sync" json:"feed_sync"`
	Feeds    []FeedConfig `yaml:"feeds" json:"feeds"`

	// CacheDir holds conditional-GET metadata and bodies of fetched feeds.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:                     "127.0.0.1:8080",
		Timezone:                   "Europe/Warsaw",
		WeekStart:                  "monday",
		WindowMonths:               1,
		MaxOccurrencesPerPromotion: 5000,
		DefaultLocale:              "en",
		Locales:                    []string{"en", "pl"},
		Database: DatabaseConfig{
			Driver: DriverSQLite,
			DSN:    "promocal.db",
		},
		Cache: CacheConfig{
			Enabled:         true,
			TTL:             15 * time.Minute,
			MaxEntries:      1000,
			CleanupInterval: 5 * time.Minute,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		FeedSync: "*/30 * * * *",
		Feeds:    []FeedConfig{},
		CacheDir: "./var/feed-cache",
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()

	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	switch c.WeekStart {
	case "monday", "sunday":
	default:
		c.WeekStart = def.WeekStart
	}
	if c.WindowMonths <= 0 {
		c.WindowMonths = def.WindowMonths
	}
	if c.MaxOccurrencesPerPromotion <= 0 {
		c.MaxOccurrencesPerPromotion = def.MaxOccurrencesPerPromotion
	}
	if c.DefaultLocale == "" {
		c.DefaultLocale = def.DefaultLocale
	}
	if len(c.Locales) == 0 {
		c.Locales = def.Locales
	}
	if !slices.Contains(c.Locales, c.DefaultLocale) {
		c.Locales = append(c.Locales, c.DefaultLocale)
	}

	c.Database.Driver = strings.ToLower(c.Database.Driver)
	if c.Database.Driver == "" {
		c.Database.Driver = def.Database.Driver
	}
	if c.Database.DSN == "" && c.Database.Driver == DriverSQLite {
		c.Database.DSN = def.Database.DSN
	}

	if c.Cache.TTL <= 0 {
		c.Cache.TTL = def.Cache.TTL
	}
	if c.Cache.MaxEntries <= 0 {
		c.Cache.MaxEntries = def.Cache.MaxEntries
	}
	if c.Cache.CleanupInterval <= 0 {
		c.Cache.CleanupInterval = def.Cache.CleanupInterval
	}

	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = def.Log.Format
	}
	if c.FeedSync == "" {
		c.FeedSync = def.FeedSync
	}
	if c.Feeds == nil {
		c.Feeds = []FeedConfig{}
	}
	if c.CacheDir == "" {
		c.CacheDir = def.CacheDir
	}
}

// Validate reports settings that Normalize cannot repair.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("config: unsupported database driver %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return errors.New("config: database dsn is empty")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("config: invalid timezone %q: %w", c.Timezone, err)
	}
	for i, f := range c.Feeds {
		if f.URL == "" || f.StoreID == "" {
			return fmt.Errorf("config: feed #%d needs both url and store_id", i)
		}
	}
	return nil
}

// Location resolves Timezone, falling back to time.Local.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// Load loads configuration from the given YAML path and applies environment
// overrides.
//
// Behavior:
//   - If the file does not exist:
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - apply PROMOCAL_* overrides
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	// A missing .env file is fine; existing variables are not overridden.
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			applyEnv(cfg)
			cfg.Normalize()
			return cfg, nil
		}
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	applyEnv(cfg)
	cfg.Normalize()

	return cfg, nil
}

// applyEnv overrides selected fields from PROMOCAL_* variables.
func applyEnv(c *Config) {
	overrides := map[string]*string{
		"PROMOCAL_LISTEN":          &c.Listen,
		"PROMOCAL_TIMEZONE":        &c.Timezone,
		"PROMOCAL_DATABASE_DRIVER": &c.Database.Driver,
		"PROMOCAL_DATABASE_DSN":    &c.Database.DSN,
		"PROMOCAL_LOG_LEVEL":       &c.Log.Level,
		"PROMOCAL_LOG_FORMAT":      &c.Log.Format,
	}
	for key, dst := range overrides {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
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

	tmp, err := os.CreateTemp(dir, ".promocal-config-*.tmp")
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
