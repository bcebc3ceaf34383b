package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// FeedConfig describes a single ICS subscription imported on schedule.
type FeedConfig struct {
	// ID is an internal identifier used for caching and logging.
	ID string `yaml:"id" json:"id"`
	// Name is a human-friendly label.
	Name string `yaml:"name" json:"name"`
	// URL is the ICS subscription endpoint.
	URL string `yaml:"url" json:"url"`
	// Owner receives the imported events. Defaults to "default".
	Owner string `yaml:"owner" json:"owner"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API. The
// username doubles as the owner of every event created through it.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// StorageConfig selects the event store.
type StorageConfig struct {
	// Driver is "sqlite" (default) or "postgres".
	Driver string `yaml:"driver" json:"driver"`
	// DSN is a file path for sqlite or a connection string for postgres.
	DSN string `yaml:"dsn" json:"dsn"`
}

// SchedulingConfig tunes conflict detection and slot suggestions.
type SchedulingConfig struct {
	AdjacencyBuffer time.Duration `yaml:"adjacency_buffer" json:"adjacency_buffer"`
	TravelBuffer    time.Duration `yaml:"travel_buffer" json:"travel_buffer"`
	// WorkdayStart and WorkdayEnd are local "HH:MM" times.
	WorkdayStart string        `yaml:"workday_start" json:"workday_start"`
	WorkdayEnd   string        `yaml:"workday_end" json:"workday_end"`
	SlotStep     time.Duration `yaml:"slot_step" json:"slot_step"`
	MaxSlots     int           `yaml:"max_slots" json:"max_slots"`
	WindowDays   int           `yaml:"window_days" json:"window_days"`
}

type LogConfig struct {
	// Level is DEBUG, INFO or ERROR.
	Level string `yaml:"level" json:"level"`
	// Format is "console" or "json".
	Format string `yaml:"format" json:"format"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA timezone used for CSV dates and default ranges
	// (e.g. "Asia/Seoul").
	Timezone string `yaml:"timezone" json:"timezone"`

	// HorizonDays is the default length of a range listing.
	HorizonDays int `yaml:"horizon_days" json:"horizon_days"`

	// RefreshCron is a standard five-field cron schedule (e.g. "*/15 * * * *")
	// for feed sync.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	Storage    StorageConfig    `yaml:"storage" json:"storage"`
	Scheduling SchedulingConfig `yaml:"scheduling" json:"scheduling"`

	// Feeds is the list of subscribed ICS sources.
	Feeds []FeedConfig `yaml:"feeds" json:"feeds"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`

	Log LogConfig `yaml:"log" json:"log"`

	// CacheDir holds the feed HTTP cache.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`
}

const (
	DefaultOwner = "default"

	defaultListen   = "127.0.0.1:8080"
	defaultTimezone = "UTC"
	defaultRefresh  = "*/15 * * * *"
	defaultHorizon  = 7
	defaultDSN      = "./var/eventdesk.db"
	defaultCacheDir = "./var/feed-cache"
)

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.Normalize()
	return cfg
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = defaultHorizon
	}
	if c.RefreshCron == "" {
		c.RefreshCron = defaultRefresh
	}

	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Storage.DSN == "" && c.Storage.Driver == "sqlite" {
		c.Storage.DSN = defaultDSN
	}

	s := &c.Scheduling
	if s.AdjacencyBuffer == 0 {
		s.AdjacencyBuffer = 15 * time.Minute
	}
	if s.TravelBuffer == 0 {
		s.TravelBuffer = 30 * time.Minute
	}
	if s.WorkdayStart == "" {
		s.WorkdayStart = "08:00"
	}
	if s.WorkdayEnd == "" {
		s.WorkdayEnd = "18:00"
	}
	if s.SlotStep <= 0 {
		s.SlotStep = 30 * time.Minute
	}
	if s.MaxSlots <= 0 {
		s.MaxSlots = 3
	}
	if s.WindowDays <= 0 {
		s.WindowDays = 7
	}

	if c.Feeds == nil {
		c.Feeds = []FeedConfig{}
	}
	for i := range c.Feeds {
		if c.Feeds[i].Owner == "" {
			c.Feeds[i].Owner = DefaultOwner
		}
		if c.Feeds[i].ID == "" {
			c.Feeds[i].ID = fmt.Sprintf("feed-%d", i+1)
		}
	}

	if c.Log.Level == "" {
		c.Log.Level = "INFO"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if c.CacheDir == "" {
		c.CacheDir = defaultCacheDir
	}
}

// Validate reports the first setting the application cannot run with.
// Call it after Normalize.
func (c *Config) Validate() error {
	if _, err := c.Location(); err != nil {
		return err
	}
	if _, err := cron.ParseStandard(c.RefreshCron); err != nil {
		return fmt.Errorf("config: refresh %q: %w", c.RefreshCron, err)
	}
	switch c.Storage.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("config: unknown storage driver %q", c.Storage.Driver)
	}
	if c.Storage.DSN == "" {
		return errors.New("config: storage dsn is required")
	}
	if _, _, err := c.Scheduling.WorkdayHours(); err != nil {
		return err
	}
	if c.Scheduling.AdjacencyBuffer < 0 || c.Scheduling.TravelBuffer < 0 {
		return errors.New("config: scheduling buffers must not be negative")
	}
	seen := make(map[string]struct{}, len(c.Feeds))
	for _, f := range c.Feeds {
		if f.URL == "" {
			return fmt.Errorf("config: feed %s has no url", f.ID)
		}
		if _, dup := seen[f.ID]; dup {
			return fmt.Errorf("config: duplicate feed id %s", f.ID)
		}
		seen[f.ID] = struct{}{}
	}
	if c.BasicAuth != nil && c.BasicAuth.Username == "" {
		return errors.New("config: basic_auth username is required")
	}
	return nil
}

// Location loads the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("config: timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// WorkdayHours returns the working hours as offsets from local midnight.
func (s SchedulingConfig) WorkdayHours() (start, end time.Duration, err error) {
	if start, err = clockOffset(s.WorkdayStart); err != nil {
		return 0, 0, fmt.Errorf("config: workday_start: %w", err)
	}
	if end, err = clockOffset(s.WorkdayEnd); err != nil {
		return 0, 0, fmt.Errorf("config: workday_end: %w", err)
	}
	if end <= start {
		return 0, 0, fmt.Errorf("config: workday_end %s is not after workday_start %s", s.WorkdayEnd, s.WorkdayStart)
	}
	return start, end, nil
}

// clockOffset parses "HH:MM"; "24:00" is accepted as the end of the day.
func clockOffset(v string) (time.Duration, error) {
	if v == "24:00" {
		return 24 * time.Hour, nil
	}
	t, err := time.Parse("15:04", v)
	if err != nil {
		return 0, fmt.Errorf("want HH:MM, got %q", v)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms (creating the parent directory) and returned.
//   - Otherwise the YAML is read and normalized.
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

	return &cfg, nil
}

// Save writes cfg to path atomically via a temp file and rename, with the
// parent directory at 0700 and the file at 0600.
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

	tmp, err := os.CreateTemp(dir, ".eventdesk-config-*.tmp")
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

func (c *Config) Save(path string) error {
	return Save(path, c)
}
