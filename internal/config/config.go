package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Prefix is prepended to every environment variable name.
const Prefix = "GUIDE"

// Snapshot backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// General
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// HTTP
	ListenAddr      string        `envconfig:"LISTEN_ADDR" default:":8080"`
	CORSOrigins     string        `envconfig:"CORS_ORIGINS"` // comma-separated; empty allows none
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`

	// Persistence
	SnapshotBackend string `envconfig:"SNAPSHOT_BACKEND" default:"file"`
	SnapshotPath    string `envconfig:"SNAPSHOT_PATH" default:"project_progress.json"`
	SQLitePath      string `envconfig:"SQLITE_PATH" default:"guide.db"`
	SnapshotRetain  int    `envconfig:"SNAPSHOT_RETAIN" default:"50"`
	RestoreOnStart  bool   `envconfig:"RESTORE_ON_START" default:"true"`

	// Registry and guidance
	CacheSize        int    `envconfig:"CACHE_SIZE" default:"32"`
	RecentActions    int    `envconfig:"RECENT_ACTIONS" default:"5"`
	TransitionPolicy string `envconfig:"TRANSITION_POLICY" default:"any"`
	PlaybookPath     string `envconfig:"PLAYBOOK_PATH"`

	// Status feed and health
	FeedSize      int     `envconfig:"FEED_SIZE" default:"100"`
	DiskWarnPct   float64 `envconfig:"DISK_WARN_PCT" default:"90"`
	MemoryWarnPct float64 `envconfig:"MEMORY_WARN_PCT" default:"95"`
}

// IsDevelopment reports whether console logging should be used.
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.Environment, "development")
}

// CORSOriginList returns the parsed list of allowed origins.
func (c *Config) CORSOriginList() []string {
	if c.CORSOrigins == "" {
		return nil
	}
	parts := strings.Split(c.CORSOrigins, ",")
	origins := make([]string, 0, len(parts))
	for _, o := range parts {
		o = strings.TrimSpace(o)
		if o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// SnapshotLocation returns the path the selected backend writes to.
func (c *Config) SnapshotLocation() string {
	if c.SnapshotBackend == BackendSQLite {
		return c.SQLitePath
	}
	return c.SnapshotPath
}

// Validate checks values envconfig cannot.
func (c *Config) Validate() error {
	switch c.SnapshotBackend {
	case BackendFile, BackendSQLite:
	default:
		return fmt.Errorf("invalid SNAPSHOT_BACKEND %q: want %s or %s", c.SnapshotBackend, BackendFile, BackendSQLite)
	}
	switch strings.ToLower(c.TransitionPolicy) {
	case "", "any", "known", "forward":
	default:
		return fmt.Errorf("invalid TRANSITION_POLICY %q", c.TransitionPolicy)
	}
	if c.CacheSize < 1 {
		return fmt.Errorf("CACHE_SIZE must be positive, got %d", c.CacheSize)
	}
	if c.RecentActions < 1 {
		return fmt.Errorf("RECENT_ACTIONS must be positive, got %d", c.RecentActions)
	}
	if c.SnapshotRetain < 1 {
		return fmt.Errorf("SNAPSHOT_RETAIN must be positive, got %d", c.SnapshotRetain)
	}
	if c.DiskWarnPct < 0 || c.DiskWarnPct > 100 {
		return fmt.Errorf("DISK_WARN_PCT must be within 0-100, got %v", c.DiskWarnPct)
	}
	if c.MemoryWarnPct <= 0 || c.MemoryWarnPct > 100 {
		return fmt.Errorf("MEMORY_WARN_PCT must be within 1-100, got %v", c.MemoryWarnPct)
	}
	return nil
}

// Load reads configuration from GUIDE_* environment variables.
func Load() (*Config, error) {
	return LoadWithPrefix(Prefix)
}

// LoadWithPrefix reads configuration with a prefix and validates it.
func LoadWithPrefix(prefix string) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(prefix, &cfg); err != nil {
		return nil, fmt.Errorf("loading config with prefix %s: %w", prefix, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return &cfg, nil
}
