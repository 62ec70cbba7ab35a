package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/halcyon-labs/edgelink/internal/bus"
	"github.com/halcyon-labs/edgelink/internal/sensors"
)

// Config represents the top-level application config plus resolved sensor manifests.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Log        LogConfig        `koanf:"log"`
	Store      StoreConfig      `koanf:"store"`
	Redis      RedisConfig      `koanf:"redis"`
	Bus        BusConfig        `koanf:"bus"`
	Collectors CollectorsConfig `koanf:"collectors"`
	Sensors    SensorsConfig    `koanf:"sensors"`
	Cloud      CloudConfig      `koanf:"cloud"`
	Database   DatabaseConfig   `koanf:"database"`

	// SensorLoading is populated by Load after parsing manifest files.
	SensorLoading SensorLoadingConfig `koanf:"-"`
}

type ServerConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`
	Mode string `koanf:"mode"` // debug | release
}

type LogConfig struct {
	Level string `koanf:"level"` // debug | info | warn | error
}

type StoreConfig struct {
	Backend string `koanf:"backend"` // redis | memory
}

// RedisConfig covers both the client connection and the optional local
// redis-server supervision.
type RedisConfig struct {
	Host        string `koanf:"host"`
	Port        int    `koanf:"port"`
	DB          int    `koanf:"db"`
	Password    string `koanf:"password"`
	ManageLocal bool   `koanf:"manage_local"`
	Binary      string `koanf:"binary"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// BusConfig mirrors bus.Options; durations are strings so the YAML reads
// like "60s". Zero values fall through to the bus defaults.
type BusConfig struct {
	FailureThreshold    int    `koanf:"failure_threshold"`
	ResetTimeout        string `koanf:"reset_timeout"`
	DedupWindow         string `koanf:"dedup_window"`
	DisableDedup        bool   `koanf:"disable_dedup"`
	MaxStreamLen        int64  `koanf:"max_stream_len"`
	BatchSize           int64  `koanf:"batch_size"`
	BatchTimeout        string `koanf:"batch_timeout"`
	RetryDelay          string `koanf:"retry_delay"`
	MaxDeliveries       int64  `koanf:"max_deliveries"`
	ClaimInterval       string `koanf:"claim_interval"`
	StalenessThreshold  string `koanf:"staleness_threshold"`
	MaintenanceInterval string `koanf:"maintenance_interval"`
	HealthInterval      string `koanf:"health_interval"`
	TrimMaxLen          int64  `koanf:"trim_max_len"`
	ShutdownTimeout     string `koanf:"shutdown_timeout"`
}

// Options converts the config section into bus.Options. Call after
// Validate; duration strings are guaranteed to parse by then.
func (c BusConfig) Options() (bus.Options, error) {
	opts := bus.Options{
		FailureThreshold: c.FailureThreshold,
		DisableDedup:     c.DisableDedup,
		MaxStreamLen:     c.MaxStreamLen,
		BatchSize:        c.BatchSize,
		MaxDeliveries:    c.MaxDeliveries,
		TrimMaxLen:       c.TrimMaxLen,
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"bus.reset_timeout", c.ResetTimeout, &opts.ResetTimeout},
		{"bus.dedup_window", c.DedupWindow, &opts.DedupWindow},
		{"bus.batch_timeout", c.BatchTimeout, &opts.BatchTimeout},
		{"bus.retry_delay", c.RetryDelay, &opts.RetryDelay},
		{"bus.claim_interval", c.ClaimInterval, &opts.ClaimInterval},
		{"bus.staleness_threshold", c.StalenessThreshold, &opts.StalenessThreshold},
		{"bus.maintenance_interval", c.MaintenanceInterval, &opts.MaintenanceInterval},
		{"bus.health_interval", c.HealthInterval, &opts.HealthInterval},
		{"bus.shutdown_timeout", c.ShutdownTimeout, &opts.ShutdownTimeout},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return bus.Options{}, fmt.Errorf("invalid %s %q: %w", d.key, d.raw, err)
		}
		*d.dst = parsed
	}

	return opts, nil
}

type CollectorsConfig struct {
	Enabled        bool   `koanf:"enabled"`
	SampleInterval string `koanf:"sample_interval"`
	RootMount      string `koanf:"root_mount"`
}

type SensorsConfig struct {
	ManifestDir string `koanf:"manifest_dir"`
}

type CloudConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Bucket   string `koanf:"bucket"`
	Prefix   string `koanf:"prefix"`
	Region   string `koanf:"region"`
	Endpoint string `koanf:"endpoint"` // custom endpoint (MinIO); empty for AWS
}

type DatabaseConfig struct {
	Enabled      bool   `koanf:"enabled"`
	DSN          string `koanf:"dsn"`
	MaxOpenConns int    `koanf:"max_open_conns"`
	MaxIdleConns int    `koanf:"max_idle_conns"`
	AutoMigrate  bool   `koanf:"auto_migrate"`
}

type SensorLoadingConfig struct {
	ManifestDir string
	Manifests   []sensors.Manifest
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d (must be 1-65535)", c.Server.Port)
	}
	if strings.TrimSpace(c.Server.Host) == "" {
		return fmt.Errorf("server.host is required")
	}
	if c.Server.Mode != "debug" && c.Server.Mode != "release" {
		return fmt.Errorf("invalid server.mode %q (must be debug or release)", c.Server.Mode)
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log.level %q (must be debug, info, warn or error)", c.Log.Level)
	}

	switch c.Store.Backend {
	case "redis", "memory":
	default:
		return fmt.Errorf("unsupported store.backend %q (must be redis or memory)", c.Store.Backend)
	}

	if c.Store.Backend == "redis" {
		if strings.TrimSpace(c.Redis.Host) == "" {
			return fmt.Errorf("redis.host is required")
		}
		if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
			return fmt.Errorf("invalid redis.port %d (must be 1-65535)", c.Redis.Port)
		}
		if c.Redis.DB < 0 {
			return fmt.Errorf("redis.db must be >= 0")
		}
	}

	if _, err := c.Bus.Options(); err != nil {
		return err
	}

	if c.Collectors.Enabled {
		interval, err := time.ParseDuration(c.Collectors.SampleInterval)
		if err != nil {
			return fmt.Errorf("invalid collectors.sample_interval %q: %w", c.Collectors.SampleInterval, err)
		}
		if interval <= 0 {
			return fmt.Errorf("collectors.sample_interval must be > 0")
		}
		if strings.TrimSpace(c.Collectors.RootMount) == "" {
			return fmt.Errorf("collectors.root_mount is required")
		}
	}

	if c.Cloud.Enabled {
		if strings.TrimSpace(c.Cloud.Bucket) == "" {
			return fmt.Errorf("cloud.bucket is required when cloud sync is enabled")
		}
		if strings.TrimSpace(c.Cloud.Region) == "" {
			return fmt.Errorf("cloud.region is required when cloud sync is enabled")
		}
	}

	if c.Database.Enabled {
		if strings.TrimSpace(c.Database.DSN) == "" {
			return fmt.Errorf("database.dsn is required when the archive is enabled")
		}
		if c.Database.MaxOpenConns <= 0 {
			return fmt.Errorf("database.max_open_conns must be > 0")
		}
		if c.Database.MaxIdleConns <= 0 {
			return fmt.Errorf("database.max_idle_conns must be > 0")
		}
	}

	return nil
}

// Load parses config from file + env, validates it, then loads sensor manifests.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	defaults := map[string]interface{}{
		"server.host":                "0.0.0.0",
		"server.port":                8080,
		"server.mode":                "release",
		"log.level":                  "info",
		"store.backend":              "redis",
		"redis.host":                 "localhost",
		"redis.port":                 6379,
		"redis.db":                   0,
		"redis.manage_local":         true,
		"redis.binary":               "redis-server",
		"bus.failure_threshold":      5,
		"bus.reset_timeout":          "60s",
		"bus.dedup_window":           "1h",
		"bus.disable_dedup":          false,
		"bus.max_stream_len":         0,
		"bus.batch_size":             10,
		"bus.batch_timeout":          "1s",
		"bus.retry_delay":            "2s",
		"bus.max_deliveries":         3,
		"bus.claim_interval":         "60s",
		"bus.staleness_threshold":    "30s",
		"bus.maintenance_interval":   "60s",
		"bus.health_interval":        "30s",
		"bus.trim_max_len":           1000,
		"bus.shutdown_timeout":       "30s",
		"collectors.enabled":         true,
		"collectors.sample_interval": "60s",
		"collectors.root_mount":      "/",
		"sensors.manifest_dir":       "./config/sensors",
		"cloud.enabled":              false,
		"cloud.prefix":               "edgelink",
		"cloud.region":               "us-east-1",
		"database.enabled":           false,
		"database.max_open_conns":    10,
		"database.max_idle_conns":    5,
		"database.auto_migrate":      true,
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider("EDGELINK_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "EDGELINK_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	repo, err := sensors.NewRepository(cfg.Sensors.ManifestDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load sensor manifests: %w", err)
	}

	cfg.SensorLoading = SensorLoadingConfig{
		ManifestDir: cfg.Sensors.ManifestDir,
		Manifests:   repo.List(),
	}

	return &cfg, nil
}
