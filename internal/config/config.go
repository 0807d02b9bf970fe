package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// DefaultPath is read when no config file is named.  A missing default file
// is not an error; environment variables and defaults still apply.
const DefaultPath = "configs/occupant.yaml"

type Config struct {
	Env string `yaml:"env" env:"OCCUPANT_ENV"` // "dev" | "prod"

	HTTP     HTTPConfig     `yaml:"http"`
	GRPC     GRPCConfig     `yaml:"grpc"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Database DatabaseConfig `yaml:"database"`
	Facility FacilityConfig `yaml:"facility"`
	Station  StationConfig  `yaml:"station"`
	Redis    RedisConfig    `yaml:"redis"`
	OTel     OTelConfig     `yaml:"otel"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr" env:"OCCUPANT_HTTP_ADDR"`
}

type GRPCConfig struct {
	Addr                  string `yaml:"addr" env:"OCCUPANT_GRPC_ADDR"` // empty disables the health server
	HealthIntervalSeconds int    `yaml:"health_interval_seconds" env:"OCCUPANT_GRPC_HEALTH_INTERVAL_SECONDS"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" env:"OCCUPANT_METRICS_ENABLED"`
	Addr    string `yaml:"addr" env:"OCCUPANT_METRICS_ADDR"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver" env:"OCCUPANT_DB_DRIVER"` // "sqlite" | "postgres"
	Path   string `yaml:"path" env:"OCCUPANT_DB_PATH"`
	DSN    string `yaml:"dsn" env:"OCCUPANT_DB_DSN"`

	// SeedDev inserts demo members in dev.  Ignored in prod.
	SeedDev bool `yaml:"seed_dev" env:"OCCUPANT_DB_SEED_DEV"`
}

type FacilityConfig struct {
	CapacityMax                  int      `yaml:"capacity_max" env:"OCCUPANT_CAPACITY_MAX"`
	Timezone                     string   `yaml:"timezone" env:"OCCUPANT_TIMEZONE"`
	AutoCheckoutThresholdMinutes int      `yaml:"auto_checkout_threshold_minutes" env:"OCCUPANT_AUTO_CHECKOUT_THRESHOLD_MINUTES"`
	AlertPercentage              int      `yaml:"alert_percentage" env:"OCCUPANT_ALERT_PERCENTAGE"`
	DebounceWindowSeconds        int      `yaml:"debounce_window_seconds" env:"OCCUPANT_DEBOUNCE_WINDOW_SECONDS"`
	ReentryModalities            []string `yaml:"reentry_modalities" env:"OCCUPANT_REENTRY_MODALITIES"`
	SweepIntervalSeconds         int      `yaml:"sweep_interval_seconds" env:"OCCUPANT_SWEEP_INTERVAL_SECONDS"` // negative disables the background sweep
	StationIdleMinutes           int      `yaml:"station_idle_minutes" env:"OCCUPANT_STATION_IDLE_MINUTES"`
}

type StationConfig struct {
	RatePerSecond float64 `yaml:"rate_per_second" env:"OCCUPANT_STATION_RATE_PER_SECOND"` // 0 disables limiting
	Burst         int     `yaml:"burst" env:"OCCUPANT_STATION_BURST"`
}

type RedisConfig struct {
	Address            string `yaml:"address" env:"OCCUPANT_REDIS_ADDRESS"` // empty disables the snapshot cache
	Password           string `yaml:"password" env:"OCCUPANT_REDIS_PASSWORD"`
	DB                 int    `yaml:"db" env:"OCCUPANT_REDIS_DB"`
	SnapshotTTLSeconds int    `yaml:"snapshot_ttl_seconds" env:"OCCUPANT_REDIS_SNAPSHOT_TTL_SECONDS"`
}

type OTelConfig struct {
	Enabled     bool    `yaml:"enabled" env:"OCCUPANT_OTEL_ENABLED"`
	Endpoint    string  `yaml:"endpoint" env:"OCCUPANT_OTEL_ENDPOINT"`
	ServiceName string  `yaml:"service_name" env:"OCCUPANT_OTEL_SERVICE_NAME"`
	SampleRatio float64 `yaml:"sample_ratio" env:"OCCUPANT_OTEL_SAMPLE_RATIO"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" env:"OCCUPANT_LOG_LEVEL"`
	Format string `yaml:"format" env:"OCCUPANT_LOG_FORMAT"` // "console" | "json"
}

// Load reads the YAML file at path (with ${VAR} expansion), overlays
// OCCUPANT_* environment variables, fills defaults and validates.
func Load(path string) (*Config, error) {
	var cfg Config

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		// Support ${ENV_VAR} placeholders in YAML config.
		data = []byte(os.ExpandEnv(string(data)))
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	c.Env = strings.ToLower(strings.TrimSpace(c.Env))
	if c.Env != "prod" {
		// fail-soft: treat unknown as dev
		c.Env = "dev"
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.GRPC.HealthIntervalSeconds <= 0 {
		c.GRPC.HealthIntervalSeconds = 10
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9090"
	}

	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Path == "" {
		c.Database.Path = "./data/occupant.db"
	}

	f := &c.Facility
	if f.Timezone == "" {
		f.Timezone = "UTC"
	}
	if f.AutoCheckoutThresholdMinutes <= 0 {
		f.AutoCheckoutThresholdMinutes = 90
	}
	if f.AlertPercentage <= 0 {
		f.AlertPercentage = 80
	}
	if f.DebounceWindowSeconds <= 0 {
		f.DebounceWindowSeconds = 5
	}
	if f.SweepIntervalSeconds == 0 {
		f.SweepIntervalSeconds = 300
	}
	if f.StationIdleMinutes <= 0 {
		f.StationIdleMinutes = 30
	}

	if c.Station.Burst <= 0 {
		c.Station.Burst = 5
	}
	if c.Redis.SnapshotTTLSeconds <= 0 {
		c.Redis.SnapshotTTLSeconds = 5
	}
	if c.OTel.ServiceName == "" {
		c.OTel.ServiceName = "occupant-server"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
		if c.Env == "dev" {
			c.Logging.Format = "console"
		}
	}
}

// Validate reports the first setting the server cannot start with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite":
	case "postgres":
		if c.Database.DSN == "" {
			return errors.New("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	if c.Facility.CapacityMax <= 0 {
		return errors.New("facility.capacity_max must be positive")
	}
	if c.Facility.AlertPercentage > 100 {
		return fmt.Errorf("facility.alert_percentage %d is above 100", c.Facility.AlertPercentage)
	}
	if _, err := time.LoadLocation(c.Facility.Timezone); err != nil {
		return fmt.Errorf("facility.timezone: %w", err)
	}
	if c.Station.RatePerSecond < 0 {
		return errors.New("station.rate_per_second must not be negative")
	}
	if c.OTel.SampleRatio < 0 || c.OTel.SampleRatio > 1 {
		return fmt.Errorf("otel.sample_ratio %v is outside [0,1]", c.OTel.SampleRatio)
	}
	return nil
}

// Location returns the facility time zone.  Validate has already checked it.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Facility.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *Config) AutoCheckoutThreshold() time.Duration {
	return time.Duration(c.Facility.AutoCheckoutThresholdMinutes) * time.Minute
}

func (c *Config) DebounceWindow() time.Duration {
	return time.Duration(c.Facility.DebounceWindowSeconds) * time.Second
}

// SweepInterval is zero when the background sweep is disabled.
func (c *Config) SweepInterval() time.Duration {
	if c.Facility.SweepIntervalSeconds < 0 {
		return 0
	}
	return time.Duration(c.Facility.SweepIntervalSeconds) * time.Second
}

func (c *Config) StationIdleTimeout() time.Duration {
	return time.Duration(c.Facility.StationIdleMinutes) * time.Minute
}

func (c *Config) SnapshotTTL() time.Duration {
	return time.Duration(c.Redis.SnapshotTTLSeconds) * time.Second
}

func (c *Config) HealthInterval() time.Duration {
	return time.Duration(c.GRPC.HealthIntervalSeconds) * time.Second
}
