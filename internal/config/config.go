package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Duration decodes YAML values like "5s" or "2m" via time.ParseDuration.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std converts back to a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

type Config struct {
	App        AppConfig        `yaml:"app"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Remote     RemoteConfig     `yaml:"remote"`
	Sync       SyncConfig       `yaml:"sync"`
	Cache      CacheConfig      `yaml:"cache"`
	API        APIConfig        `yaml:"api"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// RemoteConfig points at the server the sync core reconciles against.
type RemoteConfig struct {
	BaseURL       string   `yaml:"base_url"`
	SyncPath      string   `yaml:"sync_path"`
	HealthPath    string   `yaml:"health_path"`
	Timeout       Duration `yaml:"timeout"`
	ProbeInterval Duration `yaml:"probe_interval"`
}

type SyncConfig struct {
	MaxRetries      int      `yaml:"max_retries"`
	RetryBackoff    Duration `yaml:"retry_backoff"`
	ItemDelay       Duration `yaml:"item_delay"`
	DrainInterval   Duration `yaml:"drain_interval"`
	StaleAfter      Duration `yaml:"stale_after"`
	RetentionDays   int      `yaml:"retention_days"`
	CleanupInterval Duration `yaml:"cleanup_interval"`
}

type CacheConfig struct {
	Version         string   `yaml:"version"`
	AllowedOrigins  []string `yaml:"allowed_origins"`
	APIPrefixes     []string `yaml:"api_prefixes"`
	StaticAssets    []string `yaml:"static_assets"`
	ImageExtensions []string `yaml:"image_extensions"`
	OfflinePage     string   `yaml:"offline_page"`
}

type APIConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional; ignore a missing file but surface parse errors.
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}

	if c.Remote.BaseURL == "" {
		return errors.New("remote base_url is required")
	}
	if !strings.HasPrefix(c.Remote.BaseURL, "http://") && !strings.HasPrefix(c.Remote.BaseURL, "https://") {
		return fmt.Errorf("remote base_url must be an http(s) URL, got %q", c.Remote.BaseURL)
	}

	if c.Redis.Enabled && c.Redis.Address == "" {
		return errors.New("redis address is required when redis is enabled")
	}

	if c.Sync.MaxRetries < 0 {
		return errors.New("sync max_retries must not be negative")
	}

	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "agrosync"
	}

	if c.Remote.SyncPath == "" {
		c.Remote.SyncPath = "/api/sync"
	}
	if c.Remote.HealthPath == "" {
		c.Remote.HealthPath = "/healthz"
	}
	if c.Remote.Timeout == 0 {
		c.Remote.Timeout = Duration(15 * time.Second)
	}
	if c.Remote.ProbeInterval == 0 {
		c.Remote.ProbeInterval = Duration(30 * time.Second)
	}

	if c.Sync.MaxRetries == 0 {
		c.Sync.MaxRetries = 3
	}
	if c.Sync.RetryBackoff == 0 {
		c.Sync.RetryBackoff = Duration(5 * time.Second)
	}
	if c.Sync.ItemDelay == 0 {
		c.Sync.ItemDelay = Duration(500 * time.Millisecond)
	}
	if c.Sync.DrainInterval == 0 {
		c.Sync.DrainInterval = Duration(5 * time.Minute)
	}
	if c.Sync.StaleAfter == 0 {
		c.Sync.StaleAfter = Duration(time.Hour)
	}
	if c.Sync.RetentionDays == 0 {
		c.Sync.RetentionDays = 7
	}
	if c.Sync.CleanupInterval == 0 {
		c.Sync.CleanupInterval = Duration(24 * time.Hour)
	}

	if c.Cache.Version == "" {
		c.Cache.Version = "v1"
	}
	if len(c.Cache.APIPrefixes) == 0 {
		c.Cache.APIPrefixes = []string{"/api/"}
	}
	if len(c.Cache.ImageExtensions) == 0 {
		c.Cache.ImageExtensions = []string{".png", ".jpg", ".jpeg", ".gif", ".webp", ".svg"}
	}

	if c.API.Port == 0 {
		c.API.Port = 8080
	}
}
