package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"catalogsync/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
	API        APIConfig        `yaml:"api"`
	Remote     RemoteConfig     `yaml:"remote"`
	Source     TenantConfig     `yaml:"source"`
	Tenants    []TenantConfig   `yaml:"tenants"`
	Sync       SyncConfig       `yaml:"sync"`
	Exports    ExportConfig     `yaml:"exports"`
	Registry   RegistryConfig   `yaml:"registry"`
	Backup     BackupConfig     `yaml:"backup"`
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
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	Port      int                `yaml:"port"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type RemoteConfig struct {
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// TenantConfig describes one account on the remote platform.
// The token is usually injected through ${ENV} expansion.
type TenantConfig struct {
	Key   string `yaml:"key"`
	Name  string `yaml:"name"`
	Token string `yaml:"token"`
}

type SyncConfig struct {
	Workers             int     `yaml:"workers"`
	PollIntervalSeconds int     `yaml:"poll_interval_seconds"`
	BatchSize           int     `yaml:"batch_size"`
	MaxAttempts         int     `yaml:"max_attempts"`
	BudgetTTLSeconds    int     `yaml:"budget_ttl_seconds"`
	RetryInitialSeconds int     `yaml:"retry_initial_seconds"`
	RetryMaxSeconds     int     `yaml:"retry_max_seconds"`
	RetryBackoffFactor  float64 `yaml:"retry_backoff_factor"`
	LeaseSeconds        int     `yaml:"lease_seconds"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

type RegistryConfig struct {
	Path string `yaml:"path"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
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
	if strings.TrimSpace(c.Source.Key) == "" {
		return errors.New("source tenant key is required")
	}
	if len(c.Tenants) == 0 {
		return errors.New("at least one destination tenant is required")
	}
	if c.Sync.LeaseSeconds < 2*c.Remote.TimeoutSeconds {
		return fmt.Errorf("sync lease_seconds %d must be at least twice the remote timeout (%ds)", c.Sync.LeaseSeconds, c.Remote.TimeoutSeconds)
	}

	return ValidateTenants(c.Source, c.Tenants)
}

// ValidateTenants rejects empty and duplicate keys and a destination equal to the source.
func ValidateTenants(source TenantConfig, tenants []TenantConfig) error {
	keys := make(map[string]bool)
	for _, tenant := range tenants {
		key := strings.TrimSpace(tenant.Key)
		if key == "" {
			return fmt.Errorf("tenant '%s' has empty key", tenant.Name)
		}
		if key == source.Key {
			return fmt.Errorf("tenant %s is the source tenant", key)
		}
		if keys[key] {
			return fmt.Errorf("duplicate tenant key found: %s", key)
		}
		keys[key] = true
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.API.Port == 0 {
		c.API.Port = 8080
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.Remote.TimeoutSeconds == 0 {
		c.Remote.TimeoutSeconds = 30
	}

	if c.Sync.Workers == 0 {
		c.Sync.Workers = 4
	}
	if c.Sync.PollIntervalSeconds == 0 {
		c.Sync.PollIntervalSeconds = 2
	}
	if c.Sync.BatchSize == 0 {
		c.Sync.BatchSize = 20
	}
	if c.Sync.MaxAttempts == 0 {
		c.Sync.MaxAttempts = models.DefaultMaxAttempts
	}
	if c.Sync.BudgetTTLSeconds == 0 {
		c.Sync.BudgetTTLSeconds = models.DefaultBudgetTTL
	}
	if c.Sync.RetryInitialSeconds == 0 {
		c.Sync.RetryInitialSeconds = 2
	}
	if c.Sync.RetryMaxSeconds == 0 {
		c.Sync.RetryMaxSeconds = 60
	}
	if c.Sync.RetryBackoffFactor == 0 {
		c.Sync.RetryBackoffFactor = 2
	}
	if c.Sync.LeaseSeconds == 0 {
		c.Sync.LeaseSeconds = 600
	}
	if c.Backup.StoragePath == "" {
		c.Backup.StoragePath = "backups"
	}
	if c.Exports.Path == "" {
		c.Exports.Path = "exports"
	}
}

// Tenant returns the tenant config for a key, including the source tenant.
func (c *Config) Tenant(key string) (TenantConfig, bool) {
	if c.Source.Key == key {
		return c.Source, true
	}
	for _, tenant := range c.Tenants {
		if tenant.Key == key {
			return tenant, true
		}
	}
	return TenantConfig{}, false
}
