package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/iconidentify/likevault/internal/worker"
)

// Config holds all application configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Remote  RemoteConfig  `yaml:"remote"`
	Sync    SyncConfig    `yaml:"sync"`
	Delete  DeleteConfig  `yaml:"delete"`
	Export  ExportConfig  `yaml:"export"`
	Storage StorageConfig `yaml:"storage"`
	Events  EventsConfig  `yaml:"events"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string        `yaml:"host" envconfig:"SERVER_HOST"`
	Port         int           `yaml:"port" envconfig:"SERVER_PORT"`
	APIKey       string        `yaml:"api_key" envconfig:"API_KEY"`
	ReadTimeout  time.Duration `yaml:"read_timeout" envconfig:"SERVER_READ_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"write_timeout" envconfig:"SERVER_WRITE_TIMEOUT"`
}

// RemoteConfig holds the liked-media service endpoints and session.
type RemoteConfig struct {
	BaseURL    string        `yaml:"base_url" envconfig:"REMOTE_BASE_URL"`
	AssetHost  string        `yaml:"asset_host" envconfig:"REMOTE_ASSET_HOST"`
	PublicHost string        `yaml:"public_host" envconfig:"REMOTE_PUBLIC_HOST"`
	Cookie     string        `yaml:"cookie" envconfig:"REMOTE_COOKIE"`
	Source     string        `yaml:"source" envconfig:"REMOTE_SOURCE"`
	PageSize   int           `yaml:"page_size" envconfig:"REMOTE_PAGE_SIZE"`
	MaxPages   int           `yaml:"max_pages" envconfig:"REMOTE_MAX_PAGES"` // 0 = unlimited
	Timeout    time.Duration `yaml:"timeout" envconfig:"REMOTE_TIMEOUT"`
	UserAgent  string        `yaml:"user_agent" envconfig:"REMOTE_USER_AGENT"`
}

// SyncConfig holds catalog polling configuration.
type SyncConfig struct {
	Enabled      bool          `yaml:"enabled" envconfig:"SYNC_ENABLED"`
	PollInterval time.Duration `yaml:"poll_interval" envconfig:"SYNC_POLL_INTERVAL"`
	ActivityLog  string        `yaml:"activity_log" envconfig:"SYNC_ACTIVITY_LOG"`
}

// DeleteConfig holds the remote deletion retry policy.
type DeleteConfig struct {
	MaxAttempts      int           `yaml:"max_attempts" envconfig:"DELETE_MAX_ATTEMPTS"`
	RateLimitBackoff time.Duration `yaml:"rate_limit_backoff" envconfig:"DELETE_RATE_LIMIT_BACKOFF"`
	TransportBackoff time.Duration `yaml:"transport_backoff" envconfig:"DELETE_TRANSPORT_BACKOFF"`
	Pacing           time.Duration `yaml:"pacing" envconfig:"DELETE_PACING"`
}

// ExportConfig holds archive export configuration.
type ExportConfig struct {
	Concurrency int           `yaml:"concurrency" envconfig:"EXPORT_CONCURRENCY"` // 0 = auto
	Destination string        `yaml:"destination" envconfig:"EXPORT_DESTINATION"` // dir or s3
	Dir         string        `yaml:"dir" envconfig:"EXPORT_DIR"`
	Passphrase  string        `yaml:"passphrase" envconfig:"EXPORT_PASSPHRASE"`
	RetryMax    int           `yaml:"retry_max" envconfig:"EXPORT_RETRY_MAX"`
	RetryWait   time.Duration `yaml:"retry_wait" envconfig:"EXPORT_RETRY_WAIT"`
	Timeout     time.Duration `yaml:"timeout" envconfig:"EXPORT_TIMEOUT"`
	MaxFileSize int64         `yaml:"max_file_size" envconfig:"EXPORT_MAX_FILE_SIZE"`
	S3Bucket    string        `yaml:"s3_bucket" envconfig:"EXPORT_S3_BUCKET"`
	S3Prefix    string        `yaml:"s3_prefix" envconfig:"EXPORT_S3_PREFIX"`
	S3Region    string        `yaml:"s3_region" envconfig:"EXPORT_S3_REGION"`
	S3Endpoint  string        `yaml:"s3_endpoint" envconfig:"EXPORT_S3_ENDPOINT"`

	// Static S3 credentials. When empty the default AWS credential chain is used.
	S3AccessKeyID     string `yaml:"s3_access_key_id" envconfig:"EXPORT_S3_ACCESS_KEY_ID"`
	S3SecretAccessKey string `yaml:"s3_secret_access_key" envconfig:"EXPORT_S3_SECRET_ACCESS_KEY"`
}

// StorageConfig selects the key-value store backing the catalog.
type StorageConfig struct {
	Driver string `yaml:"driver" envconfig:"STORAGE_DRIVER"` // sqlite, file or memory
	Path   string `yaml:"path" envconfig:"STORAGE_PATH"`
}

// EventsConfig holds event history configuration.
type EventsConfig struct {
	RingBufferSize int    `yaml:"ring_buffer_size" envconfig:"EVENTS_RING_BUFFER_SIZE"`
	Persist        bool   `yaml:"persist" envconfig:"EVENTS_PERSIST"`
	SQLitePath     string `yaml:"sqlite_path" envconfig:"EVENTS_SQLITE_PATH"`
	RetentionDays  int    `yaml:"retention_days" envconfig:"EVENTS_RETENTION_DAYS"`
}

// Storage drivers.
const (
	DriverSQLite = "sqlite"
	DriverFile   = "file"
	DriverMemory = "memory"
)

// Export destinations.
const (
	DestinationDir = "dir"
	DestinationS3  = "s3"
)

// DefaultConfig returns configuration with working defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "127.0.0.1",
			Port:         9848,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 10 * time.Minute,
		},
		Remote: RemoteConfig{
			BaseURL:    "https://grok.com",
			AssetHost:  "https://assets.grok.com",
			PublicHost: "https://imagine-public.x.ai",
			Source:     "MEDIA_POST_SOURCE_LIKED",
			PageSize:   40,
			Timeout:    30 * time.Second,
			UserAgent:  "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36",
		},
		Sync: SyncConfig{
			Enabled:      true,
			PollInterval: 5 * time.Second,
			ActivityLog:  "data/sync-activity.jsonl",
		},
		Delete: DeleteConfig{
			MaxAttempts:      4,
			RateLimitBackoff: 600 * time.Millisecond,
			TransportBackoff: 400 * time.Millisecond,
			Pacing:           180 * time.Millisecond,
		},
		Export: ExportConfig{
			Destination: DestinationDir,
			Dir:         "data/exports",
			RetryMax:    3,
			RetryWait:   time.Second,
			Timeout:     10 * time.Minute,
			MaxFileSize: 1 << 30, // 1GB
		},
		Storage: StorageConfig{
			Driver: DriverSQLite,
			Path:   "data/likevault.db",
		},
		Events: EventsConfig{
			RingBufferSize: 1000,
			RetentionDays:  30,
		},
	}
}

// Load reads configuration from defaults, then file, then environment variables.
// Environment variables override file values.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate checks structural invariants shared by every binary.
func (c *Config) Validate() error {
	if c.Remote.BaseURL == "" {
		return errors.New("REMOTE_BASE_URL is required")
	}
	if c.Remote.PageSize <= 0 {
		return fmt.Errorf("REMOTE_PAGE_SIZE must be positive, got %d", c.Remote.PageSize)
	}
	if c.Remote.MaxPages < 0 {
		return fmt.Errorf("REMOTE_MAX_PAGES must not be negative, got %d", c.Remote.MaxPages)
	}
	if c.Sync.Enabled && c.Sync.PollInterval <= 0 {
		return errors.New("SYNC_POLL_INTERVAL must be positive when sync is enabled")
	}
	if c.Delete.MaxAttempts <= 0 {
		return fmt.Errorf("DELETE_MAX_ATTEMPTS must be positive, got %d", c.Delete.MaxAttempts)
	}
	if c.Export.Concurrency < 0 || c.Export.Concurrency > worker.MaxConcurrency {
		return fmt.Errorf("EXPORT_CONCURRENCY must be between 0 and %d, got %d", worker.MaxConcurrency, c.Export.Concurrency)
	}

	switch c.Storage.Driver {
	case DriverMemory:
	case DriverSQLite, DriverFile:
		if c.Storage.Path == "" {
			return errors.New("STORAGE_PATH is required")
		}
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q", c.Storage.Driver)
	}

	switch c.Export.Destination {
	case DestinationDir:
		if c.Export.Dir == "" {
			return errors.New("EXPORT_DIR is required")
		}
	case DestinationS3:
		if c.Export.S3Bucket == "" {
			return errors.New("EXPORT_S3_BUCKET is required")
		}
		if (c.Export.S3AccessKeyID == "") != (c.Export.S3SecretAccessKey == "") {
			return errors.New("EXPORT_S3_ACCESS_KEY_ID and EXPORT_S3_SECRET_ACCESS_KEY must be set together")
		}
	default:
		return fmt.Errorf("unknown EXPORT_DESTINATION %q", c.Export.Destination)
	}

	if c.Events.Persist && c.Events.SQLitePath == "" {
		return errors.New("EVENTS_SQLITE_PATH is required when events are persisted")
	}
	return nil
}

// ValidateServer additionally checks the settings only the HTTP server needs.
func (c *Config) ValidateServer() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Server.APIKey == "" {
		return errors.New("API_KEY is required")
	}
	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
