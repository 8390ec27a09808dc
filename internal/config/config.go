// Package config loads and validates the watchsync YAML configuration.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the full application configuration loaded from YAML.
type Config struct {
	// Remote configures the shared PostgreSQL store. Leave database_url
	// empty for a local-only device.
	Remote RemoteConfig `yaml:"remote"`

	// Local configures the device-local SQLite store.
	Local LocalConfig `yaml:"local"`

	// Sync tunes paging, batching, retry and history.
	Sync SyncConfig `yaml:"sync"`

	// Auth holds the secret identity tokens are verified with.
	Auth AuthConfig `yaml:"auth"`

	// Log configures optional file logging with rotation. Logs always go
	// to stderr as well.
	Log LogConfig `yaml:"log"`

	// Telemetry configures optional OpenTelemetry export via OTLP gRPC.
	// Omit the block entirely to disable telemetry.
	Telemetry *TelemetryConfig `yaml:"telemetry,omitempty"`
}

// RemoteConfig configures the remote store client.
type RemoteConfig struct {
	// DatabaseURL is a postgres:// connection string.
	DatabaseURL string `yaml:"database_url,omitempty"`

	// Timeout bounds every remote call. Defaults to 10s.
	Timeout time.Duration `yaml:"timeout"`

	// MaxAttempts is how often a transient failure is tried inline.
	// Defaults to 3.
	MaxAttempts int `yaml:"max_attempts"`
}

// LocalConfig configures the local store.
type LocalConfig struct {
	Path                string   `yaml:"path"`
	QuotaBytes          int64    `yaml:"quota_bytes"`
	ReclaimablePrefixes []string `yaml:"reclaimable_prefixes"`

	// KeepOnQuota is how many of the most recent items survive when a
	// collection no longer fits the quota.
	KeepOnQuota int `yaml:"keep_on_quota"`
}

// SyncConfig tunes the sync engines and the coordinator.
type SyncConfig struct {
	PageSize              int           `yaml:"page_size"`
	PageDelay             time.Duration `yaml:"page_delay"`
	PushBatchSize         int           `yaml:"push_batch_size"`
	RetryInterval         time.Duration `yaml:"retry_interval"`
	ScheduleCheckInterval time.Duration `yaml:"schedule_check_interval"`
	HistoryCap            int           `yaml:"history_cap"`
	ConnectivityInterval  time.Duration `yaml:"connectivity_interval"`
}

// AuthConfig holds identity settings.
type AuthConfig struct {
	// TokenSecret is the HMAC secret identity tokens are signed with.
	// Required when a remote store is configured.
	TokenSecret string `yaml:"token_secret,omitempty"`
}

// LogConfig configures the rotating log file.
type LogConfig struct {
	File       string `yaml:"file,omitempty"`
	MaxSizeMB  int    `yaml:"max_size_mb,omitempty"`
	MaxBackups int    `yaml:"max_backups,omitempty"`
	MaxAgeDays int    `yaml:"max_age_days,omitempty"`
	Compress   bool   `yaml:"compress,omitempty"`
}

// TelemetryConfig holds optional OpenTelemetry settings.
type TelemetryConfig struct {
	// OTLPEndpoint is the gRPC host:port of the OTLP collector (e.g. "localhost:4317").
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	// Insecure disables TLS for the collector connection. Use for local collectors.
	Insecure bool `yaml:"insecure"`

	// ServiceName overrides the OTel service.name attribute. Defaults to "watchsync".
	ServiceName string `yaml:"service_name"`

	// Headers contains key-value pairs sent as gRPC metadata on every OTLP
	// request, e.g. Authorization: "Bearer <token>".
	Headers map[string]string `yaml:"headers,omitempty"`
}

// minSecretLen is the shortest accepted token secret.
const minSecretLen = 16

// DefaultPath returns the default config file path: ~/.config/watchsync/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "watchsync", "config.yaml"), nil
}

// DefaultLocalPath returns ~/.local/share/watchsync/local.db.
func DefaultLocalPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "watchsync", "local.db"), nil
}

// Default returns a local-only configuration with every default filled in.
func Default() (*Config, error) {
	cfg := &Config{}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads and validates the configuration file at the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config file %q: %w", path, err)
	}
	defer f.Close()

	var cfg Config
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true) // reject unknown keys to catch typos early
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %q: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// LoadOrDefault loads path, or returns [Default] when the file does not
// exist so the CLI works before setup has run.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default()
	}
	return cfg, err
}

// Write validates c and saves it to path, creating parent directories. The
// file holds the token secret, so it is only readable by the owner.
func (c *Config) Write(path string) error {
	if err := c.validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file %q: %w", path, err)
	}
	return nil
}

// HasRemote reports whether a remote store is configured.
func (c *Config) HasRemote() bool {
	return c.Remote.DatabaseURL != ""
}

// validate fills defaults and checks that all fields are well-formed.
func (c *Config) validate() error {
	if err := c.Remote.validate(); err != nil {
		return err
	}
	if err := c.Local.validate(); err != nil {
		return err
	}
	if err := c.Sync.validate(); err != nil {
		return err
	}

	if c.HasRemote() && len(c.Auth.TokenSecret) < minSecretLen {
		return fmt.Errorf("auth.token_secret must be at least %d characters when remote.database_url is set", minSecretLen)
	}

	if c.Log.File != "" {
		if c.Log.MaxSizeMB == 0 {
			c.Log.MaxSizeMB = 10
		}
		if c.Log.MaxBackups == 0 {
			c.Log.MaxBackups = 3
		}
		if c.Log.MaxAgeDays == 0 {
			c.Log.MaxAgeDays = 28
		}
		if c.Log.MaxSizeMB < 0 || c.Log.MaxBackups < 0 || c.Log.MaxAgeDays < 0 {
			return fmt.Errorf("log rotation limits must not be negative")
		}
	}

	if c.Telemetry != nil {
		if c.Telemetry.OTLPEndpoint == "" {
			return fmt.Errorf("telemetry.otlp_endpoint is required when telemetry is configured")
		}
	}

	return nil
}

func (r *RemoteConfig) validate() error {
	if r.DatabaseURL != "" {
		u, err := url.Parse(r.DatabaseURL)
		if err != nil || (u.Scheme != "postgres" && u.Scheme != "postgresql") {
			return fmt.Errorf("remote.database_url must be a postgres:// URL")
		}
	}
	if r.Timeout == 0 {
		r.Timeout = 10 * time.Second
	}
	if r.Timeout < time.Second {
		return fmt.Errorf("remote.timeout %v is too short (minimum 1s)", r.Timeout)
	}
	if r.MaxAttempts == 0 {
		r.MaxAttempts = 3
	}
	if r.MaxAttempts < 1 || r.MaxAttempts > 10 {
		return fmt.Errorf("remote.max_attempts %d must be between 1 and 10", r.MaxAttempts)
	}
	return nil
}

func (l *LocalConfig) validate() error {
	if l.Path == "" {
		p, err := DefaultLocalPath()
		if err != nil {
			return err
		}
		l.Path = p
	}
	if strings.HasPrefix(l.Path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("resolving home directory: %w", err)
		}
		l.Path = filepath.Join(home, l.Path[2:])
	}
	if l.QuotaBytes == 0 {
		l.QuotaBytes = 5 << 20
	}
	if l.QuotaBytes < 64<<10 {
		return fmt.Errorf("local.quota_bytes %d is too small (minimum 65536)", l.QuotaBytes)
	}
	if l.ReclaimablePrefixes == nil {
		l.ReclaimablePrefixes = []string{"cache:"}
	}
	for _, p := range l.ReclaimablePrefixes {
		if p == "" {
			return fmt.Errorf("local.reclaimable_prefixes contains an empty prefix")
		}
	}
	if l.KeepOnQuota == 0 {
		l.KeepOnQuota = 50
	}
	if l.KeepOnQuota < 1 {
		return fmt.Errorf("local.keep_on_quota must be positive")
	}
	return nil
}

func (s *SyncConfig) validate() error {
	if s.PageSize == 0 {
		s.PageSize = 50
	}
	if s.PageSize < 1 || s.PageSize > 1000 {
		return fmt.Errorf("sync.page_size %d must be between 1 and 1000", s.PageSize)
	}
	if s.PageDelay == 0 {
		s.PageDelay = 150 * time.Millisecond
	}
	if s.PushBatchSize == 0 {
		s.PushBatchSize = 5
	}
	if s.PushBatchSize < 1 || s.PushBatchSize > 100 {
		return fmt.Errorf("sync.push_batch_size %d must be between 1 and 100", s.PushBatchSize)
	}
	if s.RetryInterval == 0 {
		s.RetryInterval = 60 * time.Second
	}
	if s.RetryInterval < 5*time.Second {
		return fmt.Errorf("sync.retry_interval %v is too short (minimum 5s)", s.RetryInterval)
	}
	if s.ScheduleCheckInterval == 0 {
		s.ScheduleCheckInterval = 30 * time.Second
	}
	if s.ScheduleCheckInterval > time.Minute {
		return fmt.Errorf("sync.schedule_check_interval %v is too long (maximum 1m, or scheduled minutes are missed)", s.ScheduleCheckInterval)
	}
	if s.HistoryCap == 0 {
		s.HistoryCap = 100
	}
	if s.ConnectivityInterval == 0 {
		s.ConnectivityInterval = 30 * time.Second
	}
	if s.PageDelay < 0 || s.ScheduleCheckInterval < 0 || s.ConnectivityInterval < 0 || s.HistoryCap < 0 {
		return fmt.Errorf("sync durations and history_cap must not be negative")
	}
	return nil
}
