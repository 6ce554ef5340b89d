package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. MEDIACACHE_REMOTE_TOKEN
const EnvPrefix = "MEDIACACHE"

// Config represents the entire application configuration
type Config struct {
	Remote      RemoteConfig      `mapstructure:"remote"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Network     NetworkConfig     `mapstructure:"network"`
	HTTP        HTTPConfig        `mapstructure:"http"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
}

// RemoteConfig contains origin server settings
type RemoteConfig struct {
	BaseURL               string `mapstructure:"base_url"`
	Token                 string `mapstructure:"token"`
	VariantParam          string `mapstructure:"variant_param"`
	SkipTLSVerify         bool   `mapstructure:"skip_tls_verify"`
	ResponseHeaderTimeout string `mapstructure:"response_header_timeout"`
}

// CacheConfig contains cache settings
type CacheConfig struct {
	RootDir           string `mapstructure:"root_dir"`
	MaxSizeMB         int64  `mapstructure:"max_size_mb"`
	MaxFiles          int    `mapstructure:"max_files"`
	MinFileSizeKB     int64  `mapstructure:"min_file_size_kb"`
	MaxFileSizeMB     int64  `mapstructure:"max_file_size_mb"`
	MaxRetries        int    `mapstructure:"max_retries"`
	QueueSize         int    `mapstructure:"queue_size"`
	BufferSizeKB      int    `mapstructure:"buffer_size_kb"`
	ProgressInterval  string `mapstructure:"progress_interval"`
	ReaderIdleTimeout string `mapstructure:"reader_idle_timeout"`
	WatchRoot         bool   `mapstructure:"watch_root"`
}

// NetworkConfig contains connectivity settings
type NetworkConfig struct {
	ProbeInterval    string `mapstructure:"probe_interval"`
	ProbeTimeout     string `mapstructure:"probe_timeout"`
	ProbeFailures    int    `mapstructure:"probe_failures"`
	NotConnectedWait string `mapstructure:"not_connected_wait"`
}

// HTTPConfig contains HTTP server configuration
type HTTPConfig struct {
	BindAddr      string `mapstructure:"bind_addr"`
	AdminUsername string `mapstructure:"admin_username"`
	AdminPassword string `mapstructure:"admin_password"`
	ReadTimeout   string `mapstructure:"read_timeout"`
	WriteTimeout  string `mapstructure:"write_timeout"`
	IdleTimeout   string `mapstructure:"idle_timeout"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// DatabaseConfig contains metadata database settings
type DatabaseConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"` // empty = <root_dir>.db
}

// MaintenanceConfig contains periodic maintenance settings
type MaintenanceConfig struct {
	CheckInterval   string  `mapstructure:"check_interval"`
	CleanupInterval string  `mapstructure:"cleanup_interval"`
	MetadataMaxAge  string  `mapstructure:"metadata_max_age"`
	DiskWarnPercent float64 `mapstructure:"disk_warn_percent"`
}

// Load loads configuration from the specified file path. An empty path uses
// defaults and environment variables only.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("remote.base_url", "")
	v.SetDefault("remote.token", "")
	v.SetDefault("remote.variant_param", "transcode")
	v.SetDefault("remote.skip_tls_verify", false)
	v.SetDefault("remote.response_header_timeout", "30s")
	v.SetDefault("cache.root_dir", "/var/lib/media-stream-cache")
	v.SetDefault("cache.max_size_mb", 2048)
	v.SetDefault("cache.max_files", 1000)
	v.SetDefault("cache.min_file_size_kb", 5*1024)
	v.SetDefault("cache.max_file_size_mb", 250)
	v.SetDefault("cache.max_retries", 3)
	v.SetDefault("cache.queue_size", 1000)
	v.SetDefault("cache.buffer_size_kb", 10)
	v.SetDefault("cache.progress_interval", "5s")
	v.SetDefault("cache.reader_idle_timeout", "30s")
	v.SetDefault("cache.watch_root", true)
	v.SetDefault("network.probe_interval", "30s")
	v.SetDefault("network.probe_timeout", "5s")
	v.SetDefault("network.probe_failures", 2)
	v.SetDefault("network.not_connected_wait", "10s")
	v.SetDefault("http.bind_addr", "127.0.0.1:8080")
	v.SetDefault("http.admin_username", "")
	v.SetDefault("http.admin_password", "")
	v.SetDefault("http.read_timeout", "30s")
	v.SetDefault("http.write_timeout", "0s")
	v.SetDefault("http.idle_timeout", "60s")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 28)
	v.SetDefault("logging.compress", false)
	v.SetDefault("database.enabled", true)
	v.SetDefault("database.path", "")
	v.SetDefault("maintenance.check_interval", "1m")
	v.SetDefault("maintenance.cleanup_interval", "1h")
	v.SetDefault("maintenance.metadata_max_age", "720h")
	v.SetDefault("maintenance.disk_warn_percent", 95)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Validate remote config; an empty base URL runs the cache offline
	if c.Remote.BaseURL != "" {
		u, err := url.Parse(c.Remote.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("invalid remote.base_url: %q", c.Remote.BaseURL)
		}
	}

	// Validate cache config
	if c.Cache.RootDir == "" {
		return fmt.Errorf("cache.root_dir is required")
	}
	if c.Cache.MaxSizeMB <= 0 {
		return fmt.Errorf("cache.max_size_mb must be positive")
	}
	if c.Cache.MaxFiles <= 0 {
		return fmt.Errorf("cache.max_files must be positive")
	}
	if c.Cache.MinFileSizeKB <= 0 {
		return fmt.Errorf("cache.min_file_size_kb must be positive")
	}
	if c.Cache.MaxFileSizeMB <= 0 {
		return fmt.Errorf("cache.max_file_size_mb must be positive")
	}
	if c.Cache.MaxFileSizeMB > c.Cache.MaxSizeMB {
		return fmt.Errorf("cache.max_file_size_mb must not exceed cache.max_size_mb")
	}
	if c.Cache.MaxRetries < 0 {
		return fmt.Errorf("cache.max_retries must not be negative")
	}
	if c.Cache.QueueSize <= 0 {
		return fmt.Errorf("cache.queue_size must be positive")
	}

	// Validate durations
	durations := map[string]string{
		"remote.response_header_timeout": c.Remote.ResponseHeaderTimeout,
		"cache.progress_interval":        c.Cache.ProgressInterval,
		"cache.reader_idle_timeout":      c.Cache.ReaderIdleTimeout,
		"network.probe_interval":         c.Network.ProbeInterval,
		"network.probe_timeout":          c.Network.ProbeTimeout,
		"network.not_connected_wait":     c.Network.NotConnectedWait,
		"http.read_timeout":              c.HTTP.ReadTimeout,
		"http.write_timeout":             c.HTTP.WriteTimeout,
		"http.idle_timeout":              c.HTTP.IdleTimeout,
		"maintenance.check_interval":     c.Maintenance.CheckInterval,
		"maintenance.cleanup_interval":   c.Maintenance.CleanupInterval,
		"maintenance.metadata_max_age":   c.Maintenance.MetadataMaxAge,
	}
	for key, value := range durations {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
	}

	if c.HTTP.AdminUsername != "" && c.HTTP.AdminPassword == "" {
		return fmt.Errorf("http.admin_password is required when http.admin_username is set")
	}

	// Validate logging config
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		// Valid levels
	default:
		return fmt.Errorf("invalid logging.level: %s", c.Logging.Level)
	}

	switch c.Logging.Format {
	case "json", "text":
		// Valid formats
	default:
		return fmt.Errorf("invalid logging.format: %s", c.Logging.Format)
	}

	return nil
}

// MaxSizeBytes returns the total cache size limit in bytes
func (c *CacheConfig) MaxSizeBytes() int64 {
	return c.MaxSizeMB * 1024 * 1024
}

// MinFileSizeBytes returns the assumed size of entries of unknown length
func (c *CacheConfig) MinFileSizeBytes() int64 {
	return c.MinFileSizeKB * 1024
}

// MaxFileSizeBytes returns the largest resource that will be cached
func (c *CacheConfig) MaxFileSizeBytes() int64 {
	return c.MaxFileSizeMB * 1024 * 1024
}

// GetBufferSize returns the download buffer size in bytes
func (c *CacheConfig) GetBufferSize() int {
	if c.BufferSizeKB <= 0 {
		return 10 * 1024
	}
	return c.BufferSizeKB * 1024
}

// GetProgressInterval returns how often download progress is persisted
func (c *CacheConfig) GetProgressInterval() time.Duration {
	return parseDuration(c.ProgressInterval, 5*time.Second)
}

// GetReaderIdleTimeout returns how long a reader waits for new data
func (c *CacheConfig) GetReaderIdleTimeout() time.Duration {
	return parseDuration(c.ReaderIdleTimeout, 30*time.Second)
}

// GetResponseHeaderTimeout returns the response header timeout as time.Duration
func (c *RemoteConfig) GetResponseHeaderTimeout() time.Duration {
	return parseDuration(c.ResponseHeaderTimeout, 30*time.Second)
}

// GetProbeInterval returns the connectivity probe interval as time.Duration
func (c *NetworkConfig) GetProbeInterval() time.Duration {
	return parseDuration(c.ProbeInterval, 30*time.Second)
}

// GetProbeTimeout returns the connectivity probe timeout as time.Duration
func (c *NetworkConfig) GetProbeTimeout() time.Duration {
	return parseDuration(c.ProbeTimeout, 5*time.Second)
}

// GetNotConnectedWait returns how long the worker sleeps while offline
func (c *NetworkConfig) GetNotConnectedWait() time.Duration {
	return parseDuration(c.NotConnectedWait, 10*time.Second)
}

// GetReadTimeout returns the read timeout as time.Duration
func (c *HTTPConfig) GetReadTimeout() time.Duration {
	return parseDuration(c.ReadTimeout, 30*time.Second)
}

// GetWriteTimeout returns the write timeout as time.Duration. Zero means no
// timeout so long streams stay open.
func (c *HTTPConfig) GetWriteTimeout() time.Duration {
	return parseDuration(c.WriteTimeout, 0)
}

// GetIdleTimeout returns the idle timeout as time.Duration
func (c *HTTPConfig) GetIdleTimeout() time.Duration {
	return parseDuration(c.IdleTimeout, 60*time.Second)
}

// GetCheckInterval returns the maintenance check interval as time.Duration
func (c *MaintenanceConfig) GetCheckInterval() time.Duration {
	return parseDuration(c.CheckInterval, time.Minute)
}

// GetCleanupInterval returns the maintenance cleanup interval as time.Duration
func (c *MaintenanceConfig) GetCleanupInterval() time.Duration {
	return parseDuration(c.CleanupInterval, time.Hour)
}

// GetMetadataMaxAge returns how long untouched metadata records are kept
func (c *MaintenanceConfig) GetMetadataMaxAge() time.Duration {
	return parseDuration(c.MetadataMaxAge, 30*24*time.Hour)
}

// DatabasePath returns the metadata database path
func (c *Config) DatabasePath() string {
	if c.Database.Path != "" {
		return c.Database.Path
	}
	return strings.TrimRight(c.Cache.RootDir, "/") + ".db"
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
