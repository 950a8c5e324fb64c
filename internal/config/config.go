package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	UsersStoreFile  = "file"
	UsersStoreRedis = "redis"
)

type Config struct {
	Environment string `toml:"environment"`
	Host        string `toml:"host"`
	Port        int    `toml:"port"`

	// logging
	LogLevel      string `toml:"log_level"`
	LogsPath      string `toml:"logs_path"`
	LogToStdout   bool   `toml:"log_to_stdout"`
	LogFormatJSON bool   `toml:"log_format_json"`
	SentryEnabled bool   `toml:"sentry_enabled"`

	// metrics
	PrometheusMetricsHost string `toml:"prometheus_metrics_host"`
	PrometheusMetricsPort string `toml:"prometheus_metrics_port"`

	// credentials store
	UsersStore    string `toml:"users_store"`
	UsersFilePath string `toml:"users_file_path"`
	UsersRedisKey string `toml:"users_redis_key"`
	RedisHost     string `toml:"redis_host"`
	RedisPort     string `toml:"redis_port"`

	// auth
	BcryptCost     int      `toml:"bcrypt_cost"`
	TokenTTL       Duration `toml:"token_ttl"`
	SecureCookie   bool     `toml:"secure_cookie"`
	AllowedOrigins []string `toml:"allowed_origins"`

	// proxmox control plane
	ProxmoxBaseURL     string   `toml:"proxmox_base_url"`
	ProxmoxNode        string   `toml:"proxmox_node"`
	ProxmoxInsecureTLS bool     `toml:"proxmox_insecure_tls"`
	ProxmoxTimeout     Duration `toml:"proxmox_timeout"`
	ProxmoxCacheTTLSec int      `toml:"proxmox_cache_ttl_sec"`

	// notifications
	NotifyQueueSize int      `toml:"notify_queue_size"`
	NotifyTimeout   Duration `toml:"notify_timeout"`
}

// Duration lets TOML files use strings like "1h" or "30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

type Toml struct {
	Development *Config
	Production  *Config
}

func (t *Toml) Get(env string) (*Config, error) {
	switch strings.ToLower(env) {
	case "dev", "development":
		return t.Development, nil
	case "prod", "production":
		return t.Production, nil
	default:
		return nil, fmt.Errorf("unknown env: %s", env)
	}
}

func Load(env, configPath string) (*Config, error) {
	var tomlConfig Toml
	if _, err := toml.DecodeFile(configPath, &tomlConfig); err != nil {
		return nil, fmt.Errorf("decode config file [%s]: %w", configPath, err)
	}

	cfg, err := tomlConfig.Get(env)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, fmt.Errorf("config for env [%s] missing in %s", env, configPath)
	}

	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config for env [%s]: %w", env, err)
	}

	return cfg, nil
}

func (c *Config) setDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 35300
	}
	if c.UsersStore == "" {
		c.UsersStore = UsersStoreFile
	}
	if c.UsersFilePath == "" {
		c.UsersFilePath = "users.json"
	}
	if c.UsersRedisKey == "" {
		c.UsersRedisKey = "lxcgate-users"
	}
	if c.RedisPort == "" {
		c.RedisPort = "6379"
	}
	if c.TokenTTL.Duration == 0 {
		c.TokenTTL.Duration = time.Hour
	}
	if c.ProxmoxTimeout.Duration == 0 {
		c.ProxmoxTimeout.Duration = 30 * time.Second
	}
	if c.NotifyQueueSize == 0 {
		c.NotifyQueueSize = 100
	}
	if c.NotifyTimeout.Duration == 0 {
		c.NotifyTimeout.Duration = 10 * time.Second
	}
	if c.PrometheusMetricsPort == "" {
		c.PrometheusMetricsPort = "9090"
	}
}

func (c *Config) Validate() error {
	switch c.UsersStore {
	case UsersStoreFile, UsersStoreRedis:
	default:
		return fmt.Errorf("unknown users store: %s", c.UsersStore)
	}
	if c.UsersStore == UsersStoreRedis && c.RedisHost == "" {
		return errors.New("redis users store requires redis_host")
	}
	if c.ProxmoxBaseURL == "" {
		return errors.New("proxmox_base_url not set")
	}
	if c.ProxmoxNode == "" {
		return errors.New("proxmox_node not set")
	}
	// session validity is fixed, a config file must not change it
	if c.TokenTTL.Duration != time.Hour {
		return fmt.Errorf("token_ttl must be 1h, got %s", c.TokenTTL.Duration)
	}
	if c.NotifyQueueSize < 0 {
		return fmt.Errorf("invalid notify queue size: %d", c.NotifyQueueSize)
	}
	return nil
}
