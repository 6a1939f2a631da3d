// Package config handles loading and validating Beacon configuration.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/darshan-rambhia/beacon/internal/model"
)

// envVarPattern matches ${VAR_NAME} placeholders in config values.
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// ErrConfigFileNotFound is returned by Load when the specified config file does not exist.
var ErrConfigFileNotFound = errors.New("config file not found")

// Config is the top-level Beacon configuration.
type Config struct {
	Listen               string               `yaml:"listen"`
	DBPath               string               `yaml:"db_path"`
	LogLevel             string               `yaml:"log_level"`
	LogFormat            string               `yaml:"log_format"`
	WorkerPoolSize       int                  `yaml:"worker_pool_size"`
	Storage              StorageConfig        `yaml:"storage"`
	SecretKey            string               `yaml:"secret_key"`
	Expiration           Duration             `yaml:"expiration"`
	FlushInterval        Duration             `yaml:"flush_interval"`
	PruneInterval        Duration             `yaml:"prune_interval"`
	BaseAppURL           string               `yaml:"base_app_url"`
	HostnameDisplayStrip model.Pattern        `yaml:"hostname_display_strip"`
	ClientName           string               `yaml:"client_name"`
	EmailTo              string               `yaml:"email_to"`
	EmailFrom            string               `yaml:"email_from"`
	AlertWebHook         string               `yaml:"alert_web_hook"`
	SMTP                 SMTPConfig           `yaml:"smtp"`
	Notifications        []NotificationConfig `yaml:"notifications"`
	Groups               []model.GroupDef     `yaml:"groups"`
	Monitors             []model.MonitorDef   `yaml:"monitors"`
	Alerts               []model.AlertDef     `yaml:"alerts"`
	Systems              []model.Resolution   `yaml:"systems"`
}

// StorageConfig selects the storage backend.
type StorageConfig struct {
	Type        string      `yaml:"type"` // "sqlite" or "redis"
	Redis       RedisConfig `yaml:"redis"`
	LockTimeout Duration    `yaml:"lock_timeout"`
}

// RedisConfig describes the Redis connection used by the redis backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// SMTPConfig describes the mail relay. Email is disabled when Host is empty.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// NotificationConfig describes a notification target.
type NotificationConfig struct {
	Type    string            `yaml:"type"` // "ntfy" or "webhook"
	URL     string            `yaml:"url"`
	Topic   string            `yaml:"topic,omitempty"`   // ntfy only
	Method  string            `yaml:"method,omitempty"`  // webhook only
	Headers map[string]string `yaml:"headers,omitempty"` // webhook only
}

// Duration wraps time.Duration with YAML string parsing support. Besides Go
// durations it accepts whole day, week and year counts such as "7d".
type Duration struct {
	time.Duration
}

var longUnits = map[byte]time.Duration{
	'd': 24 * time.Hour,
	'w': 7 * 24 * time.Hour,
	'y': 365 * 24 * time.Hour,
}

// ParseDuration parses a Go duration or a count of days, weeks or years.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if n := len(s); n > 1 {
		if unit, ok := longUnits[s[n-1]]; ok {
			count, err := strconv.ParseFloat(s[:n-1], 64)
			if err != nil || count < 0 {
				return 0, fmt.Errorf("invalid duration %q", s)
			}
			return time.Duration(count * float64(unit)), nil
		}
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return d, nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

// DefaultSystems are the timeline resolutions used when none are configured.
func DefaultSystems() []model.Resolution {
	return []model.Resolution{
		{ID: "daily", EpochDiv: 60, DateFormat: "2006/01/02", SingleOnly: true},
		{ID: "monthly", EpochDiv: 3600, DateFormat: "2006/01"},
		{ID: "yearly", EpochDiv: 86400, DateFormat: "2006"},
	}
}

// Load reads configuration from a YAML file. If a path is given and the file
// does not exist, ErrConfigFileNotFound is returned. Environment overrides
// are applied after the file.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigFileNotFound, path)
		}
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if len(data) > 0 {
			if err := yaml.Unmarshal(expandEnvVars(data), cfg); err != nil {
				return nil, fmt.Errorf("parsing config: %w", err)
			}
		}
	}

	applyEnvOverrides(cfg)
	if len(cfg.Systems) == 0 {
		cfg.Systems = DefaultSystems()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if len(c.Groups) == 0 {
		return fmt.Errorf("at least one group is required")
	}
	seen := map[string]bool{}
	for i, g := range c.Groups {
		if g.ID == "" {
			return fmt.Errorf("groups[%d]: id is required", i)
		}
		if seen[g.ID] {
			return fmt.Errorf("groups[%d]: duplicate id %q", i, g.ID)
		}
		seen[g.ID] = true
		if g.HostnameMatch.IsZero() {
			return fmt.Errorf("groups[%d]: hostname_match is required", i)
		}
	}

	seen = map[string]bool{}
	for i, m := range c.Monitors {
		if m.ID == "" {
			return fmt.Errorf("monitors[%d]: id is required", i)
		}
		if seen[m.ID] {
			return fmt.Errorf("monitors[%d]: duplicate id %q", i, m.ID)
		}
		seen[m.ID] = true
		if m.Source == "" {
			return fmt.Errorf("monitors[%d]: source is required", i)
		}
		if !m.DataType.Valid() {
			return fmt.Errorf("monitors[%d]: unknown data_type %q", i, m.DataType)
		}
	}

	seen = map[string]bool{}
	for i, a := range c.Alerts {
		if a.ID == "" {
			return fmt.Errorf("alerts[%d]: id is required", i)
		}
		if seen[a.ID] {
			return fmt.Errorf("alerts[%d]: duplicate id %q", i, a.ID)
		}
		seen[a.ID] = true
		if a.Expression == "" {
			return fmt.Errorf("alerts[%d]: expression is required", i)
		}
	}

	seen = map[string]bool{}
	for i, s := range c.Systems {
		if s.ID == "" {
			return fmt.Errorf("systems[%d]: id is required", i)
		}
		if seen[s.ID] {
			return fmt.Errorf("systems[%d]: duplicate id %q", i, s.ID)
		}
		seen[s.ID] = true
		if s.EpochDiv < 1 {
			return fmt.Errorf("systems[%d]: epoch_div must be >= 1", i)
		}
		if s.DateFormat == "" {
			return fmt.Errorf("systems[%d]: date_format is required", i)
		}
	}

	switch c.Storage.Type {
	case "sqlite":
		if c.DBPath == "" {
			return fmt.Errorf("db_path is required for sqlite storage")
		}
	case "redis":
		if c.Storage.Redis.Addr == "" {
			return fmt.Errorf("storage.redis.addr is required for redis storage")
		}
	default:
		return fmt.Errorf("storage.type must be one of: sqlite, redis")
	}

	for i, n := range c.Notifications {
		switch n.Type {
		case "ntfy":
			if n.URL == "" {
				return fmt.Errorf("notifications[%d]: url is required for ntfy", i)
			}
			if n.Topic == "" {
				return fmt.Errorf("notifications[%d]: topic is required for ntfy", i)
			}
		case "webhook":
			if n.URL == "" {
				return fmt.Errorf("notifications[%d]: url is required for webhook", i)
			}
		default:
			return fmt.Errorf("notifications[%d]: unknown type %q (expected ntfy or webhook)", i, n.Type)
		}
	}
	if c.BaseAppURL != "" {
		if _, err := url.Parse(c.BaseAppURL); err != nil {
			return fmt.Errorf("base_app_url: %w", err)
		}
	}
	if c.SMTP.Host != "" && c.EmailFrom == "" {
		return fmt.Errorf("email_from is required when smtp is configured")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("log_level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.LogFormat] {
		return fmt.Errorf("log_format must be one of: text, json")
	}
	if c.WorkerPoolSize < 1 {
		return fmt.Errorf("worker_pool_size must be >= 1")
	}
	if c.Expiration.Duration < 0 {
		return fmt.Errorf("expiration must be >= 0")
	}
	if c.FlushInterval.Duration <= 0 {
		return fmt.Errorf("flush_interval must be > 0")
	}

	return nil
}

func defaults() *Config {
	return &Config{
		Listen:         ":3800",
		DBPath:         "/data/beacon.db",
		LogLevel:       "info",
		LogFormat:      "text",
		WorkerPoolSize: 4,
		Storage: StorageConfig{
			Type:        "sqlite",
			LockTimeout: Duration{30 * time.Second},
		},
		FlushInterval: Duration{time.Minute},
		PruneInterval: Duration{time.Hour},
		ClientName:    "Beacon",
		SMTP:          SMTPConfig{Port: 25},
	}
}

// expandEnvVars replaces ${VAR_NAME} placeholders in raw YAML with the
// corresponding environment variable values. Unset variables are replaced
// with an empty string, which will then fail validation with a clear error.
func expandEnvVars(data []byte) []byte {
	return envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		key := string(match[2 : len(match)-1]) // strip ${ and }
		return []byte(os.Getenv(key))
	})
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BEACON_LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv("BEACON_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("BEACON_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("BEACON_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("BEACON_SECRET_KEY"); v != "" {
		cfg.SecretKey = v
	}
	if v := os.Getenv("BEACON_BASE_APP_URL"); v != "" {
		cfg.BaseAppURL = v
	}
	if v := os.Getenv("BEACON_REDIS_ADDR"); v != "" {
		cfg.Storage.Type = "redis"
		cfg.Storage.Redis.Addr = v
	}
	if v := os.Getenv("BEACON_WORKER_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.WorkerPoolSize = n
		}
	}

	// Single ntfy target from env vars (only if no YAML notifications configured).
	if len(cfg.Notifications) == 0 {
		if ntfyURL := os.Getenv("BEACON_NTFY_URL"); ntfyURL != "" {
			topic := os.Getenv("BEACON_NTFY_TOPIC")
			if topic == "" {
				topic = "beacon-alerts"
			}
			cfg.Notifications = append(cfg.Notifications, NotificationConfig{
				Type:  "ntfy",
				URL:   ntfyURL,
				Topic: topic,
			})
		}
	}
}
