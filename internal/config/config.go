// ABOUTME: Configuration loading and parsing for familiar
// ABOUTME: YAML or TOML files with ${VAR} expansion, FAMILIAR_* overrides and duration parsing

package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. FAMILIAR_MATRIX_ACCESS_TOKEN.
const EnvPrefix = "FAMILIAR_"

// Config represents the complete familiar configuration
type Config struct {
	Matrix   MatrixConfig   `yaml:"matrix" toml:"matrix" envPrefix:"MATRIX_"`
	Bot      BotConfig      `yaml:"bot" toml:"bot" envPrefix:"BOT_"`
	Database DatabaseConfig `yaml:"database" toml:"database" envPrefix:"DATABASE_"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging" envPrefix:"LOGGING_"`
	Links    LinksConfig    `yaml:"links" toml:"links" envPrefix:"LINKS_"`
}

// MatrixConfig holds the homeserver account the bot runs as
type MatrixConfig struct {
	Homeserver  string `yaml:"homeserver" toml:"homeserver" env:"HOMESERVER"`
	UserID      string `yaml:"user_id" toml:"user_id" env:"USER_ID"`
	AccessToken string `yaml:"access_token" toml:"access_token" env:"ACCESS_TOKEN"`
	DeviceID    string `yaml:"device_id" toml:"device_id" env:"DEVICE_ID"`

	// Encryption enables end-to-end encryption. RecoveryKey, when set, also
	// verifies the device via cross-signing.
	Encryption  bool   `yaml:"encryption" toml:"encryption" env:"ENCRYPTION"`
	RecoveryKey string `yaml:"recovery_key" toml:"recovery_key" env:"RECOVERY_KEY"`

	// Owner is the user with full control over the bot.
	Owner string `yaml:"owner" toml:"owner" env:"OWNER"`

	// ReportRoom receives internal error reports. Optional.
	ReportRoom string `yaml:"report_room" toml:"report_room" env:"REPORT_ROOM"`

	AutoJoin bool   `yaml:"auto_join" toml:"auto_join" env:"AUTO_JOIN"`
	DataDir  string `yaml:"data_dir" toml:"data_dir" env:"DATA_DIR"`
}

// BotConfig holds command handling and fragment behaviour
type BotConfig struct {
	CommandPrefix string   `yaml:"command_prefix" toml:"command_prefix" env:"COMMAND_PREFIX"`
	AllowedRooms  []string `yaml:"allowed_rooms" toml:"allowed_rooms" env:"ALLOWED_ROOMS" envSeparator:","`
	Statuses      []string `yaml:"statuses" toml:"statuses" env:"STATUSES" envSeparator:"|"`

	// DuplicateSettings is "reject" or "overwrite".
	DuplicateSettings string `yaml:"duplicate_settings" toml:"duplicate_settings" env:"DUPLICATE_SETTINGS"`

	ActivityInterval time.Duration `yaml:"-" toml:"-"`
	CacheTTL         time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	ActivityIntervalRaw string `yaml:"activity_interval" toml:"activity_interval" env:"ACTIVITY_INTERVAL"`
	CacheTTLRaw         string `yaml:"cache_ttl" toml:"cache_ttl" env:"CACHE_TTL"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path" env:"PATH"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level" env:"LEVEL"`
	Format string `yaml:"format" toml:"format" env:"FORMAT"`
}

// LinksConfig holds link templates used by the course command
type LinksConfig struct {
	CoursePrefix string `yaml:"course_prefix" toml:"course_prefix" env:"COURSE_PREFIX"`
}

// Defaults applied to empty fields after loading.
const (
	DefaultCommandPrefix     = "!"
	DefaultDatabasePath      = "familiar.db"
	DefaultDataDir           = "data"
	DefaultActivityInterval  = time.Hour
	DefaultCacheTTL          = 10 * time.Minute
	DefaultDuplicateSettings = "reject"
)

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are parsed as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded, then
// FAMILIAR_* variables override individual fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parsing environment overrides: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Bot.CommandPrefix == "" {
		c.Bot.CommandPrefix = DefaultCommandPrefix
	}
	if c.Bot.ActivityInterval == 0 {
		c.Bot.ActivityInterval = DefaultActivityInterval
	}
	if c.Bot.CacheTTL == 0 {
		c.Bot.CacheTTL = DefaultCacheTTL
	}
	if c.Bot.DuplicateSettings == "" {
		c.Bot.DuplicateSettings = DefaultDuplicateSettings
	}
	if c.Database.Path == "" {
		c.Database.Path = DefaultDatabasePath
	}
	if c.Matrix.DataDir == "" {
		c.Matrix.DataDir = DefaultDataDir
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Matrix.Homeserver == "" {
		return fmt.Errorf("matrix.homeserver is required")
	}
	u, err := url.Parse(c.Matrix.Homeserver)
	if err != nil {
		return fmt.Errorf("matrix.homeserver is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("matrix.homeserver must use http or https scheme")
	}
	if !strings.HasPrefix(c.Matrix.UserID, "@") || !strings.Contains(c.Matrix.UserID, ":") {
		return fmt.Errorf("matrix.user_id must look like @user:server")
	}
	if c.Matrix.AccessToken == "" {
		return fmt.Errorf("matrix.access_token is required")
	}
	if c.Matrix.Owner != "" && !strings.HasPrefix(c.Matrix.Owner, "@") {
		return fmt.Errorf("matrix.owner must be a user id")
	}
	if c.Matrix.ReportRoom != "" && !strings.HasPrefix(c.Matrix.ReportRoom, "!") {
		return fmt.Errorf("matrix.report_room must be a room id")
	}
	if c.Matrix.RecoveryKey != "" && !c.Matrix.Encryption {
		return fmt.Errorf("matrix.recovery_key requires matrix.encryption")
	}

	if strings.ContainsAny(c.Bot.CommandPrefix, " \t\n") {
		return fmt.Errorf("bot.command_prefix must not contain whitespace")
	}
	if !slices.Contains([]string{"reject", "overwrite"}, c.Bot.DuplicateSettings) {
		return fmt.Errorf("bot.duplicate_settings must be reject or overwrite, got %q", c.Bot.DuplicateSettings)
	}
	if c.Bot.ActivityInterval < time.Second {
		return fmt.Errorf("bot.activity_interval must be at least 1s")
	}

	if !slices.Contains([]string{"debug", "info", "warn", "error"}, c.Logging.Level) {
		return fmt.Errorf("logging.level must be one of debug, info, warn, error")
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("logging.format must be text or json")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Bot.ActivityIntervalRaw != "" {
		cfg.Bot.ActivityInterval, err = time.ParseDuration(cfg.Bot.ActivityIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing activity_interval %q: %w", cfg.Bot.ActivityIntervalRaw, err)
		}
	}

	if cfg.Bot.CacheTTLRaw != "" {
		cfg.Bot.CacheTTL, err = time.ParseDuration(cfg.Bot.CacheTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing cache_ttl %q: %w", cfg.Bot.CacheTTLRaw, err)
		}
	}

	return nil
}
