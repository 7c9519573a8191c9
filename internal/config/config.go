package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	scanerrors "scanpilot/pkg/errors"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

const (
	ConfigName = "scanpilot"
	EnvPrefix  = "SCANPILOT"
)

type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Scanner      ScannerConfig      `mapstructure:"scanner"`
	Analyzer     AnalyzerConfig     `mapstructure:"analyzer"`
	Notification NotificationConfig `mapstructure:"notification"`
	Log          LogConfig          `mapstructure:"log"`
}

type ServerConfig struct {
	Host           string   `mapstructure:"host"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type DatabaseConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

type ScannerConfig struct {
	FanOut             int           `mapstructure:"fan_out"`
	DefaultTimeout     time.Duration `mapstructure:"default_timeout"`
	MaxOutputBytes     int           `mapstructure:"max_output_bytes"`
	MaxConcurrentScans int           `mapstructure:"max_concurrent_scans"`
	CatalogFile        string        `mapstructure:"catalog_file"`
	ScanLogDir         string        `mapstructure:"scan_log_dir"`
}

type AnalyzerConfig struct {
	APIKey            string        `mapstructure:"api_key"`
	Model             string        `mapstructure:"model"`
	MaxTokens         int           `mapstructure:"max_tokens"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
}

type NotificationConfig struct {
	Enabled          bool   `mapstructure:"enabled"`
	DiscordToken     string `mapstructure:"discord_token"`
	DiscordChannelID string `mapstructure:"discord_channel_id"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// LoadOptions controls where configuration is read from. An explicit
// ConfigFile must exist; the search paths are optional.
type LoadOptions struct {
	ConfigFile  string
	SearchPaths []string
	EnvFile     string
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"server.host":                     "0.0.0.0",
		"server.port":                     3000,
		"server.allowed_origins":          []string{"http://localhost:5173"},
		"database.enabled":                false,
		"database.host":                   "localhost",
		"database.port":                   5432,
		"database.user":                   "scanpilot",
		"database.password":               "scanpilot",
		"database.name":                   "scanpilot",
		"database.sslmode":                "disable",
		"scanner.fan_out":                 4,
		"scanner.default_timeout":         "0s",
		"scanner.max_output_bytes":        1 << 20,
		"scanner.max_concurrent_scans":    0,
		"scanner.catalog_file":            "",
		"scanner.scan_log_dir":            "",
		"analyzer.api_key":                "",
		"analyzer.model":                  "claude-sonnet-4-20250514",
		"analyzer.max_tokens":             1500,
		"analyzer.timeout":                "90s",
		"analyzer.requests_per_minute":    0,
		"notification.enabled":            false,
		"notification.discord_token":      "",
		"notification.discord_channel_id": "",
		"log.level":                       "info",
	}
}

// well-known variables accepted next to the SCANPILOT_ prefixed ones
var envAliases = map[string]string{
	"analyzer.api_key":                "ANTHROPIC_API_KEY",
	"notification.discord_token":      "DISCORD_TOKEN",
	"notification.discord_channel_id": "DISCORD_CHANNEL_ID",
	"database.host":                   "DB_HOST",
	"database.port":                   "DB_PORT",
	"database.user":                   "DB_USER",
	"database.password":               "DB_PASSWORD",
	"database.name":                   "DB_NAME",
}

func Load(opts LoadOptions) (*Config, error) {
	envFile := opts.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error reading env file %s: %w", envFile, err)
	}

	v := viper.New()
	v.SetConfigType("yaml")

	for key, value := range defaults() {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	for key, alias := range envAliases {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, alias); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", alias, err)
		}
	}

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", opts.ConfigFile, err)
		}
	} else {
		paths := opts.SearchPaths
		if len(paths) == 0 {
			paths = []string{"./config", "/etc/scanpilot", "$HOME/.scanpilot"}
		}
		for _, path := range paths {
			v.AddConfigPath(path)
		}
		v.SetConfigName(ConfigName)

		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
			log.Debugf("No %s config file in %v, using defaults", ConfigName, paths)
		}
	}

	if used := v.ConfigFileUsed(); used != "" {
		log.Infof("Loaded config file: %s", used)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch {
	case c.Server.Port < 1 || c.Server.Port > 65535:
		return scanerrors.NewConfigError("server.port", c.Server.Port, "must be between 1 and 65535")
	case c.Scanner.FanOut < 1:
		return scanerrors.NewConfigError("scanner.fan_out", c.Scanner.FanOut, "must be at least 1")
	case c.Scanner.DefaultTimeout < 0:
		return scanerrors.NewConfigError("scanner.default_timeout", c.Scanner.DefaultTimeout, "must not be negative")
	case c.Scanner.MaxOutputBytes < 1:
		return scanerrors.NewConfigError("scanner.max_output_bytes", c.Scanner.MaxOutputBytes, "must be positive")
	case c.Scanner.MaxConcurrentScans < 0:
		return scanerrors.NewConfigError("scanner.max_concurrent_scans", c.Scanner.MaxConcurrentScans, "must not be negative")
	case c.Analyzer.Timeout <= 0:
		return scanerrors.NewConfigError("analyzer.timeout", c.Analyzer.Timeout, "must be positive")
	case c.Analyzer.MaxTokens < 1:
		return scanerrors.NewConfigError("analyzer.max_tokens", c.Analyzer.MaxTokens, "must be positive")
	case c.Analyzer.RequestsPerMinute < 0:
		return scanerrors.NewConfigError("analyzer.requests_per_minute", c.Analyzer.RequestsPerMinute, "must not be negative")
	}

	if c.Database.Enabled && (c.Database.Host == "" || c.Database.Name == "") {
		return scanerrors.NewConfigError("database", c.Database.Host, "host and name are required when the database is enabled")
	}
	if c.Notification.Enabled && (c.Notification.DiscordToken == "" || c.Notification.DiscordChannelID == "") {
		return scanerrors.NewConfigError("notification", "", "discord token and channel id are required when notifications are enabled")
	}
	return nil
}
