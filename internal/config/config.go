package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/eugenenazirov/mongo-crud/internal/storage"
)

const (
	defaultPort             = "8080"
	defaultRateLimitRPS     = 25.0
	defaultRateLimitBurst   = 50
	defaultOperationTimeout = 10 * time.Second
	defaultDotEnvFile       = ".env"

	// LogFormatJSON emits structured JSON log lines.
	LogFormatJSON = "json"
	// LogFormatConsole emits human readable log lines for interactive use.
	LogFormatConsole = "console"

	// StorageMongo serves users from MongoDB.
	StorageMongo = "mongo"
	// StorageMemory serves users from process memory; nothing is persisted.
	StorageMemory = "memory"
)

// Config aggregates runtime configuration resolved from multiple sources.
// Precedence: CLI flags > Environment variables > YAML config > Defaults
type Config struct {
	Storage                string
	Environment            string
	MongoURI               string
	Database               string
	ServerSelectionTimeout time.Duration
	OperationTimeout       time.Duration
	LogFormat              string

	Port                 string
	ShutdownGracePeriod  time.Duration
	ReadHeaderTimeout    time.Duration
	WriteTimeout         time.Duration
	IdleTimeout          time.Duration
	EnableRequestLogging bool
	RateLimitRPS         float64
	RateLimitBurst       int
}

// yamlConfig represents the YAML configuration file structure.
type yamlConfig struct {
	Storage              string        `yaml:"storage"`
	Mongo                yamlMongo     `yaml:"mongo"`
	LogFormat            string        `yaml:"log_format"`
	Port                 string        `yaml:"port"`
	ShutdownGracePeriod  string        `yaml:"shutdown_grace_period"`
	ReadHeaderTimeout    string        `yaml:"read_header_timeout"`
	WriteTimeout         string        `yaml:"write_timeout"`
	IdleTimeout          string        `yaml:"idle_timeout"`
	EnableRequestLogging *bool         `yaml:"enable_request_logging"`
	RateLimit            yamlRateLimit `yaml:"rate_limit"`
}

// yamlMongo represents the mongo section in YAML.
type yamlMongo struct {
	Environment            string `yaml:"environment"`
	URI                    string `yaml:"uri"`
	Database               string `yaml:"database"`
	ServerSelectionTimeout string `yaml:"server_selection_timeout"`
	OperationTimeout       string `yaml:"operation_timeout"`
}

// yamlRateLimit represents the rate limit section in YAML.
type yamlRateLimit struct {
	RPS   *float64 `yaml:"rps"`
	Burst *int     `yaml:"burst"`
}

// CLIOverrides holds command-line flag overrides.
type CLIOverrides struct {
	ConfigFile     string
	EnvFile        string
	Storage        *string
	Environment    *string
	MongoURI       *string
	Database       *string
	LogFormat      *string
	Port           *string
	RateLimitRPS   *float64
	RateLimitBurst *int

	// DefaultLogFormat replaces the built-in log format default. YAML,
	// environment and LogFormat still take precedence over it.
	DefaultLogFormat string
}

// Load extracts configuration from multiple sources with precedence:
// CLI flags > Environment variables > YAML config > Defaults.
// Variables from a dotenv file are loaded first and never replace variables
// already present in the process environment.
func Load(overrides *CLIOverrides) (Config, error) {
	if err := loadDotEnv(overrides); err != nil {
		return Config{}, err
	}

	cfg := defaultConfig()
	if overrides != nil && overrides.DefaultLogFormat != "" {
		cfg.LogFormat = overrides.DefaultLogFormat
	}

	// Load from YAML file if specified
	if overrides != nil && overrides.ConfigFile != "" {
		yamlCfg, err := loadFromFile(overrides.ConfigFile)
		if err != nil {
			return Config{}, fmt.Errorf("load YAML config: %w", err)
		}
		applyYAMLConfig(&cfg, yamlCfg)
	}

	// Apply environment variables (override YAML)
	applyEnvConfig(&cfg)

	// Apply CLI overrides (highest precedence)
	if overrides != nil {
		applyCLIOverrides(&cfg, overrides)
	}

	// Validate final configuration
	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Profile resolves the connection profile this configuration points at.
// An explicit environment is looked up by name, otherwise it is detected from
// the process environment. An explicit URI and database pair replaces the
// profile altogether; a single explicit value overrides that field only.
func (c Config) Profile() Profile {
	if c.MongoURI != "" && c.Database != "" {
		return CustomProfile(c.MongoURI, c.Database)
	}

	var profile Profile
	if c.Environment != "" {
		profile = GetProfile(c.Environment)
	} else {
		profile = AutoDetectProfile()
	}

	if c.MongoURI != "" {
		profile.ConnectionString = c.MongoURI
	}
	if c.Database != "" {
		profile.DatabaseName = c.Database
	}
	return profile
}

// StorageSettings builds the client settings for the resolved profile.
func (c Config) StorageSettings(appName string) storage.Settings {
	profile := c.Profile()
	return storage.Settings{
		URI:                    profile.ConnectionString,
		Database:               profile.DatabaseName,
		ServerSelectionTimeout: c.ServerSelectionTimeout,
		AppName:                appName,
	}
}

// defaultConfig returns a Config with default values.
func defaultConfig() Config {
	return Config{
		Storage:                StorageMongo,
		ServerSelectionTimeout: storage.DefaultServerSelectionTimeout,
		OperationTimeout:       defaultOperationTimeout,
		LogFormat:              LogFormatJSON,
		Port:                   defaultPort,
		ShutdownGracePeriod:    10 * time.Second,
		ReadHeaderTimeout:      5 * time.Second,
		WriteTimeout:           15 * time.Second,
		IdleTimeout:            60 * time.Second,
		EnableRequestLogging:   true,
		RateLimitRPS:           defaultRateLimitRPS,
		RateLimitBurst:         defaultRateLimitBurst,
	}
}

// loadDotEnv loads the explicit env file, or .env when present.
func loadDotEnv(overrides *CLIOverrides) error {
	if overrides != nil && overrides.EnvFile != "" {
		if err := godotenv.Load(overrides.EnvFile); err != nil {
			return fmt.Errorf("load env file: %w", err)
		}
		return nil
	}
	if _, err := os.Stat(defaultDotEnvFile); err != nil {
		return nil
	}
	if err := godotenv.Load(defaultDotEnvFile); err != nil {
		return fmt.Errorf("load %s: %w", defaultDotEnvFile, err)
	}
	return nil
}

// loadFromFile loads configuration from a YAML file.
func loadFromFile(path string) (*yamlConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	var yamlCfg yamlConfig
	if err := yaml.Unmarshal(data, &yamlCfg); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}

	return &yamlCfg, nil
}

// applyYAMLConfig applies YAML configuration to the Config struct.
func applyYAMLConfig(cfg *Config, yamlCfg *yamlConfig) {
	if yamlCfg.Storage != "" {
		cfg.Storage = yamlCfg.Storage
	}
	if yamlCfg.Mongo.Environment != "" {
		cfg.Environment = yamlCfg.Mongo.Environment
	}
	if yamlCfg.Mongo.URI != "" {
		cfg.MongoURI = yamlCfg.Mongo.URI
	}
	if yamlCfg.Mongo.Database != "" {
		cfg.Database = yamlCfg.Mongo.Database
	}
	setDuration(&cfg.ServerSelectionTimeout, yamlCfg.Mongo.ServerSelectionTimeout)
	setDuration(&cfg.OperationTimeout, yamlCfg.Mongo.OperationTimeout)

	if yamlCfg.LogFormat != "" {
		cfg.LogFormat = yamlCfg.LogFormat
	}

	if yamlCfg.Port != "" {
		cfg.Port = yamlCfg.Port
	}

	setDuration(&cfg.ShutdownGracePeriod, yamlCfg.ShutdownGracePeriod)
	setDuration(&cfg.ReadHeaderTimeout, yamlCfg.ReadHeaderTimeout)
	setDuration(&cfg.WriteTimeout, yamlCfg.WriteTimeout)
	setDuration(&cfg.IdleTimeout, yamlCfg.IdleTimeout)

	if yamlCfg.EnableRequestLogging != nil {
		cfg.EnableRequestLogging = *yamlCfg.EnableRequestLogging
	}

	if yamlCfg.RateLimit.RPS != nil && *yamlCfg.RateLimit.RPS >= 0 {
		cfg.RateLimitRPS = *yamlCfg.RateLimit.RPS
	}

	if yamlCfg.RateLimit.Burst != nil && *yamlCfg.RateLimit.Burst >= 0 {
		cfg.RateLimitBurst = *yamlCfg.RateLimit.Burst
	}
}

// applyEnvConfig applies environment variable configuration. MONGODB_URI,
// MONGODB_DATABASE and MONGODB_ATLAS_URI are not read here; they feed
// profile resolution instead.
func applyEnvConfig(cfg *Config) {
	if backend := strings.TrimSpace(os.Getenv("STORAGE_BACKEND")); backend != "" {
		cfg.Storage = backend
	}

	if env := strings.TrimSpace(os.Getenv("MONGODB_ENV")); env != "" {
		cfg.Environment = env
	}

	if timeout := strings.TrimSpace(os.Getenv("SERVER_SELECTION_TIMEOUT")); timeout != "" {
		setDuration(&cfg.ServerSelectionTimeout, timeout)
	}

	if format := strings.TrimSpace(os.Getenv("LOG_FORMAT")); format != "" {
		cfg.LogFormat = format
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		cfg.Port = port
	}

	if rps := strings.TrimSpace(os.Getenv("RATE_LIMIT_RPS")); rps != "" {
		if value, err := strconv.ParseFloat(rps, 64); err == nil && value >= 0 {
			cfg.RateLimitRPS = value
		}
	}

	if burst := strings.TrimSpace(os.Getenv("RATE_LIMIT_BURST")); burst != "" {
		if value, err := strconv.Atoi(burst); err == nil && value >= 0 {
			cfg.RateLimitBurst = value
		}
	}
}

// applyCLIOverrides applies command-line flag overrides.
func applyCLIOverrides(cfg *Config, overrides *CLIOverrides) {
	setString(&cfg.Storage, overrides.Storage)
	setString(&cfg.Environment, overrides.Environment)
	setString(&cfg.MongoURI, overrides.MongoURI)
	setString(&cfg.Database, overrides.Database)
	setString(&cfg.LogFormat, overrides.LogFormat)
	setString(&cfg.Port, overrides.Port)

	if overrides.RateLimitRPS != nil && *overrides.RateLimitRPS >= 0 {
		cfg.RateLimitRPS = *overrides.RateLimitRPS
	}

	if overrides.RateLimitBurst != nil && *overrides.RateLimitBurst >= 0 {
		cfg.RateLimitBurst = *overrides.RateLimitBurst
	}
}

// validateConfig validates the final configuration.
func validateConfig(cfg Config) error {
	if cfg.Storage != StorageMongo && cfg.Storage != StorageMemory {
		return fmt.Errorf("storage must be %q or %q, got %q", StorageMongo, StorageMemory, cfg.Storage)
	}
	if cfg.Environment != "" {
		if _, ok := ParseEnvironment(cfg.Environment); !ok {
			return fmt.Errorf("unknown environment %q", cfg.Environment)
		}
	}
	if cfg.LogFormat != LogFormatJSON && cfg.LogFormat != LogFormatConsole {
		return fmt.Errorf("log format must be %q or %q, got %q", LogFormatJSON, LogFormatConsole, cfg.LogFormat)
	}
	if cfg.ServerSelectionTimeout <= 0 {
		return fmt.Errorf("server selection timeout must be positive")
	}
	if cfg.OperationTimeout <= 0 {
		return fmt.Errorf("operation timeout must be positive")
	}
	if cfg.RateLimitRPS < 0 {
		return fmt.Errorf("RATE_LIMIT_RPS must be >= 0")
	}
	if cfg.RateLimitBurst < 0 {
		return fmt.Errorf("RATE_LIMIT_BURST must be >= 0")
	}
	return nil
}

func setDuration(dst *time.Duration, raw string) {
	if raw == "" {
		return
	}
	if d, err := time.ParseDuration(raw); err == nil {
		*dst = d
	}
}

func setString(dst *string, value *string) {
	if value != nil && *value != "" {
		*dst = *value
	}
}
