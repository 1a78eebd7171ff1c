// Package config loads modulesd settings from a YAML file, an optional .env
// file and MODULES_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultPath is read when no path is given and the file exists.
const DefaultPath = "config/modulesd.yaml"

// Config is the full process configuration.
type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Log      LogConfig      `yaml:"log"`
	Registry RegistryConfig `yaml:"registry"`
	Storage  StorageConfig  `yaml:"storage"`
	Events   EventsConfig   `yaml:"events"`
	Chain    ChainConfig    `yaml:"chain"`
}

// HTTPConfig configures the HTTP API.
type HTTPConfig struct {
	Addr           string        `yaml:"addr" env:"MODULES_HTTP_ADDR"`
	ReadTimeout    time.Duration `yaml:"read_timeout" env:"MODULES_HTTP_READ_TIMEOUT"`
	WriteTimeout   time.Duration `yaml:"write_timeout" env:"MODULES_HTTP_WRITE_TIMEOUT"`
	RateLimitRPS   float64       `yaml:"rate_limit_rps" env:"MODULES_RATE_LIMIT_RPS"`
	RateLimitBurst int           `yaml:"rate_limit_burst" env:"MODULES_RATE_LIMIT_BURST"`
	MaxPageSize    int           `yaml:"max_page_size" env:"MODULES_MAX_PAGE_SIZE"`
	CORSOrigins    []string      `yaml:"cors_origins"`
}

// LogConfig configures pkg/logger.
type LogConfig struct {
	Level  string `yaml:"level" env:"MODULES_LOG_LEVEL"`
	Format string `yaml:"format" env:"MODULES_LOG_FORMAT"`
}

// RegistryConfig configures the module manager.
type RegistryConfig struct {
	RequireValidator bool `yaml:"require_validator" env:"MODULES_REQUIRE_VALIDATOR"`
}

// StorageConfig configures slot persistence. An empty DSN keeps state in
// memory only.
type StorageConfig struct {
	PostgresDSN string `yaml:"postgres_dsn" env:"MODULES_POSTGRES_DSN"`
	Table       string `yaml:"table" env:"MODULES_POSTGRES_TABLE"`
}

// EventsConfig sizes the event ring buffer.
type EventsConfig struct {
	BufferSize int `yaml:"buffer_size" env:"MODULES_EVENT_BUFFER_SIZE"`
}

// ChainConfig configures the optional Neo N3 executor. An empty RPC URL
// keeps hook execution in-process.
type ChainConfig struct {
	RPCURL    string        `yaml:"rpc_url" env:"MODULES_NEO_RPC_URL"`
	NetworkID uint32        `yaml:"network_id" env:"MODULES_NEO_NETWORK_ID"`
	Timeout   time.Duration `yaml:"timeout" env:"MODULES_NEO_TIMEOUT"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Addr:           ":8090",
			ReadTimeout:    10 * time.Second,
			WriteTimeout:   10 * time.Second,
			RateLimitRPS:   50,
			RateLimitBurst: 100,
			MaxPageSize:    100,
		},
		Log:     LogConfig{Level: "info", Format: "text"},
		Storage: StorageConfig{Table: "module_slots"},
		Events:  EventsConfig{BufferSize: 1024},
		Chain:   ChainConfig{NetworkID: 894710606, Timeout: 30 * time.Second},
	}
}

// Load builds a Config. path may be empty, in which case DefaultPath is
// used if present. dotenv files are loaded into the process environment
// without overriding variables that are already set.
func Load(path string, dotenv ...string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}
	if err := cfg.loadFile(path, explicit); err != nil {
		return nil, err
	}

	if err := loadDotenv(dotenv); err != nil {
		return nil, err
	}

	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string, required bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if !required && errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return nil
}

func loadDotenv(files []string) error {
	if len(files) == 0 {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
		files = []string{".env"}
	}
	if err := godotenv.Load(files...); err != nil {
		return fmt.Errorf("load dotenv: %w", err)
	}
	return nil
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.HTTP.Addr) == "" {
		problems = append(problems, "http.addr is required")
	}
	if c.HTTP.RateLimitRPS < 0 {
		problems = append(problems, "http.rate_limit_rps must be >= 0")
	}
	if c.HTTP.RateLimitRPS > 0 && c.HTTP.RateLimitBurst < 1 {
		problems = append(problems, "http.rate_limit_burst must be >= 1 when rate limiting is on")
	}
	if c.HTTP.MaxPageSize < 1 {
		problems = append(problems, "http.max_page_size must be >= 1")
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		problems = append(problems, fmt.Sprintf("log.format %q must be text or json", c.Log.Format))
	}
	switch strings.ToLower(c.Log.Level) {
	case "trace", "debug", "info", "warn", "warning", "error", "fatal", "panic":
	default:
		problems = append(problems, fmt.Sprintf("log.level %q is unknown", c.Log.Level))
	}
	if c.Events.BufferSize < 1 {
		problems = append(problems, "events.buffer_size must be >= 1")
	}
	if c.Storage.PostgresDSN != "" && !validIdent(c.Storage.Table) {
		problems = append(problems, fmt.Sprintf("storage.table %q is not a valid identifier", c.Storage.Table))
	}
	if c.Chain.RPCURL != "" && c.Chain.Timeout <= 0 {
		problems = append(problems, "chain.timeout must be > 0")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func validIdent(s string) bool {
	if s == "" || len(s) > 63 {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
