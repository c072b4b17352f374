package registra

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that accepts Go duration strings ("600s",
// "10m") in YAML and JSON config files.
type Duration time.Duration

// Std returns the plain time.Duration value.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	return d.set(raw)
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw any
	if err := value.Decode(&raw); err != nil {
		return err
	}
	return d.set(raw)
}

func (d *Duration) set(raw any) error {
	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", v, err)
		}
		*d = Duration(parsed)
	case int:
		*d = Duration(v)
	case int64:
		*d = Duration(v)
	case uint64:
		*d = Duration(v)
	case float64:
		*d = Duration(v)
	default:
		return fmt.Errorf("invalid duration value %v", raw)
	}
	return nil
}

// BackendDriver selects the durable backend implementation.
type BackendDriver string

const (
	BackendDriverSQLite   BackendDriver = "sqlite"
	BackendDriverPostgres BackendDriver = "postgres"
	BackendDriverMemory   BackendDriver = "memory"
)

// Config consolidates settings for the registry core and its shell.
type Config struct {
	Backend BackendConfig `json:"backend" yaml:"backend"`
	Cache   CacheConfig   `json:"cache" yaml:"cache"`
	Server  ServerConfig  `json:"server" yaml:"server"`
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// BackendConfig contains durable storage settings.
type BackendConfig struct {
	// Driver is one of "sqlite", "postgres", "memory".
	Driver BackendDriver `json:"driver" yaml:"driver"`

	// Path is the SQLite database file (sqlite driver only).
	Path string `json:"path" yaml:"path"`

	// Postgres holds connection settings (postgres driver only).
	Postgres PostgresConfig `json:"postgres" yaml:"postgres"`

	// Timeout bounds every backend call; on expiry the operation fails with
	// a timeout error instead of hanging.
	Timeout Duration `json:"timeout" yaml:"timeout"`
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host           string   `json:"host" yaml:"host"`
	Port           int      `json:"port" yaml:"port"`
	Database       string   `json:"database" yaml:"database"`
	Username       string   `json:"username" yaml:"username"`
	Password       string   `json:"password" yaml:"password"`
	SSLMode        string   `json:"sslMode" yaml:"ssl_mode"`
	MaxConnections int      `json:"maxConnections" yaml:"max_connections"`
	ConnectTimeout Duration `json:"connectTimeout" yaml:"connect_timeout"`
}

// ConnString renders a pgx-compatible connection string.
func (c PostgresConfig) ConnString() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s&pool_max_conns=%d",
		c.Username, c.Password, c.Host, c.Port, c.Database, c.SSLMode, c.MaxConnections,
	)
}

// CacheConfig contains read-through cache settings. The cache is a pure
// performance optimization; disabling it changes latency only.
type CacheConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	TTL     Duration `json:"ttl" yaml:"ttl"`
}

// ServerConfig contains HTTP shell settings.
type ServerConfig struct {
	Addr         string   `json:"addr" yaml:"addr"`
	ReadTimeout  Duration `json:"readTimeout" yaml:"read_timeout"`
	WriteTimeout Duration `json:"writeTimeout" yaml:"write_timeout"`
	IdleTimeout  Duration `json:"idleTimeout" yaml:"idle_timeout"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// DefaultConfig returns a default configuration: SQLite backend, 600s cache.
func DefaultConfig() *Config {
	return &Config{
		Backend: BackendConfig{
			Driver:  BackendDriverSQLite,
			Path:    "registra.db",
			Timeout: Duration(30 * time.Second),
			Postgres: PostgresConfig{
				Host:           "localhost",
				Port:           5432,
				Database:       "registra",
				Username:       "postgres",
				SSLMode:        "disable",
				MaxConnections: 25,
				ConnectTimeout: Duration(10 * time.Second),
			},
		},
		Cache: CacheConfig{
			Enabled: true,
			TTL:     Duration(600 * time.Second),
		},
		Server: ServerConfig{
			Addr:         ":8080",
			ReadTimeout:  Duration(15 * time.Second),
			WriteTimeout: Duration(30 * time.Second),
			IdleTimeout:  Duration(60 * time.Second),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadConfig reads a YAML or JSON config file (by extension) over defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse yaml config %s: %w", path, err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse json config %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format: %s", filepath.Ext(path))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.Backend.Driver {
	case BackendDriverSQLite:
		if c.Backend.Path == "" {
			return &ConfigError{Field: "backend.path", Message: "required for sqlite driver"}
		}
	case BackendDriverPostgres:
		if c.Backend.Postgres.Host == "" {
			return &ConfigError{Field: "backend.postgres.host", Message: "required for postgres driver"}
		}
		if c.Backend.Postgres.MaxConnections <= 0 {
			return &ConfigError{Field: "backend.postgres.maxConnections", Message: "must be greater than 0"}
		}
	case BackendDriverMemory:
		// No settings.
	default:
		return &ConfigError{Field: "backend.driver", Message: fmt.Sprintf("unknown driver %q", c.Backend.Driver)}
	}

	if c.Backend.Timeout <= 0 {
		return &ConfigError{Field: "backend.timeout", Message: "must be greater than 0"}
	}
	if c.Cache.Enabled && c.Cache.TTL <= 0 {
		return &ConfigError{Field: "cache.ttl", Message: "must be greater than 0 when cache is enabled"}
	}

	return nil
}

// ConfigError represents a configuration validation error
type ConfigError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ConfigError) Error() string {
	return "config validation error for field '" + e.Field + "': " + e.Message
}
