package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/vango-dev/fluxio/internal/errors"
)

const (
	// DefaultAddr is the default listen address of fluxctl serve.
	DefaultAddr = "localhost:7070"

	// DefaultServer is the default server URL of the client commands.
	DefaultServer = "http://localhost:7070"

	// DefaultThrottle is the default write-back throttle.
	DefaultThrottle = "100ms"

	// DefaultFileDir is the default directory of the file backend.
	DefaultFileDir = ".fluxio"

	// DefaultSQLTable is the default table of the sql backend.
	DefaultSQLTable = "fluxio_values"

	// DefaultS3Region is the default region of the s3 backend.
	DefaultS3Region = "us-east-1"

	// DefaultMetricsNamespace is the default Prometheus namespace.
	DefaultMetricsNamespace = "fluxio"

	// DefaultMissCache is how long fluxctl serve remembers unknown keys.
	DefaultMissCache = "2s"
)

// FileNames are the config files looked up in a directory, in order.
var FileNames = []string{"fluxctl.json", "fluxctl.yaml", "fluxctl.yml"}

// Backends lists the store backends fluxctl can open.
var Backends = []string{"memory", "file", "sql", "s3"}

// Config represents the complete fluxctl configuration.
type Config struct {
	// Store selects and configures the storage backend.
	Store StoreConfig `json:"store"`

	// Codec is the value encoding: "json" or "yaml".
	Codec string `json:"codec,omitempty"`

	// Throttle is the write-back throttle (e.g., "100ms").
	Throttle string `json:"throttle,omitempty"`

	// Server configures fluxctl serve and the client commands.
	Server ServerConfig `json:"server"`

	// Log configures logging.
	Log LogConfig `json:"log"`

	// Metrics configures the Prometheus collector.
	Metrics MetricsConfig `json:"metrics"`

	// Derived lists nodes computed from stored keys.
	Derived []DerivedConfig `json:"derived,omitempty"`

	// configPath stores the path where the config was loaded from.
	configPath string
}

// StoreConfig configures the storage backend.
type StoreConfig struct {
	// Backend is one of Backends.
	Backend string `json:"backend,omitempty"`

	// Fallback switches to an in-memory store when the backend cannot be
	// opened or fails its probe.
	Fallback bool `json:"fallback,omitempty"`

	File FileStoreConfig `json:"file"`
	SQL  SQLStoreConfig  `json:"sql"`
	S3   S3StoreConfig   `json:"s3"`
}

// FileStoreConfig configures the file backend.
type FileStoreConfig struct {
	Dir string `json:"dir,omitempty"`
}

// SQLStoreConfig configures the sql backend. The driver must be registered
// with database/sql by the binary.
type SQLStoreConfig struct {
	Driver      string `json:"driver,omitempty"`
	DSN         string `json:"dsn,omitempty"`
	Dialect     string `json:"dialect,omitempty"`
	Table       string `json:"table,omitempty"`
	CreateTable bool   `json:"createTable,omitempty"`
}

// S3StoreConfig configures the s3 backend. Credentials come from the
// standard AWS environment variables.
type S3StoreConfig struct {
	Bucket   string `json:"bucket,omitempty"`
	Prefix   string `json:"prefix,omitempty"`
	Region   string `json:"region,omitempty"`
	Endpoint string `json:"endpoint,omitempty"`
}

// ServerConfig configures the HTTP binding.
type ServerConfig struct {
	// Addr is the listen address of fluxctl serve.
	Addr string `json:"addr,omitempty"`

	// URL is the server the client commands talk to.
	URL string `json:"url,omitempty"`

	// ReadOnly rejects writes.
	ReadOnly bool `json:"readOnly,omitempty"`

	// AllowOrigins lists the origins allowed to open watch streams. "*"
	// allows any origin.
	AllowOrigins []string `json:"allowOrigins,omitempty"`

	// TokenSecret makes the server require bearer tokens for writes and
	// lets fluxctl token mint them.
	TokenSecret string `json:"tokenSecret,omitempty"`

	// Token is sent by the client commands as their bearer token.
	Token string `json:"token,omitempty"`

	// MissCache is how long the server remembers keys the store lacks.
	// "0" disables it.
	MissCache string `json:"missCache,omitempty"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `json:"level,omitempty"`

	// Format is text or json.
	Format string `json:"format,omitempty"`
}

// MetricsConfig configures the Prometheus collector.
type MetricsConfig struct {
	Disabled  bool   `json:"disabled,omitempty"`
	Namespace string `json:"namespace,omitempty"`
}

// DerivedConfig describes a node computed from a stored key. Exactly one of
// Path, Script or ScriptFile is set.
type DerivedConfig struct {
	// Name is the key the node is served under.
	Name string `json:"name"`

	// Source is the stored key the node derives from.
	Source string `json:"source"`

	// Path is a JSONPath expression selecting part of the source. The
	// selection is writable.
	Path string `json:"path,omitempty"`

	// Script is Lua source defining exec(input).
	Script string `json:"script,omitempty"`

	// ScriptFile is a Lua file defining exec(input), relative to the
	// config file.
	ScriptFile string `json:"scriptFile,omitempty"`
}

// New creates a new Config with default values.
func New() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// Load reads the first of FileNames found in dir. When there is none it
// returns the defaults.
func Load(dir string) (*Config, error) {
	for _, name := range FileNames {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return LoadFile(path)
		}
	}
	cfg := New()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile reads configuration from the specified file path. Files ending
// in .yaml or .yml are parsed as YAML, anything else as JSON.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New("F001").
				WithDetail("No config file at " + path).
				WithSuggestion("Check the --config flag or create " + FileNames[0])
		}
		return nil, errors.New("F002").Wrap(err)
	}

	cfg := &Config{}
	if err := unmarshal(path, data, cfg); err != nil {
		return nil, errors.New("F002").
			WithDetail("Failed to parse " + filepath.Base(path)).
			WithSuggestion("Check that the file is valid " + strings.ToUpper(format(path))).
			Wrap(err)
	}

	cfg.configPath = path
	cfg.applyDefaults()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func format(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	}
	return "json"
}

func unmarshal(path string, data []byte, cfg *Config) error {
	if format(path) == "yaml" {
		return yaml.Unmarshal(data, cfg)
	}
	return json.Unmarshal(data, cfg)
}

// SaveTo writes the configuration to path, as YAML or JSON by extension.
func (c *Config) SaveTo(path string) error {
	var (
		data []byte
		err  error
	)
	if format(path) == "yaml" {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
		data = append(data, '\n')
	}
	if err != nil {
		return errors.New("F002").Wrap(err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.New("F002").Wrap(err)
	}
	c.configPath = path
	return nil
}

// Path returns the path where the config was loaded from.
func (c *Config) Path() string {
	return c.configPath
}

// Dir returns the directory containing the config file, or "." for a
// config built from defaults.
func (c *Config) Dir() string {
	if c.configPath == "" {
		return "."
	}
	return filepath.Dir(c.configPath)
}

// Resolve returns path relative to the config file directory.
func (c *Config) Resolve(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.Dir(), path)
}

// applyDefaults fills in default values for empty fields.
func (c *Config) applyDefaults() {
	if c.Store.Backend == "" {
		c.Store.Backend = "memory"
	}
	if c.Store.File.Dir == "" {
		c.Store.File.Dir = DefaultFileDir
	}
	if c.Store.SQL.Table == "" {
		c.Store.SQL.Table = DefaultSQLTable
	}
	if c.Store.S3.Region == "" {
		c.Store.S3.Region = DefaultS3Region
	}

	if c.Codec == "" {
		c.Codec = "json"
	}
	if c.Throttle == "" {
		c.Throttle = DefaultThrottle
	}

	if c.Server.Addr == "" {
		c.Server.Addr = DefaultAddr
	}
	if c.Server.URL == "" {
		c.Server.URL = DefaultServer
	}
	if c.Server.MissCache == "" {
		c.Server.MissCache = DefaultMissCache
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}

	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = DefaultMetricsNamespace
	}
}

// envVars maps FLUXCTL_* variables to the fields they override.
func (c *Config) envVars() map[string]*string {
	return map[string]*string{
		"FLUXCTL_STORE_BACKEND": &c.Store.Backend,
		"FLUXCTL_STORE_DIR":     &c.Store.File.Dir,
		"FLUXCTL_SQL_DRIVER":    &c.Store.SQL.Driver,
		"FLUXCTL_SQL_DSN":       &c.Store.SQL.DSN,
		"FLUXCTL_SQL_DIALECT":   &c.Store.SQL.Dialect,
		"FLUXCTL_SQL_TABLE":     &c.Store.SQL.Table,
		"FLUXCTL_S3_BUCKET":     &c.Store.S3.Bucket,
		"FLUXCTL_S3_PREFIX":     &c.Store.S3.Prefix,
		"FLUXCTL_S3_REGION":     &c.Store.S3.Region,
		"FLUXCTL_S3_ENDPOINT":   &c.Store.S3.Endpoint,
		"FLUXCTL_CODEC":         &c.Codec,
		"FLUXCTL_THROTTLE":      &c.Throttle,
		"FLUXCTL_ADDR":          &c.Server.Addr,
		"FLUXCTL_SERVER":        &c.Server.URL,
		"FLUXCTL_TOKEN_SECRET":  &c.Server.TokenSecret,
		"FLUXCTL_TOKEN":         &c.Server.Token,
		"FLUXCTL_MISS_CACHE":    &c.Server.MissCache,
		"FLUXCTL_LOG_LEVEL":     &c.Log.Level,
		"FLUXCTL_LOG_FORMAT":    &c.Log.Format,
	}
}

// envBools maps boolean FLUXCTL_* variables to their fields.
func (c *Config) envBools() map[string]*bool {
	return map[string]*bool{
		"FLUXCTL_STORE_FALLBACK": &c.Store.Fallback,
		"FLUXCTL_READ_ONLY":      &c.Server.ReadOnly,
		"FLUXCTL_METRICS_OFF":    &c.Metrics.Disabled,
	}
}

// applyEnv applies FLUXCTL_* overrides. Empty variables are ignored.
func (c *Config) applyEnv() error {
	for name, field := range c.envVars() {
		if v := os.Getenv(name); v != "" {
			*field = v
		}
	}
	for name, field := range c.envBools() {
		v := os.Getenv(name)
		if v == "" {
			continue
		}
		switch strings.ToLower(v) {
		case "1", "true", "yes", "on":
			*field = true
		case "0", "false", "no", "off":
			*field = false
		default:
			return errors.New("F003").
				WithDetailf("%s=%q is not a boolean", name, v).
				WithSuggestion("Use true or false")
		}
	}
	return nil
}

// MissCacheDuration returns the parsed miss cache TTL, zero when disabled
// or invalid.
func (c *Config) MissCacheDuration() time.Duration {
	d, err := time.ParseDuration(c.Server.MissCache)
	if err != nil || d < 0 {
		return 0
	}
	return d
}

// ThrottleDuration returns the parsed throttle. Validate reports a bad
// value; here it falls back to the default.
func (c *Config) ThrottleDuration() time.Duration {
	d, err := time.ParseDuration(c.Throttle)
	if err != nil || d < 0 {
		d, _ = time.ParseDuration(DefaultThrottle)
	}
	return d
}
