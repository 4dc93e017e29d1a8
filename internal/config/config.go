// Package config loads relaydb's process configuration: the wire listener,
// the embedded document store, the OLAP backend binding, and logging,
// using viper the way the teacher repo wires its own ServerConfig — a
// single yaml/env-backed struct, defaults registered before the file is
// read, environment variables taking precedence under a project prefix.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level process configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	DocStore DocStoreConfig `mapstructure:"docstore"`
	OLAP     OLAPConfig     `mapstructure:"olap"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig configures the wire listener (spec §2: "a TCP listener
// speaking a minimal OP_MSG subset").
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            string        `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CursorTTL       time.Duration `mapstructure:"cursor_ttl"`
	DefaultBatch    int64         `mapstructure:"default_batch_size"`
	AcceptRate      float64       `mapstructure:"accept_rate_per_sec"`
	AcceptBurst     int           `mapstructure:"accept_burst"`
}

// DocStoreConfig configures C9, the embedded SQLite document backend.
type DocStoreConfig struct {
	Path          string `mapstructure:"path"`
	BusyTimeoutMS int    `mapstructure:"busy_timeout_ms"`
}

// OLAPConfig configures C10, the HTTP-backed columnar adapter a database
// may be bound to for analytical namespaces.
type OLAPConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	Endpoint          string        `mapstructure:"endpoint"`
	Database          string        `mapstructure:"database"`
	Username          string        `mapstructure:"username"`
	Password          string        `mapstructure:"password"`
	MaxExecutionTime  time.Duration `mapstructure:"max_execution_time"`
	PoolSize          int           `mapstructure:"pool_size"`
	UseFinal          bool          `mapstructure:"use_final"`
	MaxRetries        int           `mapstructure:"max_retries"`
	InitialBackoff    time.Duration `mapstructure:"initial_backoff"`
}

// LoggingConfig configures zap, grounded on how FerretDB's own retrieved
// manifest wires structured logging (the teacher repo has no logging
// package of its own to draw from).
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, console
}

var cfg *Config

// Load reads configuration from configPath (a directory to search for
// config.yaml) plus environment variables under the RELAYDB_ prefix,
// falling back to defaults when no config file is present.
func Load(configPath string) (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	if configPath != "" {
		viper.AddConfigPath(configPath)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
		viper.AddConfigPath("/etc/relaydb")
	}

	setDefaults()

	viper.SetEnvPrefix("RELAYDB")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	cfg = &config
	return cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", "27017")
	viper.SetDefault("server.shutdown_timeout", 10*time.Second)
	viper.SetDefault("server.cursor_ttl", 10*time.Minute)
	viper.SetDefault("server.default_batch_size", 101)
	viper.SetDefault("server.accept_rate_per_sec", 500.0)
	viper.SetDefault("server.accept_burst", 100)

	viper.SetDefault("docstore.path", "relaydb.sqlite")
	viper.SetDefault("docstore.busy_timeout_ms", 5000)

	viper.SetDefault("olap.enabled", false)
	viper.SetDefault("olap.database", "default")
	viper.SetDefault("olap.max_execution_time", 30*time.Second)
	viper.SetDefault("olap.pool_size", 8)
	viper.SetDefault("olap.use_final", true)
	viper.SetDefault("olap.max_retries", 5)
	viper.SetDefault("olap.initial_backoff", 100*time.Millisecond)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
}

// Get returns the most recently Load-ed configuration. It panics if Load
// has not been called, matching the teacher's package-level access
// pattern for a process-wide singleton.
func Get() *Config {
	if cfg == nil {
		panic("config not loaded")
	}
	return cfg
}
