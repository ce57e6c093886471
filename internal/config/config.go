package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Database drivers understood by the storage layer
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Queue backends understood by the engine
const (
	QueueRedis  = "redis"
	QueueMemory = "memory"
)

// SRConfig holds the application configuration
type SRConfig struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Server    ServerConfig    `mapstructure:"server"`
	Client    ClientConfig    `mapstructure:"client"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Queue     QueueConfig     `mapstructure:"queue"`
	LogLevel  string          `mapstructure:"log_level"`
}

// DatabaseConfig selects and parameterises the storage backend. Postgres uses
// the host/port/user fields, SQLite only needs Path.
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
	Path     string `mapstructure:"path"`
}

// DSN returns the driver-specific connection string
func (c DatabaseConfig) DSN() string {
	if c.Driver == DriverSQLite {
		return c.Path
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User,
		c.Password,
		c.Host,
		c.Port,
		c.Name,
		c.SSLMode,
	)
}

// ServerConfig is the REST API listener
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// Address renders the listen address
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ClientConfig parameterises the HTTP repository used by dashboard frontends
type ClientConfig struct {
	BaseURL           string  `mapstructure:"base_url"`
	TimeoutSec        int     `mapstructure:"timeout_sec"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// Timeout converts the configured request timeout to a duration
func (c ClientConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// SchedulerConfig parameterises the dashboard coordinator
type SchedulerConfig struct {
	RefreshIntervalSec int `mapstructure:"refresh_interval_sec"`
}

// RefreshInterval converts the configured poll cadence to a duration
func (c SchedulerConfig) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshIntervalSec) * time.Second
}

// EngineConfig parameterises the dispatcher and workers
type EngineConfig struct {
	DispatchIntervalSec int `mapstructure:"dispatch_interval_sec"`
	DispatchBatch       int `mapstructure:"dispatch_batch"`
	RunTimeoutSec       int `mapstructure:"run_timeout_sec"`
	TestDurationMS      int `mapstructure:"test_duration_ms"`
}

// DispatchInterval is the pause between due-schedule scans
func (c EngineConfig) DispatchInterval() time.Duration {
	return time.Duration(c.DispatchIntervalSec) * time.Second
}

// RunTimeout is the per-run deadline applied by workers
func (c EngineConfig) RunTimeout() time.Duration {
	return time.Duration(c.RunTimeoutSec) * time.Second
}

// TestDuration is the simulated wall time per test case
func (c EngineConfig) TestDuration() time.Duration {
	return time.Duration(c.TestDurationMS) * time.Millisecond
}

// QueueConfig selects the run queue backend. Redis uses host/password/db,
// the in-process backend only uses the buffer size.
type QueueConfig struct {
	Backend  string `mapstructure:"backend"`
	Host     string `mapstructure:"host"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Buffer   int    `mapstructure:"buffer"`
}

// Level parses the configured log level, defaulting to info on anything
// unrecognised
func (c *SRConfig) Level() zerolog.Level {
	level, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}

// LoadConfig reads the configuration from a file or environment variables
func LoadConfig(configPaths ...string) (*SRConfig, error) {
	// can specify config path from environment
	if path, exists := os.LookupEnv("SR_CONFIG_PATH"); exists {
		configPaths = append(configPaths, path)
	}
	for _, path := range configPaths {
		fi, err := os.Stat(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		} else if err != nil {
			return nil, err
		}
		mode := fi.Mode()
		switch {
		case mode.IsRegular():
			v := newViper()
			v.SetConfigFile(path)
			config, err := readConfig(v, path)
			if err != nil {
				continue
			}
			return config, nil

		case mode.IsDir():
			v := newViper()
			v.AddConfigPath(path)
			v.SetConfigName("config")
			v.SetConfigType("yaml")
			config, err := readConfig(v, path)
			if err != nil {
				continue
			}
			return config, nil
		}
	}

	v := newViper()
	// finally read from current working directory
	v.AddConfigPath(".")
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	cwd, _ := os.Getwd()

	config, err := readConfig(v, cwd)
	if err != nil {
		return nil, err
	}
	return config, nil
}

// newViper sets default values for configuration
func newViper() *viper.Viper {
	v := viper.New()

	// Database defaults. SQLite keeps a fresh checkout runnable without any
	// external services; production deployments switch the driver to postgres.
	v.SetDefault("database.driver", DriverSQLite)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.name", "suiterunner")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.path", "suiterunner.db")

	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)

	// Client defaults
	v.SetDefault("client.base_url", "http://localhost:8080/api")
	v.SetDefault("client.timeout_sec", 15)
	v.SetDefault("client.requests_per_second", 20)
	v.SetDefault("client.burst", 40)

	// Scheduler defaults
	v.SetDefault("scheduler.refresh_interval_sec", 30)

	// Engine defaults
	v.SetDefault("engine.dispatch_interval_sec", 5)
	v.SetDefault("engine.dispatch_batch", 10)
	v.SetDefault("engine.run_timeout_sec", 900)
	v.SetDefault("engine.test_duration_ms", 150)

	// Queue defaults, same reasoning as the database: in-process by default
	v.SetDefault("queue.backend", QueueMemory)
	v.SetDefault("queue.host", "localhost:6379")
	v.SetDefault("queue.password", "redis")
	v.SetDefault("queue.db", 0)
	v.SetDefault("queue.buffer", 256)

	// Log level default
	v.SetDefault("log_level", "info")

	v.SetEnvPrefix("SR")                               // Prefix for environment variables
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_")) // Replace dots with underscores in env vars
	v.AutomaticEnv()                                   // Read environment variables

	return v
}

func readConfig(v *viper.Viper, path string) (*SRConfig, error) {
	var config SRConfig

	if err := v.ReadInConfig(); err != nil {
		log.Warn().
			Str("path", path).
			Msg("Could not read config file")
		return nil, err
	}
	if err := v.Unmarshal(&config); err != nil {
		log.Warn().
			Str("path", path).
			Msg("Could not unmarshall config")
		return nil, err
	}

	return &config, nil
}
