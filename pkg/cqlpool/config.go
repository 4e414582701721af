package cqlpool

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// MaxStreamPerConnection is the protocol's maximum number of concurrent
// in-flight requests a single Connection may carry. It bounds in_flight
// regardless of any configured max_requests_per_connection threshold.
const MaxStreamPerConnection = 128

// maxSimultaneousCreation bounds the number of pending asynchronous
// connection creations a single pool may have outstanding at once.
const maxSimultaneousCreation = 1

// Config holds all configuration for a cqlpool-backed session.
type Config struct {
	Pool      PoolSizingConfig `mapstructure:"pool"`
	Reconnect ReconnectConfig  `mapstructure:"reconnect"`
	Logging   LoggingConfig    `mapstructure:"logging"`
	Metrics   MetricsConfig    `mapstructure:"metrics"`
}

// PoolSizingConfig defines per-host-distance pool sizing thresholds, read
// by HostConnectionPool from the owning Session (spec.md §6).
type PoolSizingConfig struct {
	CoreConnectionsPerLocalHost  int           `mapstructure:"core_connections_local"`
	CoreConnectionsPerRemoteHost int           `mapstructure:"core_connections_remote"`
	MaxConnectionsPerLocalHost   int           `mapstructure:"max_connections_local"`
	MaxConnectionsPerRemoteHost  int           `mapstructure:"max_connections_remote"`
	MaxRequestsPerConnection     int           `mapstructure:"max_requests_per_connection"`
	MinRequestsPerConnection     int           `mapstructure:"min_requests_per_connection"`
	BorrowTimeout                time.Duration `mapstructure:"borrow_timeout"`
}

// ReconnectConfig parameterizes the default exponential Schedule used by a
// ReconnectionHandler. This is the teacher's restart-backoff config
// (base/max/multiplier) repurposed from process-restart policy to
// connection-reconnection policy.
type ReconnectConfig struct {
	BaseDelay  time.Duration `mapstructure:"base_delay"`
	MaxDelay   time.Duration `mapstructure:"max_delay"`
	Multiplier float64       `mapstructure:"multiplier"`
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level        string `mapstructure:"level"`
	Format       string `mapstructure:"format"`
	TraceEnabled bool   `mapstructure:"trace_enabled"`
}

// MetricsConfig defines metrics exposition settings.
type MetricsConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
	Path     string `mapstructure:"path"`
}

// LoadConfig loads configuration from file and environment, falling back to
// built-in defaults when no config file is present.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/cqlpool")
	}

	v.SetEnvPrefix("CQLPOOL")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// viper reads bare numbers for these fields; rescale to the intended unit.
	cfg.Pool.BorrowTimeout *= time.Millisecond
	cfg.Reconnect.BaseDelay *= time.Millisecond
	cfg.Reconnect.MaxDelay *= time.Millisecond

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Pool sizing defaults (spec.md §6: "typical 2 local / 1 remote" core,
	// "typical 8 local / 2 remote" max).
	v.SetDefault("pool.core_connections_local", 2)
	v.SetDefault("pool.core_connections_remote", 1)
	v.SetDefault("pool.max_connections_local", 8)
	v.SetDefault("pool.max_connections_remote", 2)
	v.SetDefault("pool.max_requests_per_connection", 100)
	v.SetDefault("pool.min_requests_per_connection", 25)
	v.SetDefault("pool.borrow_timeout", 5000)

	// Reconnection backoff defaults.
	v.SetDefault("reconnect.base_delay", 1000)
	v.SetDefault("reconnect.max_delay", 60000)
	v.SetDefault("reconnect.multiplier", 2.0)

	// Logging defaults.
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.trace_enabled", true)

	// Metrics defaults.
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.endpoint", ":9090")
	v.SetDefault("metrics.path", "/metrics")
}

// PerHostDistance returns the (core, max) connection counts configured for
// the given HostDistance.
func (c PoolSizingConfig) PerHostDistance(d HostDistance) (core, max int) {
	if d == HostDistanceRemote {
		return c.CoreConnectionsPerRemoteHost, c.MaxConnectionsPerRemoteHost
	}
	return c.CoreConnectionsPerLocalHost, c.MaxConnectionsPerLocalHost
}
