package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// MinRefreshInterval is the floor for the sampling interval. Anything
// lower is clamped to bound subprocess churn.
const MinRefreshInterval = 5 * time.Second

// BandwidthEveryCycleAt is the interval at or above which a bandwidth
// snapshot is captured every cycle. Below it, measurement runs on
// alternating cycles so the sampling tool gets real wall-clock time
// between invocations.
const BandwidthEveryCycleAt = 10 * time.Second

// Config is the root SentryBar configuration.
type Config struct {
	Monitor MonitorConfig `mapstructure:"monitor" yaml:"monitor"`
	Tools   ToolsConfig   `mapstructure:"tools" yaml:"tools"`
	Rules   RulesConfig   `mapstructure:"rules" yaml:"rules"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// MonitorConfig controls the sampling/aggregation controller.
type MonitorConfig struct {
	// RefreshInterval is the cycle period. Clamped to MinRefreshInterval.
	RefreshInterval time.Duration `mapstructure:"refresh_interval" yaml:"refresh_interval"`

	// HighBandwidthThreshold is the per-interval byte count above which
	// a process triggers a high-bandwidth alert.
	HighBandwidthThreshold int64 `mapstructure:"high_bandwidth_threshold" yaml:"high_bandwidth_threshold"`

	// HistorySize bounds the rolling bandwidth snapshot history.
	HistorySize int `mapstructure:"history_size" yaml:"history_size"`

	// AlertHistorySize bounds the in-memory recent-alert list.
	AlertHistorySize int `mapstructure:"alert_history_size" yaml:"alert_history_size"`
}

// ToolsConfig holds the external tool command templates and timeouts.
// No user-supplied string is ever interpolated into these commands.
type ToolsConfig struct {
	ConnectionsCommand []string      `mapstructure:"connections_command" yaml:"connections_command"`
	BandwidthCommand   []string      `mapstructure:"bandwidth_command" yaml:"bandwidth_command"`
	ProcessesCommand   []string      `mapstructure:"processes_command" yaml:"processes_command"`
	Timeout            time.Duration `mapstructure:"timeout" yaml:"timeout"`

	// BandwidthTimeout is longer than Timeout: the sampling tool has to
	// run long enough to produce two delta blocks.
	BandwidthTimeout time.Duration `mapstructure:"bandwidth_timeout" yaml:"bandwidth_timeout"`
}

// RulesConfig controls the persistent rule store.
type RulesConfig struct {
	// StorePath is the rule file location. Empty means the default
	// per-user data path.
	StorePath string `mapstructure:"store_path" yaml:"store_path"`

	// Watch reloads the rule set when the store file changes on disk.
	Watch bool `mapstructure:"watch" yaml:"watch"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"` // "text" or "json"
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr"`

	// Pprof mounts the Go runtime profiling handlers on the metrics
	// listener under /debug/pprof/.
	Pprof bool `mapstructure:"pprof" yaml:"pprof"`
}

// setDefaults registers all configuration defaults with viper.
func setDefaults(v *viper.Viper) {
	v.SetDefault("monitor.refresh_interval", "5s")
	v.SetDefault("monitor.high_bandwidth_threshold", int64(10*1024*1024))
	v.SetDefault("monitor.history_size", 10)
	v.SetDefault("monitor.alert_history_size", 50)

	v.SetDefault("tools.connections_command", []string{"lsof", "-i", "-n", "-P"})
	v.SetDefault("tools.bandwidth_command", []string{"nettop", "-P", "-x", "-J", "bytes_in,bytes_out", "-l", "2"})
	v.SetDefault("tools.processes_command", []string{"ps", "axo", "pid,pcpu,comm"})
	v.SetDefault("tools.timeout", "5s")
	v.SetDefault("tools.bandwidth_timeout", "15s")

	v.SetDefault("rules.store_path", "")
	v.SetDefault("rules.watch", true)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.listen_addr", "127.0.0.1:9840")
	v.SetDefault("metrics.pprof", false)
}

// Load reads configuration from an optional YAML file and SENTRYBAR_*
// environment variables, applying defaults for everything unset.
// An empty path loads defaults plus environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("SENTRYBAR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.applyFloors()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default returns the built-in configuration with all defaults applied.
func Default() *Config {
	cfg, err := Load("")
	if err != nil {
		// Defaults always validate; reaching this is a programming error.
		panic(err)
	}
	return cfg
}

// applyFloors clamps values with hard lower bounds.
func (c *Config) applyFloors() {
	if c.Monitor.RefreshInterval < MinRefreshInterval {
		c.Monitor.RefreshInterval = MinRefreshInterval
	}
	if c.Monitor.HistorySize <= 0 {
		c.Monitor.HistorySize = 10
	}
	if c.Monitor.AlertHistorySize <= 0 {
		c.Monitor.AlertHistorySize = 50
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if len(c.Tools.ConnectionsCommand) == 0 {
		return fmt.Errorf("tools.connections_command must not be empty")
	}
	if len(c.Tools.BandwidthCommand) == 0 {
		return fmt.Errorf("tools.bandwidth_command must not be empty")
	}
	if c.Tools.Timeout <= 0 {
		return fmt.Errorf("tools.timeout must be positive")
	}
	if c.Tools.BandwidthTimeout <= 0 {
		return fmt.Errorf("tools.bandwidth_timeout must be positive")
	}
	if c.Monitor.HighBandwidthThreshold <= 0 {
		return fmt.Errorf("monitor.high_bandwidth_threshold must be positive")
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be \"text\" or \"json\", got %q", c.Logging.Format)
	}
	return nil
}

// RuleStorePath returns the configured rule store path, falling back to
// the per-user default.
func (c *Config) RuleStorePath() string {
	if c.Rules.StorePath != "" {
		return c.Rules.StorePath
	}
	return Paths.RuleStorePath()
}

// DumpYAML renders the effective configuration for support bundles.
func (c *Config) DumpYAML() (string, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("marshal config: %w", err)
	}
	return string(out), nil
}
