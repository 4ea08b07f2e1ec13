// Package config provides TOML-based configuration loading for mav-lite.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config is the root application configuration.
type Config struct {
	// LogLevel: trace maps to debug; debug, info, warn, error.
	// The MAVLITE_LOG environment variable overrides it with a
	// module=level comma list.
	LogLevel string `mapstructure:"log_level"`

	// StatsIntervalSecs is the performance stats logging cadence; 0 disables.
	StatsIntervalSecs int `mapstructure:"stats_interval_secs"`

	// TCP is the GCS-facing listener.
	TCP TCPConfig `mapstructure:"tcp"`

	// UART lists statically-configured serial endpoints.
	UART []UARTConfig `mapstructure:"uart"`

	// UARTDiscovery controls dynamic serial device scanning. Static UART
	// entries remain active alongside discovery; both apply.
	UARTDiscovery UARTDiscoveryConfig `mapstructure:"uart_discovery"`

	// Routing is the per-direction policy matrix.
	Routing RoutingConfig `mapstructure:"routing"`

	// Log holds output/rotation settings.
	Log LogConfig `mapstructure:"log"`

	// Metrics optionally exposes a Prometheus endpoint.
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// TCPConfig is the GCS listener address.
type TCPConfig struct {
	ListenPort uint16 `mapstructure:"listen_port"`
	BindAddr   string `mapstructure:"bind_addr"`
}

// UARTConfig is one statically-configured serial device.
type UARTConfig struct {
	Path     string `mapstructure:"path"`
	BaudRate int    `mapstructure:"baud_rate"`
	Name     string `mapstructure:"name"`
}

// UARTDiscoveryConfig tunes the periodic device scan.
type UARTDiscoveryConfig struct {
	Enabled              bool   `mapstructure:"enabled"`
	DevicePattern        string `mapstructure:"device_pattern"`
	BaudRate             int    `mapstructure:"baud_rate"`
	DetectionTimeoutSecs int    `mapstructure:"detection_timeout_secs"`
	RescanIntervalSecs   int    `mapstructure:"rescan_interval_secs"`
}

// RoutingConfig is the directional allow matrix.
type RoutingConfig struct {
	AllowUARTToUART bool `mapstructure:"allow_uart_to_uart"`
	AllowTCPToTCP   bool `mapstructure:"allow_tcp_to_tcp"`
	AllowUARTToTCP  bool `mapstructure:"allow_uart_to_tcp"`
	AllowTCPToUART  bool `mapstructure:"allow_tcp_to_uart"`
}

// LogConfig defines logger output settings.
type LogConfig struct {
	// Format: console or json
	Format string `mapstructure:"format"`
	// Outputs: stdout, stderr, or file paths
	Outputs []string `mapstructure:"outputs"`
	// Rotation controls file rotation when writing to files
	Rotation RotationConfig `mapstructure:"rotation"`
	// Development toggles development-friendly logging options
	Development bool `mapstructure:"development"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
	Enable     bool   `mapstructure:"enable"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// MetricsConfig exposes Prometheus metrics when ListenAddr is set.
type MetricsConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// Default returns a Config populated with sensible defaults.
func Default() *Config {
	return &Config{
		LogLevel:          "info",
		StatsIntervalSecs: 30,
		TCP: TCPConfig{
			ListenPort: 5760,
			BindAddr:   "0.0.0.0",
		},
		UARTDiscovery: UARTDiscoveryConfig{
			Enabled:              false,
			DevicePattern:        "/dev/ttyACM*",
			BaudRate:             57600,
			DetectionTimeoutSecs: 5,
			RescanIntervalSecs:   30,
		},
		Routing: RoutingConfig{
			AllowUARTToUART: false,
			AllowTCPToTCP:   true,
			AllowUARTToTCP:  true,
			AllowTCPToUART:  true,
		},
		Log: LogConfig{
			Format:  "console",
			Outputs: []string{"stdout"},
			Rotation: RotationConfig{
				Enable:     false,
				Filename:   "logs/mav-lite.log",
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
	}
}

// Load reads configuration from the provided TOML path. An empty path runs
// on defaults with environment overrides only. Environment variables use
// the prefix MAVLITE and `.`/`-` replaced with `_`, e.g.
// MAVLITE_TCP_LISTEN_PORT=14550.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("toml")
	v.SetEnvPrefix("MAVLITE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// seed defaults for viper so env-only runs work
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("stats_interval_secs", cfg.StatsIntervalSecs)
	v.SetDefault("tcp.listen_port", cfg.TCP.ListenPort)
	v.SetDefault("tcp.bind_addr", cfg.TCP.BindAddr)
	v.SetDefault("uart_discovery.enabled", cfg.UARTDiscovery.Enabled)
	v.SetDefault("uart_discovery.device_pattern", cfg.UARTDiscovery.DevicePattern)
	v.SetDefault("uart_discovery.baud_rate", cfg.UARTDiscovery.BaudRate)
	v.SetDefault("uart_discovery.detection_timeout_secs", cfg.UARTDiscovery.DetectionTimeoutSecs)
	v.SetDefault("uart_discovery.rescan_interval_secs", cfg.UARTDiscovery.RescanIntervalSecs)
	v.SetDefault("routing.allow_uart_to_uart", cfg.Routing.AllowUARTToUART)
	v.SetDefault("routing.allow_tcp_to_tcp", cfg.Routing.AllowTCPToTCP)
	v.SetDefault("routing.allow_uart_to_tcp", cfg.Routing.AllowUARTToTCP)
	v.SetDefault("routing.allow_tcp_to_uart", cfg.Routing.AllowTCPToUART)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)
	v.SetDefault("metrics.listen_addr", cfg.Metrics.ListenAddr)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	lvl := strings.ToLower(strings.TrimSpace(c.LogLevel))
	switch lvl {
	case "trace", "debug", "info", "warn", "warning", "error":
		// ok
	default:
		return fmt.Errorf("invalid log_level: %q", c.LogLevel)
	}

	if c.TCP.ListenPort == 0 {
		return errors.New("tcp.listen_port must be non-zero")
	}
	if strings.TrimSpace(c.TCP.BindAddr) == "" {
		c.TCP.BindAddr = "0.0.0.0"
	}

	for i, u := range c.UART {
		if strings.TrimSpace(u.Path) == "" {
			return fmt.Errorf("uart[%d]: path is required", i)
		}
		if u.BaudRate <= 0 {
			c.UART[i].BaudRate = 57600
		}
	}

	d := &c.UARTDiscovery
	if d.Enabled {
		if strings.TrimSpace(d.DevicePattern) == "" {
			return errors.New("uart_discovery.device_pattern is required when discovery is enabled")
		}
		if d.BaudRate <= 0 {
			return errors.New("uart_discovery.baud_rate must be positive")
		}
		if d.DetectionTimeoutSecs <= 0 {
			return errors.New("uart_discovery.detection_timeout_secs must be positive")
		}
		if d.RescanIntervalSecs <= 0 {
			return errors.New("uart_discovery.rescan_interval_secs must be positive")
		}
	}

	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stdout"}
	}
	return nil
}

// TCPAddr returns the listener bind address in host:port form.
func (c *Config) TCPAddr() string {
	return fmt.Sprintf("%s:%d", c.TCP.BindAddr, c.TCP.ListenPort)
}
