package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"beast_bridge/internal/models"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	envPrefix       = "BEAST_BRIDGE"
	localConfigName = "config-local.yaml"
)

// Config holds all configuration for the bridge
type Config struct {
	WebSocket              WebSocketConfig
	Sources                []models.Source
	ReconnectInterval      time.Duration
	AircraftUpdateInterval time.Duration
	AircraftMaxAge         time.Duration
	CleanupInterval        time.Duration
	StatusInterval         time.Duration
	ConnectTimeout         time.Duration
	Verbose                bool
	Beast                  BeastConfig
	Registry               RegistryConfig
	Metrics                MetricsConfig
	Log                    LogConfig
}

// WebSocketConfig holds the subscriber endpoint settings
type WebSocketConfig struct {
	Port       int    `yaml:"port"`
	Path       string `yaml:"path"`
	MaxClients int    `yaml:"max_clients"`
}

// BeastConfig holds upstream framing settings
type BeastConfig struct {
	Escaped        bool `yaml:"escaped"`
	MaxBufferBytes int  `yaml:"max_buffer_bytes"`
}

// RegistryConfig points at the optional aircraft reference database
type RegistryConfig struct {
	DBPath   string   `yaml:"db_path"`
	CSVPaths []string `yaml:"csv_paths"`
}

// MetricsConfig holds Prometheus endpoint settings
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// sourceConfig mirrors models.Source with an optional enabled flag
type sourceConfig struct {
	Name    string `mapstructure:"name"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
	Enabled *bool  `mapstructure:"enabled"`
}

// RegisterFlags adds the command line flags understood by Load
func RegisterFlags(flags *pflag.FlagSet) {
	flags.String("config", "", "path to config file (YAML)")
	flags.String("local-config", "", "path to override config file merged over the main one")
	flags.Bool("print-config", false, "print the effective configuration and exit")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "text", "log format (text, json)")
	flags.Int("port", 8765, "WebSocket listen port")
	flags.Int("max-clients", 50, "maximum concurrent WebSocket clients")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("websocket.port", 8765)
	v.SetDefault("websocket.path", "/")
	v.SetDefault("websocket.max_clients", 50)
	v.SetDefault("sources", []map[string]any{
		{"name": "Primary Receiver", "host": "localhost", "port": 30005, "enabled": true},
	})
	v.SetDefault("reconnect_interval", "5s")
	v.SetDefault("aircraft_update_interval", "100ms")
	v.SetDefault("aircraft_max_age", "5m")
	v.SetDefault("cleanup_interval", "30s")
	v.SetDefault("status_interval", "60s")
	v.SetDefault("connect_timeout", "10s")
	v.SetDefault("verbose", true)
	v.SetDefault("beast.escaped", false)
	v.SetDefault("beast.max_buffer_bytes", 64*1024)
	v.SetDefault("registry.db_path", "")
	v.SetDefault("registry.csv_paths", []string{})
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads defaults, the config file, its local override, environment
// variables and flags, in increasing order of precedence. flags may be nil.
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/beast_bridge")
	v.AddConfigPath(".")

	if configPath := pathSetting(flags, "config", envPrefix+"_CONFIG_PATH"); configPath != "" {
		v.SetConfigFile(configPath)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err := mergeLocalConfig(v, flags); err != nil {
		return nil, err
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		bindings := map[string]string{
			"log.level":             "log-level",
			"log.format":            "log-format",
			"websocket.port":        "port",
			"websocket.max_clients": "max-clients",
		}
		for key, name := range bindings {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	sources, err := loadSources(v)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		WebSocket: WebSocketConfig{
			Port:       v.GetInt("websocket.port"),
			Path:       v.GetString("websocket.path"),
			MaxClients: v.GetInt("websocket.max_clients"),
		},
		Sources:                sources,
		ReconnectInterval:      v.GetDuration("reconnect_interval"),
		AircraftUpdateInterval: v.GetDuration("aircraft_update_interval"),
		AircraftMaxAge:         v.GetDuration("aircraft_max_age"),
		CleanupInterval:        v.GetDuration("cleanup_interval"),
		StatusInterval:         v.GetDuration("status_interval"),
		ConnectTimeout:         v.GetDuration("connect_timeout"),
		Verbose:                v.GetBool("verbose"),
		Beast: BeastConfig{
			Escaped:        v.GetBool("beast.escaped"),
			MaxBufferBytes: v.GetInt("beast.max_buffer_bytes"),
		},
		Registry: RegistryConfig{
			DBPath:   v.GetString("registry.db_path"),
			CSVPaths: v.GetStringSlice("registry.csv_paths"),
		},
		Metrics: MetricsConfig{
			Enabled: v.GetBool("metrics.enabled"),
			Path:    v.GetString("metrics.path"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// EnabledSources returns the sources that will be connected
func (c *Config) EnabledSources() []models.Source {
	var out []models.Source
	for _, s := range c.Sources {
		if s.Enabled {
			out = append(out, s)
		}
	}
	return out
}

// mergeLocalConfig merges config-local.yaml (or the explicit override) over
// the main config when it exists
func mergeLocalConfig(v *viper.Viper, flags *pflag.FlagSet) error {
	localPath := pathSetting(flags, "local-config", envPrefix+"_LOCAL_CONFIG")
	explicit := localPath != ""
	if !explicit {
		dir := "."
		if used := v.ConfigFileUsed(); used != "" {
			dir = filepath.Dir(used)
		}
		localPath = filepath.Join(dir, localConfigName)
	}

	if _, err := os.Stat(localPath); err != nil {
		if explicit {
			return fmt.Errorf("local config %s: %w", localPath, err)
		}
		return nil
	}

	v.SetConfigFile(localPath)
	if err := v.MergeInConfig(); err != nil {
		return fmt.Errorf("error merging local config %s: %w", localPath, err)
	}
	return nil
}

func loadSources(v *viper.Viper) ([]models.Source, error) {
	var raw []sourceConfig
	if err := v.UnmarshalKey("sources", &raw); err != nil {
		return nil, fmt.Errorf("failed to decode sources: %w", err)
	}

	sources := make([]models.Source, 0, len(raw))
	for _, r := range raw {
		enabled := true
		if r.Enabled != nil {
			enabled = *r.Enabled
		}
		sources = append(sources, models.Source{
			Name:    r.Name,
			Host:    r.Host,
			Port:    r.Port,
			Enabled: enabled,
		})
	}
	return sources, nil
}

func pathSetting(flags *pflag.FlagSet, flagName, envName string) string {
	if flags != nil {
		if p, err := flags.GetString(flagName); err == nil && p != "" {
			return p
		}
	}
	return os.Getenv(envName)
}

// validate validates the configuration values
func validate(cfg *Config) error {
	if cfg.WebSocket.Port <= 0 || cfg.WebSocket.Port > 65535 {
		return fmt.Errorf("websocket.port must be between 1 and 65535, got %d", cfg.WebSocket.Port)
	}
	if !strings.HasPrefix(cfg.WebSocket.Path, "/") {
		return fmt.Errorf("websocket.path must start with /, got %q", cfg.WebSocket.Path)
	}
	if cfg.WebSocket.MaxClients <= 0 {
		return fmt.Errorf("websocket.max_clients must be greater than 0")
	}

	for i, s := range cfg.Sources {
		if !s.Enabled {
			continue
		}
		if s.Host == "" {
			return fmt.Errorf("sources[%d] (%s): host is required", i, s.Name)
		}
		if s.Port <= 0 || s.Port > 65535 {
			return fmt.Errorf("sources[%d] (%s): port must be between 1 and 65535, got %d", i, s.Name, s.Port)
		}
	}

	durations := map[string]time.Duration{
		"reconnect_interval":       cfg.ReconnectInterval,
		"aircraft_update_interval": cfg.AircraftUpdateInterval,
		"aircraft_max_age":         cfg.AircraftMaxAge,
		"cleanup_interval":         cfg.CleanupInterval,
		"status_interval":          cfg.StatusInterval,
		"connect_timeout":          cfg.ConnectTimeout,
	}
	for name, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%s must be greater than 0", name)
		}
	}

	if cfg.Beast.MaxBufferBytes <= 0 {
		return fmt.Errorf("beast.max_buffer_bytes must be greater than 0")
	}
	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /, got %q", cfg.Metrics.Path)
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(cfg.Log.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", cfg.Log.Level)
	}

	validLogFormats := map[string]bool{
		"text": true,
		"json": true,
	}
	if !validLogFormats[strings.ToLower(cfg.Log.Format)] {
		return fmt.Errorf("invalid log format: %s (must be text or json)", cfg.Log.Format)
	}

	return nil
}

// MarshalYAML renders the config in the layout of config.yaml, durations as
// strings
func (c *Config) MarshalYAML() (any, error) {
	return struct {
		WebSocket              WebSocketConfig `yaml:"websocket"`
		Sources                []models.Source `yaml:"sources"`
		ReconnectInterval      string          `yaml:"reconnect_interval"`
		AircraftUpdateInterval string          `yaml:"aircraft_update_interval"`
		AircraftMaxAge         string          `yaml:"aircraft_max_age"`
		CleanupInterval        string          `yaml:"cleanup_interval"`
		StatusInterval         string          `yaml:"status_interval"`
		ConnectTimeout         string          `yaml:"connect_timeout"`
		Verbose                bool            `yaml:"verbose"`
		Beast                  BeastConfig     `yaml:"beast"`
		Registry               RegistryConfig  `yaml:"registry"`
		Metrics                MetricsConfig   `yaml:"metrics"`
		Log                    LogConfig       `yaml:"log"`
	}{
		WebSocket:              c.WebSocket,
		Sources:                c.Sources,
		ReconnectInterval:      c.ReconnectInterval.String(),
		AircraftUpdateInterval: c.AircraftUpdateInterval.String(),
		AircraftMaxAge:         c.AircraftMaxAge.String(),
		CleanupInterval:        c.CleanupInterval.String(),
		StatusInterval:         c.StatusInterval.String(),
		ConnectTimeout:         c.ConnectTimeout.String(),
		Verbose:                c.Verbose,
		Beast:                  c.Beast,
		Registry:               c.Registry,
		Metrics:                c.Metrics,
		Log:                    c.Log,
	}, nil
}
