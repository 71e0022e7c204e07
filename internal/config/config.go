// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Browser  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	Engine   EngineConfig   `mapstructure:"engine" yaml:"engine"`
	Capture  CaptureConfig  `mapstructure:"capture" yaml:"capture"`
	Metrics  MetricsConfig  `mapstructure:"metrics" yaml:"metrics"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color names used for each log level in console output.
type ColorConfig struct {
	Debug string `mapstructure:"debug" yaml:"debug"`
	Info  string `mapstructure:"info" yaml:"info"`
	Warn  string `mapstructure:"warn" yaml:"warn"`
	Error string `mapstructure:"error" yaml:"error"`
	Fatal string `mapstructure:"fatal" yaml:"fatal"`
}

// Supported database drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// DatabaseConfig selects and configures the persistence backend.
type DatabaseConfig struct {
	Driver     string `mapstructure:"driver" yaml:"driver"`
	URL        string `mapstructure:"url" yaml:"url"`
	SQLitePath string `mapstructure:"sqlite_path" yaml:"sqlite_path"`
}

// ViewportConfig is the fixed page size every session is created with.
type ViewportConfig struct {
	Width  int `mapstructure:"width" yaml:"width"`
	Height int `mapstructure:"height" yaml:"height"`
}

// BrowserConfig holds settings for the headless browser instances.
type BrowserConfig struct {
	Headless        bool           `mapstructure:"headless" yaml:"headless"`
	ExecPath        string         `mapstructure:"exec_path" yaml:"exec_path"`
	IgnoreTLSErrors bool           `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	LaunchTimeout   time.Duration  `mapstructure:"launch_timeout" yaml:"launch_timeout"`
	CloseTimeout    time.Duration  `mapstructure:"close_timeout" yaml:"close_timeout"`
	UserAgent       string         `mapstructure:"user_agent" yaml:"user_agent"`
	Args            []string       `mapstructure:"args" yaml:"args"`
	Viewport        ViewportConfig `mapstructure:"viewport" yaml:"viewport"`
}

// TimeoutConfig bounds individual browser operations.
type TimeoutConfig struct {
	Navigation time.Duration `mapstructure:"navigation" yaml:"navigation"`
	Selector   time.Duration `mapstructure:"selector" yaml:"selector"`
}

// WaitConfig tunes the explicit wait action.
type WaitConfig struct {
	Default time.Duration `mapstructure:"default" yaml:"default"`
	Extra   time.Duration `mapstructure:"extra" yaml:"extra"`
}

// StabilityConfig tunes the heuristics used to decide a page has settled.
type StabilityConfig struct {
	NetworkIdle  time.Duration `mapstructure:"network_idle" yaml:"network_idle"`
	NetworkMax   time.Duration `mapstructure:"network_max" yaml:"network_max"`
	AnimationCap time.Duration `mapstructure:"animation_cap" yaml:"animation_cap"`
	ScrollSettle time.Duration `mapstructure:"scroll_settle" yaml:"scroll_settle"`
}

// EngineConfig configures the step execution engine.
type EngineConfig struct {
	StepDelay      time.Duration   `mapstructure:"step_delay" yaml:"step_delay"`
	PersistTimeout time.Duration   `mapstructure:"persist_timeout" yaml:"persist_timeout"`
	Timeouts       TimeoutConfig   `mapstructure:"timeouts" yaml:"timeouts"`
	Wait           WaitConfig      `mapstructure:"wait" yaml:"wait"`
	Stability      StabilityConfig `mapstructure:"stability" yaml:"stability"`
}

// CaptureConfig configures where screenshot bytes go when the data store rejects them.
type CaptureConfig struct {
	BucketDir string `mapstructure:"bucket_dir" yaml:"bucket_dir"`
}

// MetricsConfig controls the optional Prometheus listener.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen"`
}

// DefaultUserAgent is a desktop Chrome user agent used to reduce bot-detection friction.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Defaults are static; failing here is a programming error.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for every configuration parameter.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "stepwright")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Database --
	v.SetDefault("database.driver", DriverSQLite)
	v.SetDefault("database.url", "")
	v.SetDefault("database.sqlite_path", "stepwright.db")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.launch_timeout", "30s")
	v.SetDefault("browser.close_timeout", "10s")
	v.SetDefault("browser.user_agent", DefaultUserAgent)
	v.SetDefault("browser.viewport.width", 1280)
	v.SetDefault("browser.viewport.height", 720)

	// -- Engine --
	v.SetDefault("engine.step_delay", "750ms")
	v.SetDefault("engine.persist_timeout", "30s")
	v.SetDefault("engine.timeouts.navigation", "30s")
	v.SetDefault("engine.timeouts.selector", "10s")
	v.SetDefault("engine.wait.default", "1s")
	v.SetDefault("engine.wait.extra", "5s")
	v.SetDefault("engine.stability.network_idle", "500ms")
	v.SetDefault("engine.stability.network_max", "4s")
	v.SetDefault("engine.stability.animation_cap", "2s")
	v.SetDefault("engine.stability.scroll_settle", "300ms")

	// -- Capture --
	v.SetDefault("capture.bucket_dir", "screenshots")

	// -- Metrics --
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", "127.0.0.1:9464")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// The connection string usually carries credentials; keep it out of config files.
	_ = v.BindEnv("database.url", "STEPWRIGHT_DATABASE_URL", "DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverPostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("database.url is required for the postgres driver")
		}
	case DriverSQLite:
		if c.Database.SQLitePath == "" {
			return fmt.Errorf("database.sqlite_path is required for the sqlite driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unsupported database.driver %q", c.Database.Driver)
	}

	if c.Browser.Viewport.Width <= 0 || c.Browser.Viewport.Height <= 0 {
		return fmt.Errorf("browser.viewport must have positive width and height")
	}
	if c.Browser.LaunchTimeout <= 0 {
		return fmt.Errorf("browser.launch_timeout must be a positive duration")
	}
	if err := c.Engine.Validate(); err != nil {
		return fmt.Errorf("engine configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the engine timings.
func (e *EngineConfig) Validate() error {
	if e.StepDelay < 0 {
		return fmt.Errorf("step_delay cannot be negative")
	}
	if e.Timeouts.Navigation <= 0 || e.Timeouts.Selector <= 0 {
		return fmt.Errorf("timeouts.navigation and timeouts.selector must be positive")
	}
	if e.Wait.Default <= 0 {
		return fmt.Errorf("wait.default must be positive")
	}
	s := e.Stability
	if s.NetworkIdle <= 0 || s.NetworkMax <= 0 {
		return fmt.Errorf("stability.network_idle and stability.network_max must be positive")
	}
	if s.NetworkIdle > s.NetworkMax {
		return fmt.Errorf("stability.network_idle (%s) cannot exceed stability.network_max (%s)", s.NetworkIdle, s.NetworkMax)
	}
	if s.AnimationCap < 0 {
		return fmt.Errorf("stability.animation_cap cannot be negative")
	}
	return nil
}
