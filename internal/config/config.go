package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. PROJECTDESK_WORKER_PORT_START.
const EnvPrefix = "PROJECTDESK"

// Config holds all application configuration.
type Config struct {
	App         AppConfig         `mapstructure:"app" yaml:"app"`
	Shell       ShellConfig       `mapstructure:"shell" yaml:"shell"`
	Window      WindowConfig      `mapstructure:"window" yaml:"window"`
	Worker      WorkerConfig      `mapstructure:"worker" yaml:"worker"`
	Logging     LoggingConfig     `mapstructure:"logging" yaml:"logging"`
	Diagnostics DiagnosticsConfig `mapstructure:"diagnostics" yaml:"diagnostics"`
}

// AppConfig describes the install location.
type AppConfig struct {
	Name string `mapstructure:"name" yaml:"name"`
	Path string `mapstructure:"path" yaml:"path"`
}

// ShellConfig controls what the window loads and how the shell quits.
type ShellConfig struct {
	DevMode         bool   `mapstructure:"dev_mode" yaml:"dev_mode"`
	DevURL          string `mapstructure:"dev_url" yaml:"dev_url"`
	PackagedIndex   string `mapstructure:"packaged_index" yaml:"packaged_index"`
	QuitOnAllClosed bool   `mapstructure:"quit_on_all_closed" yaml:"quit_on_all_closed"`
	OpenDevTools    bool   `mapstructure:"open_devtools" yaml:"open_devtools"`
}

// WindowConfig holds display surface options.
type WindowConfig struct {
	Width            int  `mapstructure:"width" yaml:"width"`
	Height           int  `mapstructure:"height" yaml:"height"`
	HostIntegration  bool `mapstructure:"host_integration" yaml:"host_integration"`
	ContextIsolation bool `mapstructure:"context_isolation" yaml:"context_isolation"`
	BrowserFallback  bool `mapstructure:"browser_fallback" yaml:"browser_fallback"`
}

// WorkerConfig describes the backend process.
type WorkerConfig struct {
	Executable    string        `mapstructure:"executable" yaml:"executable"`
	Script        string        `mapstructure:"script" yaml:"script"`
	PortStart     int           `mapstructure:"port_start" yaml:"port_start"`
	PortEnd       int           `mapstructure:"port_end" yaml:"port_end"`
	ReadyTimeout  time.Duration `mapstructure:"ready_timeout" yaml:"ready_timeout"`
	StopTimeout   time.Duration `mapstructure:"stop_timeout" yaml:"stop_timeout"`
	RestartPolicy string        `mapstructure:"restart_policy" yaml:"restart_policy"`
	MaxRestarts   int           `mapstructure:"max_restarts" yaml:"max_restarts"`
	OutputBuffer  int           `mapstructure:"output_buffer" yaml:"output_buffer"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	Format     string `mapstructure:"format" yaml:"format"`
	Path       string `mapstructure:"path" yaml:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// DiagnosticsConfig holds the loopback diagnostics server configuration.
type DiagnosticsConfig struct {
	Enabled        bool          `mapstructure:"enabled" yaml:"enabled"`
	Host           string        `mapstructure:"host" yaml:"host"`
	Port           int           `mapstructure:"port" yaml:"port"`
	HealthInterval time.Duration `mapstructure:"health_interval" yaml:"health_interval"`
}

// Restart policies accepted by worker.restart_policy.
const (
	RestartNever   = "never"
	RestartBackoff = "backoff"
)

// Default returns a Config with default values.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{}
	_ = v.Unmarshal(cfg)
	return cfg
}

// Load reads configuration from file and environment variables.
// Priority: environment variables > config file > defaults.
// A .env file in the working directory is applied to the environment first.
func Load(configPath string) (*Config, error) {
	return LoadWith(viper.New(), configPath)
}

// LoadWith is Load on a caller-supplied viper instance, so command-line
// flags bound to v take precedence over everything else.
func LoadWith(v *viper.Viper, configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("$HOME/.projectdesk")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults sets default values in viper
func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "ProjectDesk")
	v.SetDefault("app.path", DefaultAppPath())

	v.SetDefault("shell.dev_mode", DefaultDevMode())
	v.SetDefault("shell.dev_url", "http://localhost:3000")
	v.SetDefault("shell.packaged_index", filepath.Join("frontend", "build", "index.html"))
	// macOS apps conventionally stay alive with no windows open.
	v.SetDefault("shell.quit_on_all_closed", runtime.GOOS != "darwin")
	v.SetDefault("shell.open_devtools", DefaultDevMode())

	v.SetDefault("window.width", 1200)
	v.SetDefault("window.height", 800)
	v.SetDefault("window.host_integration", true)
	v.SetDefault("window.context_isolation", false)
	v.SetDefault("window.browser_fallback", true)

	v.SetDefault("worker.executable", "")
	v.SetDefault("worker.script", "")
	v.SetDefault("worker.port_start", 8000)
	v.SetDefault("worker.port_end", 65535)
	v.SetDefault("worker.ready_timeout", time.Duration(0))
	v.SetDefault("worker.stop_timeout", 5*time.Second)
	v.SetDefault("worker.restart_policy", RestartNever)
	v.SetDefault("worker.max_restarts", 3)
	v.SetDefault("worker.output_buffer", 500)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.path", DefaultLogPath())
	v.SetDefault("logging.max_size_mb", 10)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 30)
	v.SetDefault("logging.compress", false)

	v.SetDefault("diagnostics.enabled", true)
	v.SetDefault("diagnostics.host", "127.0.0.1")
	v.SetDefault("diagnostics.port", 0)
	v.SetDefault("diagnostics.health_interval", 15*time.Second)
}

// Validate checks values that would otherwise fail much later at runtime.
func (c *Config) Validate() error {
	if c.Worker.PortStart < 1 || c.Worker.PortEnd > 65535 || c.Worker.PortStart > c.Worker.PortEnd {
		return fmt.Errorf("invalid worker port range %d-%d", c.Worker.PortStart, c.Worker.PortEnd)
	}
	switch c.Worker.RestartPolicy {
	case RestartNever, RestartBackoff:
	default:
		return fmt.Errorf("invalid worker.restart_policy %q", c.Worker.RestartPolicy)
	}
	if c.Window.Width <= 0 || c.Window.Height <= 0 {
		return fmt.Errorf("invalid window size %dx%d", c.Window.Width, c.Window.Height)
	}
	if c.Worker.MaxRestarts < 0 {
		return fmt.Errorf("worker.max_restarts must not be negative")
	}
	return nil
}

// PackagedIndexPath returns the packaged frontend entry point, resolved against the app path.
func (c *Config) PackagedIndexPath() string {
	if filepath.IsAbs(c.Shell.PackagedIndex) {
		return c.Shell.PackagedIndex
	}
	return filepath.Join(c.App.Path, c.Shell.PackagedIndex)
}

// Address returns the diagnostics server address string.
func (c *DiagnosticsConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DefaultLogPath returns the per-user log directory for the current OS.
func DefaultLogPath() string {
	switch runtime.GOOS {
	case "windows":
		if localAppData := os.Getenv("LOCALAPPDATA"); localAppData != "" {
			return filepath.Join(localAppData, "ProjectDesk", "logs")
		}
	case "darwin":
		if home, _ := os.UserHomeDir(); home != "" {
			return filepath.Join(home, "Library", "Logs", "ProjectDesk")
		}
	default:
		if home, _ := os.UserHomeDir(); home != "" {
			return filepath.Join(home, ".config", "projectdesk", "logs")
		}
	}
	return "./logs"
}
