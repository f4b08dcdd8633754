package config

import (
	"io/fs"
	"os"
	"strings"
	"time"

	"minikv/internal/logs"
	"minikv/internal/retry"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Default values for the server configuration.
const (
	DefaultListen       = ":6380"
	DefaultAdminListen  = ":8080"
	DefaultDataDir      = "data"
	DefaultAutosaveFile = "autosave.json"
	DefaultReapInterval = time.Second
	DefaultLogLevel     = "info"
	DefaultLogFormat    = "text"
	DefaultLogBuffer    = 1000
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Log     LogConfig     `yaml:"log"`
}

type ServerConfig struct {
	// Listen is the TCP address of the text command protocol.
	Listen string `yaml:"listen"`

	// AdminListen is the HTTP address for metrics, health and websocket
	// sessions. Empty disables the admin server.
	AdminListen string `yaml:"admin_listen"`
}

type StorageConfig struct {
	DataDir      string        `yaml:"data_dir"`
	AutosaveFile string        `yaml:"autosave_file"`
	ReapInterval time.Duration `yaml:"reap_interval"`
	SaveRetry    RetryConfig   `yaml:"save_retry"`
}

// RetryConfig controls how a failed autosave is retried.
type RetryConfig struct {
	MaxRetries  int           `yaml:"max_retries"`
	BaseBackoff time.Duration `yaml:"base_backoff"`
	MaxBackoff  time.Duration `yaml:"max_backoff"`
}

// Policy converts the settings into a retry policy with 50% jitter.
func (r RetryConfig) Policy() retry.Policy {
	return retry.Policy{
		MaxRetries:  r.MaxRetries,
		BaseBackoff: r.BaseBackoff,
		MaxBackoff:  r.MaxBackoff,
		JitterFn:    func(d time.Duration) time.Duration { return d / 2 },
	}
}

type LogConfig struct {
	// Level is one of: debug | info | warn | error.
	Level string `yaml:"level"`

	// Format is one of: text | json.
	Format string `yaml:"format"`

	// Buffer is how many recent entries are kept in memory for /health.
	Buffer int `yaml:"buffer"`
}

// LogLevel returns the parsed level. Load has already validated it.
func (l LogConfig) LogLevel() logs.Level {
	lvl, err := logs.ParseLevel(l.Level)
	if err != nil {
		return logs.INFO
	}
	return lvl
}

// Load reads and parses the config file at path. A missing file is not an
// error: the defaults are returned.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return nil, errors.Wrapf(err, "config: read %q", path)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "config: parse yaml")
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config")
	}

	return cfg, nil
}

// Default returns a Config pre-populated with default values.
func Default() *Config {
	base := retry.DefaultPolicy()
	return &Config{
		Server: ServerConfig{
			Listen:      DefaultListen,
			AdminListen: DefaultAdminListen,
		},
		Storage: StorageConfig{
			DataDir:      DefaultDataDir,
			AutosaveFile: DefaultAutosaveFile,
			ReapInterval: DefaultReapInterval,
			SaveRetry: RetryConfig{
				MaxRetries:  base.MaxRetries,
				BaseBackoff: base.BaseBackoff,
				MaxBackoff:  base.MaxBackoff,
			},
		},
		Log: LogConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
			Buffer: DefaultLogBuffer,
		},
	}
}

// Validate checks structural constraints on the configuration.
func (c *Config) Validate() error {
	if c.Server.Listen == "" {
		return errors.New("server.listen must not be empty")
	}
	if c.Storage.DataDir == "" {
		return errors.New("storage.data_dir must not be empty")
	}
	if c.Storage.AutosaveFile == "" || strings.ContainsAny(c.Storage.AutosaveFile, `/\`) {
		return errors.Errorf("storage.autosave_file %q must be a plain file name", c.Storage.AutosaveFile)
	}
	if c.Storage.ReapInterval <= 0 {
		return errors.New("storage.reap_interval must be positive")
	}
	r := c.Storage.SaveRetry
	if r.MaxRetries < 0 {
		return errors.New("storage.save_retry.max_retries must not be negative")
	}
	if r.BaseBackoff < 0 || r.MaxBackoff < 0 {
		return errors.New("storage.save_retry backoffs must not be negative")
	}
	if _, err := logs.ParseLevel(c.Log.Level); err != nil {
		return errors.Wrap(err, "log.level")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return errors.Errorf("log.format %q unknown: want text|json", c.Log.Format)
	}
	if c.Log.Buffer < 0 {
		return errors.New("log.buffer must not be negative")
	}
	return nil
}
