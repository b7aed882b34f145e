package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned by Validate
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds everything the headless client needs
type Config struct {
	Host struct {
		BaseURL        string        `yaml:"base_url"`
		WebSocketURL   string        `yaml:"websocket_url"` // derived from base_url when empty
		RequestTimeout time.Duration `yaml:"request_timeout"`
	} `yaml:"host"`

	Connection struct {
		ReconnectDelay time.Duration `yaml:"reconnect_delay"`
		MaxReconnects  int           `yaml:"max_reconnects"`
	} `yaml:"connection"`

	Player struct {
		Name string `yaml:"name"`
	} `yaml:"player"`

	Log struct {
		Level  string `yaml:"level"`
		Pretty bool   `yaml:"pretty"`
	} `yaml:"log"`

	Inspect struct {
		Enabled bool   `yaml:"enabled"`
		Addr    string `yaml:"addr"`
	} `yaml:"inspect"`

	Mirror struct {
		Enabled       bool   `yaml:"enabled"`
		URL           string `yaml:"url"`
		StreamName    string `yaml:"stream_name"`
		SubjectPrefix string `yaml:"subject_prefix"`
		QueueSize     int    `yaml:"queue_size"`
	} `yaml:"mirror"`
}

// Default returns the built-in configuration
func Default() Config {
	var c Config
	c.Host.BaseURL = "http://localhost:18080"
	c.Host.RequestTimeout = 30 * time.Second
	c.Connection.ReconnectDelay = 2 * time.Second
	c.Connection.MaxReconnects = 5
	c.Player.Name = "Player"
	c.Log.Level = "info"
	c.Log.Pretty = true
	c.Inspect.Addr = ":8090"
	c.Mirror.URL = "nats://localhost:4222"
	c.Mirror.StreamName = "SESSION_EVENTS"
	c.Mirror.SubjectPrefix = "session.events"
	c.Mirror.QueueSize = 256
	return c
}

// Load builds the configuration from defaults, an optional YAML file and
// DEDUCTION_* environment variables, in that order.
func Load(path string) (Config, error) {
	c := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return c, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &c); err != nil {
			return c, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	c.ApplyEnv()
	return c, nil
}

// ApplyEnv overrides fields from the environment
func (c *Config) ApplyEnv() {
	c.Host.BaseURL = getEnv("DEDUCTION_HOST_URL", c.Host.BaseURL)
	c.Host.WebSocketURL = getEnv("DEDUCTION_WS_URL", c.Host.WebSocketURL)
	c.Host.RequestTimeout = getEnvAsDuration("DEDUCTION_REQUEST_TIMEOUT", c.Host.RequestTimeout)
	c.Connection.ReconnectDelay = getEnvAsDuration("DEDUCTION_RECONNECT_DELAY", c.Connection.ReconnectDelay)
	c.Connection.MaxReconnects = getEnvAsInt("DEDUCTION_MAX_RECONNECTS", c.Connection.MaxReconnects)
	c.Player.Name = getEnv("DEDUCTION_PLAYER_NAME", c.Player.Name)
	c.Log.Level = getEnv("DEDUCTION_LOG_LEVEL", c.Log.Level)
	c.Log.Pretty = getEnvAsBool("DEDUCTION_LOG_PRETTY", c.Log.Pretty)
	c.Inspect.Enabled = getEnvAsBool("DEDUCTION_INSPECT_ENABLED", c.Inspect.Enabled)
	c.Inspect.Addr = getEnv("DEDUCTION_INSPECT_ADDR", c.Inspect.Addr)
	c.Mirror.Enabled = getEnvAsBool("DEDUCTION_MIRROR_ENABLED", c.Mirror.Enabled)
	c.Mirror.URL = getEnv("NATS_URL", c.Mirror.URL)
	c.Mirror.StreamName = getEnv("DEDUCTION_MIRROR_STREAM", c.Mirror.StreamName)
	c.Mirror.SubjectPrefix = getEnv("DEDUCTION_MIRROR_SUBJECT_PREFIX", c.Mirror.SubjectPrefix)
}

// BindFlags registers command-line overrides on fs. Parsing fs afterwards
// writes straight into c.
func (c *Config) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.Host.BaseURL, "host", c.Host.BaseURL, "host HTTP base URL")
	fs.StringVar(&c.Host.WebSocketURL, "ws", c.Host.WebSocketURL, "host WebSocket base URL (derived from --host when empty)")
	fs.StringVarP(&c.Player.Name, "name", "n", c.Player.Name, "player name used to create the session")
	fs.DurationVar(&c.Connection.ReconnectDelay, "reconnect-delay", c.Connection.ReconnectDelay, "delay between reconnection attempts")
	fs.IntVar(&c.Connection.MaxReconnects, "max-reconnects", c.Connection.MaxReconnects, "reconnection attempts before giving up")
	fs.StringVar(&c.Log.Level, "log-level", c.Log.Level, "log level (debug, info, warn, error)")
	fs.BoolVar(&c.Inspect.Enabled, "inspect", c.Inspect.Enabled, "serve the session inspection API")
	fs.StringVar(&c.Inspect.Addr, "inspect-addr", c.Inspect.Addr, "inspection API listen address")
	fs.BoolVar(&c.Mirror.Enabled, "mirror", c.Mirror.Enabled, "mirror applied events to NATS JetStream")
	fs.StringVar(&c.Mirror.URL, "nats-url", c.Mirror.URL, "NATS server URL for the event mirror")
}

// WebSocketBase returns the ws:// or wss:// root of the host
func (c Config) WebSocketBase() (string, error) {
	if c.Host.WebSocketURL != "" {
		return c.Host.WebSocketURL, nil
	}
	u, err := url.Parse(c.Host.BaseURL)
	if err != nil {
		return "", fmt.Errorf("%w: host url: %w", ErrInvalidConfig, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("%w: unsupported host scheme %q", ErrInvalidConfig, u.Scheme)
	}
	return strings.TrimSuffix(u.String(), "/"), nil
}

// Validate checks the values that would otherwise fail at run time
func (c Config) Validate() error {
	if c.Host.BaseURL == "" {
		return fmt.Errorf("%w: host base url is required", ErrInvalidConfig)
	}
	if _, err := c.WebSocketBase(); err != nil {
		return err
	}
	if strings.TrimSpace(c.Player.Name) == "" {
		return fmt.Errorf("%w: player name is required", ErrInvalidConfig)
	}
	if c.Connection.ReconnectDelay <= 0 {
		return fmt.Errorf("%w: reconnect delay must be positive", ErrInvalidConfig)
	}
	if c.Connection.MaxReconnects < 0 {
		return fmt.Errorf("%w: max reconnects must not be negative", ErrInvalidConfig)
	}
	if c.Mirror.Enabled && c.Mirror.URL == "" {
		return fmt.Errorf("%w: mirror enabled without a NATS url", ErrInvalidConfig)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
