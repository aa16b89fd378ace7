package config

import (
	"errors"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	teoerrors "github.com/teonet-go/teoweb/internal/errors"
)

const (
	// ConfigName is the base name of the configuration file.
	ConfigName = "teoweb"

	// EnvPrefix prefixes environment overrides (TEOWEB_PROXY_HOST).
	EnvPrefix = "TEOWEB"

	// DefaultProxyHost is the Teonet proxy the fortune GUI talks to.
	DefaultProxyHost = "fortune-gui.teonet.dev"

	// DefaultBrokerPeer is the Teonet address of the teomq broker.
	DefaultBrokerPeer = "J4c0OciuN5R0cYfw652T9XkuvckAnUTJj5c"

	// DefaultReconnectDelay is the first reconnect delay after a close.
	DefaultReconnectDelay = time.Second

	// DefaultAddr is the default page server address.
	DefaultAddr = ":8080"

	// DefaultBrokerAddr is the default local broker address.
	DefaultBrokerAddr = ":8090"
)

// Config is the complete teoweb configuration.
type Config struct {
	// Proxy locates the Teonet proxy and the broker peer behind it.
	Proxy ProxyConfig `mapstructure:"proxy"`

	// Reconnect is the backoff policy applied after a close.
	Reconnect ReconnectConfig `mapstructure:"reconnect"`

	// Server configures the page server.
	Server ServerConfig `mapstructure:"server"`

	// Broker configures the local development broker.
	Broker BrokerConfig `mapstructure:"broker"`

	// Log configures the slog handler.
	Log LogConfig `mapstructure:"log"`

	// Sanitize passes fortune answers through an HTML sanitiser before
	// they reach the page. Off by default: answers are trusted markup.
	Sanitize bool `mapstructure:"sanitize"`

	// configFile is the file the config was read from, if any.
	configFile string
}

// ProxyConfig locates the Teonet proxy.
type ProxyConfig struct {
	Host string `mapstructure:"host"`
	Peer string `mapstructure:"peer"`

	// Insecure dials ws:// instead of wss://.
	Insecure bool `mapstructure:"insecure"`

	// HandshakeTimeout bounds dial plus the connect-to answer.
	HandshakeTimeout time.Duration `mapstructure:"handshakeTimeout"`
}

// ReconnectConfig is a capped exponential backoff.
type ReconnectConfig struct {
	Initial    time.Duration `mapstructure:"initial"`
	Multiplier float64       `mapstructure:"multiplier"`
	Max        time.Duration `mapstructure:"max"`

	// Jitter is the randomization factor, 0 disables it.
	Jitter float64 `mapstructure:"jitter"`
}

// ServerConfig configures the page server and its websocket sessions.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	Title           string        `mapstructure:"title"`
	PatchHistory    int           `mapstructure:"patchHistory"`
	WriteWait       time.Duration `mapstructure:"writeWait"`
	PongWait        time.Duration `mapstructure:"pongWait"`
	MaxMessageSize  int64         `mapstructure:"maxMessageSize"`
	ReadBufferSize  int           `mapstructure:"readBufferSize"`
	WriteBufferSize int           `mapstructure:"writeBufferSize"`
	ShutdownTimeout time.Duration `mapstructure:"shutdownTimeout"`
}

// PingPeriod is the session heartbeat interval, derived from PongWait.
func (s ServerConfig) PingPeriod() time.Duration {
	return s.PongWait * 9 / 10
}

// BrokerConfig configures the local broker.
type BrokerConfig struct {
	Addr     string        `mapstructure:"addr"`
	Peer     string        `mapstructure:"peer"`
	Version  string        `mapstructure:"version"`
	Interval time.Duration `mapstructure:"interval"`
	Seed     uint64        `mapstructure:"seed"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// New creates a new Config with default values.
func New() *Config {
	return &Config{
		Proxy: ProxyConfig{
			Host:             DefaultProxyHost,
			Peer:             DefaultBrokerPeer,
			HandshakeTimeout: 10 * time.Second,
		},
		Reconnect: ReconnectConfig{
			Initial:    DefaultReconnectDelay,
			Multiplier: 2,
			Max:        30 * time.Second,
		},
		Server: ServerConfig{
			Addr:            DefaultAddr,
			Title:           "Teonet fortune",
			PatchHistory:    64,
			WriteWait:       10 * time.Second,
			PongWait:        60 * time.Second,
			MaxMessageSize:  64 * 1024,
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			ShutdownTimeout: 5 * time.Second,
		},
		Broker: BrokerConfig{
			Addr:     DefaultBrokerAddr,
			Peer:     DefaultBrokerPeer,
			Version:  "0.0.1",
			Interval: time.Second,
			Seed:     42,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// flagKeys maps command line flag names to config keys.
var flagKeys = map[string]string{
	"host":        "proxy.host",
	"peer":        "proxy.peer",
	"insecure":    "proxy.insecure",
	"addr":        "server.addr",
	"broker-addr": "broker.addr",
	"interval":    "broker.interval",
	"sanitize":    "sanitize",
	"log-level":   "log.level",
	"log-format":  "log.format",
}

// Load reads the layered configuration. file may be empty, in which case
// teoweb.{yaml,json} is looked up in the working directory and its absence
// is not an error. flags may be nil; flags that were not set on the
// command line do not override lower layers.
func Load(file string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v, New())

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName(ConfigName)
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, teoerrors.New(teoerrors.CodeConfigLoad).Wrap(err)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, teoerrors.New(teoerrors.CodeConfigLoad).Wrap(err)
		}
	}

	cfg := New()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, teoerrors.New(teoerrors.CodeConfigLoad).
			WithDetail("Failed to decode configuration: " + err.Error())
	}
	cfg.configFile = v.ConfigFileUsed()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every default with viper so that environment
// variables are picked up for keys that appear in no file.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("proxy.host", d.Proxy.Host)
	v.SetDefault("proxy.peer", d.Proxy.Peer)
	v.SetDefault("proxy.insecure", d.Proxy.Insecure)
	v.SetDefault("proxy.handshakeTimeout", d.Proxy.HandshakeTimeout)

	v.SetDefault("reconnect.initial", d.Reconnect.Initial)
	v.SetDefault("reconnect.multiplier", d.Reconnect.Multiplier)
	v.SetDefault("reconnect.max", d.Reconnect.Max)
	v.SetDefault("reconnect.jitter", d.Reconnect.Jitter)

	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.title", d.Server.Title)
	v.SetDefault("server.patchHistory", d.Server.PatchHistory)
	v.SetDefault("server.writeWait", d.Server.WriteWait)
	v.SetDefault("server.pongWait", d.Server.PongWait)
	v.SetDefault("server.maxMessageSize", d.Server.MaxMessageSize)
	v.SetDefault("server.readBufferSize", d.Server.ReadBufferSize)
	v.SetDefault("server.writeBufferSize", d.Server.WriteBufferSize)
	v.SetDefault("server.shutdownTimeout", d.Server.ShutdownTimeout)

	v.SetDefault("broker.addr", d.Broker.Addr)
	v.SetDefault("broker.peer", d.Broker.Peer)
	v.SetDefault("broker.version", d.Broker.Version)
	v.SetDefault("broker.interval", d.Broker.Interval)
	v.SetDefault("broker.seed", d.Broker.Seed)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)

	v.SetDefault("sanitize", d.Sanitize)
}

// File returns the configuration file that was read, or "".
func (c *Config) File() string {
	return c.configFile
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return teoerrors.New(teoerrors.CodeConfigInvalid).WithDetailf(format, args...)
	}

	switch {
	case c.Proxy.Host == "":
		return teoerrors.New(teoerrors.CodeConfigInvalid).
			WithDetail("proxy.host must not be empty").
			WithSuggestion("Set --host or TEOWEB_PROXY_HOST, or run serve --with-broker")
	case c.Proxy.Peer == "":
		return invalid("proxy.peer must not be empty")
	case c.Reconnect.Initial <= 0:
		return invalid("reconnect.initial must be positive, got %s", c.Reconnect.Initial)
	case c.Reconnect.Multiplier < 1:
		return invalid("reconnect.multiplier must be at least 1, got %g", c.Reconnect.Multiplier)
	case c.Reconnect.Max < c.Reconnect.Initial:
		return invalid("reconnect.max %s below reconnect.initial %s", c.Reconnect.Max, c.Reconnect.Initial)
	case c.Reconnect.Jitter < 0 || c.Reconnect.Jitter >= 1:
		return invalid("reconnect.jitter must be in [0, 1), got %g", c.Reconnect.Jitter)
	case c.Server.PatchHistory < 0:
		return invalid("server.patchHistory must not be negative")
	case c.Server.PongWait <= 0 || c.Server.WriteWait <= 0:
		return invalid("server.pongWait and server.writeWait must be positive")
	case c.Broker.Interval <= 0:
		return invalid("broker.interval must be positive, got %s", c.Broker.Interval)
	}

	if _, err := c.Log.SlogLevel(); err != nil {
		return invalid("%s", err.Error())
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return invalid("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

// ProxyURL returns the websocket URL of the proxy.
func (c *Config) ProxyURL() string {
	scheme := "wss"
	if c.Proxy.Insecure {
		scheme = "ws"
	}
	return scheme + "://" + c.Proxy.Host + "/ws"
}

// SlogLevel parses Level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	err := lvl.UnmarshalText([]byte(l.Level))
	return lvl, err
}

// NewLogger builds the process logger described by the config.
func (l LogConfig) NewLogger() *slog.Logger {
	lvl, err := l.SlogLevel()
	if err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
