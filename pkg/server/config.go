package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/teonet-go/teoweb/internal/config"
)

// Config holds page server settings.
type Config struct {
	// Addr is the listen address.
	Addr string

	// Title is shown in the page head.
	Title string

	// PatchHistory is the number of patch frames kept for resync.
	// Default: 64.
	PatchHistory int

	// SendBuffer is the number of frames queued per session before it is
	// considered too slow and dropped. Default: 2*PatchHistory.
	SendBuffer int

	// WriteWait is the deadline for a single websocket write.
	// Default: 10 seconds.
	WriteWait time.Duration

	// PongWait is how long a session may stay silent.
	// Default: 60 seconds.
	PongWait time.Duration

	// PingPeriod is the interval of websocket pings. Must be less than
	// PongWait. Default: PongWait*9/10.
	PingPeriod time.Duration

	// MaxMessageSize limits incoming websocket messages.
	// Default: 64KB.
	MaxMessageSize int64

	ReadBufferSize  int
	WriteBufferSize int

	// ShutdownTimeout bounds graceful HTTP shutdown.
	// Default: 5 seconds.
	ShutdownTimeout time.Duration

	// CheckOrigin validates websocket origins. Default: same host.
	CheckOrigin func(r *http.Request) bool

	// Middleware is applied to every route.
	Middleware []func(http.Handler) http.Handler

	// Recorder receives session metrics. Optional.
	Recorder Recorder

	// Gatherer backs /metrics. Default: prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer

	Logger *slog.Logger
}

// Recorder receives page server measurements.
type Recorder interface {
	RecordPatches(count int)
	SessionOpened()
	SessionClosed()
	RecordWebSocketError(errorType string)
}

type nopRecorder struct{}

func (nopRecorder) RecordPatches(int)           {}
func (nopRecorder) SessionOpened()              {}
func (nopRecorder) SessionClosed()              {}
func (nopRecorder) RecordWebSocketError(string) {}

// DefaultConfig returns a Config with defaults applied.
func DefaultConfig() Config {
	c := Config{}
	c.applyDefaults()
	return c
}

// ConfigFrom builds a Config from the loaded application configuration.
func ConfigFrom(cfg config.ServerConfig, logger *slog.Logger) Config {
	c := Config{
		Addr:            cfg.Addr,
		Title:           cfg.Title,
		PatchHistory:    cfg.PatchHistory,
		WriteWait:       cfg.WriteWait,
		PongWait:        cfg.PongWait,
		PingPeriod:      cfg.PingPeriod(),
		MaxMessageSize:  cfg.MaxMessageSize,
		ReadBufferSize:  cfg.ReadBufferSize,
		WriteBufferSize: cfg.WriteBufferSize,
		ShutdownTimeout: cfg.ShutdownTimeout,
		Logger:          logger,
	}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.Addr == "" {
		c.Addr = config.DefaultAddr
	}
	if c.Title == "" {
		c.Title = "Teonet fortune"
	}
	if c.PatchHistory <= 0 {
		c.PatchHistory = 64
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 2 * c.PatchHistory
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.PingPeriod <= 0 || c.PingPeriod >= c.PongWait {
		c.PingPeriod = c.PongWait * 9 / 10
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 64 * 1024
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = 1024
	}
	if c.WriteBufferSize <= 0 {
		c.WriteBufferSize = 1024
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
	if c.Recorder == nil {
		c.Recorder = nopRecorder{}
	}
	if c.Gatherer == nil {
		c.Gatherer = prometheus.DefaultGatherer
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}
