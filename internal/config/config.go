// Package config holds the client's configuration surface (spec.md §6) and
// its validation, following the teacher's flat *Config-struct-plus-defaults
// style (internal/core.ConnectionConfig, internal/api.ServerConfig).
package config

import (
	"time"

	"github.com/duskrelay/wasession/internal/waerr"
)

// MediaSizeLimits caps plaintext size per media kind, enforced by the media
// pipeline pre-encrypt / post-decrypt.
type MediaSizeLimits struct {
	ImageBytes       int64
	VideoBytes       int64
	AudioBytes       int64
	DocumentBytes    int64
	SmallStickerBytes int64
}

// DefaultMediaSizeLimits mirrors spec.md §4.7.
func DefaultMediaSizeLimits() MediaSizeLimits {
	const mib = 1 << 20
	return MediaSizeLimits{
		ImageBytes:        16 * mib,
		VideoBytes:        100 * mib,
		AudioBytes:        100 * mib,
		DocumentBytes:     100 * mib,
		SmallStickerBytes: 1 * mib,
	}
}

// BrowserIdentity is the platform/version triplet surfaced in the client
// hello payload during the Noise handshake.
type BrowserIdentity struct {
	Name    string
	Version string
	OS      string
}

// ProtocolVersion is the triplet surfaced in the client hello payload and
// used to build the one-time magic frame header.
type ProtocolVersion struct {
	Major, Minor, Patch byte
}

// Config is the full configuration surface of spec.md §6.
type Config struct {
	EndpointURL string
	Origin      string
	UserAgent   string

	AutoReconnect        bool
	ReconnectInitialDelay time.Duration
	ReconnectFactor       float64
	ReconnectMaxDelay     time.Duration
	ReconnectMaxAttempts  int

	ConnectTimeout   time.Duration
	HandshakeTimeout time.Duration

	RequestDefaultTimeout time.Duration

	KeepAliveInterval time.Duration
	KeepAliveGrace    time.Duration

	EnrollmentCodeTimeout time.Duration
	EnrollmentMaxAttempts int

	BrowserIdentity BrowserIdentity
	ProtocolVersion ProtocolVersion

	MediaSizeLimits MediaSizeLimits
}

// Option mutates a Config during construction.
type Option func(*Config)

// WithEndpoint overrides the gateway websocket URL and Origin header.
func WithEndpoint(url, origin string) Option {
	return func(c *Config) {
		c.EndpointURL = url
		c.Origin = origin
	}
}

// WithAutoReconnect toggles automatic reconnection.
func WithAutoReconnect(enabled bool) Option {
	return func(c *Config) { c.AutoReconnect = enabled }
}

// WithBackoff overrides the reconnect backoff parameters.
func WithBackoff(initial time.Duration, factor float64, max time.Duration, maxAttempts int) Option {
	return func(c *Config) {
		c.ReconnectInitialDelay = initial
		c.ReconnectFactor = factor
		c.ReconnectMaxDelay = max
		c.ReconnectMaxAttempts = maxAttempts
	}
}

// WithRequestTimeout overrides the default per-request deadline.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Config) { c.RequestDefaultTimeout = d }
}

// WithKeepAlive overrides the ping interval and pong silence grace period.
func WithKeepAlive(interval, grace time.Duration) Option {
	return func(c *Config) {
		c.KeepAliveInterval = interval
		c.KeepAliveGrace = grace
	}
}

// WithEnrollment overrides the scanned-code expiry/attempt-cap parameters.
func WithEnrollment(timeout time.Duration, maxAttempts int) Option {
	return func(c *Config) {
		c.EnrollmentCodeTimeout = timeout
		c.EnrollmentMaxAttempts = maxAttempts
	}
}

// WithMediaSizeLimits overrides the per-kind media caps.
func WithMediaSizeLimits(limits MediaSizeLimits) Option {
	return func(c *Config) { c.MediaSizeLimits = limits }
}

// Default returns the baseline configuration described in spec.md §6.
func Default() Config {
	return Config{
		EndpointURL: "wss://gateway.example.net/ws",
		Origin:      "https://gateway.example.net",
		UserAgent:   "wasession/1.0",

		AutoReconnect:         true,
		ReconnectInitialDelay: time.Second,
		ReconnectFactor:       1.5,
		ReconnectMaxDelay:     60 * time.Second,
		ReconnectMaxAttempts:  10,

		ConnectTimeout:   30 * time.Second,
		HandshakeTimeout: 30 * time.Second,

		RequestDefaultTimeout: 60 * time.Second,

		KeepAliveInterval: 20 * time.Second,
		KeepAliveGrace:    60 * time.Second,

		EnrollmentCodeTimeout: 60 * time.Second,
		EnrollmentMaxAttempts: 5,

		BrowserIdentity: BrowserIdentity{Name: "wasession", Version: "1.0.0", OS: "linux"},
		ProtocolVersion: ProtocolVersion{Major: 6, Minor: 5, Patch: 0},

		MediaSizeLimits: DefaultMediaSizeLimits(),
	}
}

// New builds a validated Config from the defaults plus options.
func New(opts ...Option) (Config, error) {
	c := Default()
	for _, opt := range opts {
		opt(&c)
	}
	return c, c.Validate()
}

// Validate checks the configuration surface for caller mistakes, returning a
// CodeConfig error describing the first violation found.
func (c Config) Validate() error {
	switch {
	case c.EndpointURL == "":
		return waerr.New(waerr.CodeConfig, "endpoint_url must not be empty")
	case c.Origin == "":
		return waerr.New(waerr.CodeConfig, "origin must not be empty")
	case c.ReconnectFactor < 1:
		return waerr.New(waerr.CodeConfig, "reconnect factor must be >= 1")
	case c.ReconnectInitialDelay <= 0:
		return waerr.New(waerr.CodeConfig, "reconnect initial delay must be positive")
	case c.ReconnectMaxDelay < c.ReconnectInitialDelay:
		return waerr.New(waerr.CodeConfig, "reconnect max delay must be >= initial delay")
	case c.ConnectTimeout <= 0:
		return waerr.New(waerr.CodeConfig, "connect timeout must be positive")
	case c.HandshakeTimeout <= 0:
		return waerr.New(waerr.CodeConfig, "handshake timeout must be positive")
	case c.RequestDefaultTimeout <= 0:
		return waerr.New(waerr.CodeConfig, "request default timeout must be positive")
	case c.KeepAliveInterval <= 0:
		return waerr.New(waerr.CodeConfig, "keepalive interval must be positive")
	case c.KeepAliveGrace <= c.KeepAliveInterval:
		return waerr.New(waerr.CodeConfig, "keepalive grace must exceed the interval")
	case c.EnrollmentCodeTimeout <= 0:
		return waerr.New(waerr.CodeConfig, "enrollment code timeout must be positive")
	case c.EnrollmentMaxAttempts <= 0:
		return waerr.New(waerr.CodeConfig, "enrollment max attempts must be positive")
	}
	return nil
}
