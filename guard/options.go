package guard

import (
	"net/http"
	"time"

	"github.com/jassus213/go-lockout/ratelimiter"
)

// KeyFunc is a function type used to extract the principal from an incoming HTTP request.
// The returned string is the caller address or the authenticated user id the limiter tracks.
// An empty string means no identity could be resolved and yields an Unauthenticated decision.
type KeyFunc func(r *http.Request) (string, error)

// ErrorHandler is a function type that defines how to respond to a client when
// a request is rejected, either because it is limited or because it has no identity.
// This gives the user full control over the status code, headers, and body of the response.
type ErrorHandler func(w http.ResponseWriter, r *http.Request, err error, d Decision)

// Config holds all configurable parameters for the guards and middleware.
// Users interact with it via functional options.
type Config struct {
	KeyFunc      KeyFunc
	ErrorHandler ErrorHandler
	Logger       ratelimiter.Logger
	Metrics      *Metrics
	Now          func() time.Time
}

// Option is a function type that applies a configuration setting to a Config struct.
type Option func(*Config)

// NewConfig creates a Config instance with default settings and then applies
// any provided functional options.
//
// Defaults: the caller address identifies the request, rejections are written as JSON by
// WriteRejection, nothing is logged and no metrics are recorded.
func NewConfig(opts ...Option) *Config {
	cfg := &Config{
		KeyFunc:      AddressKey,
		ErrorHandler: WriteRejection,
		Logger:       ratelimiter.NopLogger(),
		Now:          time.Now,
	}

	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// WithKeyFunc returns an Option that sets a custom function for client identification.
func WithKeyFunc(f KeyFunc) Option {
	return func(c *Config) {
		if f != nil {
			c.KeyFunc = f
		}
	}
}

// WithErrorHandler returns an Option that sets a custom handler for rejected requests.
func WithErrorHandler(f ErrorHandler) Option {
	return func(c *Config) {
		if f != nil {
			c.ErrorHandler = f
		}
	}
}

// WithLogger returns an Option that sets a custom logger.
func WithLogger(l ratelimiter.Logger) Option {
	return func(c *Config) {
		if l != nil {
			c.Logger = l
		}
	}
}

// WithMetrics returns an Option that records decisions and store failures.
func WithMetrics(m *Metrics) Option {
	return func(c *Config) {
		c.Metrics = m
	}
}

// WithClock returns an Option that replaces time.Now when computing the reset header.
func WithClock(now func() time.Time) Option {
	return func(c *Config) {
		if now != nil {
			c.Now = now
		}
	}
}
