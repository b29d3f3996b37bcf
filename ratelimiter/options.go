package ratelimiter

import (
	"errors"
	"time"
)

// Logger is the interface used for logging inside the limiters and guards.
//
// Implement this interface to provide your own logging backend, or use one of the
// adapters under adapters/ (standard log, zap, zerolog, logrus).
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

var (
	// ErrRateLimitExceeded reports that the principal is blocked or out of quota.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrAuthenticationRequired reports that no identity could be resolved for the request.
	ErrAuthenticationRequired = errors.New("authentication required")

	// ErrStoreUnavailable wraps every failure of the underlying Store.
	//
	// Guards use errors.Is(err, ErrStoreUnavailable) to fail open.
	ErrStoreUnavailable = errors.New("attempt store unavailable")

	// ErrInvalidPolicy is returned for policies that cannot drive a limiter.
	ErrInvalidPolicy = errors.New("invalid policy")
)

type settings struct {
	now      func() time.Time
	calendar Calendar
	logger   Logger
}

// Option configures a limiter.
//
// Example:
//
//	limiter, err := ratelimiter.NewPrincipalLimiter(store, ratelimiter.ReviewPolicy,
//	    ratelimiter.WithLogger(logger),
//	    ratelimiter.WithCalendar(cal),
//	)
type Option func(*settings)

func newSettings(opts []Option) settings {
	s := settings{
		now:      time.Now,
		calendar: UTC,
		logger:   &noopLogger{},
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// WithClock replaces time.Now, mainly for tests that simulate block expiry or day rollover.
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		if now != nil {
			s.now = now
		}
	}
}

// WithCalendar sets the timezone used to align day buckets.
func WithCalendar(c Calendar) Option {
	return func(s *settings) {
		s.calendar = c
	}
}

// WithLogger sets the logger.
func WithLogger(l Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.logger = l
		}
	}
}

// NopLogger returns a Logger that discards everything.
func NopLogger() Logger {
	return &noopLogger{}
}

// noopLogger is a private default logger that does nothing.
type noopLogger struct{}

func (l *noopLogger) Debugf(format string, args ...interface{}) {}
func (l *noopLogger) Infof(format string, args ...interface{})  {}
func (l *noopLogger) Warnf(format string, args ...interface{})  {}
func (l *noopLogger) Errorf(format string, args ...interface{}) {}
