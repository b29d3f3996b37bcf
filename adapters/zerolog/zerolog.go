package zerologadapter

import (
	"github.com/jassus213/go-lockout/ratelimiter"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var _ ratelimiter.Logger = (*ZerologLogger)(nil)

// ZerologLogger implements ratelimiter.Logger using zerolog
type ZerologLogger struct {
	logger zerolog.Logger
}

// New creates a new ZerologLogger. If nil is passed, uses zerolog's global logger.
func New(l *zerolog.Logger) *ZerologLogger {
	if l == nil {
		l = &log.Logger
	}
	return &ZerologLogger{
		logger: l.With().Str("component", "lockout").Logger(),
	}
}

// Debugf logs a debug-level message
func (z *ZerologLogger) Debugf(format string, args ...interface{}) {
	z.logger.Debug().Msgf(format, args...)
}

// Infof logs an info-level message
func (z *ZerologLogger) Infof(format string, args ...interface{}) {
	z.logger.Info().Msgf(format, args...)
}

// Warnf logs a warning
func (z *ZerologLogger) Warnf(format string, args ...interface{}) {
	z.logger.Warn().Msgf(format, args...)
}

// Errorf logs an error-level message
func (z *ZerologLogger) Errorf(format string, args ...interface{}) {
	z.logger.Error().Msgf(format, args...)
}
