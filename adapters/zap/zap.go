package zapadapter

import (
	"github.com/jassus213/go-lockout/ratelimiter"
	"go.uber.org/zap"
)

var _ ratelimiter.Logger = (*ZapLogger)(nil)

// ZapLogger is an adapter that implements the ratelimiter.Logger interface
// using a zap.SugaredLogger internally.
type ZapLogger struct {
	logger *zap.SugaredLogger
}

// New creates a new ZapLogger from a zap.Logger, named "lockout".
//
// If a nil logger is provided, it uses zap.NewNop() internally, which
// is a no-op logger that discards all messages.
//
// Example:
//
//	zapLogger := zapadapter.New(logger)
func New(l *zap.Logger) *ZapLogger {
	if l == nil {
		l = zap.NewNop()
	}
	return &ZapLogger{logger: l.Named("lockout").Sugar()}
}

// Debugf logs a debug-level message with formatting.
//
// Example:
//
//	zapLogger.Debugf("attempt %d/%d by %s", count, max, principal)
func (z *ZapLogger) Debugf(format string, args ...interface{}) {
	z.logger.Debugf(format, args...)
}

// Infof logs an info-level message with formatting.
func (z *ZapLogger) Infof(format string, args ...interface{}) {
	z.logger.Infof(format, args...)
}

// Warnf logs a warning with formatting. Guards use it for fail-open store errors.
func (z *ZapLogger) Warnf(format string, args ...interface{}) {
	z.logger.Warnf(format, args...)
}

// Errorf logs an error-level message with formatting.
//
// Example:
//
//	zapLogger.Errorf("Failed to extract key: %v", err)
func (z *ZapLogger) Errorf(format string, args ...interface{}) {
	z.logger.Errorf(format, args...)
}
