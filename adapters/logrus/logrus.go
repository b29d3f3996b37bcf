package logrusadapter

import (
	"github.com/jassus213/go-lockout/ratelimiter"
	"github.com/sirupsen/logrus"
)

var _ ratelimiter.Logger = (*LogrusLogger)(nil)

// LogrusLogger implements ratelimiter.Logger using logrus.
// Every entry carries a "component" field so lockout messages can be filtered.
type LogrusLogger struct {
	logger *logrus.Entry
}

// New creates a new LogrusLogger. If nil is passed, uses a fresh logrus logger.
func New(l *logrus.Logger) *LogrusLogger {
	if l == nil {
		l = logrus.New()
	}
	return &LogrusLogger{
		logger: l.WithField("component", "lockout"),
	}
}

// Debugf logs a debug-level message
func (l *LogrusLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debugf(format, args...)
}

// Infof logs an info-level message
func (l *LogrusLogger) Infof(format string, args ...interface{}) {
	l.logger.Infof(format, args...)
}

// Warnf logs a warning
func (l *LogrusLogger) Warnf(format string, args ...interface{}) {
	l.logger.Warnf(format, args...)
}

// Errorf logs an error-level message
func (l *LogrusLogger) Errorf(format string, args ...interface{}) {
	l.logger.Errorf(format, args...)
}
