package stdlogadapter

import (
	"log"

	"github.com/jassus213/go-lockout/ratelimiter"
)

var _ ratelimiter.Logger = (*StdLogger)(nil)

// StdLogger implements ratelimiter.Logger using Go standard library log.
// Debug output is dropped unless enabled with WithDebug.
type StdLogger struct {
	logger *log.Logger
	debug  bool
}

// New creates a new StdLogger. If nil is passed, uses the default logger.
func New(l *log.Logger) *StdLogger {
	if l == nil {
		l = log.Default()
	}
	return &StdLogger{
		logger: l,
	}
}

// WithDebug returns a copy of the logger that also prints debug messages.
func (s *StdLogger) WithDebug(enabled bool) *StdLogger {
	return &StdLogger{logger: s.logger, debug: enabled}
}

// Debugf logs a debug-level message
func (s *StdLogger) Debugf(format string, args ...interface{}) {
	if s.debug {
		s.logger.Printf("[DEBUG] "+format, args...)
	}
}

// Infof logs an info-level message
func (s *StdLogger) Infof(format string, args ...interface{}) {
	s.logger.Printf("[INFO] "+format, args...)
}

// Warnf logs a warning
func (s *StdLogger) Warnf(format string, args ...interface{}) {
	s.logger.Printf("[WARN] "+format, args...)
}

// Errorf logs an error-level message
func (s *StdLogger) Errorf(format string, args ...interface{}) {
	s.logger.Printf("[ERROR] "+format, args...)
}
