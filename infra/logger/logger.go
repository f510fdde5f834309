package logger

import corelogger "github.com/enermesh/telemetrix/core/logger"

// Logger mirrors the core logger interface.
type Logger = corelogger.Logger

// NopLogger implements Logger with no-op methods.
type NopLogger struct{}

func (NopLogger) Debugf(string, ...any)         {}
func (NopLogger) Debugw(string, map[string]any) {}
func (NopLogger) Infof(string, ...any)          {}
func (NopLogger) Warnf(string, ...any)          {}
func (NopLogger) Errorf(string, ...any)         {}

// New returns a Logger for the given pipeline component. LOG_LEVEL
// sets the minimum level and APP_ENV=dev selects console output.
func New(component string) Logger {
	return NewZerologLogger(component)
}
