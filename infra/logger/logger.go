// Package logger provides the zerolog-backed implementation of the core
// logging interface. Callers obtain component loggers through New.
package logger

import corelogger "github.com/kilianp07/gridmarket/core/logger"

// Logger is the core logging interface.
type Logger = corelogger.Logger

// NopLogger discards everything; handy as a default in constructors.
type NopLogger = corelogger.NopLogger

// New returns a Logger scoped to the given component.
func New(component string) Logger {
	return NewZerologLogger(component)
}
