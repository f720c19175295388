// Package logging builds the console logger dbucketfile.File falls
// back to when a caller opens a file without configuring one of their
// own.
package logging

import (
	"github.com/phuslu/log"
)

// NewDefaultLogger returns a debug-level logger that writes
// uncolored, single-line entries to its writer's default destination.
func NewDefaultLogger() log.Logger {
	return log.Logger{
		Level:  log.DebugLevel,
		Caller: 0,
		Writer: &log.ConsoleWriter{
			ColorOutput:    false,
			EndWithMessage: true,
		},
	}
}
