// Package logging provides the standard-library-backed implementation of
// application.Logger, grounded on
// infrastructure/logging/log_logger.go in the teacher repo.
package logging

import (
	"log"

	"hubcore/application"
)

// StdLogger implements application.Logger on top of the standard log
// package.
type StdLogger struct{}

// NewStdLogger returns a Logger that writes through log.Printf.
func NewStdLogger() application.Logger {
	return &StdLogger{}
}

func (l *StdLogger) Printf(format string, v ...any) {
	log.Printf(format, v...)
}
