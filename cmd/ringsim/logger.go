package main

import (
	"github.com/galdor/go-program"
)

// programLogger only prints protocol messages in verbose mode; errors are
// always printed.
type programLogger struct {
	p       *program.Program
	verbose bool
}

func (l *programLogger) Debug(level int, format string, args ...interface{}) {
	if l.verbose {
		l.p.Info(format, args...)
	}
}

func (l *programLogger) Info(format string, args ...interface{}) {
	if l.verbose {
		l.p.Info(format, args...)
	}
}

func (l *programLogger) Error(format string, args ...interface{}) {
	l.p.Error(format, args...)
}
