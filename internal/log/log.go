// Package log configures the shared logrus logger.
package log

import (
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	mu     sync.Mutex
	logger *logrus.Logger
)

// Options control logger construction.
type Options struct {
	Level  string // trace..panic, default info
	Format string // text or json
}

// Init builds the process-wide logger. Safe to call more than once; the last
// call wins.
func Init(opts Options) *logrus.Logger {
	mu.Lock()
	defer mu.Unlock()

	l := logrus.New()
	l.SetOutput(os.Stdout)

	level, err := logrus.ParseLevel(opts.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	if opts.Format == "json" {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	logger = l
	return l
}

// L returns the shared logger, initializing a default one if needed.
func L() *logrus.Logger {
	mu.Lock()
	defer mu.Unlock()

	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(os.Stdout)
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger
}
