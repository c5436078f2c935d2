// Package logging configures the process-wide gopkg.in/op/go-logging.v1
// backend and hands out named loggers, one per subsystem, the way the
// gateway's commands wire up their own verbosity.
package logging

import (
	"os"
	"sync"

	logging "gopkg.in/op/go-logging.v1"
)

var format = logging.MustStringFormatter(
	`%{time:2006-01-02T15:04:05.000Z07:00} %{level:.4s} %{module}: %{message}`,
)

var once sync.Once

// Init configures the stderr backend at the given verbosity. Safe to call
// more than once; only the first call takes effect.
func Init(verbose bool) {
	once.Do(func() {
		backend := logging.NewLogBackend(os.Stderr, "", 0)
		formatted := logging.NewBackendFormatter(backend, format)
		leveled := logging.AddModuleLevel(formatted)
		if verbose {
			leveled.SetLevel(logging.DEBUG, "")
		} else {
			leveled.SetLevel(logging.INFO, "")
		}
		logging.SetBackend(leveled)
	})
}

// Get returns the named logger for a subsystem, e.g. "supervisor",
// "dispatcher", "backend.docker".
func Get(name string) *logging.Logger {
	return logging.MustGetLogger(name)
}
