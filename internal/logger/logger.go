// Package logger contains a logger implementation.
package logger

import (
	"io"
	"os"
	"sync"
	"time"
)

// Logger is a log handler.
type Logger struct {
	Level        Level
	Destinations []Destination
	Structured   bool
	File         string

	timeNow func() time.Time
	stdout  io.Writer

	destinations []destination
	mutex        sync.Mutex
}

// Initialize initializes Logger.
func (lh *Logger) Initialize() error {
	if lh.Level == 0 {
		lh.Level = Info
	}
	if lh.timeNow == nil {
		lh.timeNow = time.Now
	}
	if lh.stdout == nil {
		lh.stdout = os.Stdout
	}

	for _, destType := range lh.Destinations {
		switch destType {
		case DestinationStdout:
			lh.destinations = append(lh.destinations, newDestionationStdout(lh.Structured, lh.stdout))

		case DestinationFile:
			dest, err := newDestinationFile(lh.Structured, lh.File)
			if err != nil {
				lh.Close()
				return err
			}
			lh.destinations = append(lh.destinations, dest)

		case DestinationSyslog:
			dest, err := newDestinationSyslog(lh.Structured)
			if err != nil {
				lh.Close()
				return err
			}
			lh.destinations = append(lh.destinations, dest)
		}
	}

	return nil
}

// Close closes a log handler.
func (lh *Logger) Close() {
	for _, dest := range lh.destinations {
		dest.close()
	}
	lh.destinations = nil
}

// Log writes a log entry.
func (lh *Logger) Log(level Level, format string, args ...any) {
	if level < lh.Level {
		return
	}

	lh.mutex.Lock()
	defer lh.mutex.Unlock()

	t := lh.timeNow()

	for _, dest := range lh.destinations {
		dest.log(t, level, format, args...)
	}
}
