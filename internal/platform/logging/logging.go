package logging

import (
	"io"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
)

// New returns a JSON logger tagged with the service name. Level comes from
// LOG_LEVEL and falls back to info.
func New(service, level string) *log.Entry {
	return NewWithOutput(service, level, os.Stdout)
}

func NewWithOutput(service, level string, out io.Writer) *log.Entry {
	logger := log.New()
	logger.SetOutput(out)
	logger.SetFormatter(&log.JSONFormatter{})
	logger.SetLevel(ParseLevel(level))
	return logger.WithField("service", service)
}

func ParseLevel(level string) log.Level {
	parsed, err := log.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return log.InfoLevel
	}
	return parsed
}

// Discard is a logger for tests and optional collaborators.
func Discard() *log.Entry {
	logger := log.New()
	logger.SetOutput(io.Discard)
	return log.NewEntry(logger)
}
