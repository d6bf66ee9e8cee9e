package logging

import (
	"github.com/sirupsen/logrus"

	"draftdesk/pkg/config"
)

// Logger represents a logger instance
type Logger = *logrus.Logger

// Fields represents structured logging fields
type Fields = logrus.Fields

// Entry is a logger with fields attached.
type Entry = *logrus.Entry

// NewLogger creates a JSON logger at the level named by LOG_LEVEL.
func NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(config.GetLogLevel())
	return logger
}

// NewLoggerWithComponent returns a logger that stamps every entry with a component field.
func NewLoggerWithComponent(component string) *logrus.Logger {
	logger := NewLogger()
	logger.AddHook(componentHook{component: component})
	return logger
}

type componentHook struct {
	component string
}

func (h componentHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h componentHook) Fire(e *logrus.Entry) error {
	if _, ok := e.Data["component"]; !ok {
		e.Data["component"] = h.component
	}
	return nil
}
