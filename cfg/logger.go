package cfg

import (
	"os"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// NewLogger returns a logrus entry writing to stderr at the given level.
// Every entry carries the application name and an id unique to this run.
// An unknown level falls back to info with a warning.
func NewLogger(app, level string) *logrus.Entry {
	logger := logrus.New()
	logger.Out = os.Stderr
	logger.Formatter = &logrus.TextFormatter{
		FullTimestamp:          true,
		DisableLevelTruncation: true,
	}

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)

	log := logger.WithFields(logrus.Fields{
		"app": app,
		"run": uuid.NewString(),
	})
	if err != nil {
		log.Warnf("Unknown log level %q; using %s", level, lvl)
	}
	return log
}
