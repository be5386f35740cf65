package common

import (
	"fmt"
	"os"
	"strings"

	"github.com/lni/dragonboat/v4/logger"
	"github.com/sirupsen/logrus"
)

// --------------------------------------------------------------------------
// Custom Logger (implements dragonboats logger.ILogger)
// --------------------------------------------------------------------------

// entryLogger implements the ILogger interface on top of a logrus entry that
// carries the package name as a field
type entryLogger struct {
	entry *logrus.Entry
}

func (l *entryLogger) SetLevel(level logger.LogLevel) {
	l.entry.Logger.SetLevel(toLogrusLevel(level))
}

func (l *entryLogger) Debugf(format string, args ...interface{}) {
	l.entry.Debugf(format, args...)
}

func (l *entryLogger) Infof(format string, args ...interface{}) {
	l.entry.Infof(format, args...)
}

func (l *entryLogger) Warningf(format string, args ...interface{}) {
	l.entry.Warnf(format, args...)
}

func (l *entryLogger) Errorf(format string, args ...interface{}) {
	l.entry.Errorf(format, args...)
}

func (l *entryLogger) Panicf(format string, args ...interface{}) {
	l.entry.Panicf(format, args...)
}

// --------------------------------------------------------------------------
// Logger Factory
// --------------------------------------------------------------------------

// CreateLogger creates a logger for the given package. Every package gets
// its own logrus instance so levels can be set per package.
func CreateLogger(pkgName string) logger.ILogger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetFormatter(&logrus.TextFormatter{
		DisableColors:   true,
		FullTimestamp:   true,
		TimestampFormat: "2006/01/02 15:04:05",
	})
	l.SetLevel(logrus.InfoLevel)

	return &entryLogger{
		entry: l.WithField("pkg", pkgName),
	}
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func toLogrusLevel(level logger.LogLevel) logrus.Level {
	switch level {
	case logger.DEBUG:
		return logrus.DebugLevel
	case logger.INFO:
		return logrus.InfoLevel
	case logger.WARNING:
		return logrus.WarnLevel
	case logger.ERROR:
		return logrus.ErrorLevel
	default:
		return logrus.PanicLevel
	}
}

// ParseLogLevel converts a string level to logger.LogLevel
func ParseLogLevel(level string) (logger.LogLevel, error) {
	switch strings.ToLower(level) {
	case "debug":
		return logger.DEBUG, nil
	case "info":
		return logger.INFO, nil
	case "warning", "warn":
		return logger.WARNING, nil
	case "error":
		return logger.ERROR, nil
	default:
		return logger.INFO, fmt.Errorf("invalid log level: %s. must be one of debug, info, warn, error", level)
	}
}

// --------------------------------------------------------------------------
// Logger initialization
// --------------------------------------------------------------------------

// loggedPackages lists every package that logs through dragonboats registry
var loggedPackages = []string{
	"evictor",
	"env",
	"wal",
	"rpc",
	"transport",
	"transport/rpc",
	"cli",
}

// InitLoggers installs the logrus factory and sets the level of all loggers
func InitLoggers(level string) error {
	lvl, err := ParseLogLevel(level)
	if err != nil {
		return err
	}

	logger.SetLoggerFactory(CreateLogger)
	for _, pkg := range loggedPackages {
		logger.GetLogger(pkg).SetLevel(lvl)
	}
	return nil
}
