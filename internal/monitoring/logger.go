package monitoring

import (
	"io"
	"log"

	"github.com/sirupsen/logrus"
)

// Logf is the package-level diagnostic logger used by the acquisition
// pipeline. It defaults to log.Printf but may be replaced by SetLogger or
// UseLogrus. Tests can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// NewLogger builds the logrus logger used by the command-line tools. Verbose
// enables debug level.
func NewLogger(w io.Writer, verbose bool) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(w)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05.000",
	})
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}
	return logger
}

// UseLogrus routes Logf through l at info level.
func UseLogrus(l *logrus.Logger) {
	if l == nil {
		SetLogger(nil)
		return
	}
	SetLogger(l.Infof)
}
