// Package monitoring holds the process-wide diagnostic logger.
//
// Logf is a plain package function so packages can log without carrying a
// logger around. By default it writes through a logrus logger that the CLI
// may reconfigure (level, output, rotation).
package monitoring

import (
	"io"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	mu       sync.RWMutex
	base     = newBaseLogger()
	sink     func(format string, v ...interface{}) // nil writes through base
	mutedOut io.Writer                             // output saved by SetLogger(nil)
)

func newBaseLogger() *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// Logf is the package-level diagnostic logger. It writes through the
// logrus base logger at info level unless SetLogger installed another sink.
func Logf(format string, v ...interface{}) {
	mu.RLock()
	f := sink
	mu.RUnlock()
	if f != nil {
		f(format, v...)
		return
	}
	Logger().Infof(format, v...)
}

// SetLogger replaces the Logf sink. Passing nil mutes Logf and the
// structured entries returned by WithFields until a later SetLogger(f)
// or Configure with an output restores them.
func SetLogger(f func(format string, v ...interface{})) {
	mu.Lock()
	defer mu.Unlock()
	if f == nil {
		sink = func(string, ...interface{}) {}
		if mutedOut == nil {
			mutedOut = base.Out
			base.SetOutput(io.Discard)
		}
		return
	}
	sink = f
	if mutedOut != nil {
		base.SetOutput(mutedOut)
		mutedOut = nil
	}
}

// Logger returns the shared logrus logger.
func Logger() *logrus.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

// Configure sets the level and output of the shared logger. An empty level
// leaves the current level untouched.
func Configure(level string, out io.Writer) error {
	mu.Lock()
	defer mu.Unlock()
	if level != "" {
		lvl, err := logrus.ParseLevel(level)
		if err != nil {
			return err
		}
		base.SetLevel(lvl)
	}
	if out != nil {
		base.SetOutput(out)
		mutedOut = nil
	}
	return nil
}

// WithFields returns a structured entry on the shared logger.
func WithFields(fields logrus.Fields) *logrus.Entry {
	return Logger().WithFields(fields)
}
