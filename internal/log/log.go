// Package log defines the minimal logging interface the daemon and client
// consume. Logging is an ambient concern carried through a narrow interface
// rather than the core depending on a concrete library directly.
package log

// Logger is the minimal surface the core uses for diagnostics. Callers may
// supply any implementation; NewLogrus returns one backed by logrus.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})

	// With returns a Logger that annotates every subsequent entry with the
	// given key/value pairs (e.g. session id, job number, handle serial).
	With(fields Fields) Logger
}

// Fields is a set of structured key/value pairs attached to a log entry.
type Fields map[string]interface{}

// nopLogger discards everything; useful in tests that don't care about logs.
type nopLogger struct{}

// Nop returns a Logger that discards all entries.
func Nop() Logger { return nopLogger{} }

func (nopLogger) Debugf(string, ...interface{}) {}
func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}
func (n nopLogger) With(Fields) Logger          { return n }
