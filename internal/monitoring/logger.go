// Package monitoring carries the process-wide diagnostic logger used by the
// compile pipeline. Stages log through Logf with a bracketed subsystem tag,
// e.g. monitoring.Logf("[planner] %d segments", n), so tests can mute or
// capture output without threading a logger through every constructor.
package monitoring

import "log"

// Logf is the package-level diagnostic logger. It defaults to log.Printf and
// may be replaced with SetLogger.
var Logf func(format string, v ...interface{}) = log.Printf

// Debugf logs only when verbose mode is enabled. The CLI switches it on with
// --verbose; everything else treats it as free.
var Debugf func(format string, v ...interface{}) = func(string, ...interface{}) {}

// SetLogger replaces the package logger. Passing nil installs a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// SetVerbose routes Debugf to the current Logf when on is true, and back to a
// no-op when false.
func SetVerbose(on bool) {
	if on {
		Debugf = func(format string, v ...interface{}) { Logf(format, v...) }
		return
	}
	Debugf = func(string, ...interface{}) {}
}
