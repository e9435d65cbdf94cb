// Package debug provides global debug logging flags
package debug

import "fmt"

// Enabled controls whether debug logging is active
var Enabled bool

// Ticks controls whether per-tick pipeline traces are printed (quad, focus, motion).
// Use --debug-ticks to enable; this is very verbose at 5 ticks per second.
var Ticks bool

// Log prints a message only if debug mode is enabled
func Log(format string, args ...interface{}) {
	if Enabled {
		fmt.Printf(format, args...)
	}
}

// TickLog prints a message only if tick tracing is enabled
func TickLog(format string, args ...interface{}) {
	if Ticks {
		fmt.Printf(format, args...)
	}
}
