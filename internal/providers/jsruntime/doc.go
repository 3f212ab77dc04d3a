// Package jsruntime runs JavaScript for the terminal's node/js verbs inside
// an embedded goja VM instead of a host interpreter.
//
// Each Run gets a fresh VM. Host access is removed (require, module,
// exports), timers are inert, and console output is captured: log/info/debug
// go to stdout, warn/error to stderr. process.argv and process.exit are
// provided so small scripts behave as they would under node.
//
// Execution stops on timeout or context cancellation through
// goja.Runtime.Interrupt, which is safe to call from another goroutine.
package jsruntime
