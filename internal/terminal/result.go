package terminal

import (
	"fmt"
	"time"
)

// Kind classifies a failed command
type Kind string

const (
	KindNone        Kind = ""
	KindValidation  Kind = "validation"
	KindNotFound    Kind = "not_found"
	KindPermission  Kind = "permission"
	KindTimeout     Kind = "timeout"
	KindUnavailable Kind = "unavailable"
	KindInterrupted Kind = "interrupted"
	KindUsage       Kind = "usage"
	KindFailed      Kind = "failed"
)

// ClearSentinel is the stdout clients treat as a screen clear
const ClearSentinel = "__CLEAR__"

// Request is one command line submitted for a session
type Request struct {
	SessionID string
	UserID    string
	// Actor is recorded as updated_by/deleted_by in notifications
	Actor   string
	Command string
	Timeout time.Duration
	// WorkingDirectory, when set, is applied like a cd before the command
	WorkingDirectory string
}

// Result is the structured outcome of a command. Failures are reported
// through ExitCode and Kind, never as Go errors.
type Result struct {
	Stdout           string        `json:"stdout"`
	Stderr           string        `json:"stderr"`
	ExitCode         int           `json:"return_code"`
	WorkingDirectory string        `json:"working_directory,omitempty"`
	ExecutionTime    time.Duration `json:"-"`
	Kind             Kind          `json:"kind,omitempty"`
}

// OK reports whether the command succeeded
func (r *Result) OK() bool {
	return r.ExitCode == 0
}

// status is the metrics label for the result
func (r *Result) status() string {
	switch {
	case r.ExitCode == 0:
		return "ok"
	case r.Kind != KindNone:
		return string(r.Kind)
	default:
		return string(KindFailed)
	}
}

func output(stdout string) *Result {
	return &Result{Stdout: stdout}
}

func failure(kind Kind, exitCode int, format string, args ...any) *Result {
	return &Result{
		Stderr:   fmt.Sprintf(format, args...),
		ExitCode: exitCode,
		Kind:     kind,
	}
}

func usage(format string, args ...any) *Result {
	return failure(KindUsage, 1, format, args...)
}

func notFound(format string, args ...any) *Result {
	return failure(KindNotFound, 1, format, args...)
}

func unavailable(verb string) *Result {
	return failure(KindUnavailable, 1, "%s: service not available", verb)
}
