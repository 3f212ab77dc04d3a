package jsruntime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
)

var (
	ErrTimeout     = errors.New("execution timeout exceeded")
	ErrInterrupted = errors.New("execution interrupted")
)

// Config defines sandbox limits
type Config struct {
	Timeout        time.Duration // Execution timeout
	MaxCallStack   int           // goja call stack limit
	MaxOutputBytes int           // Per-stream capture limit
}

// DefaultConfig returns the limits used when none are configured
func DefaultConfig() Config {
	return Config{
		Timeout:        5 * time.Second,
		MaxCallStack:   1024,
		MaxOutputBytes: 1 << 20,
	}
}

// Script is one program to evaluate
type Script struct {
	Name   string // shown in stack traces and process.argv[1]
	Source string
	Args   []string
	// PrintValue echoes the completion value, like node -p
	PrintValue bool
}

// Result holds the captured outcome
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	TimedOut bool
	Duration time.Duration
}

type exitRequest struct {
	code int
}

// Engine evaluates scripts
type Engine struct {
	config Config
}

// New creates an engine, filling unset limits from DefaultConfig
func New(config Config) *Engine {
	defaults := DefaultConfig()
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.MaxCallStack <= 0 {
		config.MaxCallStack = defaults.MaxCallStack
	}
	if config.MaxOutputBytes <= 0 {
		config.MaxOutputBytes = defaults.MaxOutputBytes
	}
	return &Engine{config: config}
}

// Timeout returns the configured execution limit
func (e *Engine) Timeout() time.Duration {
	return e.config.Timeout
}

// Run evaluates script. Script errors are reported in the Result; the
// error return is only for failures of the engine itself.
func (e *Engine) Run(ctx context.Context, script Script) (*Result, error) {
	vm := goja.New()
	vm.SetMaxCallStackSize(e.config.MaxCallStack)

	out := &capture{limit: e.config.MaxOutputBytes}
	errOut := &capture{limit: e.config.MaxOutputBytes}
	if err := e.setupGlobals(vm, script, out, errOut); err != nil {
		return nil, err
	}

	start := time.Now()
	timer := time.AfterFunc(e.config.Timeout, func() {
		vm.Interrupt(ErrTimeout)
	})
	defer timer.Stop()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			vm.Interrupt(ErrInterrupted)
		case <-done:
		}
	}()

	name := script.Name
	if name == "" {
		name = "[eval]"
	}

	result := &Result{}
	val, err := vm.RunScript(name, script.Source)
	result.Duration = time.Since(start)

	switch {
	case err == nil:
		if script.PrintValue && val != nil && !goja.IsUndefined(val) {
			out.WriteString(format(vm, val) + "\n")
		}
	default:
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			switch v := interrupted.Value().(type) {
			case exitRequest:
				result.ExitCode = v.code
			case error:
				if errors.Is(v, ErrTimeout) {
					result.TimedOut = true
				}
				result.ExitCode = 1
				errOut.WriteString(v.Error() + "\n")
			default:
				result.ExitCode = 1
				errOut.WriteString(fmt.Sprint(v) + "\n")
			}
			break
		}
		result.ExitCode = 1
		errOut.WriteString(errorText(err) + "\n")
	}

	result.Stdout = out.String()
	result.Stderr = errOut.String()
	return result, nil
}

func errorText(err error) string {
	var exception *goja.Exception
	if errors.As(err, &exception) {
		return strings.TrimSpace(exception.String())
	}
	return err.Error()
}

// setupGlobals configures global objects and strips host access
func (e *Engine) setupGlobals(vm *goja.Runtime, script Script, out, errOut *capture) error {
	for _, name := range []string{"require", "module", "exports"} {
		if err := vm.Set(name, goja.Undefined()); err != nil {
			return err
		}
	}

	console := vm.NewObject()
	for level, sink := range map[string]*capture{
		"log":   out,
		"info":  out,
		"debug": out,
		"warn":  errOut,
		"error": errOut,
	} {
		if err := console.Set(level, makeConsoleFunc(vm, sink)); err != nil {
			return err
		}
	}
	if err := vm.Set("console", console); err != nil {
		return err
	}

	argv := append([]string{"node", script.Name}, script.Args...)
	process := vm.NewObject()
	if err := process.Set("argv", argv); err != nil {
		return err
	}
	if err := process.Set("env", vm.NewObject()); err != nil {
		return err
	}
	if err := process.Set("exit", func(call goja.FunctionCall) goja.Value {
		code := 0
		if len(call.Arguments) > 0 {
			code = int(call.Arguments[0].ToInteger())
		}
		vm.Interrupt(exitRequest{code: code})
		return goja.Undefined()
	}); err != nil {
		return err
	}
	if err := vm.Set("process", process); err != nil {
		return err
	}

	// Timers are inert; there is no event loop after the script returns
	noop := func(goja.FunctionCall) goja.Value { return goja.Undefined() }
	for _, name := range []string{"setTimeout", "setInterval", "clearTimeout", "clearInterval"} {
		if err := vm.Set(name, noop); err != nil {
			return err
		}
	}
	return nil
}

func makeConsoleFunc(vm *goja.Runtime, sink *capture) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = format(vm, arg)
		}
		sink.WriteString(strings.Join(parts, " ") + "\n")
		return goja.Undefined()
	}
}

// format renders a value roughly the way node's console does: strings raw,
// plain objects and arrays as JSON.
func format(vm *goja.Runtime, v goja.Value) string {
	if v == nil || goja.IsUndefined(v) {
		return "undefined"
	}
	if goja.IsNull(v) {
		return "null"
	}
	obj, ok := v.(*goja.Object)
	if !ok {
		return v.String()
	}
	if _, isFunc := goja.AssertFunction(obj); isFunc {
		return "[Function]"
	}
	if obj.ClassName() == "Error" {
		return obj.String()
	}

	stringify, ok := goja.AssertFunction(vm.Get("JSON").ToObject(vm).Get("stringify"))
	if !ok {
		return v.String()
	}
	res, err := stringify(goja.Undefined(), v)
	if err != nil || goja.IsUndefined(res) {
		return v.String()
	}
	return res.String()
}

// capture collects console output up to a limit
type capture struct {
	mu        sync.Mutex
	b         strings.Builder
	limit     int
	truncated bool
}

func (c *capture) WriteString(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.truncated {
		return
	}
	if room := c.limit - c.b.Len(); len(s) > room {
		c.b.WriteString(s[:max(room, 0)])
		c.b.WriteString("\n[output truncated]\n")
		c.truncated = true
		return
	}
	c.b.WriteString(s)
}

func (c *capture) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.b.String()
}
