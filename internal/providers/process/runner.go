package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/GriffinCanCode/webterm/internal/infrastructure/logging"
	"github.com/GriffinCanCode/webterm/internal/infrastructure/monitoring"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

var (
	ErrNotFound    = errors.New("command not found")
	ErrBusy        = errors.New("a process is already running for this session")
	ErrNoProcess   = errors.New("no running process")
	ErrNoStdin     = errors.New("process does not accept input")
	ErrTimeout     = errors.New("process timed out")
	ErrInterrupted = errors.New("process interrupted")
)

// InterruptExitCode is reported for a process cancelled by an interrupt
const InterruptExitCode = 130

// Spec describes one subprocess invocation
type Spec struct {
	SessionID string
	Argv      []string
	Dir       string
	// Env entries are appended to the runner's base environment
	Env     []string
	Timeout time.Duration
	// Stdin keeps a pipe open so WriteInput can feed the process
	Stdin bool
}

// Result is the captured outcome of a finished process
type Result struct {
	Stdout      string
	Stderr      string
	ExitCode    int
	TimedOut    bool
	Interrupted bool
	Truncated   bool
	Duration    time.Duration
}

// Options configures a Runner
type Options struct {
	MaxOutputBytes int
	BaseEnv        []string
	Logger         *logging.Logger
	Metrics        *monitoring.Metrics
}

type handle struct {
	cancel  context.CancelCauseFunc
	stdin   io.WriteCloser
	stdinMu sync.Mutex
}

// Runner starts and tracks per-session subprocesses
type Runner struct {
	running   sync.Map // map[string]*handle
	maxOutput int
	baseEnv   []string
	logger    *logging.Logger
	metrics   *monitoring.Metrics
}

// NewRunner creates a runner
func NewRunner(opts Options) *Runner {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	baseEnv := opts.BaseEnv
	if baseEnv == nil {
		baseEnv = os.Environ()
	}
	return &Runner{
		maxOutput: opts.MaxOutputBytes,
		baseEnv:   baseEnv,
		logger:    logger.Named("process"),
		metrics:   opts.Metrics,
	}
}

// Run executes spec and waits for it. Expected failures (non-zero exit,
// timeout, interrupt) are reported in the Result; the error is reserved for
// processes that could not be started.
func (r *Runner) Run(ctx context.Context, spec Spec) (*Result, error) {
	if len(spec.Argv) == 0 {
		return nil, fmt.Errorf("empty argv")
	}

	path, err := exec.LookPath(spec.Argv[0])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", spec.Argv[0], ErrNotFound)
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	if spec.Timeout > 0 {
		var stop context.CancelFunc
		ctx, stop = context.WithTimeoutCause(ctx, spec.Timeout, ErrTimeout)
		defer stop()
	}

	cmd := exec.CommandContext(ctx, path, spec.Argv[1:]...)
	cmd.Dir = spec.Dir
	cmd.Env = append(append([]string{}, r.baseEnv...), spec.Env...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		// Negative pid targets the whole group
		return unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
	}
	cmd.WaitDelay = 2 * time.Second

	stdout := newBoundedBuffer(r.maxOutput)
	stderr := newBoundedBuffer(r.maxOutput)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	h := &handle{cancel: cancel}
	if spec.Stdin {
		h.stdin, err = cmd.StdinPipe()
		if err != nil {
			return nil, fmt.Errorf("stdin pipe: %w", err)
		}
	}

	if _, loaded := r.running.LoadOrStore(spec.SessionID, h); loaded {
		return nil, ErrBusy
	}
	defer r.running.CompareAndDelete(spec.SessionID, h)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", spec.Argv[0], err)
	}
	r.metrics.ProcessStarted()
	defer r.metrics.ProcessExited()

	log := r.logger.With(zap.String("session_id", spec.SessionID), zap.Int("pid", cmd.Process.Pid))
	log.Debug("process started", zap.Strings("argv", spec.Argv))

	waitErr := cmd.Wait()

	result := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	if dropped := stdout.Dropped() + stderr.Dropped(); dropped > 0 {
		result.Truncated = true
		result.Stderr += fmt.Sprintf("\n[output truncated: %d bytes dropped]\n", dropped)
	}

	cause := context.Cause(ctx)
	switch {
	case waitErr != nil && errors.Is(cause, ErrTimeout):
		result.TimedOut = true
		result.ExitCode = 1
		result.Stderr = TimeoutMessage(spec.Timeout)
		r.metrics.RecordTimeout()
		log.Warn("process timed out", zap.Duration("timeout", spec.Timeout))
	case waitErr != nil && cause != nil:
		result.Interrupted = true
		result.ExitCode = InterruptExitCode
		result.Stderr += "^C"
		log.Info("process interrupted", zap.Error(cause))
	default:
		result.ExitCode = exitCode(waitErr)
	}

	log.Debug("process exited",
		zap.Int("exit_code", result.ExitCode),
		zap.Duration("duration", result.Duration))
	return result, nil
}

// TimeoutMessage is the stderr text reported for a timed out command
func TimeoutMessage(timeout time.Duration) string {
	return "Command timed out after " + strconv.FormatFloat(timeout.Seconds(), 'f', -1, 64) + "s"
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return 1
	}
	if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		return 128 + int(status.Signal())
	}
	return exitErr.ExitCode()
}

// Running reports whether a process is live for the session
func (r *Runner) Running(sessionID string) bool {
	_, ok := r.running.Load(sessionID)
	return ok
}

// Interrupt cancels the session's running process. It reports false when
// nothing was running.
func (r *Runner) Interrupt(sessionID string) bool {
	value, ok := r.running.Load(sessionID)
	if !ok {
		return false
	}
	value.(*handle).cancel(ErrInterrupted)
	return true
}

// WriteInput sends one line to the running process's stdin
func (r *Runner) WriteInput(sessionID, input string) error {
	value, ok := r.running.Load(sessionID)
	if !ok {
		return ErrNoProcess
	}
	h := value.(*handle)
	if h.stdin == nil {
		return ErrNoStdin
	}
	if !strings.HasSuffix(input, "\n") {
		input += "\n"
	}

	h.stdinMu.Lock()
	defer h.stdinMu.Unlock()
	if _, err := io.WriteString(h.stdin, input); err != nil {
		return fmt.Errorf("write stdin: %w", err)
	}
	return nil
}

// InterruptAll cancels every running process. Used on shutdown.
func (r *Runner) InterruptAll() int {
	n := 0
	r.running.Range(func(_, value any) bool {
		value.(*handle).cancel(ErrInterrupted)
		n++
		return true
	})
	return n
}
