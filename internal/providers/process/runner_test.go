package process

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sh(script string) []string {
	return []string{"/bin/sh", "-c", script}
}

func TestRunCapturesOutputAndExitCode(t *testing.T) {
	runner := NewRunner(Options{})

	result, err := runner.Run(context.Background(), Spec{
		SessionID: "s1",
		Argv:      sh("echo out; echo err >&2; exit 3"),
		Timeout:   5 * time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, "out\n", result.Stdout)
	assert.Equal(t, "err\n", result.Stderr)
	assert.Equal(t, 3, result.ExitCode)
	assert.False(t, result.TimedOut)
	assert.False(t, runner.Running("s1"))
}

func TestRunUsesDirAndEnv(t *testing.T) {
	dir := t.TempDir()
	runner := NewRunner(Options{BaseEnv: []string{"PATH=" + os.Getenv("PATH")}})

	result, err := runner.Run(context.Background(), Spec{
		SessionID: "s1",
		Argv:      sh(`pwd; echo "$COLUMNS"`),
		Dir:       dir,
		Env:       []string{"COLUMNS=132"},
	})
	require.NoError(t, err)

	resolved, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(result.Stdout), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, []string{dir, resolved}, lines[0])
	assert.Equal(t, "132", lines[1])
}

func TestRunCommandNotFound(t *testing.T) {
	runner := NewRunner(Options{})

	_, err := runner.Run(context.Background(), Spec{
		SessionID: "s1",
		Argv:      []string{"definitely-not-a-command-webterm"},
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

// alive reports whether pid is a live, non-zombie process
func alive(pid int) bool {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return false
	}
	// state follows the parenthesised command name
	stat := string(data)
	i := strings.LastIndexByte(stat, ')')
	return i < 0 || i+2 >= len(stat) || stat[i+2] != 'Z'
}

func TestRunTimeoutKillsProcessGroup(t *testing.T) {
	if _, err := os.Stat("/proc/self/stat"); err != nil {
		t.Skip("requires /proc")
	}

	pidFile := filepath.Join(t.TempDir(), "child.pid")
	runner := NewRunner(Options{})

	start := time.Now()
	result, err := runner.Run(context.Background(), Spec{
		SessionID: "s1",
		Argv:      sh("sleep 30 & echo $! > " + pidFile + "; wait"),
		Timeout:   300 * time.Millisecond,
	})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 10*time.Second)

	assert.True(t, result.TimedOut)
	assert.Equal(t, 1, result.ExitCode)
	assert.Equal(t, "Command timed out after 0.3s", result.Stderr)

	data, err := os.ReadFile(pidFile)
	require.NoError(t, err)
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return !alive(pid) }, 3*time.Second, 20*time.Millisecond,
		"background child must not outlive the timeout")
}

func TestTimeoutMessage(t *testing.T) {
	assert.Equal(t, "Command timed out after 30s", TimeoutMessage(30*time.Second))
	assert.Equal(t, "Command timed out after 1.5s", TimeoutMessage(1500*time.Millisecond))
}

func TestInterrupt(t *testing.T) {
	runner := NewRunner(Options{})
	assert.False(t, runner.Interrupt("s1"))

	done := make(chan *Result, 1)
	go func() {
		result, err := runner.Run(context.Background(), Spec{
			SessionID: "s1",
			Argv:      sh("sleep 30"),
			Timeout:   time.Minute,
		})
		assert.NoError(t, err)
		done <- result
	}()

	require.Eventually(t, func() bool { return runner.Running("s1") }, 2*time.Second, 10*time.Millisecond)
	// Give the child a moment to exec before signalling the group
	time.Sleep(50 * time.Millisecond)
	assert.True(t, runner.Interrupt("s1"))

	select {
	case result := <-done:
		assert.True(t, result.Interrupted)
		assert.Equal(t, InterruptExitCode, result.ExitCode)
		assert.True(t, strings.HasSuffix(result.Stderr, "^C"))
	case <-time.After(5 * time.Second):
		t.Fatal("interrupt did not stop the process")
	}
}

func TestWriteInput(t *testing.T) {
	runner := NewRunner(Options{})
	assert.ErrorIs(t, runner.WriteInput("s1", "x"), ErrNoProcess)

	done := make(chan *Result, 1)
	go func() {
		result, err := runner.Run(context.Background(), Spec{
			SessionID: "s1",
			Argv:      sh(`read line; echo "got:$line"`),
			Timeout:   5 * time.Second,
			Stdin:     true,
		})
		assert.NoError(t, err)
		done <- result
	}()

	require.Eventually(t, func() bool { return runner.Running("s1") }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, runner.WriteInput("s1", "hello"))

	select {
	case result := <-done:
		assert.Equal(t, "got:hello\n", result.Stdout)
		assert.Equal(t, 0, result.ExitCode)
	case <-time.After(5 * time.Second):
		t.Fatal("process never consumed its input")
	}
}

func TestWriteInputWithoutStdin(t *testing.T) {
	runner := NewRunner(Options{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = runner.Run(context.Background(), Spec{SessionID: "s1", Argv: sh("sleep 30"), Timeout: time.Minute})
	}()

	require.Eventually(t, func() bool { return runner.Running("s1") }, 2*time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, runner.WriteInput("s1", "x"), ErrNoStdin)
	runner.InterruptAll()
	wg.Wait()
}

func TestOneProcessPerSession(t *testing.T) {
	runner := NewRunner(Options{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = runner.Run(context.Background(), Spec{SessionID: "s1", Argv: sh("sleep 30"), Timeout: time.Minute})
	}()
	require.Eventually(t, func() bool { return runner.Running("s1") }, 2*time.Second, 10*time.Millisecond)

	_, err := runner.Run(context.Background(), Spec{SessionID: "s1", Argv: sh("true")})
	assert.ErrorIs(t, err, ErrBusy)

	result, err := runner.Run(context.Background(), Spec{SessionID: "s2", Argv: sh("echo other")})
	require.NoError(t, err)
	assert.Equal(t, "other\n", result.Stdout)

	assert.Equal(t, 1, runner.InterruptAll())
	wg.Wait()
}

func TestOutputIsBounded(t *testing.T) {
	runner := NewRunner(Options{MaxOutputBytes: 10})

	result, err := runner.Run(context.Background(), Spec{
		SessionID: "s1",
		Argv:      sh("printf 0123456789ABCDEF"),
	})
	require.NoError(t, err)
	assert.Equal(t, "0123456789", result.Stdout)
	assert.True(t, result.Truncated)
	assert.Contains(t, result.Stderr, "6 bytes dropped")
}
