package terminal

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/GriffinCanCode/webterm/internal/domain/session"
	"github.com/GriffinCanCode/webterm/internal/domain/workspace"
	"github.com/GriffinCanCode/webterm/internal/providers/jsruntime"
	"github.com/GriffinCanCode/webterm/internal/providers/process"
	"github.com/GriffinCanCode/webterm/internal/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sid = "sess_test"

type event struct {
	kind string
	path string
}

type recorder struct {
	mu     sync.Mutex
	events []event
}

func (r *recorder) add(kind, p string) {
	r.mu.Lock()
	r.events = append(r.events, event{kind, p})
	r.mu.Unlock()
}

func (r *recorder) FileUpdated(_, _ string, f *vfs.File)  { r.add("updated", f.Path) }
func (r *recorder) FileDeleted(_, _, p string)            { r.add("deleted", p) }
func (r *recorder) FileRenamed(_, _, from, to string)     { r.add("renamed", from+"->"+to) }
func (r *recorder) FolderCreated(_, _, _, full, _ string) { r.add("folder", full) }
func (r *recorder) snapshot() []event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]event(nil), r.events...)
}

type fixture struct {
	router *Router
	store  *vfs.Store
	notes  *recorder
}

// newFixture wires a router over an in-memory store. pythonBin stands in
// for the interpreter; /bin/sh accepts "-u" so shell scripts work as
// "python" programs.
func newFixture(t *testing.T, pythonBin string) *fixture {
	t.Helper()
	store := vfs.NewStore(vfs.NewMemoryBackend(), nil, nil, nil)
	ws := workspace.NewManager(store, workspace.Options{Root: t.TempDir()})
	t.Cleanup(ws.CleanupAll)
	notes := &recorder{}

	router := NewRouter(Options{
		Sessions:  session.NewManager(session.Options{}),
		Store:     store,
		Workspace: ws,
		Runner:    process.NewRunner(process.Options{BaseEnv: []string{"PATH=" + os.Getenv("PATH")}}),
		JS:        jsruntime.New(jsruntime.Config{Timeout: 2 * time.Second}),
		Notifier:  notes,
		PythonBin: pythonBin,
		SyncBack:  true,
	})
	return &fixture{router: router, store: store, notes: notes}
}

func (f *fixture) run(t *testing.T, command string) *Result {
	t.Helper()
	res := f.router.Execute(context.Background(), Request{SessionID: sid, UserID: "alice", Command: command})
	require.NotNil(t, res)
	return res
}

func (f *fixture) write(t *testing.T, p, content string) {
	t.Helper()
	_, err := f.store.Write(context.Background(), sid, p, content, "")
	require.NoError(t, err)
}

// fakePython writes an executable that echoes its arguments
func fakePython(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "python")
	require.NoError(t, os.WriteFile(p, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return p
}

func TestCdUpNeverLeavesRoot(t *testing.T) {
	f := newFixture(t, "/bin/sh")

	for i := 0; i < 3; i++ {
		res := f.run(t, "cd ..")
		assert.Equal(t, 0, res.ExitCode)
		assert.Equal(t, "/", res.WorkingDirectory)
	}

	f.run(t, "mkdir a/b")
	res := f.run(t, "cd a/b")
	require.Equal(t, 0, res.ExitCode, res.Stderr)
	assert.Equal(t, "/a/b", res.WorkingDirectory)

	res = f.run(t, "cd ..")
	assert.Equal(t, "/a", res.WorkingDirectory)
	assert.NotContains(t, res.WorkingDirectory, "..")

	res = f.run(t, "cd ~")
	assert.Equal(t, "/", res.WorkingDirectory)
}

func TestCdErrors(t *testing.T) {
	f := newFixture(t, "/bin/sh")
	f.write(t, "/file.txt", "x")

	tests := []struct {
		command string
		stderr  string
		kind    Kind
	}{
		{"cd", "cd: missing directory", KindUsage},
		{"cd nowhere", "cd: nowhere: No such file or directory", KindNotFound},
		{"cd file.txt", "cd: file.txt: Not a directory", KindFailed},
	}
	for _, tt := range tests {
		res := f.run(t, tt.command)
		assert.Equal(t, 1, res.ExitCode, tt.command)
		assert.Equal(t, tt.stderr, res.Stderr)
		assert.Equal(t, tt.kind, res.Kind)
		assert.Equal(t, "/", res.WorkingDirectory)
	}
}

func TestMkdirListAndDelete(t *testing.T) {
	f := newFixture(t, "/bin/sh")
	ctx := context.Background()

	require.Equal(t, 0, f.run(t, "mkdir a/b").ExitCode)
	f.write(t, "/a/notes.txt", "n")
	f.write(t, "/a/b/deep.txt", "d")

	res := f.run(t, "ls a")
	assert.Equal(t, "b/\nnotes.txt\n", res.Stdout)

	res = f.run(t, "mkdir a")
	assert.Equal(t, 1, res.ExitCode)
	assert.Equal(t, "mkdir: cannot create directory 'a': File exists", res.Stderr)
	assert.Equal(t, 0, f.run(t, "mkdir -p a").ExitCode)

	res = f.run(t, "rm a")
	assert.Equal(t, 1, res.ExitCode)
	assert.Contains(t, res.Stderr, "Is a directory")

	require.Equal(t, 0, f.run(t, "rm -r a").ExitCode)
	left, err := f.store.Walk(ctx, sid, "/")
	require.NoError(t, err)
	for _, file := range left {
		assert.False(t, strings.HasPrefix(file.Path, "/a/"), file.Path)
	}
	assert.Contains(t, f.notes.snapshot(), event{"deleted", "/a"})
}

func TestLsFormatting(t *testing.T) {
	f := newFixture(t, "/bin/sh")

	assert.Equal(t, "\n", f.run(t, "ls").Stdout)

	f.run(t, "mkdir empty")
	assert.Equal(t, "\n", f.run(t, "ls empty").Stdout)

	f.write(t, "/.hidden", "h")
	f.write(t, "/main.py", "print(1)\n")
	assert.Equal(t, "empty/\nmain.py\n", f.run(t, "ls").Stdout)
	assert.Equal(t, "empty/\n.hidden\nmain.py\n", f.run(t, "ls -a").Stdout)
	assert.Equal(t, "main.py\n", f.run(t, "ls main.py").Stdout)

	res := f.run(t, "ls missing")
	assert.Equal(t, 1, res.ExitCode)
	assert.Equal(t, "ls: cannot access 'missing': No such file or directory", res.Stderr)

	long := f.run(t, "ls -l").Stdout
	assert.Contains(t, long, "drwxr-xr-x")
	assert.Contains(t, long, "main.py")
}

func TestEchoRedirectAndCat(t *testing.T) {
	f := newFixture(t, "/bin/sh")

	res := f.run(t, `echo "hi" > f.txt`)
	assert.Equal(t, 0, res.ExitCode)
	assert.Empty(t, res.Stdout)
	assert.Equal(t, "hi\n", f.run(t, "cat f.txt").Stdout)

	f.run(t, "echo again >> f.txt")
	assert.Equal(t, "hi\nagain\n", f.run(t, "cat f.txt").Stdout)

	assert.Equal(t, "plain words\n", f.run(t, "echo plain words").Stdout)
	assert.Contains(t, f.notes.snapshot(), event{"updated", "/f.txt"})

	res = f.run(t, "cat nope.txt")
	assert.Equal(t, 1, res.ExitCode)
	assert.Equal(t, "cat: nope.txt: No such file or directory", res.Stderr)
}

func TestSortUniqPipeline(t *testing.T) {
	f := newFixture(t, "/bin/sh")
	f.write(t, "/fruit.txt", "banana\napple\nbanana\ncherry\napple")

	res := f.run(t, "sort fruit.txt | uniq")
	require.Equal(t, 0, res.ExitCode, res.Stderr)
	assert.Equal(t, "apple\nbanana\ncherry\n", res.Stdout)

	assert.Equal(t, "cherry\nbanana\nbanana\napple\napple\n", f.run(t, "sort -r fruit.txt").Stdout)
	// only consecutive duplicates collapse
	assert.Equal(t, "banana\napple\nbanana\ncherry\napple\n", f.run(t, "uniq fruit.txt").Stdout)
	assert.Equal(t, "apple\napple\nbanana\nbanana\ncherry\n", f.run(t, "cat fruit.txt | sort").Stdout)

	res = f.run(t, "cat fruit.txt | wc")
	assert.Equal(t, 1, res.ExitCode)
	assert.Contains(t, res.Stderr, "not supported")

	res = f.run(t, "cat fruit.txt | sort | uniq")
	assert.Equal(t, 1, res.ExitCode)
	assert.Contains(t, res.Stderr, "Multiple pipes are not supported")

	f.run(t, "sort fruit.txt | uniq > unique.txt")
	assert.Equal(t, "apple\nbanana\ncherry\n", f.run(t, "cat unique.txt").Stdout)
}

func TestGrep(t *testing.T) {
	f := newFixture(t, "/bin/sh")
	f.write(t, "/src/hello.py", "print('Hello World')\nprint('bye')\n")
	f.write(t, "/other.txt", "hello again\n")

	res := f.run(t, "grep Hello src/hello.py")
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "hello.py:1:print('Hello World')\n", res.Stdout)

	res = f.run(t, "grep nomatch src/hello.py")
	assert.Equal(t, 1, res.ExitCode)
	assert.Equal(t, "\n", res.Stdout)

	res = f.run(t, "grep -i hello")
	assert.Equal(t, "other.txt:1:hello again\nhello.py:1:print('Hello World')\n", res.Stdout)

	res = f.run(t, "grep Hello missing.py")
	assert.Equal(t, 1, res.ExitCode)
	assert.Equal(t, KindNotFound, res.Kind)
	assert.Equal(t, "grep: missing.py: No such file or directory", res.Stderr)

	res = f.run(t, "grep '([' src/hello.py")
	assert.Equal(t, 1, res.ExitCode)
	assert.Contains(t, res.Stderr, "grep: invalid pattern")
}

func TestRejectedCommandsHaveNoSideEffects(t *testing.T) {
	f := newFixture(t, "/bin/sh")
	f.write(t, "/keep.txt", "x")

	for _, command := range []string{"sudo rm keep.txt", "rm -rf /", "rm ../keep.txt", "cat ../../etc/passwd"} {
		for i := 0; i < 2; i++ {
			res := f.run(t, command)
			assert.Equal(t, 1, res.ExitCode, command)
			assert.Equal(t, KindValidation, res.Kind)
			assert.True(t, strings.HasPrefix(res.Stderr, "Security validation failed: "), res.Stderr)
			assert.Contains(t, res.Stderr, "not allowed")
		}
	}

	res := f.run(t, "cat keep.txt")
	assert.Equal(t, "x", res.Stdout)
	assert.Empty(t, f.notes.snapshot())

	sess, ok := f.router.Sessions().Get(sid)
	require.True(t, ok)
	assert.Equal(t, []string{"cat keep.txt"}, sess.History())
}

func TestConcurrentCdKeepsResolvableCwd(t *testing.T) {
	f := newFixture(t, "/bin/sh")
	f.run(t, "mkdir x/y")
	f.run(t, "mkdir z")

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			targets := []string{"/x", "/x/y", "/z", "..", "y", "/"}
			f.run(t, "cd "+targets[i%len(targets)])
		}(i)
	}
	wg.Wait()

	sess, ok := f.router.Sessions().Get(sid)
	require.True(t, ok)
	cwd := sess.WorkingDirectory()
	assert.Contains(t, []string{"/", "/x", "/x/y", "/z"}, cwd)
}

func TestFileCommands(t *testing.T) {
	f := newFixture(t, "/bin/sh")
	ctx := context.Background()

	require.Equal(t, 0, f.run(t, "touch a.txt").ExitCode)
	assert.Equal(t, "", f.run(t, "cat a.txt").Stdout)

	f.write(t, "/a.txt", "content\n")
	f.run(t, "touch a.txt")
	assert.Equal(t, "content\n", f.run(t, "cat a.txt").Stdout)

	require.Equal(t, 0, f.run(t, "cp a.txt b.py").ExitCode)
	copied, err := f.store.Read(ctx, sid, "/b.py")
	require.NoError(t, err)
	assert.Equal(t, "content\n", copied.Content)
	assert.Equal(t, "python", copied.Language)

	f.run(t, "mkdir dir")
	require.Equal(t, 0, f.run(t, "cp a.txt dir").ExitCode)
	_, err = f.store.Read(ctx, sid, "/dir/a.txt")
	require.NoError(t, err)

	require.Equal(t, 0, f.run(t, "mv b.py c.py").ExitCode)
	_, err = f.store.Read(ctx, sid, "/b.py")
	assert.ErrorIs(t, err, vfs.ErrNotFound)
	assert.Contains(t, f.notes.snapshot(), event{"renamed", "/b.py->/c.py"})

	require.Equal(t, 0, f.run(t, "mv dir moved").ExitCode)
	_, err = f.store.Read(ctx, sid, "/moved/a.txt")
	require.NoError(t, err)

	res := f.run(t, "mv ghost.txt x.txt")
	assert.Equal(t, 1, res.ExitCode)
	assert.Equal(t, "mv: cannot stat 'ghost.txt': No such file or directory", res.Stderr)

	res = f.run(t, "cp ghost.txt x.txt")
	assert.Equal(t, "cp: cannot stat 'ghost.txt': No such file or directory", res.Stderr)

	res = f.run(t, "rm ghost.txt")
	assert.Equal(t, "rm: cannot remove 'ghost.txt': No such file or directory", res.Stderr)
	assert.Equal(t, 0, f.run(t, "rm -f ghost.txt").ExitCode)
}

func TestHeadTailWc(t *testing.T) {
	f := newFixture(t, "/bin/sh")
	var lines []string
	for i := 1; i <= 15; i++ {
		lines = append(lines, fmt.Sprintf("line %d", i))
	}
	f.write(t, "/log.txt", strings.Join(lines, "\n")+"\n")

	assert.Equal(t, joinLines(lines[:10]), f.run(t, "head log.txt").Stdout)
	assert.Equal(t, joinLines(lines[:3]), f.run(t, "head -n 3 log.txt").Stdout)
	assert.Equal(t, joinLines(lines[:2]), f.run(t, "head -2 log.txt").Stdout)
	assert.Equal(t, joinLines(lines[5:]), f.run(t, "tail log.txt").Stdout)
	assert.Equal(t, joinLines(lines[12:]), f.run(t, "tail -n 3 log.txt").Stdout)

	res := f.run(t, "head -n x log.txt")
	assert.Equal(t, 1, res.ExitCode)
	assert.Contains(t, res.Stderr, "invalid number of lines")

	f.write(t, "/wc.txt", "one two\nthree\n")
	assert.Equal(t, " 2 3 14 wc.txt\n", f.run(t, "wc wc.txt").Stdout)
}

func TestFind(t *testing.T) {
	f := newFixture(t, "/bin/sh")
	f.write(t, "/src/main.py", "")
	f.write(t, "/src/lib/util.py", "")
	f.write(t, "/README.md", "")
	f.run(t, "mkdir empty")

	res := f.run(t, "find / -name '*.py'")
	assert.Equal(t, "/src/lib/util.py\n/src/main.py\n", res.Stdout)

	res = f.run(t, "find src -type d")
	assert.Equal(t, "/src\n/src/lib\n", res.Stdout)

	res = f.run(t, "find / -type f")
	assert.NotContains(t, res.Stdout, ".keep")

	res = f.run(t, "find nowhere")
	assert.Equal(t, 1, res.ExitCode)
}

func TestMiscBuiltins(t *testing.T) {
	f := newFixture(t, "/bin/sh")

	assert.Equal(t, ClearSentinel, f.run(t, "clear").Stdout)
	assert.Equal(t, "/\n", f.run(t, "pwd").Stdout)
	assert.Equal(t, "alice\n", f.run(t, "whoami").Stdout)
	assert.Contains(t, f.run(t, "help").Stdout, "Available commands")
	assert.Equal(t, "    1  clear\n    2  pwd\n    3  whoami\n    4  help\n    5  history\n", f.run(t, "history").Stdout)

	f.write(t, "/note.md", "# Title\nsome text\n")
	assert.Contains(t, f.run(t, "file note.md").Stdout, "note.md: text/plain; charset=")
	assert.Equal(t, "/: directory\n", f.run(t, "file /").Stdout)
}

func TestWorkingDirectoryOverride(t *testing.T) {
	f := newFixture(t, "/bin/sh")
	f.run(t, "mkdir work")
	f.write(t, "/work/a.txt", "a")

	res := f.router.Execute(context.Background(), Request{SessionID: sid, Command: "ls", WorkingDirectory: "/work"})
	assert.Equal(t, "a.txt\n", res.Stdout)
	assert.Equal(t, "/work", res.WorkingDirectory)

	res = f.router.Execute(context.Background(), Request{SessionID: sid, Command: "ls", WorkingDirectory: "/missing"})
	assert.Equal(t, 1, res.ExitCode)
	assert.Equal(t, "/work", res.WorkingDirectory)
}

func TestCwdResetWhenDirectoryRemoved(t *testing.T) {
	f := newFixture(t, "/bin/sh")
	f.run(t, "mkdir gone")
	require.Equal(t, "/gone", f.run(t, "cd gone").WorkingDirectory)

	_, err := f.store.Delete(context.Background(), sid, "/gone")
	require.NoError(t, err)
	assert.Equal(t, "/", f.run(t, "pwd").WorkingDirectory)
}

func TestUnknownVerb(t *testing.T) {
	f := newFixture(t, "/bin/sh")
	res := f.run(t, "definitely-not-a-command-xyz")
	assert.Equal(t, 127, res.ExitCode)
	assert.Equal(t, "definitely-not-a-command-xyz: command not found", res.Stderr)
	assert.Equal(t, KindNotFound, res.Kind)
}

func TestServiceUnavailable(t *testing.T) {
	router := NewRouter(Options{})
	for _, verb := range []string{"ls", "cat x", "python x.py", "pip list", "node -e 1", "unknownverb"} {
		res := router.Execute(context.Background(), Request{SessionID: sid, Command: verb})
		assert.Equal(t, 1, res.ExitCode, verb)
		assert.Equal(t, KindUnavailable, res.Kind, verb)
		assert.True(t, strings.HasSuffix(res.Stderr, ": service not available"), res.Stderr)
	}
}

func TestPythonScriptAndSyncBack(t *testing.T) {
	f := newFixture(t, "/bin/sh")
	f.write(t, "/run.py", "echo running \"$1\"\necho produced > out.txt\n")

	res := f.run(t, "python run.py arg1")
	require.Equal(t, 0, res.ExitCode, res.Stderr)
	assert.Equal(t, "running arg1\n", res.Stdout)

	out, err := f.store.Read(context.Background(), sid, "/out.txt")
	require.NoError(t, err)
	assert.Equal(t, "produced\n", out.Content)
	assert.Contains(t, f.notes.snapshot(), event{"updated", "/out.txt"})

	// edits made after materialization are picked up
	f.write(t, "/run.py", "echo edited\n")
	assert.Equal(t, "edited\n", f.run(t, "python run.py").Stdout)
}

func TestPythonInlineAndDashC(t *testing.T) {
	f := newFixture(t, "/bin/sh")

	assert.Equal(t, "inline\n", f.run(t, `python "echo inline"`).Stdout)
	assert.Equal(t, "dash c\n", f.run(t, "python -c 'echo dash c'").Stdout)

	dir, ok := f.router.workspace.Dir(sid)
	require.True(t, ok)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasPrefix(e.Name(), workspace.InlinePrefix), e.Name())
	}

	// an unknown name runs as source; sh reports it as a missing command
	res := f.run(t, "python missing.py")
	assert.Equal(t, 127, res.ExitCode)
	assert.Contains(t, res.Stderr, "missing.py")
	assert.NotEqual(t, KindNotFound, res.Kind)

	res = f.run(t, "python")
	assert.Equal(t, 1, res.ExitCode)
}

func TestPythonTimeout(t *testing.T) {
	f := newFixture(t, "/bin/sh")
	res := f.router.Execute(context.Background(), Request{
		SessionID: sid,
		Command:   "python -c 'sleep 5'",
		Timeout:   300 * time.Millisecond,
	})
	assert.Equal(t, 1, res.ExitCode)
	assert.Equal(t, "Command timed out after 0.3s", res.Stderr)
	assert.Equal(t, KindTimeout, res.Kind)
}

func TestPythonReceivesTerminalSize(t *testing.T) {
	f := newFixture(t, "/bin/sh")
	f.run(t, "pwd")
	require.True(t, f.router.Resize(sid, 132, 43))
	assert.Equal(t, "132x43\n", f.run(t, `python -c 'echo "${COLUMNS}x${LINES}"'`).Stdout)
}

func TestInterruptRunningPython(t *testing.T) {
	f := newFixture(t, "/bin/sh")
	f.run(t, "pwd")

	done := make(chan *Result, 1)
	go func() { done <- f.run(t, "python -c 'sleep 10'") }()

	require.Eventually(t, func() bool { return f.router.runner.Running(sid) }, 5*time.Second, 20*time.Millisecond)
	require.True(t, f.router.Interrupt(sid))

	select {
	case res := <-done:
		assert.Equal(t, process.InterruptExitCode, res.ExitCode)
		assert.Equal(t, KindInterrupted, res.Kind)
	case <-time.After(5 * time.Second):
		t.Fatal("command was not interrupted")
	}
}

func TestInputForwarding(t *testing.T) {
	f := newFixture(t, "/bin/sh")
	f.run(t, "pwd")

	done := make(chan *Result, 1)
	go func() { done <- f.run(t, `python -c 'read name; echo "hello $name"'`) }()

	require.Eventually(t, func() bool {
		return f.router.WriteInput(sid, "bob") == nil
	}, 5*time.Second, 20*time.Millisecond)

	res := <-done
	assert.Equal(t, "hello bob\n", res.Stdout)
	assert.ErrorIs(t, f.router.WriteInput(sid, "late"), process.ErrNoProcess)
}

func TestPipArguments(t *testing.T) {
	python := fakePython(t, `echo "$@"; echo "[notice] A new release of pip is available" >&2`)
	f := newFixture(t, python)

	res := f.run(t, "pip uninstall requests")
	assert.Equal(t, "-m pip uninstall -y requests\n", res.Stdout)
	assert.Empty(t, res.Stderr)

	res = f.run(t, "pip uninstall --yes requests")
	assert.Equal(t, "-m pip uninstall --yes requests\n", res.Stdout)

	res = f.run(t, "pip install requests")
	assert.Equal(t, "-m pip install requests\n", res.Stdout)
}

func TestFilterPipNotices(t *testing.T) {
	stderr := "ERROR: no such package\n[notice] A new release of pip is available: 23.0 -> 24.0\n[notice] To update, run: pip install --upgrade pip\n"
	assert.Equal(t, "ERROR: no such package", filterPipNotices(stderr))
	assert.Equal(t, "", filterPipNotices(""))
}

func TestNode(t *testing.T) {
	f := newFixture(t, "/bin/sh")

	assert.Equal(t, "3\n", f.run(t, "node -e 'console.log(1 + 2)'").Stdout)
	assert.Equal(t, "6\n", f.run(t, "node -p '2 * 3'").Stdout)
	assert.Equal(t, "7\n", f.run(t, "js 3 + 4").Stdout)

	f.write(t, "/app.js", "console.log('args', process.argv.slice(2).join(','))\n")
	assert.Equal(t, "args a,b\n", f.run(t, "node app.js a b").Stdout)

	res := f.run(t, "node missing.js")
	assert.Equal(t, 1, res.ExitCode)
	assert.Equal(t, KindNotFound, res.Kind)

	res = f.run(t, "node -e 'throw new Error(\"boom\")'")
	assert.Equal(t, 1, res.ExitCode)
	assert.Contains(t, res.Stderr, "boom")
}
