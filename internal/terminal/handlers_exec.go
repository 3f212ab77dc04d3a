package terminal

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/GriffinCanCode/webterm/internal/providers/jsruntime"
	"github.com/GriffinCanCode/webterm/internal/providers/process"
	"github.com/GriffinCanCode/webterm/internal/shared/id"
	"github.com/GriffinCanCode/webterm/internal/vfs"
	"go.uber.org/zap"
)

// pipNotices are stderr lines pip prints about its own upgrades
var pipNotices = []string{
	"[notice]",
	"A new release of pip",
	"You should consider upgrading via",
	"WARNING: You are using pip version",
}

func (r *Router) execAvailable() bool {
	return r.runner != nil && r.workspace != nil
}

// processSpec prepares a subprocess rooted at the session's cwd inside its
// temp workspace.
func (r *Router) processSpec(ctx context.Context, inv *Invocation, argv []string, stdin bool) (process.Spec, *Result) {
	dir, err := r.workspace.Ensure(ctx, inv.Session.ID)
	if err != nil {
		r.logger.Warn("workspace materialization failed",
			zap.String("session_id", inv.Session.ID), zap.Error(err))
		return process.Spec{}, failure(KindUnavailable, 1, "%s: workspace unavailable: %v", inv.Verb, err)
	}
	cwd, err := r.workspace.HostDir(dir, inv.Cwd())
	if err != nil {
		return process.Spec{}, failure(KindUnavailable, 1, "%s: %v", inv.Verb, err)
	}

	// workspace-relative executables resolve against the session cwd
	if exe := argv[0]; strings.Contains(exe, "/") && !filepath.IsAbs(exe) {
		argv = append([]string{filepath.Join(cwd, filepath.FromSlash(exe))}, argv[1:]...)
	}

	cols, rows := inv.Session.Size()
	return process.Spec{
		SessionID: inv.Session.ID,
		Argv:      argv,
		Dir:       cwd,
		Env: []string{
			"COLUMNS=" + strconv.Itoa(cols),
			"LINES=" + strconv.Itoa(rows),
			"HOME=" + dir,
			"TERM=dumb",
			"PYTHONUNBUFFERED=1",
			"PYTHONDONTWRITEBYTECODE=1",
		},
		Timeout: inv.Timeout,
		Stdin:   stdin,
	}, nil
}

// spawn runs argv in the session workspace and syncs changed files back
func (r *Router) spawn(ctx context.Context, inv *Invocation, argv []string, stdin bool) *Result {
	spec, res := r.processSpec(ctx, inv, argv, stdin)
	if res != nil {
		return res
	}

	start := time.Now()
	out, err := r.runner.Run(ctx, spec)
	if err != nil {
		if errors.Is(err, process.ErrNotFound) {
			return failure(KindNotFound, 127, "%s: command not found", inv.Verb)
		}
		if ctx.Err() != nil {
			return failure(KindInterrupted, process.InterruptExitCode, "^C")
		}
		return failure(KindFailed, 1, "%s: %v", inv.Verb, err)
	}
	r.syncBackAfter(ctx, inv, start)

	result := &Result{Stdout: out.Stdout, Stderr: out.Stderr, ExitCode: out.ExitCode}
	switch {
	case out.TimedOut:
		result.Kind = KindTimeout
	case out.Interrupted:
		result.Kind = KindInterrupted
	}
	return result
}

func (r *Router) syncBackAfter(ctx context.Context, inv *Invocation, since time.Time) {
	if !r.syncBack {
		return
	}
	files, err := r.workspace.SyncBack(context.WithoutCancel(ctx), inv.Session.ID, since)
	if err != nil {
		r.logger.Warn("sync back failed", zap.String("session_id", inv.Session.ID), zap.Error(err))
	}
	for _, f := range files {
		r.notifyUpdated(inv.Request, f)
	}
}

func (r *Router) python(ctx context.Context, inv *Invocation) *Result {
	if !r.execAvailable() {
		return unavailable(inv.Verb)
	}
	if len(inv.Args) == 0 {
		return usage("%s: missing script or code (interactive mode is not supported)", inv.Verb)
	}

	argv := []string{r.pythonBin, "-u"}
	switch first := inv.Args[0]; first {
	case "-c":
		if len(inv.Args) < 2 {
			return usage("%s: argument expected for the -c option", inv.Verb)
		}
		argv = append(argv, inv.Args...)
	case "-m":
		if len(inv.Args) < 2 {
			return usage("%s: argument expected for the -m option", inv.Verb)
		}
		argv = append(argv, inv.Args...)
	default:
		script := inv.Resolve(first)
		kind := vfs.KindNone
		if r.store != nil {
			var res *Result
			if kind, res = r.stat(ctx, inv, script); res != nil {
				return res
			}
		}
		switch {
		case kind == vfs.KindFile:
			host, err := r.workspace.SyncFile(ctx, inv.Session.ID, script)
			if err != nil {
				return r.storeFailure(inv.Verb, first, err)
			}
			argv = append(argv, host)
			argv = append(argv, inv.Args[1:]...)
		default:
			// anything that is not a virtual file is source text
			host, cleanup, err := r.workspace.WriteInline(ctx, inv.Session.ID, id.NewCommandID().String()+".py", unquote(inv.Raw))
			if err != nil {
				return failure(KindUnavailable, 1, "%s: %v", inv.Verb, err)
			}
			defer cleanup()
			argv = append(argv, host)
		}
	}
	return r.spawn(ctx, inv, argv, true)
}

func (r *Router) pip(ctx context.Context, inv *Invocation) *Result {
	if !r.execAvailable() {
		return unavailable(inv.Verb)
	}
	if len(inv.Args) == 0 {
		return usage("%s: missing command", inv.Verb)
	}

	args := append([]string(nil), inv.Args...)
	switch args[0] {
	case "install":
		if r.pipSelfUpgrade {
			r.upgradePip(ctx, inv)
		}
	case "uninstall":
		if !contains(args, "-y") && !contains(args, "--yes") {
			args = append([]string{"uninstall", "-y"}, args[1:]...)
		}
	}

	result := r.spawn(ctx, inv, append([]string{r.pythonBin, "-m", "pip"}, args...), false)
	result.Stderr = filterPipNotices(result.Stderr)
	return result
}

// upgradePip is best effort; its failure never fails the install
func (r *Router) upgradePip(ctx context.Context, inv *Invocation) {
	spec, res := r.processSpec(ctx, inv, []string{r.pythonBin, "-m", "pip", "install", "--upgrade", "pip"}, false)
	if res != nil {
		return
	}
	if out, err := r.runner.Run(ctx, spec); err != nil || out.ExitCode != 0 {
		r.logger.Debug("pip self-upgrade skipped", zap.String("session_id", inv.Session.ID), zap.Error(err))
	}
}

func filterPipNotices(stderr string) string {
	if stderr == "" {
		return stderr
	}
	var kept []string
	for _, line := range strings.Split(stderr, "\n") {
		if !isPipNotice(line) {
			kept = append(kept, line)
		}
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

func isPipNotice(line string) bool {
	for _, notice := range pipNotices {
		if strings.Contains(line, notice) {
			return true
		}
	}
	return false
}

func contains(args []string, want string) bool {
	for _, arg := range args {
		if arg == want {
			return true
		}
	}
	return false
}

func (r *Router) node(ctx context.Context, inv *Invocation) *Result {
	if r.js == nil {
		return unavailable(inv.Verb)
	}
	if len(inv.Args) == 0 {
		return usage("%s: missing script or code (interactive mode is not supported)", inv.Verb)
	}

	script := jsruntime.Script{Name: "[eval]"}
	switch first := inv.Args[0]; first {
	case "-e", "--eval", "-p", "--print":
		if len(inv.Args) < 2 {
			return usage("%s: %s requires an argument", inv.Verb, first)
		}
		script.Source = inv.Args[1]
		script.Args = inv.Args[2:]
		script.PrintValue = first == "-p" || first == "--print"
	default:
		target := inv.Resolve(first)
		kind := vfs.KindNone
		if r.store != nil {
			var res *Result
			if kind, res = r.stat(ctx, inv, target); res != nil {
				return res
			}
		}
		switch {
		case kind == vfs.KindFile:
			f, res := r.readFile(ctx, inv, first)
			if res != nil {
				return res
			}
			script.Name = target
			script.Source = f.Content
			script.Args = inv.Args[1:]
		case strings.HasSuffix(first, ".js") || strings.HasSuffix(first, ".mjs") || strings.HasSuffix(first, ".cjs"):
			return failure(KindNotFound, 1, "%s: cannot find module '%s'", inv.Verb, target)
		default:
			script.Source = unquote(inv.Raw)
			script.PrintValue = true
		}
	}

	out, err := r.js.Run(ctx, script)
	if err != nil {
		return failure(KindFailed, 1, "%s: %v", inv.Verb, err)
	}

	result := &Result{Stdout: out.Stdout, Stderr: strings.TrimSuffix(out.Stderr, "\n"), ExitCode: out.ExitCode}
	switch {
	case out.TimedOut:
		r.metrics.RecordTimeout()
		result.ExitCode = 1
		result.Stderr = process.TimeoutMessage(r.js.Timeout())
		result.Kind = KindTimeout
	case ctx.Err() != nil:
		result.ExitCode = process.InterruptExitCode
		result.Stderr = "^C"
		result.Kind = KindInterrupted
	}
	return result
}

// generic runs an unrecognized verb as a subprocess
func (r *Router) generic(ctx context.Context, inv *Invocation) *Result {
	if !r.execAvailable() {
		return unavailable(inv.Verb)
	}
	return r.spawn(ctx, inv, append([]string{inv.Verb}, inv.Args...), false)
}
