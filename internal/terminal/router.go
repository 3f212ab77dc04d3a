package terminal

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/GriffinCanCode/webterm/internal/domain/session"
	"github.com/GriffinCanCode/webterm/internal/domain/workspace"
	"github.com/GriffinCanCode/webterm/internal/infrastructure/logging"
	"github.com/GriffinCanCode/webterm/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/webterm/internal/providers/jsruntime"
	"github.com/GriffinCanCode/webterm/internal/providers/process"
	"github.com/GriffinCanCode/webterm/internal/shared/paths"
	"github.com/GriffinCanCode/webterm/internal/shared/utils"
	"github.com/GriffinCanCode/webterm/internal/vfs"
	"github.com/google/shlex"
	"go.uber.org/zap"
)

const defaultTimeout = 30 * time.Second

// Notifier receives filesystem changes made by commands so they can be
// announced to the session's other connections.
type Notifier interface {
	FileUpdated(sessionID, actor string, f *vfs.File)
	FileDeleted(sessionID, actor, path string)
	FileRenamed(sessionID, actor, from, to string)
	FolderCreated(sessionID, actor, name, fullPath, parent string)
}

// HandlerFunc runs one verb
type HandlerFunc func(ctx context.Context, inv *Invocation) *Result

// Invocation is a parsed command stage bound to its session
type Invocation struct {
	Session *session.Session
	Request *Request
	Verb    string
	Args    []string
	// Raw is the unparsed text after the verb
	Raw string
	// Input carries the previous pipeline stage's stdout
	Input   *string
	Timeout time.Duration
}

// Cwd returns the session's working directory
func (inv *Invocation) Cwd() string {
	return inv.Session.WorkingDirectory()
}

// Resolve maps a command argument to an absolute virtual path
func (inv *Invocation) Resolve(arg string) string {
	return paths.Resolve(inv.Cwd(), arg)
}

// Options configures a Router. Nil collaborators disable the verbs that
// need them.
type Options struct {
	Sessions  *session.Manager
	Store     *vfs.Store
	Workspace *workspace.Manager
	Runner    *process.Runner
	JS        *jsruntime.Engine
	Validator *Validator
	Notifier  Notifier

	PythonBin      string
	DefaultTimeout time.Duration
	SyncBack       bool
	PipSelfUpgrade bool

	Logger  *logging.Logger
	Metrics *monitoring.Metrics
}

// Router validates command lines and dispatches them to handlers
type Router struct {
	sessions  *session.Manager
	store     *vfs.Store
	workspace *workspace.Manager
	runner    *process.Runner
	js        *jsruntime.Engine
	validator *Validator
	notifier  Notifier

	pythonBin      string
	defaultTimeout time.Duration
	syncBack       bool
	pipSelfUpgrade bool

	handlers map[string]HandlerFunc
	logger   *logging.Logger
	metrics  *monitoring.Metrics
}

// NewRouter creates a router with the built-in verb table
func NewRouter(opts Options) *Router {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	if opts.Sessions == nil {
		opts.Sessions = session.NewManager(session.Options{Logger: logger, Metrics: opts.Metrics})
	}
	if opts.Validator == nil {
		opts.Validator = NewValidator(nil)
	}
	if opts.PythonBin == "" {
		opts.PythonBin = "python3"
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = defaultTimeout
	}

	r := &Router{
		sessions:       opts.Sessions,
		store:          opts.Store,
		workspace:      opts.Workspace,
		runner:         opts.Runner,
		js:             opts.JS,
		validator:      opts.Validator,
		notifier:       opts.Notifier,
		pythonBin:      opts.PythonBin,
		defaultTimeout: opts.DefaultTimeout,
		syncBack:       opts.SyncBack,
		pipSelfUpgrade: opts.PipSelfUpgrade,
		logger:         logger.Named("terminal"),
		metrics:        opts.Metrics,
	}
	r.handlers = r.builtins()
	return r
}

func (r *Router) builtins() map[string]HandlerFunc {
	return map[string]HandlerFunc{
		"cd":      r.cd,
		"pwd":     r.pwd,
		"ls":      r.ls,
		"cat":     r.cat,
		"mkdir":   r.mkdir,
		"touch":   r.touch,
		"cp":      r.cp,
		"mv":      r.mv,
		"rm":      r.rm,
		"find":    r.find,
		"file":    r.file,
		"grep":    r.grep,
		"head":    r.head,
		"tail":    r.tail,
		"wc":      r.wc,
		"sort":    r.sort,
		"uniq":    r.uniq,
		"echo":    r.echo,
		"clear":   r.clear,
		"help":    r.help,
		"history": r.history,
		"whoami":  r.whoami,
		"python":  r.python,
		"python3": r.python,
		"pip":     r.pip,
		"pip3":    r.pip,
		"node":    r.node,
		"js":      r.node,
	}
}

// Register adds or replaces a verb
func (r *Router) Register(verb string, handler HandlerFunc) {
	r.handlers[verb] = handler
}

// Sessions returns the session manager commands run against
func (r *Router) Sessions() *session.Manager {
	return r.sessions
}

// Execute runs one command line for a session. It never returns nil.
func (r *Router) Execute(ctx context.Context, req Request) *Result {
	start := time.Now()
	verb := firstWord(req.Command)
	result := r.execute(ctx, &req)
	result.ExecutionTime = time.Since(start)

	r.metrics.RecordCommand(metricVerb(verb, r.handlers), result.status(), result.ExecutionTime)
	if !result.OK() {
		r.logger.Debug("command failed",
			zap.String("session_id", req.SessionID),
			zap.String("verb", verb),
			zap.Int("exit_code", result.ExitCode),
			zap.String("kind", string(result.Kind)))
	}
	return result
}

func (r *Router) execute(ctx context.Context, req *Request) *Result {
	line := strings.TrimSpace(req.Command)
	if err := utils.ValidateCommand(line); err != nil {
		return failure(KindValidation, 1, "Security validation failed: %v", err)
	}
	if err := r.validator.Validate(line); err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			r.metrics.RecordRejection(string(verr.Rule))
		}
		return failure(KindValidation, 1, "Security validation failed: %v", err)
	}

	sess, _, err := r.sessions.GetOrCreate(ctx, req.SessionID, req.UserID)
	if err != nil {
		if errors.Is(err, session.ErrForbidden) {
			return failure(KindPermission, 1, "Permission denied: %v", err)
		}
		return failure(KindUnavailable, 1, "session: %v", err)
	}
	if req.SessionID == "" {
		req.SessionID = sess.ID
	}
	if req.Actor == "" {
		req.Actor = req.UserID
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}

	unlock := sess.LockCommands()
	defer unlock()
	ctx, done := sess.BeginCommand(ctx)
	defer done()

	r.ensureCwd(ctx, sess)
	sess.AppendHistory(line)

	result := r.dispatch(ctx, sess, req, line, timeout)
	result.WorkingDirectory = sess.WorkingDirectory()

	sess.Touch(time.Now())
	_ = r.sessions.Persist(context.WithoutCancel(ctx), sess)
	return result
}

func (r *Router) dispatch(ctx context.Context, sess *session.Session, req *Request, line string, timeout time.Duration) *Result {
	if req.WorkingDirectory != "" {
		if res := r.changeDirectory(ctx, sess, req.WorkingDirectory); !res.OK() {
			return res
		}
	}

	stages := splitPipeline(line)
	last := len(stages) - 1
	stmt, redir, err := splitRedirect(stages[last])
	if err != nil {
		return usage("%v", err)
	}
	stages[last] = stmt

	var result *Result
	switch len(stages) {
	case 1:
		result = r.run(ctx, sess, req, stages[0], nil, timeout)
	case 2:
		result = r.pipeline(ctx, sess, req, stages[0], stages[1], timeout)
	default:
		return usage("Multiple pipes are not supported")
	}

	if redir != nil && result.OK() {
		return r.writeRedirect(ctx, sess, req, redir, result)
	}
	return result
}

// run executes a single stage
func (r *Router) run(ctx context.Context, sess *session.Session, req *Request, stage string, input *string, timeout time.Duration) *Result {
	words, err := shlex.Split(stage)
	if err != nil {
		return failure(KindValidation, 1, "Security validation failed: invalid command format: %v", err)
	}
	if len(words) == 0 {
		return usage("syntax error: empty command")
	}

	inv := &Invocation{
		Session: sess,
		Request: req,
		Verb:    words[0],
		Args:    words[1:],
		Raw:     remainder(stage),
		Input:   input,
		Timeout: timeout,
	}
	handler, ok := r.handlers[inv.Verb]
	if !ok {
		handler = r.generic
	}
	return r.safely(ctx, inv, handler)
}

// safely converts a handler panic into a failed result
func (r *Router) safely(ctx context.Context, inv *Invocation, handler HandlerFunc) (result *Result) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("handler panic",
				zap.String("session_id", inv.Session.ID),
				zap.String("verb", inv.Verb),
				zap.Any("panic", p))
			result = failure(KindFailed, 1, "%s: internal error", inv.Verb)
		}
	}()
	return handler(ctx, inv)
}

func (r *Router) writeRedirect(ctx context.Context, sess *session.Session, req *Request, redir *redirect, result *Result) *Result {
	if r.store == nil {
		return unavailable("redirect")
	}
	target := paths.Resolve(sess.WorkingDirectory(), redir.target)
	content := result.Stdout
	if redir.append {
		existing, err := r.store.Read(ctx, sess.ID, target)
		switch {
		case err == nil:
			content = existing.Content + content
		case !errors.Is(err, vfs.ErrNotFound):
			return r.storeFailure("redirect", redir.target, err)
		}
	}

	f, err := r.store.Write(ctx, sess.ID, target, content, "")
	if err != nil {
		return r.storeFailure("redirect", redir.target, err)
	}
	r.notifyUpdated(req, f)

	result.Stdout = ""
	return result
}

// ensureCwd resets a working directory that no longer exists
func (r *Router) ensureCwd(ctx context.Context, sess *session.Session) {
	cwd := sess.WorkingDirectory()
	if r.store == nil || paths.IsRoot(cwd) {
		return
	}
	kind, err := r.store.Stat(ctx, sess.ID, cwd)
	if err == nil && kind != vfs.KindDirectory {
		r.logger.Debug("working directory vanished, resetting to root",
			zap.String("session_id", sess.ID), zap.String("cwd", cwd))
		sess.SetWorkingDirectory(paths.Root)
	}
}

// Interrupt cancels the session's running command
func (r *Router) Interrupt(sessionID string) bool {
	if r.runner != nil && r.runner.Interrupt(sessionID) {
		return true
	}
	if sess, ok := r.sessions.Get(sessionID); ok {
		return sess.CancelCommand(session.ErrInterrupted)
	}
	return false
}

// WriteInput forwards a line to the session's running process
func (r *Router) WriteInput(sessionID, input string) error {
	if r.runner == nil {
		return process.ErrNoProcess
	}
	return r.runner.WriteInput(sessionID, input)
}

// Resize records the client terminal size used for subprocess COLUMNS/LINES
func (r *Router) Resize(sessionID string, cols, rows int) bool {
	sess, ok := r.sessions.Get(sessionID)
	if !ok {
		return false
	}
	return sess.Resize(cols, rows)
}

func (r *Router) notifyUpdated(req *Request, f *vfs.File) {
	if r.notifier != nil && f != nil {
		r.notifier.FileUpdated(req.SessionID, req.Actor, f)
	}
}

func (r *Router) notifyDeleted(req *Request, p string) {
	if r.notifier != nil {
		r.notifier.FileDeleted(req.SessionID, req.Actor, p)
	}
}

func (r *Router) notifyRenamed(req *Request, from, to string) {
	if r.notifier != nil {
		r.notifier.FileRenamed(req.SessionID, req.Actor, from, to)
	}
}

func (r *Router) notifyFolder(req *Request, name, full, parent string) {
	if r.notifier != nil {
		r.notifier.FolderCreated(req.SessionID, req.Actor, name, full, parent)
	}
}

func firstWord(line string) string {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// metricVerb bounds label cardinality to the built-in verbs
func metricVerb(verb string, handlers map[string]HandlerFunc) string {
	if _, ok := handlers[verb]; ok {
		return verb
	}
	if verb == "" {
		return "empty"
	}
	return "external"
}
