package terminal

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/GriffinCanCode/webterm/internal/domain/session"
	"github.com/GriffinCanCode/webterm/internal/shared/paths"
	"github.com/GriffinCanCode/webterm/internal/vfs"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/gabriel-vasile/mimetype"
	"github.com/saintfish/chardet"
	"go.uber.org/zap"
)

// storeFailure maps a store error onto a command result
func (r *Router) storeFailure(verb, arg string, err error) *Result {
	switch {
	case errors.Is(err, vfs.ErrNotFound):
		return notFound("%s: %s: No such file or directory", verb, arg)
	case errors.Is(err, vfs.ErrIsDirectory):
		return failure(KindFailed, 1, "%s: %s: Is a directory", verb, arg)
	case errors.Is(err, vfs.ErrExists):
		return failure(KindFailed, 1, "%s: %s: File exists", verb, arg)
	case errors.Is(err, vfs.ErrInvalidPath):
		return failure(KindValidation, 1, "%s: %s: Invalid path", verb, arg)
	case errors.Is(err, context.Canceled):
		return failure(KindInterrupted, 130, "^C")
	default:
		r.logger.Warn("store operation failed", zap.String("verb", verb), zap.Error(err))
		return failure(KindUnavailable, 1, "%s: %v", verb, err)
	}
}

// parseFlags splits leading "-xyz" clusters off args. "--" ends the flags
// and a lone "-" is an operand.
func parseFlags(verb string, args []string, allowed string) (map[byte]bool, []string, *Result) {
	flags := make(map[byte]bool)
	i := 0
	for ; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			i++
			break
		}
		if len(arg) < 2 || arg[0] != '-' {
			break
		}
		for j := 1; j < len(arg); j++ {
			if !strings.ContainsRune(allowed, rune(arg[j])) {
				return nil, nil, usage("%s: invalid option -- '%c'", verb, arg[j])
			}
			flags[arg[j]] = true
		}
	}
	return flags, args[i:], nil
}

func (r *Router) stat(ctx context.Context, inv *Invocation, p string) (vfs.Kind, *Result) {
	kind, err := r.store.Stat(ctx, inv.Session.ID, p)
	if err != nil {
		return vfs.KindNone, r.storeFailure(inv.Verb, p, err)
	}
	return kind, nil
}

// readFile reads one operand for verbs that take file input
func (r *Router) readFile(ctx context.Context, inv *Invocation, arg string) (*vfs.File, *Result) {
	target := inv.Resolve(arg)
	f, err := r.store.Read(ctx, inv.Session.ID, target)
	if err == nil {
		return f, nil
	}
	if errors.Is(err, vfs.ErrNotFound) {
		if kind, _ := r.store.Stat(ctx, inv.Session.ID, target); kind == vfs.KindDirectory {
			return nil, failure(KindFailed, 1, "%s: %s: Is a directory", inv.Verb, arg)
		}
	}
	return nil, r.storeFailure(inv.Verb, arg, err)
}

func (r *Router) cd(ctx context.Context, inv *Invocation) *Result {
	if len(inv.Args) == 0 {
		return usage("cd: missing directory")
	}
	return r.changeDirectory(ctx, inv.Session, inv.Args[0])
}

// changeDirectory resolves arg against the cwd and stores it once the
// directory is confirmed to exist.
func (r *Router) changeDirectory(ctx context.Context, sess *session.Session, arg string) *Result {
	target := paths.Resolve(sess.WorkingDirectory(), arg)
	if !paths.IsRoot(target) {
		if r.store == nil {
			return unavailable("cd")
		}
		kind, err := r.store.Stat(ctx, sess.ID, target)
		if err != nil {
			return r.storeFailure("cd", arg, err)
		}
		switch kind {
		case vfs.KindNone:
			return notFound("cd: %s: No such file or directory", arg)
		case vfs.KindFile:
			return failure(KindFailed, 1, "cd: %s: Not a directory", arg)
		}
	}
	sess.SetWorkingDirectory(target)
	return output("")
}

func (r *Router) pwd(_ context.Context, inv *Invocation) *Result {
	return output(inv.Cwd() + "\n")
}

func (r *Router) ls(ctx context.Context, inv *Invocation) *Result {
	if r.store == nil {
		return unavailable(inv.Verb)
	}
	flags, operands, res := parseFlags("ls", inv.Args, "alh1")
	if res != nil {
		return res
	}
	if len(operands) == 0 {
		operands = []string{"."}
	}

	var (
		blocks []string
		errs   []string
	)
	for _, arg := range operands {
		target := inv.Resolve(arg)
		kind, res := r.stat(ctx, inv, target)
		if res != nil {
			return res
		}

		var lines []string
		switch kind {
		case vfs.KindNone:
			errs = append(errs, fmt.Sprintf("ls: cannot access '%s': No such file or directory", arg))
			continue
		case vfs.KindFile:
			f, err := r.store.Read(ctx, inv.Session.ID, target)
			if err != nil {
				return r.storeFailure("ls", arg, err)
			}
			lines = []string{formatEntry(vfs.FileInfo{
				Name: arg, Path: f.Path, Type: vfs.KindFile.String(), Size: f.Size, Modified: f.UpdatedAt,
			}, flags['l'])}
		default:
			entries, err := r.store.List(ctx, inv.Session.ID, target, vfs.ListOptions{IncludeHidden: flags['a']})
			if err != nil {
				return r.storeFailure("ls", arg, err)
			}
			for _, entry := range entries {
				lines = append(lines, formatEntry(entry, flags['l']))
			}
		}

		block := strings.Join(lines, "\n")
		if len(operands) > 1 {
			block = arg + ":\n" + block
		}
		blocks = append(blocks, block)
	}

	result := output("\n")
	if len(blocks) > 0 {
		result.Stdout = strings.Join(blocks, "\n\n") + "\n"
	}
	if len(errs) > 0 {
		result.Stderr = strings.Join(errs, "\n")
		result.ExitCode = 1
		result.Kind = KindNotFound
	}
	return result
}

func formatEntry(entry vfs.FileInfo, long bool) string {
	name := entry.Name
	if entry.IsDir() {
		name += "/"
	}
	if !long {
		return name
	}
	mode := "-rw-r--r--"
	if entry.IsDir() {
		mode = "drwxr-xr-x"
	}
	modified := "            "
	if !entry.Modified.IsZero() {
		modified = entry.Modified.Local().Format("Jan _2 15:04")
	}
	return fmt.Sprintf("%s %8d %s %s", mode, entry.Size, modified, name)
}

func (r *Router) cat(ctx context.Context, inv *Invocation) *Result {
	if r.store == nil {
		return unavailable(inv.Verb)
	}
	if len(inv.Args) == 0 {
		if inv.Input != nil {
			return output(*inv.Input)
		}
		return usage("cat: missing file operand")
	}

	var (
		out  strings.Builder
		errs []string
		kind Kind
	)
	for _, arg := range inv.Args {
		f, res := r.readFile(ctx, inv, arg)
		if res != nil {
			errs = append(errs, res.Stderr)
			kind = res.Kind
			continue
		}
		out.WriteString(f.Content)
	}

	result := output(out.String())
	if len(errs) > 0 {
		result.Stderr = strings.Join(errs, "\n")
		result.ExitCode = 1
		result.Kind = kind
	}
	return result
}

func (r *Router) mkdir(ctx context.Context, inv *Invocation) *Result {
	if r.store == nil {
		return unavailable(inv.Verb)
	}
	flags, operands, res := parseFlags("mkdir", inv.Args, "pv")
	if res != nil {
		return res
	}
	if len(operands) == 0 {
		return usage("mkdir: missing operand")
	}

	for _, arg := range operands {
		target := inv.Resolve(arg)
		exists := func() *Result {
			return failure(KindFailed, 1, "mkdir: cannot create directory '%s': File exists", arg)
		}
		if paths.IsRoot(target) {
			if flags['p'] {
				continue
			}
			return exists()
		}

		kind, res := r.stat(ctx, inv, target)
		if res != nil {
			return res
		}
		if kind == vfs.KindDirectory && flags['p'] {
			continue
		}
		if kind != vfs.KindNone {
			return exists()
		}

		name, parent := paths.Base(target), paths.Parent(target)
		full, err := r.store.CreateFolder(ctx, inv.Session.ID, name, parent)
		if err != nil {
			if errors.Is(err, vfs.ErrExists) {
				return exists()
			}
			return r.storeFailure("mkdir", arg, err)
		}
		r.notifyFolder(inv.Request, name, full, parent)
	}
	return output("")
}

func (r *Router) touch(ctx context.Context, inv *Invocation) *Result {
	if r.store == nil {
		return unavailable(inv.Verb)
	}
	if len(inv.Args) == 0 {
		return usage("touch: missing file operand")
	}
	for _, arg := range inv.Args {
		target := inv.Resolve(arg)
		kind, res := r.stat(ctx, inv, target)
		if res != nil {
			return res
		}
		if kind != vfs.KindNone {
			continue
		}
		f, err := r.store.Write(ctx, inv.Session.ID, target, "", "")
		if err != nil {
			return r.storeFailure("touch", arg, err)
		}
		r.notifyUpdated(inv.Request, f)
	}
	return output("")
}

// destination resolves dst, descending into it when it is a directory
func (r *Router) destination(ctx context.Context, inv *Invocation, src, dst string) (string, *Result) {
	target := inv.Resolve(dst)
	kind, res := r.stat(ctx, inv, target)
	if res != nil {
		return "", res
	}
	if kind == vfs.KindDirectory || paths.IsRoot(target) {
		target = paths.Join(target, paths.Base(src))
	}
	return target, nil
}

// languageFor prefers the destination's extension over the source's hint
func languageFor(dst string, src *vfs.File) string {
	if lang, ok := vfs.LanguageForPath(dst); ok {
		return lang
	}
	return src.Language
}

func (r *Router) cp(ctx context.Context, inv *Invocation) *Result {
	if r.store == nil {
		return unavailable(inv.Verb)
	}
	_, operands, res := parseFlags("cp", inv.Args, "f")
	if res != nil {
		return res
	}
	switch len(operands) {
	case 0:
		return usage("cp: missing file operand")
	case 1:
		return usage("cp: missing destination file operand after '%s'", operands[0])
	case 2:
	default:
		return usage("cp: copying multiple files is not supported")
	}

	srcArg, dstArg := operands[0], operands[1]
	src := inv.Resolve(srcArg)
	kind, res := r.stat(ctx, inv, src)
	if res != nil {
		return res
	}
	switch kind {
	case vfs.KindNone:
		return notFound("cp: cannot stat '%s': No such file or directory", srcArg)
	case vfs.KindDirectory:
		return failure(KindFailed, 1, "cp: -r not specified; omitting directory '%s'", srcArg)
	}

	dst, res := r.destination(ctx, inv, src, dstArg)
	if res != nil {
		return res
	}
	if dst == src {
		return failure(KindFailed, 1, "cp: '%s' and '%s' are the same file", srcArg, dstArg)
	}

	f, err := r.store.Read(ctx, inv.Session.ID, src)
	if err != nil {
		return r.storeFailure("cp", srcArg, err)
	}
	copied, err := r.store.Write(ctx, inv.Session.ID, dst, f.Content, languageFor(dst, f))
	if err != nil {
		return r.storeFailure("cp", dstArg, err)
	}
	r.notifyUpdated(inv.Request, copied)
	return output("")
}

func (r *Router) mv(ctx context.Context, inv *Invocation) *Result {
	if r.store == nil {
		return unavailable(inv.Verb)
	}
	_, operands, res := parseFlags("mv", inv.Args, "f")
	if res != nil {
		return res
	}
	switch len(operands) {
	case 0:
		return usage("mv: missing file operand")
	case 1:
		return usage("mv: missing destination file operand after '%s'", operands[0])
	case 2:
	default:
		return usage("mv: moving multiple files is not supported")
	}

	srcArg, dstArg := operands[0], operands[1]
	src := inv.Resolve(srcArg)
	if paths.IsRoot(src) {
		return failure(KindFailed, 1, "mv: cannot move '/'")
	}
	kind, res := r.stat(ctx, inv, src)
	if res != nil {
		return res
	}
	if kind == vfs.KindNone {
		return notFound("mv: cannot stat '%s': No such file or directory", srcArg)
	}

	dst, res := r.destination(ctx, inv, src, dstArg)
	if res != nil {
		return res
	}
	if dst == src {
		return failure(KindFailed, 1, "mv: '%s' and '%s' are the same file", srcArg, dstArg)
	}

	if kind == vfs.KindDirectory {
		if paths.Within(dst, src) {
			return failure(KindFailed, 1, "mv: cannot move '%s' to a subdirectory of itself", srcArg)
		}
		if _, err := r.store.Rename(ctx, inv.Session.ID, src, dst); err != nil {
			if errors.Is(err, vfs.ErrExists) {
				return failure(KindFailed, 1, "mv: cannot move '%s' to '%s': File exists", srcArg, dstArg)
			}
			return r.storeFailure("mv", srcArg, err)
		}
		if paths.Within(inv.Cwd(), src) {
			inv.Session.SetWorkingDirectory(paths.Root)
		}
	} else {
		f, err := r.store.Read(ctx, inv.Session.ID, src)
		if err != nil {
			return r.storeFailure("mv", srcArg, err)
		}
		if _, err := r.store.Write(ctx, inv.Session.ID, dst, f.Content, languageFor(dst, f)); err != nil {
			return r.storeFailure("mv", dstArg, err)
		}
		if _, err := r.store.Delete(ctx, inv.Session.ID, src); err != nil {
			return r.storeFailure("mv", srcArg, err)
		}
	}

	r.notifyRenamed(inv.Request, src, dst)
	return output("")
}

func (r *Router) rm(ctx context.Context, inv *Invocation) *Result {
	if r.store == nil {
		return unavailable(inv.Verb)
	}
	flags, operands, res := parseFlags("rm", inv.Args, "rRfv")
	if res != nil {
		return res
	}
	recursive, force := flags['r'] || flags['R'], flags['f']
	if len(operands) == 0 {
		if force {
			return output("")
		}
		return usage("rm: missing operand")
	}

	var errs []string
	for _, arg := range operands {
		target := inv.Resolve(arg)
		if paths.IsRoot(target) {
			errs = append(errs, "rm: refusing to remove '/'")
			continue
		}
		kind, res := r.stat(ctx, inv, target)
		if res != nil {
			return res
		}
		switch {
		case kind == vfs.KindNone:
			if !force {
				errs = append(errs, fmt.Sprintf("rm: cannot remove '%s': No such file or directory", arg))
			}
			continue
		case kind == vfs.KindDirectory && !recursive:
			errs = append(errs, fmt.Sprintf("rm: cannot remove '%s': Is a directory", arg))
			continue
		}

		if _, err := r.store.Delete(ctx, inv.Session.ID, target); err != nil {
			return r.storeFailure("rm", arg, err)
		}
		r.notifyDeleted(inv.Request, target)
	}
	r.ensureCwd(ctx, inv.Session)

	if len(errs) > 0 {
		return failure(KindFailed, 1, "%s", strings.Join(errs, "\n"))
	}
	return output("")
}

func (r *Router) find(ctx context.Context, inv *Invocation) *Result {
	if r.store == nil {
		return unavailable(inv.Verb)
	}

	start, pattern, typ := ".", "", ""
	args := inv.Args
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		start, args = args[0], args[1:]
	}
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-name", "-iname", "-type":
			if i+1 >= len(args) {
				return usage("find: missing argument to `%s'", args[i])
			}
			if args[i] == "-type" {
				typ = args[i+1]
			} else {
				pattern = args[i+1]
			}
			i++
		default:
			return usage("find: unknown predicate `%s'", args[i])
		}
	}
	if typ != "" && typ != "f" && typ != "d" {
		return usage("find: Unknown argument to -type: %s", typ)
	}
	if pattern != "" && !doublestar.ValidatePattern(pattern) {
		return usage("find: invalid pattern '%s'", pattern)
	}

	root := inv.Resolve(start)
	kind, res := r.stat(ctx, inv, root)
	if res != nil {
		return res
	}
	if kind == vfs.KindNone {
		return notFound("find: '%s': No such file or directory", start)
	}

	entries := map[string]bool{root: kind == vfs.KindDirectory}
	if kind == vfs.KindDirectory {
		files, err := r.store.Walk(ctx, inv.Session.ID, root)
		if err != nil {
			return r.storeFailure("find", start, err)
		}
		for _, f := range files {
			if !paths.IsMarker(f.Path) {
				entries[f.Path] = false
			}
			for dir := paths.Parent(f.Path); dir != root && paths.Within(dir, root); dir = paths.Parent(dir) {
				entries[dir] = true
			}
		}
	}

	var matched []string
	for p, isDir := range entries {
		if (typ == "f" && isDir) || (typ == "d" && !isDir) {
			continue
		}
		if pattern != "" {
			if ok, _ := doublestar.Match(pattern, paths.Base(p)); !ok {
				continue
			}
		}
		matched = append(matched, p)
	}
	sort.Strings(matched)
	return output(joinLines(matched))
}

func (r *Router) file(ctx context.Context, inv *Invocation) *Result {
	if r.store == nil {
		return unavailable(inv.Verb)
	}
	if len(inv.Args) == 0 {
		return usage("file: missing file operand")
	}

	var (
		lines    []string
		exitCode int
	)
	for _, arg := range inv.Args {
		target := inv.Resolve(arg)
		kind, res := r.stat(ctx, inv, target)
		if res != nil {
			return res
		}
		switch kind {
		case vfs.KindNone:
			lines = append(lines, fmt.Sprintf("%s: cannot open (No such file or directory)", arg))
			exitCode = 1
			continue
		case vfs.KindDirectory:
			lines = append(lines, fmt.Sprintf("%s: directory", arg))
			continue
		}

		f, err := r.store.Read(ctx, inv.Session.ID, target)
		if err != nil {
			return r.storeFailure("file", arg, err)
		}
		lines = append(lines, fmt.Sprintf("%s: %s", arg, describe(f)))
	}

	return &Result{Stdout: joinLines(lines), ExitCode: exitCode}
}

// describe reports MIME type, charset and language of a file's content
func describe(f *vfs.File) string {
	if f.Content == "" {
		return "empty"
	}
	data := []byte(f.Content)
	mime, _, _ := strings.Cut(mimetype.Detect(data).String(), ";")

	charset := "binary"
	if !vfs.IsBinary(f.Content) {
		if best, err := chardet.NewTextDetector().DetectBest(data); err == nil {
			charset = strings.ToLower(best.Charset)
		}
	}
	return fmt.Sprintf("%s; charset=%s (%s)", mime, charset, f.Language)
}
