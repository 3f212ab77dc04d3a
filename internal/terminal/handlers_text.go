package terminal

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/GriffinCanCode/webterm/internal/shared/paths"
	"github.com/GriffinCanCode/webterm/internal/vfs"
)

const defaultLineCount = 10

// splitLines breaks content into lines, ignoring one trailing newline
func splitLines(content string) []string {
	if content == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(content, "\n"), "\n")
}

// joinLines renders lines one per row with a final newline
func joinLines(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}

// input returns the text a filter verb works on: the named file, else the
// previous pipeline stage.
func (r *Router) input(ctx context.Context, inv *Invocation, operands []string) (string, string, *Result) {
	if len(operands) == 0 {
		if inv.Input != nil {
			return *inv.Input, "-", nil
		}
		return "", "", usage("%s: missing file operand", inv.Verb)
	}
	if r.store == nil {
		return "", "", unavailable(inv.Verb)
	}
	f, res := r.readFile(ctx, inv, operands[0])
	if res != nil {
		return "", "", res
	}
	return f.Content, operands[0], nil
}

func (r *Router) echo(_ context.Context, inv *Invocation) *Result {
	args := inv.Args
	newline := "\n"
	if len(args) > 0 && args[0] == "-n" {
		args, newline = args[1:], ""
	}
	return output(strings.Join(args, " ") + newline)
}

func (r *Router) grep(ctx context.Context, inv *Invocation) *Result {
	flags, operands, res := parseFlags("grep", inv.Args, "inrH")
	if res != nil {
		return res
	}
	if len(operands) == 0 {
		return usage("grep: missing pattern")
	}

	expr := operands[0]
	if flags['i'] {
		expr = "(?i)" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return usage("grep: invalid pattern: %v", err)
	}

	type source struct{ name, content string }
	var sources []source
	switch {
	case len(operands) > 1:
		if r.store == nil {
			return unavailable(inv.Verb)
		}
		for _, arg := range operands[1:] {
			f, res := r.readFile(ctx, inv, arg)
			if res != nil {
				return res
			}
			sources = append(sources, source{paths.Base(f.Path), f.Content})
		}
	case inv.Input != nil:
		sources = append(sources, source{"(standard input)", *inv.Input})
	default:
		if r.store == nil {
			return unavailable(inv.Verb)
		}
		files, err := r.store.Walk(ctx, inv.Session.ID, paths.Root)
		if err != nil {
			return r.storeFailure("grep", "/", err)
		}
		for _, f := range files {
			if paths.IsMarker(f.Path) || vfs.IsBinary(f.Content) {
				continue
			}
			sources = append(sources, source{paths.Base(f.Path), f.Content})
		}
	}

	var matches []string
	for _, src := range sources {
		for n, line := range splitLines(src.content) {
			if re.MatchString(line) {
				matches = append(matches, fmt.Sprintf("%s:%d:%s", src.name, n+1, line))
			}
		}
	}
	if len(matches) == 0 {
		return &Result{Stdout: "\n", ExitCode: 1}
	}
	return output(joinLines(matches))
}

// lineCount parses "-n N", "-nN" and "-N"
func lineCount(verb string, args []string) (int, []string, *Result) {
	n := defaultLineCount
	var operands []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		var raw string
		switch {
		case arg == "-n":
			if i+1 >= len(args) {
				return 0, nil, usage("%s: option requires an argument -- 'n'", verb)
			}
			raw = args[i+1]
			i++
		case strings.HasPrefix(arg, "-n"):
			raw = arg[2:]
		case len(arg) > 1 && arg[0] == '-':
			raw = arg[1:]
		default:
			operands = append(operands, arg)
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			return 0, nil, usage("%s: invalid number of lines: '%s'", verb, raw)
		}
		n = v
	}
	return n, operands, nil
}

func (r *Router) head(ctx context.Context, inv *Invocation) *Result {
	n, operands, res := lineCount("head", inv.Args)
	if res != nil {
		return res
	}
	content, _, res := r.input(ctx, inv, operands)
	if res != nil {
		return res
	}
	lines := splitLines(content)
	if len(lines) > n {
		lines = lines[:n]
	}
	return output(joinLines(lines))
}

func (r *Router) tail(ctx context.Context, inv *Invocation) *Result {
	n, operands, res := lineCount("tail", inv.Args)
	if res != nil {
		return res
	}
	content, _, res := r.input(ctx, inv, operands)
	if res != nil {
		return res
	}
	lines := splitLines(content)
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return output(joinLines(lines))
}

func (r *Router) wc(ctx context.Context, inv *Invocation) *Result {
	content, name, res := r.input(ctx, inv, inv.Args)
	if res != nil {
		return res
	}
	lines := strings.Count(content, "\n")
	words := len(strings.Fields(content))
	chars := utf8.RuneCountInString(content)
	return output(fmt.Sprintf(" %d %d %d %s\n", lines, words, chars, name))
}

func (r *Router) sort(ctx context.Context, inv *Invocation) *Result {
	flags, operands, res := parseFlags("sort", inv.Args, "r")
	if res != nil {
		return res
	}
	content, _, res := r.input(ctx, inv, operands)
	if res != nil {
		return res
	}
	lines := splitLines(content)
	if flags['r'] {
		sort.Sort(sort.Reverse(sort.StringSlice(lines)))
	} else {
		sort.Strings(lines)
	}
	return output(joinLines(lines))
}

func (r *Router) uniq(ctx context.Context, inv *Invocation) *Result {
	content, _, res := r.input(ctx, inv, inv.Args)
	if res != nil {
		return res
	}
	var out []string
	for i, line := range splitLines(content) {
		if i > 0 && line == out[len(out)-1] {
			continue
		}
		out = append(out, line)
	}
	return output(joinLines(out))
}

func (r *Router) clear(context.Context, *Invocation) *Result {
	return output(ClearSentinel)
}

func (r *Router) history(_ context.Context, inv *Invocation) *Result {
	var lines []string
	for i, cmd := range inv.Session.History() {
		lines = append(lines, fmt.Sprintf("%5d  %s", i+1, cmd))
	}
	return output(joinLines(lines))
}

func (r *Router) whoami(_ context.Context, inv *Invocation) *Result {
	if inv.Request.UserID == "" {
		return output("anonymous\n")
	}
	return output(inv.Request.UserID + "\n")
}
