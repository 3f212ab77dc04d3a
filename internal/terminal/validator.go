package terminal

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/shlex"
)

// Rule names the check a command failed; used as the metrics label
type Rule string

const (
	RuleFormat    Rule = "invalid_format"
	RuleBlocked   Rule = "blocked_command"
	RulePattern   Rule = "blocked_pattern"
	RuleTraversal Rule = "path_traversal"
	RuleWorkspace Rule = "outside_workspace"
)

// ValidationError explains why a command line was rejected
type ValidationError struct {
	Rule   Rule
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

func reject(rule Rule, format string, args ...any) *ValidationError {
	return &ValidationError{Rule: rule, Reason: fmt.Sprintf(format, args...)}
}

var defaultBlocked = []string{
	"sudo", "su", "dd", "mkfs", "fdisk",
	"shutdown", "reboot", "halt", "poweroff",
	"passwd", "mount", "umount", "useradd", "userdel",
	"chmod 777", "chown root",
}

var defaultPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bsudo\s`),
	regexp.MustCompile(`\bsu\s`),
	regexp.MustCompile(`\brm\s+-(rf|fr)\s+/(\*)?(\s|$)`),
	regexp.MustCompile(`\bdd\s+if=`),
	regexp.MustCompile(`\bmkfs`),
	regexp.MustCompile(`:\(\)\s*\{`),
}

// Validator screens command lines before any handler runs. It holds no
// mutable state and is safe for concurrent use.
type Validator struct {
	blocked      map[string]bool
	patterns     []*regexp.Regexp
	allowedRoots []string
}

// NewValidator creates a validator. Absolute executables are permitted only
// beneath allowedExecRoots.
func NewValidator(allowedExecRoots []string) *Validator {
	v := &Validator{
		blocked:  make(map[string]bool, len(defaultBlocked)),
		patterns: defaultPatterns,
	}
	for _, entry := range defaultBlocked {
		v.blocked[entry] = true
	}
	for _, root := range allowedExecRoots {
		if root = strings.TrimSpace(root); root != "" {
			v.allowedRoots = append(v.allowedRoots, filepath.Clean(root))
		}
	}
	return v
}

// Validate returns nil when line may run, or a *ValidationError
func (v *Validator) Validate(line string) error {
	if strings.TrimSpace(line) == "" {
		return reject(RuleFormat, "invalid command format")
	}

	tokens, err := shlex.Split(line)
	if err != nil {
		return reject(RuleFormat, "invalid command format: %v", err)
	}
	if len(tokens) == 0 {
		return reject(RuleFormat, "invalid command format")
	}

	for _, stage := range stages(tokens) {
		if len(stage) == 0 {
			continue
		}
		if entry, ok := v.blockedEntry(stage); ok {
			return reject(RuleBlocked, "command '%s' is not allowed", entry)
		}
	}

	for _, pattern := range v.patterns {
		if pattern.MatchString(line) {
			return reject(RulePattern, "command matches a blocked pattern and is not allowed")
		}
	}

	isCdUp := len(tokens) == 2 && tokens[0] == "cd" && tokens[1] == ".."
	if !isCdUp {
		for _, token := range tokens {
			if strings.Contains(token, "..") {
				return reject(RuleTraversal, "path traversal is not allowed")
			}
		}
	}

	for _, stage := range stages(tokens) {
		if len(stage) > 0 && !v.executableAllowed(stage[0]) {
			return reject(RuleWorkspace, "access outside workspace is not allowed")
		}
	}
	return nil
}

func (v *Validator) blockedEntry(stage []string) (string, bool) {
	if len(stage) >= 2 {
		if pair := stage[0] + " " + stage[1]; v.blocked[pair] {
			return pair, true
		}
	}
	if v.blocked[stage[0]] {
		return stage[0], true
	}
	return "", false
}

func (v *Validator) executableAllowed(exe string) bool {
	switch {
	case strings.HasPrefix(exe, "~"):
		return false
	case !strings.HasPrefix(exe, "/"):
		// bare verbs and workspace-relative paths
		return true
	}
	exe = filepath.Clean(exe)
	for _, root := range v.allowedRoots {
		if exe == root || strings.HasPrefix(exe, root+string(filepath.Separator)) || root == "/" {
			return true
		}
	}
	return false
}

// stages splits tokens at pipe tokens
func stages(tokens []string) [][]string {
	var out [][]string
	start := 0
	for i, token := range tokens {
		if token == "|" {
			out = append(out, tokens[start:i])
			start = i + 1
		}
	}
	return append(out, tokens[start:])
}
