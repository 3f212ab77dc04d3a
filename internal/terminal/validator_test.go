package terminal

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatorRejects(t *testing.T) {
	v := NewValidator([]string{"/usr/bin"})

	tests := []struct {
		name    string
		command string
		rule    Rule
		reason  string
	}{
		{"empty", "   ", RuleFormat, "invalid command format"},
		{"unbalanced quotes", `echo "hello`, RuleFormat, "invalid command format"},
		{"sudo", "sudo ls", RuleBlocked, "command 'sudo' is not allowed"},
		{"su", "su root", RuleBlocked, "command 'su' is not allowed"},
		{"shutdown", "shutdown now", RuleBlocked, "command 'shutdown' is not allowed"},
		{"two word entry", "chmod 777 file", RuleBlocked, "command 'chmod 777' is not allowed"},
		{"blocked after pipe", "ls | reboot", RuleBlocked, "command 'reboot' is not allowed"},
		{"rm root", "rm -rf /", RulePattern, "not allowed"},
		{"rm root glob", "rm -rf /*", RulePattern, "not allowed"},
		{"dd", "echo x; dd if=/dev/zero", RulePattern, "not allowed"},
		{"fork bomb", ":(){ :|:& };:", RulePattern, "not allowed"},
		{"embedded sudo", "echo hi && sudo rm x", RulePattern, "not allowed"},
		{"traversal", "cat ../secret", RuleTraversal, "path traversal is not allowed"},
		{"traversal in cd path", "cd ../..", RuleTraversal, "path traversal is not allowed"},
		{"nested traversal", "ls a/../../b", RuleTraversal, "path traversal is not allowed"},
		{"absolute outside roots", "/bin/bash -c ls", RuleWorkspace, "access outside workspace is not allowed"},
		{"home relative", "~/bin/tool", RuleWorkspace, "access outside workspace is not allowed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(tt.command)
			require.Error(t, err)

			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.rule, verr.Rule)
			assert.Contains(t, verr.Reason, tt.reason)

			// rejection is stable
			assert.Equal(t, err.Error(), v.Validate(tt.command).Error())
		})
	}
}

func TestValidatorAllows(t *testing.T) {
	v := NewValidator([]string{"/usr/bin"})

	for _, command := range []string{
		"ls",
		"cd ..",
		"cd /src",
		`echo "hello world" > notes.txt`,
		"grep -i hello main.py",
		"sort data.txt | uniq",
		"rm -rf /build",
		"./run.sh",
		"bin/tool --flag",
		"/usr/bin/env python3",
		"python -c 'print(1)'",
		"visual studio",
		"issue list",
	} {
		assert.NoError(t, v.Validate(command), command)
	}
}

func TestValidatorWithoutRoots(t *testing.T) {
	v := NewValidator(nil)
	assert.Error(t, v.Validate("/usr/bin/env"))
	assert.NoError(t, v.Validate("env"))
}

func TestStages(t *testing.T) {
	got := stages([]string{"ls", "-l", "|", "sort", "-r"})
	assert.Equal(t, [][]string{{"ls", "-l"}, {"sort", "-r"}}, got)
}
