package terminal

import (
	"errors"
	"strings"

	"github.com/google/shlex"
)

var errEmptyTarget = errors.New("syntax error near unexpected token `newline'")

// operators returns the offsets of '|' and '>' outside quotes. A backslash
// escapes the next byte outside single quotes.
func operators(line string) (pipes, redirects []int) {
	var quote byte
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case c == '\\' && quote != '\'':
			i++
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == '|':
			pipes = append(pipes, i)
		case c == '>':
			redirects = append(redirects, i)
		}
	}
	return pipes, redirects
}

// splitPipeline splits line at unquoted pipes
func splitPipeline(line string) []string {
	pipes, _ := operators(line)
	if len(pipes) == 0 {
		return []string{strings.TrimSpace(line)}
	}
	stages := make([]string, 0, len(pipes)+1)
	prev := 0
	for _, at := range pipes {
		stages = append(stages, strings.TrimSpace(line[prev:at]))
		prev = at + 1
	}
	return append(stages, strings.TrimSpace(line[prev:]))
}

type redirect struct {
	target string
	append bool
}

// splitRedirect separates a trailing "> file" or ">> file" from line
func splitRedirect(line string) (string, *redirect, error) {
	_, redirects := operators(line)
	if len(redirects) == 0 {
		return line, nil, nil
	}

	at := redirects[0]
	r := &redirect{}
	rest := line[at+1:]
	if strings.HasPrefix(rest, ">") {
		r.append = true
		rest = rest[1:]
	}

	words, err := shlex.Split(rest)
	if err != nil {
		return "", nil, err
	}
	if len(words) != 1 {
		return "", nil, errEmptyTarget
	}
	r.target = words[0]
	return strings.TrimSpace(line[:at]), r, nil
}

// remainder returns the raw text following the first word of line
func remainder(line string) string {
	line = strings.TrimSpace(line)
	if i := strings.IndexAny(line, " \t"); i >= 0 {
		return strings.TrimSpace(line[i:])
	}
	return ""
}

// unquote strips one pair of matching outer quotes
func unquote(s string) string {
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}
