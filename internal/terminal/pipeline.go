package terminal

import (
	"context"
	"strings"
	"time"

	"github.com/GriffinCanCode/webterm/internal/domain/session"
)

// pipeFilters are the only verbs accepted as the second stage
var pipeFilters = map[string]bool{
	"sort": true,
	"uniq": true,
}

// pipeline runs "first | second", feeding first's stdout to second
func (r *Router) pipeline(ctx context.Context, sess *session.Session, req *Request, first, second string, timeout time.Duration) *Result {
	verb := firstWord(second)
	if !pipeFilters[verb] {
		if verb == "" {
			return usage("syntax error near unexpected token `|'")
		}
		return usage("Pipe to '%s' is not supported (only sort and uniq)", verb)
	}
	if firstWord(first) == "" {
		return usage("syntax error near unexpected token `|'")
	}

	left := r.run(ctx, sess, req, first, nil, timeout)
	if !left.OK() {
		return left
	}
	right := r.run(ctx, sess, req, second, &left.Stdout, timeout)
	if left.Stderr != "" {
		right.Stderr = strings.TrimSpace(strings.Join([]string{left.Stderr, right.Stderr}, "\n"))
	}
	return right
}
