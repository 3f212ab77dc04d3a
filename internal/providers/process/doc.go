// Package process runs subprocesses on behalf of terminal sessions.
//
// Features:
//   - At most one live process per session
//   - Timeouts kill the whole process group, never just the leader
//   - Interrupt (Ctrl+C) cancels the running process from another goroutine
//   - Stdin forwarding for programs that prompt for input
//   - Bounded stdout/stderr capture
//
// Architecture:
//   - Each process gets its own process group (Setpgid) so shell pipelines
//     and forked children die together
//   - Handles live in a sync.Map keyed by session ID and are removed when
//     the process exits
//   - Cancellation causes distinguish timeout from interrupt
package process
