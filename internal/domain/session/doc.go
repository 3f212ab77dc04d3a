// Package session manages terminal sessions.
//
// A Session holds the state shared by every connection attached to it: the
// working directory, bounded command history, terminal size and the
// cancellation handle of the command in flight. Commands for one session
// serialize behind its command lock.
//
// Components:
//   - Manager: live sessions behind a concurrent map, restore and terminate
//   - Repository: snapshot persistence (memory, or Redis with zstd)
//   - Sweeper: cron-driven expiry of detached idle sessions
//
// Lifecycle:
//  1. GetOrCreate restores an active snapshot or starts at "/"
//  2. Attach/Detach track terminal connections
//  3. Sweep terminates sessions that are detached, idle and past expiry
//  4. Terminate runs hooks, persists a terminated snapshot, drops state
package session
