// Package terminal interprets command lines against a session's virtual
// filesystem.
//
// Every line passes the Validator before anything runs. The Router then
// splits off an optional "> file" redirect and at most one pipe, looks the
// verb up in its handler table and falls back to running unknown verbs as
// subprocesses inside the session's temp workspace.
//
// Built-in verbs (cd, ls, cat, mkdir, touch, cp, mv, rm, grep, find, head,
// tail, wc, sort, uniq, echo, ...) work on the vfs.Store directly. python
// and pip run through the process runner; node and js evaluate in-process
// with goja.
//
// Handlers never return Go errors: failures are reported in Result with a
// shell-style exit code and a Kind for metrics and clients.
package terminal
