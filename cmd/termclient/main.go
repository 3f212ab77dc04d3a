package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
)

type options struct {
	url          string
	token        string
	session      string
	connectionID string
	timeout      time.Duration
}

// exitCodeError carries a remote command's return code out of cobra
type exitCodeError struct {
	code int
}

func (e *exitCodeError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

func main() {
	err := newRootCmd().Execute()
	var exit *exitCodeError
	switch {
	case err == nil:
	case errors.As(err, &exit):
		os.Exit(exit.code)
	default:
		fmt.Fprintln(os.Stderr, "termclient:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "termclient",
		Short:         "Command-line client for a webterm server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.url, "url", envOr("WEBTERM_URL", "ws://localhost:8000"), "Server base URL")
	root.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("WEBTERM_TOKEN"), "Bearer token")
	root.PersistentFlags().StringVarP(&opts.session, "session", "s", "", "Session ID (empty starts a new session)")
	root.PersistentFlags().StringVar(&opts.connectionID, "connection-id", "", "Resume a previous connection")

	root.AddCommand(newConnectCmd(opts), newExecCmd(opts))
	return root
}

func newConnectCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "connect",
		Short: "Open an interactive terminal session",
		Long: `Open an interactive terminal session.

Commands run on the server against the session's virtual filesystem.
Ctrl+C interrupts the running command; Ctrl+D or "exit" leaves the
session, which stays alive on the server until it expires.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return interactive(cmd.Context(), opts)
		},
	}
}

func newExecCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exec <command>",
		Short: "Run one command and exit with its return code",
		Example: `  termclient exec --session demo "ls -la"
  termclient exec -s demo python main.py`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return execOnce(cmd.Context(), opts, strings.Join(args, " "), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 5*time.Minute, "Give up waiting after this long")
	return cmd
}

func terminalPath(session string) string {
	if session == "" {
		return "/ws/terminal"
	}
	return "/ws/terminal/" + session
}

func execOnce(ctx context.Context, opts *options, command string, stdout, stderr io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	c, err := dial(ctx, opts.url, terminalPath(opts.session), opts.token, opts.connectionID)
	if err != nil {
		return err
	}
	defer c.close()
	c.notices = io.Discard

	if _, err := c.welcome(ctx); err != nil {
		return err
	}
	res, err := c.run(ctx, command)
	if err != nil {
		return err
	}
	render(res, stdout, stderr)
	if code := res.code(); code != 0 {
		return &exitCodeError{code: code}
	}
	return nil
}

func interactive(ctx context.Context, opts *options) error {
	if ctx == nil {
		ctx = context.Background()
	}
	c, err := dial(ctx, opts.url, terminalPath(opts.session), opts.token, opts.connectionID)
	if err != nil {
		return err
	}
	defer c.close()

	welcome, err := c.welcome(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("%s (session %s)\n", welcome.str("message"), welcome.str("session_id"))
	cwd := welcome.str("working_directory")

	historyFile := ""
	if home, err := os.UserHomeDir(); err == nil {
		historyFile = filepath.Join(home, ".webterm_history")
	}
	rl, err := readline.NewEx(&readline.Config{
		Prompt:            prompt(cwd),
		HistoryFile:       historyFile,
		HistoryLimit:      1000,
		HistorySearchFold: true,
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
	})
	if err != nil {
		return fmt.Errorf("failed to create readline: %w", err)
	}
	defer rl.Close()

	for {
		c.drain()
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		command := strings.TrimSpace(line)
		switch command {
		case "":
			continue
		case "exit", "quit":
			return nil
		}

		res, err := c.run(ctx, command)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			if errors.Is(err, errClosed) {
				return err
			}
			continue
		}
		render(res, os.Stdout, os.Stderr)
		if dir := res.str("working_directory"); dir != "" {
			cwd = dir
			rl.SetPrompt(prompt(cwd))
		}
	}
}

func prompt(cwd string) string {
	if cwd == "" {
		cwd = "/"
	}
	return cwd + " $ "
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
