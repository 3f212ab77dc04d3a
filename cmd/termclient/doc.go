// Command termclient talks to a webterm server from a real terminal.
//
//	termclient connect --url ws://localhost:8000 --session demo
//	termclient exec --session demo "python main.py"
//
// connect opens an interactive prompt with line editing and history;
// exec runs one command and exits with its return code. WEBTERM_URL and
// WEBTERM_TOKEN provide defaults for --url and --token.
package main
