// Package main provides the CLI entry point for the MLA hierarchical
// multi-agent orchestrator: mla run|resume|inspect.
package main

import (
	"fmt"
	"log/slog"
	"os"
)

// Exit codes: 0 success, 1 error or max-turns exceeded, 130
// user interrupt (SIGINT/SIGTERM).
const (
	exitOK        = 0
	exitError     = 1
	exitInterrupt = 130
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		if code, ok := asExitCode(err); ok {
			os.Exit(code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitError)
	}
}

// exitCodeError lets a subcommand communicate the interrupt exit code
// distinctly from an ordinary failure, without cobra printing a redundant
// "Error:" line for a user-initiated Ctrl-C.
type exitCodeError struct {
	code int
	err  error
}

func (e *exitCodeError) Error() string { return e.err.Error() }
func (e *exitCodeError) Unwrap() error { return e.err }

func asExitCode(err error) (int, bool) {
	var ec *exitCodeError
	for e := err; e != nil; {
		if cast, ok := e.(*exitCodeError); ok {
			ec = cast
			break
		}
		u, ok := e.(interface{ Unwrap() error })
		if !ok {
			break
		}
		e = u.Unwrap()
	}
	if ec == nil {
		return 0, false
	}
	return ec.code, true
}
