// Package cmd wires the adimagegen CLI: a "run" subcommand that drives
// one Run to a terminal state from the shell, and a "serve" subcommand
// that exposes the HTTP Surface.
package cmd

import (
	"github.com/spf13/cobra"
)

// exitError carries a process exit code alongside the underlying error,
// so main can translate it without the root command needing to know
// cobra's error-printing behavior.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func newExitError(code int, err error) error {
	return &exitError{code: code, err: err}
}

// ExitCodeFor returns the process exit code for an error returned by
// the root command, defaulting to 1 for anything not explicitly coded.
func ExitCodeFor(err error) int {
	if err == nil {
		return 0
	}
	if ee, ok := err.(*exitError); ok {
		return ee.code
	}
	return 1
}

// NewRootCmd builds the adimagegen root command.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "adimagegen",
		Short:         "Batch ad-image generation pipeline",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.AddCommand(newRunCmd())
	root.AddCommand(newServeCmd())
	return root
}
