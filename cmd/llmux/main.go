// Package main is the llmux CLI: run/validate/doctor and read-only
// inspection of the loaded configuration (spec §6). Grounded on a
// command-registration shape, reworked onto spf13/cobra since
// alecthomas/kong lived only in the deleted pkg/ tree.
package main

import (
	"errors"
	"fmt"
	"os"
)

// exitError carries the process exit code a subcommand wants, distinct
// from cobra's default "any error means exit 1" behavior (spec §6 "Exit
// codes: 0 = all steps succeeded, 1 = one or more failed, 2 = validation
// error, 130 = cancelled").
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func newExitError(code int, err error) error {
	if err == nil {
		return nil
	}
	return &exitError{code: code, err: err}
}

func main() {
	os.Exit(run())
}

func run() int {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			if ee.err != nil {
				fmt.Fprintln(os.Stderr, ee.err)
			}
			return ee.code
		}
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}
