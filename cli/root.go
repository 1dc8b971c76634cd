// Package cli provides the command-line interface of the OPERANDI broker.
// It wires the cobra command tree, binds flags to environment variables via
// viper, validates the connection URLs before anything forks, and maps
// failures to the documented exit codes:
//
//	0 — clean shutdown
//	2 — URL validation failure at startup
//	1 — unexpected fatal error
//
// Command Structure:
//
//	broker
//	├── start     (supervisor: spawns one worker per queue and parks)
//	├── worker    (hidden: a single worker subprocess, used by start)
//	└── version
package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// RootCmd is the entry command of the broker CLI.
var RootCmd = &cobra.Command{
	Use:           "broker",
	Short:         "OPERANDI broker: bridges RabbitMQ and the HPC cluster",
	Long:          "Entry-point of the multipurpose CLI for the OPERANDI broker",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// ExitCodeError carries a specific process exit code up to main.
type ExitCodeError struct {
	Code int
	Err  error
}

// Error implements the error interface.
func (e *ExitCodeError) Error() string {
	return fmt.Sprintf("exit code %d: %v", e.Code, e.Err)
}

// Unwrap exposes the underlying error.
func (e *ExitCodeError) Unwrap() error {
	return e.Err
}

// ExitCode maps an error returned from RootCmd.Execute to a process exit
// code.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *ExitCodeError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return 1
}
