// Package main provides the groundctl CLI entry point.
package main

import (
	"fmt"
	"os"

	"github.com/groundwork-io/groundctl/internal/cli"
	"github.com/groundwork-io/groundctl/pkg/errors"
)

// Exit codes. Scripts branch on these, so they are part of the CLI's
// contract.
const (
	exitOK      = 0
	exitFailure = 1
	exitPartial = 2
	exitLocked  = 3
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
	os.Exit(exitOK)
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, errors.ErrCodePartialApply):
		return exitPartial
	case errors.Is(err, errors.ErrCodeLockBusy):
		return exitLocked
	default:
		return exitFailure
	}
}
