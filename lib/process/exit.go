// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// ExitCoder is implemented by errors that carry a specific process exit
// status (for example, configuration errors exit 2).
type ExitCoder interface {
	ExitCode() int
}

// UsageError marks an error caused by invalid flags or configuration.
// Fatal exits with status 2 for these.
type UsageError struct {
	Err error
}

func (e *UsageError) Error() string { return e.Err.Error() }
func (e *UsageError) Unwrap() error { return e.Err }

// ExitCode implements ExitCoder.
func (e *UsageError) ExitCode() int { return 2 }

// Fatal writes "error: err" to stderr and exits. The exit status is
// taken from an ExitCoder in err's chain, defaulting to 1.
func Fatal(err error) {
	os.Exit(report(os.Stderr, err))
}

func report(w io.Writer, err error) int {
	fmt.Fprintf(w, "error: %v\n", err)
	var coder ExitCoder
	if errors.As(err, &coder) {
		return coder.ExitCode()
	}
	return 1
}
