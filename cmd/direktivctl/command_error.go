// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"

	"github.com/direktiv/direktiv-sub000/pkg/request"
)

// Exit codes.
const (
	ExitOK              = 0
	ExitFailure         = 1
	ExitUsage           = 2
	ExitNotFound        = 3
	ExitInvalidResponse = 4
	ExitAborted         = 5
)

var (
	// errAborted is returned when the user declines a confirmation.
	errAborted = errors.New("aborted")

	// errNotFound is returned when a name does not resolve locally.
	errNotFound = errors.New("not found")

	errOneLogFilter = errors.New("pass at most one of --instance, --activity and --route")
	errFollowBefore = errors.New("--follow cannot be combined with --before")
)

// CommandError is a failed command with the exit code it maps to.
//
// # Example
//
//	err := NewCommandError("files rm", ExitNotFound, "", apiErr)
//	fmt.Println(err.Error()) // "files rm: error 404 for DELETE ..."
type CommandError struct {
	// Command is the command path, e.g. "namespaces delete".
	Command string

	// ExitCode is the process exit code.
	ExitCode int

	// Hint is an optional suggestion printed after the error.
	Hint string

	// Wrapped is the underlying error.
	Wrapped error
}

func (e *CommandError) Error() string {
	if e.Wrapped == nil {
		return fmt.Sprintf("%s (exit %d)", e.Command, e.ExitCode)
	}
	if e.Command == "" {
		return e.Wrapped.Error()
	}
	return fmt.Sprintf("%s: %v", e.Command, e.Wrapped)
}

// Unwrap returns the underlying error.
func (e *CommandError) Unwrap() error {
	return e.Wrapped
}

// NewCommandError creates a CommandError.
func NewCommandError(cmd string, exitCode int, hint string, wrapped error) *CommandError {
	return &CommandError{
		Command:  cmd,
		ExitCode: exitCode,
		Hint:     strings.TrimSpace(hint),
		Wrapped:  wrapped,
	}
}

// usageError marks err as a command line mistake.
func usageError(err error) error {
	return NewCommandError("", ExitUsage, "", err)
}

// WrapCommandError classifies err into a CommandError. An existing
// CommandError is returned with cmd filled in.
//
// # Outputs
//
//   - ExitNotFound for 404 responses
//   - ExitInvalidResponse for responses failing validation
//   - ExitUsage for invalid input
//   - ExitAborted for declined confirmations
//   - ExitFailure for everything else
func WrapCommandError(err error, cmd string) *CommandError {
	if err == nil {
		return nil
	}

	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		if cmdErr.Command == "" {
			cmdErr.Command = cmd
		}
		return cmdErr
	}

	var validation validator.ValidationErrors
	switch {
	case errors.Is(err, errAborted):
		return NewCommandError(cmd, ExitAborted, "", err)
	case request.IsNotFound(err), errors.Is(err, errNotFound):
		return NewCommandError(cmd, ExitNotFound, "", err)
	case request.IsSchemaError(err):
		return NewCommandError(cmd, ExitInvalidResponse,
			"the server response did not have the expected shape; check that the server version matches", err)
	case errors.As(err, &validation):
		return NewCommandError(cmd, ExitUsage, "", err)
	}

	switch request.StatusCode(err) {
	case http.StatusUnauthorized, http.StatusForbidden:
		return NewCommandError(cmd, ExitFailure, "check the API token (--token or DIREKTIV_TOKEN)", err)
	}
	return NewCommandError(cmd, ExitFailure, "", err)
}

// commandName resolves the command path args would run, without the
// root name.
func commandName(root *cobra.Command, args []string) string {
	cmd, _, err := root.Find(args)
	if err != nil || cmd == root {
		return ""
	}
	return strings.TrimPrefix(cmd.CommandPath(), root.Name()+" ")
}
