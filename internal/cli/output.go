package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ExitCode is the process status a command terminates with.
type ExitCode int

const (
	// ExitFailure reports a negative check: a plan that is not viable, an
	// unhealthy database, a rejected voucher, a failed server.
	ExitFailure ExitCode = 1
	// ExitCommandError reports that the command could not run: bad
	// configuration, an unreadable database or migration directory.
	ExitCommandError ExitCode = 2
)

// ExitError carries the exit code a command should terminate with.
type ExitError struct {
	Code    ExitCode
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates an ExitError without an underlying error.
func NewExitError(code ExitCode, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps err with an exit code.
func WrapExitError(code ExitCode, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error. Errors that are not an
// ExitError, such as flag parsing failures, map to ExitFailure.
func GetExitCode(err error) ExitCode {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// Code identifies a failure report in JSON output.
type Code string

// Failure reports written by the commands.
const (
	CodePlan      Code = "E_PLAN"      // migrate: plan is not viable
	CodeAct       Code = "E_ACT"       // migrate apply: a migration failed
	CodeVoucher   Code = "E_VOUCHER"   // voucher inspect: token rejected
	CodeUnhealthy Code = "E_UNHEALTHY" // health: a worker did not answer
)

// Envelope is the JSON form of every command result.
type Envelope struct {
	Status string   `json:"status"` // "ok" or "error"
	Data   any      `json:"data,omitempty"`
	Error  *Problem `json:"error,omitempty"`
}

// Problem describes a failure in an Envelope.
type Problem struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// OutputFormatter writes command results as text or JSON.
type OutputFormatter struct {
	Format string
	Writer io.Writer
}

// Success writes data. Text output relies on data's fmt.Stringer, if any.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(Envelope{Status: "ok", Data: data})
	}
	_, err := fmt.Fprintln(f.Writer, data)
	return err
}

// Error writes a failure report. Text output prints details on a second
// line when set.
func (f *OutputFormatter) Error(code Code, message string, details any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(Envelope{
			Status: "error",
			Error:  &Problem{Code: code, Message: message, Details: details},
		})
	}

	if _, err := fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message); err != nil {
		return err
	}
	if details != nil {
		_, err := fmt.Fprintln(f.Writer, details)
		return err
	}
	return nil
}
