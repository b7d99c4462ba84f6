// Package errors provides the typed error taxonomy shared by the
// Fuse, HComb, and HBee roles. Every error carries a human-readable
// Reason and Suggestion alongside the Go error chain.
package errors

import (
	"fmt"
)

// BuzzError is the base error type for all Buzz errors.
type BuzzError struct {
	Code       ErrorCode
	Message    string
	Reason     string
	Suggestion string
	Cause      error
}

// ErrorCode categorizes an error for process-exit-code mapping.
type ErrorCode int

const (
	CodeBadRequest ErrorCode = iota + 1
	CodeNotImplemented
	CodePlanExecution
	CodeColumnarIO
	CodeDownload
	CodeCloudClient
	CodeHBee
	CodeInternal
)

func (e *BuzzError) Error() string {
	msg := e.Message
	if e.Reason != "" {
		msg = fmt.Sprintf("%s\nReason: %s", msg, e.Reason)
	}
	if e.Suggestion != "" {
		msg = fmt.Sprintf("%s\nSuggestion: %s", msg, e.Suggestion)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s\nCaused by: %v", msg, e.Cause)
	}
	return msg
}

func (e *BuzzError) Unwrap() error {
	return e.Cause
}

// ExitCode reports the process exit status a CLI entrypoint should
// return for this error (see ExitCode(ErrorCode) below).
func (e *BuzzError) ExitCode() int {
	return ExitCode(e.Code)
}

// ErrBadRequest wraps malformed-input errors: unparseable query JSON,
// a reduce step that does not source from the map step, or a
// predicate that mixes partition and row-level columns.
type ErrBadRequest struct {
	BuzzError
}

func NewBadRequest(reason, suggestion string) *ErrBadRequest {
	return &ErrBadRequest{BuzzError{
		Code:       CodeBadRequest,
		Message:    "malformed query",
		Reason:     reason,
		Suggestion: suggestion,
	}}
}

// ErrReduceSourceMismatch is returned when the reduce SQL's leaf
// source is not the map step's declared output name.
type ErrReduceSourceMismatch struct {
	BuzzError
	Expected string
	Found    string
}

func NewReduceSourceMismatch(expected, found string) *ErrReduceSourceMismatch {
	return &ErrReduceSourceMismatch{
		BuzzError: BuzzError{
			Code:       CodeBadRequest,
			Message:    "reduce source is not an HBee output",
			Reason:     fmt.Sprintf("reduce SQL references %q, expected %q", found, expected),
			Suggestion: "select from the map step's declared name in the reduce SQL",
		},
		Expected: expected,
		Found:    found,
	}
}

// ErrMixedPredicate is returned when a filter predicate references
// both partition and row-level columns.
type ErrMixedPredicate struct {
	BuzzError
	Predicate string
}

func NewMixedPredicate(predicate string) *ErrMixedPredicate {
	return &ErrMixedPredicate{
		BuzzError: BuzzError{
			Code:       CodeBadRequest,
			Message:    "predicate mixes partition and row columns",
			Reason:     fmt.Sprintf("predicate %q references both kinds of column", predicate),
			Suggestion: "split the predicate so each clause references only one kind of column",
		},
		Predicate: predicate,
	}
}

// ErrNotImplemented covers plan shapes this engine does not support:
// more than one input per plan node, or a query that is not exactly
// one map step followed by one reduce step.
type ErrNotImplemented struct {
	BuzzError
}

func NewNotImplemented(reason string) *ErrNotImplemented {
	return &ErrNotImplemented{BuzzError{
		Code:       CodeNotImplemented,
		Message:    "unsupported plan shape",
		Reason:     reason,
		Suggestion: "rewrite the query as a single map stage followed by a single reduce stage",
	}}
}

// ErrPlanExecution wraps an error surfaced by the SQL parse/plan/exec
// engine.
type ErrPlanExecution struct {
	BuzzError
}

func NewPlanExecution(cause error) *ErrPlanExecution {
	return &ErrPlanExecution{BuzzError{
		Code:    CodePlanExecution,
		Message: "query plan/execution failed",
		Cause:   cause,
	}}
}

// ErrColumnarIO wraps an error from the Parquet/Arrow reader or
// serialization layer.
type ErrColumnarIO struct {
	BuzzError
}

func NewColumnarIO(reason string, cause error) *ErrColumnarIO {
	return &ErrColumnarIO{BuzzError{
		Code:    CodeColumnarIO,
		Message: "columnar I/O failed",
		Reason:  reason,
		Cause:   cause,
	}}
}

// ErrDownload wraps an object-store GET failure, including a wrong
// byte count.
type ErrDownload struct {
	BuzzError
}

func NewDownload(reason string, cause error) *ErrDownload {
	return &ErrDownload{BuzzError{
		Code:       CodeDownload,
		Message:    "object download failed",
		Reason:     reason,
		Suggestion: "verify the object key and range are valid",
		Cause:      cause,
	}}
}

// ErrCloudClient wraps an invoke/run-task/describe-task failure or
// timeout.
type ErrCloudClient struct {
	BuzzError
}

func NewCloudClient(op string, cause error) *ErrCloudClient {
	return &ErrCloudClient{BuzzError{
		Code:       CodeCloudClient,
		Message:    fmt.Sprintf("cloud control-plane call %q failed", op),
		Suggestion: "check cloud credentials, quotas, and network reachability",
		Cause:      cause,
	}}
}

// ErrHBee wraps a worker-reported failure, as surfaced to the
// aggregator's result stream.
type ErrHBee struct {
	BuzzError
	QueryID string
}

func NewHBeeFailure(queryID, reason string) *ErrHBee {
	return &ErrHBee{
		BuzzError: BuzzError{
			Code:    CodeHBee,
			Message: "worker reported failure",
			Reason:  reason,
		},
		QueryID: queryID,
	}
}

// ErrInternal covers invariant violations: empty partitions where at
// least one was required, a download that was never scheduled, a
// scan() called twice on a single-use stream, and similar states the
// rest of the system should never produce.
type ErrInternal struct {
	BuzzError
}

func NewInternal(reason string) *ErrInternal {
	return &ErrInternal{BuzzError{
		Code:       CodeInternal,
		Message:    "internal invariant violated",
		Reason:     reason,
		Suggestion: "this indicates a bug; please file an issue with the query_id",
	}}
}

// ExitCode maps an ErrorCode to a process exit status for the CLI
// entrypoints. Clean idle-expiry is not an error and exits 0 from the
// caller directly, not through this mapping.
func ExitCode(code ErrorCode) int {
	switch code {
	case CodeBadRequest:
		return 10
	case CodeNotImplemented:
		return 11
	case CodePlanExecution:
		return 12
	case CodeColumnarIO:
		return 13
	case CodeDownload:
		return 14
	case CodeCloudClient:
		return 15
	case CodeHBee:
		return 16
	default:
		return 1
	}
}
