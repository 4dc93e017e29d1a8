// Package mongoerr maps internal translation and backend failures onto
// MongoDB's wire error taxonomy (spec §6 "Error taxonomy on the wire", §7
// "Error handling design"), the way the teacher repo's
// internal/database/types sentinel errors map storage failures to API
// responses — except here the destination shape is a MongoDB command error
// document, not an HTTP response.
package mongoerr

import (
	"errors"
	"fmt"
)

// Code is a MongoDB wire protocol error code.
type Code int

// Recognized codes from MongoDB's error code enumeration (spec §6).
const (
	CodeBadValue          Code = 2
	CodeFailedToParse     Code = 9
	CodeNamespaceNotFound Code = 26
	CodeIndexNotFound     Code = 27
	CodeCursorNotFound    Code = 43
	CodeCursorInUse       Code = 211
	CodeCommandNotFound   Code = 59
	CodeHostUnreachable   Code = 6
	CodeExceededTimeLimit Code = 50
	CodeReadOnlyOperation Code = 271
	CodeAborted           Code = 261
	CodeInternalError     Code = 1
)

var codeNames = map[Code]string{
	CodeBadValue:          "BadValue",
	CodeFailedToParse:     "FailedToParse",
	CodeNamespaceNotFound: "NamespaceNotFound",
	CodeIndexNotFound:     "IndexNotFound",
	CodeCursorNotFound:    "CursorNotFound",
	CodeCursorInUse:       "CursorInUse",
	CodeCommandNotFound:   "CommandNotFound",
	CodeHostUnreachable:   "HostUnreachable",
	CodeExceededTimeLimit: "ExceededTimeLimit",
	CodeReadOnlyOperation: "ReadOnlyOperation",
	CodeAborted:           "Aborted",
	CodeInternalError:     "InternalError",
}

// Name returns the camelCase codeName the wire protocol expects alongside
// the numeric code.
func (c Code) Name() string {
	if n, ok := codeNames[c]; ok {
		return n
	}
	return "UnknownError"
}

// Error is a MongoDB-shaped command error: never retried, surfaced to the
// client verbatim (spec §7).
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code.Name(), e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code.Name(), e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds an Error with the given code and message.
func New(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches code/message to an existing error for chaining with %w.
func Wrap(code Code, err error, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), cause: err}
}

// BadValue builds a BAD_VALUE translation error (spec §4.1: "Unknown
// operators fail with BAD_VALUE").
func BadValue(format string, args ...interface{}) *Error {
	return New(CodeBadValue, format, args...)
}

// FailedToParse builds a FAILED_TO_PARSE error for malformed command
// documents.
func FailedToParse(format string, args ...interface{}) *Error {
	return New(CodeFailedToParse, format, args...)
}

// NamespaceNotFound builds a NAMESPACE_NOT_FOUND error.
func NamespaceNotFound(ns string) *Error {
	return New(CodeNamespaceNotFound, "namespace %s not found", ns)
}

// ReadOnlyOperation builds the error the OLAP backend returns unconditionally
// for any mutating call (spec §4.9, §8 scenario 6).
func ReadOnlyOperation(operation string) *Error {
	return New(CodeReadOnlyOperation, "%s is not supported: backend is read-only", operation)
}

// CursorNotFound builds the error a getMore against an expired or unknown
// cursor returns (spec §7 "Cursor expiry").
func CursorNotFound(id uint64) *Error {
	return New(CodeCursorNotFound, "cursor id %d not found", id)
}

// CursorInUse builds the error a concurrent getMore against a busy cursor
// returns (spec §5 "Ordering guarantees").
func CursorInUse(id uint64) *Error {
	return New(CodeCursorInUse, "cursor id %d is already in use", id)
}

// Aborted builds the error a cancelled backend call returns (spec §5
// "Cancellation").
func Aborted(operation string) *Error {
	return New(CodeAborted, "%s was aborted", operation)
}

// ExceededTimeLimit builds the error a timed-out query returns.
func ExceededTimeLimit(operation string) *Error {
	return New(CodeExceededTimeLimit, "%s exceeded the configured time limit", operation)
}

// HostUnreachable builds the error a backend returns once its retry budget
// for a transient failure is exhausted (spec §7).
func HostUnreachable(err error) *Error {
	return Wrap(CodeHostUnreachable, err, "backend host unreachable")
}

// CommandNotFound builds the error the dispatcher returns for an
// unrecognized leading command key.
func CommandNotFound(name string) *Error {
	return New(CodeCommandNotFound, "no such command: '%s'", name)
}

// As reports whether err (or something it wraps) is a *Error, and if so
// returns it.
func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}
