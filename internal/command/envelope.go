// Package command decodes envelope requests into typed commands and runs
// them against the session manager.
package command

import "fmt"

// Code is an envelope-level error code.
type Code int

const (
	CodeParseError      Code = -32700
	CodeInvalidRequest  Code = -32600
	CodeUnknownMethod   Code = -32601
	CodeInvalidParams   Code = -32602
	CodeInternal        Code = -32603
	CodeSessionNotFound Code = -32001
	CodeForbidden       Code = -32003
)

func (c Code) String() string {
	switch c {
	case CodeParseError:
		return "parse_error"
	case CodeInvalidRequest:
		return "invalid_request"
	case CodeUnknownMethod:
		return "unknown_method"
	case CodeInvalidParams:
		return "invalid_params"
	case CodeInternal:
		return "internal_error"
	case CodeSessionNotFound:
		return "session_not_found"
	case CodeForbidden:
		return "forbidden"
	default:
		return fmt.Sprintf("code_%d", int(c))
	}
}

// Request is one call. Params is decoded into the method's command type.
type Request struct {
	ID     string         `json:"id"`
	Method string         `json:"method"`
	Params map[string]any `json:"params,omitempty"`
}

// Response carries exactly one of Result or Error.
type Response struct {
	ID     string `json:"id"`
	Result any    `json:"result,omitempty"`
	Error  *Error `json:"error,omitempty"`
}

type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, int(e.Code), e.Message)
}

func newError(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Failure is the result of a well-formed call the timeline or session
// rejected. It is never an envelope error.
type Failure struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
}
