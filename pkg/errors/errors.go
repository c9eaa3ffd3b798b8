package errors

import (
	"errors"
	"fmt"
)

// AppError is a categorized error. Two AppErrors match with errors.Is when
// their codes are equal, so the sentinels below work as category matchers.
type AppError struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Cause }

func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Constructors
func New(code Code, message string) error {
	return &AppError{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) error {
	return &AppError{Code: code, Message: message, Cause: cause}
}

// CodeOf returns the category of err, or CodeUnknown when err carries none.
func CodeOf(err error) Code {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeUnknown
}

var (
	ErrConnection     = New(CodeConnection, "broker connection failed")
	ErrNotConnected   = New(CodeNotConnected, "not connected to broker")
	ErrProtocolParse  = New(CodeProtocolParse, "malformed payload")
	ErrUnknownMessage = New(CodeUnknownMessage, "unknown message type")
	ErrNotGroupAdmin  = New(CodePermission, "not the group admin")
	ErrEmptyArgument  = New(CodeInvalidArgument, "required argument is empty")
)

func Connection(cause error) error {
	return Wrap(CodeConnection, "broker connection failed", cause)
}

func ProtocolParse(what string, cause error) error {
	return Wrap(CodeProtocolParse, "malformed "+what, cause)
}

func UnknownMessage(what, msgType string) error {
	return New(CodeUnknownMessage, fmt.Sprintf("unknown %s type %q", what, msgType))
}
