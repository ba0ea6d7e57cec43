package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure by how the pipeline reacts to it
type Kind int

const (
	KindUnknown     Kind = iota
	KindTransport        // connection or timeout on a collaborator stream
	KindProtocol         // malformed or collaborator-reported error message
	KindEmptyResult      // empty transcript or empty final response
	KindInput            // malformed inbound payload
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindProtocol:
		return "protocol"
	case KindEmptyResult:
		return "empty_result"
	case KindInput:
		return "input"
	default:
		return "unknown"
	}
}

// Error is the error type shared by the collaborator clients and the pipeline.
// Message is safe to show to the caller; Err carries the underlying cause.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil && e.Message != "":
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	case e.Err != nil:
		return e.Err.Error()
	default:
		return e.Message
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Transport wraps err as a transport failure of op
func Transport(op string, err error) error {
	return &Error{Kind: KindTransport, Op: op, Err: err}
}

// Protocol reports a collaborator-level failure with a message
func Protocol(op, message string) error {
	return &Error{Kind: KindProtocol, Op: op, Message: message}
}

// EmptyResult reports that a collaborator produced nothing usable
func EmptyResult(message string) error {
	return &Error{Kind: KindEmptyResult, Message: message}
}

// Input reports a malformed inbound payload
func Input(message string) error {
	return &Error{Kind: KindInput, Message: message}
}

// KindOf returns the Kind of the first *Error in err's chain
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// UserMessage returns the text sent to the caller in an error event.
// Messages set explicitly on an *Error win; anything else falls back to err.Error().
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return err.Error()
}
