package link

import (
	"errors"
	"fmt"

	"github.com/robotalks/flightlink/pkg/cmdset"
)

// Code is the result code surfaced to callers.
type Code int

// Result codes.
const (
	Success Code = iota
	Timeout
	TransportError
	ResourceBusy
	MalformedResponse
	UnsupportedCommand
)

// String implements fmt.Stringer.
func (c Code) String() string {
	switch c {
	case Success:
		return "SUCCESS"
	case Timeout:
		return "TIMEOUT"
	case TransportError:
		return "TRANSPORT_ERROR"
	case ResourceBusy:
		return "RESOURCE_BUSY"
	case MalformedResponse:
		return "MALFORMED_RESPONSE"
	case UnsupportedCommand:
		return "UNSUPPORTED_COMMAND"
	}
	return fmt.Sprintf("CODE(%d)", int(c))
}

var (
	// ErrClosed indicates the dispatcher stopped receiving.
	ErrClosed = errors.New("link closed")
	// ErrUnknownCommand indicates the command is not in the registry.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrNotRequest indicates the command can't be sent as a request.
	ErrNotRequest = errors.New("not a request command")
	// ErrNoSequence indicates all sequence numbers are outstanding.
	ErrNoSequence = errors.New("no free sequence number")
	// ErrShortAck indicates the ack payload is shorter than expected.
	ErrShortAck = errors.New("ack payload too short")
	// ErrNoCompletion indicates a sync call gave up waiting.
	ErrNoCompletion = errors.New("no completion before deadline")
	// ErrAttemptsExhausted indicates no ack after all attempts.
	ErrAttemptsExhausted = errors.New("no ack after all attempts")
)

// Error is the error carried by a failed Result.
type Error struct {
	Code Code
	Cmd  cmdset.ID
	Err  error
}

// Error implements error.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("command %s: %s: %v", e.Cmd, e.Code, e.Err)
	}
	return fmt.Sprintf("command %s: %s", e.Cmd, e.Code)
}

// Unwrap returns the cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates an Error.
func NewError(code Code, cmd cmdset.ID, cause error) *Error {
	return &Error{Code: code, Cmd: cmd, Err: cause}
}

// CodeOf extracts the Code from an error returned by this package.
// nil is Success, foreign errors report TransportError.
func CodeOf(err error) Code {
	if err == nil {
		return Success
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return TransportError
}

// Result is the completion of a request.
type Result struct {
	Code Code
	// Data is the ack payload. It's also set for MalformedResponse.
	Data []byte
	// Err is non-nil iff Code is not Success.
	Err error
}

// OK indicates success.
func (r Result) OK() bool {
	return r.Code == Success
}

func succeeded(data []byte) Result {
	return Result{Code: Success, Data: data}
}

func failed(code Code, cmd cmdset.ID, cause error) Result {
	return Result{Code: code, Err: NewError(code, cmd, cause)}
}

// Callback receives the completion of an async request, exactly once.
type Callback func(Result)
