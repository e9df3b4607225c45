package misp

import (
	"errors"
	"fmt"
)

// Sentinel error kinds for this package. These allow errors.Is from callers.
var (
	ErrInvalidConfig = errors.New("invalid misp client config")
	ErrTransport     = errors.New("misp transport error")
	ErrProtocol      = errors.New("misp protocol error")
	ErrCircuitOpen   = errors.New("misp circuit open")
)

// RemoteError describes a failed call to the remote platform.
// Kind is ErrTransport or ErrProtocol.
type RemoteError struct {
	Op         string
	Kind       error
	StatusCode int
	Body       string
	Err        error
}

func (e *RemoteError) Error() string {
	msg := fmt.Sprintf("misp %s: %v", e.Op, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(": status %d", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *RemoteError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func transportErr(op string, err error) error {
	return &RemoteError{Op: op, Kind: ErrTransport, Err: err}
}

func protocolErr(op string, status int, body string, err error) error {
	return &RemoteError{Op: op, Kind: ErrProtocol, StatusCode: status, Body: body, Err: err}
}
