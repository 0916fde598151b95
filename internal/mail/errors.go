package mail

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by the relay and the client.
var (
	ErrMethodNotAllowed      = errors.New("method not allowed")
	ErrAuthenticationFailure = errors.New("authentication failure")
	ErrInvalidInput          = errors.New("invalid input")
	ErrUpstreamFailure       = errors.New("upstream failure")
	ErrTransportFailure      = errors.New("transport failure")
)

// UpstreamError reports a remote service that answered but did not succeed.
type UpstreamError struct {
	Service    string
	StatusCode int
	Message    string
}

func (e *UpstreamError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: %s", e.Service, e.Message)
	}
	return fmt.Sprintf("%s returned HTTP %d: %s", e.Service, e.StatusCode, e.Message)
}

func (e *UpstreamError) Unwrap() error {
	return ErrUpstreamFailure
}

// TransportError reports a network-level failure talking to Service.
type TransportError struct {
	Service string
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Service, e.Err)
}

func (e *TransportError) Unwrap() []error {
	return []error{ErrTransportFailure, e.Err}
}
