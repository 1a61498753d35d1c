package paypal

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyBreakdown     = errors.New("paypal: breakdown has no items")
	ErrInvalidOrigin      = errors.New("paypal: origin must be an absolute http(s) URL")
	ErrMissingRequestID   = errors.New("paypal: correlation token is required")
	ErrRequestIDTooLong   = errors.New("paypal: correlation token exceeds 108 characters")
	ErrMissingCredentials = errors.New("paypal: client id and secret are required")
	ErrUnauthorized       = errors.New("paypal: credentials rejected")
)

// TransportError is an infrastructure failure talking to PayPal: DNS,
// refused connection, timeout, or rejected credentials. Callers may retry the
// whole checkout attempt with the same correlation token.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("paypal %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
