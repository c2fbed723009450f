// SPDX-License-Identifier: GPL-3.0-or-later

package ipkchat

import (
	"errors"
	"fmt"
)

// ErrInvalidState is wrapped by all the errors reporting that an
// operation is not allowed in the current [State] of a [*Session].
//
// These errors leave the session state unchanged.
var ErrInvalidState = errors.New("ipkchat: operation not allowed in current state")

var (
	// ErrAlreadyConnected is returned by Connect when not in [StateStopped].
	ErrAlreadyConnected = fmt.Errorf("%w: already connected", ErrInvalidState)

	// ErrNotConnected is returned when the session has not been connected.
	ErrNotConnected = fmt.Errorf("%w: not connected", ErrInvalidState)

	// ErrAlreadyAuthorized is returned by Authorize after a successful AUTH.
	ErrAlreadyAuthorized = fmt.Errorf("%w: already authorized", ErrInvalidState)

	// ErrNotAuthorized is returned by Join and Send before authorization.
	ErrNotAuthorized = fmt.Errorf("%w: not authorized", ErrInvalidState)

	// ErrAlreadyClosed is returned by Bye once the session has ended.
	ErrAlreadyClosed = fmt.Errorf("%w: already closed", ErrInvalidState)
)

// ErrNoMessage is returned by Receive when no message is available yet.
var ErrNoMessage = errors.New("ipkchat: no message available")

// ErrInvalidField is wrapped by every [*ValidationError].
var ErrInvalidField = errors.New("ipkchat: invalid field")

// ErrMalformedFrame is wrapped by all the decoding errors.
var ErrMalformedFrame = errors.New("ipkchat: malformed frame")

// ErrUnencodable indicates that a message cannot be represented by a wire encoding.
var ErrUnencodable = errors.New("ipkchat: message cannot be encoded")

// ErrUnexpectedMessage indicates that the peer sent a message it is not allowed to send.
var ErrUnexpectedMessage = errors.New("ipkchat: unexpected message")

// ErrConfirmTimeout indicates that a datagram was not confirmed within the retry budget.
var ErrConfirmTimeout = errors.New("ipkchat: datagram not confirmed")

// ErrNoAddress indicates that the server name resolved to no usable address.
var ErrNoAddress = errors.New("ipkchat: no address for host")

// ValidationError describes a user-supplied field that cannot be sent.
type ValidationError struct {
	// Field is the field name (e.g., "username").
	Field string

	// Reason explains what is wrong with the value.
	Reason string
}

var _ error = &ValidationError{}

// Error implements error.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("ipkchat: invalid %s: %s", e.Field, e.Reason)
}

// Unwrap returns [ErrInvalidField].
func (e *ValidationError) Unwrap() error {
	return ErrInvalidField
}

// unencodable returns an error wrapping [ErrUnencodable].
func unencodable(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUnencodable, fmt.Sprintf(format, args...))
}

// malformed returns an error wrapping [ErrMalformedFrame].
func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedFrame, fmt.Sprintf(format, args...))
}
