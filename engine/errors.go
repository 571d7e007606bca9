package engine

import (
	"github.com/cockroachdb/errors"
)

var (
	// ErrResourceExhausted is returned when no session slot, device, op or
	// packet is available
	ErrResourceExhausted = errors.New("resource exhausted")
	// ErrInvalidCipherSpec is returned when cipher parameters can not be mapped
	ErrInvalidCipherSpec = errors.New("invalid cipher parameters")
	// ErrInvalidAuthSpec is returned when auth parameters can not be mapped
	ErrInvalidAuthSpec = errors.New("invalid auth parameters")
	// ErrNoDevicesAvailable is returned when the engine has no devices
	ErrNoDevicesAvailable = errors.New("no crypto devices available")
	// ErrDeviceError is returned when a device rejects a request
	ErrDeviceError = errors.New("crypto device error")
	// ErrDeviceTimeout is returned when an operation is not completed
	// within the poll budget
	ErrDeviceTimeout = errors.New("crypto device timeout")
	// ErrInvalidSession is returned for a stale or unknown session handle
	ErrInvalidSession = errors.New("invalid session")
	// ErrInvalidRequest is returned for a malformed operation request
	ErrInvalidRequest = errors.New("invalid request")
	// ErrSessionsActive is returned on close when sessions are still live
	ErrSessionsActive = errors.New("sessions are still active")
	// ErrNotInitialized is returned when the engine is not initialized or closed
	ErrNotInitialized = errors.New("engine is not initialized")
)

// CreateErr is the diagnostic code of a session create failure
type CreateErr int

// Session create error codes
const (
	CreateErrNone CreateErr = iota
	CreateErrResource
	CreateErrInvCipher
	CreateErrInvAuth
)

func (c CreateErr) String() string {
	switch c {
	case CreateErrNone:
		return "none"
	case CreateErrResource:
		return "resource"
	case CreateErrInvCipher:
		return "invalid_cipher"
	case CreateErrInvAuth:
		return "invalid_auth"
	}
	return "unknown"
}

// CreateErrorCode returns the diagnostic code of the CreateSession error
func CreateErrorCode(err error) CreateErr {
	switch {
	case err == nil:
		return CreateErrNone
	case errors.Is(err, ErrInvalidCipherSpec):
		return CreateErrInvCipher
	case errors.Is(err, ErrInvalidAuthSpec):
		return CreateErrInvAuth
	}
	return CreateErrResource
}
