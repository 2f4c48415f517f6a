// Package core defines sentinel errors shared by every layer.
package core

import (
	"errors"
	"fmt"
	"syscall"
)

// Sentinel errors. Callers match them with errors.Is.
var (
	// Buffer / header allocation errors
	ErrAllocation = errors.New("pktcraft: allocation failed")

	// IPv4 identifier pool errors
	ErrIDSpaceExhausted = errors.New("pktcraft: ipv4 id space exhausted")

	// Addressing errors
	ErrUnsupportedAddressFamily = errors.New("pktcraft: unsupported address family")
	ErrUnsupportedProtocol      = errors.New("pktcraft: unsupported protocol")

	// Size errors
	ErrMessageTooLong = errors.New("pktcraft: message exceeds mtu")

	// Transmit errors
	ErrSink = errors.New("pktcraft: sink error")

	// Configuration errors
	ErrConfigInvalid = errors.New("pktcraft: invalid configuration")
)

// SinkError reports a failure of the underlying transmit primitive.
// Code holds the platform error number when one is available.
type SinkError struct {
	Op   string
	Code syscall.Errno
	Err  error
}

// NewSinkError wraps err for operation op, extracting the platform errno.
func NewSinkError(op string, err error) *SinkError {
	se := &SinkError{Op: op, Err: err}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		se.Code = errno
	}
	return se
}

func (e *SinkError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("pktcraft: sink %s: %v (errno %d)", e.Op, e.Err, int(e.Code))
	}
	return fmt.Sprintf("pktcraft: sink %s: %v", e.Op, e.Err)
}

func (e *SinkError) Unwrap() error { return e.Err }

// Is makes every SinkError match ErrSink.
func (e *SinkError) Is(target error) bool { return target == ErrSink }
