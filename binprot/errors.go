package binprot

import (
	"errors"
	"fmt"
)

// Error types for binary protocol operations.
// They tell the caller what to do with the connection the error came from.

// ProtocolError reports a frame (or payload) that does not follow the protocol:
// bad magic, inconsistent lengths, truncated header, opaque mismatch, unknown
// type tag.
//
// Retrying does not help; the stream position is unknown.
//
// Connection handling: CLOSE connection
type ProtocolError struct {
	Message string
	Err     error // Underlying error, if any
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return "protocol error: " + e.Message + ": " + e.Err.Error()
	}
	return "protocol error: " + e.Message
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// ShouldCloseConnection returns true - the byte stream can no longer be trusted
func (e *ProtocolError) ShouldCloseConnection() bool {
	return true
}

// ConnectionError wraps I/O failures: refused dial, reset, timeout, EOF mid-frame.
//
// Connection handling: connection is already broken, CLOSE and RECONNECT
type ConnectionError struct {
	Op  string // Operation that failed (dial, write, read)
	Err error  // Underlying error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error during %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// ShouldCloseConnection returns true - connection errors mean the connection is broken
func (e *ConnectionError) ShouldCloseConnection() bool {
	return true
}

// InvalidKeyError is returned when a key fails validation before anything is written.
//
// Connection handling: connection is still valid
type InvalidKeyError struct {
	Message string
}

func (e *InvalidKeyError) Error() string {
	return e.Message
}

func (e *InvalidKeyError) ShouldCloseConnection() bool {
	return false
}

// StatusError carries a server status the caller could not treat as a normal outcome.
// Message is the body the server sent along with the status, if any.
//
// Connection handling: the frame was fully read, connection can be REUSED
type StatusError struct {
	Opcode  Opcode
	Status  Status
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s: %s", e.Opcode, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Opcode, e.Status)
}

func (e *StatusError) ShouldCloseConnection() bool {
	return false
}

// ErrorWithConnectionState is implemented by all error types of this package.
type ErrorWithConnectionState interface {
	error
	ShouldCloseConnection() bool
}

// ShouldCloseConnection reports whether err requires closing the connection.
//
// Unknown error types are treated conservatively: the connection is closed.
func ShouldCloseConnection(err error) bool {
	if err == nil {
		return false
	}

	var e ErrorWithConnectionState
	if errors.As(err, &e) {
		return e.ShouldCloseConnection()
	}

	return true
}

// IsConnectionError reports whether err is (or wraps) a ConnectionError.
func IsConnectionError(err error) bool {
	var e *ConnectionError
	return errors.As(err, &e)
}

// IsProtocolError reports whether err is (or wraps) a ProtocolError.
func IsProtocolError(err error) bool {
	var e *ProtocolError
	return errors.As(err, &e)
}
