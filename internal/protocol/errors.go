package protocol

import (
	"errors"
	"fmt"
)

// ErrNoAvailableWorkers is the round outcome when every polled worker declined
// or failed to answer. No work is dispatched in that case.
var ErrNoAvailableWorkers = errors.New("no available workers")

// TransportError is a connection-level I/O failure: refused, reset, timed out or
// closed while writing.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError is malformed framing or an unexpected message. It is fatal to the
// session that produced it.
type ProtocolError struct {
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol error: %s: %v", e.Reason, e.Err)
	}
	return "protocol error: " + e.Reason
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// DecodeError means a payload arrived intact but does not decode into the expected
// value (corrupt image, unparseable assignment or result).
type DecodeError struct {
	What string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode %s: %v", e.What, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Transport wraps err as a TransportError unless it already carries a protocol
// classification.
func Transport(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsClassified(err) {
		return err
	}
	return &TransportError{Op: op, Err: err}
}

// IsClassified reports whether err is already one of the protocol error kinds.
func IsClassified(err error) bool {
	var te *TransportError
	var pe *ProtocolError
	var de *DecodeError
	return errors.As(err, &te) || errors.As(err, &pe) || errors.As(err, &de)
}

// Kind names the error class of err for logs and summaries.
func Kind(err error) string {
	var te *TransportError
	var pe *ProtocolError
	var de *DecodeError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &pe):
		return "protocol"
	case errors.As(err, &de):
		return "decode"
	case errors.As(err, &te):
		return "transport"
	case errors.Is(err, ErrNoAvailableWorkers):
		return "no-workers"
	default:
		return "internal"
	}
}
