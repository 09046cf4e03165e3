package transport

import (
	"errors"
	"fmt"
)

// Transport error kinds. A transport-class failure means the remote is
// unreachable and the current drain pass should stop.
const (
	KindNetwork = "network"
	KindTimeout = "timeout"
)

// Data error kinds. The item itself is bad; the drain pass continues.
const (
	KindValidation = "validation"
	KindAuth       = "auth"
)

// TransportError signals the remote endpoint could not be reached.
type TransportError struct {
	Kind string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Kind, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// DataError signals the delivered item was rejected by the remote.
type DataError struct {
	Kind   string
	Status int
	Err    error
}

func (e *DataError) Error() string {
	return fmt.Sprintf("data %s (status %d): %v", e.Kind, e.Status, e.Err)
}

func (e *DataError) Unwrap() error { return e.Err }

// IsTransport reports whether err is a transport-class failure.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
