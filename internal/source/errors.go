package source

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrEndOfRange signals the stream has been drained up to the source's
// known chain tip. It is not a failure; the caller should poll again
// later.
var ErrEndOfRange = errors.New("end of range")

// TransientError marks a network or service-level failure. The caller
// should retry or fail over to another endpoint.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient source error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// FatalQueryError marks a malformed filter or query. The caller must
// not retry automatically.
type FatalQueryError struct {
	Err error
}

func (e *FatalQueryError) Error() string {
	return fmt.Sprintf("fatal query error: %v", e.Err)
}

func (e *FatalQueryError) Unwrap() error { return e.Err }

// IsTransient reports whether err is classified as retryable.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsFatal reports whether err is classified as a non-retryable query error.
func IsFatal(err error) bool {
	var fe *FatalQueryError
	return errors.As(err, &fe)
}

var fatalMarkers = []string{
	"invalid argument",
	"invalid params",
	"malformed",
	"unsupported filter",
	"method not found",
}

// Classify wraps a raw source error into the transient/fatal taxonomy.
// Timeouts and connection failures are transient; recognizably bad
// queries are fatal; everything else defaults to transient so the loop
// keeps retrying rather than dying on an unknown condition.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if IsTransient(err) || IsFatal(err) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TransientError{Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return &TransientError{Err: err}
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range fatalMarkers {
		if strings.Contains(msg, marker) {
			return &FatalQueryError{Err: err}
		}
	}
	return &TransientError{Err: err}
}
