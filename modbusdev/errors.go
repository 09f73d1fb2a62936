package modbusdev

import (
	"errors"
	"fmt"
)

// FailureKind classifies a read/connect failure so callers (the processor,
// the health tracker) can react without string-matching errors.
type FailureKind int

const (
	FailureConnectionFailed FailureKind = iota
	FailureTimeout
	FailureProtocolError
	FailureCancelled
)

func (k FailureKind) String() string {
	switch k {
	case FailureConnectionFailed:
		return "connection_failed"
	case FailureTimeout:
		return "timeout"
	case FailureProtocolError:
		return "protocol_error"
	case FailureCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Failure wraps an underlying transport/protocol error with its kind. It
// matches errors.Is against the exported sentinel failures below and
// errors.As for direct kind inspection, even through fmt.Errorf %w chains.
type Failure struct {
	Kind FailureKind
	Err  error
}

// Sentinel failures for errors.Is comparisons; only the kind matters.
var (
	ErrConnectionFailed = &Failure{Kind: FailureConnectionFailed}
	ErrTimeout          = &Failure{Kind: FailureTimeout}
	ErrProtocol         = &Failure{Kind: FailureProtocolError}
	ErrCancelled        = &Failure{Kind: FailureCancelled}
)

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %v", f.Kind, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// Is reports whether target is a Failure of the same kind, so
// errors.Is(err, ErrTimeout) works regardless of the wrapped cause.
func (f *Failure) Is(target error) bool {
	t, ok := target.(*Failure)
	return ok && t.Kind == f.Kind
}

// IsTimeout reports whether err is (or wraps) a Failure of kind Timeout.
func IsTimeout(err error) bool {
	var f *Failure
	return errors.As(err, &f) && f.Kind == FailureTimeout
}

// IsCancelled reports whether err is (or wraps) a Failure of kind Cancelled.
func IsCancelled(err error) bool {
	var f *Failure
	return errors.As(err, &f) && f.Kind == FailureCancelled
}

// IsConnectionFailed reports whether err is (or wraps) a Failure of kind
// ConnectionFailed, a transport-level "not connected" fault.
func IsConnectionFailed(err error) bool {
	var f *Failure
	return errors.As(err, &f) && f.Kind == FailureConnectionFailed
}

func newFailure(kind FailureKind, err error) *Failure {
	return &Failure{Kind: kind, Err: err}
}
