// Package fault defines the error taxonomy shared by the reconciliation
// controllers. Ordering decisions never raise: they silently choose "no-op".
// Only genuine data contradictions surface as incompatible-state errors.
package fault

import (
	"errors"
	"fmt"
	"time"
)

// ErrMessageIgnored marks a message that is semantically a no-op given the
// current state (e.g. a merge with no retiring identity, or a cancellation
// for an encounter never seen). It is expected control flow: the caller logs
// and drops the message without retrying.
var ErrMessageIgnored = errors.New("message ignored")

// ErrRequiredDataMissing marks a message that cannot be acted on because a
// mandatory field (e.g. a cancellation time) is absent.
var ErrRequiredDataMissing = errors.New("required data missing")

// ErrDuplicateIdentifier marks an identifier-change whose target identifier
// already exists; the operation is not a substitute for a merge.
var ErrDuplicateIdentifier = errors.New("duplicate identifier")

// Ignoredf wraps ErrMessageIgnored with context.
func Ignoredf(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, ErrMessageIgnored)...)
}

// IncompatibleStateError reports a violated cross-message invariant: the data
// on file contradicts the incoming message in a way no ordering policy can
// resolve. It carries both values and both timestamps because the usual
// resolution is a manual upstream data fix. Err, when set, classifies the
// contradiction with one of the sentinels above.
type IncompatibleStateError struct {
	Reason       string
	Existing     interface{}
	Incoming     interface{}
	ExistingTime time.Time
	IncomingTime time.Time
	Err          error
}

func (e *IncompatibleStateError) Error() string {
	return fmt.Sprintf("incompatible state: %s (existing %v at %s, incoming %v at %s)",
		e.Reason, e.Existing, e.ExistingTime.Format(time.RFC3339), e.Incoming, e.IncomingTime.Format(time.RFC3339))
}

func (e *IncompatibleStateError) Unwrap() error { return e.Err }

// IsIncompatibleState reports whether err is an IncompatibleStateError.
func IsIncompatibleState(err error) bool {
	var ise *IncompatibleStateError
	return errors.As(err, &ise)
}
