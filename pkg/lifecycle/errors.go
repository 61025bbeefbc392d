// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

package lifecycle

import (
	"errors"
	"fmt"
	"time"

	"github.com/platform-engineering-labs/formae-plugin-cloudstack/pkg/transport/cloudstack"
)

var (
	// ErrUnsupportedOperation is returned by Update, and by any operation a
	// kind cannot perform where a no-op would be wrong.
	ErrUnsupportedOperation = errors.New("operation not supported")
	// ErrUnsupportedAttribute is returned for attribute names outside a kind's table.
	ErrUnsupportedAttribute = errors.New("unsupported attribute")
	// ErrNotFound is returned when the remote object is absent and the
	// operation needs it.
	ErrNotFound = errors.New("remote object not found")
	// ErrInvalidState is returned when an operation is not allowed from the
	// descriptor's current state.
	ErrInvalidState = errors.New("invalid lifecycle state")
	// ErrRetryExhausted is returned once a conflicted delete hits the
	// retry ceiling. It always accompanies a *FatalRemoteError.
	ErrRetryExhausted = errors.New("retry attempts exhausted")
	// ErrKindMismatch is returned when a descriptor is handed to a
	// controller for a different kind.
	ErrKindMismatch = errors.New("descriptor kind does not match controller")
)

// ValidationError reports malformed or missing declared parameters.
// It is raised before any remote call.
type ValidationError struct {
	Kind Kind
	Err  error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s parameters: %v", e.Kind, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// FatalRemoteError is a remote failure that will not be retried. The
// CloudStack error code and message are preserved in Err.
type FatalRemoteError struct {
	Kind      Kind
	Operation string
	RemoteID  string
	Err       error
}

func (e *FatalRemoteError) Error() string {
	if e.RemoteID != "" {
		return fmt.Sprintf("%s %s %s: %v", e.Operation, e.Kind, e.RemoteID, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Operation, e.Kind, e.Err)
}

func (e *FatalRemoteError) Unwrap() error { return e.Err }

// Code returns the CloudStack error code, zero if the failure carried none.
func (e *FatalRemoteError) Code() int {
	code, _ := cloudstack.APICode(e.Err)
	return code
}

// RetryLaterError signals a transient conflict: the caller should invoke the
// same operation again after After has elapsed.
type RetryLaterError struct {
	Kind      Kind
	Operation string
	RemoteID  string
	Attempt   int
	After     time.Duration
	Err       error
}

func (e *RetryLaterError) Error() string {
	return fmt.Sprintf("%s %s %s: retry in %s (attempt %d): %v", e.Operation, e.Kind, e.RemoteID, e.After, e.Attempt, e.Err)
}

func (e *RetryLaterError) Unwrap() error { return e.Err }
