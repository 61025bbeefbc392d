// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

package lifecycle

import (
	"maps"
	"time"

	"github.com/platform-engineering-labs/formae-plugin-cloudstack/pkg/transport/cloudstack"
)

// ErrorClass is how the controller reacts to a remote error code.
type ErrorClass int

const (
	// ClassFatal errors are surfaced to the caller and never retried.
	ClassFatal ErrorClass = iota
	// ClassBenignAbsent means the object cannot be found. For delete that is success.
	ClassBenignAbsent
	// ClassTransientConflict means the object is busy; the operation may be
	// re-attempted after a wait.
	ClassTransientConflict
)

func (c ErrorClass) String() string {
	switch c {
	case ClassBenignAbsent:
		return "benign-absent"
	case ClassTransientConflict:
		return "transient-conflict"
	default:
		return "fatal"
	}
}

// ErrorTable maps CloudStack error codes to classes. Codes not in the table
// are fatal.
type ErrorTable map[int]ErrorClass

// Classify returns the class of a remote error code.
func (t ErrorTable) Classify(code int) ErrorClass {
	if class, ok := t[code]; ok {
		return class
	}
	return ClassFatal
}

// With returns a copy of the table with code mapped to class.
func (t ErrorTable) With(code int, class ErrorClass) ErrorTable {
	out := maps.Clone(t)
	if out == nil {
		out = ErrorTable{}
	}
	out[code] = class
	return out
}

// DefaultErrorTable treats a parameter error on a by-id lookup as absence.
func DefaultErrorTable() ErrorTable {
	return ErrorTable{
		cloudstack.CodeParamError: ClassBenignAbsent,
	}
}

// InUseErrorTable is DefaultErrorTable plus "resource in use" as a transient
// conflict, for kinds whose delete waits on dependents detaching.
func InUseErrorTable() ErrorTable {
	return DefaultErrorTable().With(cloudstack.CodeResourceInUse, ClassTransientConflict)
}

// RetryPolicy bounds how often a conflicted delete is re-attempted.
type RetryPolicy struct {
	// MaxAttempts is the number of conflicted attempts after which delete
	// gives up with ErrRetryExhausted.
	MaxAttempts int
	// Wait is the delay the caller should observe before re-invoking delete.
	Wait time.Duration
}

// DefaultRetryPolicy allows six attempts ten seconds apart.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 6,
		Wait:        10 * time.Second,
	}
}

// Exhausted reports whether attempt has reached the ceiling.
func (p RetryPolicy) Exhausted(attempt int) bool {
	return attempt >= p.MaxAttempts
}
