// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

package lifecycle

import "fmt"

// State is the lifecycle state of a descriptor.
type State int

const (
	StateUncreated State = iota
	StateCreating
	StateActive
	StateSuspending
	StateSuspended
	StateResuming
	StateDeleting
	StateDeleted
	StateFailed
)

var stateNames = [...]string{
	StateUncreated:  "Uncreated",
	StateCreating:   "Creating",
	StateActive:     "Active",
	StateSuspending: "Suspending",
	StateSuspended:  "Suspended",
	StateResuming:   "Resuming",
	StateDeleting:   "Deleting",
	StateDeleted:    "Deleted",
	StateFailed:     "Failed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// ParseState is the inverse of String.
func ParseState(name string) (State, error) {
	for i, n := range stateNames {
		if n == name {
			return State(i), nil
		}
	}
	return 0, fmt.Errorf("unknown lifecycle state %q", name)
}

// Terminal reports whether no further transition is possible without
// external intervention.
func (s State) Terminal() bool {
	return s == StateDeleted || s == StateFailed
}

// created reports whether creation has converged at some point, so that
// create-completion polls keep answering true.
func (s State) created() bool {
	switch s {
	case StateActive, StateSuspending, StateSuspended, StateResuming:
		return true
	}
	return false
}
