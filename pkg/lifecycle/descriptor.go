// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

package lifecycle

import "maps"

// Descriptor identifies one desired remote object and tracks where it is in
// its lifecycle. Only a Controller mutates it; callers read it through the
// accessors. A descriptor is not safe for concurrent use: the caller
// serializes operations on it.
type Descriptor struct {
	kind     Kind
	params   map[string]any
	remoteID string
	state    State

	// bookkeeping for the operation in flight
	jobID          string
	deleteAttempts int
	fallbackUsed   bool
}

// NewDescriptor creates an Uncreated descriptor. params is copied and never
// modified afterwards.
func NewDescriptor(kind Kind, params map[string]any) *Descriptor {
	return &Descriptor{
		kind:   kind,
		params: maps.Clone(params),
		state:  StateUncreated,
	}
}

// Snapshot is the persistable part of a descriptor. The plugin process is
// stateless between calls, so it carries this across polls and rebuilds the
// descriptor with Restore.
type Snapshot struct {
	RemoteID       string
	State          State
	JobID          string
	DeleteAttempts int
	FallbackUsed   bool
}

// Restore rebuilds a descriptor from a snapshot.
func Restore(kind Kind, params map[string]any, snap Snapshot) *Descriptor {
	return &Descriptor{
		kind:           kind,
		params:         maps.Clone(params),
		remoteID:       snap.RemoteID,
		state:          snap.State,
		jobID:          snap.JobID,
		deleteAttempts: snap.DeleteAttempts,
		fallbackUsed:   snap.FallbackUsed,
	}
}

// Snapshot captures the descriptor's current bookkeeping.
func (d *Descriptor) Snapshot() Snapshot {
	return Snapshot{
		RemoteID:       d.remoteID,
		State:          d.state,
		JobID:          d.jobID,
		DeleteAttempts: d.deleteAttempts,
		FallbackUsed:   d.fallbackUsed,
	}
}

func (d *Descriptor) Kind() Kind       { return d.kind }
func (d *Descriptor) RemoteID() string { return d.remoteID }
func (d *Descriptor) State() State     { return d.state }
func (d *Descriptor) JobID() string    { return d.jobID }

// DeleteAttempts is the number of consecutive deletes deferred on a conflict.
func (d *Descriptor) DeleteAttempts() int { return d.deleteAttempts }

// Parameters returns a copy of the declared parameters.
func (d *Descriptor) Parameters() map[string]any {
	return maps.Clone(d.params)
}
