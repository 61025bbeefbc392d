// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"github.com/go-playground/validator/v10"
	"github.com/tidwall/gjson"

	"github.com/platform-engineering-labs/formae-plugin-cloudstack/pkg/transport/cloudstack"
)

// TransportClient interface for API calls
type TransportClient interface {
	Do(ctx context.Context, req cloudstack.Request) (*cloudstack.Response, error)
}

// Predicate inspects one queried object and decides whether the desired
// state has been reached. An error means the object reached a state from
// which it will not converge.
type Predicate func(snapshot gjson.Result) (bool, error)

// CreateOutcome is what a kind's create call reports back.
type CreateOutcome struct {
	// RemoteID is the identifier assigned by the remote system. A create
	// that fails after the object exists still reports it.
	RemoteID string
	// JobID is the async job handle, empty for synchronous calls.
	JobID string
	// Reference is returned to the caller instead of RemoteID for kinds
	// without an identity of their own.
	Reference string
}

// CreateFunc turns declared parameters into the remote creation call(s).
type CreateFunc func(ctx context.Context, t TransportClient, params map[string]any) (CreateOutcome, error)

// RemoteFunc issues a call against an existing object and returns the async
// job handle, if any.
type RemoteFunc func(ctx context.Context, t TransportClient, remoteID string) (jobID string, err error)

// FallbackFunc gets one chance to recover from a failed delete job, for
// example by re-issuing the delete with different flags. It returns the new
// job handle and whether it took over.
type FallbackFunc func(ctx context.Context, t TransportClient, remoteID string, job *cloudstack.Job) (jobID string, ok bool, err error)

// QuerySpec describes the list command used to observe one object.
type QuerySpec struct {
	Command string
	// ListKey is the array inside the response holding the objects.
	ListKey string
	// IDParam defaults to "id".
	IDParam string
	// Extra parameters added to every query.
	Extra url.Values
	// ListExtra parameters added when listing for discovery.
	ListExtra url.Values
	// Filter, if set, hides objects that exist but do not represent this kind.
	Filter func(gjson.Result) bool
}

func (q *QuerySpec) idParam() string {
	if q.IDParam == "" {
		return "id"
	}
	return q.IDParam
}

// Strategy is everything kind-specific the controller needs.
type Strategy struct {
	Kind Kind

	Create CreateFunc
	// CreateComplete nil means the create call is complete on return.
	CreateComplete Predicate

	Query *QuerySpec

	// Delete nil makes delete a no-op.
	Delete RemoteFunc
	// DeleteComplete, if set, lets a still-listed object count as deleted.
	DeleteComplete Predicate
	DeleteFallback FallbackFunc

	// Suspend and Resume nil mean the kind has no stop/start notion.
	Suspend         RemoteFunc
	SuspendComplete Predicate
	Resume          RemoteFunc
	ResumeComplete  Predicate

	// Attributes maps attribute names to gjson paths into the queried object.
	Attributes map[string]string

	// Errors classifies remote error codes. Nil means DefaultErrorTable.
	Errors ErrorTable

	// NoIdentity marks kinds that never hold a remote id (associations).
	NoIdentity bool
}

// Validate checks the strategy is internally consistent.
func (s Strategy) Validate() error {
	var errs []error
	if _, ok := kindNames[s.Kind]; !ok {
		errs = append(errs, fmt.Errorf("unknown kind %v", s.Kind))
	}
	if s.Create == nil {
		errs = append(errs, errors.New("create is required"))
	}
	if s.Query == nil && !s.NoIdentity {
		errs = append(errs, errors.New("query is required for kinds with an identity"))
	}
	if s.Query != nil && (s.Query.Command == "" || s.Query.ListKey == "") {
		errs = append(errs, errors.New("query needs a command and a list key"))
	}
	if s.CreateComplete != nil && s.Query == nil {
		errs = append(errs, errors.New("create predicate needs a query"))
	}
	if (s.Suspend == nil) != (s.SuspendComplete == nil) {
		errs = append(errs, errors.New("suspend and its predicate go together"))
	}
	if (s.Resume == nil) != (s.ResumeComplete == nil) {
		errs = append(errs, errors.New("resume and its predicate go together"))
	}
	if (s.Suspend == nil) != (s.Resume == nil) {
		errs = append(errs, errors.New("suspend and resume go together"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid %s strategy: %w", s.Kind, errors.Join(errs...))
	}
	return nil
}

// SupportsSuspend reports whether the kind can be stopped and started.
func (s Strategy) SupportsSuspend() bool {
	return s.Suspend != nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// DecodeParameters copies declared parameters into dst, a pointer to a
// struct with json and validate tags, and validates it. Failures are
// *ValidationError.
func DecodeParameters(kind Kind, params map[string]any, dst any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return &ValidationError{Kind: kind, Err: err}
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return &ValidationError{Kind: kind, Err: err}
	}
	if err := validate.Struct(dst); err != nil {
		return &ValidationError{Kind: kind, Err: err}
	}
	return nil
}

// CallByID builds a RemoteFunc that calls command with id=remoteID.
func CallByID(command string) RemoteFunc {
	return func(ctx context.Context, t TransportClient, remoteID string) (string, error) {
		resp, err := t.Do(ctx, cloudstack.Request{
			Command: command,
			Params:  url.Values{"id": {remoteID}},
		})
		if err != nil {
			return "", err
		}
		return resp.JobID(), nil
	}
}

// Present is the predicate for kinds with no intermediate state: being
// listed is enough.
func Present(gjson.Result) (bool, error) {
	return true, nil
}
