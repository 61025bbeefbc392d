// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

package base

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"time"

	"github.com/platform-engineering-labs/formae/pkg/plugin/resource"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/platform-engineering-labs/formae-plugin-cloudstack/pkg/client"
	"github.com/platform-engineering-labs/formae-plugin-cloudstack/pkg/config"
	"github.com/platform-engineering-labs/formae-plugin-cloudstack/pkg/lifecycle"
	"github.com/platform-engineering-labs/formae-plugin-cloudstack/pkg/prov"
	"github.com/platform-engineering-labs/formae-plugin-cloudstack/pkg/resources"
)

// LifecycleResource adapts a lifecycle.Controller to the formae
// provisioner contract. Each call rebuilds the descriptor from the request
// (and, while an operation is in flight, from the RequestID token), drives
// the controller one step and reports the outcome as a ProgressResult.
type LifecycleResource struct {
	def    Definition
	Client *client.Client
	Config *config.Config

	now func() time.Time
}

var _ prov.Provisioner = (*LifecycleResource)(nil)

// NewLifecycleResource creates the provisioner for def.
func NewLifecycleResource(def Definition, c *client.Client, cfg *config.Config) *LifecycleResource {
	return &LifecycleResource{
		def:    def,
		Client: c,
		Config: cfg,
		now:    time.Now,
	}
}

func (r *LifecycleResource) kind() lifecycle.Kind {
	return r.def.Strategy.Kind
}

func (r *LifecycleResource) controller() (*lifecycle.Controller, error) {
	if r.Client == nil || r.Client.Transport == nil {
		return nil, errors.New("cloudstack client is not configured")
	}
	policy := lifecycle.DefaultRetryPolicy()
	if r.Config != nil {
		policy = lifecycle.RetryPolicy{
			MaxAttempts: r.Config.DeleteRetryMax,
			Wait:        r.Config.DeleteRetryWait(),
		}
	}
	return lifecycle.NewController(r.def.Strategy, r.Client.Transport,
		lifecycle.WithLogger(r.Client.Logger.With().Str("resource_type", r.def.ResourceType).Logger()),
		lifecycle.WithMetrics(r.Client.Metrics),
		lifecycle.WithRetryPolicy(policy),
	)
}

// Create issues the creation call. Kinds that converge asynchronously
// report InProgress with a token for Status to poll.
func (r *LifecycleResource) Create(ctx context.Context, request *resource.CreateRequest) (*resource.CreateResult, error) {
	props, err := resources.ParseProperties(request.Properties)
	if err != nil {
		return &resource.CreateResult{
			ProgressResult: resources.NewFailureResultWithMessage(resource.OperationCreate, resource.OperationErrorCodeInvalidRequest, "", err.Error()),
		}, nil
	}
	if zp := r.def.ZoneProperty; zp != "" && r.Config != nil && r.Config.Zone != "" {
		if v, ok := props[zp].(string); !ok || v == "" {
			props[zp] = r.Config.Zone
		}
	}

	ctrl, err := r.controller()
	if err != nil {
		return &resource.CreateResult{
			ProgressResult: resources.NewFailureResultFromError(resource.OperationCreate, "", err),
		}, nil
	}

	d := lifecycle.NewDescriptor(r.kind(), props)
	nativeID, err := ctrl.Create(ctx, d)
	if err != nil {
		return &resource.CreateResult{
			ProgressResult: resources.NewFailureResultFromError(resource.OperationCreate, d.RemoteID(), err),
		}, nil
	}

	if r.def.Strategy.CreateComplete != nil {
		token := OperationToken{Operation: tokenCreate, RemoteID: d.RemoteID(), JobID: d.JobID()}
		return &resource.CreateResult{
			ProgressResult: &resource.ProgressResult{
				Operation:       resource.OperationCreate,
				OperationStatus: resource.OperationStatusInProgress,
				RequestID:       token.Encode(),
				NativeID:        nativeID,
				StatusMessage:   fmt.Sprintf("%s %s is being created", r.kind(), nativeID),
			},
		}, nil
	}

	if _, err := ctrl.IsCreateComplete(ctx, d); err != nil {
		return &resource.CreateResult{
			ProgressResult: resources.NewFailureResultFromError(resource.OperationCreate, nativeID, err),
		}, nil
	}

	propsJSON, err := sjson.SetBytes(request.Properties, r.def.Schema.Identifier, nativeID)
	if err != nil || len(request.Properties) == 0 {
		propsJSON = []byte(fmt.Sprintf(`{%q:%q}`, r.def.Schema.Identifier, nativeID))
	}
	if r.def.Strategy.Query != nil {
		if obs, err := ctrl.Observe(ctx, nativeID); err == nil && obs.Found {
			propsJSON = r.projectOnto(propsJSON, obs.Snapshot)
		}
	}
	return &resource.CreateResult{
		ProgressResult: &resource.ProgressResult{
			Operation:          resource.OperationCreate,
			OperationStatus:    resource.OperationStatusSuccess,
			NativeID:           nativeID,
			ResourceProperties: propsJSON,
		},
	}, nil
}

// Read observes the object and projects it onto the schema's properties.
func (r *LifecycleResource) Read(ctx context.Context, request *resource.ReadRequest) (*resource.ReadResult, error) {
	if err := resources.ValidateNativeID(request.NativeID); err != nil {
		return &resource.ReadResult{
			ErrorCode: resource.OperationErrorCodeInvalidRequest,
		}, err
	}

	ctrl, err := r.controller()
	if err != nil {
		return &resource.ReadResult{ErrorCode: resources.ErrorCodeFor(err)}, err
	}

	obs, err := ctrl.Observe(ctx, request.NativeID)
	if err != nil {
		return &resource.ReadResult{
			ErrorCode: resources.ErrorCodeFor(err),
		}, fmt.Errorf("failed to read %s %s: %w", r.kind(), request.NativeID, err)
	}
	if !obs.Found {
		return &resource.ReadResult{
			ErrorCode: resource.OperationErrorCodeNotFound,
		}, nil
	}

	return &resource.ReadResult{
		Properties: r.project(obs.Snapshot),
	}, nil
}

// Update is rejected: declared parameters are immutable, a change means
// replacing the resource.
func (r *LifecycleResource) Update(_ context.Context, request *resource.UpdateRequest) (*resource.UpdateResult, error) {
	return &resource.UpdateResult{
		ProgressResult: resources.NewFailureResultWithMessage(
			resource.OperationUpdate,
			resource.OperationErrorCodeNotUpdatable,
			request.NativeID,
			fmt.Sprintf("%s cannot be updated in place", r.def.ResourceType),
		),
	}, nil
}

// Delete issues the deletion call. An in-use conflict is reported as
// InProgress; Status re-issues the delete once the retry wait has passed.
func (r *LifecycleResource) Delete(ctx context.Context, request *resource.DeleteRequest) (*resource.DeleteResult, error) {
	if err := resources.ValidateNativeID(request.NativeID); err != nil {
		return &resource.DeleteResult{
			ProgressResult: resources.NewFailureResultWithMessage(resource.OperationDelete, resource.OperationErrorCodeInvalidRequest, "", err.Error()),
		}, nil
	}

	ctrl, err := r.controller()
	if err != nil {
		return &resource.DeleteResult{
			ProgressResult: resources.NewFailureResultFromError(resource.OperationDelete, request.NativeID, err),
		}, nil
	}

	d := lifecycle.Restore(r.kind(), nil, lifecycle.Snapshot{
		RemoteID: request.NativeID,
		State:    lifecycle.StateActive,
	})
	result := r.issueDelete(ctx, ctrl, d, request.NativeID)
	result.Operation = resource.OperationDelete
	return &resource.DeleteResult{ProgressResult: result}, nil
}

// List returns the ids of every object of the kind in the target's zone.
func (r *LifecycleResource) List(ctx context.Context, request *resource.ListRequest) (*resource.ListResult, error) {
	ctrl, err := r.controller()
	if err != nil {
		return &resource.ListResult{}, err
	}

	extra := url.Values{}
	if r.Config != nil && r.Config.Zone != "" && r.def.ZoneProperty != "" {
		extra.Set("zoneid", r.Config.Zone)
	}
	for k, v := range request.AdditionalProperties {
		extra.Set(k, v)
	}

	items, err := ctrl.List(ctx, extra)
	if err != nil {
		return &resource.ListResult{}, fmt.Errorf("failed to list %s: %w", r.def.ResourceType, err)
	}

	nativeIDs := make([]string, 0, len(items))
	for _, item := range items {
		if id := item.Get("id").String(); id != "" {
			nativeIDs = append(nativeIDs, id)
		}
	}
	return &resource.ListResult{NativeIDs: nativeIDs}, nil
}

// Status advances the operation named by the request's token by one poll.
func (r *LifecycleResource) Status(ctx context.Context, request *resource.StatusRequest) (*resource.StatusResult, error) {
	token, err := ParseToken(request.RequestID)
	if err != nil {
		return r.statusResult(request, resources.NewFailureResultWithMessage(
			resource.OperationCheckStatus, resource.OperationErrorCodeInvalidRequest, request.NativeID, err.Error())), nil
	}
	if token.RemoteID == "" {
		token.RemoteID = request.NativeID
	}

	ctrl, err := r.controller()
	if err != nil {
		return r.statusResult(request, resources.NewFailureResultFromError(resource.OperationCheckStatus, request.NativeID, err)), nil
	}

	switch token.Operation {
	case tokenCreate:
		return r.statusResult(request, r.pollCreate(ctx, ctrl, token, request.NativeID)), nil
	case tokenDelete:
		return r.statusResult(request, r.pollDelete(ctx, ctrl, token, request.NativeID)), nil
	default:
		if r.now().Before(token.NotBefore) {
			return r.statusResult(request, &resource.ProgressResult{
				OperationStatus: resource.OperationStatusInProgress,
				RequestID:       request.RequestID,
				NativeID:        request.NativeID,
				StatusMessage:   fmt.Sprintf("%s %s is in use, delete attempt %d deferred", r.kind(), token.RemoteID, token.Attempt),
			}), nil
		}
		d := lifecycle.Restore(r.kind(), nil, lifecycle.Snapshot{
			RemoteID:       token.RemoteID,
			State:          lifecycle.StateActive,
			DeleteAttempts: token.Attempt,
		})
		return r.statusResult(request, r.issueDelete(ctx, ctrl, d, request.NativeID)), nil
	}
}

func (r *LifecycleResource) pollCreate(ctx context.Context, ctrl *lifecycle.Controller, token OperationToken, nativeID string) *resource.ProgressResult {
	d := lifecycle.Restore(r.kind(), nil, lifecycle.Snapshot{
		RemoteID: token.RemoteID,
		State:    lifecycle.StateCreating,
		JobID:    token.JobID,
	})

	done, err := ctrl.IsCreateComplete(ctx, d)
	if err != nil {
		return resources.NewFailureResultFromError(resource.OperationCheckStatus, nativeID, err)
	}
	if !done {
		token.JobID = d.JobID()
		return &resource.ProgressResult{
			OperationStatus: resource.OperationStatusInProgress,
			RequestID:       token.Encode(),
			NativeID:        nativeID,
			StatusMessage:   fmt.Sprintf("%s %s is not yet ready", r.kind(), token.RemoteID),
		}
	}

	result := &resource.ProgressResult{
		OperationStatus: resource.OperationStatusSuccess,
		NativeID:        nativeID,
	}
	if obs, err := ctrl.Observe(ctx, d.RemoteID()); err == nil && obs.Found {
		result.ResourceProperties = []byte(r.project(obs.Snapshot))
	}
	return result
}

func (r *LifecycleResource) pollDelete(ctx context.Context, ctrl *lifecycle.Controller, token OperationToken, nativeID string) *resource.ProgressResult {
	d := lifecycle.Restore(r.kind(), nil, lifecycle.Snapshot{
		RemoteID:     token.RemoteID,
		State:        lifecycle.StateDeleting,
		JobID:        token.JobID,
		FallbackUsed: token.Fallback,
	})

	done, err := ctrl.IsDeleteComplete(ctx, d)
	if err != nil {
		return resources.NewFailureResultFromError(resource.OperationCheckStatus, nativeID, err)
	}
	if done {
		return &resource.ProgressResult{
			OperationStatus: resource.OperationStatusSuccess,
			NativeID:        nativeID,
		}
	}

	snap := d.Snapshot()
	token.JobID = snap.JobID
	token.Fallback = snap.FallbackUsed
	return &resource.ProgressResult{
		OperationStatus: resource.OperationStatusInProgress,
		RequestID:       token.Encode(),
		NativeID:        nativeID,
		StatusMessage:   fmt.Sprintf("%s %s is being deleted", r.kind(), token.RemoteID),
	}
}

// issueDelete runs one delete attempt and reports it. The Operation field
// is left for the caller to fill in.
func (r *LifecycleResource) issueDelete(ctx context.Context, ctrl *lifecycle.Controller, d *lifecycle.Descriptor, nativeID string) *resource.ProgressResult {
	remoteID := d.RemoteID()

	err := ctrl.Delete(ctx, d)
	var later *lifecycle.RetryLaterError
	if errors.As(err, &later) {
		token := OperationToken{
			Operation: tokenDeleteRetry,
			RemoteID:  remoteID,
			Attempt:   later.Attempt,
			NotBefore: r.now().Add(later.After),
		}
		return &resource.ProgressResult{
			OperationStatus: resource.OperationStatusInProgress,
			RequestID:       token.Encode(),
			NativeID:        nativeID,
			StatusMessage:   fmt.Sprintf("%s %s is in use, retrying delete in %s", r.kind(), remoteID, later.After),
		}
	}
	if err != nil {
		return resources.NewFailureResultFromError(resource.OperationCheckStatus, nativeID, err)
	}

	if d.State() == lifecycle.StateDeleting && d.JobID() == "" {
		// Synchronous delete: confirm now rather than on the first poll.
		done, err := ctrl.IsDeleteComplete(ctx, d)
		if err != nil {
			return resources.NewFailureResultFromError(resource.OperationCheckStatus, nativeID, err)
		}
		if done {
			return &resource.ProgressResult{
				OperationStatus: resource.OperationStatusSuccess,
				NativeID:        nativeID,
			}
		}
	}
	if d.State() != lifecycle.StateDeleting {
		return &resource.ProgressResult{
			OperationStatus: resource.OperationStatusSuccess,
			NativeID:        nativeID,
		}
	}

	token := OperationToken{Operation: tokenDelete, RemoteID: remoteID, JobID: d.JobID()}
	return &resource.ProgressResult{
		OperationStatus: resource.OperationStatusInProgress,
		RequestID:       token.Encode(),
		NativeID:        nativeID,
		StatusMessage:   fmt.Sprintf("%s %s is being deleted", r.kind(), remoteID),
	}
}

func (r *LifecycleResource) statusResult(request *resource.StatusRequest, result *resource.ProgressResult) *resource.StatusResult {
	result.Operation = resource.OperationCheckStatus
	if result.RequestID == "" {
		result.RequestID = request.RequestID
	}
	return &resource.StatusResult{ProgressResult: result}
}

// project builds the reported properties from a queried object.
func (r *LifecycleResource) project(snapshot gjson.Result) string {
	return string(r.projectOnto([]byte(`{}`), snapshot))
}

// projectOnto sets every property the queried object has a value for on
// top of doc.
func (r *LifecycleResource) projectOnto(doc []byte, snapshot gjson.Result) []byte {
	names := make([]string, 0, len(r.def.Properties))
	for name := range r.def.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	out := doc
	for _, name := range names {
		value := snapshot.Get(r.def.Properties[name])
		if !value.Exists() {
			continue
		}
		if updated, err := sjson.SetRawBytes(out, name, []byte(value.Raw)); err == nil {
			out = updated
		}
	}
	return out
}
