// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

package resources

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/platform-engineering-labs/formae/pkg/plugin/resource"

	"github.com/platform-engineering-labs/formae-plugin-cloudstack/pkg/lifecycle"
	"github.com/platform-engineering-labs/formae-plugin-cloudstack/pkg/transport/cloudstack"
)

// ParseProperties unmarshals JSON properties from a request into a map.
// Empty input yields an empty map.
func ParseProperties(data []byte) (map[string]any, error) {
	props := map[string]any{}
	if len(data) == 0 {
		return props, nil
	}
	if err := json.Unmarshal(data, &props); err != nil {
		return nil, fmt.Errorf("failed to parse resource properties: %w", err)
	}
	return props, nil
}

// ValidateNativeID checks that the NativeID is present and not empty.
func ValidateNativeID(nativeID string) error {
	if nativeID == "" {
		return fmt.Errorf("nativeID is required")
	}
	return nil
}

// NewFailureResult creates a standardized failure ProgressResult.
func NewFailureResult(op resource.Operation, errCode resource.OperationErrorCode, nativeID string) *resource.ProgressResult {
	return &resource.ProgressResult{
		Operation:       op,
		OperationStatus: resource.OperationStatusFailure,
		ErrorCode:       errCode,
		NativeID:        nativeID,
	}
}

// NewFailureResultWithMessage creates a failure ProgressResult with a status message.
func NewFailureResultWithMessage(op resource.Operation, errCode resource.OperationErrorCode, nativeID string, message string) *resource.ProgressResult {
	result := NewFailureResult(op, errCode, nativeID)
	result.StatusMessage = message
	return result
}

// NewFailureResultFromError derives the error code and message from err.
func NewFailureResultFromError(op resource.Operation, nativeID string, err error) *resource.ProgressResult {
	return NewFailureResultWithMessage(op, ErrorCodeFor(err), nativeID, err.Error())
}

// ErrorCodeFor maps lifecycle and transport errors to operation error codes.
func ErrorCodeFor(err error) resource.OperationErrorCode {
	if err == nil {
		return ""
	}

	var verr *lifecycle.ValidationError
	var csErr *cloudstack.Error
	switch {
	case errors.As(err, &verr):
		return resource.OperationErrorCodeInvalidRequest
	case errors.Is(err, lifecycle.ErrNotFound):
		return resource.OperationErrorCodeNotFound
	case errors.Is(err, lifecycle.ErrUnsupportedOperation):
		return resource.OperationErrorCodeNotUpdatable
	case errors.Is(err, lifecycle.ErrUnsupportedAttribute), errors.Is(err, lifecycle.ErrInvalidState):
		return resource.OperationErrorCodeInvalidRequest
	case errors.Is(err, lifecycle.ErrRetryExhausted):
		return resource.OperationErrorCodeGeneralServiceException
	case errors.As(err, &csErr):
		return cloudstack.ToResourceErrorCode(csErr.Code)
	default:
		return resource.OperationErrorCodeServiceInternalError
	}
}

// IDList is a list of CloudStack ids that decodes from either a JSON array
// or a comma-separated string, and renders as the comma-joined form the
// API expects.
type IDList []string

func (l *IDList) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*l = list
		return nil
	}
	var joined string
	if err := json.Unmarshal(data, &joined); err != nil {
		return fmt.Errorf("expected a list of ids or a comma-separated string: %w", err)
	}
	*l = nil
	for _, id := range strings.Split(joined, ",") {
		if id = strings.TrimSpace(id); id != "" {
			*l = append(*l, id)
		}
	}
	return nil
}

// String returns the ids comma-joined.
func (l IDList) String() string {
	return strings.Join(l, ",")
}
