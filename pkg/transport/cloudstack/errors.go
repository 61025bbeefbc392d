// pkg/transport/cloudstack/errors.go
package cloudstack

import (
	"errors"
	"fmt"

	"github.com/platform-engineering-labs/formae/pkg/plugin/resource"
)

// ErrorCode represents transport-level error classifications
type ErrorCode string

const (
	ErrorCodeNone             ErrorCode = "NONE"
	ErrorCodeInvalidInput     ErrorCode = "INVALID_INPUT"
	ErrorCodeUnauthorized     ErrorCode = "UNAUTHORIZED"
	ErrorCodeResourceNotFound ErrorCode = "RESOURCE_NOT_FOUND"
	ErrorCodeResourceInUse    ErrorCode = "RESOURCE_IN_USE"
	ErrorCodeLimitExceeded    ErrorCode = "LIMIT_EXCEEDED"
	ErrorCodeThrottling       ErrorCode = "THROTTLING"
	ErrorCodeUnavailable      ErrorCode = "UNAVAILABLE"
	ErrorCodeInternalError    ErrorCode = "INTERNAL_ERROR"
	ErrorCodeUnknown          ErrorCode = "UNKNOWN"
)

// CloudStack API error codes, as reported in the errorcode field of an error
// response or in jobresult.errorcode of a failed async job.
const (
	CodeUnauthorized         = 401
	CodeMethodNotAllowed     = 405
	CodeAPILimitExceeded     = 429
	CodeMalformedParameter   = 430
	CodeParamError           = 431
	CodeUnsupportedAction    = 432
	CodeInternalError        = 530
	CodeAccountError         = 531
	CodeAccountResourceLimit = 532
	CodeInsufficientCapacity = 533
	CodeResourceUnavailable  = 534
	CodeResourceAllocation   = 535
	CodeResourceInUse        = 536
	CodeNetworkRuleConflict  = 537
)

// Error represents a transport layer error with classification.
// APICode carries the CloudStack errorcode verbatim and is zero when the
// failure happened below the API (connection, malformed body).
type Error struct {
	Code        ErrorCode
	APICode     int
	CSErrorCode int
	HTTPCode    int
	Message     string
	Underlying  error
}

func (e *Error) Error() string {
	if e.APICode != 0 {
		return fmt.Sprintf("%s (%d): %s", e.Code, e.APICode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Underlying
}

// ClassifyHTTPStatus maps HTTP status codes to error codes
func ClassifyHTTPStatus(statusCode int) ErrorCode {
	switch statusCode {
	case 200, 201, 204:
		return ErrorCodeNone
	case 400, 405:
		return ErrorCodeInvalidInput
	case 401, 403:
		return ErrorCodeUnauthorized
	case 404:
		return ErrorCodeResourceNotFound
	case 429:
		return ErrorCodeThrottling
	case 502, 503, 504:
		return ErrorCodeUnavailable
	case 500:
		return ErrorCodeInternalError
	default:
		if statusCode >= 200 && statusCode < 300 {
			return ErrorCodeNone
		}
		return ErrorCodeUnknown
	}
}

// ClassifyAPICode maps a CloudStack errorcode to a transport error code.
// CloudStack reports a missing object as a parameter error (431), so the
// transport does not treat 431 as not-found; callers that know the request
// was a by-id lookup make that call themselves.
func ClassifyAPICode(code int) ErrorCode {
	switch code {
	case CodeUnauthorized, CodeAccountError:
		return ErrorCodeUnauthorized
	case CodeMethodNotAllowed, CodeMalformedParameter, CodeParamError, CodeUnsupportedAction:
		return ErrorCodeInvalidInput
	case CodeAPILimitExceeded:
		return ErrorCodeThrottling
	case CodeAccountResourceLimit, CodeInsufficientCapacity, CodeResourceAllocation:
		return ErrorCodeLimitExceeded
	case CodeResourceUnavailable:
		return ErrorCodeUnavailable
	case CodeResourceInUse, CodeNetworkRuleConflict:
		return ErrorCodeResourceInUse
	case CodeInternalError:
		return ErrorCodeInternalError
	default:
		return ClassifyHTTPStatus(code)
	}
}

// ToResourceErrorCode converts transport error code to formae resource error code
func ToResourceErrorCode(code ErrorCode) resource.OperationErrorCode {
	switch code {
	case ErrorCodeInvalidInput:
		return resource.OperationErrorCodeInvalidRequest
	case ErrorCodeUnauthorized:
		return resource.OperationErrorCodeAccessDenied
	case ErrorCodeResourceNotFound:
		return resource.OperationErrorCodeNotFound
	case ErrorCodeThrottling:
		return resource.OperationErrorCodeThrottling
	case ErrorCodeLimitExceeded:
		return resource.OperationErrorCodeServiceLimitExceeded
	case ErrorCodeResourceInUse, ErrorCodeUnavailable:
		return resource.OperationErrorCodeGeneralServiceException
	default:
		return resource.OperationErrorCodeServiceInternalError
	}
}

// NewError creates a new transport error
func NewError(code ErrorCode, message string, underlying error) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		Underlying: underlying,
	}
}

// NewAPIError creates an error carrying a CloudStack errorcode.
func NewAPIError(apiCode int, message string) *Error {
	return &Error{
		Code:     ClassifyAPICode(apiCode),
		APICode:  apiCode,
		HTTPCode: apiCode,
		Message:  message,
	}
}

// APICode extracts the CloudStack errorcode from err, if it carries one.
func APICode(err error) (int, bool) {
	var csErr *Error
	if errors.As(err, &csErr) && csErr.APICode != 0 {
		return csErr.APICode, true
	}
	return 0, false
}
