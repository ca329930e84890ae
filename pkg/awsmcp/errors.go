package awsmcp

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Tag is one category of the error taxonomy every failure is normalized into.
type Tag string

const (
	// TagAuthentication indicates a credential or role-assumption failure.
	TagAuthentication Tag = "Authentication"
	// TagAuthorization indicates the caller lacks permission.
	TagAuthorization Tag = "Authorization"
	// TagResourceNotFound indicates the target resource is absent.
	TagResourceNotFound Tag = "ResourceNotFound"
	// TagValidation indicates malformed input or a bad parameter combination.
	TagValidation Tag = "Validation"
	// TagThrottling indicates provider rate limiting. Retryable.
	TagThrottling Tag = "Throttling"
	// TagServiceError is the catch-all for provider-side failures.
	TagServiceError Tag = "ServiceError"
	// TagLimitExceeded indicates a provider quota was exceeded.
	TagLimitExceeded Tag = "LimitExceeded"
	// TagCostLimitExceeded indicates the local cost policy blocked the operation.
	TagCostLimitExceeded Tag = "CostLimitExceeded"
	// TagRegionNotEnabled indicates the region is not on the allow-list.
	TagRegionNotEnabled Tag = "RegionNotEnabled"
)

type tagInfo struct {
	code   string
	status int
}

var tags = map[Tag]tagInfo{
	TagAuthentication:    {"AuthenticationFailed", 401},
	TagAuthorization:     {"AccessDenied", 403},
	TagResourceNotFound:  {"ResourceNotFound", 404},
	TagValidation:        {"ValidationError", 400},
	TagThrottling:        {"Throttling", 429},
	TagServiceError:      {"ServiceError", 500},
	TagLimitExceeded:     {"LimitExceeded", 429},
	TagCostLimitExceeded: {"CostLimitExceeded", 403},
	TagRegionNotEnabled:  {"RegionNotEnabled", 400},
}

// Code returns the wire error code reported as error_code.
func (t Tag) Code() string {
	if info, ok := tags[t]; ok {
		return info.code
	}
	return tags[TagServiceError].code
}

// StatusCode returns the HTTP-like status associated with the tag.
func (t Tag) StatusCode() int {
	if info, ok := tags[t]; ok {
		return info.status
	}
	return 500
}

// Retryable reports whether errors of this tag may succeed on retry.
func (t Tag) Retryable() bool {
	return t == TagThrottling
}

// Error is a taxonomy error. It is the only error shape that crosses the
// client registry and tool boundary.
type Error struct {
	// Tag classifies the error.
	Tag Tag

	// Message is the human-readable message returned to the caller.
	Message string

	// Service is the AWS service involved, when known.
	Service string

	// Operation is the API operation that failed, when known.
	Operation string

	// RequestID is the provider request ID, when known.
	RequestID string

	// Retryable indicates whether the operation can be retried.
	Retryable bool

	// Cause is the underlying error. It is never serialized.
	Cause error

	// Details carries tag-specific fields (retry_after, estimated_cost, ...).
	Details map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Tag.Code(), e.Message)
	if e.Service != "" {
		msg = fmt.Sprintf("[%s:%s] %s", e.Service, e.Tag.Code(), e.Message)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error by tag.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Tag == t.Tag
	}
	return false
}

// NewError creates an Error with the tag's default retryability.
func NewError(tag Tag, message string) *Error {
	return &Error{
		Tag:       tag,
		Message:   message,
		Retryable: tag.Retryable(),
		Details:   make(map[string]any),
	}
}

// WithService sets the service and operation.
func (e *Error) WithService(service, operation string) *Error {
	e.Service = service
	e.Operation = operation
	return e
}

// WithRequestID sets the provider request ID.
func (e *Error) WithRequestID(id string) *Error {
	e.RequestID = id
	return e
}

// WithCause sets the underlying error.
func (e *Error) WithCause(err error) *Error {
	e.Cause = err
	return e
}

// WithRetryable overrides the tag's default retryability.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithDetail adds a detail to the error.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// ErrAuthentication creates an Authentication error. authType names the
// failing credential step, e.g. "role_assumption".
func ErrAuthentication(message, authType string) *Error {
	e := NewError(TagAuthentication, message)
	if authType != "" {
		e.WithDetail("auth_type", authType)
	}
	return e
}

// ErrAuthorization creates an Authorization error.
func ErrAuthorization(message string) *Error {
	return NewError(TagAuthorization, message)
}

// ErrNotFound creates a ResourceNotFound error.
func ErrNotFound(message string) *Error {
	return NewError(TagResourceNotFound, message)
}

// ErrResourceNotFound creates a ResourceNotFound error for a typed resource.
func ErrResourceNotFound(resourceType, resourceID string) *Error {
	return ErrNotFound(fmt.Sprintf("%s not found: %s", resourceType, resourceID)).
		WithDetail("resource_type", resourceType).
		WithDetail("resource_id", resourceID)
}

// ErrValidation creates a Validation error.
func ErrValidation(message string) *Error {
	return NewError(TagValidation, message)
}

// ErrInvalidParameter creates a Validation error naming the parameter.
func ErrInvalidParameter(parameter, message string) *Error {
	return ErrValidation(message).WithDetail("parameter", parameter)
}

// ErrThrottling creates a retryable Throttling error. A positive retryAfter
// is reported in seconds.
func ErrThrottling(message string, retryAfter time.Duration) *Error {
	e := NewError(TagThrottling, message)
	if retryAfter > 0 {
		e.WithDetail("retry_after", int(retryAfter.Seconds()))
	}
	return e
}

// ErrService creates a ServiceError carrying service and operation.
func ErrService(message, service, operation string) *Error {
	return NewError(TagServiceError, message).WithService(service, operation)
}

// ErrLimitExceeded creates a LimitExceeded error.
func ErrLimitExceeded(message string) *Error {
	return NewError(TagLimitExceeded, message)
}

// ErrCostLimitExceeded creates a CostLimitExceeded error.
func ErrCostLimitExceeded(estimate, limit float64, operation string) *Error {
	return NewError(TagCostLimitExceeded,
		fmt.Sprintf("Estimated cost $%.2f exceeds limit $%.2f", estimate, limit)).
		WithDetail("estimated_cost", estimate).
		WithDetail("limit", limit).
		WithDetail("operation", operation)
}

// ErrRegionNotEnabled creates a RegionNotEnabled error naming the rejected
// region and the allowed set.
func ErrRegionNotEnabled(region string, enabled []string) *Error {
	allowed := append([]string(nil), enabled...)
	return NewError(TagRegionNotEnabled,
		fmt.Sprintf("Region %s is not enabled. Enabled regions: %s", region, strings.Join(allowed, ", "))).
		WithDetail("region", region).
		WithDetail("enabled_regions", allowed)
}

// AsError extracts a taxonomy error from err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsTag checks if an error carries a specific tag.
func IsTag(err error, tag Tag) bool {
	e, ok := AsError(err)
	return ok && e.Tag == tag
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	e, ok := AsError(err)
	return ok && e.Retryable
}

// ConfigError reports an unknown or invalid account binding. It is outside
// the AWS taxonomy and is never translated or retried.
type ConfigError struct {
	// Account is the account name involved, if any.
	Account string

	// Message is a human-readable error message.
	Message string

	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	msg := "configuration error: " + e.Message
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// IsConfigError reports whether err's chain holds a *ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
