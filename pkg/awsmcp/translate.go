package awsmcp

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/smithy-go"
)

// codeTags is the fixed translation table from provider error codes.
var codeTags = map[string]Tag{
	// access-denied family
	"AccessDenied":          TagAuthorization,
	"AccessDeniedException": TagAuthorization,
	"UnauthorizedOperation": TagAuthorization,
	"AuthorizationError":    TagAuthorization,
	"Forbidden":             TagAuthorization,

	// credential family
	"AuthFailure":                 TagAuthentication,
	"ExpiredToken":                TagAuthentication,
	"ExpiredTokenException":       TagAuthentication,
	"InvalidClientTokenId":        TagAuthentication,
	"UnrecognizedClientException": TagAuthentication,
	"SignatureDoesNotMatch":       TagAuthentication,
	"InvalidAccessKeyId":          TagAuthentication,

	// not-found family
	"InvalidUserID.NotFound":    TagResourceNotFound,
	"NoSuchEntity":              TagResourceNotFound,
	"ResourceNotFoundException": TagResourceNotFound,
	"NoSuchBucket":              TagResourceNotFound,
	"NoSuchKey":                 TagResourceNotFound,
	"NotFound":                  TagResourceNotFound,
	"StackNotFoundException":    TagResourceNotFound,

	// validation family
	"ValidationException":            TagValidation,
	"ValidationError":                TagValidation,
	"InvalidParameterValue":          TagValidation,
	"InvalidParameterCombination":    TagValidation,
	"InvalidParameterException":      TagValidation,
	"InvalidParameter":               TagValidation,
	"MissingParameter":               TagValidation,
	"InvalidRequestContentException": TagValidation,
	"InvalidBucketName":              TagValidation,

	// throttling family
	"Throttling":                             TagThrottling,
	"ThrottlingException":                    TagThrottling,
	"RequestLimitExceeded":                   TagThrottling,
	"TooManyRequestsException":               TagThrottling,
	"RequestThrottled":                       TagThrottling,
	"SlowDown":                               TagThrottling,
	"ProvisionedThroughputExceededException": TagThrottling,

	// quota family
	"LimitExceeded":                 TagLimitExceeded,
	"LimitExceededException":        TagLimitExceeded,
	"InstanceLimitExceeded":         TagLimitExceeded,
	"ServiceQuotaExceededException": TagLimitExceeded,
	"VcpuLimitExceeded":             TagLimitExceeded,
}

// tagForCode resolves one provider code. Codes outside the table fall back
// on EC2-style suffixes and then to ServiceError.
func tagForCode(code, message string) Tag {
	if tag, ok := codeTags[code]; ok {
		// CloudFormation reports missing stacks as ValidationError.
		if tag == TagValidation && code == "ValidationError" && strings.Contains(message, "does not exist") {
			return TagResourceNotFound
		}
		return tag
	}
	switch {
	case strings.HasSuffix(code, ".NotFound"), strings.HasSuffix(code, "NotFoundException"):
		return TagResourceNotFound
	case strings.HasSuffix(code, ".Malformed"), strings.HasPrefix(code, "InvalidParameter"):
		return TagValidation
	}
	return TagServiceError
}

// Translate maps a raw provider error onto the taxonomy. It is pure and
// total: unknown codes become ServiceError.
func Translate(service, operation, code, message string) *Error {
	return translate(service, operation, code, message, 0)
}

func translate(service, operation, code, message string, retryAfter time.Duration) *Error {
	if message == "" {
		message = code
	}
	if message == "" {
		message = "unknown service error"
	}
	var e *Error
	if tag := tagForCode(code, message); tag == TagThrottling {
		e = ErrThrottling(message, retryAfter)
	} else {
		e = NewError(tag, message)
	}
	e.WithService(service, operation)
	if code != "" {
		e.WithDetail("provider_code", code)
	}
	return e
}

// TranslateError converts any error returned by an SDK call into a
// taxonomy error. Taxonomy and configuration errors pass through unchanged.
func TranslateError(service, operation string, err error) error {
	if err == nil {
		return nil
	}
	if e, ok := AsError(err); ok {
		if e.Service == "" {
			e.WithService(service, operation)
		}
		return e
	}
	if IsConfigError(err) {
		return err
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		e := translate(service, operation, apiErr.ErrorCode(), apiErr.ErrorMessage(), RetryAfter(err)).
			WithCause(err)
		if id := RequestID(err); id != "" {
			e.WithRequestID(id)
		}
		return e
	}

	if errors.Is(err, context.Canceled) {
		return ErrService("request canceled", service, operation).
			WithCause(err).
			WithRetryable(true)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrService("request timed out", service, operation).
			WithCause(err).
			WithRetryable(true)
	}
	return ErrService(err.Error(), service, operation).WithCause(err)
}

// RequestID returns the provider request ID carried by err, if any.
func RequestID(err error) string {
	var re *awshttp.ResponseError
	if errors.As(err, &re) {
		return re.ServiceRequestID()
	}
	return ""
}

// RetryAfter returns the delay a throttled response asked for in its
// Retry-After header, in whole seconds. Zero when absent.
func RetryAfter(err error) time.Duration {
	var re *awshttp.ResponseError
	if !errors.As(err, &re) || re.ResponseError == nil {
		return 0
	}
	resp := re.HTTPResponse()
	if resp == nil || resp.Response == nil {
		return 0
	}
	secs, perr := strconv.Atoi(strings.TrimSpace(resp.Header.Get("Retry-After")))
	if perr != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// ProviderMessage returns the provider's own message for err, falling back
// on err.Error() when err is not an API error.
func ProviderMessage(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorMessage() != "" {
		return apiErr.ErrorMessage()
	}
	return err.Error()
}
