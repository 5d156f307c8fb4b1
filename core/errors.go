package core

import (
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ErrorAuthRequired       = "LEADSYNC_AUTH_REQUIRED"
	ErrorRateLimited        = "LEADSYNC_RATE_LIMITED"
	ErrorConfigUnresolved   = "LEADSYNC_CONFIG_UNRESOLVED"
	ErrorUpstreamFetch      = "LEADSYNC_UPSTREAM_FETCH"
	ErrorValidation         = "LEADSYNC_VALIDATION"
	ErrorTokenUnavailable   = "LEADSYNC_TOKEN_UNAVAILABLE"
	ErrorCredentialNotFound = "LEADSYNC_CREDENTIAL_NOT_FOUND"
	ErrorTenantNotFound     = "LEADSYNC_TENANT_NOT_FOUND"
	ErrorLeadNotFound       = "LEADSYNC_LEAD_NOT_FOUND"
	ErrorLockHeld           = "LEADSYNC_LOCK_HELD"
	ErrorInternal           = "LEADSYNC_INTERNAL_ERROR"
)

const (
	MetadataRetryAfter = "retry_after"
	MetadataStatus     = "status"
)

// NewAuthError reports a revoked or invalid grant. Callers surface it as
// "needs reconnect".
func NewAuthError(message string, cause error) *goerrors.Error {
	return leadsyncError(cause, message, goerrors.CategoryAuth, ErrorAuthRequired)
}

// NewRateLimitError reports a remote 429. retryAfter may be zero when the
// remote gave no hint.
func NewRateLimitError(message string, retryAfter time.Duration) *goerrors.Error {
	err := leadsyncError(nil, message, goerrors.CategoryRateLimit, ErrorRateLimited)
	if retryAfter > 0 {
		err.WithMetadata(map[string]any{MetadataRetryAfter: retryAfter.String()})
	}
	return err
}

func NewConfigError(message string) *goerrors.Error {
	return leadsyncError(nil, message, goerrors.CategoryBadInput, ErrorConfigUnresolved)
}

func NewUpstreamFetchError(status int, message string, cause error) *goerrors.Error {
	err := leadsyncError(cause, message, goerrors.CategoryExternal, ErrorUpstreamFetch)
	if status > 0 {
		err.WithMetadata(map[string]any{MetadataStatus: status})
	}
	return err
}

func NewValidationError(message string, fields ...goerrors.FieldError) *goerrors.Error {
	err := goerrors.NewValidation(message, fields...)
	err.WithTextCode(ErrorValidation)
	return ensureErrorEnvelope(err)
}

// NewFieldError is a single field validation failure raised by scope.
func NewFieldError(scope, field, message string) *goerrors.Error {
	return NewValidationError(scope+": validation failed", goerrors.FieldError{Field: field, Message: message})
}

// NewDependencyError reports a handler invoked without its wiring.
func NewDependencyError(message string) *goerrors.Error {
	return leadsyncError(nil, message, goerrors.CategoryInternal, ErrorInternal)
}

// NewTokenUnavailableError is the retryable outcome of losing a refresh race:
// another caller holds the lock and no usable token appeared in time.
func NewTokenUnavailableError(locationID string) *goerrors.Error {
	err := leadsyncError(nil, "core: access token temporarily unavailable", goerrors.CategoryOperation, ErrorTokenUnavailable)
	err.Code = http.StatusServiceUnavailable
	err.WithMetadata(map[string]any{"location_id": locationID})
	return err
}

func NewCredentialNotFoundError(locationID string) *goerrors.Error {
	err := leadsyncError(nil, "core: credential not found", goerrors.CategoryNotFound, ErrorCredentialNotFound)
	err.WithMetadata(map[string]any{"location_id": locationID})
	return err
}

func NewTenantNotFoundError(tenantID string) *goerrors.Error {
	err := leadsyncError(nil, "core: tenant not found", goerrors.CategoryNotFound, ErrorTenantNotFound)
	err.WithMetadata(map[string]any{"tenant_id": tenantID})
	return err
}

func NewLeadNotFoundError(leadID string) *goerrors.Error {
	err := leadsyncError(nil, "core: lead not found", goerrors.CategoryNotFound, ErrorLeadNotFound)
	err.WithMetadata(map[string]any{"lead_id": leadID})
	return err
}

func NewLockHeldError(key string) *goerrors.Error {
	err := leadsyncError(nil, "core: lock already held", goerrors.CategoryConflict, ErrorLockHeld)
	err.WithMetadata(map[string]any{"lock_key": key})
	return err
}

func IsAuthError(err error) bool          { return hasTextCode(err, ErrorAuthRequired) }
func IsRateLimitError(err error) bool     { return hasTextCode(err, ErrorRateLimited) }
func IsConfigError(err error) bool        { return hasTextCode(err, ErrorConfigUnresolved) }
func IsUpstreamFetchError(err error) bool { return hasTextCode(err, ErrorUpstreamFetch) }
func IsValidationError(err error) bool    { return hasTextCode(err, ErrorValidation) }
func IsTokenUnavailable(err error) bool   { return hasTextCode(err, ErrorTokenUnavailable) }
func IsLockHeld(err error) bool           { return hasTextCode(err, ErrorLockHeld) }

func IsNotFound(err error) bool {
	return hasTextCode(err, ErrorCredentialNotFound) ||
		hasTextCode(err, ErrorTenantNotFound) ||
		hasTextCode(err, ErrorLeadNotFound)
}

// IsRetryable reports whether a later attempt may succeed without operator
// action. Auth and config failures are never retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case IsAuthError(err), IsConfigError(err), IsValidationError(err):
		return false
	case IsRateLimitError(err), IsTokenUnavailable(err), IsLockHeld(err):
		return true
	}
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		return rich.Category == goerrors.CategoryExternal || rich.Category == goerrors.CategoryOperation
	}
	return false
}

// RetryAfter extracts the remote retry hint carried by a rate limit error.
func RetryAfter(err error) time.Duration {
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich.Metadata == nil {
		return 0
	}
	raw, ok := rich.Metadata[MetadataRetryAfter].(string)
	if !ok {
		return 0
	}
	delay, parseErr := time.ParseDuration(raw)
	if parseErr != nil || delay < 0 {
		return 0
	}
	return delay
}

// UpstreamStatus returns the remote HTTP status carried by an upstream fetch
// error, or zero.
func UpstreamStatus(err error) int {
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich.Metadata == nil {
		return 0
	}
	switch status := rich.Metadata[MetadataStatus].(type) {
	case int:
		return status
	case int64:
		return int(status)
	case float64:
		return int(status)
	}
	return 0
}

// IsRemoteNotFound reports a remote 404.
func IsRemoteNotFound(err error) bool {
	return IsUpstreamFetchError(err) && UpstreamStatus(err) == http.StatusNotFound
}

// MapError normalizes any error into a leadsync envelope.
func MapError(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureErrorEnvelope(richErr)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "invalid_grant"), strings.Contains(msg, "unauthorized"):
		return leadsyncError(err, err.Error(), goerrors.CategoryAuth, ErrorAuthRequired)
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "too many requests"):
		return leadsyncError(err, err.Error(), goerrors.CategoryRateLimit, ErrorRateLimited)
	case strings.Contains(msg, "lock already held"):
		return leadsyncError(err, err.Error(), goerrors.CategoryConflict, ErrorLockHeld)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"):
		return leadsyncError(err, err.Error(), goerrors.CategoryBadInput, ErrorValidation)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureErrorEnvelope(mapped)
}

func leadsyncError(cause error, message string, category goerrors.Category, textCode string) *goerrors.Error {
	var err *goerrors.Error
	if cause != nil {
		err = goerrors.Wrap(cause, category, message)
	} else {
		err = goerrors.New(message, category)
	}
	return ensureErrorEnvelope(err.WithTextCode(textCode))
}

func hasTextCode(err error, code string) bool {
	if err == nil {
		return false
	}
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		return false
	}
	return rich.TextCode == code
}

func ensureErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = httpStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return ErrorValidation
	case goerrors.CategoryNotFound:
		return ErrorTenantNotFound
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return ErrorAuthRequired
	case goerrors.CategoryConflict:
		return ErrorLockHeld
	case goerrors.CategoryRateLimit:
		return ErrorRateLimited
	case goerrors.CategoryExternal:
		return ErrorUpstreamFetch
	default:
		return ErrorInternal
	}
}

func httpStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
