package internal

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

type ErrorType string

const (
	ErrorTypeValidation   ErrorType = "VALIDATION_ERROR"
	ErrorTypeNotFound     ErrorType = "NOT_FOUND"
	ErrorTypeUnauthorized ErrorType = "UNAUTHORIZED"
	ErrorTypeForbidden    ErrorType = "FORBIDDEN"
	ErrorTypeConflict     ErrorType = "CONFLICT"
	ErrorTypeInternal     ErrorType = "INTERNAL_ERROR"
)

type ErrorCode string

const (
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"

	ErrCodeMissingTenant    ErrorCode = "MISSING_TENANT"
	ErrCodePermissionDenied ErrorCode = "PERMISSION_DENIED"
	ErrCodeConsentRequired  ErrorCode = "CONSENT_REQUIRED"

	ErrCodeInvalidToken ErrorCode = "INVALID_TOKEN"
	ErrCodeTokenExpired ErrorCode = "TOKEN_EXPIRED"

	ErrCodeRoleNotFound       ErrorCode = "ROLE_NOT_FOUND"
	ErrCodePermissionNotFound ErrorCode = "PERMISSION_NOT_FOUND"
	ErrCodeAssignmentNotFound ErrorCode = "ASSIGNMENT_NOT_FOUND"
	ErrCodeGrantNotFound      ErrorCode = "GRANT_NOT_FOUND"
	ErrCodeConsentNotFound    ErrorCode = "CONSENT_NOT_FOUND"

	ErrCodeRoleExists       ErrorCode = "ROLE_EXISTS"
	ErrCodePermissionExists ErrorCode = "PERMISSION_EXISTS"
	ErrCodeAssignmentExists ErrorCode = "ASSIGNMENT_EXISTS"
	ErrCodeGrantExists      ErrorCode = "GRANT_EXISTS"

	ErrCodeSystemRoleImmutable       ErrorCode = "SYSTEM_ROLE_IMMUTABLE"
	ErrCodeSystemPermissionImmutable ErrorCode = "SYSTEM_PERMISSION_IMMUTABLE"
	ErrCodeConsentNotActive          ErrorCode = "CONSENT_NOT_ACTIVE"
	ErrCodeInvalidPurpose            ErrorCode = "INVALID_PURPOSE"
	ErrCodeInvalidStatus             ErrorCode = "INVALID_STATUS"
	ErrCodeInvalidMethod             ErrorCode = "INVALID_METHOD"
	ErrCodeInvalidAction             ErrorCode = "INVALID_ACTION"
	ErrCodeReasonRequired            ErrorCode = "REASON_REQUIRED"
	ErrCodeInvalidDuration           ErrorCode = "INVALID_DURATION"
)

type AppError struct {
	Type       ErrorType   `json:"type"`
	Code       ErrorCode   `json:"code"`
	Message    string      `json:"message"`
	Details    interface{} `json:"details,omitempty"`
	StatusCode int         `json:"-"`
	Cause      error       `json:"-"`
}

func (e *AppError) Error() string {
	if e.Details != nil {
		if validationErrors, ok := e.Details.(ValidationErrors); ok && len(validationErrors.Errors) > 0 {
			return validationErrors.Errors[0].Message
		}
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) GetDetailedMessage() string {
	if e.Details != nil {
		if validationErrors, ok := e.Details.(ValidationErrors); ok {
			if len(validationErrors.Errors) == 1 {
				return validationErrors.Errors[0].Message
			} else if len(validationErrors.Errors) > 1 {
				messages := make([]string, len(validationErrors.Errors))
				for i, err := range validationErrors.Errors {
					messages[i] = err.Message
				}
				return strings.Join(messages, "; ")
			}
		}
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

func (e *AppError) WithDetails(details interface{}) *AppError {
	e.Details = details
	return e
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func NewValidationError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusBadRequest,
	}
}

func NewValidationFieldError(field, message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Code:       ErrCodeValidationFailed,
		Message:    "Validation failed",
		StatusCode: http.StatusBadRequest,
		Details: ValidationErrors{
			Errors: []ValidationError{
				{Field: field, Message: message, Code: string(code)},
			},
		},
	}
}

func NewNotFoundError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeNotFound,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusNotFound,
	}
}

func NewUnauthorizedError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeUnauthorized,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusUnauthorized,
	}
}

func NewForbiddenError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeForbidden,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusForbidden,
	}
}

func NewInternalError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeInternal,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Cause:      cause,
	}
}

func NewConflictError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeConflict,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusConflict,
	}
}

var (
	// ErrMissingTenant is fatal to the request: no operation runs without a
	// resolved tenant and there is never a default tenant.
	ErrMissingTenant = NewUnauthorizedError("tenant could not be resolved for this request", ErrCodeMissingTenant)

	// ErrPermissionDenied is deliberately generic so that callers cannot tell
	// which layer (role, grant or consent) rejected them.
	ErrPermissionDenied = NewForbiddenError("forbidden", ErrCodePermissionDenied)
	ErrConsentRequired  = NewForbiddenError("forbidden", ErrCodeConsentRequired)

	ErrInvalidToken = NewUnauthorizedError("Invalid token", ErrCodeInvalidToken)
	ErrTokenExpired = NewUnauthorizedError("Token has expired", ErrCodeTokenExpired)

	ErrRoleNotFound       = NewNotFoundError("Role not found", ErrCodeRoleNotFound)
	ErrPermissionNotFound = NewNotFoundError("Permission not found", ErrCodePermissionNotFound)
	ErrAssignmentNotFound = NewNotFoundError("Role assignment not found", ErrCodeAssignmentNotFound)
	ErrGrantNotFound      = NewNotFoundError("Resource grant not found", ErrCodeGrantNotFound)
	ErrConsentNotFound    = NewNotFoundError("Consent not found", ErrCodeConsentNotFound)

	ErrRoleExists       = NewConflictError("a role with this name already exists in the tenant", ErrCodeRoleExists)
	ErrPermissionExists = NewConflictError("permission already exists", ErrCodePermissionExists)
	ErrAssignmentExists = NewConflictError("user already has this role in the tenant", ErrCodeAssignmentExists)
	ErrGrantExists      = NewConflictError("an equivalent grant is already active", ErrCodeGrantExists)

	ErrSystemRoleImmutable       = NewValidationError("system roles cannot be deleted", ErrCodeSystemRoleImmutable)
	ErrSystemPermissionImmutable = NewValidationError("system permissions cannot be deleted", ErrCodeSystemPermissionImmutable)
	ErrConsentNotActive          = NewValidationError("can only withdraw active consents", ErrCodeConsentNotActive)
	ErrReasonRequired            = NewValidationError("a reason is required for break-glass access", ErrCodeReasonRequired)
)

func IsAppError(err error) (*AppError, bool) {
	if appErr, ok := err.(*AppError); ok {
		return appErr, true
	}
	return nil, false
}

type Response struct {
	Error *AppError `json:"error"`
}

func (e *AppError) ToHTTPResponse() (int, interface{}) {
	return e.StatusCode, Response{Error: e}
}

func (e *AppError) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type    ErrorType   `json:"type"`
		Code    ErrorCode   `json:"code"`
		Message string      `json:"message"`
		Details interface{} `json:"details,omitempty"`
	}{
		Type:    e.Type,
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	})
}
