package ingest

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes returned to clients. They are stable API.
const (
	CodeIdempotencyKeyRequired        = "IDEMPOTENCY_KEY_REQUIRED"
	CodeInvalidBody                   = "INVALID_BODY"
	CodeMissingSourceID               = "MISSING_SOURCE_ID"
	CodeTimeZoneRequired              = "TIMEZONE_REQUIRED"
	CodeTimeZoneInvalid               = "TIMEZONE_INVALID"
	CodeObservedAtInvalid             = "OBSERVED_AT_INVALID"
	CodeKindUnknown                   = "KIND_UNKNOWN"
	CodePayloadInvalid                = "PAYLOAD_INVALID"
	CodeCorrectionInvalid             = "CORRECTION_INVALID"
	CodeSourceNotFound                = "SOURCE_NOT_FOUND"
	CodeSourceInactive                = "SOURCE_INACTIVE"
	CodeSourceProviderMismatch        = "SOURCE_PROVIDER_MISMATCH"
	CodeSourceKindNotAllowed          = "SOURCE_KIND_NOT_ALLOWED"
	CodeSourceSchemaVersionNotAllowed = "SOURCE_SCHEMA_VERSION_NOT_ALLOWED"
	CodeIdempotencyKeyReuseConflict   = "IDEMPOTENCY_KEY_REUSE_CONFLICT"
)

// ValidationError is a client error with a stable code and HTTP status.
// Nothing has been written when one is returned.
type ValidationError struct {
	Code    string
	Status  int
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error, if any.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

func invalid(code, format string, args ...any) *ValidationError {
	return &ValidationError{Code: code, Status: http.StatusBadRequest, Message: fmt.Sprintf(format, args...)}
}

// AsValidationError extracts a ValidationError from err.
// Uses errors.As to handle wrapped errors.
func AsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

// HasCode reports whether err is a ValidationError with code.
func HasCode(err error, code string) bool {
	ve, ok := AsValidationError(err)
	return ok && ve.Code == code
}
