// Package errors provides structured error handling for the session and
// recording pipeline.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Session errors
	CodeSessionNotFound      Code = "SESSION_NOT_FOUND"
	CodeSessionInactive      Code = "SESSION_INACTIVE"
	CodeSessionOwnerRequired Code = "SESSION_OWNER_REQUIRED"

	// Effect errors
	CodeEffectInvalidKind       Code = "EFFECT_INVALID_KIND"
	CodeEffectMissingParameters Code = "EFFECT_MISSING_PARAMETERS"

	// Recording errors
	CodeRecordingNotFound        Code = "RECORDING_NOT_FOUND"
	CodeRecordingNoFile          Code = "RECORDING_NO_FILE"
	CodeRecordingUnsafeName      Code = "RECORDING_UNSAFE_NAME"
	CodeRecordingUnsupportedType Code = "RECORDING_UNSUPPORTED_TYPE"

	// Infrastructure errors
	CodeStorageFailure    Code = "STORAGE_FAILURE"
	CodeConversionFailure Code = "CONVERSION_FAILURE"
	CodeUnconfigured      Code = "UNCONFIGURED"
)

// HTTPStatus maps domain codes to HTTP status codes.
func (c Code) HTTPStatus() int {
	switch c {
	// Bad request - validation failures, bad input
	case CodeSessionOwnerRequired,
		CodeEffectInvalidKind,
		CodeEffectMissingParameters,
		CodeRecordingNoFile,
		CodeRecordingUnsafeName,
		CodeRecordingUnsupportedType:
		return http.StatusBadRequest

	// Conflict - state doesn't allow operation
	case CodeSessionInactive:
		return http.StatusConflict

	// Not found - resource doesn't exist
	case CodeSessionNotFound,
		CodeRecordingNotFound:
		return http.StatusNotFound

	case CodeConversionFailure:
		return http.StatusBadGateway

	case CodeUnconfigured:
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether a caller may retry the failed operation as-is.
func (c Code) Retryable() bool {
	switch c {
	case CodeStorageFailure, CodeConversionFailure:
		return true
	default:
		return false
	}
}
