// Package i18n holds the user-facing error message catalog.
package i18n

import (
	"strings"
	"text/template"
)

// Error codes must match the codes defined in internal/errors/codes.go.
// These are duplicated as strings to avoid an import cycle.
const (
	CodeUnknown                  = "UNKNOWN"
	CodeSessionNotFound          = "SESSION_NOT_FOUND"
	CodeSessionInactive          = "SESSION_INACTIVE"
	CodeSessionOwnerRequired     = "SESSION_OWNER_REQUIRED"
	CodeEffectInvalidKind        = "EFFECT_INVALID_KIND"
	CodeEffectMissingParameters  = "EFFECT_MISSING_PARAMETERS"
	CodeRecordingNotFound        = "RECORDING_NOT_FOUND"
	CodeRecordingNoFile          = "RECORDING_NO_FILE"
	CodeRecordingUnsafeName      = "RECORDING_UNSAFE_NAME"
	CodeRecordingUnsupportedType = "RECORDING_UNSUPPORTED_TYPE"
	CodeStorageFailure           = "STORAGE_FAILURE"
	CodeConversionFailure        = "CONVERSION_FAILURE"
	CodeUnconfigured             = "UNCONFIGURED"
)

var enUSMessages = map[string]string{
	CodeUnknown: "An unexpected error occurred",

	// Session errors
	CodeSessionNotFound:      "Session not found",
	CodeSessionInactive:      "Session is no longer active",
	CodeSessionOwnerRequired: "A session owner is required",

	// Effect errors
	CodeEffectInvalidKind:       "Unknown effect kind: {{.Kind}}",
	CodeEffectMissingParameters: "Effect parameters are required",

	// Recording errors
	CodeRecordingNotFound:        "Recording not found",
	CodeRecordingNoFile:          "No file was uploaded",
	CodeRecordingUnsafeName:      "Recording name contains unsafe path components",
	CodeRecordingUnsupportedType: "Unsupported audio type: {{.MimeType}}",

	// Infrastructure errors
	CodeStorageFailure:    "Error saving recording, please retry",
	CodeConversionFailure: "Error processing audio file, please retry",
	CodeUnconfigured:      "A required external service is not configured",
}

// Format renders the catalog message for a code with optional metadata.
// Codes without a catalog entry fall back to the unknown-error message.
func Format(code string, metadata map[string]string) string {
	msg, ok := enUSMessages[code]
	if !ok {
		msg = enUSMessages[CodeUnknown]
	}
	if len(metadata) == 0 || !strings.Contains(msg, "{{") {
		return msg
	}

	tmpl, err := template.New("msg").Parse(msg)
	if err != nil {
		return msg
	}
	var sb strings.Builder
	if err := tmpl.Execute(&sb, metadata); err != nil {
		return msg
	}
	return sb.String()
}
