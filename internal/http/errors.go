package http

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
)

// Error codes used in the canonical error envelope.
const (
	CodeUnauthorized     = "unauthorized"
	CodeNotFound         = "not_found"
	CodeInternal         = "internal_error"
	CodeInvalidRequest   = "invalid_request"
	CodeRateLimited      = "rate_limited"
	CodeInvalidPasskey   = "invalid_passkey"
	CodeNotConfigured    = "passkey_not_configured"
	CodeMissingAPIKey    = "missing_openai_api_key"
	CodeUpstreamFetch    = "upstream_fetch_failed"
	CodeUpstreamError    = "upstream_error"
	CodeNoPassthrough    = "passthrough_not_configured"
	CodeMethodNotAllowed = "method_not_allowed"
)

// ErrorBody is the payload of the canonical error envelope.
type ErrorBody struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// ErrorEnvelope is the gateway's error shape: {"error": {"message": ..., "code": ...}}.
type ErrorEnvelope struct {
	Error ErrorBody `json:"error"`
}

// NewErrorEnvelope marshals an envelope. Marshalling two strings cannot fail.
func NewErrorEnvelope(message, code string) []byte {
	data, _ := json.Marshal(ErrorEnvelope{Error: ErrorBody{Message: message, Code: code}})
	return data
}

// WriteError writes the canonical error envelope with the given status.
func WriteError(w http.ResponseWriter, status int, message, code string) {
	writeBody(w, status, NewErrorEnvelope(message, code))
}

// WriteJSON writes v as a JSON response.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal JSON response")
		WriteError(w, http.StatusInternalServerError, "internal server error", CodeInternal)
		return
	}
	writeBody(w, status, data)
}

// WriteOK writes {"ok": true}.
func WriteOK(w http.ResponseWriter) {
	writeBody(w, http.StatusOK, []byte(`{"ok":true}`))
}

func writeBody(w http.ResponseWriter, status int, data []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
