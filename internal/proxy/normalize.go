package proxy

import (
	"encoding/json"
	"mime"
	"strings"

	httpmiddleware "github.com/wolfeidau/api2web/internal/http"
)

// maxTextMessage is how much of a non JSON error body becomes the message.
const maxTextMessage = 300

// NormalizeError rewrites an upstream error body into the canonical envelope.
// It returns false when the body should be relayed unchanged, either because it
// is JSON in an unrecognised (presumably canonical) shape or because no message
// could be extracted.
func NormalizeError(contentType string, body []byte) ([]byte, bool) {
	var message string
	if isJSON(contentType) {
		message = jsonErrorMessage(body)
	} else {
		message = textErrorMessage(body)
	}

	if message == "" {
		return nil, false
	}

	return httpmiddleware.NewErrorEnvelope(message, httpmiddleware.CodeUpstreamError), true
}

func isJSON(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

// jsonErrorMessage understands the error shapes seen from OpenAI compatible servers:
//
//	{"error": "bad key"}
//	{"message": "bad key"}
//	{"detail": "bad key"}
//	{"detail": [{"msg": "field required"}, {"msg": "value too long"}]}
func jsonErrorMessage(body []byte) string {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(body, &doc); err != nil {
		return ""
	}

	for _, key := range []string{"error", "message", "detail"} {
		if msg := rawString(doc[key]); msg != "" {
			return msg
		}
	}

	var details []struct {
		Msg json.RawMessage `json:"msg"`
	}
	if err := json.Unmarshal(doc["detail"], &details); err != nil {
		return ""
	}

	msgs := make([]string, 0, len(details))
	for _, d := range details {
		if msg := rawString(d.Msg); msg != "" {
			msgs = append(msgs, msg)
		}
	}
	return strings.Join(msgs, "; ")
}

// rawString returns the trimmed value of a JSON string, or "" for anything else.
func rawString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

func textErrorMessage(body []byte) string {
	text := []rune(string(body))
	if len(text) > maxTextMessage {
		text = text[:maxTextMessage]
	}
	return strings.Join(strings.Fields(string(text)), " ")
}
