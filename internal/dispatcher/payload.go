package dispatcher

import "encoding/json"

// jsonPayload marshals v for storage in an event's provider_response
// column, swallowing marshal errors into a best-effort fallback since
// a malformed debug payload must never abort a state transition.
func jsonPayload(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte(`{}`)
	}
	return b
}
