package logging

import (
	"encoding/json"
	"strings"
)

// FormatHTTPPayload renders a response body for log output. JSON bodies,
// including JSON documents wrapped in a JSON string, are pretty printed;
// anything else is returned trimmed.
func FormatHTTPPayload(raw []byte) string {
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return "<empty>"
	}
	var inner string
	if json.Unmarshal([]byte(text), &inner) == nil {
		text = strings.TrimSpace(inner)
	}
	var decoded any
	if json.Unmarshal([]byte(text), &decoded) != nil {
		return text
	}
	if pretty, err := marshalPrettyJSON(decoded); err == nil {
		return pretty
	}
	return text
}
