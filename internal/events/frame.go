package events

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Wildcard is the topic whose listeners receive every dispatched frame.
const Wildcard = "*"

var ErrMalformedFrame = errors.New("malformed frame")

// Frame is one inbound message. Raw holds the complete document so
// listeners can decode fields beyond type and data.
type Frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
	Raw  json.RawMessage `json:"-"`
}

// DecodeFrame parses an inbound message. The payload must be a JSON object
// with a non-empty string "type".
func DecodeFrame(raw []byte) (Frame, error) {
	var head struct {
		Type *string         `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return Frame{}, fmt.Errorf("%w: %w", ErrMalformedFrame, err)
	}
	if head.Type == nil || *head.Type == "" {
		return Frame{}, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	}
	return Frame{
		Type: *head.Type,
		Data: head.Data,
		Raw:  append(json.RawMessage(nil), raw...),
	}, nil
}
