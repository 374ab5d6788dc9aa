package protocol

import (
	"encoding/json"
	"strings"
)

// PushPrefix tags server-initiated message frames so a client can tell
// them apart from the response to its own last request.
const PushPrefix = "MSG "

// EncodePush wraps a message object as a newline-terminated push frame.
func EncodePush(raw json.RawMessage) []byte {
	frame := make([]byte, 0, len(PushPrefix)+len(raw)+1)
	frame = append(frame, PushPrefix...)
	frame = append(frame, raw...)
	return append(frame, '\n')
}

// ParsePush returns the message object of a push frame.
func ParsePush(frame string) (json.RawMessage, bool) {
	data, ok := strings.CutPrefix(frame, PushPrefix)
	if !ok {
		return nil, false
	}
	return json.RawMessage(data), true
}
