package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// BroadcastHeader addresses every connected user except the sender.
const BroadcastHeader = "@all"

// DefaultMaxMessageChars is the upper bound on a trimmed message body.
const DefaultMaxMessageChars = 500

var (
	// ErrInvalidFormat is returned when a SEND body is not a JSON object.
	ErrInvalidFormat = errors.New("invalid message format")
	// ErrInvalidMessage is returned when a SEND body is a JSON object
	// but its fields cannot be routed.
	ErrInvalidMessage = errors.New("invalid message")
)

// Message is the JSON object carried by a SEND command.
type Message struct {
	Header string
	Body   string
	// Raw is the compacted object exactly as the client sent it. Fields
	// other than header and message (timestamp, sender) live only here.
	Raw json.RawMessage
}

// ParseMessage decodes the argument of a SEND command.
func ParseMessage(data string) (Message, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(data), &fields); err != nil || fields == nil {
		return Message{}, ErrInvalidFormat
	}

	header, ok := stringField(fields, "header")
	if !ok {
		return Message{}, fmt.Errorf("%w: header must be a string", ErrInvalidMessage)
	}
	body, ok := stringField(fields, "message")
	if !ok {
		return Message{}, fmt.Errorf("%w: message must be a string", ErrInvalidMessage)
	}

	var raw bytes.Buffer
	if err := json.Compact(&raw, []byte(data)); err != nil {
		return Message{}, ErrInvalidFormat
	}

	return Message{
		Header: strings.TrimSpace(header),
		Body:   strings.TrimSpace(body),
		Raw:    raw.Bytes(),
	}, nil
}

func stringField(fields map[string]json.RawMessage, key string) (string, bool) {
	raw, ok := fields[key]
	if !ok || bytes.Equal(raw, []byte("null")) {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// CheckBody enforces the 1..maxChars bound on the trimmed body, counted in
// code points.
func (m Message) CheckBody(maxChars int) error {
	n := utf8.RuneCountInString(m.Body)
	if n == 0 {
		return fmt.Errorf("%w: empty body", ErrInvalidMessage)
	}
	if n > maxChars {
		return fmt.Errorf("%w: body has %d characters (max %d)", ErrInvalidMessage, n, maxChars)
	}
	return nil
}

// Recipients resolves the header. It reports broadcast for a lone @all,
// otherwise the de-duplicated usernames in header order.
func (m Message) Recipients() (broadcast bool, usernames []string, err error) {
	tokens := strings.Fields(m.Header)
	if len(tokens) == 0 {
		return false, nil, fmt.Errorf("%w: empty header", ErrInvalidMessage)
	}
	if len(tokens) == 1 && tokens[0] == BroadcastHeader {
		return true, nil, nil
	}

	seen := make(map[string]bool, len(tokens))
	for _, tok := range tokens {
		name, ok := strings.CutPrefix(tok, "@")
		if !ok || name == "" {
			return false, nil, fmt.Errorf("%w: bad recipient %q", ErrInvalidMessage, tok)
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		usernames = append(usernames, name)
	}
	return false, usernames, nil
}
