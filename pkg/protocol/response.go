package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Response is a single response line without its trailing newline.
type Response string

const (
	ResponseOK              Response = "200 OK"
	ResponseBye             Response = "200 BYE"
	ResponseSent            Response = "200 SENT"
	ResponseStatusUpdated   Response = "200 USERSTATUS UPDATED"
	ResponseInvalidUsername Response = "400 INVALID USERNAME"
	ResponseMessageFailed   Response = "400 MESSAGE FAILED"
	ResponseInvalidFormat   Response = "400 INVALID MESSAGE FORMAT"
	ResponseInvalidRequest  Response = "400 INVALID REQUEST"
	ResponseServerError     Response = "500 SERVER ERROR"
)

const boardPrefix = "200 BOARD "

// BoardResponse renders a USERBOARD reply from a username to status
// mapping.
func BoardResponse(board any) (Response, error) {
	data, err := json.Marshal(board)
	if err != nil {
		return "", fmt.Errorf("failed to encode board: %w", err)
	}
	return Response(boardPrefix + string(data)), nil
}

// ParseBoard extracts the JSON mapping from a USERBOARD reply.
func ParseBoard(r Response) (map[string]string, error) {
	data, ok := strings.CutPrefix(string(r), boardPrefix)
	if !ok {
		return nil, fmt.Errorf("not a board response: %q", r)
	}
	board := make(map[string]string)
	if err := json.Unmarshal([]byte(data), &board); err != nil {
		return nil, fmt.Errorf("failed to decode board: %w", err)
	}
	return board, nil
}

// Code returns the three digit status code.
func (r Response) Code() string {
	if len(r) < 3 {
		return ""
	}
	return string(r[:3])
}

// OK reports whether the response carries a 2xx code.
func (r Response) OK() bool {
	return strings.HasPrefix(string(r), "2")
}

// Encode renders the response as a newline-terminated frame.
func (r Response) Encode() []byte {
	return []byte(string(r) + "\n")
}

// IsResponse reports whether a received frame is a response line, i.e. it
// starts with a three digit code followed by a space.
func IsResponse(frame string) bool {
	if len(frame) < 4 || frame[3] != ' ' {
		return false
	}
	for i := 0; i < 3; i++ {
		if frame[i] < '0' || frame[i] > '9' {
			return false
		}
	}
	return true
}
