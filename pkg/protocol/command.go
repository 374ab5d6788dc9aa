// Package protocol defines the line-oriented wire format shared by the
// server and its clients: request commands, response lines, pushed
// message frames and the frame reader.
package protocol

import "strings"

// Command is the first token of a request frame. Commands are
// case-sensitive.
type Command string

const (
	CommandJoin       Command = "JOIN"
	CommandLeave      Command = "LEAVE"
	CommandSend       Command = "SEND"
	CommandUserBoard  Command = "USERBOARD"
	CommandUserStatus Command = "USERSTATUS"
)

// Known reports whether c is part of the protocol.
func (c Command) Known() bool {
	switch c {
	case CommandJoin, CommandLeave, CommandSend, CommandUserBoard, CommandUserStatus:
		return true
	default:
		return false
	}
}

// String returns the command token, or UNKNOWN for anything else.
func (c Command) String() string {
	if c.Known() {
		return string(c)
	}
	return "UNKNOWN"
}

// Request is a parsed request frame.
type Request struct {
	Command Command
	// Args is everything after the first space, trimmed.
	Args string
}

// ParseRequest splits a trimmed frame into command and argument text.
func ParseRequest(frame string) Request {
	cmd, rest, _ := strings.Cut(frame, " ")
	return Request{
		Command: Command(cmd),
		Args:    strings.TrimSpace(rest),
	}
}

// Fields returns the whitespace-separated arguments.
func (r Request) Fields() []string {
	return strings.Fields(r.Args)
}

// Encode renders the request as a newline-terminated frame.
func (r Request) Encode() []byte {
	if r.Args == "" {
		return []byte(string(r.Command) + "\n")
	}
	return []byte(string(r.Command) + " " + r.Args + "\n")
}
