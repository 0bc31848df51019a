// Package protocol implements the newline-delimited text protocol spoken
// between chat clients and the server. Every frame is a verb followed by
// colon separated fields; the last field of a frame may itself contain
// colons.
package protocol

import (
	"errors"
	"fmt"
	"strings"
)

// MaxLineBytes bounds a single frame, newline excluded.
const MaxLineBytes = 4096

// AssistantName is the sender identity used for generated replies.
const AssistantName = "Bot"

// ErrMalformed is returned for frames that cannot be parsed.
var ErrMalformed = errors.New("malformed frame")

type Verb string

// Client to server verbs.
const (
	VerbLogin     Verb = "LOGIN"
	VerbRegister  Verb = "REGISTER"
	VerbToken     Verb = "TOKEN"
	VerbJoin      Verb = "JOIN"
	VerbRejoin    Verb = "REJOIN"
	VerbLeave     Verb = "LEAVE"
	VerbMessage   Verb = "MESSAGE"
	VerbAck       Verb = "ACK"
	VerbHeartbeat Verb = "HEARTBEAT"
	VerbLogout    Verb = "LOGOUT"
	VerbRooms     Verb = "ROOMS"
	VerbUsers     Verb = "USERS"
)

// Server to client verbs. MESSAGE, ROOMS and USERS are shared with the
// client side.
const (
	VerbAuthOK         Verb = "AUTH_OK"
	VerbAuthNew        Verb = "AUTH_NEW"
	VerbAuthFail       Verb = "AUTH_FAIL"
	VerbSessionResumed Verb = "SESSION_RESUMED"
	VerbCreated        Verb = "CREATED"
	VerbJoined         Verb = "JOINED"
	VerbRejoined       Verb = "REJOINED"
	VerbLeft           Verb = "LEFT"
	VerbSystem         Verb = "SYSTEM"
	VerbHistory        Verb = "HISTORY"
	VerbHeartbeatAck   Verb = "HEARTBEAT_ACK"
	VerbBye            Verb = "BYE"
	VerbError          Verb = "ERROR"
)

const assistedMarker = "AI"

// Command is a parsed client frame. Only the fields relevant to Verb are set.
type Command struct {
	Verb        Verb
	User        string
	Password    string
	Token       string
	Room        string
	Assisted    bool
	Instruction string
	Text        string
	ID          string
}

// Parse decodes one client frame. A trailing carriage return is ignored.
func Parse(line string) (Command, error) {
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return Command{}, fmt.Errorf("%w: empty frame", ErrMalformed)
	}

	head, rest, hasRest := strings.Cut(line, ":")
	cmd := Command{Verb: Verb(head)}

	switch cmd.Verb {
	case VerbHeartbeat, VerbLogout, VerbRooms:
		if hasRest {
			return Command{}, malformed(line)
		}
		return cmd, nil

	case VerbLogin, VerbRegister:
		user, pass, ok := strings.Cut(rest, ":")
		if !ok || !ValidUserName(user) || pass == "" {
			return Command{}, malformed(line)
		}
		cmd.User, cmd.Password = user, pass
		return cmd, nil

	case VerbToken:
		if rest == "" {
			return Command{}, malformed(line)
		}
		cmd.Token = rest
		return cmd, nil

	case VerbJoin:
		if marker, tail, ok := strings.Cut(rest, ":"); ok && marker == assistedMarker {
			room, instruction, _ := strings.Cut(tail, ":")
			if !ValidRoomName(room) {
				return Command{}, malformed(line)
			}
			cmd.Room, cmd.Assisted, cmd.Instruction = room, true, instruction
			return cmd, nil
		}
		if !ValidRoomName(rest) {
			return Command{}, malformed(line)
		}
		cmd.Room = rest
		return cmd, nil

	case VerbRejoin, VerbLeave, VerbUsers:
		if !ValidRoomName(rest) {
			return Command{}, malformed(line)
		}
		cmd.Room = rest
		return cmd, nil

	case VerbMessage:
		room, text, ok := strings.Cut(rest, ":")
		if !ok || !ValidRoomName(room) || text == "" {
			return Command{}, malformed(line)
		}
		cmd.Room, cmd.Text = room, text
		return cmd, nil

	case VerbAck:
		if rest == "" {
			return Command{}, malformed(line)
		}
		cmd.ID = rest
		return cmd, nil
	}

	return Command{}, fmt.Errorf("%w: unknown verb %q", ErrMalformed, head)
}

// String renders c back into its wire form.
func (c Command) String() string {
	switch c.Verb {
	case VerbLogin, VerbRegister:
		return join(c.Verb, c.User, c.Password)
	case VerbToken:
		return join(c.Verb, c.Token)
	case VerbJoin:
		if c.Assisted {
			if c.Instruction == "" {
				return join(c.Verb, assistedMarker, c.Room)
			}
			return join(c.Verb, assistedMarker, c.Room, c.Instruction)
		}
		return join(c.Verb, c.Room)
	case VerbRejoin, VerbLeave, VerbUsers:
		return join(c.Verb, c.Room)
	case VerbMessage:
		return join(c.Verb, c.Room, c.Text)
	case VerbAck:
		return join(c.Verb, c.ID)
	}
	return string(c.Verb)
}

// ValidUserName reports whether name can travel inside a frame: 1 to 32
// characters with no separators or whitespace.
func ValidUserName(name string) bool {
	if name == "" || len(name) > 32 {
		return false
	}
	return !strings.ContainsAny(name, ":,| \t\r\n")
}

// ReservedUserName reports whether name belongs to the generated-reply
// identity, in any letter case. Nobody may log in under it.
func ReservedUserName(name string) bool {
	return strings.EqualFold(name, AssistantName)
}

// ValidRoomName reports whether name can be used as a room: 1 to 64
// characters with no separators or line breaks.
func ValidRoomName(name string) bool {
	if strings.TrimSpace(name) == "" || len(name) > 64 {
		return false
	}
	return !strings.ContainsAny(name, ":,|\r\n")
}

func malformed(line string) error {
	if len(line) > 64 {
		line = line[:64] + "..."
	}
	return fmt.Errorf("%w: %q", ErrMalformed, line)
}

func join(v Verb, fields ...string) string {
	return string(v) + ":" + strings.Join(fields, ":")
}
