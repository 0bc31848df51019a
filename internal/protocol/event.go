package protocol

import (
	"fmt"
	"strings"
)

// Event is a parsed server frame as seen by a client.
type Event struct {
	Verb    Verb
	Room    string
	Sender  string
	Text    string
	ID      string
	Token   string
	User    string
	Reason  string
	Rooms   []RoomInfo
	Users   []string
	History []HistoryEntry
}

// ParseEvent decodes one server frame.
func ParseEvent(line string) (Event, error) {
	line = strings.TrimRight(line, "\r\n")
	head, rest, hasRest := strings.Cut(line, ":")
	ev := Event{Verb: Verb(head)}

	switch ev.Verb {
	case VerbHeartbeatAck, VerbBye:
		return ev, nil

	case VerbAuthOK, VerbAuthNew:
		if rest == "" {
			return Event{}, malformed(line)
		}
		ev.Token = rest
		return ev, nil

	case VerbAuthFail, VerbError:
		ev.Reason = rest
		return ev, nil

	case VerbSessionResumed:
		ev.User = rest
		return ev, nil

	case VerbCreated, VerbJoined, VerbRejoined, VerbLeft:
		if rest == "" {
			return Event{}, malformed(line)
		}
		ev.Room = rest
		return ev, nil

	case VerbSystem:
		room, text, ok := strings.Cut(rest, ":")
		if !ok {
			return Event{}, malformed(line)
		}
		ev.Room, ev.Text = room, text
		return ev, nil

	case VerbMessage:
		// MESSAGE:<room>:<sender>:<text>:<id>; text may contain colons, the
		// id never does.
		room, tail, ok := strings.Cut(rest, ":")
		if !ok {
			return Event{}, malformed(line)
		}
		sender, tail, ok := strings.Cut(tail, ":")
		if !ok {
			return Event{}, malformed(line)
		}
		i := strings.LastIndex(tail, ":")
		if i < 0 || i == len(tail)-1 {
			return Event{}, malformed(line)
		}
		ev.Room, ev.Sender, ev.Text, ev.ID = room, sender, tail[:i], tail[i+1:]
		return ev, nil

	case VerbRooms:
		ev.Rooms = parseRooms(rest)
		return ev, nil

	case VerbUsers:
		if rest != "" {
			ev.Users = strings.Split(rest, ",")
		}
		return ev, nil

	case VerbHistory:
		for _, part := range strings.Split(rest, "|") {
			sender, text, ok := strings.Cut(part, ":")
			if !ok {
				continue
			}
			ev.History = append(ev.History, HistoryEntry{Sender: sender, Text: text})
		}
		return ev, nil
	}

	if !hasRest && head == "" {
		return Event{}, fmt.Errorf("%w: empty frame", ErrMalformed)
	}
	return Event{}, fmt.Errorf("%w: unknown verb %q", ErrMalformed, head)
}

func parseRooms(s string) []RoomInfo {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	rooms := make([]RoomInfo, 0, len(parts))
	for _, p := range parts {
		name, marker, _ := strings.Cut(p, ":")
		rooms = append(rooms, RoomInfo{Name: name, Assisted: marker == assistedMarker})
	}
	return rooms
}
