package protocol

import (
	"strings"
)

// RoomInfo describes a room in a ROOMS listing.
type RoomInfo struct {
	Name     string
	Assisted bool
}

// HistoryEntry is one line of room history.
type HistoryEntry struct {
	Sender string
	Text   string
}

// Common AUTH_FAIL and ERROR reasons.
const (
	ReasonInvalidCredentials = "Invalid credentials"
	ReasonRateLimited        = "Rate limited, try again later"
	ReasonUnknownToken       = "Unknown token"
	ReasonTokenExpired       = "Token expired"
	ReasonUserExists         = "User already exists"
	ReasonAuthRequired       = "Authentication required"
	ReasonMalformed          = "Malformed command"
	ReasonInvalidRoom        = "Invalid room name"
	ReasonRoomNotFound       = "Room not found"
	ReasonInternal           = "Internal error"
	ReasonAlreadyAuthed      = "Already authenticated"
	ReasonReservedName       = "User name is reserved"
)

func AuthOK(token string) string { return join(VerbAuthOK, token) }
func AuthNew(token string) string { return join(VerbAuthNew, token) }
func AuthFail(reason string) string { return join(VerbAuthFail, reason) }
func SessionResumed(user string) string { return join(VerbSessionResumed, user) }
func Created(room string) string { return join(VerbCreated, room) }
func Joined(room string) string { return join(VerbJoined, room) }
func Rejoined(room string) string { return join(VerbRejoined, room) }
func Left(room string) string { return join(VerbLeft, room) }
func System(room, text string) string { return join(VerbSystem, room, text) }
func Error(reason string) string { return join(VerbError, reason) }
func NotMember(room string) string { return Error("Not a member of " + room) }
func HeartbeatAck() string { return string(VerbHeartbeatAck) }
func Bye() string { return string(VerbBye) }
func Users(members []string) string { return join(VerbUsers, strings.Join(members, ",")) }
func Message(room, sender, text, id string) string {
	return join(VerbMessage, room, sender, text, id)
}

// Rooms renders a ROOMS frame; assisted rooms carry an ":AI" suffix.
func Rooms(rooms []RoomInfo) string {
	names := make([]string, 0, len(rooms))
	for _, r := range rooms {
		if r.Assisted {
			names = append(names, r.Name+":"+assistedMarker)
			continue
		}
		names = append(names, r.Name)
	}
	return join(VerbRooms, strings.Join(names, ","))
}

// History renders a HISTORY frame with entries joined by '|'.
func History(entries []HistoryEntry) string {
	parts := make([]string, 0, len(entries))
	for _, e := range entries {
		parts = append(parts, e.Sender+":"+strings.ReplaceAll(e.Text, "|", "/"))
	}
	return join(VerbHistory, strings.Join(parts, "|"))
}
