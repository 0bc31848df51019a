package cli

import (
	"fmt"
	"strings"

	"github.com/dmitrijs2005/gophchat/internal/client/reconnect"
	"github.com/dmitrijs2005/gophchat/internal/protocol"
)

// format turns an update into display text. Messages for the active room
// are shown without a room prefix. An empty result means nothing to show.
func format(u reconnect.Update, active string) string {
	if u.Kind == reconnect.UpdateState {
		switch u.State {
		case reconnect.StateRecovering:
			return "Connection lost, reconnecting..."
		case reconnect.StateActive:
			return "Connected."
		}
		return ""
	}

	ev := u.Event
	switch ev.Verb {
	case protocol.VerbMessage:
		if ev.Room == active {
			return fmt.Sprintf("%s: %s", ev.Sender, ev.Text)
		}
		return fmt.Sprintf("[%s] %s: %s", ev.Room, ev.Sender, ev.Text)
	case protocol.VerbSystem:
		return fmt.Sprintf("[%s] * %s", ev.Room, ev.Text)
	case protocol.VerbCreated:
		return fmt.Sprintf("Created room %s", ev.Room)
	case protocol.VerbJoined:
		return fmt.Sprintf("Joined %s", ev.Room)
	case protocol.VerbRejoined:
		return fmt.Sprintf("Rejoined %s", ev.Room)
	case protocol.VerbLeft:
		return fmt.Sprintf("Left %s", ev.Room)
	case protocol.VerbRooms:
		if len(ev.Rooms) == 0 {
			return "No rooms yet."
		}
		names := make([]string, len(ev.Rooms))
		for i, r := range ev.Rooms {
			names[i] = r.Name
			if r.Assisted {
				names[i] += " (AI)"
			}
		}
		return "Rooms: " + strings.Join(names, ", ")
	case protocol.VerbUsers:
		return "Users: " + strings.Join(ev.Users, ", ")
	case protocol.VerbHistory:
		if len(ev.History) == 0 {
			return ""
		}
		var b strings.Builder
		b.WriteString("Recent messages:")
		for _, h := range ev.History {
			fmt.Fprintf(&b, "\n  %s: %s", h.Sender, h.Text)
		}
		return b.String()
	case protocol.VerbError:
		return "Error: " + ev.Reason
	case protocol.VerbBye:
		return "Logged out."
	}
	return ""
}
