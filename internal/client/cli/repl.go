package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dmitrijs2005/gophchat/internal/client/reconnect"
)

// chatter is the part of reconnect.Reconnector the command loop drives.
type chatter interface {
	Join(room string) error
	JoinAssisted(room, instruction string) error
	Leave(room string) error
	Message(text string) error
	RequestRooms() error
	RequestUsers(room string) error
	Logout() error
	SetActive(room string) error
	ActiveRoom() string
	Snapshot() reconnect.Snapshot
}

type action int

const (
	actionContinue action = iota
	actionQuit
)

const assistedPrefix = "AI:"

const helpText = `Commands:
  /join <room>               join or create a room
  /join AI:<room>[:<prompt>] join or create a room with generated replies
  /leave [room]              leave a room (default: the active one)
  /switch <room>             make a joined room active
  /rooms                     show joined rooms and list all rooms
  /users [room]              list members of a room
  /logout                    end the session
  /quit                      exit
Anything else is sent to the active room.`

// dispatch executes one input line.
func dispatch(c chatter, line string, out io.Writer) action {
	line = strings.TrimSpace(line)
	if line == "" {
		return actionContinue
	}

	if !strings.HasPrefix(line, "/") {
		report(out, c.Message(line))
		return actionContinue
	}

	name, arg, _ := strings.Cut(line[1:], " ")
	arg = strings.TrimSpace(arg)

	var err error
	switch strings.ToLower(name) {
	case "join":
		err = join(c, arg, out)
	case "leave":
		room := arg
		if room == "" {
			room = c.ActiveRoom()
		}
		if room == "" {
			fmt.Fprintln(out, "Not in a room.")
			break
		}
		err = c.Leave(room)
	case "switch":
		if arg == "" {
			fmt.Fprintln(out, "Usage: /switch <room>")
			break
		}
		if err = c.SetActive(arg); err == nil {
			fmt.Fprintf(out, "Active room: %s\n", arg)
		}
	case "rooms":
		snap := c.Snapshot()
		active := snap.Active
		if active == "" {
			active = "none"
		}
		fmt.Fprintf(out, "Active: %s\nJoined: %s\n", active, strings.Join(snap.Rooms, ", "))
		err = c.RequestRooms()
	case "users":
		room := arg
		if room == "" {
			room = c.ActiveRoom()
		}
		if room == "" {
			fmt.Fprintln(out, "Usage: /users <room>")
			break
		}
		err = c.RequestUsers(room)
	case "logout":
		err = c.Logout()
	case "help":
		fmt.Fprintln(out, helpText)
	case "quit", "exit":
		return actionQuit
	default:
		fmt.Fprintf(out, "Unknown command /%s, type /help\n", name)
	}

	report(out, err)
	return actionContinue
}

func join(c chatter, arg string, out io.Writer) error {
	if arg == "" {
		fmt.Fprintln(out, "Usage: /join <room>")
		return nil
	}
	if rest, ok := strings.CutPrefix(arg, assistedPrefix); ok {
		room, instruction, _ := strings.Cut(rest, ":")
		return c.JoinAssisted(room, instruction)
	}
	return c.Join(arg)
}

func report(out io.Writer, err error) {
	switch {
	case err == nil:
	case errors.Is(err, reconnect.ErrNoActiveRoom):
		fmt.Fprintln(out, "Join a room first: /join <room>")
	case errors.Is(err, reconnect.ErrNotJoined):
		fmt.Fprintln(out, "You have not joined that room.")
	case errors.Is(err, reconnect.ErrNotConnected):
		fmt.Fprintln(out, "Not connected, try again in a moment.")
	default:
		fmt.Fprintf(out, "Error: %v\n", err)
	}
}
