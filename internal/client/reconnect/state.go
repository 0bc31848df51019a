package reconnect

import (
	"errors"

	"github.com/dmitrijs2005/gophchat/internal/protocol"
)

// State is the connection state of a Reconnector.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateAuthenticated
	StateActive
	StateRecovering
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateActive:
		return "active"
	case StateRecovering:
		return "recovering"
	default:
		return "disconnected"
	}
}

var (
	ErrUnavailable  = errors.New("server unavailable")
	ErrUnauthorized = errors.New("unauthorized")
	ErrSessionLost  = errors.New("session lost")
	ErrStopped      = errors.New("reconnector stopped")
	ErrNotConnected = errors.New("not connected")
	ErrNoActiveRoom = errors.New("no active room")
	ErrNotJoined    = errors.New("room not joined")
)

// Snapshot is the room membership captured when a connection is lost and
// replayed once the session is resumed.
type Snapshot struct {
	Rooms  []string
	Active string
}

type UpdateKind int

const (
	UpdateEvent UpdateKind = iota
	UpdateState
)

// Update is what the UI receives: either a server frame or a state change.
type Update struct {
	Kind  UpdateKind
	Event protocol.Event
	State State
}
