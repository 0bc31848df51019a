package session

import (
	"context"

	"github.com/dmitrijs2005/gophchat/internal/protocol"
	"github.com/dmitrijs2005/gophchat/internal/server/rooms"
)

// dispatch runs one command of an active session and reports whether the
// session goes on.
func (h *Handler) dispatch(ctx context.Context, s *Session, cmd protocol.Command) bool {
	switch cmd.Verb {
	case protocol.VerbJoin:
		h.join(ctx, s, cmd)
	case protocol.VerbRejoin:
		h.rejoin(ctx, s, cmd.Room)
	case protocol.VerbLeave:
		h.leave(s, cmd.Room)
	case protocol.VerbMessage:
		h.message(s, cmd)
	case protocol.VerbAck:
		if !h.deps.Tracker.Acknowledge(cmd.ID) {
			s.log.Debug(ctx, "ack for unknown message", "id", cmd.ID)
		}
	case protocol.VerbHeartbeat:
		s.Deliver(protocol.HeartbeatAck())
	case protocol.VerbRooms:
		s.Deliver(protocol.Rooms(h.deps.Rooms.List()))
	case protocol.VerbUsers:
		room, ok := h.deps.Rooms.Get(cmd.Room)
		if !ok {
			s.Deliver(protocol.Error(protocol.ReasonRoomNotFound))
			return true
		}
		s.Deliver(protocol.Users(room.Members()))
	case protocol.VerbLogout:
		user := s.UserName()
		if err := h.deps.Tokens.Revoke(ctx, user); err != nil {
			s.log.Error(ctx, "token revoke failed", "error", err)
		}
		s.log.Info(ctx, "user logged out")
		s.Deliver(protocol.Bye())
		return false
	case protocol.VerbLogin, protocol.VerbRegister, protocol.VerbToken:
		s.Deliver(protocol.Error(protocol.ReasonAlreadyAuthed))
	}
	return true
}

func (h *Handler) join(ctx context.Context, s *Session, cmd protocol.Command) {
	kind := rooms.Plain
	if cmd.Assisted {
		kind = rooms.AssistedReply
	}

	room, created := h.deps.Rooms.GetOrCreate(cmd.Room, kind, cmd.Instruction)
	if created {
		s.log.Info(ctx, "room created", "room", room.Name(), "assisted", cmd.Assisted)
		s.Deliver(protocol.Created(room.Name()))
	}
	h.enter(s, room, protocol.Joined(room.Name()))
}

func (h *Handler) rejoin(ctx context.Context, s *Session, name string) {
	room, ok := h.deps.Rooms.Get(name)
	if !ok {
		s.log.Info(ctx, "rejoin of unknown room", "room", name)
		s.Deliver(protocol.Error(protocol.ReasonRoomNotFound))
		return
	}
	h.enter(s, room, protocol.Rejoined(name))
}

// enter adds s to room, confirms with ack and replays the history. Joining a
// room twice only repeats the confirmation.
func (h *Handler) enter(s *Session, room *rooms.Room, ack string) {
	if !room.Enter(s, ack) {
		s.Deliver(ack)
		return
	}
	if !s.remember(room) {
		room.RemoveMember(s)
		return
	}
	room.Announce(s.UserName() + " joined")
}

func (h *Handler) leave(s *Session, name string) {
	room, ok := s.forget(name)
	if !ok {
		s.Deliver(protocol.NotMember(name))
		return
	}
	room.RemoveMember(s)
	s.Deliver(protocol.Left(name))
	room.Announce(s.UserName() + " left")
}

func (h *Handler) message(s *Session, cmd protocol.Command) {
	room, ok := s.joinedRoom(cmd.Room)
	if !ok || !room.IsMember(s) {
		s.Deliver(protocol.NotMember(cmd.Room))
		return
	}
	room.Broadcast(cmd.Text, s.UserName())
}
