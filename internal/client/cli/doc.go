// Package cli implements the interactive chat client.
//
// On start the client resumes the session token saved in its local state
// database; when there is none, or the server no longer accepts it, the
// user logs in (or registers) and the new token is saved. After that every
// input line is either a slash command or text for the active room:
//
//	/join <room>               join or create a room
//	/join AI:<room>[:<prompt>] join or create a room with generated replies
//	/leave [room]              leave a room (default: the active one)
//	/switch <room>             make a joined room active
//	/rooms                     show joined rooms and request the room list
//	/users [room]              list the members of a room
//	/logout                    end the session and forget the saved token
//	/quit                      exit, keeping the token for next time
//	/help                      this list
//
// Connection loss is handled by the reconnect package; the CLI only
// reports the state changes.
package cli
