package session

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/gophchat/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogin_RegistersThenVerifies(t *testing.T) {
	hs := newHarness(t)

	a := hs.dial(t)
	a.send("LOGIN:alice:Secret123")
	token := a.expectPrefix("AUTH_NEW:")
	assert.NotEmpty(t, token)
	a.expect("ROOMS:")

	b := hs.dial(t)
	b.send("LOGIN:alice:wrong")
	b.expect("AUTH_FAIL:Invalid credentials")
	b.send("LOGIN:alice:Secret123")
	b.expectPrefix("AUTH_OK:")
}

func TestRegister(t *testing.T) {
	hs := newHarness(t)

	a := hs.dial(t)
	a.send("REGISTER:carol:pw")
	a.expectPrefix("AUTH_NEW:")

	b := hs.dial(t)
	b.send("REGISTER:carol:pw")
	b.expect("AUTH_FAIL:User already exists")
}

func TestLogin_AssistantNameIsReserved(t *testing.T) {
	hs := newHarness(t)
	c := hs.dial(t)

	c.send("LOGIN:" + protocol.AssistantName + ":pw")
	c.expect("AUTH_FAIL:" + protocol.ReasonReservedName)
	c.send("REGISTER:bot:pw")
	c.expect("AUTH_FAIL:" + protocol.ReasonReservedName)
	assert.False(t, hs.limiter.IsBlocked("pipe", hs.clock.Now()))

	// an assisted room still answers a human named alice
	c.login("alice", "pw")
	c.send("JOIN:AI:Helper")
	c.expect("CREATED:Helper")
	c.expect("JOINED:Helper")
	c.send("MESSAGE:Helper:hello")
	ev, err := protocol.ParseEvent(c.next())
	require.NoError(t, err)
	assert.Equal(t, "alice", ev.Sender)

	reply, err := protocol.ParseEvent(c.next())
	require.NoError(t, err)
	assert.Equal(t, protocol.AssistantName, reply.Sender)
}

func TestAuthRequired(t *testing.T) {
	hs := newHarness(t)
	c := hs.dial(t)

	c.send("JOIN:General")
	c.expect("AUTH_FAIL:Authentication required")
	c.send("NOPE")
	c.expect("ERROR:Malformed command")

	c.login("alice", "pw")
	c.send("LOGIN:alice:pw")
	c.expect("ERROR:Already authenticated")
}

func TestRateLimit_FourthAttemptBlockedBeforeVerification(t *testing.T) {
	hs := newHarness(t)

	hs.dial(t).login("alice", "right")

	c := hs.dial(t)
	for i := 0; i < 3; i++ {
		c.send("LOGIN:alice:wrong")
		c.expect("AUTH_FAIL:Invalid credentials")
	}
	c.send("LOGIN:alice:right")
	c.expect("AUTH_FAIL:" + protocol.ReasonRateLimited)

	hs.limiter.Reset("pipe")
	c.send("LOGIN:alice:right")
	c.expectPrefix("AUTH_OK:")
}

func TestTokenResume(t *testing.T) {
	hs := newHarness(t)
	token := hs.dial(t).login("alice", "pw")

	c := hs.dial(t)
	c.send("TOKEN:not-a-token")
	c.expect("AUTH_FAIL:Unknown token")
	c.send("TOKEN:" + token)
	c.expect("SESSION_RESUMED:alice")
	c.expectPrefix("ROOMS:")
}

func TestJoinMessageAck(t *testing.T) {
	hs := newHarness(t)
	c := hs.dial(t)
	c.login("alice", "Secret123")

	c.send("JOIN:General")
	c.expect("CREATED:General")
	c.expect("JOINED:General")

	c.send("MESSAGE:General:hi: there")
	ev, err := protocol.ParseEvent(c.next())
	require.NoError(t, err)
	assert.Equal(t, protocol.VerbMessage, ev.Verb)
	assert.Equal(t, "General", ev.Room)
	assert.Equal(t, "alice", ev.Sender)
	assert.Equal(t, "hi: there", ev.Text)
	assert.Equal(t, 1, hs.tracker.Pending())

	c.send("ACK:" + ev.ID)
	c.sync()
	assert.Zero(t, hs.tracker.Pending())

	// second ack is harmless
	c.send("ACK:" + ev.ID)
	c.sync()
}

func TestJoin_AssistedAndInvalid(t *testing.T) {
	hs := newHarness(t)
	c := hs.dial(t)
	c.login("alice", "pw")

	c.send("JOIN:AI:Helpdesk:Answer in one line.")
	c.expect("CREATED:Helpdesk")
	c.expect("JOINED:Helpdesk")

	room, ok := hs.rooms.Get("Helpdesk")
	require.True(t, ok)
	assert.Equal(t, "Answer in one line.", room.Instruction())

	c.send("ROOMS")
	c.expect("ROOMS:Helpdesk:AI")

	c.send("JOIN:bad|name")
	c.expect("ERROR:Invalid room name")
}

func TestConcurrentJoin_SingleCreated(t *testing.T) {
	hs := newHarness(t)

	const n = 8
	clients := make([]*client, n)
	for i := range clients {
		clients[i] = hs.dial(t)
		clients[i].login(fmt.Sprintf("user%d", i), "pw")
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for _, c := range clients {
		wg.Add(1)
		go func(c *client) {
			defer wg.Done()
			c.send("JOIN:Lobby")
			first := c.next()
			if first == "CREATED:Lobby" {
				mu.Lock()
				created++
				mu.Unlock()
				first = c.next()
			}
			assert.Equal(t, "JOINED:Lobby", first)
		}(c)
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	room, ok := hs.rooms.Get("Lobby")
	require.True(t, ok)
	assert.Len(t, room.Members(), n)
}

func TestMembershipErrors(t *testing.T) {
	hs := newHarness(t)
	c := hs.dial(t)
	c.login("alice", "pw")

	c.send("MESSAGE:Random:hi")
	c.expect("ERROR:Not a member of Random")

	c.send("JOIN:Random")
	c.expect("CREATED:Random")
	c.expect("JOINED:Random")
	c.send("JOIN:Random")
	c.expect("JOINED:Random")

	c.send("LEAVE:Random")
	c.expect("LEFT:Random")
	c.send("LEAVE:Random")
	c.expect("ERROR:Not a member of Random")

	c.send("REJOIN:Nowhere")
	c.expect("ERROR:Room not found")
	c.send("USERS:Nowhere")
	c.expect("ERROR:Room not found")
}

func TestUsersAndAnnouncements(t *testing.T) {
	hs := newHarness(t)

	a := hs.dial(t)
	a.login("alice", "pw")
	a.send("JOIN:General")
	a.expect("CREATED:General")
	a.expect("JOINED:General")
	a.expect("SYSTEM:General:alice joined")

	a.send("MESSAGE:General:first")
	a.expectPrefix("MESSAGE:General:alice:first:")

	b := hs.dial(t)
	b.login("bob", "pw")
	b.send("JOIN:General")
	b.expect("JOINED:General")
	b.expect("HISTORY:alice:first")

	a.expect("SYSTEM:General:bob joined")

	b.send("USERS:General")
	b.expect("USERS:alice,bob")

	b.send("LEAVE:General")
	b.expect("LEFT:General")
	a.expect("SYSTEM:General:bob left")
}

func TestMalformedFrameKeepsConnection(t *testing.T) {
	hs := newHarness(t)
	c := hs.dial(t)
	c.login("alice", "pw")

	c.send("MESSAGE:General")
	c.expect("ERROR:Malformed command")
	c.sync()
}

func TestReadTimeoutKeepsActiveSession(t *testing.T) {
	hs := newHarness(t)
	c := hs.dial(t)
	c.login("alice", "pw")

	// several read deadlines pass
	time.Sleep(200 * time.Millisecond)
	c.sync()
}

func TestHeartbeatSweep_EvictsButTokenSurvives(t *testing.T) {
	hs := newHarness(t)

	a := hs.dial(t)
	token := a.login("alice", "pw")
	a.send("JOIN:General")
	a.expect("CREATED:General")
	a.expect("JOINED:General")

	b := hs.dial(t)
	b.login("bob", "pw")
	b.send("JOIN:General")
	b.expect("JOINED:General")

	room, _ := hs.rooms.Get("General")
	require.Len(t, room.Members(), 2)

	// bob stays fresh, alice goes stale
	hs.clock.Advance(time.Minute)
	b.sync()

	evicted := hs.monitor.Sweep(hs.clock.Now(), 30*time.Second)
	require.Len(t, evicted, 1)
	assert.Equal(t, []string{"bob"}, room.Members())
	b.expect("SYSTEM:General:alice left")
	a.expectClosed()

	r := hs.dial(t)
	r.send("TOKEN:" + token)
	r.expect("SESSION_RESUMED:alice")
	r.expectPrefix("ROOMS:")
	r.send("REJOIN:General")
	r.expect("REJOINED:General")
	assert.Equal(t, []string{"alice", "bob"}, room.Members())

	b.send("MESSAGE:General:welcome back")
	r.expectPrefix("MESSAGE:General:bob:welcome back:")
}

func TestLogout_RevokesToken(t *testing.T) {
	hs := newHarness(t)
	c := hs.dial(t)
	token := c.login("alice", "pw")
	c.send("JOIN:General")
	c.expect("CREATED:General")
	c.expect("JOINED:General")

	c.send("LOGOUT")
	c.expect("BYE")
	c.expectClosed()

	room, _ := hs.rooms.Get("General")
	assert.Eventually(t, func() bool { return len(room.Members()) == 0 }, time.Second, 10*time.Millisecond)

	r := hs.dial(t)
	r.send("TOKEN:" + token)
	r.expect("AUTH_FAIL:Unknown token")
}

func TestShutdownClosesSessions(t *testing.T) {
	hs := newHarness(t)
	c := hs.dial(t)
	c.login("alice", "pw")

	hs.cancel()
	c.expectClosed()
	<-c.done
	assert.Zero(t, hs.limiter.Connections("pipe"))
	assert.Zero(t, hs.monitor.Len())
}

func TestOversizedFrameTerminates(t *testing.T) {
	hs := newHarness(t)
	c := hs.dial(t)
	c.login("alice", "pw")

	go func() {
		_, _ = c.conn.Write([]byte("MESSAGE:General:" + strings.Repeat("x", protocol.MaxLineBytes+10) + "\n"))
	}()
	c.expectClosed()
}
