package heartbeat

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	id string

	mu      sync.Mutex
	reasons []string
}

func (f *fakeSession) ID() string { return f.id }

func (f *fakeSession) Evict(reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reasons = append(f.reasons, reason)
}

func (f *fakeSession) evictions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reasons)
}

func TestSweep_EvictsOnlyStale(t *testing.T) {
	m := NewMonitor()
	start := time.Now()

	quiet := &fakeSession{id: "quiet"}
	chatty := &fakeSession{id: "chatty"}
	m.Register(quiet, start)
	m.Register(chatty, start)

	m.Touch("chatty", start.Add(25*time.Second))

	ids := m.Sweep(start.Add(31*time.Second), 30*time.Second)
	assert.Equal(t, []string{"quiet"}, ids)
	assert.Equal(t, 1, quiet.evictions())
	assert.Zero(t, chatty.evictions())

	assert.False(t, m.Watching("quiet"))
	assert.True(t, m.Watching("chatty"))

	// evicted once only
	m.Sweep(start.Add(time.Hour), 30*time.Second)
	assert.Equal(t, 1, quiet.evictions())
	assert.Equal(t, 1, chatty.evictions())
	assert.Zero(t, m.Len())
}

func TestTouch_Unknown(t *testing.T) {
	m := NewMonitor()
	m.Touch("nobody", time.Now())
	assert.Zero(t, m.Len())
}

func TestRemove(t *testing.T) {
	m := NewMonitor()
	s := &fakeSession{id: "s1"}
	m.Register(s, time.Now())
	m.Remove("s1")

	require.Empty(t, m.Sweep(time.Now().Add(time.Hour), time.Second))
	assert.Zero(t, s.evictions())
}
