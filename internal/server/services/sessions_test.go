package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newRegistry(t *testing.T, ttl time.Duration) (*SessionRegistry, *CredentialStore, *fakeClock) {
	t.Helper()
	db, m := setupDB(t)
	clock := &fakeClock{t: time.Now()}

	r := NewSessionRegistry(db, m, []byte("test-secret"), ttl)
	r.now = clock.Now

	creds := NewCredentialStore(db, m, testIterations)
	return r, creds, clock
}

func register(t *testing.T, creds *CredentialStore, name string) {
	t.Helper()
	_, err := creds.RegisterOrVerify(context.Background(), name, "pw")
	require.NoError(t, err)
}

func TestIssueAndResume(t *testing.T) {
	r, creds, _ := newRegistry(t, time.Hour)
	ctx := context.Background()
	register(t, creds, "alice")

	tok, err := r.Issue(ctx, "alice")
	require.NoError(t, err)

	user, status, err := r.Resume(ctx, tok)
	require.NoError(t, err)
	assert.Equal(t, ResumeFresh, status)
	assert.Equal(t, "alice", user)
}

func TestIssue_SupersedesPreviousToken(t *testing.T) {
	r, creds, _ := newRegistry(t, time.Hour)
	ctx := context.Background()
	register(t, creds, "alice")

	first, err := r.Issue(ctx, "alice")
	require.NoError(t, err)
	second, err := r.Issue(ctx, "alice")
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	_, status, err := r.Resume(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, ResumeUnknown, status)

	_, status, err = r.Resume(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, ResumeFresh, status)
	assert.Equal(t, 1, r.Active())
}

func TestResume_Expired(t *testing.T) {
	r, creds, clock := newRegistry(t, time.Minute)
	ctx := context.Background()
	register(t, creds, "bob")

	tok, err := r.Issue(ctx, "bob")
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)

	user, status, err := r.Resume(ctx, tok)
	require.NoError(t, err)
	assert.Equal(t, ResumeExpired, status)
	assert.Equal(t, "bob", user)
	assert.Zero(t, r.Active(), "expired token must be evicted")
}

func TestResume_UnknownAndForged(t *testing.T) {
	r, _, _ := newRegistry(t, time.Hour)
	ctx := context.Background()

	_, status, err := r.Resume(ctx, "garbage")
	require.NoError(t, err)
	assert.Equal(t, ResumeUnknown, status)

	_, status, err = r.Resume(ctx, "eyJhbGciOiJIUzI1NiJ9.e30.invalid")
	require.NoError(t, err)
	assert.Equal(t, ResumeUnknown, status)
}

func TestRevoke(t *testing.T) {
	r, creds, _ := newRegistry(t, time.Hour)
	ctx := context.Background()
	register(t, creds, "carol")

	tok, err := r.Issue(ctx, "carol")
	require.NoError(t, err)
	require.NoError(t, r.Revoke(ctx, "carol"))

	_, status, err := r.Resume(ctx, tok)
	require.NoError(t, err)
	assert.Equal(t, ResumeUnknown, status)

	assert.NoError(t, r.Revoke(ctx, "nobody"))
}

func TestSweep_EvictsOnlyExpired(t *testing.T) {
	r, creds, clock := newRegistry(t, time.Minute)
	ctx := context.Background()
	register(t, creds, "old")
	register(t, creds, "new")

	_, err := r.Issue(ctx, "old")
	require.NoError(t, err)
	clock.Advance(45 * time.Second)
	_, err = r.Issue(ctx, "new")
	require.NoError(t, err)

	n, err := r.Sweep(ctx, clock.Now().Add(30*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, r.Active())
}

func TestLoad_RestoresActiveTokens(t *testing.T) {
	db, m := setupDB(t)
	ctx := context.Background()

	creds := NewCredentialStore(db, m, testIterations)
	register(t, creds, "alice")

	first := NewSessionRegistry(db, m, []byte("k"), time.Hour)
	tok, err := first.Issue(ctx, "alice")
	require.NoError(t, err)

	restarted := NewSessionRegistry(db, m, []byte("k"), time.Hour)
	n, err := restarted.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	user, status, err := restarted.Resume(ctx, tok)
	require.NoError(t, err)
	assert.Equal(t, ResumeFresh, status)
	assert.Equal(t, "alice", user)
}

func TestSessionRegistry_StorageErrors(t *testing.T) {
	r := NewSessionRegistry(nil, &failingManager{err: errDBDown}, []byte("k"), time.Hour)
	ctx := context.Background()

	assert.ErrorIs(t, r.Revoke(ctx, "alice"), errDBDown)

	_, err := r.Sweep(ctx, time.Now())
	assert.ErrorIs(t, err, errDBDown)

	_, err = r.Load(ctx)
	assert.ErrorIs(t, err, errDBDown)
}

func TestResumeStatus_String(t *testing.T) {
	assert.Equal(t, "fresh", ResumeFresh.String())
	assert.Equal(t, "expired", ResumeExpired.String())
	assert.Equal(t, "unknown", ResumeUnknown.String())
}
