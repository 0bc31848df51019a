package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/gophchat/internal/common"
	"github.com/dmitrijs2005/gophchat/internal/dbx"
	"github.com/dmitrijs2005/gophchat/internal/server/auth"
	"github.com/dmitrijs2005/gophchat/internal/server/models"
	"github.com/dmitrijs2005/gophchat/internal/server/repositories/repomanager"
)

// ResumeStatus is the result of presenting a session token.
type ResumeStatus int

const (
	ResumeUnknown ResumeStatus = iota
	ResumeFresh
	ResumeExpired
)

func (s ResumeStatus) String() string {
	switch s {
	case ResumeFresh:
		return "fresh"
	case ResumeExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// SessionRegistry issues resumable session tokens, at most one per user.
// Tokens are signed JWTs, but only those present in the registry resume, so
// superseded and revoked tokens stop working before they expire.
type SessionRegistry struct {
	mu      sync.RWMutex
	byToken map[string]*models.SessionToken
	byUser  map[string]string

	db          *sql.DB
	repomanager repomanager.RepositoryManager
	secret      []byte
	ttl         time.Duration
	now         func() time.Time
}

func NewSessionRegistry(db *sql.DB, m repomanager.RepositoryManager, secret []byte, ttl time.Duration) *SessionRegistry {
	return &SessionRegistry{
		byToken:     make(map[string]*models.SessionToken),
		byUser:      make(map[string]string),
		db:          db,
		repomanager: m,
		secret:      secret,
		ttl:         ttl,
		now:         time.Now,
	}
}

// Load restores tokens that are still valid.
func (r *SessionRegistry) Load(ctx context.Context) (int, error) {
	list, err := r.repomanager.SessionTokens(r.db).ListActive(ctx, r.now())
	if err != nil {
		return 0, fmt.Errorf("error loading session tokens: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range list {
		r.put(t)
	}
	return len(list), nil
}

// Issue creates a token for userName, replacing the user's previous one.
func (r *SessionRegistry) Issue(ctx context.Context, userName string) (string, error) {
	token, claims, err := auth.GenerateToken(userName, r.secret, r.now(), r.ttl)
	if err != nil {
		return "", fmt.Errorf("error signing token: %w", err)
	}

	rec := &models.SessionToken{
		Token:     token,
		UserName:  userName,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	err = dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return r.repomanager.SessionTokens(tx).Replace(ctx, rec)
	})
	if err != nil {
		return "", fmt.Errorf("error storing session token: %w", err)
	}

	if old, ok := r.byUser[userName]; ok {
		delete(r.byToken, old)
	}
	r.put(rec)
	return token, nil
}

// Resume maps token to its user. An authentic token past its expiry reports
// ResumeExpired and is evicted; forged, superseded or revoked tokens report
// ResumeUnknown.
func (r *SessionRegistry) Resume(ctx context.Context, token string) (string, ResumeStatus, error) {
	now := r.now()

	claims, err := auth.ParseToken(token, r.secret, now)
	if err != nil {
		if errors.Is(err, common.ErrTokenExpired) {
			return claims.UserName, ResumeExpired, r.evict(ctx, token)
		}
		return "", ResumeUnknown, nil
	}

	r.mu.RLock()
	rec, ok := r.byToken[token]
	r.mu.RUnlock()

	if !ok || rec.UserName != claims.UserName {
		return "", ResumeUnknown, nil
	}
	if rec.Expired(now) {
		return rec.UserName, ResumeExpired, r.evict(ctx, token)
	}
	return rec.UserName, ResumeFresh, nil
}

// Revoke drops the user's token.
func (r *SessionRegistry) Revoke(ctx context.Context, userName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.repomanager.SessionTokens(r.db).DeleteByUser(ctx, userName); err != nil {
		return fmt.Errorf("error revoking token: %w", err)
	}
	if tok, ok := r.byUser[userName]; ok {
		r.drop(tok)
	}
	return nil
}

// Sweep evicts every token expired at now and returns how many were dropped
// from memory.
func (r *SessionRegistry) Sweep(ctx context.Context, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for tok, rec := range r.byToken {
		if rec.Expired(now) {
			r.drop(tok)
			n++
		}
	}

	if _, err := r.repomanager.SessionTokens(r.db).DeleteExpired(ctx, now); err != nil {
		return n, fmt.Errorf("error deleting expired tokens: %w", err)
	}
	return n, nil
}

// Active returns the number of live tokens.
func (r *SessionRegistry) Active() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byToken)
}

func (r *SessionRegistry) evict(ctx context.Context, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.byToken[token]
	if !ok {
		return nil
	}
	r.drop(token)
	if err := r.repomanager.SessionTokens(r.db).DeleteByUser(ctx, rec.UserName); err != nil {
		return fmt.Errorf("error deleting expired token: %w", err)
	}
	return nil
}

// put and drop must be called with mu held.
func (r *SessionRegistry) put(t *models.SessionToken) {
	r.byToken[t.Token] = t
	r.byUser[t.UserName] = t.Token
}

func (r *SessionRegistry) drop(token string) {
	rec, ok := r.byToken[token]
	if !ok {
		return
	}
	delete(r.byToken, token)
	if r.byUser[rec.UserName] == token {
		delete(r.byUser, rec.UserName)
	}
}
