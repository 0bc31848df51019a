// Package services contains the server's authentication state: the
// credential store that registers or verifies users and the session
// registry that issues and resumes tokens.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/gophchat/internal/common"
	"github.com/dmitrijs2005/gophchat/internal/server/auth"
	"github.com/dmitrijs2005/gophchat/internal/server/models"
	"github.com/dmitrijs2005/gophchat/internal/server/repositories/repomanager"
)

// AuthOutcome is the result of a credential check. A rejection is an
// expected outcome, not an error.
type AuthOutcome int

const (
	OutcomeRejected AuthOutcome = iota
	OutcomeVerified
	OutcomeRegistered
)

func (o AuthOutcome) String() string {
	switch o {
	case OutcomeVerified:
		return "verified"
	case OutcomeRegistered:
		return "registered"
	default:
		return "rejected"
	}
}

// CredentialStore keeps every user record in memory, backed by the users
// repository. Creation of a record for a given name happens at most once:
// the existence check and the insert share one critical section.
type CredentialStore struct {
	mu    sync.RWMutex
	users map[string]*models.User

	db          *sql.DB
	repomanager repomanager.RepositoryManager
	iterations  int
	now         func() time.Time
}

func NewCredentialStore(db *sql.DB, m repomanager.RepositoryManager, iterations int) *CredentialStore {
	return &CredentialStore{
		users:       make(map[string]*models.User),
		db:          db,
		repomanager: m,
		iterations:  iterations,
		now:         time.Now,
	}
}

// Load fills the in-memory map from storage.
func (s *CredentialStore) Load(ctx context.Context) (int, error) {
	list, err := s.repomanager.Users(s.db).List(ctx)
	if err != nil {
		return 0, fmt.Errorf("error loading users: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range list {
		s.users[u.UserName] = u
	}
	return len(list), nil
}

// RegisterOrVerify verifies password for an existing user, or registers the
// user when the name is unseen.
func (s *CredentialStore) RegisterOrVerify(ctx context.Context, userName, password string) (AuthOutcome, error) {
	if u := s.lookup(userName); u != nil {
		return s.verify(u, password), nil
	}

	// hashing is slow, keep it out of the critical section
	rec := s.newRecord(userName, password)

	s.mu.Lock()
	if existing, ok := s.users[userName]; ok {
		s.mu.Unlock()
		return s.verify(existing, password), nil
	}
	err := s.repomanager.Users(s.db).Create(ctx, rec)
	if err == nil {
		s.users[userName] = rec
	}
	s.mu.Unlock()

	if err != nil {
		if errors.Is(err, common.ErrorAlreadyExists) {
			// created through another handle on the same database
			return s.verifyStored(ctx, userName, password)
		}
		return OutcomeRejected, fmt.Errorf("error creating user: %w", err)
	}
	return OutcomeRegistered, nil
}

// Register creates a new user and fails with common.ErrUserExists when the
// name is taken.
func (s *CredentialStore) Register(ctx context.Context, userName, password string) (AuthOutcome, error) {
	if s.lookup(userName) != nil {
		return OutcomeRejected, common.ErrUserExists
	}

	rec := s.newRecord(userName, password)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[userName]; ok {
		return OutcomeRejected, common.ErrUserExists
	}
	if err := s.repomanager.Users(s.db).Create(ctx, rec); err != nil {
		if errors.Is(err, common.ErrorAlreadyExists) {
			return OutcomeRejected, common.ErrUserExists
		}
		return OutcomeRejected, fmt.Errorf("error creating user: %w", err)
	}
	s.users[userName] = rec
	return OutcomeRegistered, nil
}

// Exists reports whether userName has a record.
func (s *CredentialStore) Exists(userName string) bool {
	return s.lookup(userName) != nil
}

func (s *CredentialStore) lookup(userName string) *models.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.users[userName]
}

func (s *CredentialStore) newRecord(userName, password string) *models.User {
	salt := common.GenerateRandByteArray(auth.SaltSize)
	return &models.User{
		UserName:     userName,
		Salt:         salt,
		PasswordHash: auth.HashPassword(password, salt, s.iterations),
		Iterations:   s.iterations,
		CreatedAt:    s.now(),
	}
}

func (s *CredentialStore) verify(u *models.User, password string) AuthOutcome {
	if auth.VerifyPassword(password, u.Salt, u.PasswordHash, u.Iterations) {
		return OutcomeVerified
	}
	return OutcomeRejected
}

func (s *CredentialStore) verifyStored(ctx context.Context, userName, password string) (AuthOutcome, error) {
	u, err := s.repomanager.Users(s.db).GetByName(ctx, userName)
	if err != nil {
		return OutcomeRejected, fmt.Errorf("error loading user: %w", err)
	}

	s.mu.Lock()
	if _, ok := s.users[userName]; !ok {
		s.users[userName] = u
	}
	s.mu.Unlock()

	return s.verify(u, password), nil
}
