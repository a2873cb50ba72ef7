// Package memory is an in-process implementation of the identity store used
// by unit tests. It enforces the same uniqueness rules and returns the same
// sentinel errors as the PostgreSQL repository.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/voxgate/voxgate/internal/model"
	"github.com/voxgate/voxgate/internal/repository"
)

// Store is a mutex-guarded identity store.
type Store struct {
	mu    sync.Mutex
	users map[string]*model.User
	keys  map[string]*model.APIKey
	logs  []*model.RequestLogEntry

	// Err, when set, is returned by every operation.
	Err error
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		users: make(map[string]*model.User),
		keys:  make(map[string]*model.APIKey),
	}
}

// CreateUser stores a copy of user.
func (s *Store) CreateUser(_ context.Context, user *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	for _, u := range s.users {
		if u.Email == user.Email {
			return repository.ErrEmailExists
		}
		if u.IdentityToken == user.IdentityToken {
			return repository.ErrTokenExists
		}
	}
	cp := *user
	s.users[user.ID] = &cp
	return nil
}

// GetUserByID returns the user with id.
func (s *Store) GetUserByID(_ context.Context, id string) (*model.User, error) {
	return s.findUser(func(u *model.User) bool { return u.ID == id })
}

// GetUserByEmail returns the user with email.
func (s *Store) GetUserByEmail(_ context.Context, email string) (*model.User, error) {
	return s.findUser(func(u *model.User) bool { return u.Email == email })
}

// GetUserByIdentityToken returns the user holding token.
func (s *Store) GetUserByIdentityToken(_ context.Context, token string) (*model.User, error) {
	return s.findUser(func(u *model.User) bool { return u.IdentityToken == token })
}

// DeleteUser removes a user without touching its keys. Tests use it to
// simulate a dangling key.
func (s *Store) DeleteUser(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.users, id)
}

func (s *Store) findUser(match func(*model.User) bool) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	for _, u := range s.users {
		if match(u) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, repository.ErrUserNotFound
}

// UserCount returns the number of stored users.
func (s *Store) UserCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users)
}

// CreateAPIKey stores a copy of key.
func (s *Store) CreateAPIKey(_ context.Context, key *model.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	if _, exists := s.keys[key.Key]; exists {
		return repository.ErrAPIKeyExists
	}
	cp := *key
	s.keys[key.Key] = &cp
	return nil
}

// GetAPIKeyByKey returns the API key with the given key string.
func (s *Store) GetAPIKeyByKey(_ context.Context, key string) (*model.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	k, ok := s.keys[key]
	if !ok {
		return nil, repository.ErrAPIKeyNotFound
	}
	cp := *k
	return &cp, nil
}

// ListAPIKeysByUserID returns every key owned by userID, oldest first.
func (s *Store) ListAPIKeysByUserID(_ context.Context, userID string) ([]*model.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var out []*model.APIKey
	for _, k := range s.keys {
		if k.UserID == userID {
			cp := *k
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// UpdateAPIKeyLastUsed sets the last-used instant of the key with id.
func (s *Store) UpdateAPIKeyLastUsed(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	for _, k := range s.keys {
		if k.ID == id {
			t := at
			k.LastUsedAt = &t
			return nil
		}
	}
	return repository.ErrAPIKeyNotFound
}

// APIKeyCount returns the number of stored API keys.
func (s *Store) APIKeyCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.keys)
}

// CreateRequestLog appends an audit entry.
func (s *Store) CreateRequestLog(_ context.Context, entry *model.RequestLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	cp := *entry
	s.logs = append(s.logs, &cp)
	return nil
}

// CountRequestLogs counts entries for apiKeyID at or after since.
func (s *Store) CountRequestLogs(_ context.Context, apiKeyID string, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return 0, s.Err
	}
	return s.countLocked(apiKeyID, since), nil
}

// CreateRequestLogIfUnderLimit appends entry if the key is under limit.
func (s *Store) CreateRequestLogIfUnderLimit(_ context.Context, entry *model.RequestLogEntry, since time.Time, limit int) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return 0, false, s.Err
	}
	n := s.countLocked(entry.APIKeyID, since)
	if n >= limit {
		return n, false, nil
	}
	cp := *entry
	s.logs = append(s.logs, &cp)
	return n, true, nil
}

// UsageByUser aggregates entries at or after since per user, busiest first.
func (s *Store) UsageByUser(_ context.Context, since time.Time) ([]repository.UserUsage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}

	byUser := make(map[string]*repository.UserUsage)
	for _, e := range s.logs {
		if e.Timestamp.Before(since) {
			continue
		}
		u, ok := byUser[e.UserID]
		if !ok {
			u = &repository.UserUsage{UserID: e.UserID, UserEmail: e.UserEmail}
			byUser[e.UserID] = u
		}
		u.Requests++
	}

	out := make([]repository.UserUsage, 0, len(byUser))
	for _, u := range byUser {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Requests != out[j].Requests {
			return out[i].Requests > out[j].Requests
		}
		return out[i].UserID < out[j].UserID
	})
	return out, nil
}

// RequestLogs returns a copy of all audit entries.
func (s *Store) RequestLogs() []model.RequestLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.RequestLogEntry, 0, len(s.logs))
	for _, e := range s.logs {
		out = append(out, *e)
	}
	return out
}

func (s *Store) countLocked(apiKeyID string, since time.Time) int {
	n := 0
	for _, e := range s.logs {
		if e.APIKeyID == apiKeyID && !e.Timestamp.Before(since) {
			n++
		}
	}
	return n
}
