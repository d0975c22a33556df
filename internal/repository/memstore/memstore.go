// Package memstore keeps users, the token ledger and the audit trail in
// process memory. It backs STORE_DRIVER=memory and the package tests.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go-session-auth/internal/model"
)

type Store struct {
	mu      sync.Mutex
	users   map[string]model.User // by id
	byEmail map[string]string     // lower(email) -> id
	tokens  map[string]model.Token
	order   []string // token values in insertion order
	audit   []model.AuditEntry
}

func New() *Store {
	return &Store{
		users:   make(map[string]model.User),
		byEmail: make(map[string]string),
		tokens:  make(map[string]model.Token),
	}
}

func emailKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *Store) FindByID(ctx context.Context, id string) (model.User, error) {
	if err := ctx.Err(); err != nil {
		return model.User{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return model.User{}, model.ErrUserNotFound
	}
	return u, nil
}

func (s *Store) FindByEmail(ctx context.Context, email string) (model.User, error) {
	if err := ctx.Err(); err != nil {
		return model.User{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byEmail[emailKey(email)]
	if !ok {
		return model.User{}, model.ErrUserNotFound
	}
	return s.users[id], nil
}

func (s *Store) Create(ctx context.Context, u model.User) (model.User, error) {
	if err := ctx.Err(); err != nil {
		return model.User{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := emailKey(u.Email)
	if _, exists := s.byEmail[key]; exists {
		return model.User{}, model.ErrUserAlreadyExists
	}
	if _, exists := s.users[u.ID]; exists {
		return model.User{}, fmt.Errorf("create user: duplicate id %s", u.ID)
	}
	s.users[u.ID] = u
	s.byEmail[key] = u.ID
	return u, nil
}

func (s *Store) UpdatePassword(ctx context.Context, userID string, passwordHash string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return model.ErrUserNotFound
	}
	u.PasswordHash = passwordHash
	u.UpdatedAt = time.Now().UTC()
	s.users[userID] = u
	return nil
}

func (s *Store) Save(ctx context.Context, t model.Token) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(t)
}

func (s *Store) insertLocked(t model.Token) error {
	if _, exists := s.tokens[t.Value]; exists {
		return fmt.Errorf("store token: duplicate token string")
	}
	s.tokens[t.Value] = t
	s.order = append(s.order, t.Value)
	return nil
}

func (s *Store) FindByToken(ctx context.Context, value string) (model.Token, error) {
	if err := ctx.Err(); err != nil {
		return model.Token{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[value]
	if !ok {
		return model.Token{}, model.ErrTokenNotFound
	}
	return t, nil
}

func (s *Store) FindAllValidByUser(ctx context.Context, userID string) ([]model.Token, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.Token, 0)
	for _, v := range s.order {
		t := s.tokens[v]
		if t.UserID == userID && (!t.Expired || !t.Revoked) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *Store) Revoke(ctx context.Context, value string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[value]
	if !ok {
		return false, nil
	}
	t.Expired, t.Revoked = true, true
	s.tokens[value] = t
	return true, nil
}

func (s *Store) Rotate(ctx context.Context, userID string, next model.Token) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[userID]; !ok {
		return nil, model.ErrUserNotFound
	}
	if _, exists := s.tokens[next.Value]; exists {
		return nil, fmt.Errorf("store token: duplicate token string")
	}

	revoked := make([]string, 0)
	for _, v := range s.order {
		t := s.tokens[v]
		if t.UserID != userID || (t.Expired && t.Revoked) {
			continue
		}
		t.Expired, t.Revoked = true, true
		s.tokens[v] = t
		revoked = append(revoked, v)
	}

	if err := s.insertLocked(next); err != nil {
		return nil, err
	}
	return revoked, nil
}

// TokenCount returns the number of ledger rows.
func (s *Store) TokenCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}

func (s *Store) Log(ctx context.Context, entry model.AuditEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, entry)
	return nil
}

func (s *Store) Query(ctx context.Context, query model.AuditQuery) ([]model.AuditEntry, model.Meta, error) {
	if err := ctx.Err(); err != nil {
		return nil, model.Meta{}, err
	}
	query = query.Normalize()

	s.mu.Lock()
	matched := make([]model.AuditEntry, 0, len(s.audit))
	for _, e := range s.audit {
		if matchesAudit(e, query) {
			matched = append(matched, e)
		}
	}
	s.mu.Unlock()

	sort.SliceStable(matched, func(i, j int) bool {
		return parseTime(matched[i].OccurredAt).After(parseTime(matched[j].OccurredAt))
	})

	meta := model.NewMeta(query.Page, query.Limit, len(matched))
	start := (query.Page - 1) * query.Limit
	if start >= len(matched) {
		return []model.AuditEntry{}, meta, nil
	}
	end := min(start+query.Limit, len(matched))
	return matched[start:end], meta, nil
}

func matchesAudit(e model.AuditEntry, q model.AuditQuery) bool {
	if q.Action != "" && !strings.EqualFold(e.Action, q.Action) {
		return false
	}
	if q.ActorID != "" && e.Actor.UserID != q.ActorID {
		return false
	}
	if q.Status != "" && !strings.EqualFold(e.Status, q.Status) {
		return false
	}
	at := parseTime(e.OccurredAt)
	if q.From != "" && at.Before(parseTime(q.From)) {
		return false
	}
	if q.To != "" && at.After(parseTime(q.To)) {
		return false
	}
	return true
}

func parseTime(value string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return t
}
