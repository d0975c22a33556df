package memstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-session-auth/internal/model"
)

func seedUser(t *testing.T, s *Store, id, email string) model.User {
	t.Helper()
	u, err := s.Create(context.Background(), model.User{ID: id, Email: email, Role: "USER"})
	require.NoError(t, err)
	return u
}

func TestCreateRejectsDuplicateEmailCaseInsensitive(t *testing.T) {
	s := New()
	seedUser(t, s, "u1", "a@x.com")

	_, err := s.Create(context.Background(), model.User{ID: "u2", Email: "A@X.com"})
	assert.ErrorIs(t, err, model.ErrUserAlreadyExists)

	got, err := s.FindByEmail(context.Background(), " A@x.COM ")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.ID)
}

func TestFindUnknown(t *testing.T) {
	s := New()
	_, err := s.FindByEmail(context.Background(), "nobody@x.com")
	assert.ErrorIs(t, err, model.ErrUserNotFound)
	_, err = s.FindByToken(context.Background(), "nope")
	assert.ErrorIs(t, err, model.ErrTokenNotFound)
}

func TestRotateRevokesPriorAndKeepsNext(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedUser(t, s, "u1", "a@x.com")
	seedUser(t, s, "u2", "b@x.com")

	require.NoError(t, s.Save(ctx, model.Token{ID: "1", Value: "t1", UserID: "u1"}))
	require.NoError(t, s.Save(ctx, model.Token{ID: "2", Value: "t2", UserID: "u1"}))
	require.NoError(t, s.Save(ctx, model.Token{ID: "3", Value: "other", UserID: "u2"}))

	revoked, err := s.Rotate(ctx, "u1", model.Token{ID: "4", Value: "t3", UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"t1", "t2"}, revoked)

	valid, err := s.FindAllValidByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, valid, 1)
	assert.Equal(t, "t3", valid[0].Value)

	other, err := s.FindByToken(ctx, "other")
	require.NoError(t, err)
	assert.True(t, other.Active())
}

func TestRotateUnknownUser(t *testing.T) {
	s := New()
	_, err := s.Rotate(context.Background(), "ghost", model.Token{Value: "t"})
	assert.ErrorIs(t, err, model.ErrUserNotFound)
	assert.Zero(t, s.TokenCount())
}

func TestSaveRejectsDuplicateTokenString(t *testing.T) {
	s := New()
	require.NoError(t, s.Save(context.Background(), model.Token{Value: "t"}))
	assert.Error(t, s.Save(context.Background(), model.Token{Value: "t"}))
	assert.Equal(t, 1, s.TokenCount())
}

func TestRevoke(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Save(ctx, model.Token{Value: "t", UserID: "u1"}))

	found, err := s.Revoke(ctx, "t")
	require.NoError(t, err)
	assert.True(t, found)

	tok, err := s.FindByToken(ctx, "t")
	require.NoError(t, err)
	assert.True(t, tok.Expired)
	assert.True(t, tok.Revoked)

	found, err = s.Revoke(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestConcurrentRotationsLeaveOneActiveToken(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedUser(t, s, "u1", "a@x.com")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Rotate(ctx, "u1", model.Token{Value: string(rune('a' + i)), UserID: "u1"})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	valid, err := s.FindAllValidByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, valid, 1)
}

func TestAuditQueryFiltersAndPaginates(t *testing.T) {
	ctx := context.Background()
	s := New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		status := "success"
		if i%2 == 1 {
			status = "failure"
		}
		require.NoError(t, s.Log(ctx, model.AuditEntry{
			Action:     "session.authenticated",
			OccurredAt: base.Add(time.Duration(i) * time.Minute).Format(time.RFC3339Nano),
			Status:     status,
		}))
	}

	items, meta, err := s.Query(ctx, model.AuditQuery{Status: "SUCCESS", Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, meta.Total)
	assert.Equal(t, 2, meta.TotalPages)
	require.Len(t, items, 2)
	assert.Equal(t, base.Add(4*time.Minute).Format(time.RFC3339Nano), items[0].OccurredAt)

	items, _, err = s.Query(ctx, model.AuditQuery{Page: 9})
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New().FindByEmail(ctx, "a@x.com")
	assert.ErrorIs(t, err, context.Canceled)
}
