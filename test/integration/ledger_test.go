//go:build integration

package integration

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-session-auth/internal/model"
	"go-session-auth/internal/repository"
)

func TestRotateLeavesOneActiveToken(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()
	users := repository.NewUserRepository(db.Pool)
	tokens := repository.NewTokenRepository(db.Pool)
	user := createUser(t, users, uniqueEmail("rotate"))

	first := ledgerToken(user.ID)
	require.NoError(t, tokens.Save(ctx, first))

	second := ledgerToken(user.ID)
	revoked, err := tokens.Rotate(ctx, user.ID, second)
	require.NoError(t, err)
	assert.Equal(t, []string{first.Value}, revoked)

	active, err := tokens.FindAllValidByUser(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, second.Value, active[0].Value)

	stored, err := tokens.FindByToken(ctx, first.Value)
	require.NoError(t, err)
	assert.True(t, stored.Expired)
	assert.True(t, stored.Revoked)
}

func TestConcurrentRotationsKeepOneActiveToken(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()
	users := repository.NewUserRepository(db.Pool)
	tokens := repository.NewTokenRepository(db.Pool)
	user := createUser(t, users, uniqueEmail("race"))

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := tokens.Rotate(ctx, user.ID, ledgerToken(user.ID))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	active, err := tokens.FindAllValidByUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestRotateUnknownUser(t *testing.T) {
	db := openDB(t)
	tokens := repository.NewTokenRepository(db.Pool)

	_, err := tokens.Rotate(context.Background(), "00000000-0000-0000-0000-000000000000", ledgerToken("00000000-0000-0000-0000-000000000000"))
	assert.ErrorIs(t, err, model.ErrUserNotFound)
}

func TestRevokedFlagsCannotBeReset(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()
	users := repository.NewUserRepository(db.Pool)
	tokens := repository.NewTokenRepository(db.Pool)
	user := createUser(t, users, uniqueEmail("mono"))

	tok := ledgerToken(user.ID)
	require.NoError(t, tokens.Save(ctx, tok))

	ok, err := tokens.Revoke(ctx, tok.Value)
	require.NoError(t, err)
	assert.True(t, ok)

	// revoking twice is a no-op that still matches the row
	ok, err = tokens.Revoke(ctx, tok.Value)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = db.Pool.Exec(ctx, `UPDATE tokens SET revoked = false WHERE token = $1`, tok.Value)
	assert.Error(t, err)

	ok, err = tokens.Revoke(ctx, "missing-"+tok.Value)
	require.NoError(t, err)
	assert.False(t, ok)
}
