package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"go-session-auth/internal/model"
)

// TokenRepository is the Postgres token ledger.
type TokenRepository struct {
	pool *pgxpool.Pool
}

func NewTokenRepository(pool *pgxpool.Pool) *TokenRepository {
	return &TokenRepository{pool: pool}
}

func (r *TokenRepository) Save(ctx context.Context, t model.Token) error {
	return insertToken(ctx, r.pool, t)
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertToken(ctx context.Context, db execer, t model.Token) error {
	_, err := db.Exec(ctx,
		`INSERT INTO tokens (id, token, token_type, expired, revoked, user_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		t.ID, t.Value, t.Type, t.Expired, t.Revoked, t.UserID, t.CreatedAt)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("store token: duplicate token string")
	}
	if err != nil {
		return fmt.Errorf("store token: %w", err)
	}
	return nil
}

func (r *TokenRepository) FindByToken(ctx context.Context, value string) (model.Token, error) {
	var t model.Token
	err := r.pool.QueryRow(ctx,
		`SELECT id, token, token_type, expired, revoked, user_id, created_at
		 FROM tokens WHERE token = $1`, value).
		Scan(&t.ID, &t.Value, &t.Type, &t.Expired, &t.Revoked, &t.UserID, &t.CreatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return model.Token{}, model.ErrTokenNotFound
	}
	if err != nil {
		return model.Token{}, fmt.Errorf("find token: %w", err)
	}
	return t, nil
}

func (r *TokenRepository) FindAllValidByUser(ctx context.Context, userID string) ([]model.Token, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, token, token_type, expired, revoked, user_id, created_at
		 FROM tokens
		 WHERE user_id = $1 AND (expired = false OR revoked = false)
		 ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("list valid tokens: %w", err)
	}
	defer rows.Close()

	tokens := make([]model.Token, 0)
	for rows.Next() {
		var t model.Token
		if err := rows.Scan(&t.ID, &t.Value, &t.Type, &t.Expired, &t.Revoked, &t.UserID, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan token: %w", err)
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

// Revoke flips both flags on a single token. It reports false when the
// ledger has no row for value.
func (r *TokenRepository) Revoke(ctx context.Context, value string) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE tokens SET expired = true, revoked = true WHERE token = $1`, value)
	if err != nil {
		return false, fmt.Errorf("revoke token: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Rotate revokes every token of the user that is still expired=false or
// revoked=false and records next, all in one transaction. The user row is
// locked first so concurrent rotations for one user run one after another.
func (r *TokenRepository) Rotate(ctx context.Context, userID string, next model.Token) ([]string, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin rotation: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var locked string
	err = tx.QueryRow(ctx, `SELECT id FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock user: %w", err)
	}

	rows, err := tx.Query(ctx,
		`UPDATE tokens SET expired = true, revoked = true
		 WHERE user_id = $1 AND (expired = false OR revoked = false)
		 RETURNING token`, userID)
	if err != nil {
		return nil, fmt.Errorf("revoke user tokens: %w", err)
	}
	revoked, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collect revoked tokens: %w", err)
	}

	if err := insertToken(ctx, tx, next); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit rotation: %w", err)
	}
	return revoked, nil
}
