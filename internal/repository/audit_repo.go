package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"go-session-auth/internal/model"
)

type AuditRepository struct {
	pool *pgxpool.Pool
}

func NewAuditRepository(pool *pgxpool.Pool) *AuditRepository {
	return &AuditRepository{pool: pool}
}

func (r *AuditRepository) Log(ctx context.Context, entry model.AuditEntry) error {
	var detailsJSON []byte
	if entry.Details != nil {
		var err error
		detailsJSON, err = json.Marshal(entry.Details)
		if err != nil {
			return fmt.Errorf("marshal audit details: %w", err)
		}
	}

	occurredAt, err := time.Parse(time.RFC3339Nano, entry.OccurredAt)
	if err != nil {
		occurredAt = time.Now().UTC()
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO audit_entries
		 (action, occurred_at, actor_user_id, actor_email, actor_role, actor_ip,
		  status, resource, details, error_text)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		entry.Action, occurredAt,
		entry.Actor.UserID, entry.Actor.Email, entry.Actor.Role, entry.Actor.IP,
		entry.Status, entry.Resource, detailsJSON, entry.Error)
	if err != nil {
		return fmt.Errorf("log audit entry: %w", err)
	}
	return nil
}

func (r *AuditRepository) Query(ctx context.Context, query model.AuditQuery) ([]model.AuditEntry, model.Meta, error) {
	query = query.Normalize()
	where, args := auditFilter(query)

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM audit_entries `+where, args).Scan(&total); err != nil {
		return nil, model.Meta{}, fmt.Errorf("count audit entries: %w", err)
	}
	meta := model.NewMeta(query.Page, query.Limit, total)

	args["limit"] = query.Limit
	args["offset"] = (query.Page - 1) * query.Limit
	rows, err := r.pool.Query(ctx,
		`SELECT action, occurred_at, actor_user_id, actor_email, actor_role, actor_ip,
		        status, resource, details, error_text
		 FROM audit_entries `+where+`
		 ORDER BY occurred_at DESC, id DESC
		 LIMIT @limit OFFSET @offset`, args)
	if err != nil {
		return nil, model.Meta{}, fmt.Errorf("query audit entries: %w", err)
	}

	entries, err := pgx.CollectRows(rows, scanAuditEntry)
	if err != nil {
		return nil, model.Meta{}, fmt.Errorf("scan audit entries: %w", err)
	}
	return entries, meta, nil
}

// auditFilter turns the non-empty filters of query into a WHERE clause with
// named arguments. Time bounds arrive already normalized to RFC 3339.
func auditFilter(query model.AuditQuery) (string, pgx.NamedArgs) {
	var conds []string
	args := pgx.NamedArgs{}

	add := func(cond string, name string, value string) {
		if value = strings.TrimSpace(value); value == "" {
			return
		}
		conds = append(conds, cond)
		args[name] = value
	}
	add("lower(action) = lower(@action)", "action", query.Action)
	add("actor_user_id = @actor_id", "actor_id", query.ActorID)
	add("lower(status) = lower(@status)", "status", query.Status)
	add("occurred_at >= @from::timestamptz", "from", query.From)
	add("occurred_at <= @to::timestamptz", "to", query.To)

	if len(conds) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}

func scanAuditEntry(row pgx.CollectableRow) (model.AuditEntry, error) {
	var e model.AuditEntry
	var occurredAt time.Time
	var detailsJSON []byte

	if err := row.Scan(
		&e.Action, &occurredAt,
		&e.Actor.UserID, &e.Actor.Email, &e.Actor.Role, &e.Actor.IP,
		&e.Status, &e.Resource, &detailsJSON, &e.Error,
	); err != nil {
		return model.AuditEntry{}, err
	}

	e.OccurredAt = occurredAt.UTC().Format(time.RFC3339Nano)
	if len(detailsJSON) > 0 {
		var details any
		if err := json.Unmarshal(detailsJSON, &details); err == nil {
			e.Details = details
		}
	}
	return e, nil
}
