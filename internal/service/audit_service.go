package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"go-session-auth/internal/event"
	"go-session-auth/internal/model"
	"go-session-auth/pkg/apierror"
)

const auditResource = "session"

type AuditService struct {
	store AuditStore
}

func NewAuditService(store AuditStore) *AuditService {
	return &AuditService{store: store}
}

// Record turns a session event into an audit entry. It is meant to be
// subscribed to the event bus; storage failures are logged, not returned.
func (s *AuditService) Record(ctx context.Context, e event.Event) {
	if s == nil {
		return
	}

	status := "success"
	errText := ""
	switch e.Type {
	case event.TypeLoginFailed:
		status = "failure"
		if reason, ok := e.Payload["reason"].(string); ok {
			errText = reason
		}
	}

	actor := model.AuditActor{
		UserID: e.ActorID,
		Email:  e.ActorEmail,
		IP:     e.IP,
	}
	if role, ok := e.Payload["role"].(string); ok {
		actor.Role = role
	}

	occurredAt := e.Timestamp
	if occurredAt == "" {
		occurredAt = time.Now().UTC().Format(time.RFC3339Nano)
	}

	var details any
	if len(e.Payload) > 0 {
		details = e.Payload
	}

	entry := model.AuditEntry{
		Action:     string(e.Type),
		OccurredAt: occurredAt,
		Actor:      actor,
		Status:     status,
		Resource:   auditResource,
		Details:    details,
		Error:      errText,
	}

	// The entry outlives a canceled request.
	if err := s.store.Log(context.WithoutCancel(ctx), entry); err != nil {
		slog.Error("audit entry not stored", "action", entry.Action, "error", err)
	}
}

func (s *AuditService) Query(ctx context.Context, query model.AuditQuery) ([]model.AuditEntry, model.Meta, error) {
	from, err := parseOptionalAuditTime(query.From)
	if err != nil {
		return nil, model.Meta{}, apierror.BadRequest("invalid 'from' datetime format", query.From)
	}
	to, err := parseOptionalAuditTime(query.To)
	if err != nil {
		return nil, model.Meta{}, apierror.BadRequest("invalid 'to' datetime format", query.To)
	}
	if !from.IsZero() && !to.IsZero() && from.After(to) {
		return nil, model.Meta{}, apierror.BadRequest("'from' must not be after 'to'", "")
	}

	if !from.IsZero() {
		query.From = from.Format(time.RFC3339Nano)
	}
	if !to.IsZero() {
		query.To = to.Format(time.RFC3339Nano)
	}

	return s.store.Query(ctx, query.Normalize())
}

func parseOptionalAuditTime(raw string) (time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return time.Time{}, nil
	}

	if value, err := time.Parse(time.RFC3339Nano, trimmed); err == nil {
		return value.UTC(), nil
	}
	value, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return time.Time{}, err
	}
	return value.UTC(), nil
}
