package event

import "context"

type Type string

const (
	TypeUserRegistered    Type = "session.registered"
	TypeUserAuthenticated Type = "session.authenticated"
	TypeLoginFailed       Type = "session.login_failed"
	TypeTokenRefreshed    Type = "session.refreshed"
	TypeLoggedOut         Type = "session.logged_out"
	TypePasswordChanged   Type = "user.password_changed"
)

type Event struct {
	ID         string         `json:"id"`
	Type       Type           `json:"type"`
	Payload    map[string]any `json:"payload,omitempty"`
	Timestamp  string         `json:"timestamp"`
	ActorID    string         `json:"actor_id,omitempty"` // Who triggered the event
	ActorEmail string         `json:"actor_email,omitempty"`
	IP         string         `json:"ip,omitempty"`
}

// Handler receives events in the publisher's goroutine.
type Handler func(ctx context.Context, e Event)

type Bus interface {
	Publish(ctx context.Context, e Event)
	Subscribe(h Handler) func() // Returns unsubscribe function
}
