package audit

import (
	"encoding/json"
	"time"
)

// Event is an immutable, append-only audit log record.
//
// Invariants:
// - Events are never updated or deleted.
// - actor and ip capture are best-effort; do not block call control on audit failures.
type Event struct {
	ID   string    `json:"id" db:"id"`
	Type EventType `json:"type" db:"type"`

	ActorUserID string `json:"actor_user_id,omitempty" db:"actor_user_id"`
	ActorRole   string `json:"actor_role,omitempty" db:"actor_role"`
	IPAddress   string `json:"ip_address,omitempty" db:"ip_address"`

	CallID  string `json:"call_id,omitempty" db:"call_id"`
	PartyID string `json:"party_id,omitempty" db:"party_id"`
	Action  string `json:"action,omitempty" db:"action"`
	// Outcome is "ok" or "error".
	Outcome string `json:"outcome,omitempty" db:"outcome"`

	Message  string          `json:"message,omitempty" db:"message"`
	Metadata json.RawMessage `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeCallControl EventType = "call_control"
	EventTypeAdminAction EventType = "admin_action"
)

const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Actor identifies who triggered an audited action.
type Actor struct {
	UserID string
	Role   string
	IP     string
}
