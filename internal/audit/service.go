package audit

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
// It is append-only: there is no Update or Delete.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service records call-control and admin actions.
// Callers treat it as best-effort.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}
	if e.Type == EventTypeCallControl && (e.CallID == "" || e.Action == "") {
		return ErrInvalidEvent
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

// LogCallControl records one answer/hangup/mute/hold/record attempt.
// A non-nil cause marks the event as failed and keeps its message.
func (s *Service) LogCallControl(ctx context.Context, a Actor, callID, partyID, action string, cause error) error {
	e := Event{
		Type:        EventTypeCallControl,
		ActorUserID: a.UserID,
		ActorRole:   a.Role,
		IPAddress:   a.IP,
		CallID:      callID,
		PartyID:     partyID,
		Action:      action,
		Outcome:     OutcomeOK,
	}
	if cause != nil {
		e.Outcome = OutcomeError
		e.Message = cause.Error()
	}
	return s.Append(ctx, e)
}

// LogAdminAction records an admin-only operation (sync, simulate, manual sweep).
func (s *Service) LogAdminAction(ctx context.Context, a Actor, message string, metadata any) error {
	var raw json.RawMessage
	if metadata != nil {
		b, err := json.Marshal(metadata)
		if err != nil {
			return err
		}
		raw = b
	}
	return s.Append(ctx, Event{
		Type:        EventTypeAdminAction,
		ActorUserID: a.UserID,
		ActorRole:   a.Role,
		IPAddress:   a.IP,
		Outcome:     OutcomeOK,
		Message:     message,
		Metadata:    raw,
	})
}
