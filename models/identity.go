// Package models defines the plain data types shared by every
// subsystem: identity, content, platform integration, lifecycle, and
// analytics. Types here carry JSON tags but no behavior beyond small
// predicates; the subsystems that mutate them live under internal/.
package models

import (
	"time"

	"github.com/google/uuid"
)

// NotificationID is an opaque 128-bit identifier, globally unique and
// stringifiable. It is immutable once assigned to a record.
type NotificationID uuid.UUID

// NewNotificationID generates a fresh random identifier.
func NewNotificationID() NotificationID {
	return NotificationID(uuid.New())
}

func (id NotificationID) String() string {
	return uuid.UUID(id).String()
}

func (id NotificationID) MarshalJSON() ([]byte, error) {
	return []byte(`"` + id.String() + `"`), nil
}

func (id *NotificationID) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return err
	}
	*id = NotificationID(u)
	return nil
}

// ParseNotificationID parses a canonical UUID string into a
// NotificationID, failing with a ValidationError on malformed input.
func ParseNotificationID(s string) (NotificationID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return NotificationID{}, NewValidationError("invalid notification id", err)
	}
	return NotificationID(u), nil
}

// CorrelationID, TraceID and SpanID are opaque identifiers for
// distributed tracing propagation. The core never interprets their
// contents; it only carries them through to logs, spans, and receipts.
type CorrelationID string
type TraceID string
type SpanID string

// Identity is the immutable identity block of a notification record.
type Identity struct {
	ID             NotificationID `json:"id"`
	CorrelationID  CorrelationID  `json:"correlation_id"`
	SessionID      string         `json:"session_id"`
	CreatedAt      time.Time      `json:"created_at"`
	CreatorContext string         `json:"creator_context,omitempty"`
}

// NewIdentity builds an Identity with a freshly generated id and
// correlation id, stamped with now.
func NewIdentity(sessionID, creatorContext string, now time.Time) Identity {
	return Identity{
		ID:             NewNotificationID(),
		CorrelationID:  CorrelationID(NewNotificationID().String()),
		SessionID:      sessionID,
		CreatedAt:      now,
		CreatorContext: creatorContext,
	}
}
