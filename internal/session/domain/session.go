package domain

import (
	"fmt"
	"strings"
	"time"

	apperrors "github.com/louisbranch/imogine/internal/errors"
	"github.com/louisbranch/imogine/internal/id"
)

// RecordingRef points at a stored recording artifact for a session.
// Sessions reference recordings by canonical name, never embed them.
type RecordingRef struct {
	Name      string
	Container string
	ByteSize  int64
}

// Session represents a bounded, owner-scoped interaction during which
// gesture effects may be applied.
type Session struct {
	ID        string
	OwnerID   string
	Active    bool
	StartedAt time.Time
	EndedAt   *time.Time // nil while the session is active
	Recording *RecordingRef
}

// CreateSession creates a new active session with a generated ID and
// start timestamp.
func CreateSession(ownerID string, now func() time.Time, idGenerator func() (string, error)) (Session, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}

	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return Session{}, apperrors.New(apperrors.CodeSessionOwnerRequired, "owner id is required")
	}

	sessionID, err := idGenerator()
	if err != nil {
		return Session{}, fmt.Errorf("generate session id: %w", err)
	}

	return Session{
		ID:        sessionID,
		OwnerID:   ownerID,
		Active:    true,
		StartedAt: now().UTC(),
		EndedAt:   nil,
	}, nil
}
