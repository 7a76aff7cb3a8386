// Package storage defines persistence interfaces for sessions and effects.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/louisbranch/imogine/internal/session/domain"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New("record not found")

// ErrSessionInactive indicates an append against a session that has ended.
var ErrSessionInactive = errors.New("session is not active")

// SessionStore persists sessions and their effect journals.
//
// PutSession must atomically deactivate every active session owned by the
// session's owner before inserting the new active session, so the
// one-active-session-per-owner invariant holds under concurrent starts.
type SessionStore interface {
	PutSession(ctx context.Context, sess domain.Session) error
	EndSession(ctx context.Context, sessionID string, endedAt time.Time) (domain.Session, bool, error)
	GetSession(ctx context.Context, sessionID string) (domain.Session, error)
	GetActiveSession(ctx context.Context, ownerID string) (domain.Session, error)
	ListSessionsByOwner(ctx context.Context, ownerID string) ([]domain.Session, error)
	ListRecentSessions(ctx context.Context, limit int) ([]domain.Session, error)

	// AppendEffect assigns the next sequence number within the session and
	// persists the effect. It fails with ErrNotFound when the session does
	// not exist and ErrSessionInactive when it has ended.
	AppendEffect(ctx context.Context, effect domain.Effect) (domain.Effect, error)
	ListEffects(ctx context.Context, sessionID string) ([]domain.Effect, error)

	// SetRecordingRef links a stored recording to its session. A later
	// successful upload overwrites any prior reference.
	SetRecordingRef(ctx context.Context, sessionID string, ref domain.RecordingRef) error
	ClearRecordingRefs(ctx context.Context) (int64, error)
	ListRecordingNames(ctx context.Context) ([]string, error)
}
