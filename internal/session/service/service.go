// Package service implements session lifecycle and gesture-effect ingestion.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/louisbranch/imogine/internal/broadcast"
	apperrors "github.com/louisbranch/imogine/internal/errors"
	"github.com/louisbranch/imogine/internal/id"
	"github.com/louisbranch/imogine/internal/session/domain"
	"github.com/louisbranch/imogine/internal/session/storage"
)

const defaultRecentSessionsLimit = 20

// Service is the single entry point through which gesture events become
// durable effects. Persistence is the source of truth: the broadcaster is
// only notified after a successful write, and a notification that finds no
// subscribers never rolls anything back.
type Service struct {
	store       storage.SessionStore
	hub         *broadcast.Broadcaster
	clock       func() time.Time
	idGenerator func() (string, error)
}

// New creates a Service with default clock and id generation.
func New(store storage.SessionStore, hub *broadcast.Broadcaster) *Service {
	return &Service{
		store:       store,
		hub:         hub,
		clock:       time.Now,
		idGenerator: id.NewID,
	}
}

// StartSession deactivates the owner's prior active sessions and starts a new
// one. The deactivate-and-insert is a single storage transaction, so at most
// one session per owner is active even under racing starts.
func (s *Service) StartSession(ctx context.Context, ownerID string) (domain.Session, error) {
	if s == nil || s.store == nil {
		return domain.Session{}, apperrors.New(apperrors.CodeUnconfigured, "session store is not configured")
	}

	sess, err := domain.CreateSession(ownerID, s.clock, s.idGenerator)
	if err != nil {
		return domain.Session{}, err
	}

	if err := s.store.PutSession(ctx, sess); err != nil {
		return domain.Session{}, apperrors.Wrap(apperrors.CodeStorageFailure, "persist session", err)
	}

	if s.hub != nil {
		s.hub.PublishSessionUpdated(sess)
	}
	return sess, nil
}

// EndSession marks a session inactive. Ending an already-ended session
// returns it unchanged; it is not an error.
func (s *Service) EndSession(ctx context.Context, sessionID string) (domain.Session, error) {
	if s == nil || s.store == nil {
		return domain.Session{}, apperrors.New(apperrors.CodeUnconfigured, "session store is not configured")
	}

	sess, transitioned, err := s.store.EndSession(ctx, sessionID, s.clock().UTC())
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return domain.Session{}, apperrors.New(apperrors.CodeSessionNotFound, "session not found")
		}
		return domain.Session{}, apperrors.Wrap(apperrors.CodeStorageFailure, "end session", err)
	}

	if transitioned && s.hub != nil {
		s.hub.PublishSessionUpdated(sess)
	}
	return sess, nil
}

// ApplyGestureEffect validates a gesture event, appends it to the session's
// journal, and notifies live subscribers. Validation happens before any
// persistence attempt; the broadcast happens only after the append commits.
func (s *Service) ApplyGestureEffect(ctx context.Context, sessionID, kind string, parameters json.RawMessage) (domain.Effect, error) {
	if s == nil || s.store == nil {
		return domain.Effect{}, apperrors.New(apperrors.CodeUnconfigured, "session store is not configured")
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return domain.Effect{}, apperrors.New(apperrors.CodeSessionNotFound, "session id is required")
	}

	effect, err := domain.NewEffect(sessionID, kind, parameters, s.clock, s.idGenerator)
	if err != nil {
		return domain.Effect{}, err
	}

	appended, err := s.store.AppendEffect(ctx, effect)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			return domain.Effect{}, apperrors.New(apperrors.CodeSessionNotFound, "session not found")
		case errors.Is(err, storage.ErrSessionInactive):
			return domain.Effect{}, apperrors.New(apperrors.CodeSessionInactive, "session is no longer active")
		default:
			return domain.Effect{}, apperrors.Wrap(apperrors.CodeStorageFailure, "append effect", err)
		}
	}

	if s.hub != nil {
		s.hub.PublishEffectApplied(appended)
	}
	return appended, nil
}

// GetSession returns a session by id.
func (s *Service) GetSession(ctx context.Context, sessionID string) (domain.Session, error) {
	if s == nil || s.store == nil {
		return domain.Session{}, apperrors.New(apperrors.CodeUnconfigured, "session store is not configured")
	}

	sess, err := s.store.GetSession(ctx, strings.TrimSpace(sessionID))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return domain.Session{}, apperrors.New(apperrors.CodeSessionNotFound, "session not found")
		}
		return domain.Session{}, apperrors.Wrap(apperrors.CodeStorageFailure, "get session", err)
	}
	return sess, nil
}

// GetActiveSession returns the owner's active session, if any.
func (s *Service) GetActiveSession(ctx context.Context, ownerID string) (domain.Session, bool, error) {
	if s == nil || s.store == nil {
		return domain.Session{}, false, apperrors.New(apperrors.CodeUnconfigured, "session store is not configured")
	}
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return domain.Session{}, false, apperrors.New(apperrors.CodeSessionOwnerRequired, "owner id is required")
	}

	sess, err := s.store.GetActiveSession(ctx, ownerID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return domain.Session{}, false, nil
		}
		return domain.Session{}, false, apperrors.Wrap(apperrors.CodeStorageFailure, "get active session", err)
	}
	return sess, true, nil
}

// GetCurrentEffects returns a session's effects in append order.
func (s *Service) GetCurrentEffects(ctx context.Context, sessionID string) ([]domain.Effect, error) {
	if s == nil || s.store == nil {
		return nil, apperrors.New(apperrors.CodeUnconfigured, "session store is not configured")
	}

	effects, err := s.store.ListEffects(ctx, strings.TrimSpace(sessionID))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperrors.New(apperrors.CodeSessionNotFound, "session not found")
		}
		return nil, apperrors.Wrap(apperrors.CodeStorageFailure, "list effects", err)
	}
	return effects, nil
}

// ListSessionsByOwner returns the owner's sessions, most recent first.
func (s *Service) ListSessionsByOwner(ctx context.Context, ownerID string) ([]domain.Session, error) {
	if s == nil || s.store == nil {
		return nil, apperrors.New(apperrors.CodeUnconfigured, "session store is not configured")
	}
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return nil, apperrors.New(apperrors.CodeSessionOwnerRequired, "owner id is required")
	}

	sessions, err := s.store.ListSessionsByOwner(ctx, ownerID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageFailure, "list sessions", err)
	}
	return sessions, nil
}

// ListRecentSessions returns the most recently started sessions across all
// owners, for dashboard listings.
func (s *Service) ListRecentSessions(ctx context.Context, limit int) ([]domain.Session, error) {
	if s == nil || s.store == nil {
		return nil, apperrors.New(apperrors.CodeUnconfigured, "session store is not configured")
	}
	if limit <= 0 {
		limit = defaultRecentSessionsLimit
	}

	sessions, err := s.store.ListRecentSessions(ctx, limit)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageFailure, "list recent sessions", err)
	}
	return sessions, nil
}
