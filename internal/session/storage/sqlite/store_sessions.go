package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/imogine/internal/session/domain"
	"github.com/louisbranch/imogine/internal/session/storage"
)

const sessionColumns = `id, owner_id, active, started_at, ended_at, recording_name, recording_container, recording_size`

// PutSession atomically deactivates every active session owned by the new
// session's owner and inserts the new session as active. The deactivation and
// insert share one transaction so racing starts cannot leave two active rows;
// a partial unique index on (owner_id) WHERE active backs the same invariant
// inside the database.
func (s *Store) PutSession(ctx context.Context, sess domain.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(sess.ID) == "" {
		return fmt.Errorf("session id is required")
	}
	if strings.TrimSpace(sess.OwnerID) == "" {
		return fmt.Errorf("owner id is required")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if sess.Active {
		if _, err := tx.ExecContext(ctx,
			`UPDATE sessions SET active = 0, ended_at = ? WHERE owner_id = ? AND active = 1`,
			toMillis(sess.StartedAt), sess.OwnerID,
		); err != nil {
			return fmt.Errorf("deactivate prior sessions: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sessions (id, owner_id, active, started_at, ended_at)
		 VALUES (?, ?, ?, ?, ?)`,
		sess.ID, sess.OwnerID, boolToInt(sess.Active), toMillis(sess.StartedAt), toNullMillis(sess.EndedAt),
	); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	return tx.Commit()
}

// EndSession marks a session as ended. Ending an already-ended session is not
// an error; the stored session is returned unchanged and the boolean reports
// whether a transition happened.
func (s *Store) EndSession(ctx context.Context, sessionID string, endedAt time.Time) (domain.Session, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.Session{}, false, err
	}
	if s == nil || s.sqlDB == nil {
		return domain.Session{}, false, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(sessionID) == "" {
		return domain.Session{}, false, fmt.Errorf("session id is required")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Session{}, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, sessionID)
	sess, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Session{}, false, storage.ErrNotFound
		}
		return domain.Session{}, false, fmt.Errorf("get session: %w", err)
	}

	transitioned := false
	if sess.Active {
		transitioned = true
		ended := fromMillis(toMillis(endedAt))
		sess.Active = false
		sess.EndedAt = &ended

		if _, err := tx.ExecContext(ctx,
			`UPDATE sessions SET active = 0, ended_at = ? WHERE id = ?`,
			toMillis(ended), sessionID,
		); err != nil {
			return domain.Session{}, false, fmt.Errorf("end session: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.Session{}, false, fmt.Errorf("commit: %w", err)
	}

	return sess, transitioned, nil
}

// GetSession retrieves a session by id.
func (s *Store) GetSession(ctx context.Context, sessionID string) (domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return domain.Session{}, err
	}
	if s == nil || s.sqlDB == nil {
		return domain.Session{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(sessionID) == "" {
		return domain.Session{}, fmt.Errorf("session id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, sessionID)
	sess, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Session{}, storage.ErrNotFound
		}
		return domain.Session{}, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// GetActiveSession retrieves the active session for an owner.
func (s *Store) GetActiveSession(ctx context.Context, ownerID string) (domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return domain.Session{}, err
	}
	if s == nil || s.sqlDB == nil {
		return domain.Session{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(ownerID) == "" {
		return domain.Session{}, fmt.Errorf("owner id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE owner_id = ? AND active = 1`, ownerID)
	sess, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Session{}, storage.ErrNotFound
		}
		return domain.Session{}, fmt.Errorf("get active session: %w", err)
	}
	return sess, nil
}

// ListSessionsByOwner returns every session for an owner, most recent first.
func (s *Store) ListSessionsByOwner(ctx context.Context, ownerID string) ([]domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(ownerID) == "" {
		return nil, fmt.Errorf("owner id is required")
	}

	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE owner_id = ? ORDER BY started_at DESC, id DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	return collectSessions(rows)
}

// ListRecentSessions returns the most recently started sessions across owners.
func (s *Store) ListRecentSessions(ctx context.Context, limit int) ([]domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}

	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent sessions: %w", err)
	}
	defer rows.Close()

	return collectSessions(rows)
}

// SetRecordingRef links a stored recording to its session, overwriting any
// prior reference.
func (s *Store) SetRecordingRef(ctx context.Context, sessionID string, ref domain.RecordingRef) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(sessionID) == "" {
		return fmt.Errorf("session id is required")
	}
	if strings.TrimSpace(ref.Name) == "" {
		return fmt.Errorf("recording name is required")
	}

	res, err := s.sqlDB.ExecContext(ctx,
		`UPDATE sessions SET recording_name = ?, recording_container = ?, recording_size = ? WHERE id = ?`,
		ref.Name, ref.Container, ref.ByteSize, sessionID,
	)
	if err != nil {
		return fmt.Errorf("set recording ref: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set recording ref: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ClearRecordingRefs removes every recording reference and returns the number
// of sessions touched.
func (s *Store) ClearRecordingRefs(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}

	res, err := s.sqlDB.ExecContext(ctx,
		`UPDATE sessions SET recording_name = NULL, recording_container = NULL, recording_size = NULL
		 WHERE recording_name IS NOT NULL`)
	if err != nil {
		return 0, fmt.Errorf("clear recording refs: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("clear recording refs: %w", err)
	}
	return affected, nil
}

// ListRecordingNames returns the canonical names currently referenced by any
// session.
func (s *Store) ListRecordingNames(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT recording_name FROM sessions WHERE recording_name IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("list recording names: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan recording name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (domain.Session, error) {
	var sess domain.Session
	var active int64
	var startedAt int64
	var endedAt sql.NullInt64
	var recName, recContainer sql.NullString
	var recSize sql.NullInt64

	if err := row.Scan(&sess.ID, &sess.OwnerID, &active, &startedAt, &endedAt, &recName, &recContainer, &recSize); err != nil {
		return domain.Session{}, err
	}

	sess.Active = active != 0
	sess.StartedAt = fromMillis(startedAt)
	sess.EndedAt = fromNullMillis(endedAt)
	if recName.Valid {
		sess.Recording = &domain.RecordingRef{
			Name:      recName.String,
			Container: recContainer.String,
			ByteSize:  recSize.Int64,
		}
	}
	return sess, nil
}

func collectSessions(rows *sql.Rows) ([]domain.Session, error) {
	var sessions []domain.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

func boolToInt(value bool) int64 {
	if value {
		return 1
	}
	return 0
}
