package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/louisbranch/imogine/internal/session/domain"
	"github.com/louisbranch/imogine/internal/session/storage"
)

// AppendEffect atomically appends an effect to its session's journal and
// returns it with the sequence number set. The active check and the insert
// share one transaction, so an append can never land on a session that ended
// concurrently.
func (s *Store) AppendEffect(ctx context.Context, effect domain.Effect) (domain.Effect, error) {
	if err := ctx.Err(); err != nil {
		return domain.Effect{}, err
	}
	if s == nil || s.sqlDB == nil {
		return domain.Effect{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(effect.SessionID) == "" {
		return domain.Effect{}, fmt.Errorf("session id is required")
	}
	if strings.TrimSpace(effect.ID) == "" {
		return domain.Effect{}, fmt.Errorf("effect id is required")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Effect{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var active int64
	row := tx.QueryRowContext(ctx, `SELECT active FROM sessions WHERE id = ?`, effect.SessionID)
	if err := row.Scan(&active); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Effect{}, storage.ErrNotFound
		}
		return domain.Effect{}, fmt.Errorf("check session: %w", err)
	}
	if active == 0 {
		return domain.Effect{}, storage.ErrSessionInactive
	}

	var seq int64
	row = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM effects WHERE session_id = ?`, effect.SessionID)
	if err := row.Scan(&seq); err != nil {
		return domain.Effect{}, fmt.Errorf("next effect seq: %w", err)
	}
	effect.Seq = uint64(seq)

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO effects (session_id, seq, id, kind, parameters_json, applied_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		effect.SessionID, seq, effect.ID, string(effect.Kind), string(effect.Parameters), toMillis(effect.AppliedAt),
	); err != nil {
		return domain.Effect{}, fmt.Errorf("insert effect: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return domain.Effect{}, fmt.Errorf("commit: %w", err)
	}

	return effect, nil
}

// ListEffects returns a session's effects in append order. The session must
// exist; an existing session without effects yields an empty slice.
func (s *Store) ListEffects(ctx context.Context, sessionID string) ([]domain.Effect, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(sessionID) == "" {
		return nil, fmt.Errorf("session id is required")
	}

	var exists int64
	row := s.sqlDB.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE id = ?`, sessionID)
	if err := row.Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("check session: %w", err)
	}

	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT session_id, seq, id, kind, parameters_json, applied_at
		 FROM effects WHERE session_id = ? ORDER BY seq ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list effects: %w", err)
	}
	defer rows.Close()

	var effects []domain.Effect
	for rows.Next() {
		var effect domain.Effect
		var seq int64
		var kind string
		var params string
		var appliedAt int64
		if err := rows.Scan(&effect.SessionID, &seq, &effect.ID, &kind, &params, &appliedAt); err != nil {
			return nil, fmt.Errorf("scan effect: %w", err)
		}
		effect.Seq = uint64(seq)
		effect.Kind = domain.EffectKind(kind)
		effect.Parameters = json.RawMessage(params)
		effect.AppliedAt = fromMillis(appliedAt)
		effects = append(effects, effect)
	}
	return effects, rows.Err()
}
