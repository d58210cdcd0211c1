package postgres

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/psychometric-engine/internal/domain"
)

const sessionColumns = `id, user_id, instrument_id, state, current_question_index, total_questions,
	time_spent_seconds, created_at, updated_at, expires_at, completed_at`

const activeStates = `('started','in_progress')`

// SessionRepo persists sessions in PostgreSQL. Now stamps updated_at on
// progress and transitions; nil means the wall clock in UTC.
type SessionRepo struct {
	Pool PgxPool
	Now  func() time.Time
}

// NewSessionRepo constructs a SessionRepo with the given pool.
func NewSessionRepo(p PgxPool) *SessionRepo { return &SessionRepo{Pool: p} }

func (r *SessionRepo) now() time.Time {
	if r.Now == nil {
		return time.Now().UTC()
	}
	return r.Now()
}

type scanner interface{ Scan(dest ...any) error }

func scanSession(row scanner) (domain.Session, error) {
	var s domain.Session
	err := row.Scan(&s.ID, &s.UserID, &s.InstrumentID, &s.State, &s.CurrentQuestionIndex, &s.TotalQuestions,
		&s.TimeSpentSeconds, &s.CreatedAt, &s.UpdatedAt, &s.ExpiresAt, &s.CompletedAt)
	return s, err
}

// Create expires overdue active rows of the pair and inserts the new session
// in one transaction. An active session left in the slot yields a conflict.
func (r *SessionRepo) Create(ctx domain.Context, s domain.Session) (domain.Session, error) {
	ctx, span := otel.Tracer("repo.sessions").Start(ctx, "sessions.Create")
	defer span.End()
	span.SetAttributes(dbAttrs("INSERT", "sessions")...)
	if s.ID == "" {
		s.ID = uuid.New().String()
	}

	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.Session{}, fmt.Errorf("op=session.create: %w", err)
	}
	defer rollback(ctx, tx)

	if _, err := tx.Exec(ctx, `UPDATE sessions SET state='expired', updated_at=$3
		WHERE user_id=$1 AND instrument_id=$2 AND state IN `+activeStates+` AND expires_at < $3`,
		s.UserID, s.InstrumentID, s.CreatedAt); err != nil {
		return domain.Session{}, fmt.Errorf("op=session.create: %w", err)
	}
	row := tx.QueryRow(ctx, `INSERT INTO sessions (`+sessionColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (user_id, instrument_id) WHERE state IN `+activeStates+` DO NOTHING
		RETURNING `+sessionColumns,
		s.ID, s.UserID, s.InstrumentID, s.State, s.CurrentQuestionIndex, s.TotalQuestions,
		s.TimeSpentSeconds, s.CreatedAt, s.UpdatedAt, s.ExpiresAt, s.CompletedAt)
	out, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Session{}, r.activeConflict(ctx, tx, s.UserID, s.InstrumentID)
		}
		if isUniqueViolation(err) {
			return domain.Session{}, &domain.ConflictError{Resource: "session", Reason: "active session exists for instrument"}
		}
		return domain.Session{}, fmt.Errorf("op=session.create: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		if isUniqueViolation(err) {
			return domain.Session{}, &domain.ConflictError{Resource: "session", Reason: "active session exists for instrument"}
		}
		return domain.Session{}, fmt.Errorf("op=session.create: %w", err)
	}
	return out, nil
}

func (r *SessionRepo) activeConflict(ctx domain.Context, tx pgx.Tx, userID, instrumentID string) error {
	var existing string
	err := tx.QueryRow(ctx, `SELECT id FROM sessions WHERE user_id=$1 AND instrument_id=$2 AND state IN `+activeStates,
		userID, instrumentID).Scan(&existing)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("op=session.create: %w", err)
	}
	return &domain.ConflictError{Resource: "session", ExistingID: existing, Reason: "active session exists for instrument"}
}

// Get loads a session by id.
func (r *SessionRepo) Get(ctx domain.Context, id string) (domain.Session, error) {
	ctx, span := otel.Tracer("repo.sessions").Start(ctx, "sessions.Get")
	defer span.End()
	span.SetAttributes(dbAttrs("SELECT", "sessions")...)
	s, err := scanSession(r.Pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Session{}, fmt.Errorf("op=session.get: %w", domain.ErrNotFound)
		}
		return domain.Session{}, fmt.Errorf("op=session.get: %w", err)
	}
	return s, nil
}

// List returns a user's sessions, newest first.
func (r *SessionRepo) List(ctx domain.Context, userID string, f domain.SessionFilter) ([]domain.Session, error) {
	ctx, span := otel.Tracer("repo.sessions").Start(ctx, "sessions.List")
	defer span.End()
	span.SetAttributes(dbAttrs("SELECT", "sessions")...)

	where := []string{"user_id=$1"}
	args := []any{userID}
	if f.InstrumentID != "" {
		args = append(args, f.InstrumentID)
		where = append(where, fmt.Sprintf("instrument_id=$%d", len(args)))
	}
	if f.State != "" {
		args = append(args, f.State)
		where = append(where, fmt.Sprintf("state=$%d", len(args)))
	}
	rows, err := r.Pool.Query(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE `+strings.Join(where, " AND ")+
		` ORDER BY created_at DESC`, args...)
	if err != nil {
		return nil, fmt.Errorf("op=session.list: %w", err)
	}
	defer rows.Close()
	var out []domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("op=session.list: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=session.list: %w", err)
	}
	return out, nil
}

// UpdateProgress applies progress to an active session, moving started to in_progress.
func (r *SessionRepo) UpdateProgress(ctx domain.Context, id string, p domain.Progress) (domain.Session, error) {
	ctx, span := otel.Tracer("repo.sessions").Start(ctx, "sessions.UpdateProgress")
	defer span.End()
	span.SetAttributes(dbAttrs("UPDATE", "sessions")...)
	s, err := scanSession(r.Pool.QueryRow(ctx, `UPDATE sessions SET
			current_question_index=$2, time_spent_seconds=$3, updated_at=$4,
			state=CASE WHEN state='started' THEN 'in_progress' ELSE state END
		WHERE id=$1 AND state IN `+activeStates+` RETURNING `+sessionColumns,
		id, p.CurrentQuestionIndex, p.TimeSpentSeconds, r.now()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Session{}, fmt.Errorf("op=session.update_progress: %w: session %s not active", domain.ErrNotFound, id)
		}
		return domain.Session{}, fmt.Errorf("op=session.update_progress: %w", err)
	}
	return s, nil
}

// Transition moves an active session to abandoned or expired.
func (r *SessionRepo) Transition(ctx domain.Context, id string, to domain.SessionState) (domain.Session, error) {
	ctx, span := otel.Tracer("repo.sessions").Start(ctx, "sessions.Transition")
	defer span.End()
	span.SetAttributes(dbAttrs("UPDATE", "sessions")...)
	if to != domain.SessionAbandoned && to != domain.SessionExpired {
		return domain.Session{}, fmt.Errorf("op=session.transition: %w: cannot transition to %s", domain.ErrInvalidArgument, to)
	}
	s, err := scanSession(r.Pool.QueryRow(ctx, `UPDATE sessions SET state=$2, updated_at=$3
		WHERE id=$1 AND state IN `+activeStates+` RETURNING `+sessionColumns, id, to, r.now()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Session{}, fmt.Errorf("op=session.transition: %w: session %s not active", domain.ErrNotFound, id)
		}
		return domain.Session{}, fmt.Errorf("op=session.transition: %w", err)
	}
	return s, nil
}

// Delete removes a session that has no linked result; its answers cascade.
func (r *SessionRepo) Delete(ctx domain.Context, id string) error {
	ctx, span := otel.Tracer("repo.sessions").Start(ctx, "sessions.Delete")
	defer span.End()
	span.SetAttributes(dbAttrs("DELETE", "sessions")...)
	tag, err := r.Pool.Exec(ctx, `DELETE FROM sessions s WHERE s.id=$1
		AND NOT EXISTS (SELECT 1 FROM results r WHERE r.session_id=s.id)`, id)
	if err != nil {
		return fmt.Errorf("op=session.delete: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	var resultID string
	err = r.Pool.QueryRow(ctx, `SELECT id FROM results WHERE session_id=$1`, id).Scan(&resultID)
	switch {
	case err == nil:
		return &domain.ConflictError{Resource: "session", ExistingID: resultID, Reason: "has a result and cannot be deleted"}
	case errors.Is(err, pgx.ErrNoRows):
		return fmt.Errorf("op=session.delete: %w", domain.ErrNotFound)
	default:
		return fmt.Errorf("op=session.delete: %w", err)
	}
}

// ExpireOverdue marks every overdue active session expired.
func (r *SessionRepo) ExpireOverdue(ctx domain.Context, now time.Time) (int64, error) {
	ctx, span := otel.Tracer("repo.sessions").Start(ctx, "sessions.ExpireOverdue")
	defer span.End()
	span.SetAttributes(dbAttrs("UPDATE", "sessions")...)
	tag, err := r.Pool.Exec(ctx, `UPDATE sessions SET state='expired', updated_at=$1
		WHERE state IN `+activeStates+` AND expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("op=session.expire_overdue: %w", err)
	}
	return tag.RowsAffected(), nil
}

// PurgeInactive removes abandoned and expired sessions without a result that
// were last touched before cutoff.
func (r *SessionRepo) PurgeInactive(ctx domain.Context, cutoff time.Time) (int64, error) {
	ctx, span := otel.Tracer("repo.sessions").Start(ctx, "sessions.PurgeInactive")
	defer span.End()
	span.SetAttributes(dbAttrs("DELETE", "sessions")...)
	tag, err := r.Pool.Exec(ctx, `DELETE FROM sessions s
		WHERE s.state IN ('abandoned','expired') AND s.updated_at < $1
		AND NOT EXISTS (SELECT 1 FROM results r WHERE r.session_id=s.id)`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("op=session.purge_inactive: %w", err)
	}
	return tag.RowsAffected(), nil
}
