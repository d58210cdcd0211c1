package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/psychometric-engine/internal/domain"
)

// AnswerRepo persists answers in PostgreSQL.
type AnswerRepo struct{ Pool PgxPool }

// NewAnswerRepo constructs an AnswerRepo with the given pool.
func NewAnswerRepo(p PgxPool) *AnswerRepo { return &AnswerRepo{Pool: p} }

// Record upserts an answer. The session row is locked and must be active, so
// an answer can never land after completion; the first answer moves the
// session from started to in_progress.
func (r *AnswerRepo) Record(ctx domain.Context, a domain.Answer) (domain.Answer, error) {
	ctx, span := otel.Tracer("repo.answers").Start(ctx, "answers.Record")
	defer span.End()
	span.SetAttributes(dbAttrs("INSERT", "answers")...)

	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.Answer{}, fmt.Errorf("op=answer.record: %w", err)
	}
	defer rollback(ctx, tx)

	var sid string
	err = tx.QueryRow(ctx, `UPDATE sessions SET updated_at=$2,
			state=CASE WHEN state='started' THEN 'in_progress' ELSE state END
		WHERE id=$1 AND state IN `+activeStates+` RETURNING id`, a.SessionID, a.RecordedAt).Scan(&sid)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Answer{}, fmt.Errorf("op=answer.record: %w: session %s not active", domain.ErrNotFound, a.SessionID)
		}
		return domain.Answer{}, fmt.Errorf("op=answer.record: %w", err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO answers (session_id, item_id, raw_value, recorded_at)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (session_id, item_id) DO UPDATE SET raw_value=EXCLUDED.raw_value, recorded_at=EXCLUDED.recorded_at`,
		a.SessionID, a.ItemID, a.RawValue, a.RecordedAt); err != nil {
		return domain.Answer{}, fmt.Errorf("op=answer.record: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Answer{}, fmt.Errorf("op=answer.record: %w", err)
	}
	return a, nil
}

// ListBySession returns a session's answers ordered by item id.
func (r *AnswerRepo) ListBySession(ctx domain.Context, sessionID string) ([]domain.Answer, error) {
	ctx, span := otel.Tracer("repo.answers").Start(ctx, "answers.ListBySession")
	defer span.End()
	span.SetAttributes(dbAttrs("SELECT", "answers")...)
	rows, err := r.Pool.Query(ctx, `SELECT session_id, item_id, raw_value, recorded_at FROM answers
		WHERE session_id=$1 ORDER BY item_id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("op=answer.list: %w", err)
	}
	defer rows.Close()
	var out []domain.Answer
	for rows.Next() {
		var a domain.Answer
		if err := rows.Scan(&a.SessionID, &a.ItemID, &a.RawValue, &a.RecordedAt); err != nil {
			return nil, fmt.Errorf("op=answer.list: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=answer.list: %w", err)
	}
	return out, nil
}
