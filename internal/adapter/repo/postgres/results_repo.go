package postgres

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/psychometric-engine/internal/domain"
)

const resultColumns = `id, session_id, user_id, instrument_id, overall_score, dimension_scores, profile_outcome,
	interpretation_label, interpretation, recommendations, metadata, completed_at, updated_at`

// ResultRepo persists and loads results from PostgreSQL.
type ResultRepo struct{ Pool PgxPool }

// NewResultRepo constructs a ResultRepo with the given pool.
func NewResultRepo(p PgxPool) *ResultRepo { return &ResultRepo{Pool: p} }

func scanResult(row scanner) (domain.Result, error) {
	var res domain.Result
	var dims, profile, meta []byte
	if err := row.Scan(&res.ID, &res.SessionID, &res.UserID, &res.InstrumentID, &res.OverallScore, &dims, &profile,
		&res.InterpretationLabel, &res.Interpretation, &res.Recommendations, &meta, &res.CompletedAt, &res.UpdatedAt); err != nil {
		return domain.Result{}, err
	}
	if err := json.Unmarshal(dims, &res.DimensionScores); err != nil {
		return domain.Result{}, fmt.Errorf("decode dimension_scores: %w", err)
	}
	if err := json.Unmarshal(profile, &res.ProfileOutcome); err != nil {
		return domain.Result{}, fmt.Errorf("decode profile_outcome: %w", err)
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &res.Metadata); err != nil {
			return domain.Result{}, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return res, nil
}

func encodeScores(res domain.Result) (dims, profile, meta []byte, err error) {
	if dims, err = json.Marshal(res.DimensionScores); err != nil {
		return nil, nil, nil, err
	}
	if profile, err = json.Marshal(res.ProfileOutcome); err != nil {
		return nil, nil, nil, err
	}
	if res.Metadata == nil {
		res.Metadata = map[string]any{}
	}
	if meta, err = json.Marshal(res.Metadata); err != nil {
		return nil, nil, nil, err
	}
	return dims, profile, meta, nil
}

// CreateForSession inserts the result and completes its session in one
// transaction. The session row is locked first, so concurrent completions
// serialize and only one result is ever written.
func (r *ResultRepo) CreateForSession(ctx domain.Context, res domain.Result) (domain.Result, error) {
	ctx, span := otel.Tracer("repo.results").Start(ctx, "results.CreateForSession")
	defer span.End()
	span.SetAttributes(dbAttrs("INSERT", "results")...)
	span.SetAttributes(attribute.String("session.id", res.SessionID))
	if res.ID == "" {
		res.ID = uuid.New().String()
	}
	dims, profile, meta, err := encodeScores(res)
	if err != nil {
		return domain.Result{}, fmt.Errorf("op=result.create: %w", err)
	}

	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.Result{}, fmt.Errorf("op=result.create: %w", err)
	}
	defer rollback(ctx, tx)

	var state domain.SessionState
	if err := tx.QueryRow(ctx, `SELECT state FROM sessions WHERE id=$1 FOR UPDATE`, res.SessionID).Scan(&state); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Result{}, fmt.Errorf("op=result.create: %w: session %s", domain.ErrNotFound, res.SessionID)
		}
		return domain.Result{}, fmt.Errorf("op=result.create: %w", err)
	}
	if state == domain.SessionCompleted {
		return domain.Result{}, existingResultConflict(ctx, tx, res.SessionID)
	}
	if !state.IsActive() {
		return domain.Result{}, fmt.Errorf("op=result.create: %w: session %s is %s", domain.ErrNotFound, res.SessionID, state)
	}

	out, err := scanResult(tx.QueryRow(ctx, `INSERT INTO results (`+resultColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (session_id) DO NOTHING
		RETURNING `+resultColumns,
		res.ID, res.SessionID, res.UserID, res.InstrumentID, res.OverallScore, dims, profile,
		res.InterpretationLabel, res.Interpretation, res.Recommendations, meta, res.CompletedAt, res.UpdatedAt))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Result{}, existingResultConflict(ctx, tx, res.SessionID)
		}
		return domain.Result{}, fmt.Errorf("op=result.create: %w", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE sessions SET state='completed', completed_at=$2, updated_at=$2 WHERE id=$1`,
		res.SessionID, res.CompletedAt); err != nil {
		return domain.Result{}, fmt.Errorf("op=result.create: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		if isUniqueViolation(err) {
			return domain.Result{}, &domain.ConflictError{Resource: "result", Reason: "already exists for session"}
		}
		return domain.Result{}, fmt.Errorf("op=result.create: %w", err)
	}
	return out, nil
}

func existingResultConflict(ctx domain.Context, tx pgx.Tx, sessionID string) error {
	var id string
	if err := tx.QueryRow(ctx, `SELECT id FROM results WHERE session_id=$1`, sessionID).Scan(&id); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("op=result.create: %w", err)
	}
	return &domain.ConflictError{Resource: "result", ExistingID: id, Reason: "already exists for session"}
}

// Get loads a result by id.
func (r *ResultRepo) Get(ctx domain.Context, id string) (domain.Result, error) {
	ctx, span := otel.Tracer("repo.results").Start(ctx, "results.Get")
	defer span.End()
	span.SetAttributes(dbAttrs("SELECT", "results")...)
	return r.getOne(ctx, "op=result.get", `SELECT `+resultColumns+` FROM results WHERE id=$1`, id)
}

// GetBySession loads the result of a session.
func (r *ResultRepo) GetBySession(ctx domain.Context, sessionID string) (domain.Result, error) {
	ctx, span := otel.Tracer("repo.results").Start(ctx, "results.GetBySession")
	defer span.End()
	span.SetAttributes(dbAttrs("SELECT", "results")...)
	return r.getOne(ctx, "op=result.get_by_session", `SELECT `+resultColumns+` FROM results WHERE session_id=$1`, sessionID)
}

func (r *ResultRepo) getOne(ctx domain.Context, op, q string, args ...any) (domain.Result, error) {
	res, err := scanResult(r.Pool.QueryRow(ctx, q, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Result{}, fmt.Errorf("%s: %w", op, domain.ErrNotFound)
		}
		return domain.Result{}, fmt.Errorf("%s: %w", op, err)
	}
	return res, nil
}

// List returns a user's results filtered, sorted and paged as requested.
func (r *ResultRepo) List(ctx domain.Context, userID string, f domain.ResultFilter) ([]domain.Result, error) {
	ctx, span := otel.Tracer("repo.results").Start(ctx, "results.List")
	defer span.End()
	span.SetAttributes(dbAttrs("SELECT", "results")...)

	where := []string{"user_id=$1"}
	args := []any{userID}
	if f.InstrumentID != "" {
		args = append(args, f.InstrumentID)
		where = append(where, fmt.Sprintf("instrument_id=$%d", len(args)))
	}
	if f.From != nil {
		args = append(args, *f.From)
		where = append(where, fmt.Sprintf("completed_at >= $%d", len(args)))
	}
	if f.To != nil {
		args = append(args, *f.To)
		where = append(where, fmt.Sprintf("completed_at <= $%d", len(args)))
	}
	order := "completed_at"
	if f.SortBy == "overall_score" {
		order = "overall_score"
	}
	dir := "ASC"
	if f.Desc {
		dir = "DESC"
	}
	q := `SELECT ` + resultColumns + ` FROM results WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY ` + order + ` ` + dir + ` NULLS LAST, id`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		q += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	rows, err := r.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("op=result.list: %w", err)
	}
	defer rows.Close()
	var out []domain.Result
	for rows.Next() {
		res, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("op=result.list: %w", err)
		}
		out = append(out, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=result.list: %w", err)
	}
	return out, nil
}

// UpdateInterpretation sets the narrative fields present in u.
func (r *ResultRepo) UpdateInterpretation(ctx domain.Context, id string, u domain.InterpretationUpdate) (domain.Result, error) {
	ctx, span := otel.Tracer("repo.results").Start(ctx, "results.UpdateInterpretation")
	defer span.End()
	span.SetAttributes(dbAttrs("UPDATE", "results")...)
	return r.getOne(ctx, "op=result.update_interpretation", `UPDATE results SET
			interpretation=COALESCE($2, interpretation),
			recommendations=COALESCE($3, recommendations),
			updated_at=now()
		WHERE id=$1 RETURNING `+resultColumns, id, u.Interpretation, u.Recommendations)
}

// ReplaceScores overwrites the computed fields of a result.
func (r *ResultRepo) ReplaceScores(ctx domain.Context, res domain.Result) (domain.Result, error) {
	ctx, span := otel.Tracer("repo.results").Start(ctx, "results.ReplaceScores")
	defer span.End()
	span.SetAttributes(dbAttrs("UPDATE", "results")...)
	dims, profile, meta, err := encodeScores(res)
	if err != nil {
		return domain.Result{}, fmt.Errorf("op=result.replace_scores: %w", err)
	}
	return r.getOne(ctx, "op=result.replace_scores", `UPDATE results SET
			overall_score=$2, dimension_scores=$3, profile_outcome=$4,
			interpretation_label=$5, metadata=$6, updated_at=$7
		WHERE id=$1 RETURNING `+resultColumns,
		res.ID, res.OverallScore, dims, profile, res.InterpretationLabel, meta, res.UpdatedAt)
}

// Cohort returns the scores of every result of an instrument except one.
func (r *ResultRepo) Cohort(ctx domain.Context, instrumentID, excludeResultID string) ([]domain.CohortMember, error) {
	ctx, span := otel.Tracer("repo.results").Start(ctx, "results.Cohort")
	defer span.End()
	span.SetAttributes(dbAttrs("SELECT", "results")...)
	rows, err := r.Pool.Query(ctx, `SELECT id, overall_score, dimension_scores FROM results
		WHERE instrument_id=$1 AND id<>$2`, instrumentID, excludeResultID)
	if err != nil {
		return nil, fmt.Errorf("op=result.cohort: %w", err)
	}
	defer rows.Close()
	var out []domain.CohortMember
	for rows.Next() {
		var m domain.CohortMember
		var dims []byte
		if err := rows.Scan(&m.ResultID, &m.OverallScore, &dims); err != nil {
			return nil, fmt.Errorf("op=result.cohort: %w", err)
		}
		if err := json.Unmarshal(dims, &m.DimensionScores); err != nil {
			return nil, fmt.Errorf("op=result.cohort: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=result.cohort: %w", err)
	}
	return out, nil
}
