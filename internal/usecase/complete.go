package usecase

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/fairyhunter13/psychometric-engine/internal/adapter/observability"
	"github.com/fairyhunter13/psychometric-engine/internal/domain"
	"github.com/fairyhunter13/psychometric-engine/internal/scoring"
)

// EngineVersion is stamped into result metadata so regenerated results can be told apart.
const EngineVersion = "1"

// CompletionService scores a finished session, commits its result together
// with the session's completion and then fires the post-commit effects.
type CompletionService struct {
	Sessions domain.SessionRepository
	Answers  domain.AnswerRepository
	Results  domain.ResultRepository
	Catalog  domain.InstrumentCatalog
	Effects  *EffectPipeline
	Now      func() time.Time
}

// NewCompletionService constructs a CompletionService with its dependencies.
func NewCompletionService(s domain.SessionRepository, a domain.AnswerRepository, r domain.ResultRepository, c domain.InstrumentCatalog, effects *EffectPipeline) CompletionService {
	return CompletionService{Sessions: s, Answers: a, Results: r, Catalog: c, Effects: effects, Now: utcNow}
}

// Complete scores the session's answers and stores its one result. Calling it
// again for a completed session yields a *domain.ConflictError carrying the
// stored result id; no second result is ever written.
func (c CompletionService) Complete(ctx domain.Context, userID, sessionID string) (domain.Result, error) {
	tracer := otel.Tracer("usecase.completion")
	ctx, span := tracer.Start(ctx, "CompletionService.Complete")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", sessionID))
	lg := observability.LoggerFromContext(ctx)

	sessions := SessionService{Sessions: c.Sessions, Answers: c.Answers, Catalog: c.Catalog, Now: c.Now}
	sess, err := sessions.owned(ctx, userID, sessionID)
	if err != nil {
		return domain.Result{}, err
	}
	if sess.State == domain.SessionCompleted {
		return domain.Result{}, c.existingResultConflict(ctx, sess.ID)
	}
	sess = sessions.expireIfOverdue(ctx, sess)
	if !sess.State.IsActive() {
		return domain.Result{}, fmt.Errorf("%w: session %s is %s", domain.ErrNotFound, sess.ID, sess.State)
	}

	schema, err := c.Catalog.Get(sess.InstrumentID)
	if err != nil {
		return domain.Result{}, err
	}
	answers, err := c.Answers.ListBySession(ctx, sess.ID)
	if err != nil {
		return domain.Result{}, err
	}
	res, err := Evaluate(schema, answers)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "evaluate")
		return domain.Result{}, err
	}
	res.SessionID = sess.ID
	res.UserID = sess.UserID
	res.InstrumentID = sess.InstrumentID
	res.CompletedAt = sessions.now()
	res.UpdatedAt = res.CompletedAt
	res.Metadata["time_spent_seconds"] = sess.TimeSpentSeconds

	stored, err := c.Results.CreateForSession(ctx, res)
	if err != nil {
		if ce := conflictOf(err); ce != nil {
			lg.Info("result already exists for session", slog.String("session_id", sess.ID), slog.String("result_id", ce.ExistingID))
		}
		return domain.Result{}, err
	}
	observability.ResultCreated(schema.ID)
	observability.RecordResultScores(schema.ID, schema.Version, EngineVersion, stored.OverallScore, stored.DimensionScores)
	observability.SessionTransition(domain.SessionCompleted)
	lg.Info("session completed",
		slog.String("session_id", sess.ID),
		slog.String("result_id", stored.ID),
		slog.String("instrument_id", schema.ID),
		slog.String("profile", stored.ProfileOutcome.Primary))

	// post-commit only; failures never reach the caller
	c.Effects.Dispatch(ctx, stored, schema)
	return stored, nil
}

func (c CompletionService) existingResultConflict(ctx domain.Context, sessionID string) error {
	existing, err := c.Results.GetBySession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return &domain.ConflictError{Resource: "session", Reason: "already completed"}
		}
		return err
	}
	return &domain.ConflictError{Resource: "result", ExistingID: existing.ID, Reason: "already exists for session"}
}

// Evaluate computes every derived field of a result from the schema and a
// complete answer set: dimension and overall scores, profile outcome, the
// overall band label and bookkeeping metadata.
func Evaluate(schema domain.InstrumentSchema, answers []domain.Answer) (domain.Result, error) {
	scores, err := scoring.Aggregate(schema, answers)
	if err != nil {
		return domain.Result{}, err
	}
	profile, err := scoring.ResolveProfile(schema, scores.Dimensions)
	if err != nil {
		return domain.Result{}, err
	}
	labels, err := scoring.Classification(schema, scores.Overall, scores.Dimensions)
	if err != nil {
		return domain.Result{}, err
	}
	meta := map[string]any{
		"engine_version":     EngineVersion,
		"instrument_version": schema.Version,
		"item_count":         len(schema.Items),
		"answered_count":     len(answers),
		"aggregation":        string(schema.Aggregation),
		"overall_mode":       string(schema.Overall),
		"dimension_items":    scores.Answered,
	}
	if len(labels.Dimensions) > 0 {
		meta["dimension_bands"] = labels.Dimensions
	}
	return domain.Result{
		OverallScore:        scores.Overall,
		DimensionScores:     scores.Dimensions,
		ProfileOutcome:      profile,
		InterpretationLabel: labels.Overall,
		Metadata:            meta,
	}, nil
}

func conflictOf(err error) *domain.ConflictError {
	var ce *domain.ConflictError
	if errors.As(err, &ce) {
		return ce
	}
	return nil
}
