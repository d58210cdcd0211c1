package usecase

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/psychometric-engine/internal/adapter/observability"
	"github.com/fairyhunter13/psychometric-engine/internal/domain"
	"github.com/fairyhunter13/psychometric-engine/internal/scoring"
)

// Listing limits.
const (
	DefaultResultLimit = 20
	MaxResultLimit     = 100
)

// ResultView is a result as served to its owner, optionally with its
// normative comparison, and the ETag of the rendered view.
type ResultView struct {
	Result     domain.Result
	Comparison *scoring.Comparison
	ETag       string
}

// ResultService provides owner-scoped reads of results plus the two permitted
// mutations: interpretation updates and explicit regeneration.
type ResultService struct {
	Results domain.ResultRepository
	Answers domain.AnswerRepository
	Catalog domain.InstrumentCatalog
	Now     func() time.Time
}

// NewResultService constructs a ResultService with its dependencies.
func NewResultService(r domain.ResultRepository, a domain.AnswerRepository, c domain.InstrumentCatalog) ResultService {
	return ResultService{Results: r, Answers: a, Catalog: c, Now: utcNow}
}

func (s ResultService) now() time.Time {
	if s.Now == nil {
		return utcNow()
	}
	return s.Now()
}

// Get returns a result owned by userID. With includeComparison the result is
// compared against every other result of the same instrument.
func (s ResultService) Get(ctx domain.Context, userID, resultID string, includeComparison bool) (ResultView, error) {
	ctx, span := otel.Tracer("usecase.results").Start(ctx, "ResultService.Get")
	defer span.End()
	span.SetAttributes(attribute.Bool("include_comparison", includeComparison))

	r, err := s.owned(ctx, userID, resultID)
	if err != nil {
		return ResultView{}, err
	}
	view := ResultView{Result: r}
	if includeComparison {
		schema, err := s.Catalog.Get(r.InstrumentID)
		if err != nil {
			return ResultView{}, err
		}
		cohort, err := s.Results.Cohort(ctx, r.InstrumentID, r.ID)
		if err != nil {
			return ResultView{}, err
		}
		cmp, err := scoring.Compare(schema, r, cohort)
		if err != nil {
			return ResultView{}, err
		}
		observability.ComparisonComputed(r.InstrumentID, len(cohort))
		view.Comparison = &cmp
	}
	view.ETag = makeETag(view)
	return view, nil
}

// List returns the user's results, applying paging defaults.
func (s ResultService) List(ctx domain.Context, userID string, f domain.ResultFilter) ([]domain.Result, error) {
	if err := requireID("user_id", userID); err != nil {
		return nil, err
	}
	switch f.SortBy {
	case "":
		f.SortBy = "completed_at"
		f.Desc = true
	case "completed_at", "overall_score":
	default:
		return nil, fmt.Errorf("%w: cannot sort by %q", domain.ErrInvalidArgument, f.SortBy)
	}
	if f.Offset < 0 || f.Limit < 0 {
		return nil, fmt.Errorf("%w: offset and limit must be non-negative", domain.ErrInvalidArgument)
	}
	if f.Limit == 0 {
		f.Limit = DefaultResultLimit
	}
	if f.Limit > MaxResultLimit {
		f.Limit = MaxResultLimit
	}
	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		return nil, fmt.Errorf("%w: to precedes from", domain.ErrInvalidArgument)
	}
	return s.Results.List(ctx, userID, f)
}

// UpdateInterpretation sets the narrative fields of a result. Scores and
// profile are never touched by this path.
func (s ResultService) UpdateInterpretation(ctx domain.Context, userID, resultID string, u domain.InterpretationUpdate) (domain.Result, error) {
	if u.Interpretation == nil && u.Recommendations == nil {
		return domain.Result{}, fmt.Errorf("%w: nothing to update", domain.ErrInvalidArgument)
	}
	r, err := s.owned(ctx, userID, resultID)
	if err != nil {
		return domain.Result{}, err
	}
	out, err := s.Results.UpdateInterpretation(ctx, r.ID, u)
	if err != nil {
		return domain.Result{}, err
	}
	observability.LoggerFromContext(ctx).Info("result interpretation updated", slog.String("result_id", r.ID))
	return out, nil
}

// Regenerate recomputes every derived field of a result from its stored
// answers and the instrument's current schema. Narrative fields are kept.
func (s ResultService) Regenerate(ctx domain.Context, userID, resultID string) (domain.Result, error) {
	ctx, span := otel.Tracer("usecase.results").Start(ctx, "ResultService.Regenerate")
	defer span.End()

	r, err := s.owned(ctx, userID, resultID)
	if err != nil {
		return domain.Result{}, err
	}
	schema, err := s.Catalog.Get(r.InstrumentID)
	if err != nil {
		return domain.Result{}, err
	}
	answers, err := s.Answers.ListBySession(ctx, r.SessionID)
	if err != nil {
		return domain.Result{}, err
	}
	fresh, err := Evaluate(schema, answers)
	if err != nil {
		return domain.Result{}, err
	}
	for k, v := range r.Metadata {
		if _, ok := fresh.Metadata[k]; !ok {
			fresh.Metadata[k] = v
		}
	}
	fresh.Metadata["regenerated_at"] = s.now().Format(time.RFC3339)

	r.OverallScore = fresh.OverallScore
	r.DimensionScores = fresh.DimensionScores
	r.ProfileOutcome = fresh.ProfileOutcome
	r.InterpretationLabel = fresh.InterpretationLabel
	r.Metadata = fresh.Metadata
	r.UpdatedAt = s.now()
	out, err := s.Results.ReplaceScores(ctx, r)
	if err != nil {
		return domain.Result{}, err
	}
	observability.RecordResultScores(schema.ID, schema.Version, EngineVersion, out.OverallScore, out.DimensionScores)
	observability.LoggerFromContext(ctx).Info("result regenerated",
		slog.String("result_id", r.ID),
		slog.String("instrument_version", schema.Version))
	return out, nil
}

func (s ResultService) owned(ctx domain.Context, userID, resultID string) (domain.Result, error) {
	if err := requireID("user_id", userID); err != nil {
		return domain.Result{}, err
	}
	if err := requireID("result_id", resultID); err != nil {
		return domain.Result{}, err
	}
	r, err := s.Results.Get(ctx, resultID)
	if err != nil {
		return domain.Result{}, err
	}
	if r.UserID != userID {
		return domain.Result{}, fmt.Errorf("%w: result %s", domain.ErrNotFound, resultID)
	}
	return r, nil
}

func makeETag(v any) string {
	b, _ := json.Marshal(v)
	s := sha256.Sum256(b)
	return hex.EncodeToString(s[:])
}
