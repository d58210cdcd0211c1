package usecase_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/psychometric-engine/internal/adapter/observability"
	"github.com/fairyhunter13/psychometric-engine/internal/domain"
	"github.com/fairyhunter13/psychometric-engine/internal/usecase"
)

func TestCompletionService_ScoresDichotomyProfile(t *testing.T) {
	e := newEnv(t, nil)
	res := e.complete(t, "u1", entjAnswers)

	require.NotNil(t, res.OverallScore)
	assert.Equal(t, 44.0, *res.OverallScore)
	assert.Equal(t, "ENTJ", res.ProfileOutcome.Primary)
	assert.Equal(t, domain.ProfileDichotomyCode, res.ProfileOutcome.Strategy)
	assert.Equal(t, "expressive", res.InterpretationLabel)
	assert.Equal(t, 8.0, res.DimensionScores["E"])
	assert.Equal(t, usecase.EngineVersion, res.Metadata["engine_version"])
	assert.Equal(t, "1", res.Metadata["instrument_version"])

	sess, err := e.sessions.Get(context.Background(), "u1", res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionCompleted, sess.State)
	require.NotNil(t, sess.CompletedAt)
}

func TestCompletionAndRegenerate_FeedScoreDrift(t *testing.T) {
	schema := typeSchema()
	schema.Version = "drift-feed"
	e := newEnvWithSchema(t, nil, schema)
	res := e.complete(t, "u1", entjAnswers)

	m := observability.ScoreDrift().Monitor("types", "drift-feed", usecase.EngineVersion)
	assert.Equal(t, []float64{44}, m.RecentScores(observability.OverallMetric))
	assert.Equal(t, []float64{8}, m.RecentScores(observability.DimensionMetric("E")))

	_, err := e.results.Regenerate(context.Background(), "u1", res.ID)
	require.NoError(t, err)
	assert.Equal(t, []float64{44, 44}, m.RecentScores(observability.OverallMetric))
	assert.Len(t, m.Metrics(), 9)
}

func TestCompletionService_RefusesIncompleteAnswers(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	sess, err := e.sessions.Create(ctx, "u1", "types")
	require.NoError(t, err)
	for _, item := range []string{"qE", "qI", "qS", "qN", "qT", "qF"} {
		_, err := e.sessions.RecordAnswer(ctx, "u1", sess.ID, item, 5)
		require.NoError(t, err)
	}

	_, err = e.completion.Complete(ctx, "u1", sess.ID)
	var ie *domain.IncompleteAnswersError
	require.ErrorAs(t, err, &ie)
	assert.ElementsMatch(t, []string{"qJ", "qP"}, ie.Missing)

	got, err := e.sessions.Get(ctx, "u1", sess.ID)
	require.NoError(t, err)
	assert.True(t, got.State.IsActive())
}

func TestCompletionService_SecondCompleteReturnsExistingResult(t *testing.T) {
	e := newEnv(t, nil)
	res := e.complete(t, "u1", entjAnswers)

	_, err := e.completion.Complete(context.Background(), "u1", res.SessionID)
	var ce *domain.ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, res.ID, ce.ExistingID)

	list, err := e.results.List(context.Background(), "u1", domain.ResultFilter{})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestCompletionService_OtherUserCannotComplete(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	sess, err := e.sessions.Create(ctx, "u1", "types")
	require.NoError(t, err)
	_, err = e.completion.Complete(ctx, "u2", sess.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestEvaluate_ReverseScoredItems(t *testing.T) {
	schema := typeSchema()
	schema.Items[1].ReverseScored = true // qI
	answers := make([]domain.Answer, 0, len(entjAnswers))
	for item, v := range entjAnswers {
		answers = append(answers, domain.Answer{ItemID: item, RawValue: v})
	}
	res, err := usecase.Evaluate(schema, answers)
	require.NoError(t, err)
	// 1+9-4 = 6
	assert.Equal(t, 6.0, res.DimensionScores["I"])
	assert.Equal(t, 46.0, *res.OverallScore)
	assert.Equal(t, "ENTJ", res.ProfileOutcome.Primary)
}
