package usecase_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/psychometric-engine/internal/adapter/repo/memory"
	"github.com/fairyhunter13/psychometric-engine/internal/domain"
	"github.com/fairyhunter13/psychometric-engine/internal/instrument"
	"github.com/fairyhunter13/psychometric-engine/internal/usecase"
)

func TestResultService_ComparisonPercentile(t *testing.T) {
	e := newEnv(t, nil)
	for i, v := range []int{2, 3, 4, 6, 6, 7, 7, 8, 9} {
		e.complete(t, "cohort-"+string(rune('a'+i)), uniform(v))
	}
	mine := e.complete(t, "u1", entjAnswers)

	view, err := e.results.Get(context.Background(), "u1", mine.ID, true)
	require.NoError(t, err)
	require.NotNil(t, view.Comparison)
	assert.Equal(t, 9, view.Comparison.CohortSize)
	require.NotNil(t, view.Comparison.Percentile)
	assert.Equal(t, 33, *view.Comparison.Percentile)
	assert.Equal(t, "expressive", view.Comparison.OverallBand)
	assert.NotEmpty(t, view.ETag)

	plain, err := e.results.Get(context.Background(), "u1", mine.ID, false)
	require.NoError(t, err)
	assert.Nil(t, plain.Comparison)
	assert.NotEqual(t, view.ETag, plain.ETag)

	again, err := e.results.Get(context.Background(), "u1", mine.ID, false)
	require.NoError(t, err)
	assert.Equal(t, plain.ETag, again.ETag)
}

func TestResultService_CatalogDichotomyInstrumentIsComparable(t *testing.T) {
	ctx := context.Background()
	catalog, err := instrument.LoadDefault("")
	require.NoError(t, err)
	schema, err := catalog.Get("type-indicator")
	require.NoError(t, err)
	st := memory.New()
	sessions := usecase.NewSessionService(st.Sessions(), st.Answers(), catalog)
	completion := usecase.NewCompletionService(st.Sessions(), st.Answers(), st.Results(), catalog, nil)
	results := usecase.NewResultService(st.Results(), st.Answers(), catalog)

	run := func(user string, v int) domain.Result {
		sess, err := sessions.Create(ctx, user, schema.ID)
		require.NoError(t, err)
		for _, it := range schema.Items {
			_, err := sessions.RecordAnswer(ctx, user, sess.ID, it.ID, v)
			require.NoError(t, err)
		}
		res, err := completion.Complete(ctx, user, sess.ID)
		require.NoError(t, err)
		return res
	}
	run("cohort", 2)
	mine := run("u1", 4)

	require.NotNil(t, mine.OverallScore)
	assert.Equal(t, 64.0, *mine.OverallScore)
	assert.Equal(t, "expressive", mine.InterpretationLabel)
	assert.Equal(t, "ESTJ", mine.ProfileOutcome.Primary)

	view, err := results.Get(ctx, "u1", mine.ID, true)
	require.NoError(t, err)
	require.NotNil(t, view.Comparison.Percentile)
	assert.Equal(t, 100, *view.Comparison.Percentile)
}

func TestResultService_SoleResultHasNoPercentile(t *testing.T) {
	e := newEnv(t, nil)
	mine := e.complete(t, "u1", entjAnswers)
	view, err := e.results.Get(context.Background(), "u1", mine.ID, true)
	require.NoError(t, err)
	assert.Zero(t, view.Comparison.CohortSize)
	assert.Nil(t, view.Comparison.Percentile)
}

func TestResultService_OwnerScoping(t *testing.T) {
	e := newEnv(t, nil)
	mine := e.complete(t, "u1", entjAnswers)
	_, err := e.results.Get(context.Background(), "u2", mine.ID, false)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = e.results.Regenerate(context.Background(), "u2", mine.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestResultService_List(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	low := e.complete(t, "u1", uniform(2))
	e.clock.Advance(time.Minute)
	// a new session for the same instrument is allowed once the previous one completed
	high := e.complete(t, "u1", uniform(8))

	list, err := e.results.List(ctx, "u1", domain.ResultFilter{})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, high.ID, list[0].ID)

	list, err = e.results.List(ctx, "u1", domain.ResultFilter{SortBy: "overall_score"})
	require.NoError(t, err)
	assert.Equal(t, low.ID, list[0].ID)

	list, err = e.results.List(ctx, "u1", domain.ResultFilter{Limit: 1, Offset: 1, SortBy: "completed_at", Desc: true})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, low.ID, list[0].ID)

	_, err = e.results.List(ctx, "u1", domain.ResultFilter{SortBy: "profile"})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	from, to := e.clock.t, e.clock.t.Add(-time.Hour)
	_, err = e.results.List(ctx, "u1", domain.ResultFilter{From: &from, To: &to})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestResultService_UpdateInterpretationKeepsScores(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	mine := e.complete(t, "u1", entjAnswers)

	_, err := e.results.UpdateInterpretation(ctx, "u1", mine.ID, domain.InterpretationUpdate{})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	text := "Decisive and organised."
	out, err := e.results.UpdateInterpretation(ctx, "u1", mine.ID, domain.InterpretationUpdate{Interpretation: &text})
	require.NoError(t, err)
	assert.Equal(t, text, out.Interpretation)
	assert.Equal(t, *mine.OverallScore, *out.OverallScore)
	assert.Equal(t, mine.ProfileOutcome.Primary, out.ProfileOutcome.Primary)
}

func TestResultService_RegenerateKeepsNarrative(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	mine := e.complete(t, "u1", entjAnswers)
	text := "kept"
	_, err := e.results.UpdateInterpretation(ctx, "u1", mine.ID, domain.InterpretationUpdate{Interpretation: &text})
	require.NoError(t, err)

	e.clock.Advance(time.Hour)
	out, err := e.results.Regenerate(ctx, "u1", mine.ID)
	require.NoError(t, err)
	assert.Equal(t, "kept", out.Interpretation)
	assert.Equal(t, 44.0, *out.OverallScore)
	assert.Equal(t, "ENTJ", out.ProfileOutcome.Primary)
	assert.Equal(t, e.clock.t.Format(time.RFC3339), out.Metadata["regenerated_at"])
	assert.Equal(t, usecase.EngineVersion, out.Metadata["engine_version"])
	assert.Equal(t, mine.CompletedAt, out.CompletedAt)
}
