package usecase_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/psychometric-engine/internal/adapter/archive"
	"github.com/fairyhunter13/psychometric-engine/internal/adapter/observability"
	"github.com/fairyhunter13/psychometric-engine/internal/domain"
	"github.com/fairyhunter13/psychometric-engine/internal/domain/mocks"
	"github.com/fairyhunter13/psychometric-engine/internal/usecase"
)

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func loggedContext(buf *lockedBuffer) context.Context {
	lg := slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return observability.ContextWithLogger(context.Background(), lg)
}

func waitEffects(t *testing.T, p *usecase.EffectPipeline) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, p.Wait(ctx))
}

func TestEffectPipeline_ArchivesAndRequestsAnalysis(t *testing.T) {
	sink := archive.NewMemorySink()
	trigger := mocks.NewAnalysisTrigger(t)
	trigger.EXPECT().RequestAnalysis(mock.Anything, mock.MatchedBy(func(r domain.AnalysisRequest) bool {
		return r.UserID == "u1" && r.InstrumentID == "types" && r.ResultID != ""
	})).Return(nil).Once()

	fixed := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	pipeline := usecase.NewEffectPipeline(time.Second,
		usecase.ArchiveEffect(sink, func() time.Time { return fixed }),
		usecase.AnalysisEffect(trigger, nil))
	e := newEnv(t, pipeline)

	res := e.complete(t, "u1", entjAnswers)
	waitEffects(t, pipeline)

	rec, ok := sink.Load("personality/types/" + res.ID + ".json")
	require.True(t, ok, "keys: %v", sink.Keys())
	assert.Equal(t, "ENTJ", rec.Profile.Primary)
	assert.Equal(t, "Types", rec.InstrumentName)
	assert.Equal(t, fixed, rec.ArchivedAt)
}

func TestEffectPipeline_FailureIsLoggedNotReturned(t *testing.T) {
	sink := mocks.NewArchiveSink(t)
	sink.EXPECT().Archive(mock.Anything, mock.Anything).Return(errors.New("bucket gone")).Once()
	pipeline := usecase.NewEffectPipeline(time.Second, usecase.ArchiveEffect(sink, nil))
	e := newEnv(t, pipeline)

	var logs lockedBuffer
	ctx := loggedContext(&logs)
	sess, err := e.sessions.Create(ctx, "u1", "types")
	require.NoError(t, err)
	for item, v := range entjAnswers {
		_, err := e.sessions.RecordAnswer(ctx, "u1", sess.ID, item, v)
		require.NoError(t, err)
	}
	res, err := e.completion.Complete(ctx, "u1", sess.ID)
	require.NoError(t, err)
	waitEffects(t, pipeline)

	assert.Contains(t, logs.String(), "post-commit effect failed")
	assert.Contains(t, logs.String(), "bucket gone")
	stored, err := e.results.Get(ctx, "u1", res.ID, false)
	require.NoError(t, err)
	assert.Equal(t, res.ID, stored.Result.ID)
}

func TestEffectPipeline_BreakerSkipsDeadDownstream(t *testing.T) {
	trigger := mocks.NewAnalysisTrigger(t)
	trigger.EXPECT().RequestAnalysis(mock.Anything, mock.Anything).Return(errors.New("broker down")).Times(5)
	pipeline := usecase.NewEffectPipeline(time.Second, usecase.AnalysisEffect(trigger, nil))

	var logs lockedBuffer
	ctx := loggedContext(&logs)
	r := domain.Result{ID: "r1", UserID: "u1", InstrumentID: "types"}
	for i := 0; i < 7; i++ {
		pipeline.Dispatch(ctx, r, typeSchema())
		waitEffects(t, pipeline)
	}
	assert.Contains(t, logs.String(), "post-commit effect skipped")
}

func TestEffectPipeline_RecoversPanics(t *testing.T) {
	pipeline := usecase.NewEffectPipeline(time.Second, usecase.Effect{Name: "boom", Run: func(domain.Context, domain.Result, domain.InstrumentSchema) error {
		panic("nil map")
	}})
	var logs lockedBuffer
	pipeline.Dispatch(loggedContext(&logs), domain.Result{ID: "r1"}, typeSchema())
	waitEffects(t, pipeline)
	assert.Contains(t, logs.String(), "panic: nil map")
}

func TestEffectPipeline_IgnoresRequestCancellation(t *testing.T) {
	done := make(chan error, 1)
	pipeline := usecase.NewEffectPipeline(time.Second, usecase.Effect{Name: "ctx-check", Run: func(ctx domain.Context, _ domain.Result, _ domain.InstrumentSchema) error {
		done <- ctx.Err()
		return nil
	}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	pipeline.Dispatch(ctx, domain.Result{ID: "r1"}, typeSchema())
	waitEffects(t, pipeline)
	assert.NoError(t, <-done)
}

func TestEffectPipeline_WaitHonoursDeadline(t *testing.T) {
	release := make(chan struct{})
	pipeline := usecase.NewEffectPipeline(5*time.Second, usecase.Effect{Name: "slow", Run: func(ctx domain.Context, _ domain.Result, _ domain.InstrumentSchema) error {
		<-release
		return nil
	}})
	pipeline.Dispatch(context.Background(), domain.Result{ID: "r1"}, typeSchema())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, pipeline.Wait(ctx), context.DeadlineExceeded)
	close(release)
	waitEffects(t, pipeline)

	var nilPipeline *usecase.EffectPipeline
	nilPipeline.Dispatch(context.Background(), domain.Result{}, domain.InstrumentSchema{})
	assert.NoError(t, nilPipeline.Wait(context.Background()))
	assert.NoError(t, nilPipeline.Shutdown(context.Background()))
}

func TestEffectPipeline_ShutdownDropsLateDispatches(t *testing.T) {
	var runs sync.WaitGroup
	ran := make(chan string, 4)
	pipeline := usecase.NewEffectPipeline(time.Second, usecase.Effect{Name: "record", Run: func(_ domain.Context, r domain.Result, _ domain.InstrumentSchema) error {
		defer runs.Done()
		ran <- r.ID
		return nil
	}})

	runs.Add(1)
	pipeline.Dispatch(context.Background(), domain.Result{ID: "before"}, typeSchema())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, pipeline.Shutdown(ctx))
	runs.Wait()

	var logs lockedBuffer
	pipeline.Dispatch(loggedContext(&logs), domain.Result{ID: "after"}, typeSchema())
	require.NoError(t, pipeline.Wait(ctx))

	close(ran)
	var got []string
	for id := range ran {
		got = append(got, id)
	}
	assert.Equal(t, []string{"before"}, got)
	assert.Contains(t, logs.String(), "post-commit effects dropped; pipeline shut down")
	assert.Contains(t, logs.String(), `"result_id":"after"`)
}
