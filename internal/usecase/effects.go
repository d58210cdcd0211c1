package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/psychometric-engine/internal/adapter/observability"
	"github.com/fairyhunter13/psychometric-engine/internal/domain"
)

// Effect names used in logs and metrics.
const (
	EffectArchive  = "archive"
	EffectAnalysis = "analysis"
)

const (
	defaultEffectTimeout = 10 * time.Second
	breakerMaxFailures   = 5
	breakerCooldown      = 30 * time.Second
)

// Effect is a post-commit action run after a result is stored.
type Effect struct {
	Name string
	Run  func(ctx domain.Context, r domain.Result, schema domain.InstrumentSchema) error
}

// EffectPipeline runs effects asynchronously once a result is committed.
// Failures are logged as *domain.SideEffectWarning and counted; they never
// undo the result or reach the caller. Each effect sits behind its own
// circuit breaker so a dead downstream is skipped instead of retried per result.
type EffectPipeline struct {
	effects  []Effect
	breakers map[string]*observability.CircuitBreaker
	timeout  time.Duration
	wg       sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewEffectPipeline builds a pipeline. A zero timeout uses the default.
func NewEffectPipeline(timeout time.Duration, effects ...Effect) *EffectPipeline {
	if timeout <= 0 {
		timeout = defaultEffectTimeout
	}
	breakers := make(map[string]*observability.CircuitBreaker, len(effects))
	for _, e := range effects {
		breakers[e.Name] = observability.NewCircuitBreaker(e.Name, breakerMaxFailures, breakerCooldown)
	}
	return &EffectPipeline{effects: effects, breakers: breakers, timeout: timeout}
}

// ArchiveEffect sends a flattened, category-tagged copy of the result to sink.
func ArchiveEffect(sink domain.ArchiveSink, now func() time.Time) Effect {
	if now == nil {
		now = utcNow
	}
	return Effect{Name: EffectArchive, Run: func(ctx domain.Context, r domain.Result, schema domain.InstrumentSchema) error {
		return sink.Archive(ctx, NewArchiveRecord(r, schema, now()))
	}}
}

// AnalysisEffect asks the external analysis consumer to write narrative content.
func AnalysisEffect(trigger domain.AnalysisTrigger, now func() time.Time) Effect {
	if now == nil {
		now = utcNow
	}
	return Effect{Name: EffectAnalysis, Run: func(ctx domain.Context, r domain.Result, _ domain.InstrumentSchema) error {
		return trigger.RequestAnalysis(ctx, domain.AnalysisRequest{
			ResultID:     r.ID,
			UserID:       r.UserID,
			InstrumentID: r.InstrumentID,
			RequestedAt:  now(),
		})
	}}
}

// NewArchiveRecord flattens a result for long-term storage.
func NewArchiveRecord(r domain.Result, schema domain.InstrumentSchema, at time.Time) domain.ArchiveRecord {
	return domain.ArchiveRecord{
		Category:            schema.CategoryOrDefault(),
		ResultID:            r.ID,
		SessionID:           r.SessionID,
		UserID:              r.UserID,
		InstrumentID:        r.InstrumentID,
		InstrumentName:      schema.Name,
		InstrumentVersion:   schema.Version,
		OverallScore:        r.OverallScore,
		DimensionScores:     r.DimensionScores,
		Profile:             r.ProfileOutcome,
		InterpretationLabel: r.InterpretationLabel,
		CompletedAt:         r.CompletedAt,
		ArchivedAt:          at,
	}
}

// Dispatch starts every effect for r in the background. The request context
// only contributes its values (logger, trace); its cancellation is ignored.
func (p *EffectPipeline) Dispatch(ctx domain.Context, r domain.Result, schema domain.InstrumentSchema) {
	if p == nil || len(p.effects) == 0 {
		return
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		for _, e := range p.effects {
			observability.SideEffect(e.Name, "dropped")
		}
		observability.LoggerFromContext(ctx).Warn("post-commit effects dropped; pipeline shut down",
			slog.String("result_id", r.ID))
		return
	}
	p.wg.Add(len(p.effects))
	p.mu.Unlock()

	base := context.WithoutCancel(ctx)
	for _, e := range p.effects {
		go p.run(base, e, r, schema)
	}
}

func (p *EffectPipeline) run(base domain.Context, e Effect, r domain.Result, schema domain.InstrumentSchema) {
	defer p.wg.Done()
	ctx, cancel := context.WithTimeout(base, p.timeout)
	defer cancel()
	ctx, span := otel.Tracer("usecase.effects").Start(ctx, "Effect."+e.Name)
	defer span.End()
	span.SetAttributes(attribute.String("result.id", r.ID))
	lg := observability.LoggerFromContext(ctx)

	err := p.breakers[e.Name].Call(func() (err error) {
		defer func() {
			if rec := recover(); rec != nil {
				err = fmt.Errorf("panic: %v", rec)
			}
		}()
		return e.Run(ctx, r, schema)
	})
	if errors.Is(err, observability.ErrBreakerOpen) {
		observability.SideEffect(e.Name, "skipped")
		lg.Warn("post-commit effect skipped", slog.String("effect", e.Name), slog.String("result_id", r.ID))
		return
	}
	if err != nil {
		w := &domain.SideEffectWarning{Effect: e.Name, ResultID: r.ID, Err: err}
		span.RecordError(w)
		observability.SideEffect(e.Name, "failed")
		lg.Warn("post-commit effect failed",
			slog.String("effect", e.Name),
			slog.String("result_id", r.ID),
			slog.Any("error", w))
		return
	}
	observability.SideEffect(e.Name, "ok")
	lg.Debug("post-commit effect done", slog.String("effect", e.Name), slog.String("result_id", r.ID))
}

// Shutdown refuses further dispatches, then waits like Wait. Results stored
// after it only log that their effects were dropped.
func (p *EffectPipeline) Shutdown(ctx domain.Context) error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return p.Wait(ctx)
}

// Wait blocks until all dispatched effects finish or ctx is done. It does not
// stop new dispatches.
func (p *EffectPipeline) Wait(ctx domain.Context) error {
	if p == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
