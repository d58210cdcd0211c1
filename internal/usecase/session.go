// Package usecase contains application business logic services.
package usecase

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/psychometric-engine/internal/adapter/observability"
	"github.com/fairyhunter13/psychometric-engine/internal/domain"
	"github.com/fairyhunter13/psychometric-engine/internal/scoring"
)

// SessionService governs one respondent's attempt at one instrument:
// creation, answers, progress, abandonment, lazy expiry and deletion.
type SessionService struct {
	Sessions domain.SessionRepository
	Answers  domain.AnswerRepository
	Catalog  domain.InstrumentCatalog
	Now      func() time.Time
}

// NewSessionService constructs a SessionService with its dependencies.
func NewSessionService(s domain.SessionRepository, a domain.AnswerRepository, c domain.InstrumentCatalog) SessionService {
	return SessionService{Sessions: s, Answers: a, Catalog: c, Now: utcNow}
}

func utcNow() time.Time { return time.Now().UTC() }

func (s SessionService) now() time.Time {
	if s.Now == nil {
		return utcNow()
	}
	return s.Now()
}

// Create starts a session. A second active session for the same user and
// instrument is refused with a *domain.ConflictError naming the first one.
func (s SessionService) Create(ctx domain.Context, userID, instrumentID string) (domain.Session, error) {
	ctx, span := otel.Tracer("usecase.sessions").Start(ctx, "SessionService.Create")
	defer span.End()
	span.SetAttributes(attribute.String("instrument.id", instrumentID))

	if err := requireID("user_id", userID); err != nil {
		return domain.Session{}, err
	}
	if err := requireID("instrument_id", instrumentID); err != nil {
		return domain.Session{}, err
	}
	schema, err := s.Catalog.Get(instrumentID)
	if err != nil {
		return domain.Session{}, err
	}
	sess, err := s.Sessions.Create(ctx, domain.NewSession(userID, schema, s.now()))
	if err != nil {
		if conflictOf(err) != nil {
			observability.SessionConflict(instrumentID)
		}
		return domain.Session{}, err
	}
	observability.SessionCreated(instrumentID)
	observability.LoggerFromContext(ctx).Info("session created",
		slog.String("session_id", sess.ID),
		slog.String("instrument_id", instrumentID),
		slog.Time("expires_at", sess.ExpiresAt))
	return sess, nil
}

// Get returns a session owned by userID, evaluating expiry lazily.
func (s SessionService) Get(ctx domain.Context, userID, sessionID string) (domain.Session, error) {
	sess, err := s.owned(ctx, userID, sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	return s.expireIfOverdue(ctx, sess), nil
}

// List returns the user's sessions with expiry applied to each state.
func (s SessionService) List(ctx domain.Context, userID string, f domain.SessionFilter) ([]domain.Session, error) {
	if err := requireID("user_id", userID); err != nil {
		return nil, err
	}
	if f.State != "" && !f.State.Valid() {
		return nil, fmt.Errorf("%w: unknown state %q", domain.ErrInvalidArgument, f.State)
	}
	// stored state lags behind lazy expiry; widen the query and filter below
	q := f
	if f.State == domain.SessionExpired || f.State.IsActive() {
		q.State = ""
	}
	rows, err := s.Sessions.List(ctx, userID, q)
	if err != nil {
		return nil, err
	}
	now := s.now()
	out := make([]domain.Session, 0, len(rows))
	for _, sess := range rows {
		sess.State = sess.EffectiveState(now)
		if f.State != "" && sess.State != f.State {
			continue
		}
		out = append(out, sess)
	}
	return out, nil
}

// RecordAnswer stores (or overwrites) the answer to one item of an active session.
func (s SessionService) RecordAnswer(ctx domain.Context, userID, sessionID, itemID string, value int) (domain.Answer, error) {
	ctx, span := otel.Tracer("usecase.sessions").Start(ctx, "SessionService.RecordAnswer")
	defer span.End()

	if err := requireID("item_id", itemID); err != nil {
		return domain.Answer{}, err
	}
	sess, err := s.active(ctx, userID, sessionID)
	if err != nil {
		return domain.Answer{}, err
	}
	schema, err := s.Catalog.Get(sess.InstrumentID)
	if err != nil {
		return domain.Answer{}, err
	}
	if _, ok := schema.ItemByID(itemID); !ok {
		return domain.Answer{}, &domain.UnknownItemError{InstrumentID: schema.ID, ItemID: itemID}
	}
	if err := scoring.CheckValue(schema, value); err != nil {
		return domain.Answer{}, err
	}
	return s.Answers.Record(ctx, domain.Answer{SessionID: sess.ID, ItemID: itemID, RawValue: value, RecordedAt: s.now()})
}

// UpdateProgress advances the client-reported position of an active session.
func (s SessionService) UpdateProgress(ctx domain.Context, userID, sessionID string, p domain.Progress) (domain.Session, error) {
	if p.CurrentQuestionIndex < 0 || p.TimeSpentSeconds < 0 {
		return domain.Session{}, fmt.Errorf("%w: progress values must be non-negative", domain.ErrInvalidArgument)
	}
	sess, err := s.active(ctx, userID, sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	if p.CurrentQuestionIndex > sess.TotalQuestions {
		return domain.Session{}, fmt.Errorf("%w: question index %d beyond %d questions", domain.ErrInvalidArgument, p.CurrentQuestionIndex, sess.TotalQuestions)
	}
	updated, err := s.Sessions.UpdateProgress(ctx, sess.ID, p)
	if err != nil {
		return domain.Session{}, err
	}
	if sess.State == domain.SessionStarted && updated.State == domain.SessionInProgress {
		observability.SessionTransition(domain.SessionInProgress)
	}
	return updated, nil
}

// Abandon ends an active session at the respondent's request.
func (s SessionService) Abandon(ctx domain.Context, userID, sessionID string) (domain.Session, error) {
	sess, err := s.active(ctx, userID, sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	out, err := s.Sessions.Transition(ctx, sess.ID, domain.SessionAbandoned)
	if err != nil {
		return domain.Session{}, err
	}
	observability.SessionTransition(domain.SessionAbandoned)
	return out, nil
}

// Delete removes a session without a linked result. Sessions holding a
// result are refused with a conflict regardless of the caller's intent.
func (s SessionService) Delete(ctx domain.Context, userID, sessionID string) error {
	sess, err := s.owned(ctx, userID, sessionID)
	if err != nil {
		return err
	}
	if err := s.Sessions.Delete(ctx, sess.ID); err != nil {
		return err
	}
	observability.LoggerFromContext(ctx).Info("session deleted", slog.String("session_id", sess.ID))
	return nil
}

// owned loads a session and hides sessions of other users behind not found.
func (s SessionService) owned(ctx domain.Context, userID, sessionID string) (domain.Session, error) {
	if err := requireID("user_id", userID); err != nil {
		return domain.Session{}, err
	}
	if err := requireID("session_id", sessionID); err != nil {
		return domain.Session{}, err
	}
	sess, err := s.Sessions.Get(ctx, sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	if sess.UserID != userID {
		return domain.Session{}, fmt.Errorf("%w: session %s", domain.ErrNotFound, sessionID)
	}
	return sess, nil
}

// active loads an owned session that still accepts writes.
func (s SessionService) active(ctx domain.Context, userID, sessionID string) (domain.Session, error) {
	sess, err := s.owned(ctx, userID, sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	sess = s.expireIfOverdue(ctx, sess)
	if !sess.State.IsActive() {
		return domain.Session{}, fmt.Errorf("%w: session %s is %s", domain.ErrNotFound, sessionID, sess.State)
	}
	return sess, nil
}

// expireIfOverdue persists the lazy expiry of an overdue session. The
// returned session reads as expired even if the write loses a race.
func (s SessionService) expireIfOverdue(ctx domain.Context, sess domain.Session) domain.Session {
	if !sess.IsOverdue(s.now()) {
		return sess
	}
	updated, err := s.Sessions.Transition(ctx, sess.ID, domain.SessionExpired)
	if err != nil {
		observability.LoggerFromContext(ctx).Warn("lazy expiry not persisted",
			slog.String("session_id", sess.ID), slog.Any("error", err))
		sess.State = domain.SessionExpired
		return sess
	}
	observability.SessionTransition(domain.SessionExpired)
	return updated
}

func requireID(field, v string) error {
	if strings.TrimSpace(v) == "" {
		return fmt.Errorf("%w: %s required", domain.ErrInvalidArgument, field)
	}
	return nil
}
