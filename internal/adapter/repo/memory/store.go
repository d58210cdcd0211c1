// Package memory implements the session, answer and result repositories in
// process memory. It backs STORE_DRIVER=memory and the usecase tests, and
// enforces the same uniqueness rules as the PostgreSQL schema.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fairyhunter13/psychometric-engine/internal/domain"
)

// Store holds all three aggregates behind one lock so multi-aggregate
// operations (complete, delete) are atomic.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]domain.Session
	answers  map[string]map[string]domain.Answer
	results  map[string]domain.Result
	bySess   map[string]string
	now      func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{
		sessions: make(map[string]domain.Session),
		answers:  make(map[string]map[string]domain.Answer),
		results:  make(map[string]domain.Result),
		bySess:   make(map[string]string),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the clock stamping UpdatedAt on progress, transitions
// and interpretation updates.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Sessions returns the session repository view of the store.
func (s *Store) Sessions() *SessionRepo { return &SessionRepo{s} }

// Answers returns the answer repository view of the store.
func (s *Store) Answers() *AnswerRepo { return &AnswerRepo{s} }

// Results returns the result repository view of the store.
func (s *Store) Results() *ResultRepo { return &ResultRepo{s} }

// SessionRepo implements domain.SessionRepository.
type SessionRepo struct{ s *Store }

func (r *SessionRepo) Create(_ context.Context, sess domain.Session) (domain.Session, error) {
	st := r.s
	st.mu.Lock()
	defer st.mu.Unlock()
	for id, other := range st.sessions {
		if other.UserID != sess.UserID || other.InstrumentID != sess.InstrumentID || !other.State.IsActive() {
			continue
		}
		if other.ExpiresAt.Before(sess.CreatedAt) {
			other.State = domain.SessionExpired
			other.UpdatedAt = sess.CreatedAt
			st.sessions[id] = other
			continue
		}
		return domain.Session{}, &domain.ConflictError{Resource: "session", ExistingID: id, Reason: "active session exists for instrument"}
	}
	if sess.ID == "" {
		sess.ID = uuid.New().String()
	}
	if _, dup := st.sessions[sess.ID]; dup {
		return domain.Session{}, &domain.ConflictError{Resource: "session", ExistingID: sess.ID, Reason: "id already used"}
	}
	st.sessions[sess.ID] = sess
	return sess, nil
}

func (r *SessionRepo) Get(_ context.Context, id string) (domain.Session, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	sess, ok := r.s.sessions[id]
	if !ok {
		return domain.Session{}, fmt.Errorf("op=session.get: %w", domain.ErrNotFound)
	}
	return sess, nil
}

func (r *SessionRepo) List(_ context.Context, userID string, f domain.SessionFilter) ([]domain.Session, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []domain.Session
	for _, sess := range r.s.sessions {
		if sess.UserID != userID {
			continue
		}
		if f.InstrumentID != "" && sess.InstrumentID != f.InstrumentID {
			continue
		}
		if f.State != "" && sess.State != f.State {
			continue
		}
		out = append(out, sess)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (r *SessionRepo) UpdateProgress(_ context.Context, id string, p domain.Progress) (domain.Session, error) {
	st := r.s
	st.mu.Lock()
	defer st.mu.Unlock()
	sess, err := st.activeLocked(id, "op=session.update_progress")
	if err != nil {
		return domain.Session{}, err
	}
	sess.CurrentQuestionIndex = p.CurrentQuestionIndex
	sess.TimeSpentSeconds = p.TimeSpentSeconds
	if sess.State == domain.SessionStarted {
		sess.State = domain.SessionInProgress
	}
	sess.UpdatedAt = st.now()
	st.sessions[id] = sess
	return sess, nil
}

func (r *SessionRepo) Transition(_ context.Context, id string, to domain.SessionState) (domain.Session, error) {
	if to != domain.SessionAbandoned && to != domain.SessionExpired {
		return domain.Session{}, fmt.Errorf("op=session.transition: %w: cannot transition to %s", domain.ErrInvalidArgument, to)
	}
	st := r.s
	st.mu.Lock()
	defer st.mu.Unlock()
	sess, err := st.activeLocked(id, "op=session.transition")
	if err != nil {
		return domain.Session{}, err
	}
	sess.State = to
	sess.UpdatedAt = st.now()
	st.sessions[id] = sess
	return sess, nil
}

func (r *SessionRepo) Delete(_ context.Context, id string) error {
	st := r.s
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.sessions[id]; !ok {
		return fmt.Errorf("op=session.delete: %w", domain.ErrNotFound)
	}
	if rid, ok := st.bySess[id]; ok {
		return &domain.ConflictError{Resource: "session", ExistingID: rid, Reason: "has a result and cannot be deleted"}
	}
	delete(st.sessions, id)
	delete(st.answers, id)
	return nil
}

func (r *SessionRepo) ExpireOverdue(_ context.Context, now time.Time) (int64, error) {
	st := r.s
	st.mu.Lock()
	defer st.mu.Unlock()
	var n int64
	for id, sess := range st.sessions {
		if sess.IsOverdue(now) {
			sess.State = domain.SessionExpired
			sess.UpdatedAt = now
			st.sessions[id] = sess
			n++
		}
	}
	return n, nil
}

func (r *SessionRepo) PurgeInactive(_ context.Context, cutoff time.Time) (int64, error) {
	st := r.s
	st.mu.Lock()
	defer st.mu.Unlock()
	var n int64
	for id, sess := range st.sessions {
		if sess.State != domain.SessionAbandoned && sess.State != domain.SessionExpired {
			continue
		}
		if _, hasResult := st.bySess[id]; hasResult || !sess.UpdatedAt.Before(cutoff) {
			continue
		}
		delete(st.sessions, id)
		delete(st.answers, id)
		n++
	}
	return n, nil
}

func (st *Store) activeLocked(id, op string) (domain.Session, error) {
	sess, ok := st.sessions[id]
	if !ok {
		return domain.Session{}, fmt.Errorf("%s: %w", op, domain.ErrNotFound)
	}
	if !sess.State.IsActive() {
		return domain.Session{}, fmt.Errorf("%s: %w: session %s not active", op, domain.ErrNotFound, id)
	}
	return sess, nil
}

// AnswerRepo implements domain.AnswerRepository.
type AnswerRepo struct{ s *Store }

func (r *AnswerRepo) Record(_ context.Context, a domain.Answer) (domain.Answer, error) {
	st := r.s
	st.mu.Lock()
	defer st.mu.Unlock()
	sess, err := st.activeLocked(a.SessionID, "op=answer.record")
	if err != nil {
		return domain.Answer{}, err
	}
	if sess.State == domain.SessionStarted {
		sess.State = domain.SessionInProgress
	}
	sess.UpdatedAt = a.RecordedAt
	st.sessions[sess.ID] = sess
	if st.answers[a.SessionID] == nil {
		st.answers[a.SessionID] = make(map[string]domain.Answer)
	}
	st.answers[a.SessionID][a.ItemID] = a
	return a, nil
}

func (r *AnswerRepo) ListBySession(_ context.Context, sessionID string) ([]domain.Answer, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]domain.Answer, 0, len(r.s.answers[sessionID]))
	for _, a := range r.s.answers[sessionID] {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemID < out[j].ItemID })
	return out, nil
}

// ResultRepo implements domain.ResultRepository.
type ResultRepo struct{ s *Store }

func (r *ResultRepo) CreateForSession(_ context.Context, res domain.Result) (domain.Result, error) {
	st := r.s
	st.mu.Lock()
	defer st.mu.Unlock()
	sess, ok := st.sessions[res.SessionID]
	if !ok {
		return domain.Result{}, fmt.Errorf("op=result.create: %w: session %s", domain.ErrNotFound, res.SessionID)
	}
	if rid, done := st.bySess[res.SessionID]; done {
		return domain.Result{}, &domain.ConflictError{Resource: "result", ExistingID: rid, Reason: "already exists for session"}
	}
	if !sess.State.IsActive() {
		return domain.Result{}, fmt.Errorf("op=result.create: %w: session %s is %s", domain.ErrNotFound, sess.ID, sess.State)
	}
	if res.ID == "" {
		res.ID = uuid.New().String()
	}
	res = cloneResult(res)
	st.results[res.ID] = res
	st.bySess[res.SessionID] = res.ID
	completed := res.CompletedAt
	sess.State = domain.SessionCompleted
	sess.CompletedAt = &completed
	sess.UpdatedAt = completed
	st.sessions[sess.ID] = sess
	return cloneResult(res), nil
}

func (r *ResultRepo) Get(_ context.Context, id string) (domain.Result, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	res, ok := r.s.results[id]
	if !ok {
		return domain.Result{}, fmt.Errorf("op=result.get: %w", domain.ErrNotFound)
	}
	return cloneResult(res), nil
}

func (r *ResultRepo) GetBySession(_ context.Context, sessionID string) (domain.Result, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	rid, ok := r.s.bySess[sessionID]
	if !ok {
		return domain.Result{}, fmt.Errorf("op=result.get_by_session: %w", domain.ErrNotFound)
	}
	return cloneResult(r.s.results[rid]), nil
}

func (r *ResultRepo) List(_ context.Context, userID string, f domain.ResultFilter) ([]domain.Result, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []domain.Result
	for _, res := range r.s.results {
		if res.UserID != userID {
			continue
		}
		if f.InstrumentID != "" && res.InstrumentID != f.InstrumentID {
			continue
		}
		if f.From != nil && res.CompletedAt.Before(*f.From) {
			continue
		}
		if f.To != nil && res.CompletedAt.After(*f.To) {
			continue
		}
		out = append(out, cloneResult(res))
	}
	sort.SliceStable(out, func(i, j int) bool { return resultLess(out[i], out[j], f) })
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// resultLess orders like the SQL query: nulls last in either direction, id as tiebreak.
func resultLess(a, b domain.Result, f domain.ResultFilter) bool {
	if f.SortBy == "overall_score" {
		switch {
		case a.OverallScore == nil && b.OverallScore == nil:
			return a.ID < b.ID
		case a.OverallScore == nil:
			return false
		case b.OverallScore == nil:
			return true
		case *a.OverallScore != *b.OverallScore:
			if f.Desc {
				return *a.OverallScore > *b.OverallScore
			}
			return *a.OverallScore < *b.OverallScore
		}
		return a.ID < b.ID
	}
	if !a.CompletedAt.Equal(b.CompletedAt) {
		if f.Desc {
			return a.CompletedAt.After(b.CompletedAt)
		}
		return a.CompletedAt.Before(b.CompletedAt)
	}
	return a.ID < b.ID
}

func (r *ResultRepo) UpdateInterpretation(_ context.Context, id string, u domain.InterpretationUpdate) (domain.Result, error) {
	st := r.s
	st.mu.Lock()
	defer st.mu.Unlock()
	res, ok := st.results[id]
	if !ok {
		return domain.Result{}, fmt.Errorf("op=result.update_interpretation: %w", domain.ErrNotFound)
	}
	if u.Interpretation != nil {
		res.Interpretation = *u.Interpretation
	}
	if u.Recommendations != nil {
		res.Recommendations = *u.Recommendations
	}
	res.UpdatedAt = st.now()
	st.results[id] = res
	return cloneResult(res), nil
}

func (r *ResultRepo) ReplaceScores(_ context.Context, in domain.Result) (domain.Result, error) {
	st := r.s
	st.mu.Lock()
	defer st.mu.Unlock()
	res, ok := st.results[in.ID]
	if !ok {
		return domain.Result{}, fmt.Errorf("op=result.replace_scores: %w", domain.ErrNotFound)
	}
	res.OverallScore = in.OverallScore
	res.DimensionScores = in.DimensionScores
	res.ProfileOutcome = in.ProfileOutcome
	res.InterpretationLabel = in.InterpretationLabel
	res.Metadata = in.Metadata
	res.UpdatedAt = in.UpdatedAt
	res = cloneResult(res)
	st.results[in.ID] = res
	return cloneResult(res), nil
}

func (r *ResultRepo) Cohort(_ context.Context, instrumentID, excludeResultID string) ([]domain.CohortMember, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []domain.CohortMember
	for id, res := range r.s.results {
		if res.InstrumentID != instrumentID || id == excludeResultID {
			continue
		}
		c := cloneResult(res)
		out = append(out, domain.CohortMember{ResultID: id, OverallScore: c.OverallScore, DimensionScores: c.DimensionScores})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ResultID < out[j].ResultID })
	return out, nil
}

// cloneResult deep-copies the maps and pointers a caller could mutate.
func cloneResult(in domain.Result) domain.Result {
	out := in
	if in.OverallScore != nil {
		v := *in.OverallScore
		out.OverallScore = &v
	}
	if in.DimensionScores != nil {
		out.DimensionScores = make(map[string]float64, len(in.DimensionScores))
		for k, v := range in.DimensionScores {
			out.DimensionScores[k] = v
		}
	}
	if in.Metadata != nil {
		out.Metadata = make(map[string]any, len(in.Metadata))
		for k, v := range in.Metadata {
			out.Metadata[k] = v
		}
	}
	p := in.ProfileOutcome
	p.Ranked = append([]string(nil), p.Ranked...)
	p.Dominant = append([]string(nil), p.Dominant...)
	p.Weak = append([]string(nil), p.Weak...)
	if p.RawScores != nil {
		raw := make(map[string]float64, len(p.RawScores))
		for k, v := range p.RawScores {
			raw[k] = v
		}
		p.RawScores = raw
	}
	out.ProfileOutcome = p
	return out
}
