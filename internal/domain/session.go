package domain

import "time"

// SessionState enumerates the lifecycle states of a session.
type SessionState string

const (
	SessionStarted    SessionState = "started"
	SessionInProgress SessionState = "in_progress"
	SessionCompleted  SessionState = "completed"
	SessionAbandoned  SessionState = "abandoned"
	SessionExpired    SessionState = "expired"
)

// ActiveSessionStates are the states that occupy the one-active-session slot.
var ActiveSessionStates = []SessionState{SessionStarted, SessionInProgress}

// ExpiryFactor multiplies the instrument's estimated duration to get the session lifetime.
const ExpiryFactor = 2

// Session is one respondent's attempt at one instrument.
// Invariants: at most one active session per (UserID, InstrumentID);
// terminal states (completed, abandoned, expired) never transition again.
type Session struct {
	ID                   string
	UserID               string
	InstrumentID         string
	State                SessionState
	CurrentQuestionIndex int
	TotalQuestions       int
	TimeSpentSeconds     int
	CreatedAt            time.Time
	UpdatedAt            time.Time
	ExpiresAt            time.Time
	CompletedAt          *time.Time
}

// IsActive reports whether the session is started or in progress.
func (s SessionState) IsActive() bool {
	return s == SessionStarted || s == SessionInProgress
}

// IsTerminal reports whether no transition may leave the state.
func (s SessionState) IsTerminal() bool {
	return s == SessionCompleted || s == SessionAbandoned || s == SessionExpired
}

// Valid reports whether s is a known state.
func (s SessionState) Valid() bool {
	switch s {
	case SessionStarted, SessionInProgress, SessionCompleted, SessionAbandoned, SessionExpired:
		return true
	}
	return false
}

// CanTransition reports whether the lifecycle permits moving from s to next.
func (s SessionState) CanTransition(next SessionState) bool {
	switch s {
	case SessionStarted:
		return next == SessionInProgress || next == SessionCompleted || next == SessionAbandoned || next == SessionExpired
	case SessionInProgress:
		return next == SessionCompleted || next == SessionAbandoned || next == SessionExpired
	}
	return false
}

// IsOverdue reports whether an active session has passed its expiry at now.
func (s Session) IsOverdue(now time.Time) bool {
	return s.State.IsActive() && now.After(s.ExpiresAt)
}

// EffectiveState evaluates expiry lazily: an overdue active session reads as expired.
func (s Session) EffectiveState(now time.Time) SessionState {
	if s.IsOverdue(now) {
		return SessionExpired
	}
	return s.State
}

// NewSession builds a started session for the given instrument at now.
func NewSession(userID string, schema InstrumentSchema, now time.Time) Session {
	lifetime := time.Duration(ExpiryFactor*schema.EstimatedDurationMinutes) * time.Minute
	return Session{
		UserID:         userID,
		InstrumentID:   schema.ID,
		State:          SessionStarted,
		TotalQuestions: len(schema.Items),
		CreatedAt:      now,
		UpdatedAt:      now,
		ExpiresAt:      now.Add(lifetime),
	}
}

// Progress is a client-reported position within a session.
type Progress struct {
	CurrentQuestionIndex int
	TimeSpentSeconds     int
}

// SessionFilter narrows session listings.
type SessionFilter struct {
	InstrumentID string
	State        SessionState
}
