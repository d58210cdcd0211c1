package domain

import (
	"context"
	"time"
)

//go:generate mockery --name=ArchiveSink --with-expecter --filename=archive_sink_mock.go
//go:generate mockery --name=AnalysisTrigger --with-expecter --filename=analysis_trigger_mock.go

// Answer is a recorded response to one item. Owned by its session;
// overwritten by item id while the session is active, immutable afterwards.
type Answer struct {
	SessionID  string
	ItemID     string
	RawValue   int
	RecordedAt time.Time
}

// ProfileOutcome is the categorical result of a profile rule. Stored verbatim
// in the result and never recomputed except by explicit regeneration.
type ProfileOutcome struct {
	Strategy       ProfileRule        `json:"strategy"`
	Primary        string             `json:"primary,omitempty"`
	PrimaryScore   *float64           `json:"primary_score,omitempty"`
	PrimaryPercent *float64           `json:"primary_percent,omitempty"`
	Ranked         []string           `json:"ranked,omitempty"`
	Dominant       []string           `json:"dominant,omitempty"`
	Weak           []string           `json:"weak,omitempty"`
	RawScores      map[string]float64 `json:"raw_scores"`
}

// Result is the scored outcome of exactly one completed session.
type Result struct {
	ID                  string
	SessionID           string
	UserID              string
	InstrumentID        string
	OverallScore        *float64
	DimensionScores     map[string]float64
	ProfileOutcome      ProfileOutcome
	InterpretationLabel string
	Interpretation      string
	Recommendations     string
	Metadata            map[string]any
	CompletedAt         time.Time
	UpdatedAt           time.Time
}

// ResultFilter narrows result listings. Sorting and paging are pass-through to the store.
type ResultFilter struct {
	InstrumentID string
	From         *time.Time
	To           *time.Time
	SortBy       string // completed_at | overall_score
	Desc         bool
	Offset       int
	Limit        int
}

// InterpretationUpdate is the only permitted mutation of a stored result.
type InterpretationUpdate struct {
	Interpretation  *string
	Recommendations *string
}

// CohortMember is one prior result of an instrument used for normative comparison.
type CohortMember struct {
	ResultID        string
	OverallScore    *float64
	DimensionScores map[string]float64
}

// ArchiveRecord is the flattened, category-tagged copy of a result sent to long-term storage.
type ArchiveRecord struct {
	Category            string             `json:"category"`
	ResultID            string             `json:"result_id"`
	SessionID           string             `json:"session_id"`
	UserID              string             `json:"user_id"`
	InstrumentID        string             `json:"instrument_id"`
	InstrumentName      string             `json:"instrument_name"`
	InstrumentVersion   string             `json:"instrument_version"`
	OverallScore        *float64           `json:"overall_score,omitempty"`
	DimensionScores     map[string]float64 `json:"dimension_scores"`
	Profile             ProfileOutcome     `json:"profile"`
	InterpretationLabel string             `json:"interpretation_label,omitempty"`
	CompletedAt         time.Time          `json:"completed_at"`
	ArchivedAt          time.Time          `json:"archived_at"`
}

// AnalysisRequest asks the external analysis consumer to produce narrative content for a result.
type AnalysisRequest struct {
	ResultID     string    `json:"result_id"`
	UserID       string    `json:"user_id"`
	InstrumentID string    `json:"instrument_id"`
	RequestedAt  time.Time `json:"requested_at"`
}

// Repositories (ports)

type SessionRepository interface {
	// Create inserts a started session; returns *ConflictError with the existing
	// active session id when (user, instrument) already has one.
	Create(ctx Context, s Session) (Session, error)
	Get(ctx Context, id string) (Session, error)
	List(ctx Context, userID string, f SessionFilter) ([]Session, error)
	// UpdateProgress applies progress to an active session, moving started to in_progress.
	UpdateProgress(ctx Context, id string, p Progress) (Session, error)
	// Transition moves an active session to a terminal state other than completed.
	Transition(ctx Context, id string, to SessionState) (Session, error)
	// Delete removes a session that has no linked result.
	Delete(ctx Context, id string) error
	// ExpireOverdue marks every active session with expires_at before now as expired.
	ExpireOverdue(ctx Context, now time.Time) (int64, error)
	// PurgeInactive removes abandoned/expired sessions without results created before cutoff.
	PurgeInactive(ctx Context, cutoff time.Time) (int64, error)
}

type AnswerRepository interface {
	// Record upserts an answer while its session is active.
	Record(ctx Context, a Answer) (Answer, error)
	ListBySession(ctx Context, sessionID string) ([]Answer, error)
}

type ResultRepository interface {
	// CreateForSession atomically inserts the result and completes its session.
	// A second call for the same session returns *ConflictError carrying the stored result id.
	CreateForSession(ctx Context, r Result) (Result, error)
	Get(ctx Context, id string) (Result, error)
	GetBySession(ctx Context, sessionID string) (Result, error)
	List(ctx Context, userID string, f ResultFilter) ([]Result, error)
	UpdateInterpretation(ctx Context, id string, u InterpretationUpdate) (Result, error)
	// ReplaceScores overwrites the computed fields of a result during regeneration.
	ReplaceScores(ctx Context, r Result) (Result, error)
	// Cohort returns all results of an instrument except excludeResultID.
	Cohort(ctx Context, instrumentID, excludeResultID string) ([]CohortMember, error)
}

// InstrumentCatalog (port)

type InstrumentCatalog interface {
	Get(id string) (InstrumentSchema, error)
	List() []InstrumentSchema
}

// Downstream collaborators (ports)

type ArchiveSink interface {
	Archive(ctx Context, rec ArchiveRecord) error
}

type AnalysisTrigger interface {
	RequestAnalysis(ctx Context, req AnalysisRequest) error
}

// Context is an alias to allow decoupling from std context in domain.
type Context = context.Context
