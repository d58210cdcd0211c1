package httpserver

import (
	"time"

	"github.com/fairyhunter13/psychometric-engine/internal/domain"
	"github.com/fairyhunter13/psychometric-engine/internal/scoring"
	"github.com/fairyhunter13/psychometric-engine/internal/usecase"
)

type sessionView struct {
	ID                   string     `json:"id"`
	InstrumentID         string     `json:"instrument_id"`
	State                string     `json:"state"`
	CurrentQuestionIndex int        `json:"current_question_index"`
	TotalQuestions       int        `json:"total_questions"`
	TimeSpentSeconds     int        `json:"time_spent_seconds"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
	ExpiresAt            time.Time  `json:"expires_at"`
	CompletedAt          *time.Time `json:"completed_at,omitempty"`
}

func newSessionView(s domain.Session) sessionView {
	return sessionView{
		ID:                   s.ID,
		InstrumentID:         s.InstrumentID,
		State:                string(s.State),
		CurrentQuestionIndex: s.CurrentQuestionIndex,
		TotalQuestions:       s.TotalQuestions,
		TimeSpentSeconds:     s.TimeSpentSeconds,
		CreatedAt:            s.CreatedAt,
		UpdatedAt:            s.UpdatedAt,
		ExpiresAt:            s.ExpiresAt,
		CompletedAt:          s.CompletedAt,
	}
}

type answerView struct {
	SessionID  string    `json:"session_id"`
	ItemID     string    `json:"item_id"`
	Value      int       `json:"value"`
	RecordedAt time.Time `json:"recorded_at"`
}

type resultView struct {
	ID                  string                `json:"id"`
	SessionID           string                `json:"session_id"`
	InstrumentID        string                `json:"instrument_id"`
	OverallScore        *float64              `json:"overall_score"`
	DimensionScores     map[string]float64    `json:"dimension_scores"`
	Profile             domain.ProfileOutcome `json:"profile"`
	InterpretationLabel string                `json:"interpretation_label,omitempty"`
	Interpretation      string                `json:"interpretation,omitempty"`
	Recommendations     string                `json:"recommendations,omitempty"`
	Metadata            map[string]any        `json:"metadata,omitempty"`
	CompletedAt         time.Time             `json:"completed_at"`
	UpdatedAt           time.Time             `json:"updated_at"`
	Comparison          *scoring.Comparison   `json:"comparison,omitempty"`
}

func newResultView(r domain.Result) resultView {
	return resultView{
		ID:                  r.ID,
		SessionID:           r.SessionID,
		InstrumentID:        r.InstrumentID,
		OverallScore:        r.OverallScore,
		DimensionScores:     r.DimensionScores,
		Profile:             r.ProfileOutcome,
		InterpretationLabel: r.InterpretationLabel,
		Interpretation:      r.Interpretation,
		Recommendations:     r.Recommendations,
		Metadata:            r.Metadata,
		CompletedAt:         r.CompletedAt,
		UpdatedAt:           r.UpdatedAt,
	}
}

func newResultViewWithComparison(v usecase.ResultView) resultView {
	out := newResultView(v.Result)
	out.Comparison = v.Comparison
	return out
}

// instrumentView is the public description of an instrument; item wiring and
// band thresholds stay server-side.
type instrumentView struct {
	ID                       string       `json:"id"`
	Name                     string       `json:"name"`
	Version                  string       `json:"version"`
	Category                 string       `json:"category"`
	ItemCount                int          `json:"item_count"`
	ItemIDs                  []string     `json:"item_ids"`
	Dimensions               []string     `json:"dimensions"`
	Scale                    domain.Scale `json:"scale"`
	EstimatedDurationMinutes int          `json:"estimated_duration_minutes"`
	ProfileRule              string       `json:"profile_rule"`
}

func newInstrumentView(s domain.InstrumentSchema) instrumentView {
	ids := make([]string, len(s.Items))
	for i, it := range s.Items {
		ids[i] = it.ID
	}
	return instrumentView{
		ID:                       s.ID,
		Name:                     s.Name,
		Version:                  s.Version,
		Category:                 s.CategoryOrDefault(),
		ItemCount:                len(s.Items),
		ItemIDs:                  ids,
		Dimensions:               s.Dimensions,
		Scale:                    s.Scale,
		EstimatedDurationMinutes: s.EstimatedDurationMinutes,
		ProfileRule:              string(s.Profile.Rule),
	}
}
