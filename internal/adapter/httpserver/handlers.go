package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fairyhunter13/psychometric-engine/internal/domain"
	"github.com/fairyhunter13/psychometric-engine/internal/usecase"
)

// ReadinessCheck is one named dependency check served by /readyz.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Server aggregates handlers dependencies.
type Server struct {
	Sessions   usecase.SessionService
	Completion usecase.CompletionService
	Results    usecase.ResultService
	Catalog    domain.InstrumentCatalog
	Checks     []ReadinessCheck
}

// NewServer constructs an HTTP server with all handlers and checks wired.
func NewServer(sessions usecase.SessionService, completion usecase.CompletionService, results usecase.ResultService, catalog domain.InstrumentCatalog, checks ...ReadinessCheck) *Server {
	return &Server{Sessions: sessions, Completion: completion, Results: results, Catalog: catalog, Checks: checks}
}

// pathID returns the validated {id} route parameter.
func pathID(r *http.Request) (string, error) {
	return chi.URLParam(r, "id"), ValidateID(chi.URLParam(r, "id"))
}

// CreateSessionHandler starts a session for the caller.
func (s *Server) CreateSessionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			InstrumentID string `json:"instrument_id" validate:"required,max=128"`
		}
		if details, err := decodeBody(w, r, &req); err != nil {
			writeError(w, r, err, details)
			return
		}
		sess, err := s.Sessions.Create(r.Context(), UserIDFrom(r.Context()), req.InstrumentID)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		w.Header().Set("Location", "/v1/sessions/"+sess.ID)
		writeJSON(w, http.StatusCreated, newSessionView(sess))
	}
}

// ListSessionsHandler lists the caller's sessions, optionally by instrument and state.
func (s *Server) ListSessionsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		f := domain.SessionFilter{InstrumentID: q.Get("instrument_id"), State: domain.SessionState(q.Get("state"))}
		list, err := s.Sessions.List(r.Context(), UserIDFrom(r.Context()), f)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		out := make([]sessionView, 0, len(list))
		for _, sess := range list {
			out = append(out, newSessionView(sess))
		}
		writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
	}
}

// GetSessionHandler returns one session with expiry applied.
func (s *Server) GetSessionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		sess, err := s.Sessions.Get(r.Context(), UserIDFrom(r.Context()), id)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, newSessionView(sess))
	}
}

// DeleteSessionHandler removes a session that has no result.
func (s *Server) DeleteSessionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		if err := s.Sessions.Delete(r.Context(), UserIDFrom(r.Context()), id); err != nil {
			writeError(w, r, err, nil)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// RecordAnswerHandler stores the answer to one item.
func (s *Server) RecordAnswerHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		var req struct {
			ItemID string `json:"item_id" validate:"required,max=128"`
			Value  *int   `json:"value" validate:"required"`
		}
		if details, err := decodeBody(w, r, &req); err != nil {
			writeError(w, r, err, details)
			return
		}
		a, err := s.Sessions.RecordAnswer(r.Context(), UserIDFrom(r.Context()), id, req.ItemID, *req.Value)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, answerView{SessionID: a.SessionID, ItemID: a.ItemID, Value: a.RawValue, RecordedAt: a.RecordedAt})
	}
}

// UpdateProgressHandler stores the client-reported position.
func (s *Server) UpdateProgressHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		var req struct {
			CurrentQuestionIndex *int `json:"current_question_index" validate:"required,min=0"`
			TimeSpentSeconds     *int `json:"time_spent_seconds" validate:"required,min=0"`
		}
		if details, err := decodeBody(w, r, &req); err != nil {
			writeError(w, r, err, details)
			return
		}
		sess, err := s.Sessions.UpdateProgress(r.Context(), UserIDFrom(r.Context()), id, domain.Progress{
			CurrentQuestionIndex: *req.CurrentQuestionIndex,
			TimeSpentSeconds:     *req.TimeSpentSeconds,
		})
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, newSessionView(sess))
	}
}

// AbandonSessionHandler ends an active session.
func (s *Server) AbandonSessionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		sess, err := s.Sessions.Abandon(r.Context(), UserIDFrom(r.Context()), id)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, newSessionView(sess))
	}
}

// CompleteSessionHandler scores the session and returns its result.
func (s *Server) CompleteSessionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		res, err := s.Completion.Complete(r.Context(), UserIDFrom(r.Context()), id)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		w.Header().Set("Location", "/v1/results/"+res.ID)
		writeJSON(w, http.StatusCreated, newResultView(res))
	}
}

// ListResultsHandler lists the caller's results.
func (s *Server) ListResultsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, err := parseResultFilter(r.URL.Query())
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		list, err := s.Results.List(r.Context(), UserIDFrom(r.Context()), f)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		out := make([]resultView, 0, len(list))
		for _, res := range list {
			out = append(out, newResultView(res))
		}
		writeJSON(w, http.StatusOK, map[string]any{"results": out})
	}
}

// GetResultHandler returns one result, optionally with its normative
// comparison, honoring If-None-Match.
func (s *Server) GetResultHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		include, err := boolParam(r.URL.Query(), "include_comparison")
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		view, err := s.Results.Get(r.Context(), UserIDFrom(r.Context()), id, include)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		etag := `"` + view.ETag + `"`
		w.Header().Set("ETag", etag)
		w.Header().Set("Cache-Control", "private, no-cache")
		if etagMatches(r.Header.Get("If-None-Match"), view.ETag) {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		writeJSON(w, http.StatusOK, newResultViewWithComparison(view))
	}
}

func etagMatches(header, etag string) bool {
	for _, tok := range strings.Split(header, ",") {
		tok = strings.TrimPrefix(strings.TrimSpace(tok), "W/")
		if strings.Trim(tok, `"`) == etag && etag != "" {
			return true
		}
	}
	return false
}

// UpdateInterpretationHandler sets the narrative fields of a result.
func (s *Server) UpdateInterpretationHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		var req struct {
			Interpretation  *string `json:"interpretation" validate:"omitempty,max=20000"`
			Recommendations *string `json:"recommendations" validate:"omitempty,max=20000"`
		}
		if details, err := decodeBody(w, r, &req); err != nil {
			writeError(w, r, err, details)
			return
		}
		u := domain.InterpretationUpdate{}
		if req.Interpretation != nil {
			v := SanitizeText(*req.Interpretation)
			u.Interpretation = &v
		}
		if req.Recommendations != nil {
			v := SanitizeText(*req.Recommendations)
			u.Recommendations = &v
		}
		res, err := s.Results.UpdateInterpretation(r.Context(), UserIDFrom(r.Context()), id, u)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, newResultView(res))
	}
}

// RegenerateResultHandler recomputes a result from its stored answers.
func (s *Server) RegenerateResultHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		res, err := s.Results.Regenerate(r.Context(), UserIDFrom(r.Context()), id)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, newResultView(res))
	}
}

// ListInstrumentsHandler lists the published instruments.
func (s *Server) ListInstrumentsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		schemas := s.Catalog.List()
		out := make([]instrumentView, 0, len(schemas))
		for _, sc := range schemas {
			out = append(out, newInstrumentView(sc))
		}
		writeJSON(w, http.StatusOK, map[string]any{"instruments": out})
	}
}

// GetInstrumentHandler describes one instrument.
func (s *Server) GetInstrumentHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		sc, err := s.Catalog.Get(id)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, newInstrumentView(sc))
	}
}

// ReadyzHandler checks every configured dependency.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	type check struct {
		Name    string `json:"name"`
		OK      bool   `json:"ok"`
		Details string `json:"details,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		checks := make([]check, 0, len(s.Checks))
		st := http.StatusOK
		for _, c := range s.Checks {
			if err := c.Check(ctx); err != nil {
				checks = append(checks, check{Name: c.Name, Details: fmt.Sprint(err)})
				st = http.StatusServiceUnavailable
				continue
			}
			checks = append(checks, check{Name: c.Name, OK: true})
		}
		writeJSON(w, st, map[string]any{"checks": checks})
	}
}
