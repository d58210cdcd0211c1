package usecase_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/psychometric-engine/internal/adapter/repo/memory"
	"github.com/fairyhunter13/psychometric-engine/internal/domain"
	"github.com/fairyhunter13/psychometric-engine/internal/instrument"
	"github.com/fairyhunter13/psychometric-engine/internal/usecase"
)

// typeSchema is an eight-item, four-pair dichotomy instrument on a 1..9 scale,
// one item per pole.
func typeSchema() domain.InstrumentSchema {
	poles := []string{"E", "I", "S", "N", "T", "F", "J", "P"}
	items := make([]domain.Item, len(poles))
	for i, p := range poles {
		items[i] = domain.Item{ID: "q" + p, DimensionKey: p}
	}
	return domain.InstrumentSchema{
		ID:          "types",
		Name:        "Types",
		Version:     "1",
		Category:    domain.CategoryPersonality,
		Scale:       domain.Scale{Min: 1, Max: 9},
		Dimensions:  poles,
		Items:       items,
		Aggregation: domain.AggregateSum,
		Overall:     domain.OverallSum,
		Bands: []domain.ClassificationBand{
			{Target: domain.OverallTarget, MinInclusive: 8, MaxInclusive: 40, Label: "reserved"},
			{Target: domain.OverallTarget, MinInclusive: 41, MaxInclusive: 72, Label: "expressive"},
		},
		Profile: domain.ProfileConfig{Rule: domain.ProfileDichotomyCode, PolePairs: []domain.PolePair{
			{Poles: [2]string{"E", "I"}, Default: "E"},
			{Poles: [2]string{"S", "N"}, Default: "S"},
			{Poles: [2]string{"T", "F"}, Default: "T"},
			{Poles: [2]string{"J", "P"}, Default: "J"},
		}},
		EstimatedDurationMinutes: 10,
	}
}

// entjAnswers yields code ENTJ and an overall sum of 44.
var entjAnswers = map[string]int{"qE": 8, "qI": 4, "qS": 3, "qN": 7, "qT": 6, "qF": 5, "qJ": 9, "qP": 2}

type clock struct{ t time.Time }

func (c *clock) Now() time.Time { return c.t }

func (c *clock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type env struct {
	store      *memory.Store
	catalog    *instrument.Registry
	clock      *clock
	sessions   usecase.SessionService
	completion usecase.CompletionService
	results    usecase.ResultService
}

func newEnv(t *testing.T, effects *usecase.EffectPipeline) *env {
	t.Helper()
	return newEnvWithSchema(t, effects, typeSchema())
}

// newEnvWithSchema publishes a variant of the "types" instrument instead.
func newEnvWithSchema(t *testing.T, effects *usecase.EffectPipeline, schema domain.InstrumentSchema) *env {
	t.Helper()
	reg := instrument.NewRegistry()
	require.NoError(t, reg.Publish(schema))
	st := memory.New()
	c := &clock{t: time.Now().UTC()}
	e := &env{
		store:      st,
		catalog:    reg,
		clock:      c,
		sessions:   usecase.NewSessionService(st.Sessions(), st.Answers(), reg),
		completion: usecase.NewCompletionService(st.Sessions(), st.Answers(), st.Results(), reg, effects),
		results:    usecase.NewResultService(st.Results(), st.Answers(), reg),
	}
	e.sessions.Now = c.Now
	e.completion.Now = c.Now
	e.results.Now = c.Now
	return e
}

// complete runs a user through the whole instrument with the given answers.
func (e *env) complete(t *testing.T, user string, answers map[string]int) domain.Result {
	t.Helper()
	ctx := context.Background()
	sess, err := e.sessions.Create(ctx, user, "types")
	require.NoError(t, err)
	for item, v := range answers {
		_, err := e.sessions.RecordAnswer(ctx, user, sess.ID, item, v)
		require.NoError(t, err)
	}
	res, err := e.completion.Complete(ctx, user, sess.ID)
	require.NoError(t, err)
	return res
}

func uniform(v int) map[string]int {
	out := make(map[string]int, len(entjAnswers))
	for k := range entjAnswers {
		out[k] = v
	}
	return out
}
