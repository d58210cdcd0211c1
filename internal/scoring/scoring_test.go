package scoring_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/psychometric-engine/internal/domain"
	"github.com/fairyhunter13/psychometric-engine/internal/scoring"
)

func argmaxSchema() domain.InstrumentSchema {
	return domain.InstrumentSchema{
		ID:          "interests",
		Scale:       domain.Scale{Min: 1, Max: 5},
		Dimensions:  []string{"X", "Y", "Z"},
		Aggregation: domain.AggregateSum,
		Overall:     domain.OverallMean,
		Items: []domain.Item{
			{ID: "x1", DimensionKey: "X"}, {ID: "x2", DimensionKey: "X"},
			{ID: "y1", DimensionKey: "Y"}, {ID: "y2", DimensionKey: "Y", ReverseScored: true},
			{ID: "z1", DimensionKey: "Z"}, {ID: "z2", DimensionKey: "Z"},
		},
		Profile: domain.ProfileConfig{Rule: domain.ProfileDominantArgmax},
	}
}

func answers(kv map[string]int) []domain.Answer {
	out := make([]domain.Answer, 0, len(kv))
	for k, v := range kv {
		out = append(out, domain.Answer{ItemID: k, RawValue: v})
	}
	return out
}

func TestReverseValue(t *testing.T) {
	s := domain.Scale{Min: 1, Max: 5}
	for v, want := range map[int]int{1: 5, 2: 4, 3: 3, 5: 1} {
		assert.Equal(t, want, scoring.ReverseValue(s, v))
	}
	assert.Equal(t, 9, scoring.ReverseValue(domain.Scale{Min: 0, Max: 9}, 0))
}

func TestAggregate(t *testing.T) {
	s := argmaxSchema()
	got, err := scoring.Aggregate(s, answers(map[string]int{"x1": 5, "x2": 4, "y1": 2, "y2": 1, "z1": 3, "z2": 3}))
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"X": 9, "Y": 7, "Z": 6}, got.Dimensions)
	require.NotNil(t, got.Overall)
	assert.InDelta(t, 22.0/6, *got.Overall, 1e-9)
	assert.Equal(t, map[string]int{"X": 2, "Y": 2, "Z": 2}, got.Answered)

	s.OverallFromRaw = true
	got, err = scoring.Aggregate(s, answers(map[string]int{"x1": 5, "x2": 4, "y1": 2, "y2": 1, "z1": 3, "z2": 3}))
	require.NoError(t, err)
	assert.InDelta(t, 18.0/6, *got.Overall, 1e-9)
}

func TestAggregate_Percentage(t *testing.T) {
	s := argmaxSchema()
	s.Aggregation = domain.AggregatePercentage
	s.Overall = domain.OverallPercentage
	got, err := scoring.Aggregate(s, answers(map[string]int{"x1": 5, "x2": 5, "y1": 1, "y2": 5, "z1": 3, "z2": 2}))
	require.NoError(t, err)
	assert.Equal(t, 100.0, got.Dimensions["X"])
	assert.Equal(t, 20.0, got.Dimensions["Y"])
	assert.Equal(t, 50.0, got.Dimensions["Z"])
	assert.InDelta(t, 17.0/30*100, *got.Overall, 1e-9)
}

func TestAggregate_Rejections(t *testing.T) {
	s := argmaxSchema()

	_, err := scoring.Aggregate(s, answers(map[string]int{"x1": 5}))
	var ie *domain.IncompleteAnswersError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, []string{"x2", "y1", "y2", "z1", "z2"}, ie.Missing)

	_, err = scoring.Aggregate(s, []domain.Answer{{ItemID: "nope", RawValue: 1}})
	var ue *domain.UnknownItemError
	assert.ErrorAs(t, err, &ue)

	_, err = scoring.Aggregate(s, []domain.Answer{{ItemID: "x1", RawValue: 6}})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = scoring.Aggregate(s, []domain.Answer{{ItemID: "x1", RawValue: 2}, {ItemID: "x1", RawValue: 3}})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestResolveProfile_ArgmaxTieUsesDeclaredOrder(t *testing.T) {
	out, err := scoring.ResolveProfile(argmaxSchema(), map[string]float64{"X": 10, "Y": 10, "Z": 5})
	require.NoError(t, err)
	assert.Equal(t, "X", out.Primary)
	assert.Equal(t, []string{"X", "Y", "Z"}, out.Ranked)
	assert.Equal(t, 10.0, *out.PrimaryScore)
	assert.Equal(t, 100.0, *out.PrimaryPercent)

	s := argmaxSchema()
	s.Profile.Priority = []string{"Z", "Y", "X"}
	out, err = scoring.ResolveProfile(s, map[string]float64{"X": 10, "Y": 10, "Z": 5})
	require.NoError(t, err)
	assert.Equal(t, "Y", out.Primary)
}

func TestResolveProfile_RankedTopN(t *testing.T) {
	s := argmaxSchema()
	s.Profile = domain.ProfileConfig{Rule: domain.ProfileRankedTopN, TopK: 1, BottomJ: 1}
	out, err := scoring.ResolveProfile(s, map[string]float64{"X": 2, "Y": 8, "Z": 5})
	require.NoError(t, err)
	assert.Equal(t, []string{"Y", "Z", "X"}, out.Ranked)
	assert.Equal(t, []string{"Y"}, out.Dominant)
	assert.Equal(t, []string{"X"}, out.Weak)

	// defaults are clamped to the dimension count
	s.Profile = domain.ProfileConfig{Rule: domain.ProfileRankedTopN}
	out, err = scoring.ResolveProfile(s, map[string]float64{"X": 2, "Y": 8, "Z": 5})
	require.NoError(t, err)
	assert.Len(t, out.Dominant, 3)
	assert.Empty(t, out.Weak)
}

func TestResolveProfile_Dichotomy(t *testing.T) {
	s := domain.InstrumentSchema{
		Dimensions: []string{"extraversion", "introversion"},
		Profile: domain.ProfileConfig{Rule: domain.ProfileDichotomyCode, PolePairs: []domain.PolePair{
			{Poles: [2]string{"extraversion", "introversion"}, Default: "introversion"},
		}},
	}
	out, err := scoring.ResolveProfile(s, map[string]float64{"extraversion": 4, "introversion": 4})
	require.NoError(t, err)
	assert.Equal(t, "I", out.Primary)

	s.Profile.PolePairs[0].Letters = [2]string{"X", "Y"}
	out, err = scoring.ResolveProfile(s, map[string]float64{"extraversion": 6, "introversion": 4})
	require.NoError(t, err)
	assert.Equal(t, "X", out.Primary)

	_, err = scoring.ResolveProfile(s, map[string]float64{"extraversion": 6})
	assert.ErrorIs(t, err, domain.ErrSchemaConfiguration)
	_, err = scoring.ResolveProfile(s, map[string]float64{"openness": 6})
	assert.ErrorIs(t, err, domain.ErrSchemaConfiguration)
}

func ptr(v float64) *float64 { return &v }

func TestPoleLetter(t *testing.T) {
	pair := domain.PolePair{Poles: [2]string{"émotion", "raison"}}
	assert.Equal(t, "É", scoring.PoleLetter(pair, 0))
	assert.Equal(t, "R", scoring.PoleLetter(pair, 1))

	pair.Letters = [2]string{"", "X"}
	assert.Equal(t, "X", scoring.PoleLetter(pair, 1))
	assert.Equal(t, "", scoring.PoleLetter(domain.PolePair{}, 0))
}

func TestPercentile(t *testing.T) {
	cohort := []*float64{ptr(10), ptr(20), ptr(30), nil, ptr(40)}
	assert.Equal(t, 75, *scoring.Percentile(ptr(35), cohort))
	assert.Equal(t, 0, *scoring.Percentile(ptr(5), cohort))
	assert.Equal(t, 100, *scoring.Percentile(ptr(41), cohort))
	assert.Equal(t, 25, *scoring.Percentile(ptr(20), cohort))
	assert.Nil(t, scoring.Percentile(nil, cohort))
	assert.Nil(t, scoring.Percentile(ptr(1), []*float64{nil}))

	prev := -1
	for s := 0.0; s <= 50; s += 2.5 {
		p := *scoring.Percentile(ptr(s), cohort)
		assert.GreaterOrEqual(t, p, prev)
		prev = p
	}
}

func TestDescribe(t *testing.T) {
	st := scoring.Describe([]*float64{ptr(2), nil, ptr(4), ptr(9)})
	require.NotNil(t, st)
	assert.Equal(t, 3, st.Count)
	assert.Equal(t, 5.0, st.Mean)
	assert.Equal(t, 2.0, st.Min)
	assert.Equal(t, 9.0, st.Max)
	assert.Nil(t, scoring.Describe(nil))
}

func TestClassify(t *testing.T) {
	s := argmaxSchema()
	s.Bands = []domain.ClassificationBand{
		{Target: "X", MinInclusive: 2, MaxInclusive: 5, Label: "low"},
		{Target: "X", MinInclusive: 6, MaxInclusive: 10, Label: "high"},
	}
	b, err := scoring.Classify(s, "X", 5.4)
	require.NoError(t, err)
	assert.Equal(t, "low", b.Label)
	b, err = scoring.Classify(s, "X", 5.5)
	require.NoError(t, err)
	assert.Equal(t, "high", b.Label)
	_, err = scoring.Classify(s, "X", 11)
	assert.ErrorIs(t, err, domain.ErrSchemaConfiguration)

	labels, err := scoring.Classification(s, nil, map[string]float64{"X": 7, "Y": 3, "Z": 3})
	require.NoError(t, err)
	assert.Empty(t, labels.Overall)
	assert.Equal(t, map[string]string{"X": "high"}, labels.Dimensions)
}

func TestCompare(t *testing.T) {
	s := argmaxSchema()
	r := domain.Result{ID: "me", OverallScore: ptr(3), DimensionScores: map[string]float64{"X": 6, "Y": 6, "Z": 6}}
	cohort := []domain.CohortMember{
		{ResultID: "a", OverallScore: ptr(2), DimensionScores: map[string]float64{"X": 4}},
		{ResultID: "b", OverallScore: ptr(4), DimensionScores: map[string]float64{"X": 8}},
	}
	c, err := scoring.Compare(s, r, cohort)
	require.NoError(t, err)
	assert.Equal(t, 2, c.CohortSize)
	assert.Equal(t, 50, *c.Percentile)
	assert.Equal(t, 3.0, c.Overall.Mean)
	assert.Equal(t, 6.0, c.Dimensions["X"].Mean)
	assert.NotContains(t, c.Dimensions, "Y")
}
