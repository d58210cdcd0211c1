package scoring

import (
	"fmt"
	"math"

	"github.com/fairyhunter13/psychometric-engine/internal/domain"
)

// Stats are descriptive statistics of a cohort, computed on demand.
type Stats struct {
	Count int     `json:"count"`
	Mean  float64 `json:"mean"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
}

// Percentile ranks subject against the scored members of the cohort:
// round(100 * #(other < subject) / #scored). Ties do not count as beaten.
// It returns nil when subject is nil or nobody in the cohort has a score.
func Percentile(subject *float64, cohort []*float64) *int {
	if subject == nil {
		return nil
	}
	var scored, below int
	for _, c := range cohort {
		if c == nil {
			continue
		}
		scored++
		if *c < *subject {
			below++
		}
	}
	if scored == 0 {
		return nil
	}
	p := int(math.Round(100 * float64(below) / float64(scored)))
	return &p
}

// Describe computes count, mean, min and max over the non-nil values.
// It returns nil for an empty sample.
func Describe(values []*float64) *Stats {
	var st Stats
	var sum float64
	for _, v := range values {
		if v == nil {
			continue
		}
		if st.Count == 0 || *v < st.Min {
			st.Min = *v
		}
		if st.Count == 0 || *v > st.Max {
			st.Max = *v
		}
		sum += *v
		st.Count++
	}
	if st.Count == 0 {
		return nil
	}
	st.Mean = sum / float64(st.Count)
	return &st
}

// OverallScores projects cohort members to their overall scores.
func OverallScores(cohort []domain.CohortMember) []*float64 {
	out := make([]*float64, len(cohort))
	for i, m := range cohort {
		out[i] = m.OverallScore
	}
	return out
}

// DimensionScores projects cohort members to one dimension's scores.
func DimensionScores(cohort []domain.CohortMember, key string) []*float64 {
	out := make([]*float64, 0, len(cohort))
	for _, m := range cohort {
		if v, ok := m.DimensionScores[key]; ok {
			v := v
			out = append(out, &v)
		}
	}
	return out
}

// BandScore maps a score onto the integer grid bands are authored on.
func BandScore(score float64) float64 {
	return math.Round(score)
}

// Classify returns the first band of target whose inclusive range contains
// score. A score no band covers is a schema defect, never a default label.
func Classify(schema domain.InstrumentSchema, target string, score float64) (domain.ClassificationBand, error) {
	bands := schema.BandsFor(target)
	s := BandScore(score)
	for _, b := range bands {
		if s >= b.MinInclusive && s <= b.MaxInclusive {
			return b, nil
		}
	}
	return domain.ClassificationBand{}, fmt.Errorf("%w: instrument %q has no %s band covering %.2f", domain.ErrSchemaConfiguration, schema.ID, target, score)
}

// HasBands reports whether the schema declares any band for target.
func HasBands(schema domain.InstrumentSchema, target string) bool {
	for _, b := range schema.Bands {
		if b.Target == target {
			return true
		}
	}
	return false
}
