package scoring

import "github.com/fairyhunter13/psychometric-engine/internal/domain"

// Comparison situates one result within its instrument's cohort.
type Comparison struct {
	Percentile     *int              `json:"percentile"`
	CohortSize     int               `json:"cohort_size"`
	Overall        *Stats            `json:"overall_stats,omitempty"`
	Dimensions     map[string]*Stats `json:"dimension_stats,omitempty"`
	OverallBand    string            `json:"overall_band,omitempty"`
	DimensionBands map[string]string `json:"dimension_bands,omitempty"`
}

// Compare builds the comparison of r against cohort (which must already
// exclude r). Band lookups that fail surface as schema configuration errors.
func Compare(schema domain.InstrumentSchema, r domain.Result, cohort []domain.CohortMember) (Comparison, error) {
	overall := OverallScores(cohort)
	c := Comparison{
		Percentile: Percentile(r.OverallScore, overall),
		CohortSize: len(cohort),
		Overall:    Describe(overall),
	}
	if len(schema.Dimensions) > 0 {
		c.Dimensions = make(map[string]*Stats, len(schema.Dimensions))
		for _, key := range schema.Dimensions {
			if st := Describe(DimensionScores(cohort, key)); st != nil {
				c.Dimensions[key] = st
			}
		}
	}
	bands, err := Classification(schema, r.OverallScore, r.DimensionScores)
	if err != nil {
		return Comparison{}, err
	}
	c.OverallBand = bands.Overall
	c.DimensionBands = bands.Dimensions
	return c, nil
}

// Labels holds the band labels resolved for a result.
type Labels struct {
	Overall    string
	Dimensions map[string]string
}

// Classification resolves the overall band (when the schema declares overall
// bands and the result has an overall score) and every per-dimension band.
func Classification(schema domain.InstrumentSchema, overall *float64, dims map[string]float64) (Labels, error) {
	var out Labels
	if overall != nil && HasBands(schema, domain.OverallTarget) {
		b, err := Classify(schema, domain.OverallTarget, *overall)
		if err != nil {
			return Labels{}, err
		}
		out.Overall = b.Label
	}
	for _, key := range schema.Dimensions {
		if !HasBands(schema, key) {
			continue
		}
		v, ok := dims[key]
		if !ok {
			continue
		}
		b, err := Classify(schema, key, v)
		if err != nil {
			return Labels{}, err
		}
		if out.Dimensions == nil {
			out.Dimensions = make(map[string]string)
		}
		out.Dimensions[key] = b.Label
	}
	return out, nil
}
