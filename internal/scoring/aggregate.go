// Package scoring turns recorded answers into dimension scores, profile
// outcomes and normative comparisons. Everything here is pure: no I/O, no clock.
package scoring

import (
	"fmt"
	"sort"

	"github.com/fairyhunter13/psychometric-engine/internal/domain"
)

// Scores is the aggregated output of one answer set.
type Scores struct {
	Dimensions map[string]float64
	Overall    *float64
	// Answered counts items per dimension, stamped into result metadata.
	Answered map[string]int
}

// ReverseValue inverts a raw answer on the schema scale: (max + min) - v.
func ReverseValue(scale domain.Scale, v int) int {
	return scale.Max + scale.Min - v
}

// Aggregate folds answers into per-dimension scores using the schema's
// aggregation. Every item must have exactly one answer; answers for items
// outside the schema are rejected.
func Aggregate(schema domain.InstrumentSchema, answers []domain.Answer) (Scores, error) {
	byItem := make(map[string]int, len(answers))
	for _, a := range answers {
		if _, ok := schema.ItemByID(a.ItemID); !ok {
			return Scores{}, &domain.UnknownItemError{InstrumentID: schema.ID, ItemID: a.ItemID}
		}
		if _, dup := byItem[a.ItemID]; dup {
			return Scores{}, fmt.Errorf("%w: duplicate answer for item %q", domain.ErrInvalidArgument, a.ItemID)
		}
		if err := CheckValue(schema, a.RawValue); err != nil {
			return Scores{}, err
		}
		byItem[a.ItemID] = a.RawValue
	}

	var missing []string
	for _, it := range schema.Items {
		if _, ok := byItem[it.ID]; !ok {
			missing = append(missing, it.ID)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return Scores{}, &domain.IncompleteAnswersError{Missing: missing}
	}

	sums := make(map[string]float64, len(schema.Dimensions))
	counts := make(map[string]int, len(schema.Dimensions))
	var rawTotal, scoredTotal float64
	for _, it := range schema.Items {
		raw := byItem[it.ID]
		v := raw
		if it.ReverseScored {
			v = ReverseValue(schema.Scale, raw)
		}
		sums[it.DimensionKey] += float64(v)
		counts[it.DimensionKey]++
		rawTotal += float64(raw)
		scoredTotal += float64(v)
	}

	dims := make(map[string]float64, len(schema.Dimensions))
	for _, key := range schema.Dimensions {
		dims[key] = dimensionValue(schema, sums[key], counts[key])
	}

	total := scoredTotal
	if schema.OverallFromRaw {
		total = rawTotal
	}
	return Scores{
		Dimensions: dims,
		Overall:    overallValue(schema, total),
		Answered:   counts,
	}, nil
}

// CheckValue validates a raw answer against the schema scale.
func CheckValue(schema domain.InstrumentSchema, v int) error {
	if v < schema.Scale.Min || v > schema.Scale.Max {
		return fmt.Errorf("%w: value %d outside scale [%d,%d]", domain.ErrInvalidArgument, v, schema.Scale.Min, schema.Scale.Max)
	}
	return nil
}

func dimensionValue(schema domain.InstrumentSchema, sum float64, n int) float64 {
	if schema.Aggregation == domain.AggregatePercentage {
		return percentage(sum, n, schema.Scale.Max)
	}
	return sum
}

func overallValue(schema domain.InstrumentSchema, total float64) *float64 {
	n := len(schema.Items)
	var v float64
	switch schema.Overall {
	case domain.OverallSum:
		v = total
	case domain.OverallMean:
		v = total / float64(n)
	case domain.OverallPercentage:
		v = percentage(total, n, schema.Scale.Max)
	default:
		return nil
	}
	return &v
}

func percentage(sum float64, n, scaleMax int) float64 {
	denom := float64(n * scaleMax)
	if denom == 0 {
		return 0
	}
	return sum / denom * 100
}
