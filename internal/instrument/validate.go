package instrument

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/fairyhunter13/psychometric-engine/internal/domain"
)

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

// Validate checks a schema before publication. Structural tags are checked
// first, then the cross-field rules the engine relies on at runtime: every
// item maps to a declared dimension, every dimension has items, profile
// parameters reference real dimensions and bands partition each target's
// integer score range with no gaps and no overlaps.
func Validate(s domain.InstrumentSchema) error {
	if err := getValidator().Struct(s); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) {
			fields := make([]string, 0, len(ve))
			for _, fe := range ve {
				fields = append(fields, fe.Namespace()+":"+fe.Tag())
			}
			return fmt.Errorf("%w: instrument %q: %s", domain.ErrSchemaConfiguration, s.ID, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: instrument %q: %v", domain.ErrSchemaConfiguration, s.ID, err)
	}
	var problems []string
	add := func(format string, args ...any) { problems = append(problems, fmt.Sprintf(format, args...)) }

	if s.Aggregation == domain.AggregatePercentage || s.Overall == domain.OverallPercentage {
		if s.Scale.Max <= 0 || s.Scale.Min < 0 {
			add("percentage forms need a non-negative scale with positive max")
		}
	}

	seen := make(map[string]bool, len(s.Items))
	for _, it := range s.Items {
		if seen[it.ID] {
			add("duplicate item %q", it.ID)
		}
		seen[it.ID] = true
		if !s.HasDimension(it.DimensionKey) {
			add("item %q maps to undeclared dimension %q", it.ID, it.DimensionKey)
		}
		if it.ChoiceCount != 0 && it.ChoiceCount != s.Scale.Max-s.Scale.Min+1 {
			add("item %q declares %d choices, scale has %d", it.ID, it.ChoiceCount, s.Scale.Max-s.Scale.Min+1)
		}
	}
	counts := s.ItemCount()
	for _, d := range s.Dimensions {
		if counts[d] == 0 {
			add("dimension %q has no items", d)
		}
	}

	problems = append(problems, validateProfile(s)...)
	problems = append(problems, validateBands(s)...)

	if len(problems) > 0 {
		return fmt.Errorf("%w: instrument %q: %s", domain.ErrSchemaConfiguration, s.ID, strings.Join(problems, "; "))
	}
	return nil
}

func validateProfile(s domain.InstrumentSchema) []string {
	var out []string
	p := s.Profile
	switch p.Rule {
	case domain.ProfileDichotomyCode:
		if len(p.PolePairs) == 0 {
			out = append(out, "dichotomy profile needs pole pairs")
		}
		used := map[string]bool{}
		for _, pp := range p.PolePairs {
			for _, pole := range pp.Poles {
				if !s.HasDimension(pole) {
					out = append(out, fmt.Sprintf("pole %q is not a dimension", pole))
				}
				if used[pole] {
					out = append(out, fmt.Sprintf("pole %q used in more than one pair", pole))
				}
				used[pole] = true
			}
			if pp.Default != pp.Poles[0] && pp.Default != pp.Poles[1] {
				out = append(out, fmt.Sprintf("default pole %q not in pair %s/%s", pp.Default, pp.Poles[0], pp.Poles[1]))
			}
		}
	case domain.ProfileDominantArgmax, domain.ProfileRankedTopN:
		if len(p.Priority) > 0 {
			listed := map[string]bool{}
			for _, k := range p.Priority {
				if !s.HasDimension(k) {
					out = append(out, fmt.Sprintf("priority entry %q is not a dimension", k))
				}
				if listed[k] {
					out = append(out, fmt.Sprintf("priority entry %q repeated", k))
				}
				listed[k] = true
			}
			if len(listed) != len(s.Dimensions) {
				out = append(out, "priority must list every dimension exactly once")
			}
		}
		if p.Rule == domain.ProfileRankedTopN && p.TopK+p.BottomJ > len(s.Dimensions) {
			out = append(out, fmt.Sprintf("top_k+bottom_j=%d exceeds %d dimensions", p.TopK+p.BottomJ, len(s.Dimensions)))
		}
	}
	return out
}

// validateBands checks that, for every target that declares bands, each
// integer score in the target's theoretical range matches exactly one band.
func validateBands(s domain.InstrumentSchema) []string {
	var out []string
	targets := map[string]bool{}
	var order []string
	for _, b := range s.Bands {
		if b.Target != domain.OverallTarget && !s.HasDimension(b.Target) {
			out = append(out, fmt.Sprintf("band %q targets unknown dimension %q", b.Label, b.Target))
			continue
		}
		if !targets[b.Target] {
			targets[b.Target] = true
			order = append(order, b.Target)
		}
	}
	for _, target := range order {
		var lo, hi float64
		if target == domain.OverallTarget {
			if s.Overall == domain.OverallNone {
				out = append(out, "overall bands declared but overall mode is none")
				continue
			}
			lo, hi = s.OverallRange()
		} else {
			lo, hi = s.DimensionRange(target)
		}
		out = append(out, coverage(target, s.BandsFor(target), lo, hi)...)
	}
	return out
}

func coverage(target string, bands []domain.ClassificationBand, lo, hi float64) []string {
	var out []string
	start, end := int(math.Round(lo)), int(math.Round(hi))
	for v := start; v <= end; v++ {
		hits := 0
		for _, b := range bands {
			if float64(v) >= b.MinInclusive && float64(v) <= b.MaxInclusive {
				hits++
			}
		}
		switch {
		case hits == 0:
			out = append(out, fmt.Sprintf("%s score %d matches no band", target, v))
		case hits > 1:
			out = append(out, fmt.Sprintf("%s score %d matches %d bands", target, v, hits))
		}
		if len(out) > 5 {
			return append(out, "...")
		}
	}
	return out
}
