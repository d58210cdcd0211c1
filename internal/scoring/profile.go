package scoring

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/fairyhunter13/psychometric-engine/internal/domain"
)

// Default sizes for ranked outcomes when the schema leaves them at zero.
const (
	DefaultTopK    = 3
	DefaultBottomJ = 2
)

// ResolveProfile derives the categorical outcome declared by the schema's
// profile rule. It is a pure function of the dimension scores.
func ResolveProfile(schema domain.InstrumentSchema, dims map[string]float64) (domain.ProfileOutcome, error) {
	raw := make(map[string]float64, len(dims))
	for k, v := range dims {
		if !schema.HasDimension(k) {
			return domain.ProfileOutcome{}, fmt.Errorf("%w: score for undeclared dimension %q", domain.ErrSchemaConfiguration, k)
		}
		raw[k] = v
	}
	out := domain.ProfileOutcome{Strategy: schema.Profile.Rule, RawScores: raw}

	switch schema.Profile.Rule {
	case domain.ProfileDichotomyCode:
		code, err := dichotomyCode(schema.Profile.PolePairs, raw)
		if err != nil {
			return domain.ProfileOutcome{}, err
		}
		out.Primary = code
	case domain.ProfileDominantArgmax:
		ranked := rankDimensions(schema, raw)
		if len(ranked) == 0 {
			return domain.ProfileOutcome{}, fmt.Errorf("%w: no dimensions to rank", domain.ErrSchemaConfiguration)
		}
		top := ranked[0]
		score := raw[top]
		_, hi := schema.DimensionRange(top)
		pct := 0.0
		if hi > 0 {
			pct = score / hi * 100
		}
		out.Primary = top
		out.PrimaryScore = &score
		out.PrimaryPercent = &pct
		out.Ranked = ranked
	case domain.ProfileRankedTopN:
		ranked := rankDimensions(schema, raw)
		k, j := topBottom(schema.Profile, len(ranked))
		out.Ranked = ranked
		out.Dominant = append([]string(nil), ranked[:k]...)
		out.Weak = append([]string(nil), ranked[len(ranked)-j:]...)
		if k > 0 {
			out.Primary = ranked[0]
		}
	case domain.ProfileNone:
	default:
		return domain.ProfileOutcome{}, fmt.Errorf("%w: unknown profile rule %q", domain.ErrSchemaConfiguration, schema.Profile.Rule)
	}
	return out, nil
}

// dichotomyCode picks, per pole pair, the pole with the strictly higher score;
// equal scores resolve to the pair's declared default pole.
func dichotomyCode(pairs []domain.PolePair, raw map[string]float64) (string, error) {
	var b strings.Builder
	for _, p := range pairs {
		a, z := p.Poles[0], p.Poles[1]
		sa, okA := raw[a]
		sz, okZ := raw[z]
		if !okA || !okZ {
			return "", fmt.Errorf("%w: pole pair %s/%s lacks scores", domain.ErrSchemaConfiguration, a, z)
		}
		var winner int
		switch {
		case sz > sa:
			winner = 1
		case sz == sa && p.Default == z:
			winner = 1
		}
		b.WriteString(PoleLetter(p, winner))
	}
	return b.String(), nil
}

// PoleLetter returns the code character contributed by pole i of the pair.
func PoleLetter(p domain.PolePair, i int) string {
	if l := p.Letters[i]; l != "" {
		return l
	}
	r, size := utf8.DecodeRuneInString(p.Poles[i])
	if size == 0 {
		return ""
	}
	return string(unicode.ToUpper(r))
}

// rankDimensions sorts dimensions by descending score; ties keep the
// declared priority order (lower index wins).
func rankDimensions(schema domain.InstrumentSchema, raw map[string]float64) []string {
	order := schema.PriorityOrder()
	rank := make(map[string]int, len(order))
	for i, k := range order {
		rank[k] = i
	}
	keys := make([]string, 0, len(raw))
	for _, k := range order {
		if _, ok := raw[k]; ok {
			keys = append(keys, k)
		}
	}
	// dimensions missing from the priority list trail in declaration order
	for _, k := range schema.Dimensions {
		if _, listed := rank[k]; !listed {
			if _, ok := raw[k]; ok {
				rank[k] = len(rank)
				keys = append(keys, k)
			}
		}
	}
	sort.SliceStable(keys, func(i, j int) bool {
		si, sj := raw[keys[i]], raw[keys[j]]
		if si != sj {
			return si > sj
		}
		return rank[keys[i]] < rank[keys[j]]
	})
	return keys
}

func topBottom(cfg domain.ProfileConfig, n int) (int, int) {
	k, j := cfg.TopK, cfg.BottomJ
	if k == 0 {
		k = DefaultTopK
	}
	if j == 0 {
		j = DefaultBottomJ
	}
	if k > n {
		k = n
	}
	if j > n-k {
		j = n - k
	}
	return k, j
}
