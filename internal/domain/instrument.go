package domain

// ProfileRule selects how dimension scores are turned into a categorical outcome.
type ProfileRule string

const (
	ProfileDichotomyCode  ProfileRule = "dichotomy_code"
	ProfileDominantArgmax ProfileRule = "dominant_argmax"
	ProfileRankedTopN     ProfileRule = "ranked_top_n"
	ProfileNone           ProfileRule = "none"
)

// Aggregation selects how item values are folded into a dimension score.
type Aggregation string

const (
	AggregateSum        Aggregation = "sum"
	AggregatePercentage Aggregation = "percentage"
)

// OverallMode selects how the overall score is derived from all item values.
type OverallMode string

const (
	OverallNone       OverallMode = "none"
	OverallSum        OverallMode = "sum"
	OverallMean       OverallMode = "mean"
	OverallPercentage OverallMode = "percentage"
)

// Category values used to route archived results.
const (
	CategoryPersonality  = "personality"
	CategoryPsychosocial = "psychosocial"
	CategoryOther        = "other"
)

// OverallTarget is the band target that refers to the overall score.
const OverallTarget = "overall"

// Item is one question of an instrument.
type Item struct {
	ID            string `yaml:"id" json:"id" validate:"required"`
	DimensionKey  string `yaml:"dimension" json:"dimension" validate:"required"`
	ReverseScored bool   `yaml:"reverse" json:"reverse"`
	ChoiceCount   int    `yaml:"choices" json:"choices"`
}

// Scale is the respondent-facing answer range shared by all items.
type Scale struct {
	Min int `yaml:"min" json:"min"`
	Max int `yaml:"max" json:"max" validate:"gtfield=Min"`
}

// ClassificationBand labels an inclusive score range of one target
// (a dimension key or OverallTarget).
type ClassificationBand struct {
	Target       string  `yaml:"target" json:"target" validate:"required"`
	MinInclusive float64 `yaml:"min" json:"min"`
	MaxInclusive float64 `yaml:"max" json:"max" validate:"gtefield=MinInclusive"`
	Label        string  `yaml:"label" json:"label" validate:"required"`
}

// PolePair declares two opposing dimensions of a dichotomy instrument.
// Letters default to the upper-cased first character of the pole key.
type PolePair struct {
	Poles   [2]string `yaml:"poles" json:"poles"`
	Letters [2]string `yaml:"letters,omitempty" json:"letters,omitempty"`
	Default string    `yaml:"default" json:"default" validate:"required"`
}

// ProfileConfig holds the parameters of the declared profile rule.
type ProfileConfig struct {
	Rule      ProfileRule `yaml:"rule" json:"rule" validate:"required,oneof=dichotomy_code dominant_argmax ranked_top_n none"`
	PolePairs []PolePair  `yaml:"pole_pairs,omitempty" json:"pole_pairs,omitempty" validate:"dive"`
	// Priority orders dimensions for tie-breaks; defaults to declared dimension order.
	Priority []string `yaml:"priority,omitempty" json:"priority,omitempty"`
	TopK     int      `yaml:"top_k,omitempty" json:"top_k,omitempty" validate:"gte=0"`
	BottomJ  int      `yaml:"bottom_j,omitempty" json:"bottom_j,omitempty" validate:"gte=0"`
}

// InstrumentSchema is the static definition of a questionnaire. It is
// immutable after publication and read-only to the engine.
type InstrumentSchema struct {
	ID                       string               `yaml:"id" json:"id" validate:"required"`
	Name                     string               `yaml:"name" json:"name"`
	Version                  string               `yaml:"version" json:"version"`
	Category                 string               `yaml:"category" json:"category" validate:"omitempty,oneof=personality psychosocial other"`
	Scale                    Scale                `yaml:"scale" json:"scale"`
	Dimensions               []string             `yaml:"dimensions" json:"dimensions" validate:"required,min=1,unique"`
	Items                    []Item               `yaml:"items" json:"items" validate:"required,min=1,dive"`
	Aggregation              Aggregation          `yaml:"aggregation" json:"aggregation" validate:"required,oneof=sum percentage"`
	Overall                  OverallMode          `yaml:"overall" json:"overall" validate:"required,oneof=none sum mean percentage"`
	OverallFromRaw           bool                 `yaml:"overall_from_raw" json:"overall_from_raw"`
	Bands                    []ClassificationBand `yaml:"bands" json:"bands" validate:"dive"`
	Profile                  ProfileConfig        `yaml:"profile" json:"profile"`
	EstimatedDurationMinutes int                  `yaml:"estimated_duration_minutes" json:"estimated_duration_minutes" validate:"gt=0"`
}

// ItemByID returns the item with the given id.
func (s InstrumentSchema) ItemByID(id string) (Item, bool) {
	for _, it := range s.Items {
		if it.ID == id {
			return it, true
		}
	}
	return Item{}, false
}

// HasDimension reports whether key is a declared dimension.
func (s InstrumentSchema) HasDimension(key string) bool {
	for _, d := range s.Dimensions {
		if d == key {
			return true
		}
	}
	return false
}

// ItemCount returns the number of items mapped to each dimension.
func (s InstrumentSchema) ItemCount() map[string]int {
	out := make(map[string]int, len(s.Dimensions))
	for _, it := range s.Items {
		out[it.DimensionKey]++
	}
	return out
}

// CategoryOrDefault returns the archival category, "other" when unset.
func (s InstrumentSchema) CategoryOrDefault() string {
	if s.Category == "" {
		return CategoryOther
	}
	return s.Category
}

// PriorityOrder returns the tie-break order over dimension keys.
func (s InstrumentSchema) PriorityOrder() []string {
	if len(s.Profile.Priority) > 0 {
		return s.Profile.Priority
	}
	return s.Dimensions
}

// BandsFor returns the bands declared for target, in declaration order.
func (s InstrumentSchema) BandsFor(target string) []ClassificationBand {
	var out []ClassificationBand
	for _, b := range s.Bands {
		if b.Target == target {
			out = append(out, b)
		}
	}
	return out
}

// DimensionRange returns the theoretical [min, max] of a dimension score.
func (s InstrumentSchema) DimensionRange(key string) (float64, float64) {
	n := float64(s.ItemCount()[key])
	lo, hi := n*float64(s.Scale.Min), n*float64(s.Scale.Max)
	if s.Aggregation == AggregatePercentage {
		if hi == 0 {
			return 0, 0
		}
		return lo / hi * 100, 100
	}
	return lo, hi
}

// OverallRange returns the theoretical [min, max] of the overall score.
func (s InstrumentSchema) OverallRange() (float64, float64) {
	n := float64(len(s.Items))
	lo, hi := float64(s.Scale.Min), float64(s.Scale.Max)
	switch s.Overall {
	case OverallSum:
		return n * lo, n * hi
	case OverallMean:
		return lo, hi
	case OverallPercentage:
		return lo / hi * 100, 100
	}
	return 0, 0
}
