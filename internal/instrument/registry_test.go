package instrument_test

import (
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/psychometric-engine/internal/domain"
	"github.com/fairyhunter13/psychometric-engine/internal/instrument"
	"github.com/fairyhunter13/psychometric-engine/internal/scoring"
)

func TestLoadDefault_EmbeddedCatalog(t *testing.T) {
	reg, err := instrument.LoadDefault("")
	require.NoError(t, err)

	ids := make([]string, 0)
	for _, s := range reg.List() {
		ids = append(ids, s.ID)
		assert.NoError(t, instrument.Validate(s), s.ID)
	}
	assert.Equal(t, []string{"big-five-mini", "career-interests", "learning-style", "type-indicator", "work-stress"}, ids)

	ti, err := reg.Get("type-indicator")
	require.NoError(t, err)
	assert.Len(t, ti.Items, 16)
	assert.Equal(t, domain.ProfileDichotomyCode, ti.Profile.Rule)
	assert.Equal(t, domain.CategoryPersonality, ti.CategoryOrDefault())
	assert.Equal(t, domain.OverallSum, ti.Overall)
	assert.True(t, ti.OverallFromRaw)
	lo, hi := ti.OverallRange()
	assert.Equal(t, []float64{16, 80}, []float64{lo, hi})

	_, err = reg.Get("nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCatalog_EveryScoreIsClassified(t *testing.T) {
	reg, err := instrument.LoadDefault("")
	require.NoError(t, err)
	for _, s := range reg.List() {
		if scoring.HasBands(s, domain.OverallTarget) {
			lo, hi := s.OverallRange()
			for v := lo; v <= hi; v += 0.5 {
				_, err := scoring.Classify(s, domain.OverallTarget, v)
				assert.NoError(t, err, "%s overall %.1f", s.ID, v)
			}
		}
		for _, d := range s.Dimensions {
			if !scoring.HasBands(s, d) {
				continue
			}
			lo, hi := s.DimensionRange(d)
			for v := lo; v <= hi; v += 0.5 {
				_, err := scoring.Classify(s, d, v)
				assert.NoError(t, err, "%s %s %.1f", s.ID, d, v)
			}
		}
	}
}

func TestLoadDefault_ExtraDirectory(t *testing.T) {
	dir := t.TempDir()
	doc := `id: extra
name: Extra
version: "1"
scale: {min: 0, max: 3}
dimensions: [calm]
aggregation: sum
overall: sum
estimated_duration_minutes: 2
profile: {rule: none}
items:
  - {id: c1, dimension: calm}
  - {id: c2, dimension: calm, reverse: true}
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "extra.yaml"), []byte(doc), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o600))

	reg, err := instrument.LoadDefault(dir)
	require.NoError(t, err)
	s, err := reg.Get("extra")
	require.NoError(t, err)
	assert.True(t, s.Items[1].ReverseScored)
	assert.Equal(t, domain.CategoryOther, s.CategoryOrDefault())
	assert.Len(t, reg.List(), 6)
}

func TestLoadFS_RejectsInvalidSchema(t *testing.T) {
	fsys := fstest.MapFS{
		"bad.yaml": {Data: []byte("id: bad\nscale: {min: 1, max: 5}\ndimensions: [a]\naggregation: sum\noverall: none\nestimated_duration_minutes: 1\nprofile: {rule: none}\nitems:\n  - {id: i1, dimension: b}\n")},
	}
	err := instrument.NewRegistry().LoadFS(fsys, ".")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSchemaConfiguration)
	assert.Contains(t, err.Error(), "bad.yaml")

	err = instrument.NewRegistry().LoadFS(fstest.MapFS{"x.yaml": {Data: []byte("id: [")}}, ".")
	assert.ErrorIs(t, err, domain.ErrSchemaConfiguration)
}

func TestPublish_IsPublishOnce(t *testing.T) {
	reg := instrument.NewRegistry()
	s := validSchema()
	require.NoError(t, reg.Publish(s))
	require.NoError(t, reg.Publish(validSchema()))

	s.Version = "2"
	err := reg.Publish(s)
	var ce *domain.ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "mini", ce.ExistingID)
}
