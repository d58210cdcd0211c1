package httpserver

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/psychometric-engine/internal/domain"
)

func TestValidateID(t *testing.T) {
	assert.NoError(t, ValidateID("01HX-abc_1.2:3"))
	assert.ErrorIs(t, ValidateID(""), domain.ErrInvalidArgument)
	assert.ErrorIs(t, ValidateID(strings.Repeat("a", maxIDLength+1)), domain.ErrInvalidArgument)
	assert.ErrorIs(t, ValidateID("a/b"), domain.ErrInvalidArgument)
}

func TestSanitizeText(t *testing.T) {
	assert.Equal(t, "hello", SanitizeText("  he\x00llo \n"))
	assert.Equal(t, "ok", SanitizeText("o\xffk"))
}

func TestDecodeBody(t *testing.T) {
	type body struct {
		ItemID string `json:"item_id" validate:"required"`
		Value  *int   `json:"value" validate:"required"`
	}
	decode := func(raw string) (map[string]string, error) {
		var b body
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(raw))
		return decodeBody(httptest.NewRecorder(), req, &b)
	}

	details, err := decode(`{"item_id":"a1","value":0}`)
	require.NoError(t, err)
	assert.Nil(t, details)

	details, err = decode(`{"item_id":"a1"}`)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	assert.Equal(t, map[string]string{"value": "required"}, details)

	_, err = decode(`not json`)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestParseResultFilter(t *testing.T) {
	f, err := parseResultFilter(url.Values{})
	require.NoError(t, err)
	assert.True(t, f.Desc)
	assert.Zero(t, f.Limit)

	q := url.Values{
		"instrument_id": {"type-indicator"},
		"sort":          {"overall_score"},
		"order":         {"asc"},
		"offset":        {"5"},
		"limit":         {"10"},
		"from":          {"2026-01-01T00:00:00Z"},
		"to":            {"2026-02-01T00:00:00+07:00"},
	}
	f, err = parseResultFilter(q)
	require.NoError(t, err)
	assert.Equal(t, "type-indicator", f.InstrumentID)
	assert.Equal(t, "overall_score", f.SortBy)
	assert.False(t, f.Desc)
	assert.Equal(t, 5, f.Offset)
	assert.Equal(t, 10, f.Limit)
	require.NotNil(t, f.From)
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), *f.From)
	assert.Equal(t, time.Date(2026, 1, 31, 17, 0, 0, 0, time.UTC), *f.To)

	for _, bad := range []url.Values{
		{"order": {"up"}},
		{"limit": {"-1"}},
		{"offset": {"x"}},
		{"from": {"yesterday"}},
	} {
		_, err := parseResultFilter(bad)
		assert.ErrorIs(t, err, domain.ErrInvalidArgument, bad.Encode())
	}
}

func TestBoolParam(t *testing.T) {
	v, err := boolParam(url.Values{"x": {"true"}}, "x")
	require.NoError(t, err)
	assert.True(t, v)
	_, err = boolParam(url.Values{"x": {"maybe"}}, "x")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}
