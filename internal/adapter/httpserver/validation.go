package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/fairyhunter13/psychometric-engine/internal/domain"
	"github.com/fairyhunter13/psychometric-engine/pkg/textx"
)

const (
	maxBodyBytes = 1 << 20
	maxIDLength  = 128
)

var (
	vldOnce sync.Once
	vld     *validator.Validate

	validID = regexp.MustCompile(`^[a-zA-Z0-9_.:-]+$`)
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

// ValidateID checks identifiers taken from paths and headers.
func ValidateID(id string) error {
	switch {
	case id == "":
		return fmt.Errorf("%w: id required", domain.ErrInvalidArgument)
	case len(id) > maxIDLength:
		return fmt.Errorf("%w: id too long (max %d characters)", domain.ErrInvalidArgument, maxIDLength)
	case !validID.MatchString(id):
		return fmt.Errorf("%w: id contains invalid characters", domain.ErrInvalidArgument)
	}
	return nil
}

// decodeBody reads a JSON body into dst and runs its validate tags. Field
// failures are returned as details keyed by the lower-cased field name.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) (map[string]string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return nil, fmt.Errorf("%w: invalid json", domain.ErrInvalidArgument)
	}
	if err := getValidator().Struct(dst); err != nil {
		verrs := map[string]string{}
		var ve validator.ValidationErrors
		if errors.As(err, &ve) {
			for _, fe := range ve {
				verrs[strings.ToLower(fe.Field())] = fe.Tag()
			}
		}
		return verrs, fmt.Errorf("%w: validation failed", domain.ErrInvalidArgument)
	}
	return nil, nil
}

// SanitizeText normalizes free text supplied by clients.
func SanitizeText(input string) string { return textx.SanitizeText(input) }

// parseResultFilter reads the listing query of GET /v1/results.
func parseResultFilter(q url.Values) (domain.ResultFilter, error) {
	f := domain.ResultFilter{
		InstrumentID: q.Get("instrument_id"),
		SortBy:       q.Get("sort"),
	}
	switch q.Get("order") {
	case "", "desc":
		f.Desc = true
	case "asc":
	default:
		return f, fmt.Errorf("%w: order must be asc or desc", domain.ErrInvalidArgument)
	}
	var err error
	if f.Offset, err = intParam(q, "offset"); err != nil {
		return f, err
	}
	if f.Limit, err = intParam(q, "limit"); err != nil {
		return f, err
	}
	if f.From, err = timeParam(q, "from"); err != nil {
		return f, err
	}
	if f.To, err = timeParam(q, "to"); err != nil {
		return f, err
	}
	return f, nil
}

func intParam(q url.Values, name string) (int, error) {
	v := q.Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", domain.ErrInvalidArgument, name)
	}
	return n, nil
}

func timeParam(q url.Values, name string) (*time.Time, error) {
	v := q.Get(name)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be RFC3339", domain.ErrInvalidArgument, name)
	}
	t = t.UTC()
	return &t, nil
}

func boolParam(q url.Values, name string) (bool, error) {
	v := q.Get(name)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%w: %s must be a boolean", domain.ErrInvalidArgument, name)
	}
	return b, nil
}
