package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/fairyhunter13/psychometric-engine/internal/domain"
)

func TestHTTPMetricsMiddleware_Basic(t *testing.T) {
	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/x", nil)
	mw := HTTPMetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) }))
	mw.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusNoContent, rec.Result().StatusCode)
	assert.Equal(t, 1.0, testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("/x", http.MethodGet, http.StatusText(http.StatusNoContent))))
}

func TestDomainMetricHelpers(t *testing.T) {
	before := testutil.ToFloat64(SessionTransitionsTotal.WithLabelValues(string(domain.SessionStarted)))
	SessionCreated("metrics-test")
	SessionConflict("metrics-test")
	SessionTransition(domain.SessionAbandoned)
	SessionsExpired(0)
	SessionsExpired(3)
	ResultCreated("metrics-test")
	SideEffect("archive", "ok")
	ComparisonComputed("metrics-test", 9)
	RateLimited("metrics-test")

	assert.Equal(t, 1.0, testutil.ToFloat64(SessionsCreatedTotal.WithLabelValues("metrics-test")))
	assert.Equal(t, before+1, testutil.ToFloat64(SessionTransitionsTotal.WithLabelValues(string(domain.SessionStarted))))
	assert.Equal(t, 1.0, testutil.ToFloat64(SessionConflictsTotal.WithLabelValues("metrics-test")))
	assert.Equal(t, 1.0, testutil.ToFloat64(ResultsCreatedTotal.WithLabelValues("metrics-test")))
	assert.Equal(t, 1.0, testutil.ToFloat64(ComparisonsTotal.WithLabelValues("metrics-test")))
	assert.Equal(t, 1.0, testutil.ToFloat64(RateLimitedTotal.WithLabelValues("metrics-test")))
}
