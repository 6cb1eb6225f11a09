package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aristath/quantcore/internal/work"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_ObservesPoolJobs(t *testing.T) {
	m := New()
	pool := work.NewPool(2, 1, m, zerolog.Nop())
	m.TrackPool(pool)

	ctx := context.Background()
	require.NoError(t, pool.Do(ctx, work.Job{Kind: "signal.compute"}, func(context.Context) error { return nil }))
	require.Error(t, pool.Do(ctx, work.Job{Kind: "signal.compute"}, func(context.Context) error { return errors.New("bad recipe") }))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.jobsQueued.WithLabelValues("signal.compute")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobsFinished.WithLabelValues("signal.compute", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobsFinished.WithLabelValues("signal.compute", "error")))
}

func TestMetrics_MiddlewareUsesRoutePattern(t *testing.T) {
	m := New()
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/api/exceptions/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.Handle("/metrics", m.Handler())

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/exceptions/abc", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/api/exceptions/{id}", "404")))

	m.RecordVerdict("long_only_fund", "BLOCK")

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `quantcore_compliance_verdicts_total{ruleset="long_only_fund",status="BLOCK"} 1`)
	assert.Contains(t, string(body), "quantcore_http_requests_total")
}
