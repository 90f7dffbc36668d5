package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"peleon/observability/logging"
)

func TestObservabilityRecordsRoutePattern(t *testing.T) {
	reg := prometheus.NewRegistry()
	obs := NewObservability(reg, logging.Discard())

	r := chi.NewRouter()
	r.Use(obs.Middleware)
	r.Get("/v1/accounts/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	res := httptest.NewRecorder()
	r.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/v1/accounts/alice.ledger", nil))
	require.Equal(t, http.StatusNotFound, res.Code)
	require.NotEmpty(t, res.Header().Get(HeaderRequestID))
	require.Equal(t, 1.0, testutil.ToFloat64(obs.requests.WithLabelValues("/v1/accounts/{id}", http.MethodGet, "404")))

	req := httptest.NewRequest(http.MethodGet, "/v1/accounts/bob.ledger", nil)
	req.Header.Set(HeaderRequestID, "req-1")
	res = httptest.NewRecorder()
	r.ServeHTTP(res, req)
	require.Equal(t, "req-1", res.Header().Get(HeaderRequestID))

	again := NewObservability(reg, nil)
	require.Same(t, obs.requests, again.requests)
}
