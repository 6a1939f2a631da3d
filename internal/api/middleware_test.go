package api

import (
	"net/http"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darshan-rambhia/beacon/internal/metrics"
)

const submitRoute = "POST /api/app/submit/v1"

func TestHandler_SubmitTaggedAndCounted(t *testing.T) {
	env := newTestEnv(t, "")
	ok := metrics.HTTPRequestsTotal.WithLabelValues(submitRoute, "200")
	bad := metrics.HTTPRequestsTotal.WithLabelValues(submitRoute, "400")
	okBefore, badBefore := testutil.ToFloat64(ok), testutil.ToFloat64(bad)

	w := env.do(http.MethodPost, "/api/app/submit/v1", `{"hostname":"web01","data":{"cpu":10}}`, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	env.pool.Wait()
	first := w.Header().Get(requestIDHeader)
	assert.Len(t, first, 36)

	w = env.do(http.MethodPost, "/api/app/submit/v1", `{"hostname":""}`, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.NotEqual(t, first, w.Header().Get(requestIDHeader))

	assert.Equal(t, okBefore+1, testutil.ToFloat64(ok))
	assert.Equal(t, badBefore+1, testutil.ToFloat64(bad))
}

func TestHandler_KeepsCallerRequestID(t *testing.T) {
	env := newTestEnv(t, "")
	w := env.do(http.MethodGet, "/healthz", "", map[string]string{requestIDHeader: "agent-42"})
	assert.Equal(t, "agent-42", w.Header().Get(requestIDHeader))
}

func TestHandler_UnmatchedRoute(t *testing.T) {
	env := newTestEnv(t, "")
	c := metrics.HTTPRequestsTotal.WithLabelValues("unmatched", "404")
	before := testutil.ToFloat64(c)

	w := env.do(http.MethodGet, "/hosts/web01/extra/path", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, before+1, testutil.ToFloat64(c))
}

func TestHandler_PanicBecomesJSONError(t *testing.T) {
	env := newTestEnv(t, "")
	env.srv.mux.HandleFunc("GET /api/app/explode", func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})
	c := metrics.HTTPRequestsTotal.WithLabelValues("GET /api/app/explode", "500")
	before := testutil.ToFloat64(c)

	w := env.do(http.MethodGet, "/api/app/explode", "", nil)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"code":"internal","description":"internal server error"}`, w.Body.String())
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, before+1, testutil.ToFloat64(c))

	// The server keeps serving after a panic.
	w = env.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandler_SecurityHeadersOnHostPage(t *testing.T) {
	env := newTestEnv(t, "")
	env.do(http.MethodPost, "/api/app/submit/v1", `{"hostname":"db01","data":{}}`, nil)
	env.pool.Wait()

	w := env.do(http.MethodGet, "/hosts/db01", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-referrer", w.Header().Get("Referrer-Policy"))
}
