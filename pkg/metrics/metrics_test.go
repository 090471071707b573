package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveResolve(t *testing.T) {
	before := testutil.ToFloat64(ResolveTotal.WithLabelValues("vidfast", "ok"))
	ObserveResolve("stream", "vidfast", true, 3, 250*time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(ResolveTotal.WithLabelValues("vidfast", "ok")))

	beforeMiss := testutil.ToFloat64(ResolveTotal.WithLabelValues("none", "not_found"))
	ObserveResolve("stream", "vidfast", false, 18, time.Second)
	assert.Equal(t, beforeMiss+1, testutil.ToFloat64(ResolveTotal.WithLabelValues("none", "not_found")))
}

func TestObserveProxy_StatusClass(t *testing.T) {
	before := testutil.ToFloat64(ProxyRequestsTotal.WithLabelValues("segment", "2xx"))
	ObserveProxy("segment", 206)
	assert.Equal(t, before+1, testutil.ToFloat64(ProxyRequestsTotal.WithLabelValues("segment", "2xx")))

	assert.Equal(t, "error", statusClass(0))
	assert.Equal(t, "5xx", statusClass(504))
}

func TestHandler(t *testing.T) {
	ObserveWorkerRequest("injected")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "stream_resolver_worker_requests_total")
}
