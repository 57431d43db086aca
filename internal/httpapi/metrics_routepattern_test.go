package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// TestMetricsMiddleware_UsesRoutePattern ensures the metrics middleware labels
// by the chi route pattern instead of the raw URL path, including routes
// registered on a subrouter.
func TestMetricsMiddleware_UsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(MetricsMiddleware)
		r.Route("/v2/models/{name}", func(r chi.Router) {
			r.Post("/infer", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			})
		})
	})

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("/v2/models/{name}/infer", http.MethodPost, "200"))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v2/models/proj/infer", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("/v2/models/{name}/infer", http.MethodPost, "200"))
	if after != before+1 {
		t.Fatalf("pattern label not incremented: before=%v after=%v", before, after)
	}
	if got := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("/v2/models/proj/infer", http.MethodPost, "200")); got != 0 {
		t.Fatalf("raw path used as label: %v", got)
	}
}
