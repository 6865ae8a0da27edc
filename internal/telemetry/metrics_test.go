package telemetry

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"/":        "/",
		"/healthz": "/healthz",
		"/api/queues/6f1f7b52-3f2c-4b8e-9e77-6a3c1f4b2d10/tickets": "/api/queues/:id/tickets",
		"/realtime/123/abc/websocket":                              "/realtime",
	}
	for in, want := range cases {
		if got := CanonicalPath(in); got != want {
			t.Fatalf("CanonicalPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestInstrumentHandlerExposesMetrics(t *testing.T) {
	handler := InstrumentHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), `qms_http_requests_total{method="GET",path="/healthz",status="418"}`) {
		t.Fatalf("request counter missing from metrics output")
	}
}
