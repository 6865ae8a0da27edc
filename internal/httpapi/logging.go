package httpapi

import (
	"net/http"

	"github.com/felixge/httpsnoop"
	"github.com/sirupsen/logrus"
)

// LoggingMiddleware logs one line per request. httpsnoop keeps the hijacker
// of the underlying writer intact for the SockJS websocket transport.
func LoggingMiddleware(log logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m := httpsnoop.CaptureMetrics(next, w, r)
			entry := log.WithFields(logrus.Fields{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      m.Code,
				"duration_ms": m.Duration.Milliseconds(),
				"request_id":  requestIDFromRequest(r),
			})
			switch {
			case m.Code >= http.StatusInternalServerError:
				entry.Warn("request")
			case r.URL.Path == "/healthz" || r.URL.Path == "/metrics":
				entry.Debug("request")
			default:
				entry.Info("request")
			}
		})
	}
}
