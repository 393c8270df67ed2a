package metrics

import (
	"net/http"
	"time"
)

// HTTPMetricsMiddleware records duration and status class for every request
// served by next. handlerName should be the route pattern, not the raw path,
// so wallet addresses don't explode label cardinality.
func HTTPMetricsMiddleware(m *Metrics, handlerName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m == nil {
				next.ServeHTTP(w, r)
				return
			}
			// status starts at 200 for handlers that never call WriteHeader
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			defer Timer(time.Now(), func(duration float64) {
				m.RecordHTTPRequest(handlerName, r.Method, rec.status, duration)
			})()
			next.ServeHTTP(rec, r)
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.status = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

// Timer returns a func that reports the time elapsed since start.
//
//	defer metrics.Timer(time.Now(), m.ObserveSomething)()
func Timer(start time.Time, recordFunc func(float64)) func() {
	return func() {
		recordFunc(time.Since(start).Seconds())
	}
}
