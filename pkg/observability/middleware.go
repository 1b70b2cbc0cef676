package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// MetricsMiddleware records codegate_requests_total and
// codegate_request_duration_seconds for every request, labelled with the
// chi route pattern ("unmatched" when no route matched). Websocket step
// streams hold codegate_step_streams_active up while they are open.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrade := strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
		if upgrade {
			StepStreams.Inc()
			defer StepStreams.Dec()
		}

		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		RequestsTotal.WithLabelValues(r.Method, statusClass(ww.Status(), upgrade), route).Inc()
		RequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// statusClass buckets a status code as "2xx", "4xx" and so on. A handler
// that never wrote a header answered 200, or 101 if it hijacked an upgrade.
func statusClass(status int, upgrade bool) string {
	if status == 0 {
		status = http.StatusOK
		if upgrade {
			status = http.StatusSwitchingProtocols
		}
	}
	return strconv.Itoa(status/100) + "xx"
}
