package httpmw

import (
	"net/http"

	"go.opentelemetry.io/otel/trace"
)

const (
	HeaderTraceID = "X-Trace-Id"
	HeaderSpanID  = "X-Span-Id"
)

// TraceHeaders echoes the trace and span ids of the server span so a
// reported failure can be found in the tracing backend.
func TraceHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if sc := trace.SpanContextFromContext(r.Context()); sc.IsValid() {
			w.Header().Set(HeaderTraceID, sc.TraceID().String())
			w.Header().Set(HeaderSpanID, sc.SpanID().String())
		}
		next.ServeHTTP(w, r)
	})
}
