package httpmw

import (
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ContentInfo describes the content tree serving the request.
// *content.Manager implements it.
type ContentInfo interface {
	ContentSource() string
	ContentVersion() string
}

const (
	HeaderContentSource  = "X-Content-Source"
	HeaderContentVersion = "X-Content-Version"
)

// ContentHeaders stamps every response with the active content source and
// version. Both are read once, before the handler runs.
func ContentHeaders(info ContentInfo) Middleware {
	return func(next http.Handler) http.Handler {
		if info == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			src, ver := info.ContentSource(), info.ContentVersion()
			if src != "" {
				w.Header().Set(HeaderContentSource, src)
			}
			if ver != "" {
				w.Header().Set(HeaderContentVersion, ver)
			}
			if span := trace.SpanFromContext(r.Context()); span.IsRecording() {
				span.SetAttributes(
					attribute.String("content.source", src),
					attribute.String("content.version", ver),
				)
			}
			next.ServeHTTP(w, r)
		})
	}
}
