package httpserver

import (
	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/pagesite/internal/health"
	"github.com/keithlinneman/pagesite/internal/httpmw"
	"github.com/keithlinneman/pagesite/internal/log"
)

// Registrar adds routes to the public router. *sitehttp.Routes satisfies it.
type Registrar interface {
	RegisterRoutes(r chi.Router)
}

type Options struct {
	Logger log.Logger
	Port   int

	// Routes are registered in order after the health routes
	Routes []Registrar

	Health    health.Probe
	Readiness health.Probe

	// ContentInfo feeds the X-Content-Source and X-Content-Version headers
	ContentInfo httpmw.ContentInfo

	MetricsMW   httpmw.Middleware
	RateLimitMW httpmw.Middleware
	ClientIP    httpmw.ClientIPOptions

	// MaxBodyBytes caps request bodies, default 1KB. The site takes none.
	MaxBodyBytes int64

	OnPanic func()
}
