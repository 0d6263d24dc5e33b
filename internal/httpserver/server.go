// Package httpserver assembles the public listener: the chi router with the
// site and health routes, wrapped in the request middleware stack.
package httpserver

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/keithlinneman/pagesite/internal/health"
	"github.com/keithlinneman/pagesite/internal/httpmw"
	"github.com/keithlinneman/pagesite/internal/log"
	"github.com/keithlinneman/pagesite/internal/xerrors"
)

const defaultMaxBody = 1 << 10

// NewHandler builds the public handler. main owns the *http.Server so it
// can shut down gracefully.
func NewHandler(opts *Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBody
	}

	r := chi.NewRouter()
	r.Use(middleware.Compress(5,
		"text/html",
		"text/css",
		"text/plain",
		"application/javascript",
		"text/javascript",
		"application/json",
		"image/svg+xml",
	))
	// renames the span and tags the logger with the route pattern
	r.Use(httpmw.AnnotateRoute)
	r.Use(httpmw.AccessLog)
	r.Use(httpmw.MaxBody(maxBody))

	if opts.Health != nil {
		r.Get("/-/healthy", health.Liveness(opts.Health))
		r.Head("/-/healthy", health.Liveness(opts.Health))
	}
	if opts.Readiness != nil {
		r.Get("/-/ready", health.Readiness(opts.Readiness))
		r.Head("/-/ready", health.Readiness(opts.Readiness))
	}
	for _, rt := range opts.Routes {
		if rt != nil {
			rt.RegisterRoutes(r)
		}
	}

	var contentHeaders httpmw.Middleware
	if opts.ContentInfo != nil {
		contentHeaders = httpmw.ContentHeaders(opts.ContentInfo)
	}

	// outermost first: security headers land on every response, panics are
	// caught before anything else sees them, the client ip is resolved
	// before the limiter keys on it
	return httpmw.Chain(r,
		httpmw.SecurityHeaders,
		httpmw.Recover(opts.Logger, opts.OnPanic),
		httpmw.RequestID,
		httpmw.ClientIP(opts.ClientIP),
		opts.RateLimitMW,
		tracing,
		contentHeaders,
		httpmw.TraceHeaders,
		opts.MetricsMW,
		httpmw.WithLogger(opts.Logger),
	)
}

// shouldTrace skips probes and static files.
func shouldTrace(p string) bool {
	switch p {
	case "/favicon.ico", "/favicon.svg", "/robots.txt", "/-/healthy", "/-/ready":
		return false
	}
	if strings.HasPrefix(p, "/assets/") {
		return false
	}
	switch strings.ToLower(path.Ext(p)) {
	case ".css", ".js", ".png", ".jpg", ".jpeg", ".webp", ".svg", ".ico", ".woff", ".woff2", ".map":
		return false
	}
	return true
}

func tracing(next http.Handler) http.Handler {
	return otelhttp.NewHandler(next, "http.server",
		otelhttp.WithFilter(func(r *http.Request) bool { return shouldTrace(r.URL.Path) }),
		// AnnotateRoute renames the span once chi has matched a pattern
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
		otelhttp.WithPublicEndpointFn(func(*http.Request) bool { return true }),
	)
}

// Server timeout defaults, shared with opshttp.
const (
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultReadTimeout       = 10 * time.Second
	DefaultWriteTimeout      = 30 * time.Second
	DefaultIdleTimeout       = 60 * time.Second
	DefaultMaxHeaderBytes    = 1 << 20
)

func NewServer(addr string, handler http.Handler, l log.Logger) *http.Server {
	if l == nil {
		l = log.Nop()
	}
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
		ReadTimeout:       DefaultReadTimeout,
		// asset downloads stream, leave room for slow clients
		WriteTimeout:   DefaultWriteTimeout,
		IdleTimeout:    DefaultIdleTimeout,
		MaxHeaderBytes: DefaultMaxHeaderBytes,
		ErrorLog:       log.Std(l, "httpserver"),
	}
}

// Start listens on the public port and serves in the background. The
// returned stop shuts down once, later calls return nil.
func Start(ctx context.Context, opts *Options) (func(context.Context) error, error) {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	port := opts.Port
	if port == 0 {
		port = 8080
	}
	addr := fmt.Sprintf(":%d", port)

	srv := NewServer(addr, NewHandler(opts), opts.Logger)

	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, xerrors.Wrapf(err, "listen on %s", addr)
	}

	go func() {
		opts.Logger.Info(ctx, "http server listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			opts.Logger.Error(ctx, err, "http server error")
		}
	}()

	var once sync.Once
	stop := func(sctx context.Context) (retErr error) {
		once.Do(func() {
			opts.Logger.Info(sctx, "http server shutting down")
			c, cancel := context.WithTimeout(sctx, 10*time.Second)
			defer cancel()
			retErr = srv.Shutdown(c)
		})
		return retErr
	}
	return stop, nil
}
