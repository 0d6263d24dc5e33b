package httpserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/pagesite/internal/health"
	"github.com/keithlinneman/pagesite/internal/httpmw"
	"github.com/keithlinneman/pagesite/internal/log"
)

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

type routeFunc func(r chi.Router)

func (f routeFunc) RegisterRoutes(r chi.Router) { f(r) }

func okRoutes(body string) Registrar {
	return routeFunc(func(r chi.Router) {
		r.Get("/hello", func(w http.ResponseWriter, _ *http.Request) { _, _ = io.WriteString(w, body) })
		r.Post("/echo", func(w http.ResponseWriter, r *http.Request) {
			if _, err := io.ReadAll(r.Body); err != nil {
				http.Error(w, "too large", http.StatusRequestEntityTooLarge)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		})
		r.Get("/boom", func(http.ResponseWriter, *http.Request) { panic("boom") })
	})
}

type fakeContent struct{}

func (fakeContent) ContentSource() string  { return "disk" }
func (fakeContent) ContentVersion() string { return "live" }

func get(h http.Handler, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, target, http.NoBody)
	req.RemoteAddr = "203.0.113.7:4444"
	h.ServeHTTP(rec, req)
	return rec
}

// ---------------------------------------------------------------------------
// NewHandler
// ---------------------------------------------------------------------------

func TestNewHandler_RoutesAndHeaders(t *testing.T) {
	h := NewHandler(&Options{
		Logger:      log.Nop(),
		Routes:      []Registrar{okRoutes("hi")},
		ContentInfo: fakeContent{},
	})

	rec := get(h, "/hello")
	if rec.Code != http.StatusOK || rec.Body.String() != "hi" {
		t.Fatalf("GET /hello = %d %q", rec.Code, rec.Body.String())
	}
	for _, hdr := range []string{"Strict-Transport-Security", "Content-Security-Policy", "X-Frame-Options", httpmw.HeaderRequestID} {
		if rec.Header().Get(hdr) == "" {
			t.Errorf("missing %s", hdr)
		}
	}
	if rec.Header().Get(httpmw.HeaderContentSource) != "disk" || rec.Header().Get(httpmw.HeaderContentVersion) != "live" {
		t.Errorf("content headers = %v", rec.Header())
	}
}

func TestNewHandler_SecurityHeadersOnErrors(t *testing.T) {
	h := NewHandler(&Options{Logger: log.Nop(), Routes: []Registrar{okRoutes("hi")}})

	for _, target := range []string{"/missing", "/boom"} {
		rec := get(h, target)
		if rec.Code < 400 {
			t.Fatalf("%s = %d", target, rec.Code)
		}
		if rec.Header().Get("Strict-Transport-Security") == "" {
			t.Fatalf("%s: HSTS missing", target)
		}
	}
}

func TestNewHandler_RecoversPanics(t *testing.T) {
	var panics atomic.Int32
	h := NewHandler(&Options{
		Logger:  log.Nop(),
		Routes:  []Registrar{okRoutes("hi")},
		OnPanic: func() { panics.Add(1) },
	})

	rec := get(h, "/boom")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	if panics.Load() != 1 {
		t.Fatalf("OnPanic calls = %d", panics.Load())
	}
}

func TestNewHandler_Health(t *testing.T) {
	var gate health.ShutdownGate
	h := NewHandler(&Options{
		Logger:    log.Nop(),
		Health:    health.Fixed(true, ""),
		Readiness: &gate,
	})

	if rec := get(h, "/-/healthy"); rec.Code != http.StatusOK {
		t.Fatalf("healthy = %d", rec.Code)
	}
	if rec := get(h, "/-/ready"); rec.Code != http.StatusOK {
		t.Fatalf("ready = %d", rec.Code)
	}
	gate.Close("draining")
	if rec := get(h, "/-/ready"); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("ready after close = %d", rec.Code)
	}
}

func TestNewHandler_NoHealthRoutesWithoutProbes(t *testing.T) {
	h := NewHandler(&Options{Logger: log.Nop()})
	if rec := get(h, "/-/healthy"); rec.Code != http.StatusNotFound {
		t.Fatalf("healthy = %d, want 404", rec.Code)
	}
}

func TestNewHandler_MaxBody(t *testing.T) {
	h := NewHandler(&Options{Logger: log.Nop(), Routes: []Registrar{okRoutes("hi")}, MaxBodyBytes: 8})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader(strings.Repeat("x", 64))))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader("small")))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("small body status = %d", rec.Code)
	}
}

func TestNewHandler_MiddlewareOrder(t *testing.T) {
	var sawIP string
	var metricsRan bool
	limiter := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sawIP = httpmw.ClientIPFromContext(r.Context())
			next.ServeHTTP(w, r)
		})
	}
	metricsMW := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			metricsRan = true
			if httpmw.RequestIDFromContext(r.Context()) == "" {
				t.Error("request id missing at metrics")
			}
			next.ServeHTTP(w, r)
		})
	}

	h := NewHandler(&Options{
		Logger:      log.Nop(),
		Routes:      []Registrar{okRoutes("hi")},
		RateLimitMW: limiter,
		MetricsMW:   metricsMW,
	})
	get(h, "/hello")

	if sawIP != "203.0.113.7" {
		t.Fatalf("limiter saw client ip %q", sawIP)
	}
	if !metricsRan {
		t.Fatal("metrics middleware not installed")
	}
}

func TestNewHandler_RateLimitRejects(t *testing.T) {
	deny := func(http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		})
	}
	h := NewHandler(&Options{Logger: log.Nop(), Routes: []Registrar{okRoutes("hi")}, RateLimitMW: deny})

	rec := get(h, "/hello")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Header().Get("Strict-Transport-Security") == "" {
		t.Fatal("HSTS missing on 429")
	}
}

func TestShouldTrace(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/", true},
		{"/posts", true},
		{"/projects/evolve-3d", true},
		{"/-/healthy", false},
		{"/-/ready", false},
		{"/favicon.ico", false},
		{"/robots.txt", false},
		{"/assets/cv.pdf", false},
		{"/theme.CSS", false},
	}
	for _, tt := range tests {
		if got := shouldTrace(tt.path); got != tt.want {
			t.Errorf("shouldTrace(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestNewServer_Timeouts(t *testing.T) {
	srv := NewServer(":0", http.NotFoundHandler(), nil)
	if srv.ReadHeaderTimeout != DefaultReadHeaderTimeout || srv.WriteTimeout != DefaultWriteTimeout {
		t.Fatalf("timeouts = %v %v", srv.ReadHeaderTimeout, srv.WriteTimeout)
	}
	if srv.MaxHeaderBytes != DefaultMaxHeaderBytes || srv.ErrorLog == nil {
		t.Fatal("server not fully configured")
	}
}

// ---------------------------------------------------------------------------
// Start
// ---------------------------------------------------------------------------

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestStart_Lifecycle(t *testing.T) {
	port := freePort(t)
	ctx := context.Background()
	stop, err := Start(ctx, &Options{Logger: log.Nop(), Port: port, Routes: []Registrar{okRoutes("live")}})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/hello", port))
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(body) != "live" {
		t.Fatalf("GET = %d %q", resp.StatusCode, body)
	}

	if err := stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := stop(ctx); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}

func TestStart_PortInUse(t *testing.T) {
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	_, err = Start(context.Background(), &Options{Port: ln.Addr().(*net.TCPAddr).Port})
	if err == nil {
		t.Fatal("expected listen error")
	}
	var opErr *net.OpError
	if !errors.As(err, &opErr) {
		t.Fatalf("err = %v, want *net.OpError in chain", err)
	}
}
