package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

var errA, errB = errors.New("a down"), errors.New("b down")

func fail(err error) CheckFunc { return func(context.Context) error { return err } }

func TestFixed(t *testing.T) {
	if err := Fixed(true, "ignored").Check(t.Context()); err != nil {
		t.Fatalf("ok probe failed: %v", err)
	}
	if err := Fixed(false, "disk full").Check(t.Context()); err == nil || err.Error() != "disk full" {
		t.Fatalf("err = %v", err)
	}
	if err := Fixed(false, "").Check(t.Context()); err == nil || err.Error() != "unhealthy" {
		t.Fatalf("default reason = %v", err)
	}
}

func TestAll(t *testing.T) {
	tests := []struct {
		name string
		ps   []Probe
		want error
	}{
		{"empty", nil, nil},
		{"all pass", []Probe{Fixed(true, ""), Fixed(true, "")}, nil},
		{"first failure wins", []Probe{Fixed(true, ""), fail(errA), fail(errB)}, errA},
		{"nil skipped", []Probe{nil, fail(errB)}, errB},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := All(tt.ps...).Check(t.Context()); !errors.Is(got, tt.want) {
				t.Fatalf("err = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAll_ShortCircuits(t *testing.T) {
	called := false
	p := All(fail(errA), CheckFunc(func(context.Context) error { called = true; return nil }))
	p.Check(t.Context())
	if called {
		t.Fatal("probe after a failure was evaluated")
	}
}

func TestAny(t *testing.T) {
	tests := []struct {
		name string
		ps   []Probe
		want error
	}{
		{"one passes", []Probe{fail(errA), Fixed(true, "")}, nil},
		{"all fail returns last", []Probe{fail(errA), fail(errB)}, errB},
		{"empty", nil, ErrNoHealthyProbe},
		{"only nil", []Probe{nil, nil}, ErrNoHealthyProbe},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Any(tt.ps...).Check(t.Context()); !errors.Is(got, tt.want) {
				t.Fatalf("err = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestShutdownGate(t *testing.T) {
	var g ShutdownGate
	if err := g.Check(t.Context()); err != nil {
		t.Fatalf("new gate closed: %v", err)
	}
	g.Close("")
	if err := g.Check(t.Context()); err == nil || err.Error() != "draining" {
		t.Fatalf("closed gate = %v", err)
	}
	g.Close("shutting down")
	if err := g.Check(t.Context()); err == nil || err.Error() != "shutting down" {
		t.Fatalf("reason = %v", err)
	}
	g.Open()
	if err := g.Check(t.Context()); err != nil {
		t.Fatalf("reopened gate = %v", err)
	}
}

func TestHandler(t *testing.T) {
	tests := []struct {
		name     string
		p        Probe
		wantCode int
		wantBody string
	}{
		{"nil probe", nil, http.StatusOK, "ready"},
		{"passing", Fixed(true, ""), http.StatusOK, "ready"},
		{"failing", Fixed(false, "no content"), http.StatusServiceUnavailable, "no content"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			Readiness(tt.p).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/-/ready", nil))
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d", rec.Code)
			}
			if !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Fatalf("body = %q", rec.Body.String())
			}
			if rec.Header().Get("Cache-Control") != "no-store" {
				t.Error("health response is cacheable")
			}
		})
	}
}

func TestHandler_UsesRequestContext(t *testing.T) {
	type key struct{}
	var seen any
	p := CheckFunc(func(ctx context.Context) error { seen = ctx.Value(key{}); return nil })

	r := httptest.NewRequest(http.MethodGet, "/-/healthy", nil)
	r = r.WithContext(context.WithValue(r.Context(), key{}, "v"))
	Liveness(p).ServeHTTP(httptest.NewRecorder(), r)
	if seen != "v" {
		t.Fatalf("probe saw %v", seen)
	}
}

func TestHandler_Head(t *testing.T) {
	rec := httptest.NewRecorder()
	Liveness(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodHead, "/-/healthy", nil))
	if rec.Code != http.StatusOK || rec.Body.Len() != 0 {
		t.Fatalf("HEAD = %d %q", rec.Code, rec.Body.String())
	}
}
