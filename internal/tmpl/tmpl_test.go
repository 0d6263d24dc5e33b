package tmpl

import (
	"bytes"
	"context"
	"errors"
	"html/template"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"github.com/keithlinneman/pagesite/internal/pages"
	"github.com/keithlinneman/pagesite/internal/webassets"
)

func render(t *testing.T, r *Registry, name string, data any) string {
	t.Helper()
	var buf bytes.Buffer
	if err := r.Execute(&buf, name, data); err != nil {
		t.Fatalf("Execute(%s): %v", name, err)
	}
	return buf.String()
}

func writeFile(t *testing.T, dir, name, body string) {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

type reloads struct {
	mu     sync.Mutex
	counts map[string]int
}

func (r *reloads) TemplateReload(result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counts == nil {
		r.counts = map[string]int{}
	}
	r.counts[result]++
}

func (r *reloads) get(result string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[result]
}

// Load

func TestLoad_EmbeddedDefaults(t *testing.T) {
	r, err := New(Options{Base: webassets.TemplatesFS()})
	if err != nil {
		t.Fatal(err)
	}

	page := render(t, r, "page.html", pages.PageData{
		Markdown: template.HTML(`<h1 id="hi">Hi</h1>`),
		Title:    "Hi",
		Path:     "/hi",
	})
	for _, want := range []string{`<h1 id="hi">Hi</h1>`, "<title>Hi | pagesite</title>", `data-path="/hi"`} {
		if !strings.Contains(page, want) {
			t.Errorf("page.html missing %q:\n%s", want, page)
		}
	}

	list := render(t, r, "page_list.html", pages.ListData{
		Title: "Projects",
		Entries: []pages.Entry{{
			Path: "projects/evolve-3d",
			Meta: pages.Meta{Title: "Evolve", Date: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), ShortDescription: "engine"},
		}},
	})
	for _, want := range []string{`<a href="/projects/evolve-3d">Evolve</a>`, `datetime="2024-01-02"`, "<p>engine</p>"} {
		if !strings.Contains(list, want) {
			t.Errorf("page_list.html missing %q:\n%s", want, list)
		}
	}

	empty := render(t, r, "posts_list.html", pages.ListData{})
	if !strings.Contains(empty, "No posts yet.") {
		t.Errorf("posts_list.html empty state:\n%s", empty)
	}

	nf := render(t, r, "404.html", struct{}{})
	if !strings.Contains(nf, "<h1>404</h1>") {
		t.Errorf("404.html:\n%s", nf)
	}
}

func TestLoad_LaterLayerWins(t *testing.T) {
	override := fstest.MapFS{
		"site/page.html":      {Data: []byte(`custom {{.Title}}`)},
		"site/extra/new.html": {Data: []byte(`new`)},
	}
	set, err := Load(webassets.TemplatesFS(), override)
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := set.ExecuteTemplate(&buf, "page.html", pages.PageData{Title: "T"}); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "custom T" {
		t.Fatalf("override not applied: %q", buf.String())
	}
	if set.Lookup("new.html") == nil {
		t.Fatal("nested template not globbed")
	}
	if set.Lookup("404.html") == nil {
		t.Fatal("base template lost")
	}
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(fstest.MapFS{"page.html": {Data: []byte("x")}})
	if !errors.Is(err, ErrMissingTemplate) {
		t.Fatalf("missing required: %v", err)
	}

	broken := fstest.MapFS{"page.html": {Data: []byte("{{ .Title ")}}
	if _, err := Load(webassets.TemplatesFS(), broken); err == nil || !strings.Contains(err.Error(), "page.html") {
		t.Fatalf("parse error should name the file: %v", err)
	}

	if _, err := New(Options{}); err == nil {
		t.Fatal("New without sources should fail")
	}
}

func TestExecute_UnknownTemplate(t *testing.T) {
	r, err := New(Options{Base: webassets.TemplatesFS()})
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := r.Execute(&buf, "nope.html", nil); !errors.Is(err, ErrUnknownTemplate) {
		t.Fatalf("err = %v", err)
	}
}

// Reload

func TestReload_FailureKeepsPrevious(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "page.html", `v1 {{.Title}}`)

	r, err := New(Options{Base: webassets.TemplatesFS(), Dir: dir})
	if err != nil {
		t.Fatal(err)
	}
	if got := render(t, r, "page.html", pages.PageData{Title: "a"}); got != "v1 a" {
		t.Fatalf("got %q", got)
	}

	writeFile(t, dir, "page.html", `{{ if }}`)
	if err := r.Reload(); err == nil {
		t.Fatal("expected reload error")
	}
	if got := render(t, r, "page.html", pages.PageData{Title: "a"}); got != "v1 a" {
		t.Fatalf("previous set not kept: %q", got)
	}

	writeFile(t, dir, "page.html", `v2 {{.Title}}`)
	if err := r.Reload(); err != nil {
		t.Fatal(err)
	}
	if got := render(t, r, "page.html", pages.PageData{Title: "a"}); got != "v2 a" {
		t.Fatalf("got %q", got)
	}
}

// Watch

func TestWatch_NoDir(t *testing.T) {
	r, err := New(Options{Base: webassets.TemplatesFS()})
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Watch(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestWatch_ReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "page.html", `v0`)

	rec := &reloads{}
	r, err := New(Options{Base: webassets.TemplatesFS(), Dir: dir, Recorder: rec, Debounce: 10 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Watch(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for {
		// rewrite until the watcher has picked the directory up
		writeFile(t, dir, "page.html", `changed`)
		time.Sleep(50 * time.Millisecond)
		if render(t, r, "page.html", nil) == "changed" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("template change not picked up")
		}
	}
	if rec.get("ok") == 0 {
		t.Fatal("reload not recorded")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not stop")
	}
}

func TestWatch_BadEditRecordedAsError(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "page.html", `good`)

	rec := &reloads{}
	r, err := New(Options{Base: webassets.TemplatesFS(), Dir: dir, Recorder: rec, Debounce: 10 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = r.Watch(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for rec.get("error") == 0 {
		writeFile(t, dir, "page.html", `{{ end }}`)
		time.Sleep(50 * time.Millisecond)
		if time.Now().After(deadline) {
			t.Fatal("failed reload not recorded")
		}
	}
	if got := render(t, r, "page.html", nil); got != "good" {
		t.Fatalf("bad edit replaced the active set: %q", got)
	}
}
