// Package tmpl holds the page templates. The active set can be swapped at
// runtime while requests are executing against the previous one.
package tmpl

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"sync/atomic"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"github.com/keithlinneman/pagesite/internal/log"
	"github.com/keithlinneman/pagesite/internal/xerrors"
)

const pattern = "**/*.html"

var (
	ErrUnknownTemplate = errors.New("tmpl: unknown template")
	ErrMissingTemplate = errors.New("tmpl: required template missing")
)

// Required are the names every loaded set must define.
var Required = []string{"page.html", "page_list.html", "posts_list.html", "404.html"}

// Recorder receives reload results ("ok" or "error").
type Recorder interface {
	TemplateReload(result string)
}

type nopRecorder struct{}

func (nopRecorder) TemplateReload(string) {}

type Options struct {
	// Base is always loaded first, normally webassets.TemplatesFS()
	Base fs.FS

	// Dir is an optional directory whose templates replace same-named ones
	// from Base. Watch follows it.
	Dir string

	Logger   log.Logger
	Recorder Recorder

	// Debounce groups bursts of file events, default 100ms
	Debounce time.Duration
}

type Registry struct {
	opts   Options
	active atomic.Pointer[template.Template]
}

// New loads the initial set. It fails if that set does not parse.
func New(opts Options) (*Registry, error) {
	if opts.Base == nil && opts.Dir == "" {
		return nil, xerrors.New("tmpl: no template source")
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}
	if opts.Debounce <= 0 {
		opts.Debounce = 100 * time.Millisecond
	}
	r := &Registry{opts: opts}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

func funcs() template.FuncMap {
	return template.FuncMap{
		"date": func(t time.Time) string {
			if t.IsZero() {
				return ""
			}
			return t.Format("2006-01-02")
		},
	}
}

// Load parses every *.html file from layers into one set named by base file
// name. A later layer replaces same-named files of an earlier one.
func Load(layers ...fs.FS) (*template.Template, error) {
	sources := map[string][]byte{}
	for _, fsys := range layers {
		if fsys == nil {
			continue
		}
		matches, err := doublestar.Glob(fsys, pattern)
		if err != nil {
			return nil, xerrors.Wrap(err, "glob templates")
		}
		for _, m := range matches {
			b, err := fs.ReadFile(fsys, m)
			if err != nil {
				return nil, xerrors.Wrapf(err, "read template %s", m)
			}
			sources[path.Base(m)] = b
		}
	}

	names := make([]string, 0, len(sources))
	for n := range sources {
		names = append(names, n)
	}
	slices.Sort(names)

	root := template.New("").Funcs(funcs())
	for _, n := range names {
		if _, err := root.New(n).Parse(string(sources[n])); err != nil {
			return nil, xerrors.Wrapf(err, "parse template %s", n)
		}
	}
	for _, n := range Required {
		if root.Lookup(n) == nil {
			return nil, fmt.Errorf("%w: %s", ErrMissingTemplate, n)
		}
	}
	return root, nil
}

// Reload parses the layers again and swaps them in. On error the previous
// set stays active.
func (r *Registry) Reload() error {
	layers := []fs.FS{r.opts.Base}
	if r.opts.Dir != "" {
		layers = append(layers, os.DirFS(r.opts.Dir))
	}
	t, err := Load(layers...)
	if err != nil {
		return err
	}
	r.active.Store(t)
	return nil
}

// Execute renders the named template from the active set.
func (r *Registry) Execute(w io.Writer, name string, data any) error {
	t := r.active.Load()
	if t == nil || t.Lookup(name) == nil {
		return fmt.Errorf("%w: %s", ErrUnknownTemplate, name)
	}
	return t.ExecuteTemplate(w, name, data)
}

// Watch reloads the set when files under Dir change, until ctx ends.
// Without a Dir it returns immediately.
func (r *Registry) Watch(ctx context.Context) error {
	if r.opts.Dir == "" {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return xerrors.Wrap(err, "create template watcher")
	}
	defer w.Close()

	err = filepath.WalkDir(r.opts.Dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(p)
		}
		return nil
	})
	if err != nil {
		return xerrors.Wrapf(err, "watch templates dir %s", r.opts.Dir)
	}

	lg := r.opts.Logger.With("component", "tmpl", "dir", r.opts.Dir)
	lg.Info(ctx, "watching templates")

	timer := time.NewTimer(r.opts.Debounce)
	timer.Stop()
	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op == fsnotify.Chmod {
				continue
			}
			if ev.Has(fsnotify.Create) {
				if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
					_ = w.Add(ev.Name)
				}
			}
			lg.Debug(ctx, "template change", "event", ev.String())
			timer.Reset(r.opts.Debounce)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			lg.Warn(ctx, "template watcher error", "error", err)
		case <-timer.C:
			if err := r.Reload(); err != nil {
				r.opts.Recorder.TemplateReload("error")
				lg.Error(ctx, err, "template reload failed, keeping previous set")
				continue
			}
			r.opts.Recorder.TemplateReload("ok")
			lg.Info(ctx, "templates reloaded")
		}
	}
}
