package pages

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/keithlinneman/pagesite/internal/pathutil"
)

const (
	TemplatePage      = "page.html"
	TemplatePageList  = "page_list.html"
	TemplatePostsList = "posts_list.html"
	Template404       = "404.html"

	IndexFile = "index.md"
	PostsDir  = "posts"

	htmlContentType = "text/html; charset=utf-8"
)

var ErrInvalidOptions = errors.New("pages: invalid options")

// Executor renders a named template. internal/tmpl.Registry satisfies it.
type Executor interface {
	Execute(w io.Writer, name string, data any) error
}

// Source hands out the content tree for one request.
type Source interface {
	ContentFS() (fs.FS, bool)
}

// StaticSource serves a fixed tree.
type StaticSource struct{ FS fs.FS }

func (s StaticSource) ContentFS() (fs.FS, bool) { return s.FS, s.FS != nil }

// SnapshotSource is a Source whose tree can be replaced wholesale. The
// generation changes on every replacement and scopes the Markdown cache.
type SnapshotSource interface {
	Source
	ContentSnapshot() (fsys fs.FS, generation uint64, ok bool)
}

// Recorder receives render outcomes. internal/metrics satisfies it.
type Recorder interface {
	PageRendered(kind, outcome string)
	RenderCacheLookup(hit bool)
	MetadataSkipped(n int)
}

type nopRecorder struct{}

func (nopRecorder) PageRendered(string, string) {}
func (nopRecorder) RenderCacheLookup(bool)      {}
func (nopRecorder) MetadataSkipped(int)         {}

type Options struct {
	Source    Source
	Templates Executor

	// Markdown defaults to NewMarkdown()
	Markdown *Markdown

	// Order of directory listings, default OrderDate
	Order ListingOrder

	// Cache enables the converted Markdown cache
	Cache     bool
	CacheSize int

	Recorder Recorder
}

// Response is a fully rendered reply.
type Response struct {
	Status      int
	ContentType string
	Body        []byte
}

// PageData is handed to page.html.
type PageData struct {
	Markdown template.HTML
	Title    string
	Path     string
}

// ListData is handed to page_list.html and posts_list.html.
type ListData struct {
	Entries []Entry
	Title   string
	Path    string
}

// Renderer turns logical paths into responses. Requests share nothing but
// the optional Markdown cache.
type Renderer struct {
	src    Source
	tmpl   Executor
	md     *Markdown
	order  ListingOrder
	cache  *renderCache
	rec    Recorder
	tracer trace.Tracer
}

func NewRenderer(opts Options) (*Renderer, error) {
	if opts.Source == nil {
		return nil, fmt.Errorf("%w: Source is nil", ErrInvalidOptions)
	}
	if opts.Templates == nil {
		return nil, fmt.Errorf("%w: Templates is nil", ErrInvalidOptions)
	}
	if opts.Markdown == nil {
		opts.Markdown = NewMarkdown()
	}
	if opts.Order == "" {
		opts.Order = OrderDate
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}
	r := &Renderer{
		src:    opts.Source,
		tmpl:   opts.Templates,
		md:     opts.Markdown,
		order:  opts.Order,
		rec:    opts.Recorder,
		tracer: otel.Tracer("github.com/keithlinneman/pagesite/internal/pages"),
	}
	if opts.Cache {
		r.cache = newRenderCache(opts.CacheSize)
	}
	return r, nil
}

func (r *Renderer) contentFS(op, logical string) (fs.FS, uint64, error) {
	var (
		fsys fs.FS
		gen  uint64
		ok   bool
	)
	if ss, isSnap := r.src.(SnapshotSource); isSnap {
		fsys, gen, ok = ss.ContentSnapshot()
	} else {
		fsys, ok = r.src.ContentFS()
	}
	if !ok {
		return nil, 0, newError(ResolutionFailure, op, logical, ErrNoContent)
	}
	return fsys, gen, nil
}

// Render produces the response for a logical path. The root renders
// index.md, unknown paths render the 404 page with status 404.
func (r *Renderer) Render(ctx context.Context, logical string) (resp *Response, err error) {
	ctx, span := r.tracer.Start(ctx, "pages.Render", trace.WithAttributes(attribute.String("page.path", logical)))
	kind := "unknown"
	defer func() { r.finish(span, kind, resp, err) }()

	fsys, gen, err := r.contentFS("render", logical)
	if err != nil {
		return nil, err
	}

	if name, ok := pathutil.CleanLogical(logical); ok && name == "" {
		kind = "index"
		return r.renderMarkdown(ctx, fsys, gen, IndexFile, "")
	}

	t, err := FindPage(fsys, logical)
	if err != nil {
		if KindOf(err) == NotFound {
			kind = "not_found"
			return r.notFound(ctx)
		}
		return nil, err
	}
	span.SetAttributes(attribute.String("page.target", t.Path))

	switch {
	case t.Kind == KindDirectory:
		kind = "directory"
		return r.renderList(ctx, fsys, t.Path, TemplatePageList)
	case t.Markdown:
		kind = "markdown"
		return r.renderMarkdown(ctx, fsys, gen, t.Path, t.Path)
	default:
		kind = "raw"
		return r.renderRaw(fsys, t.Path)
	}
}

// ListPosts renders the posts directory with posts_list.html.
func (r *Renderer) ListPosts(ctx context.Context) (resp *Response, err error) {
	ctx, span := r.tracer.Start(ctx, "pages.ListPosts")
	defer func() { r.finish(span, "posts", resp, err) }()

	fsys, _, err := r.contentFS("list", PostsDir)
	if err != nil {
		return nil, err
	}
	return r.renderList(ctx, fsys, PostsDir, TemplatePostsList)
}

// NotFoundPage renders 404.html with status 404.
func (r *Renderer) NotFoundPage(ctx context.Context) (*Response, error) {
	return r.notFound(ctx)
}

func (r *Renderer) finish(span trace.Span, kind string, resp *Response, err error) {
	outcome := "ok"
	switch {
	case err != nil:
		outcome = KindOf(err).String()
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	case resp != nil && resp.Status >= 400:
		outcome = "not_found"
	}
	if resp != nil {
		span.SetAttributes(attribute.Int("http.response.status_code", resp.Status))
	}
	span.SetAttributes(attribute.String("page.kind", kind))
	span.End()
	r.rec.PageRendered(kind, outcome)
}

func (r *Renderer) execute(name string, status int, data any) (*Response, error) {
	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, name, data); err != nil {
		return nil, newError(TemplateFailure, "execute", name, err)
	}
	return &Response{Status: status, ContentType: htmlContentType, Body: buf.Bytes()}, nil
}

func (r *Renderer) notFound(context.Context) (*Response, error) {
	return r.execute(Template404, http.StatusNotFound, struct{}{})
}

func (r *Renderer) renderList(ctx context.Context, fsys fs.FS, dir, tmpl string) (*Response, error) {
	entries, skipped, err := listMetadata(ctx, fsys, dir, r.order)
	if skipped > 0 {
		r.rec.MetadataSkipped(skipped)
	}
	if err != nil {
		return nil, err
	}
	return r.execute(tmpl, http.StatusOK, ListData{Entries: entries, Title: TitleFor(dir), Path: "/" + dir})
}

func (r *Renderer) renderMarkdown(ctx context.Context, fsys fs.FS, gen uint64, file, logical string) (*Response, error) {
	html, title, err := r.markdown(ctx, fsys, gen, file)
	if err != nil {
		return nil, err
	}
	if title == "" {
		title = TitleFor(logical)
	}
	return r.execute(TemplatePage, http.StatusOK, PageData{
		Markdown: template.HTML(html),
		Title:    title,
		Path:     "/" + stem(logical),
	})
}

func (r *Renderer) markdown(ctx context.Context, fsys fs.FS, gen uint64, file string) ([]byte, string, error) {
	of, err := Open(fsys, file)
	if err != nil {
		return nil, "", err
	}
	defer of.Close()

	var key cacheKey
	useCache := false
	if r.cache != nil {
		if fi, err := of.File.Stat(); err == nil {
			key = cacheKey{generation: gen, path: file, modTime: fi.ModTime().UnixNano(), size: fi.Size()}
			useCache = true
			if c, ok := r.cache.get(key); ok {
				r.rec.RenderCacheLookup(true)
				return c.html, c.title, nil
			}
			r.rec.RenderCacheLookup(false)
		}
	}

	text, err := ReadAllText(of)
	if err != nil {
		return nil, "", err
	}
	_, span := r.tracer.Start(ctx, "pages.markdown", trace.WithAttributes(attribute.Int("markdown.bytes", len(text))))
	html, fm := r.md.render([]byte(text))
	span.End()

	if useCache {
		r.cache.put(key, cached{html: html, title: fm.Title})
	}
	return html, fm.Title, nil
}

func (r *Renderer) renderRaw(fsys fs.FS, file string) (*Response, error) {
	of, err := Open(fsys, file)
	if err != nil {
		return nil, err
	}
	defer of.Close()

	text, err := ReadAllText(of)
	if err != nil {
		return nil, err
	}
	return &Response{Status: http.StatusOK, ContentType: of.ContentType, Body: []byte(text)}, nil
}
