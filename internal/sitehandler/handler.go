package sitehandler

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"strconv"
	"strings"

	"github.com/keithlinneman/pagesite/internal/log"
	"github.com/keithlinneman/pagesite/internal/pages"
)

type Handler struct {
	opts        Options
	assetsDir   string
	maintenance []byte
}

func New(opts Options) (*Handler, error) {
	opts.setDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	// fail at boot if the binary was packaged without it
	body, err := fs.ReadFile(opts.FallbackFS, opts.MaintenanceFile)
	if err != nil {
		return nil, fmt.Errorf("%w: missing %q in fallback FS: %v", ErrInvalidOptions, opts.MaintenanceFile, err)
	}
	dir, _ := cleanDir(opts.AssetsDir)
	return &Handler{opts: opts, assetsDir: dir, maintenance: body}, nil
}

// allowRead answers 405 for anything but GET and HEAD.
func allowRead(w http.ResponseWriter, r *http.Request) bool {
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		return true
	}
	w.Header().Set("Allow", "GET, HEAD")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusMethodNotAllowed)
	return false
}

// ServeHTTP renders the page at the request path.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !allowRead(w, r) {
		return
	}
	resp, err := h.opts.Pages.Render(r.Context(), r.URL.Path)
	if err != nil {
		h.serveError(w, r, err)
		return
	}
	h.writeResponse(w, r, resp, r.URL.Path)
}

// Posts renders the posts listing.
func (h *Handler) Posts(w http.ResponseWriter, r *http.Request) {
	if !allowRead(w, r) {
		return
	}
	resp, err := h.opts.Pages.ListPosts(r.Context())
	if err != nil {
		h.serveError(w, r, err)
		return
	}
	h.writeResponse(w, r, resp, "")
}

// NotFound renders the themed 404 page for routes nothing else claimed.
func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	resp, err := h.opts.Pages.NotFoundPage(r.Context())
	if err != nil {
		h.serveError(w, r, err)
		return
	}
	h.writeResponse(w, r, resp, "")
}

func (h *Handler) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	if allowRead(w, r) {
		h.NotFound(w, r)
	}
}

// Asset streams a file from the assets directory as a download.
func (h *Handler) Asset(w http.ResponseWriter, r *http.Request) {
	if !allowRead(w, r) {
		return
	}
	fsys, ok := h.opts.Assets.ContentFS()
	if !ok {
		h.serveMaintenance(w, r)
		return
	}

	name, err := assetName(h.assetsDir, wildcard(r, "/assets/"))
	if err != nil {
		h.serveError(w, r, err)
		return
	}
	if fi, err := fs.Stat(fsys, name); err == nil && fi.IsDir() {
		h.serveError(w, r, &pages.Error{Kind: pages.NotFound, Op: "asset", Path: name})
		return
	}

	of, err := pages.Open(fsys, name)
	if err != nil {
		h.serveError(w, r, err)
		return
	}
	defer of.Close()

	hdr := w.Header()
	hdr.Set("Content-Type", of.ContentType)
	hdr.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", of.Name))
	hdr.Set("Cache-Control", cacheControlForFile(name, &h.opts))
	if fi, err := of.File.Stat(); err == nil {
		hdr.Set("Content-Length", strconv.FormatInt(fi.Size(), 10))
	}
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.Copy(w, of.File); err != nil {
		// headers are gone, all that is left is to note it
		log.FromContext(r.Context()).Warn(r.Context(), "asset copy interrupted", "file", name, "error", err.Error())
	}
}

func (h *Handler) writeResponse(w http.ResponseWriter, r *http.Request, resp *pages.Response, name string) {
	hdr := w.Header()
	hdr.Set("Content-Type", resp.ContentType)
	hdr.Set("Content-Length", strconv.Itoa(len(resp.Body)))
	if strings.HasPrefix(resp.ContentType, "text/html") {
		name = ""
	}
	hdr.Set("Cache-Control", cacheControlForStatus(resp.Status, name, &h.opts))
	w.WriteHeader(resp.Status)
	if r.Method != http.MethodHead {
		_, _ = w.Write(resp.Body)
	}
}

func (h *Handler) serveError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, pages.ErrNoContent) {
		h.serveMaintenance(w, r)
		return
	}

	status := pages.StatusOf(err)
	ctx := r.Context()
	l := log.FromContext(ctx)
	if status >= http.StatusInternalServerError {
		l.Error(ctx, err, "page failed", "kind", pages.KindOf(err).String())
	} else {
		l.Debug(ctx, "page rejected", "kind", pages.KindOf(err).String(), "status", status, "error", err.Error())
	}

	msg := pages.Message(err)
	hdr := w.Header()
	hdr.Set("Content-Type", "text/plain; charset=utf-8")
	hdr.Set("Content-Length", strconv.Itoa(len(msg)+1))
	hdr.Set("Cache-Control", "no-store")
	hdr.Del("Content-Disposition")
	w.WriteHeader(status)
	if r.Method != http.MethodHead {
		_, _ = io.WriteString(w, msg+"\n")
	}
}

func (h *Handler) serveMaintenance(w http.ResponseWriter, r *http.Request) {
	hdr := w.Header()
	hdr.Set("Content-Type", "text/html; charset=utf-8")
	hdr.Set("Content-Length", strconv.Itoa(len(h.maintenance)))
	hdr.Set("Cache-Control", "no-store")
	hdr.Set("Retry-After", "60")
	w.WriteHeader(http.StatusServiceUnavailable)
	if r.Method != http.MethodHead {
		_, _ = w.Write(h.maintenance)
	}
}
