package sitehandler

import (
	"net/http"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/pagesite/internal/pages"
	"github.com/keithlinneman/pagesite/internal/pathutil"
)

// wildcard returns what a "/prefix/*" route matched, falling back to the
// raw path minus prefix when the request did not come through chi.
func wildcard(r *http.Request, prefix string) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		keys := rctx.URLParams.Keys
		for i := len(keys) - 1; i >= 0; i-- {
			if keys[i] == "*" {
				return rctx.URLParams.Values[i]
			}
		}
	}
	return strings.TrimPrefix(r.URL.Path, prefix)
}

func cleanDir(dir string) (string, bool) {
	return pathutil.CleanLogical(dir)
}

// assetName maps the part of the URL after /assets/ to a name in the
// content tree. Names with no file component go to pages.Open untouched so
// it can reject them as InvalidName.
func assetName(dir, rest string) (string, error) {
	if rest == "" || strings.HasSuffix(rest, "/") {
		return dir + "/" + rest, nil
	}
	clean, ok := pathutil.CleanLogical(rest)
	if !ok || clean == "" {
		return "", &pages.Error{Kind: pages.NotFound, Op: "asset", Path: rest}
	}
	return path.Join(dir, clean), nil
}
