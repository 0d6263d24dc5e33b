// Package sitehttp mounts the public site routes on a chi router.
package sitehttp

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Site is the handler set for the public routes. *sitehandler.Handler
// satisfies it.
type Site interface {
	http.Handler
	Posts(w http.ResponseWriter, r *http.Request)
	Asset(w http.ResponseWriter, r *http.Request)
	NotFound(w http.ResponseWriter, r *http.Request)
	MethodNotAllowed(w http.ResponseWriter, r *http.Request)
}

type Routes struct {
	Site Site
}

func New(site Site) *Routes {
	return &Routes{Site: site}
}

// get registers fn for GET and HEAD.
func get(r chi.Router, pattern string, fn http.HandlerFunc) {
	r.Get(pattern, fn)
	r.Head(pattern, fn)
}

// RegisterRoutes adds the site routes. Routes registered on r before or
// after this call with a more specific pattern win over the "/*" page route.
func (rt *Routes) RegisterRoutes(r chi.Router) {
	if rt.Site == nil {
		return
	}
	get(r, "/", rt.Site.ServeHTTP)
	get(r, "/posts", rt.Site.Posts)
	get(r, "/posts/", rt.Site.Posts)
	get(r, "/assets/*", rt.Site.Asset)
	get(r, "/*", rt.Site.ServeHTTP)

	r.NotFound(rt.Site.NotFound)
	r.MethodNotAllowed(rt.Site.MethodNotAllowed)
}
