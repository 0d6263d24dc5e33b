package sitehandler

import (
	"path"
	"strings"
)

func cacheControlForFile(name string, o *Options) string {
	ext := strings.ToLower(path.Ext(name))

	switch ext {
	case ".html", ".htm", ".md":
		return o.HTMLCacheControl

	case ".css", ".js", ".mjs",
		".png", ".jpg", ".jpeg", ".webp", ".gif", ".svg", ".ico", ".avif",
		".woff", ".woff2", ".ttf", ".eot",
		".map":
		if fingerprinted(name) {
			return o.HashedCacheControl
		}
		return o.AssetCacheControl

	default:
		// extensionless names are rendered pages
		if ext == "" {
			return o.HTMLCacheControl
		}
		return o.OtherCacheControl
	}
}

const minHashLen = 8

// fingerprinted reports whether the file stem ends in a hex content hash,
// as in app.3f9a0c1e.js or logo-5e1b2c3d4f.png.
func fingerprinted(name string) bool {
	base := path.Base(name)
	stem := strings.TrimSuffix(base, path.Ext(base))
	i := strings.LastIndexAny(stem, ".-")
	if i <= 0 {
		return false
	}
	hash := stem[i+1:]
	if len(hash) < minHashLen {
		return false
	}
	for _, c := range hash {
		if !('0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F') {
			return false
		}
	}
	return true
}

// cacheControlForStatus keeps error and maintenance replies out of caches.
func cacheControlForStatus(status int, name string, o *Options) string {
	if status >= 400 {
		return "no-store"
	}
	return cacheControlForFile(name, o)
}
