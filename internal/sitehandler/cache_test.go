package sitehandler

import "testing"

func TestCacheControlForFile(t *testing.T) {
	o := &Options{}
	o.setDefaults()

	tests := []struct {
		name string
		want string
	}{
		{"", "no-cache"},
		{"/about", "no-cache"},
		{"page.html", "no-cache"},
		{"notes.md", "no-cache"},
		{"site.CSS", "public, max-age=600"},
		{"img/logo.png", "public, max-age=600"},
		{"fonts/x.woff2", "public, max-age=600"},
		{"site.3f9a0c1e.css", "public, max-age=31536000, immutable"},
		{"img/logo-5E1B2C3D4F.png", "public, max-age=31536000, immutable"},
		{"app.min.js", "public, max-age=600"},
		{"bundle.3f9a0c.js", "public, max-age=600"},
		{"deadbeefcafe.js", "public, max-age=600"},
		{"feed.xml", "public, max-age=3600"},
		{"cv.pdf", "public, max-age=3600"},
	}
	for _, tt := range tests {
		if got := cacheControlForFile(tt.name, o); got != tt.want {
			t.Errorf("cacheControlForFile(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestFingerprinted(t *testing.T) {
	for name, want := range map[string]bool{
		"a/app.0123abcd.js": true,
		"x-89abcdef01.css":  true,
		"app.0123abcg.js":   false,
		"app.js":            false,
		".0123abcd.css":     false,
	} {
		if got := fingerprinted(name); got != want {
			t.Errorf("fingerprinted(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestCacheControlForStatus(t *testing.T) {
	o := &Options{}
	o.setDefaults()

	if got := cacheControlForStatus(404, "x.css", o); got != "no-store" {
		t.Fatalf("404 = %q", got)
	}
	if got := cacheControlForStatus(500, "", o); got != "no-store" {
		t.Fatalf("500 = %q", got)
	}
	if got := cacheControlForStatus(200, "x.css", o); got != o.AssetCacheControl {
		t.Fatalf("200 = %q", got)
	}
}
