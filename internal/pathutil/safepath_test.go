package pathutil

import (
	"io/fs"
	"strings"
	"testing"
)

// dotfiles and "..." are ordinary names
func TestHasDotSegments(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/normal/path", false},
		{"/path/./here", true},
		{"/path/../up", true},
		{".", true},
		{"..", true},
		{"/...", false},     // three dots is not a dot segment
		{"/.hidden", false}, // dotfile, not a dot segment
		{"/.dotdir/file", false},
		{"/path/to/.", true},
		{"/./", true},
		{"/../", true},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got := HasDotSegments(tt.path)
			if got != tt.want {
				t.Errorf("HasDotSegments(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}
func FuzzHasDotSegments(f *testing.F) {
	f.Add("foo/./bar")
	f.Add("foo/../bar")
	f.Add("./foo")
	f.Add("foo/.")
	f.Add(".")
	f.Add("..")
	f.Add("foo/bar")
	f.Add("...")

	f.Fuzz(func(t *testing.T, p string) {
		result := HasDotSegments(p)
		// must agree with a plain segment scan
		segments := strings.Split(p, "/")
		hasDangerousSegment := false
		for _, seg := range segments {
			if seg == "." || seg == ".." {
				hasDangerousSegment = true
				break
			}
		}
		if result != hasDangerousSegment {
			t.Errorf("HasDotSegments(%q) = %v, segment scan = %v", p, result, hasDangerousSegment)
		}
	})
}

func TestCleanLogical(t *testing.T) {
	tests := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{"", "", true},
		{"/", "", true},
		{"///", "", true},
		{"projects/evolve-3d", "projects/evolve-3d", true},
		{"/projects/evolve-3d/", "projects/evolve-3d", true},
		{"projects//evolve-3d", "projects/evolve-3d", true},
		{"/.well-known/x", ".well-known/x", true},
		{"../etc/passwd", "", false},
		{"projects/../../secret", "", false},
		{"projects/./x", "", false},
		{"a\\b", "", false},
		{"a\x00b", "", false},
	}
	for _, tt := range tests {
		got, ok := CleanLogical(tt.in)
		if ok != tt.wantOK || got != tt.want {
			t.Errorf("CleanLogical(%q) = (%q, %v), want (%q, %v)", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func FuzzCleanLogical(f *testing.F) {
	for _, s := range []string{"", "/", "a/b", "../x", "a//b/", "a\\b", "\xff/x"} {
		f.Add(s)
	}
	f.Fuzz(func(t *testing.T, p string) {
		name, ok := CleanLogical(p)
		if !ok {
			return
		}
		if name == "" {
			return
		}
		if !fs.ValidPath(name) {
			t.Fatalf("CleanLogical(%q) = %q, not a valid fs path", p, name)
		}
		if HasDotSegments(name) || strings.HasPrefix(name, "/") {
			t.Fatalf("CleanLogical(%q) = %q escapes root", p, name)
		}
	})
}
