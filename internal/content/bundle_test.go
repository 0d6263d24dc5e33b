package content

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io/fs"
	"sort"
	"strings"
	"testing"
	"time"
)

func sha256hex(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

type tarEntry struct {
	name string
	body string
	typ  byte
}

// makeTarGz writes entries in order; typ 0 means a regular file
func makeTarGz(t *testing.T, entries ...tarEntry) []byte {
	t.Helper()
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)

	for _, e := range entries {
		hdr := &tar.Header{Name: e.name, Mode: 0o644, ModTime: time.Unix(1700000000, 0), Typeflag: e.typ}
		switch e.typ {
		case 0, tar.TypeReg:
			hdr.Typeflag = tar.TypeReg
			hdr.Size = int64(len(e.body))
		case tar.TypeDir:
			hdr.Mode = 0o755
		case tar.TypeSymlink, tar.TypeLink:
			hdr.Linkname = e.body
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("header %q: %v", e.name, err)
		}
		if hdr.Typeflag == tar.TypeReg {
			if _, err := tw.Write([]byte(e.body)); err != nil {
				t.Fatalf("write %q: %v", e.name, err)
			}
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("close tar: %v", err)
	}
	if err := gw.Close(); err != nil {
		t.Fatalf("close gzip: %v", err)
	}
	return buf.Bytes()
}

func file(name, body string) tarEntry { return tarEntry{name: name, body: body} }

func listFiles(t *testing.T, fsys fs.FS) []string {
	t.Helper()
	var out []string
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			out = append(out, p)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("walk: %v", err)
	}
	sort.Strings(out)
	return out
}

// readWithHash

func TestReadWithHash(t *testing.T) {
	data := []byte("hello bundle")
	got, sum, err := readWithHash(bytes.NewReader(data), 100)
	if err != nil {
		t.Fatalf("readWithHash: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("data = %q", got)
	}
	if sum != sha256hex(data) {
		t.Fatalf("sum = %s, want %s", sum, sha256hex(data))
	}
}

func TestReadWithHash_ExactlyAtLimit(t *testing.T) {
	if _, _, err := readWithHash(strings.NewReader("12345"), 5); err != nil {
		t.Fatalf("5 bytes with max 5: %v", err)
	}
}

func TestReadWithHash_OverLimit(t *testing.T) {
	_, _, err := readWithHash(strings.NewReader("123456"), 5)
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("err = %v, want ErrTooLarge", err)
	}
}

// extractTarGz

func TestExtract_Basic(t *testing.T) {
	data := makeTarGz(t,
		file("index.md", "# Home"),
		tarEntry{name: "posts/", typ: tar.TypeDir},
		file("posts/first.md", "first"),
		file("posts/first.toml", `title = "First"`),
	)
	fsys, err := extractTarGz(data, DefaultLimits())
	if err != nil {
		t.Fatalf("extract: %v", err)
	}

	want := []string{"index.md", "posts/first.md", "posts/first.toml"}
	got := listFiles(t, fsys)
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("files = %v, want %v", got, want)
	}

	b, err := fs.ReadFile(fsys, "posts/first.md")
	if err != nil || string(b) != "first" {
		t.Fatalf("posts/first.md = %q, %v", b, err)
	}
	fi, err := fs.Stat(fsys, "posts")
	if err != nil || !fi.IsDir() {
		t.Fatalf("posts should be a directory: %v", err)
	}
	fi, _ = fs.Stat(fsys, "index.md")
	if !fi.ModTime().Equal(time.Unix(1700000000, 0)) {
		t.Fatalf("modtime = %v", fi.ModTime())
	}
}

func TestExtract_DotSlashPrefix(t *testing.T) {
	data := makeTarGz(t,
		tarEntry{name: "./", typ: tar.TypeDir},
		file("./index.md", "# Home"),
		file("./assets/cv.pdf", "%PDF"),
	)
	fsys, err := extractTarGz(data, DefaultLimits())
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if _, err := fs.Stat(fsys, "assets/cv.pdf"); err != nil {
		t.Fatalf("assets/cv.pdf: %v", err)
	}
}

// directories listed only through their files still show up in ReadDir
func TestExtract_ImplicitDirectories(t *testing.T) {
	data := makeTarGz(t, file("a/b/c.md", "x"))
	fsys, err := extractTarGz(data, DefaultLimits())
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	ents, err := fs.ReadDir(fsys, "a/b")
	if err != nil || len(ents) != 1 || ents[0].Name() != "c.md" {
		t.Fatalf("ReadDir(a/b) = %v, %v", ents, err)
	}
}

func TestExtract_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		entry tarEntry
	}{
		{"parent traversal", file("../etc/passwd", "x")},
		{"nested traversal", file("posts/../../x", "x")},
		{"absolute", file("/etc/passwd", "x")},
		{"backslash", file(`posts\evil.md`, "x")},
		{"symlink", tarEntry{name: "link", body: "/etc/passwd", typ: tar.TypeSymlink}},
		{"hardlink", tarEntry{name: "hard", body: "index.md", typ: tar.TypeLink}},
		{"fifo", tarEntry{name: "pipe", typ: tar.TypeFifo}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := makeTarGz(t, file("index.md", "# Home"), tt.entry)
			if _, err := extractTarGz(data, DefaultLimits()); err == nil {
				t.Fatalf("expected %s to be rejected", tt.entry.name)
			}
		})
	}
}

func TestExtract_FileLimit(t *testing.T) {
	data := makeTarGz(t, file("big.md", strings.Repeat("x", 11)))
	_, err := extractTarGz(data, Limits{Bundle: 1 << 20, File: 10, Total: 1 << 20})
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("err = %v, want ErrTooLarge", err)
	}
}

func TestExtract_TotalLimit(t *testing.T) {
	data := makeTarGz(t,
		file("a.md", strings.Repeat("a", 8)),
		file("b.md", strings.Repeat("b", 8)),
	)
	_, err := extractTarGz(data, Limits{Bundle: 1 << 20, File: 10, Total: 15})
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("err = %v, want ErrTooLarge", err)
	}
}

func TestExtract_NotGzip(t *testing.T) {
	if _, err := extractTarGz([]byte("plain text"), DefaultLimits()); err == nil {
		t.Fatal("expected gzip error")
	}
}

func TestExtract_Empty(t *testing.T) {
	fsys, err := extractTarGz(makeTarGz(t), DefaultLimits())
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if got := listFiles(t, fsys); len(got) != 0 {
		t.Fatalf("files = %v", got)
	}
}
