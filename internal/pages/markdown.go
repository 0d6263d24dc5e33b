package pages

import (
	"bytes"
	"path"
	"strings"

	"github.com/adrg/frontmatter"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	gmhtml "github.com/yuin/goldmark/renderer/html"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Markdown converts page sources to HTML. Safe for concurrent use.
type Markdown struct {
	md goldmark.Markdown
}

func NewMarkdown() *Markdown {
	return &Markdown{
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM, extension.Linkify, extension.TaskList),
			goldmark.WithParserOptions(parser.WithAutoHeadingID()),
			// page sources are written by the site owner
			goldmark.WithRendererOptions(gmhtml.WithUnsafe()),
		),
	}
}

// frontMatter is the optional header block of a page source
type frontMatter struct {
	Title string `yaml:"title" toml:"title"`
}

// Render returns the HTML for src with any front matter block removed.
func (m *Markdown) Render(src []byte) []byte {
	body, _ := splitFrontMatter(src)
	return m.convert(body)
}

func (m *Markdown) render(src []byte) ([]byte, frontMatter) {
	body, fm := splitFrontMatter(src)
	return m.convert(body), fm
}

// splitFrontMatter separates the header block from the page body. A
// malformed header is rendered as ordinary text.
func splitFrontMatter(src []byte) ([]byte, frontMatter) {
	var fm frontMatter
	body, err := frontmatter.Parse(bytes.NewReader(src), &fm)
	if err != nil {
		return src, frontMatter{}
	}
	return body, fm
}

func (m *Markdown) convert(body []byte) []byte {
	var buf bytes.Buffer
	if err := m.md.Convert(body, &buf); err != nil {
		// goldmark only fails on writer errors, which a Buffer never returns
		return nil
	}
	return buf.Bytes()
}

// TitleFor derives a display title from a logical path:
// "projects/evolve-3d" becomes "Evolve 3d".
func TitleFor(logical string) string {
	base := path.Base(strings.Trim(logical, "/"))
	if base == "." || base == "" {
		return "Home"
	}
	base = strings.TrimSuffix(base, path.Ext(base))
	base = strings.NewReplacer("-", " ", "_", " ").Replace(base)
	// Casers keep state, so one per call
	return cases.Title(language.English).String(base)
}
