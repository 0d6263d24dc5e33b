package pages

import (
	"cmp"
	"context"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/BurntSushi/toml"

	"github.com/keithlinneman/pagesite/internal/log"
)

// Meta is the content of one sidecar file.
type Meta struct {
	Title            string    `toml:"title"`
	Date             time.Time `toml:"date"`
	ShortDescription string    `toml:"short_description"`
}

// Entry is one row of a directory listing. Path is the sidecar path without
// its extension, relative to the content root, so it doubles as the page URL.
type Entry struct {
	Meta Meta
	Path string
}

// ListingOrder decides how directory listings are sorted.
type ListingOrder string

const (
	OrderDate  ListingOrder = "date"
	OrderTitle ListingOrder = "title"
	OrderPath  ListingOrder = "path"
)

func ParseListingOrder(s string) (ListingOrder, error) {
	switch o := ListingOrder(strings.ToLower(strings.TrimSpace(s))); o {
	case "":
		return OrderDate, nil
	case OrderDate, OrderTitle, OrderPath:
		return o, nil
	}
	return "", fmt.Errorf("unknown listing order %q (want date|title|path)", s)
}

// ListMetadata reads every sidecar directly inside dir and returns the
// entries newest first. A sidecar that cannot be read or decoded fails the
// whole listing. A sidecar whose name is not valid UTF-8 is skipped with a
// warning.
func ListMetadata(ctx context.Context, fsys fs.FS, dir string) ([]Entry, error) {
	entries, _, err := listMetadata(ctx, fsys, dir, OrderDate)
	return entries, err
}

func listMetadata(ctx context.Context, fsys fs.FS, dir string, order ListingOrder) ([]Entry, int, error) {
	const op = "list"
	if dir == "" {
		dir = "."
	}

	des, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, 0, newError(ReadFailure, op, dir, err)
	}

	var (
		out     []Entry
		skipped int
	)
	for _, de := range des {
		if err := ctx.Err(); err != nil {
			return nil, skipped, newError(ReadFailure, op, dir, err)
		}
		name := de.Name()
		if !de.Type().IsRegular() || path.Ext(name) != SidecarExt {
			continue
		}
		if !utf8.ValidString(name) {
			log.FromContext(ctx).Warn(ctx, "skipping sidecar with non UTF-8 name",
				"dir", dir,
				"name", fmt.Sprintf("%q", name),
			)
			skipped++
			continue
		}

		p := path.Join(dir, name)
		raw, err := fs.ReadFile(fsys, p)
		if err != nil {
			return nil, skipped, newError(ReadFailure, op, p, err)
		}
		var m Meta
		if _, err := toml.Decode(string(raw), &m); err != nil {
			return nil, skipped, newError(ParseFailure, op, p, err)
		}
		out = append(out, Entry{Meta: m, Path: stem(p)})
	}

	sortEntries(out, order)
	return out, skipped, nil
}

func sortEntries(es []Entry, order ListingOrder) {
	byPath := func(a, b Entry) int { return cmp.Compare(a.Path, b.Path) }
	switch order {
	case OrderPath:
		slices.SortFunc(es, byPath)
	case OrderTitle:
		slices.SortFunc(es, func(a, b Entry) int {
			if c := cmp.Compare(strings.ToLower(a.Meta.Title), strings.ToLower(b.Meta.Title)); c != 0 {
				return c
			}
			return byPath(a, b)
		})
	default:
		slices.SortFunc(es, func(a, b Entry) int {
			if c := b.Meta.Date.Compare(a.Meta.Date); c != 0 {
				return c
			}
			return byPath(a, b)
		})
	}
}
