package sitehandler

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/keithlinneman/pagesite/internal/log"
	"github.com/keithlinneman/pagesite/internal/pages"
)

var ErrInvalidOptions = errors.New("sitehandler: invalid options")

// Pages renders HTML responses. *pages.Renderer satisfies it.
type Pages interface {
	Render(ctx context.Context, logical string) (*pages.Response, error)
	ListPosts(ctx context.Context) (*pages.Response, error)
	NotFoundPage(ctx context.Context) (*pages.Response, error)
}

type Options struct {
	Logger log.Logger

	Pages Pages

	// Assets is the content tree /assets/* is served from, under AssetsDir
	Assets    pages.Source
	AssetsDir string // default: "assets"

	// FallbackFS holds MaintenanceFile, served with 503 while no content is
	// active
	FallbackFS      fs.FS
	MaintenanceFile string // default: "maintenance.html"

	// Cache policies applied by file extension. Static assets whose name
	// carries a content hash (site.3f9a0c1e.css) get HashedCacheControl,
	// other static assets can change on a content swap and stay short lived.
	HTMLCacheControl   string // default: "no-cache"
	AssetCacheControl  string // default: "public, max-age=600"
	HashedCacheControl string // default: "public, max-age=31536000, immutable"
	OtherCacheControl  string // default: "public, max-age=3600"
}

func (o *Options) setDefaults() {
	if o.Logger == nil {
		o.Logger = log.Nop()
	}
	if o.AssetsDir == "" {
		o.AssetsDir = "assets"
	}
	if o.MaintenanceFile == "" {
		o.MaintenanceFile = "maintenance.html"
	}
	if o.HTMLCacheControl == "" {
		o.HTMLCacheControl = "no-cache"
	}
	if o.AssetCacheControl == "" {
		o.AssetCacheControl = "public, max-age=600"
	}
	if o.HashedCacheControl == "" {
		o.HashedCacheControl = "public, max-age=31536000, immutable"
	}
	if o.OtherCacheControl == "" {
		o.OtherCacheControl = "public, max-age=3600"
	}
}

func (o *Options) validate() error {
	if o.Pages == nil {
		return fmt.Errorf("%w: Pages is nil", ErrInvalidOptions)
	}
	if o.Assets == nil {
		return fmt.Errorf("%w: Assets is nil", ErrInvalidOptions)
	}
	if o.FallbackFS == nil {
		return fmt.Errorf("%w: FallbackFS is nil", ErrInvalidOptions)
	}
	if dir, ok := cleanDir(o.AssetsDir); !ok || dir == "" {
		return fmt.Errorf("%w: AssetsDir %q is not a directory name", ErrInvalidOptions, o.AssetsDir)
	}
	return nil
}
