// Package cfg holds the server's flags. Every flag can also come from the
// environment: -foo-bar reads PAGESITE_FOO_BAR unless passed on the command
// line.
package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/keithlinneman/pagesite/internal/log"
	"github.com/keithlinneman/pagesite/internal/pages"
)

const EnvPrefix = "PAGESITE_"

type App struct {
	LogJSON         bool
	LogLevel        string
	StacktraceLevel string
	MaxErrorLinks   int

	HTTPPort    int
	AdminPort   int
	TrustedHops int

	ContentDir     string
	TemplatesDir   string
	AssetsDir      string
	ListingOrder   string
	RenderCache    int
	TemplateReload bool

	RateLimitRPS   float64
	RateLimitBurst int

	EnablePprof     bool
	EnableTracing   bool
	OTLPEndpoint    string
	OTLPInsecure    bool
	TraceSample     float64
	EnablePyroscope bool
	PyroServer      string
	PyroTenantID    string

	ContentS3Bucket      string
	ContentS3Prefix      string
	ContentSSMParam      string
	ContentSigningKeyARN string
	ContentPollInterval  time.Duration
}

// S3Content reports whether content comes from S3 bundles instead of
// ContentDir.
func (c App) S3Content() bool { return c.ContentS3Bucket != "" }

// Register binds every field to fs with its default.
func Register(fs *flag.FlagSet, c *App) {
	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "lowest level that logs a stack: debug|info|warn|error")
	fs.IntVar(&c.MaxErrorLinks, "max-error-links", 5, "wrap sites logged per error chain (0..64)")

	fs.IntVar(&c.HTTPPort, "http-port", 8080, "public listen TCP port (1..65535)")
	fs.IntVar(&c.AdminPort, "admin-port", 9000, "ops listen TCP port for metrics, health and pprof (1..65535)")
	fs.IntVar(&c.TrustedHops, "trusted-hops", 0, "reverse proxies in front of the server whose X-Forwarded-For is trusted")

	fs.StringVar(&c.ContentDir, "content-dir", "content", "directory of Markdown pages, sidecars and assets")
	fs.StringVar(&c.TemplatesDir, "templates-dir", "", "directory of *.html templates layered over the built-in ones")
	fs.StringVar(&c.AssetsDir, "assets-dir", "assets", "directory under the content root served at /assets/")
	fs.StringVar(&c.ListingOrder, "listing-order", string(pages.OrderDate), "directory listing order: date|title|path")
	fs.IntVar(&c.RenderCache, "render-cache", 0, "converted Markdown pages to keep in memory, 0 disables")
	fs.BoolVar(&c.TemplateReload, "template-reload", false, "reload templates from -templates-dir when they change")

	fs.Float64Var(&c.RateLimitRPS, "rate-limit-rps", 10, "requests per second per client, 0 disables rate limiting")
	fs.IntVar(&c.RateLimitBurst, "rate-limit-burst", 30, "burst size per client")

	fs.BoolVar(&c.EnablePprof, "enable-pprof", false, "serve /debug/pprof on the ops port")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "export traces to -otlp-endpoint")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP gRPC collector (host:port)")
	fs.BoolVar(&c.OTLPInsecure, "otlp-insecure", false, "send traces without TLS")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.1, "trace sampling ratio (0..1)")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "push profiles to -pyro-server")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server URL")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "pyroscope tenant (X-Scope-OrgID)")

	fs.StringVar(&c.ContentS3Bucket, "content-s3-bucket", "", "serve content bundles from this S3 bucket instead of -content-dir")
	fs.StringVar(&c.ContentS3Prefix, "content-s3-prefix", "", "key prefix of bundles in -content-s3-bucket")
	fs.StringVar(&c.ContentSSMParam, "content-ssm-param", "", "SSM parameter holding the sha256 of the bundle to serve")
	fs.StringVar(&c.ContentSigningKeyARN, "content-signing-key-arn", "", "KMS key whose signature every bundle must carry")
	fs.DurationVar(&c.ContentPollInterval, "content-poll-interval", 30*time.Second, "how often to check -content-ssm-param")
}

// EnvKey is the variable that feeds flag name.
func EnvKey(prefix, name string) string {
	return prefix + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
}

// FillFromEnv sets flags the command line left alone from the environment.
// Precedence is flag, then env, then default. Bad env values keep the
// default and are reported through logf.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	onCLI := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { onCLI[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := EnvKey(prefix, f.Name)
		val, ok := os.LookupEnv(key)
		if !ok {
			return
		}
		if onCLI[f.Name] {
			logf("flag -%s=%q overrides %s", f.Name, f.Value.String(), key)
			return
		}
		prev := f.Value.String()
		if err := fs.Set(f.Name, val); err != nil {
			_ = fs.Set(f.Name, prev)
			logf("ignoring %s=%q: %v", key, val, err)
		}
	})
}

func validPort(p int) bool { return p >= 1 && p <= 65535 }

// Validate reports every bad field at once.
func Validate(c App) error {
	var errs []error
	bad := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if !validPort(c.HTTPPort) {
		bad("http-port %d out of range 1..65535", c.HTTPPort)
	}
	if !validPort(c.AdminPort) {
		bad("admin-port %d out of range 1..65535", c.AdminPort)
	}
	if c.HTTPPort == c.AdminPort {
		bad("http-port and admin-port are both %d", c.HTTPPort)
	}
	if c.TrustedHops < 0 {
		bad("trusted-hops %d is negative", c.TrustedHops)
	}

	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		bad("log-level: %w", err)
	}
	if _, err := log.ParseLevel(c.StacktraceLevel); err != nil {
		bad("stacktrace-level: %w", err)
	}
	if c.MaxErrorLinks < 0 || c.MaxErrorLinks > 64 {
		bad("max-error-links %d out of range 0..64", c.MaxErrorLinks)
	}

	if _, err := pages.ParseListingOrder(c.ListingOrder); err != nil {
		bad("listing-order: %w", err)
	}
	if c.RenderCache < 0 {
		bad("render-cache %d is negative", c.RenderCache)
	}
	if c.TemplateReload && c.TemplatesDir == "" {
		bad("template-reload needs templates-dir")
	}
	if c.AssetsDir == "" {
		bad("assets-dir is empty")
	}

	if c.RateLimitRPS < 0 {
		bad("rate-limit-rps %g is negative", c.RateLimitRPS)
	}
	if c.RateLimitRPS > 0 && c.RateLimitBurst < 1 {
		bad("rate-limit-burst must be at least 1 when rate limiting is on")
	}

	if c.TraceSample < 0 || c.TraceSample > 1 {
		bad("trace-sample %g out of range 0..1", c.TraceSample)
	}
	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			bad("otlp-endpoint required with enable-tracing")
		} else if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			bad("otlp-endpoint %q is not host:port", c.OTLPEndpoint)
		}
	}
	if c.EnablePyroscope {
		if u, err := url.Parse(c.PyroServer); c.PyroServer == "" || err != nil || u.Scheme == "" || u.Host == "" {
			bad("pyro-server must be a URL with enable-pyroscope (got %q)", c.PyroServer)
		}
	}

	if c.S3Content() {
		if c.ContentSSMParam == "" {
			bad("content-ssm-param required with content-s3-bucket")
		}
		if c.ContentPollInterval < time.Second {
			bad("content-poll-interval %s is under 1s", c.ContentPollInterval)
		}
	} else {
		if c.ContentDir == "" {
			bad("content-dir is empty")
		}
		if c.ContentSigningKeyARN != "" {
			bad("content-signing-key-arn only applies to content-s3-bucket")
		}
	}

	return errors.Join(errs...)
}
