package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/keithlinneman/pagesite/internal/cfg"
	"github.com/keithlinneman/pagesite/internal/content"
	"github.com/keithlinneman/pagesite/internal/health"
	"github.com/keithlinneman/pagesite/internal/httpmw"
	"github.com/keithlinneman/pagesite/internal/httpserver"
	"github.com/keithlinneman/pagesite/internal/log"
	"github.com/keithlinneman/pagesite/internal/metrics"
	"github.com/keithlinneman/pagesite/internal/opshttp"
	"github.com/keithlinneman/pagesite/internal/otelx"
	"github.com/keithlinneman/pagesite/internal/pages"
	"github.com/keithlinneman/pagesite/internal/prof"
	"github.com/keithlinneman/pagesite/internal/ratelimit"
	"github.com/keithlinneman/pagesite/internal/sitehandler"
	"github.com/keithlinneman/pagesite/internal/sitehttp"
	"github.com/keithlinneman/pagesite/internal/tmpl"
	v "github.com/keithlinneman/pagesite/internal/version"
	"github.com/keithlinneman/pagesite/internal/webassets"
)

const (
	appName = "pagesite"

	// time for the load balancer to see /-/ready fail before listeners close
	drainPeriod = 15 * time.Second
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	vi := v.Get()

	var conf cfg.App
	var showVersion bool
	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "print version and build information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("%s %s\n", appName, vi)
		return 0
	}

	cfg.FillFromEnv(flag.CommandLine, cfg.EnvPrefix, func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})
	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		return 2
	}

	// Validate has already checked both levels
	lvl, _ := log.ParseLevel(conf.LogLevel)
	stackLvl, _ := log.ParseLevel(conf.StacktraceLevel)
	lg, err := log.New(log.Options{
		App:             appName,
		Version:         vi.Version,
		Level:           lvl,
		StacktraceLevel: stackLvl,
		JSON:            conf.LogJSON,
		ErrorLinks:      conf.MaxErrorLinks,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		return 1
	}
	defer func() { _ = lg.Sync() }()
	L := lg.With("component", "server")
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.String(),
		"http_port", conf.HTTPPort,
		"admin_port", conf.AdminPort,
		"content_dir", conf.ContentDir,
		"content_s3_bucket", conf.ContentS3Bucket,
		"templates_dir", conf.TemplatesDir,
		"listing_order", conf.ListingOrder,
		"render_cache", conf.RenderCache,
		"template_reload", conf.TemplateReload,
		"enable_pprof", conf.EnablePprof,
		"enable_tracing", conf.EnableTracing,
		"enable_pyroscope", conf.EnablePyroscope,
		"rate_limit_rps", conf.RateLimitRPS,
		"trusted_hops", conf.TrustedHops,
	)

	m := metrics.New()
	m.SetBuildInfo(appName, vi)

	stopProf, err := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       appName,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags: map[string]string{
			"version": vi.Version,
			"commit":  vi.Commit,
		},
	})
	if err != nil {
		// profiling is optional, keep serving
		L.Error(ctx, err, "pyroscope start failed", "pyro_server", conf.PyroServer)
	}
	m.SetProfilingActive(err == nil && conf.EnablePyroscope)
	defer stopProf()

	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:  conf.EnableTracing,
		Endpoint: conf.OTLPEndpoint,
		Insecure: conf.OTLPInsecure,
		Sample:   conf.TraceSample,
		Service:  appName,
		Version:  vi.Version,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed, tracing disabled")
		shutdownOTEL = func(context.Context) error { return nil }
	}
	defer func() { _ = shutdownOTEL(context.Background()) }()

	contentMgr := content.NewManager()
	if err := startContent(ctx, L, conf, contentMgr, m); err != nil {
		L.Error(ctx, err, "content setup failed")
		return 1
	}

	templates, err := tmpl.New(tmpl.Options{
		Base:     webassets.TemplatesFS(),
		Dir:      conf.TemplatesDir,
		Logger:   L,
		Recorder: m,
	})
	if err != nil {
		L.Error(ctx, err, "failed to load templates", "templates_dir", conf.TemplatesDir)
		return 1
	}
	if conf.TemplateReload {
		go func() {
			if err := templates.Watch(ctx); err != nil {
				L.Error(ctx, err, "template watcher stopped")
			}
		}()
	}

	// Validate has already checked the order
	order, _ := pages.ParseListingOrder(conf.ListingOrder)
	renderer, err := pages.NewRenderer(pages.Options{
		Source:    contentMgr,
		Templates: templates,
		Order:     order,
		Cache:     conf.RenderCache > 0,
		CacheSize: conf.RenderCache,
		Recorder:  m,
	})
	if err != nil {
		L.Error(ctx, err, "failed to create renderer")
		return 1
	}

	siteHandler, err := sitehandler.New(sitehandler.Options{
		Logger:     L,
		Pages:      renderer,
		Assets:     contentMgr,
		AssetsDir:  conf.AssetsDir,
		FallbackFS: webassets.FallbackFS(),
	})
	if err != nil {
		L.Error(ctx, err, "failed to create site handler")
		return 1
	}

	var gate health.ShutdownGate
	readiness := health.All(
		&gate,
		health.CheckFunc(func(context.Context) error { return contentMgr.ReadyErr() }),
	)

	var rateLimitMW httpmw.Middleware
	if conf.RateLimitRPS > 0 {
		limiter := ratelimit.New(ctx,
			ratelimit.WithRate(conf.RateLimitRPS, conf.RateLimitBurst),
			ratelimit.WithOnDenied(func(string) { m.IncRateLimitDenied() }),
			// logged once per visitor until it is evicted
			ratelimit.WithOnFirstDenied(func(ip string) {
				L.Warn(ctx, "rate limit triggered", "client.address", ip)
			}),
			ratelimit.WithOnCapacity(func() {
				m.IncRateLimitCapacity()
				L.Warn(ctx, "rate limit visitor table full, rejecting new visitors")
			}),
		)
		rateLimitMW = limiter.Middleware
	}

	siteHTTPStop, err := httpserver.Start(ctx, &httpserver.Options{
		Logger:      L,
		Port:        conf.HTTPPort,
		Routes:      []httpserver.Registrar{sitehttp.New(siteHandler)},
		Health:      health.Fixed(true, ""),
		Readiness:   readiness,
		ContentInfo: contentMgr,
		MetricsMW:   m.Middleware,
		RateLimitMW: rateLimitMW,
		ClientIP:    httpmw.ClientIPOptions{TrustedHops: conf.TrustedHops},
		OnPanic:     m.IncHTTPPanic,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start site http listener")
		return 1
	}
	defer func() { _ = siteHTTPStop(context.Background()) }()

	opsHTTPStop, err := opshttp.Start(ctx, opshttp.Options{
		Logger:      L,
		Port:        conf.AdminPort,
		Metrics:     m.Handler(),
		EnablePprof: conf.EnablePprof,
		Health:      health.Fixed(true, ""),
		Readiness:   readiness,
		OnPanic:     m.IncHTTPPanic,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		return 1
	}
	defer func() { _ = opsHTTPStop(context.Background()) }()

	if err := notifySystemd(); err != nil {
		L.Debug(ctx, "systemd not notified", "reason", err.Error())
	}

	<-ctx.Done()
	stopSignals()
	L.Info(context.Background(), "shutdown signal received")

	gate.Close("draining")
	drain(L)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := siteHTTPStop(shutdownCtx); err != nil {
		L.Error(shutdownCtx, err, "site http server shutdown")
	}
	if err := opsHTTPStop(shutdownCtx); err != nil {
		L.Error(shutdownCtx, err, "ops http server shutdown")
	}
	if err := shutdownOTEL(shutdownCtx); err != nil {
		L.Error(shutdownCtx, err, "otel shutdown")
	}

	L.Info(context.Background(), "shutdown complete")
	return 0
}

// drain waits out drainPeriod so in-flight requests finish and the load
// balancer stops routing here. A second signal skips the wait.
func drain(L log.Logger) {
	L.Info(context.Background(), "draining", "period", drainPeriod.String())
	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(forceCh)

	select {
	case <-time.After(drainPeriod):
		L.Info(context.Background(), "drain period complete")
	case <-forceCh:
		L.Warn(context.Background(), "second signal received, skipping drain")
	}
}

func notifySystemd() error {
	// set by systemd for Type=notify units
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set")
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return fmt.Errorf("systemd notify: dial: %w", err)
	}
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		_ = conn.Close()
		return fmt.Errorf("systemd notify: write: %w", err)
	}
	if err := conn.Close(); err != nil {
		return fmt.Errorf("systemd notify: close: %w", err)
	}
	return nil
}
