package main

import (
	"context"

	"github.com/keithlinneman/pagesite/internal/cfg"
	"github.com/keithlinneman/pagesite/internal/content"
	"github.com/keithlinneman/pagesite/internal/log"
	"github.com/keithlinneman/pagesite/internal/metrics"
	"github.com/keithlinneman/pagesite/internal/xerrors"
)

// startContent makes the first snapshot active and, for S3 bundles, starts
// the watcher that swaps in new ones.
func startContent(ctx context.Context, L log.Logger, conf cfg.App, mgr *content.Manager, m *metrics.ServerMetrics) error {
	record := func(s *content.Snapshot) {
		m.SetContent(string(s.Meta.Source), s.Meta.Version, s.LoadedAt)
	}

	if !conf.S3Content() {
		snap, err := content.DiskSnapshot(conf.ContentDir)
		if err != nil {
			return err
		}
		// disk content is read live, a missing index is only worth a warning
		if err := content.ValidateSnapshot(snap, content.ValidationOptions{}); err != nil {
			L.Warn(ctx, "content dir failed validation", "content_dir", conf.ContentDir, "error", err.Error())
		}
		mgr.Set(*snap)
		record(snap)
		L.Info(ctx, "serving content from disk", "content_dir", conf.ContentDir)
		return nil
	}

	validation := content.ValidationOptions{RequireSigned: conf.ContentSigningKeyARN != ""}
	loader, err := content.NewLoader(ctx, content.LoaderOptions{
		Logger:        L,
		SSMParam:      conf.ContentSSMParam,
		S3Bucket:      conf.ContentS3Bucket,
		S3Prefix:      conf.ContentS3Prefix,
		SigningKeyARN: conf.ContentSigningKeyARN,
	})
	if err != nil {
		return xerrors.Wrap(err, "content loader")
	}

	// a failed first load leaves the maintenance page up until the
	// watcher succeeds
	if err := loader.LoadIntoManager(ctx, mgr, validation); err != nil {
		L.Error(ctx, err, "initial content bundle load failed, serving maintenance page")
	} else if snap, ok := mgr.Get(); ok {
		record(snap)
		L.Info(ctx, "loaded content bundle", "content_version", snap.Meta.Version, "signed", snap.Meta.Signed)
	}

	watcher := content.NewWatcher(content.WatcherOptions{
		Logger:       L,
		Loader:       loader,
		Manager:      mgr,
		PollInterval: conf.ContentPollInterval,
		Validation:   validation,
		OnSwap:       record,
		Metrics:      m,
	})
	go func() {
		if err := watcher.Run(ctx); err != nil && ctx.Err() == nil {
			L.Error(ctx, err, "content watcher stopped")
		}
	}()
	return nil
}
