package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/artipeek/blob"
	"github.com/hazyhaar/artipeek/browser"
	"github.com/hazyhaar/artipeek/config"
	"github.com/hazyhaar/artipeek/extractor"
	"github.com/hazyhaar/artipeek/handoff"
	"github.com/hazyhaar/artipeek/idgen"
	"github.com/hazyhaar/artipeek/preview"
	"github.com/hazyhaar/artipeek/scanner"
	"github.com/hazyhaar/artipeek/viewer"
)

func startBrowser(ctx context.Context, logger *slog.Logger, cfg *config.Config) (*browser.Manager, error) {
	mgr := browser.NewManager(browser.Config{
		RemoteURL: cfg.Browser.Remote,
		Headless:  cfg.Browser.Headless,
		Bin:       cfg.Browser.Bin,
		Stealth:   cfg.Browser.Stealth,
		Logger:    logger,
	})
	if _, err := mgr.Start(ctx); err != nil {
		return nil, err
	}
	return mgr, nil
}

func openHandoff(logger *slog.Logger, cfg *config.Config) (*handoff.Channel, func(), error) {
	store, db, err := handoff.OpenSQLiteStore(cfg.Handoff.DB, handoff.SQLiteOptions{
		PollInterval: cfg.Handoff.PollInterval,
		Logger:       logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("open handoff store: %w", err)
	}
	closeFn := func() {
		store.Close()
		db.Close()
	}
	return handoff.New(store, handoff.WithLogger(logger)), closeFn, nil
}

// runWatch is the plain context: it attaches to the artifacts page, serves
// extracted entries on loopback and hands videos to the viewer.
func runWatch(ctx context.Context, logger *slog.Logger, cfg *config.Config) error {
	if cfg.Page.URL == "" {
		return fmt.Errorf("watch: page.url is required")
	}

	mgr, err := startBrowser(ctx, logger, cfg)
	if err != nil {
		return err
	}
	defer mgr.Close()

	page, err := browser.OpenPage(ctx, mgr, cfg.Page.URL)
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", cfg.Blob.Listen)
	if err != nil {
		return fmt.Errorf("watch: blob listen: %w", err)
	}
	blobs := blob.NewStore("http://" + ln.Addr().String())
	blobSrv := blob.NewServer(blobs, logger)

	exCfg := cfg.Extractor()
	exCfg.Logger = logger
	exCfg.Client = &http.Client{
		Timeout:   exCfg.Timeout,
		Transport: &browser.CookieTransport{Page: page.Rod},
	}
	ex, err := extractor.New(blobs, exCfg)
	if err != nil {
		return err
	}

	ch, closeHandoff, err := openHandoff(logger, cfg)
	if err != nil {
		return err
	}
	defer closeHandoff()

	ctrl := preview.New(ex, page, ch, preview.Config{
		ContextID: idgen.Context(),
		Logger:    logger,
	})
	stopTeardown, err := ctrl.WatchTeardown(ctx, ch)
	if err != nil {
		return err
	}
	defer stopTeardown()

	scCfg := cfg.Scanner()
	scCfg.Logger = logger
	sc := scanner.New(page, ctrl, scCfg)

	logger.Info("artipeek: watching", "url", cfg.Page.URL, "context_id", ctrl.ContextID(), "blobs", blobs.Base())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return blobSrv.Serve(gctx, ln) })
	g.Go(func() error { page.Listen(gctx, ctrl); return nil })
	g.Go(func() error { sc.Run(gctx); return nil })
	err = g.Wait()
	ctrl.Wait()
	return err
}

// runViewer is the privileged context.
func runViewer(ctx context.Context, logger *slog.Logger, cfg *config.Config) error {
	ch, closeHandoff, err := openHandoff(logger, cfg)
	if err != nil {
		return err
	}
	defer closeHandoff()

	mgr, err := startBrowser(ctx, logger, cfg)
	if err != nil {
		return err
	}
	defer mgr.Close()

	ln, err := net.Listen("tcp", cfg.Viewer.Listen)
	if err != nil {
		return fmt.Errorf("viewer: listen: %w", err)
	}
	v := viewer.New(ch, browser.NewOpener(mgr), viewer.Config{
		ContextID: idgen.Context(),
		PageURL:   cfg.Viewer.PageURL,
		Logger:    logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return v.Serve(gctx, ln) })
	g.Go(func() error { return v.Run(gctx) })
	return g.Wait()
}
