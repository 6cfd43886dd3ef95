package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"
	"strings"

	"github.com/hazyhaar/artipeek/artifact"
	"github.com/hazyhaar/artipeek/config"
	"github.com/hazyhaar/artipeek/extractor"
	"github.com/hazyhaar/artipeek/htmldoc"
	"github.com/hazyhaar/artipeek/safe"
	"github.com/hazyhaar/artipeek/scanner"
)

type scanRow struct {
	Ref   string             `json:"ref"`
	Label string             `json:"label"`
	URL   string             `json:"url"`
	Kind  artifact.MediaKind `json:"kind"`
}

// runScan lists the candidate links of a static page as JSON lines.
func runScan(ctx context.Context, w io.Writer, cfg *config.Config, target string) error {
	var (
		doc *htmldoc.Document
		err error
	)
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		header := http.Header{"User-Agent": {cfg.Archive.UserAgent}}
		if cfg.Archive.Cookie != "" {
			header.Set("Cookie", cfg.Archive.Cookie)
		}
		doc, err = htmldoc.Fetch(ctx, &http.Client{Timeout: cfg.Archive.Timeout}, target, header)
	} else {
		var f *os.File
		f, err = os.Open(target)
		if err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		defer f.Close()
		doc, err = htmldoc.Parse(f, cfg.Page.URL)
	}
	if err != nil {
		return err
	}

	links, err := scanner.New(doc, nil, cfg.Scanner()).Scan(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	for _, l := range links {
		if err := enc.Encode(scanRow{Ref: l.Ref, Label: l.Label, URL: l.URL, Kind: l.Kind}); err != nil {
			return fmt.Errorf("scan: write: %w", err)
		}
	}
	return nil
}

// runExtract fetches one archive and writes its selected entry into
// outDir. It returns the written path.
func runExtract(ctx context.Context, logger *slog.Logger, cfg *config.Config, url, outDir string) (string, error) {
	exCfg := cfg.Extractor()
	exCfg.Logger = logger
	ex, err := extractor.New(nil, exCfg)
	if err != nil {
		return "", err
	}
	entry, err := ex.ExtractEntry(ctx, url)
	if err != nil {
		logger.Warn("artipeek: extract failed", "url", url, "reason", artifact.Reason(err), "error", err)
		return "", err
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("extract: %w", err)
	}
	out, err := safe.SafePath(outDir, path.Base(entry.Name))
	if err != nil {
		return "", fmt.Errorf("extract: entry %q: %w", entry.Name, err)
	}
	if err := os.WriteFile(out, entry.Data, 0o644); err != nil {
		return "", fmt.Errorf("extract: %w", err)
	}
	return out, nil
}
