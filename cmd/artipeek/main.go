// Command artipeek previews CI artifact archives in the page that lists
// them.
//
// Usage:
//
//	artipeek -config artipeek.yaml watch     # attach to the page, preview and hand off
//	artipeek -config artipeek.yaml viewer    # run the privileged viewer context
//	artipeek scan <file-or-url>              # list candidate links of a static page
//	artipeek extract <url> <out-dir>         # fetch an archive, write its media entry
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hazyhaar/artipeek/config"
)

func main() {
	configPath := flag.String("config", "", "path to artipeek.yaml")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Usage = usage
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *configPath, flag.Args()); err != nil {
		logger.Error("artipeek: fatal", "error", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage:
  artipeek [-config file] [-log-level level] watch
  artipeek [-config file] [-log-level level] viewer
  artipeek [-config file] scan <file-or-url>
  artipeek [-config file] extract <url> <out-dir>`)
	flag.PrintDefaults()
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func run(ctx context.Context, logger *slog.Logger, configPath string, args []string) error {
	if len(args) == 0 {
		usage()
		return fmt.Errorf("missing command")
	}
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	switch cmd, rest := args[0], args[1:]; cmd {
	case "watch":
		return runWatch(ctx, logger, cfg)
	case "viewer":
		return runViewer(ctx, logger, cfg)
	case "scan":
		if len(rest) != 1 {
			return fmt.Errorf("scan: want <file-or-url>")
		}
		return runScan(ctx, os.Stdout, cfg, rest[0])
	case "extract":
		if len(rest) != 2 {
			return fmt.Errorf("extract: want <url> <out-dir>")
		}
		path, err := runExtract(ctx, logger, cfg, rest[0], rest[1])
		if err != nil {
			return err
		}
		fmt.Println(path)
		return nil
	default:
		usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}
