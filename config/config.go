// Package config loads artipeek's YAML configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/andybalholm/cascadia"
	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/artipeek/extractor"
	"github.com/hazyhaar/artipeek/scanner"
)

// Config is the top-level configuration.
type Config struct {
	Page    PageConfig    `yaml:"page"`
	Archive ArchiveConfig `yaml:"archive"`
	Blob    BlobConfig    `yaml:"blob"`
	Handoff HandoffConfig `yaml:"handoff"`
	Browser BrowserConfig `yaml:"browser"`
	Viewer  ViewerConfig  `yaml:"viewer"`
}

// PageConfig is the artifacts page to watch.
type PageConfig struct {
	URL          string        `yaml:"url"`
	LinkSelector string        `yaml:"link_selector"`
	Marker       string        `yaml:"marker"`
	ScanInterval time.Duration `yaml:"scan_interval"`
}

// ArchiveConfig controls archive fetching and entry selection.
type ArchiveConfig struct {
	Headers         map[string]string `yaml:"headers"`
	UserAgent       string            `yaml:"user_agent"`
	Cookie          string            `yaml:"cookie"`
	Accept          []string          `yaml:"accept"`
	MaxArchiveBytes int64             `yaml:"max_archive_bytes"`
	MaxEntryBytes   int64             `yaml:"max_entry_bytes"`
	Timeout         time.Duration     `yaml:"timeout"`
}

// BlobConfig is the loopback resource server.
type BlobConfig struct {
	Listen string `yaml:"listen"`
}

// HandoffConfig is the shared slot store.
type HandoffConfig struct {
	DB           string        `yaml:"db"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// BrowserConfig controls the Chrome connection.
type BrowserConfig struct {
	Remote   string `yaml:"remote"`
	Headless bool   `yaml:"headless"`
	Stealth  bool   `yaml:"stealth"`
	Bin      string `yaml:"bin"`
}

// ViewerConfig is the privileged context.
type ViewerConfig struct {
	Listen string `yaml:"listen"`
	// PageURL overrides the URL opened for handoffs. Default:
	// http://<listen>/viewer.
	PageURL string `yaml:"page_url"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML and applies defaults. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Page.LinkSelector == "" {
		c.Page.LinkSelector = scanner.DefaultSelector
	}
	if c.Page.Marker == "" {
		c.Page.Marker = scanner.DefaultMarker
	}
	if c.Page.ScanInterval <= 0 {
		c.Page.ScanInterval = 10 * time.Second
	}
	if c.Archive.Headers == nil {
		c.Archive.Headers = map[string]string{"Turbo-Visit": "true"}
	}
	if c.Archive.UserAgent == "" {
		c.Archive.UserAgent = "artipeek/1.0"
	}
	if len(c.Archive.Accept) == 0 {
		c.Archive.Accept = append([]string(nil), extractor.DefaultAccept...)
	}
	if c.Archive.MaxArchiveBytes <= 0 {
		c.Archive.MaxArchiveBytes = 512 << 20
	}
	if c.Archive.MaxEntryBytes <= 0 {
		c.Archive.MaxEntryBytes = 512 << 20
	}
	if c.Archive.Timeout <= 0 {
		c.Archive.Timeout = 2 * time.Minute
	}
	if c.Blob.Listen == "" {
		c.Blob.Listen = "127.0.0.1:0"
	}
	if c.Handoff.DB == "" {
		c.Handoff.DB = defaultSlotPath()
	}
	if c.Handoff.PollInterval <= 0 {
		c.Handoff.PollInterval = 100 * time.Millisecond
	}
	if c.Viewer.Listen == "" {
		c.Viewer.Listen = "127.0.0.1:7411"
	}
	if c.Viewer.PageURL == "" {
		c.Viewer.PageURL = "http://" + c.Viewer.Listen + "/viewer"
	}
}

// Validate checks values defaults cannot fix.
func (c *Config) Validate() error {
	var errs []error
	if _, err := cascadia.Compile(c.Page.LinkSelector); err != nil {
		errs = append(errs, fmt.Errorf("config: page.link_selector: %w", err))
	}
	if _, err := extractor.CompileMatcher(c.Archive.Accept); err != nil {
		errs = append(errs, err)
	}
	if c.Page.ScanInterval < time.Second {
		errs = append(errs, fmt.Errorf("config: page.scan_interval %s is below 1s", c.Page.ScanInterval))
	}
	return errors.Join(errs...)
}

// Extractor maps the archive section onto an extractor config.
func (c *Config) Extractor() extractor.Config {
	return extractor.Config{
		Timeout:         c.Archive.Timeout,
		MaxArchiveBytes: c.Archive.MaxArchiveBytes,
		MaxEntryBytes:   c.Archive.MaxEntryBytes,
		UserAgent:       c.Archive.UserAgent,
		Headers:         c.Archive.Headers,
		Cookie:          c.Archive.Cookie,
		Accept:          c.Archive.Accept,
	}
}

// Scanner maps the page section onto a scanner config.
func (c *Config) Scanner() scanner.Config {
	return scanner.Config{
		Selector: c.Page.LinkSelector,
		Marker:   c.Page.Marker,
		Interval: c.Page.ScanInterval,
	}
}

// defaultSlotPath puts the slot file in the user cache dir so that the
// watch and viewer processes of one user find the same file.
func defaultSlotPath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "artipeek", "slots.db")
}
