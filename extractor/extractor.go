// Package extractor fetches an archive, picks the first media entry in
// listing order and materialises it as a locally addressable resource.
//
// Entry selection honours an allow-list of name patterns. Listing order is
// the archive's central-directory order and is never sorted.
package extractor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/gobwas/glob"
	"github.com/klauspost/compress/zip"

	"github.com/hazyhaar/artipeek/artifact"
	"github.com/hazyhaar/artipeek/safe"
)

// DefaultAccept lists the entry patterns accepted when Config.Accept is empty.
var DefaultAccept = []string{"*.mp4", "*.png"}

// Config configures the extractor.
type Config struct {
	// Timeout bounds one fetch. Default: 2m.
	Timeout time.Duration
	// MaxArchiveBytes caps the downloaded payload. Default: 512 MiB.
	MaxArchiveBytes int64
	// MaxEntryBytes caps the decompressed entry. Default: 512 MiB.
	MaxEntryBytes int64
	// UserAgent sent with requests.
	UserAgent string
	// Headers added to every request. Default: Turbo-Visit: true, which
	// makes the artifact host answer with the archive instead of a page.
	Headers map[string]string
	// Cookie is forwarded verbatim when the archive host needs the user's
	// session.
	Cookie string
	// Accept lists glob patterns matched against entry base names, case
	// insensitive. A bare extension such as ".webm" is read as "*.webm".
	Accept []string
	// Client overrides the HTTP client (tests, browser-backed transports).
	Client *http.Client
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 2 * time.Minute
	}
	if c.MaxArchiveBytes <= 0 {
		c.MaxArchiveBytes = 512 << 20
	}
	if c.MaxEntryBytes <= 0 {
		c.MaxEntryBytes = 512 << 20
	}
	if c.UserAgent == "" {
		c.UserAgent = "artipeek/1.0"
	}
	if c.Headers == nil {
		c.Headers = map[string]string{"Turbo-Visit": "true"}
	}
	if len(c.Accept) == 0 {
		c.Accept = DefaultAccept
	}
	if c.Client == nil {
		c.Client = &http.Client{Timeout: c.Timeout}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Sink receives extracted bytes and returns a handle to them.
// *blob.Store satisfies it.
type Sink interface {
	Put(name, ctype string, data []byte) artifact.Handle
}

// Entry is a selected archive entry.
type Entry struct {
	Name string
	Data []byte
}

// Extractor implements fetch → parse → select → materialise.
type Extractor struct {
	sink    Sink
	cfg     Config
	matcher Matcher
}

// New creates an Extractor writing into sink.
func New(sink Sink, cfg Config) (*Extractor, error) {
	cfg.defaults()
	m, err := CompileMatcher(cfg.Accept)
	if err != nil {
		return nil, err
	}
	return &Extractor{sink: sink, cfg: cfg, matcher: m}, nil
}

// Extract fetches the archive at url and returns a handle to its first
// accepted entry. Every successful call allocates a new resource, even for
// a URL seen before.
func (e *Extractor) Extract(ctx context.Context, url string) (artifact.Handle, error) {
	entry, err := e.ExtractEntry(ctx, url)
	if err != nil {
		return "", err
	}
	h := e.sink.Put(entry.Name, "", entry.Data)
	e.cfg.Logger.Debug("extractor: materialised",
		"url", url, "entry", entry.Name, "size", len(entry.Data), "handle", h)
	return h, nil
}

// ExtractEntry is Extract without materialisation.
func (e *Extractor) ExtractEntry(ctx context.Context, url string) (*Entry, error) {
	body, err := e.fetch(ctx, url)
	if err != nil {
		return nil, err
	}

	zr, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return nil, &artifact.ArchiveFormatError{URL: url, Cause: err}
	}

	f, ok := Select(zr.File, e.matcher)
	if !ok {
		names := make([]string, 0, len(zr.File))
		for _, f := range zr.File {
			names = append(names, f.Name)
		}
		return nil, &artifact.EntryNotFoundError{URL: url, Entries: names}
	}

	data, err := e.readEntry(f)
	if err != nil {
		return nil, &artifact.ArchiveFormatError{URL: url, Cause: err}
	}
	return &Entry{Name: f.Name, Data: data}, nil
}

func (e *Extractor) fetch(ctx context.Context, url string) ([]byte, error) {
	if err := safe.ValidateURL(url); err != nil {
		return nil, &artifact.FetchError{URL: url, Cause: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &artifact.FetchError{URL: url, Cause: fmt.Errorf("new request: %w", err)}
	}
	req.Header.Set("User-Agent", e.cfg.UserAgent)
	for k, v := range e.cfg.Headers {
		req.Header.Set(k, v)
	}
	if e.cfg.Cookie != "" {
		req.Header.Set("Cookie", e.cfg.Cookie)
	}

	start := time.Now()
	resp, err := e.cfg.Client.Do(req)
	if err != nil {
		return nil, &artifact.FetchError{URL: url, Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &artifact.FetchError{URL: url, StatusCode: resp.StatusCode}
	}

	body, err := safe.LimitedReadAll(resp.Body, e.cfg.MaxArchiveBytes)
	if errors.Is(err, safe.ErrTooLarge) {
		return nil, &artifact.ArchiveFormatError{URL: url, Cause: err}
	}
	if err != nil {
		return nil, &artifact.FetchError{URL: url, Cause: fmt.Errorf("read body: %w", err)}
	}

	e.cfg.Logger.Debug("extractor: fetched",
		"url", url, "status", resp.StatusCode, "size", len(body), "elapsed", time.Since(start))
	return body, nil
}

func (e *Extractor) readEntry(f *zip.File) ([]byte, error) {
	if f.UncompressedSize64 > uint64(e.cfg.MaxEntryBytes) {
		return nil, fmt.Errorf("entry %s exceeds %d bytes", f.Name, e.cfg.MaxEntryBytes)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open entry %s: %w", f.Name, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, e.cfg.MaxEntryBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read entry %s: %w", f.Name, err)
	}
	if int64(len(data)) > e.cfg.MaxEntryBytes {
		return nil, fmt.Errorf("entry %s exceeds %d bytes", f.Name, e.cfg.MaxEntryBytes)
	}
	return data, nil
}

// Matcher decides whether an entry name is an accepted media entry.
type Matcher interface {
	Match(name string) bool
}

type globMatcher []glob.Glob

func (g globMatcher) Match(name string) bool {
	base := strings.ToLower(path.Base(name))
	for _, p := range g {
		if p.Match(base) {
			return true
		}
	}
	return false
}

// CompileMatcher compiles accept patterns into a Matcher.
func CompileMatcher(patterns []string) (Matcher, error) {
	if len(patterns) == 0 {
		return nil, errors.New("extractor: no accepted entry patterns")
	}
	out := make(globMatcher, 0, len(patterns))
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if strings.HasPrefix(p, ".") {
			p = "*" + p
		}
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("extractor: accept pattern %q: %w", p, err)
		}
		out = append(out, g)
	}
	return out, nil
}

// Select returns the first non-directory entry, in listing order, accepted
// by m.
func Select(files []*zip.File, m Matcher) (*zip.File, bool) {
	for _, f := range files {
		if f.FileInfo().IsDir() || strings.HasSuffix(f.Name, "/") {
			continue
		}
		if m.Match(f.Name) {
			return f, true
		}
	}
	return nil, false
}
