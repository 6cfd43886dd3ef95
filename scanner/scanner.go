// Package scanner discovers archive links in a document and claims each of
// them exactly once.
//
// Claiming is done by the Document itself in one synchronous step (select
// unmarked links, mark them), so two scans racing over the same document
// can never both see a link as unmarked. The scanner keeps its own set of
// claimed refs on top of that, which also covers documents whose marking
// is lost (a page re-render that recreates the same anchors).
package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/artipeek/artifact"
)

// DefaultMarker is the class added to claimed links.
const DefaultMarker = "preview-attached"

// ControlClass marks elements injected by artipeek itself.
const ControlClass = "artipeek-control"

// DefaultSelector matches artifact archive links, excluding our own
// controls and the page's download button. Already-marked links are
// excluded by the Document using the marker.
const DefaultSelector = `a[href*="/artifacts/"]:not(.` + ControlClass + `):not([data-test-selector="download-artifact-button"])`

// Candidate is one link as reported by a Document.
type Candidate struct {
	// Doc identifies the document instance Ref belongs to. A reloaded
	// page is a new document and may reuse refs. Empty when the Document
	// never changes.
	Doc   string
	Ref   string // document position, opaque
	Label string
	URL   string // absolute
}

// Document is a page that can hand over unmarked links.
type Document interface {
	// ClaimLinks returns the links matching selector that do not carry
	// the marker class yet, and adds marker to each of them. Selection
	// and marking must be atomic with respect to other ClaimLinks calls.
	ClaimLinks(ctx context.Context, selector, marker string) ([]Candidate, error)
}

// Registrar receives newly claimed links. The preview controller
// implements it.
type Registrar interface {
	Register(link *artifact.Link)
}

// RegistrarFunc adapts a function to Registrar.
type RegistrarFunc func(link *artifact.Link)

func (f RegistrarFunc) Register(link *artifact.Link) { f(link) }

// Config configures a Scanner.
type Config struct {
	// Selector is the CSS selector for candidate links. Default: DefaultSelector.
	Selector string
	// Marker is the class added to claimed links. Default: DefaultMarker.
	Marker string
	// Interval between passes in Run. Default: 10s.
	Interval time.Duration
	Logger   *slog.Logger
}

func (c *Config) defaults() {
	if c.Selector == "" {
		c.Selector = DefaultSelector
	}
	if c.Marker == "" {
		c.Marker = DefaultMarker
	}
	if c.Interval <= 0 {
		c.Interval = 10 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Stats are point-in-time counters.
type Stats struct {
	Passes  int64 `json:"passes"`
	Claimed int64 `json:"claimed"`
	Errors  int64 `json:"errors"`
}

// Scanner runs discovery passes over one Document.
type Scanner struct {
	doc Document
	reg Registrar
	cfg Config

	// pass serialises passes: a pass's links are registered before the
	// next pass starts.
	pass sync.Mutex

	mu      sync.Mutex
	docID   string // document instance the claimed refs belong to
	claimed map[string]*artifact.Link

	passes atomic.Int64
	links  atomic.Int64
	errs   atomic.Int64
}

// New creates a Scanner. reg may be nil.
func New(doc Document, reg Registrar, cfg Config) *Scanner {
	cfg.defaults()
	return &Scanner{
		doc:     doc,
		reg:     reg,
		cfg:     cfg,
		claimed: make(map[string]*artifact.Link),
	}
}

// Scan runs one pass and returns the links claimed by it, already marked
// processed and registered.
func (s *Scanner) Scan(ctx context.Context) ([]*artifact.Link, error) {
	s.pass.Lock()
	defer s.pass.Unlock()

	s.passes.Add(1)
	cands, err := s.doc.ClaimLinks(ctx, s.cfg.Selector, s.cfg.Marker)
	if err != nil {
		s.errs.Add(1)
		return nil, fmt.Errorf("scanner: claim links: %w", err)
	}

	var out []*artifact.Link
	for _, c := range cands {
		link, fresh := s.claim(c)
		if !fresh {
			continue
		}
		if s.reg != nil {
			s.reg.Register(link)
		}
		out = append(out, link)
	}
	s.links.Add(int64(len(out)))
	return out, nil
}

func (s *Scanner) claim(c Candidate) (*artifact.Link, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.Doc != s.docID {
		if len(s.claimed) > 0 {
			s.cfg.Logger.Info("scanner: document replaced", "dropped", len(s.claimed))
		}
		s.docID = c.Doc
		s.claimed = make(map[string]*artifact.Link)
	}
	// A known ref pointing elsewhere names a new element.
	if prev, ok := s.claimed[c.Ref]; ok && prev.URL == c.URL && prev.Label == c.Label {
		return nil, false
	}
	link := artifact.NewLink(c.Ref, c.Label, c.URL)
	if !link.MarkProcessed() {
		return nil, false
	}
	s.claimed[c.Ref] = link
	return link, true
}

// Link returns a previously claimed link by ref.
func (s *Scanner) Link(ref string) (*artifact.Link, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.claimed[ref]
	return l, ok
}

// Run scans once immediately, then every Interval until ctx is cancelled.
// A failed pass is logged and the loop continues.
func (s *Scanner) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.runPass(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runPass(ctx)
		}
	}
}

func (s *Scanner) runPass(ctx context.Context) {
	start := time.Now()
	links, err := s.Scan(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.cfg.Logger.Warn("scanner: pass failed", "error", err)
		}
		return
	}
	if len(links) > 0 {
		s.cfg.Logger.Info("scanner: pass complete",
			"claimed", len(links), "elapsed", time.Since(start))
	}
}

// Stats returns the current counters.
func (s *Scanner) Stats() Stats {
	return Stats{
		Passes:  s.passes.Load(),
		Claimed: s.links.Load(),
		Errors:  s.errs.Load(),
	}
}
