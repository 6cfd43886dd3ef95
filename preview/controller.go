// Package preview drives preview sessions: activation of a claimed link,
// extraction, display in a single overlay slot, and handoff of video
// entries to the privileged viewer.
package preview

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hazyhaar/artipeek/artifact"
	"github.com/hazyhaar/artipeek/handoff"
)

// Extractor turns an archive URL into a handle. *extractor.Extractor
// implements it.
type Extractor interface {
	Extract(ctx context.Context, url string) (artifact.Handle, error)
}

// Publisher hands a handle to the privileged context. *handoff.Channel
// implements it.
type Publisher interface {
	Publish(ctx context.Context, h artifact.Handle) error
}

// Presenter owns the page's elements. Calls are made with the
// controller's lock held and never concurrently.
type Presenter interface {
	// MarkLink styles a claimed link by its media kind.
	MarkLink(link *artifact.Link) error
	// ShowOverlay displays an overlay with a loading indicator.
	ShowOverlay(link *artifact.Link) (Overlay, error)
	// ShowNotice tells the user the preview moved to another context.
	ShowNotice(text string) error
	RemoveNotice() error
}

// Overlay is one displayed overlay.
type Overlay interface {
	// Render replaces the loading indicator with the media, plus Close and
	// Download controls.
	Render(h artifact.Handle, kind artifact.MediaKind, label string) error
	Remove() error
}

// ClickTarget is the overlay element a click landed on.
type ClickTarget int

const (
	Backdrop ClickTarget = iota
	Container
	Media
	CloseButton
)

// ParseClickTarget maps a presenter's element role to a ClickTarget.
func ParseClickTarget(s string) (ClickTarget, bool) {
	switch s {
	case "backdrop":
		return Backdrop, true
	case "container":
		return Container, true
	case "media":
		return Media, true
	case "close":
		return CloseButton, true
	}
	return 0, false
}

// DownloadURL is the handle form that serves the entry as an attachment.
func DownloadURL(h artifact.Handle) string {
	return string(h) + "?download=1"
}

// DefaultNotice is shown when another context takes over the viewer.
const DefaultNotice = "This preview opened in the artipeek viewer."

// ErrUnknownLink is returned by Activate for a ref never registered.
var ErrUnknownLink = errors.New("preview: unknown link")

// Config configures a Controller.
type Config struct {
	// ContextID identifies this context on the handoff channel.
	ContextID string
	// Notice is the text shown by the teardown listener. Default: DefaultNotice.
	Notice string
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Notice == "" {
		c.Notice = DefaultNotice
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Controller owns the links of one document and its single overlay slot.
type Controller struct {
	ex   Extractor
	pres Presenter
	pub  Publisher
	cfg  Config

	mu       sync.Mutex
	links    map[string]*artifact.Link
	sessions map[string]*Session // latest session per ref
	current  *Session            // overlay occupant
	inflight sync.WaitGroup
}

// New creates a Controller. pub may be nil when no viewer runs; video
// entries are then displayed locally.
func New(ex Extractor, pres Presenter, pub Publisher, cfg Config) *Controller {
	cfg.defaults()
	return &Controller{
		ex:       ex,
		pres:     pres,
		pub:      pub,
		cfg:      cfg,
		links:    make(map[string]*artifact.Link),
		sessions: make(map[string]*Session),
	}
}

// ContextID returns the id this controller announces itself with.
func (c *Controller) ContextID() string { return c.cfg.ContextID }

// Register implements scanner.Registrar. The link stays Idle: no network
// activity happens until activation. A different link under a known ref
// replaces it: the element it named is gone.
func (c *Controller) Register(link *artifact.Link) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.links[link.Ref]; ok {
		if prev == link {
			return
		}
		if s := c.sessions[link.Ref]; s != nil && s != c.current {
			delete(c.sessions, link.Ref)
		}
		c.cfg.Logger.Debug("preview: link replaced", "ref", link.Ref, "url", link.URL)
	}
	c.links[link.Ref] = link
	if err := c.pres.MarkLink(link); err != nil {
		c.cfg.Logger.Warn("preview: mark link", "ref", link.Ref, "error", err)
	}
}

// Activate starts a session for the link at ref. Any overlay already
// shown is removed first. Extraction runs in the background and is not
// cancelled by ctx or by closing the overlay.
func (c *Controller) Activate(ctx context.Context, ref string) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	link, ok := c.links[ref]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownLink, ref)
	}
	if c.current != nil {
		c.closeLocked(c.current)
	}

	s := newSession(link)
	c.sessions[ref] = s

	if h, ok := link.CachedHandle(); ok {
		c.cfg.Logger.Debug("preview: cached handle", "ref", ref, "handle", h)
		if err := c.openLocked(s); err != nil {
			return s, err
		}
		c.deliverLocked(ctx, s, h)
		s.resolve()
		return s, nil
	}

	if err := c.openLocked(s); err != nil {
		return s, err
	}
	s.set(Loading)

	c.inflight.Add(1)
	go c.extract(context.WithoutCancel(ctx), s)
	return s, nil
}

func (c *Controller) openLocked(s *Session) error {
	ov, err := c.pres.ShowOverlay(s.Link)
	if err != nil {
		s.mu.Lock()
		s.state, s.err = Closed, err
		s.mu.Unlock()
		s.resolve()
		return fmt.Errorf("preview: show overlay: %w", err)
	}
	s.mu.Lock()
	s.overlay = ov
	s.mu.Unlock()
	c.current = s
	return nil
}

func (c *Controller) extract(ctx context.Context, s *Session) {
	defer c.inflight.Done()
	defer s.resolve()

	link := s.Link
	h, err := c.ex.Extract(ctx, link.URL)
	if err == nil {
		// Cached even if the session was closed meanwhile, so the next
		// activation skips the network.
		link.CacheHandle(h)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if st := s.State(); st != Loading {
		c.cfg.Logger.Debug("preview: result discarded", "ref", link.Ref, "state", st, "error", err)
		return
	}
	if err != nil {
		c.failLocked(s, err)
		return
	}
	c.deliverLocked(ctx, s, h)
}

// deliverLocked moves s to Ready, or to HandedOff for video entries.
func (c *Controller) deliverLocked(ctx context.Context, s *Session, h artifact.Handle) {
	link := s.Link
	s.mu.Lock()
	s.handle = h
	ov := s.overlay
	s.mu.Unlock()

	if link.Kind == artifact.KindVideo && c.pub != nil {
		if err := c.pub.Publish(ctx, h); err != nil {
			c.failLocked(s, err)
			return
		}
		c.removeOverlayLocked(s, ov)
		s.set(HandedOff)
		c.cfg.Logger.Info("preview: handed off", "ref", link.Ref, "label", link.Label, "handle", h)
		return
	}

	if err := ov.Render(h, link.Kind, link.Label); err != nil {
		c.failLocked(s, fmt.Errorf("preview: render: %w", err))
		return
	}
	s.set(Ready)
	c.cfg.Logger.Info("preview: ready", "ref", link.Ref, "label", link.Label, "handle", h)
}

func (c *Controller) failLocked(s *Session, err error) {
	s.mu.Lock()
	s.err = err
	ov := s.overlay
	s.mu.Unlock()
	c.removeOverlayLocked(s, ov)
	s.set(Closed)
	c.cfg.Logger.Warn("preview: session failed",
		"ref", s.Link.Ref, "url", s.Link.URL, "reason", artifact.Reason(err), "error", err)
}

func (c *Controller) removeOverlayLocked(s *Session, ov Overlay) {
	if ov != nil {
		if err := ov.Remove(); err != nil {
			c.cfg.Logger.Warn("preview: remove overlay", "ref", s.Link.Ref, "error", err)
		}
	}
	s.mu.Lock()
	s.overlay = nil
	s.mu.Unlock()
	if c.current == s {
		c.current = nil
	}
}

// closeLocked discards the overlay. The handle stays cached on the link.
func (c *Controller) closeLocked(s *Session) {
	s.mu.Lock()
	ov := s.overlay
	s.mu.Unlock()
	c.removeOverlayLocked(s, ov)
	if !s.State().Terminal() {
		s.set(Closed)
	}
}

// Click handles a click on the current overlay and reports whether it
// closed. Clicks on the media element itself are ignored.
func (c *Controller) Click(target ClickTarget) bool {
	if target == Media {
		return false
	}
	return c.Close()
}

// Close removes the current overlay, if any.
func (c *Controller) Close() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return false
	}
	c.closeLocked(c.current)
	return true
}

// Current returns the session occupying the overlay slot.
func (c *Controller) Current() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Sessions returns a snapshot of the latest session of every activated link.
func (c *Controller) Sessions() []SessionInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]SessionInfo, 0, len(c.sessions))
	for ref, s := range c.sessions {
		out = append(out, SessionInfo{
			Ref:    ref,
			Label:  s.Link.Label,
			Kind:   s.Link.Kind,
			State:  s.State().String(),
			Handle: s.Handle(),
		})
	}
	return out
}

// Wait blocks until every background extraction has returned.
func (c *Controller) Wait() { c.inflight.Wait() }

// Subscriber is the part of *handoff.Channel used by WatchTeardown.
type Subscriber interface {
	Subscribe(ctx context.Context, key string, fn func(ctx context.Context, value string)) (*handoff.Subscription, error)
}

// WatchTeardown listens for the viewer's reverse signals. When another
// context announces itself as the viewer's origin, the overlay is closed
// and a notice shown; a declined URL removes the notice. The returned
// function stops both listeners.
func (c *Controller) WatchTeardown(ctx context.Context, sub Subscriber) (stop func(), err error) {
	origin, err := sub.Subscribe(ctx, handoff.KeyOriginatingContext, func(_ context.Context, id string) {
		if id == c.cfg.ContextID {
			return
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.current != nil {
			c.closeLocked(c.current)
		}
		if err := c.pres.ShowNotice(c.cfg.Notice); err != nil {
			c.cfg.Logger.Warn("preview: show notice", "error", err)
		}
	})
	if err != nil {
		return nil, err
	}
	declined, err := sub.Subscribe(ctx, handoff.KeyDeclinedURL, func(_ context.Context, url string) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if err := c.pres.RemoveNotice(); err != nil {
			c.cfg.Logger.Warn("preview: remove notice", "url", url, "error", err)
		}
	})
	if err != nil {
		origin.Stop()
		return nil, err
	}
	return func() {
		origin.Stop()
		declined.Stop()
	}, nil
}
