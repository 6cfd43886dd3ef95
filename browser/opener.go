package browser

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// Opener opens the viewer page in its own tab and reuses that tab for
// later handoffs. It implements viewer.Opener.
type Opener struct {
	mgr *Manager

	mu  sync.Mutex
	tab *rod.Page
}

// NewOpener creates an Opener on mgr's browser.
func NewOpener(mgr *Manager) *Opener { return &Opener{mgr: mgr} }

// Open navigates the viewer tab to url and brings it to the front,
// creating the tab on first use or after the user closed it.
func (o *Opener) Open(ctx context.Context, url string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.tab != nil {
		if err := o.tab.Context(ctx).Navigate(url); err == nil {
			if _, err := o.tab.Activate(); err != nil {
				o.mgr.cfg.Logger.Debug("browser: focus viewer tab", "error", err)
			}
			return nil
		}
		o.tab = nil
	}

	b := o.mgr.Browser()
	if b == nil {
		return fmt.Errorf("browser: no active browser")
	}
	var (
		tab *rod.Page
		err error
	)
	if o.mgr.cfg.Stealth {
		tab, err = stealth.Page(b)
		if err == nil {
			err = tab.Context(ctx).Navigate(url)
		}
	} else {
		tab, err = b.Page(proto.TargetCreateTarget{URL: url})
	}
	if err != nil {
		return fmt.Errorf("browser: open viewer tab: %w", err)
	}
	if _, err := tab.Activate(); err != nil {
		o.mgr.cfg.Logger.Debug("browser: focus viewer tab", "error", err)
	}
	o.tab = tab
	o.mgr.cfg.Logger.Info("browser: viewer tab opened", "url", url)
	return nil
}

// CookieTransport adds the page's cookies for the request URL, so archive
// downloads carry the user's session like an in-page fetch would.
type CookieTransport struct {
	Page *rod.Page
	Base http.RoundTripper
}

func (t *CookieTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	cookies, err := t.Page.Context(req.Context()).Cookies([]string{req.URL.String()})
	if err != nil {
		return nil, fmt.Errorf("browser: cookies: %w", err)
	}
	if h := CookieHeader(cookies); h != "" && req.Header.Get("Cookie") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("Cookie", h)
	}
	return base.RoundTrip(req)
}

// CookieHeader formats cookies as a Cookie request header value.
func CookieHeader(cookies []*proto.NetworkCookie) string {
	parts := make([]string, 0, len(cookies))
	for _, c := range cookies {
		if c == nil || c.Name == "" {
			continue
		}
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; ")
}
