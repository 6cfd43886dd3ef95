package browser

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"path"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/microcosm-cc/bluemonday"

	"github.com/hazyhaar/artipeek/artifact"
	"github.com/hazyhaar/artipeek/preview"
	"github.com/hazyhaar/artipeek/scanner"
)

//go:embed artipeek.js
var pageJS string

//go:embed artipeek.css
var pageCSS string

// BindingName is the CDP binding the page script reports events through.
const BindingName = "__artipeek_binding"

var labelPolicy = bluemonday.StrictPolicy()

// Page is an artifacts page with the artipeek script installed. It
// implements scanner.Document and preview.Presenter. Every call evaluates
// synchronously in the page's main world, which serialises it with the
// page's own scripts.
type Page struct {
	Rod    *rod.Page
	URL    string
	logger *slog.Logger

	mu sync.Mutex // one Eval at a time from Go
}

// OpenPage opens url in a new tab, or attaches to an existing tab already
// showing it, and installs the artipeek script and binding.
func OpenPage(ctx context.Context, mgr *Manager, url string) (*Page, error) {
	b := mgr.Browser()
	if b == nil {
		return nil, fmt.Errorf("browser: no active browser")
	}

	rp, err := findPage(b, url)
	if err != nil {
		return nil, err
	}
	if rp == nil {
		if mgr.cfg.Stealth {
			rp, err = stealth.Page(b)
		} else {
			rp, err = b.Page(proto.TargetCreateTarget{URL: ""})
		}
		if err != nil {
			return nil, fmt.Errorf("browser: create tab: %w", err)
		}
		navCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := rp.Context(navCtx).Navigate(url); err != nil {
			rp.Close()
			return nil, fmt.Errorf("browser: navigate %s: %w", url, err)
		}
		if err := rp.Context(navCtx).WaitLoad(); err != nil {
			mgr.cfg.Logger.Warn("browser: wait load timeout", "url", url, "error", err)
		}
	}

	p := &Page{Rod: rp, URL: url, logger: mgr.cfg.Logger}
	if err := p.install(); err != nil {
		return nil, err
	}
	return p, nil
}

func findPage(b *rod.Browser, url string) (*rod.Page, error) {
	pages, err := b.Pages()
	if err != nil {
		return nil, fmt.Errorf("browser: list tabs: %w", err)
	}
	for _, p := range pages {
		info, err := p.Info()
		if err == nil && info.URL == url {
			return p, nil
		}
	}
	return nil, nil
}

func (p *Page) install() error {
	if err := (proto.RuntimeAddBinding{Name: BindingName}).Call(p.Rod); err != nil {
		p.logger.Warn("browser: addBinding failed (may already exist)", "error", err)
	}
	if _, err := p.Rod.EvalOnNewDocument(pageJS); err != nil {
		return fmt.Errorf("browser: install script: %w", err)
	}
	if _, err := p.Rod.Eval(`() => {` + pageJS + `}`); err != nil {
		return fmt.Errorf("browser: inject script: %w", err)
	}
	return p.call("style", pageCSS)
}

// call runs window.__artipeek[fn](args...) and discards the result.
func (p *Page) call(fn string, args ...any) error {
	_, err := p.eval(fn, args...)
	return err
}

func (p *Page) eval(fn string, args ...any) (*proto.RuntimeRemoteObject, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	js := fmt.Sprintf(`(...a) => window.__artipeek.%s(...a)`, fn)
	res, err := p.Rod.Eval(js, args...)
	if err != nil {
		return nil, fmt.Errorf("browser: %s: %w", fn, err)
	}
	return res, nil
}

// ClaimLinks implements scanner.Document.
func (p *Page) ClaimLinks(ctx context.Context, selector, marker string) ([]scanner.Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res, err := p.eval("claim", selector, marker)
	if err != nil {
		return nil, err
	}
	var raw []struct {
		Doc   string `json:"doc"`
		Ref   string `json:"ref"`
		Label string `json:"label"`
		URL   string `json:"url"`
	}
	if err := res.Value.Unmarshal(&raw); err != nil {
		return nil, fmt.Errorf("browser: claim result: %w", err)
	}
	out := make([]scanner.Candidate, 0, len(raw))
	for _, r := range raw {
		out = append(out, scanner.Candidate{Doc: r.Doc, Ref: r.Ref, Label: cleanLabel(r.Label), URL: r.URL})
	}
	return out, nil
}

// cleanLabel strips markup and collapses whitespace.
func cleanLabel(s string) string {
	return collapse(labelPolicy.Sanitize(s))
}

// MarkLink implements preview.Presenter.
func (p *Page) MarkLink(link *artifact.Link) error {
	return p.call("mark", link.Ref, string(link.Kind))
}

// ShowOverlay implements preview.Presenter.
func (p *Page) ShowOverlay(*artifact.Link) (preview.Overlay, error) {
	if err := p.call("overlay"); err != nil {
		return nil, err
	}
	return &overlay{page: p}, nil
}

// ShowNotice implements preview.Presenter.
func (p *Page) ShowNotice(text string) error { return p.call("notice", text) }

// RemoveNotice implements preview.Presenter.
func (p *Page) RemoveNotice() error { return p.call("unnotice") }

type overlay struct {
	page *Page
}

func (o *overlay) Render(h artifact.Handle, kind artifact.MediaKind, label string) error {
	name := path.Base(string(h))
	if label != "" {
		name = label
	}
	return o.page.call("render", string(h), preview.DownloadURL(h), string(kind), cleanLabel(label), name)
}

func (o *overlay) Remove() error { return o.page.call("remove") }
