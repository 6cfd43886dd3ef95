// Package htmldoc is a static, offline scanner.Document built on goquery.
// It backs the scan command and tests; the live page lives in package
// browser.
package htmldoc

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	"github.com/hazyhaar/artipeek/safe"
	"github.com/hazyhaar/artipeek/scanner"
)

// maxPageBytes caps a fetched page.
const maxPageBytes = 16 << 20

// Document is a parsed HTML page. ClaimLinks is serialised by a mutex, so
// selection and marking form one step.
type Document struct {
	mu   sync.Mutex
	doc  *goquery.Document
	base *url.URL
	refs map[*html.Node]string
}

// Parse reads an HTML page. base resolves relative hrefs and may be empty.
func Parse(r io.Reader, base string) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("htmldoc: parse: %w", err)
	}
	d := &Document{doc: doc, refs: make(map[*html.Node]string)}
	if base != "" {
		u, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("htmldoc: base url: %w", err)
		}
		d.base = u
	}
	return d, nil
}

// ParseString is Parse over a string.
func ParseString(s, base string) (*Document, error) {
	return Parse(strings.NewReader(s), base)
}

// Fetch downloads and parses the page at rawURL. header is added to the
// request and may be nil.
func Fetch(ctx context.Context, client *http.Client, rawURL string, header http.Header) (*Document, error) {
	if client == nil {
		client = http.DefaultClient
	}
	if err := safe.ValidateURL(rawURL); err != nil {
		return nil, fmt.Errorf("htmldoc: fetch: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("htmldoc: new request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("htmldoc: fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("htmldoc: fetch %s: http %d", rawURL, resp.StatusCode)
	}
	body, err := safe.LimitedReadAll(resp.Body, maxPageBytes)
	if err != nil {
		return nil, fmt.Errorf("htmldoc: read %s: %w", rawURL, err)
	}
	return Parse(bytes.NewReader(body), resp.Request.URL.String())
}

// ClaimLinks implements scanner.Document.
func (d *Document) ClaimLinks(ctx context.Context, selector, marker string) ([]scanner.Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	m, err := cascadia.Compile(selector)
	if err != nil {
		return nil, fmt.Errorf("htmldoc: selector %q: %w", selector, err)
	}

	var out []scanner.Candidate
	d.doc.FindMatcher(m).Not("." + marker).Each(func(_ int, s *goquery.Selection) {
		s.AddClass(marker)
		out = append(out, scanner.Candidate{
			Ref:   d.refLocked(s.Nodes[0]),
			Label: strings.Join(strings.Fields(s.Text()), " "),
			URL:   d.resolve(s.AttrOr("href", "")),
		})
	})
	return out, nil
}

func (d *Document) refLocked(n *html.Node) string {
	if r, ok := d.refs[n]; ok {
		return r
	}
	r := fmt.Sprintf("n%d", len(d.refs))
	d.refs[n] = r
	return r
}

func (d *Document) resolve(href string) string {
	if d.base == nil || href == "" {
		return href
	}
	u, err := d.base.Parse(href)
	if err != nil {
		return href
	}
	return u.String()
}

// Count returns how many elements match selector.
func (d *Document) Count(selector string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.doc.Find(selector).Length()
}

// HTML renders the current document, markers included.
func (d *Document) HTML() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var buf bytes.Buffer
	if err := html.Render(&buf, d.doc.Nodes[0]); err != nil {
		return "", fmt.Errorf("htmldoc: render: %w", err)
	}
	return buf.String(), nil
}
