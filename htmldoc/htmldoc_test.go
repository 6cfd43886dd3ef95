package htmldoc

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/hazyhaar/artipeek/scanner"
)

const artifactsPage = `<html><body>
<table>
  <tr><td><a href="/acme/app/actions/runs/7/artifacts/101">
      recording.mp4
  </a></td></tr>
  <tr><td><a href="/acme/app/actions/runs/7/artifacts/102">screenshot.png</a></td></tr>
  <tr><td><a data-test-selector="download-artifact-button" href="/acme/app/actions/runs/7/artifacts/102">Download</a></td></tr>
  <tr><td><a class="artipeek-control" href="/acme/app/actions/runs/7/artifacts/101">Preview</a></td></tr>
  <tr><td><a href="/acme/app/actions/runs/7">run summary</a></td></tr>
</table>
</body></html>`

func TestClaimLinks_DefaultSelector(t *testing.T) {
	doc, err := ParseString(artifactsPage, "https://github.com/acme/app/actions/runs/7")
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	got, err := doc.ClaimLinks(ctx, scanner.DefaultSelector, scanner.DefaultMarker)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("claimed %d links: %+v", len(got), got)
	}
	if got[0].Label != "recording.mp4" {
		t.Errorf("label not trimmed: %q", got[0].Label)
	}
	if got[0].URL != "https://github.com/acme/app/actions/runs/7/artifacts/101" {
		t.Errorf("url not resolved: %q", got[0].URL)
	}
	if got[0].Ref == got[1].Ref {
		t.Error("refs must be distinct")
	}

	again, err := doc.ClaimLinks(ctx, scanner.DefaultSelector, scanner.DefaultMarker)
	if err != nil {
		t.Fatal(err)
	}
	if len(again) != 0 {
		t.Fatalf("marked links claimed again: %+v", again)
	}
	if n := doc.Count("a." + scanner.DefaultMarker); n != 2 {
		t.Fatalf("marker on %d links, want 2", n)
	}

	out, err := doc.HTML()
	if err != nil {
		t.Fatal(err)
	}
	if strings.Count(out, `class="preview-attached"`) != 2 {
		t.Fatalf("rendered markers missing:\n%s", out)
	}
}

func TestClaimLinks_ConcurrentScanners(t *testing.T) {
	doc, err := ParseString(artifactsPage, "")
	if err != nil {
		t.Fatal(err)
	}

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s := scanner.New(doc, nil, scanner.Config{})
			links, err := s.Scan(context.Background())
			if err != nil {
				t.Error(err)
				return
			}
			mu.Lock()
			total += len(links)
			mu.Unlock()
		}()
	}
	wg.Wait()
	if total != 2 {
		t.Fatalf("independent scanners claimed %d links, want 2", total)
	}
}

func TestClaimLinks_BadSelector(t *testing.T) {
	doc, _ := ParseString(artifactsPage, "")
	if _, err := doc.ClaimLinks(context.Background(), "a[href", "x"); err == nil {
		t.Fatal("expected selector error")
	}
}

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Cookie") != "s=1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(artifactsPage))
	}))
	defer srv.Close()

	doc, err := Fetch(context.Background(), srv.Client(), srv.URL+"/acme/app/actions/runs/7",
		http.Header{"Cookie": {"s=1"}})
	if err != nil {
		t.Fatal(err)
	}
	got, _ := doc.ClaimLinks(context.Background(), scanner.DefaultSelector, scanner.DefaultMarker)
	if len(got) != 2 || !strings.HasPrefix(got[1].URL, srv.URL) {
		t.Fatalf("claimed %+v", got)
	}

	if _, err := Fetch(context.Background(), srv.Client(), srv.URL, nil); err == nil {
		t.Fatal("expected error for 401")
	}
}
