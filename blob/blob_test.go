package blob

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestServer(t *testing.T) (*Store, *httptest.Server) {
	t.Helper()
	ts := httptest.NewUnstartedServer(nil)
	store := NewStore("http://" + ts.Listener.Addr().String())
	ts.Config.Handler = NewServer(store, nil).Handler()
	ts.Start()
	t.Cleanup(ts.Close)
	return store, ts
}

func TestStore_PutResolveRevoke(t *testing.T) {
	s := NewStore("http://127.0.0.1:9/")
	h := s.Put("out/shot.png", "", []byte("png-bytes"))

	if !strings.HasPrefix(string(h), "http://127.0.0.1:9/blob/") {
		t.Fatalf("handle: %q", h)
	}
	b, ok := s.Resolve(h)
	if !ok {
		t.Fatal("resolve failed")
	}
	if b.ContentType != "image/png" || string(b.Data) != "png-bytes" {
		t.Fatalf("blob: %+v", b)
	}
	if s.Len() != 1 || s.Bytes() != int64(len("png-bytes")) {
		t.Fatalf("len=%d bytes=%d", s.Len(), s.Bytes())
	}

	if !s.Revoke(h) {
		t.Fatal("first revoke should release")
	}
	if s.Revoke(h) {
		t.Fatal("second revoke should be a no-op")
	}
	if _, ok := s.Resolve(h); ok {
		t.Fatal("revoked handle still resolves")
	}
}

func TestStore_DistinctHandles(t *testing.T) {
	s := NewStore("")
	a := s.Put("clip.mp4", "", []byte("x"))
	b := s.Put("clip.mp4", "", []byte("x"))
	if a == b {
		t.Fatal("each Put must allocate a distinct handle")
	}
}

func TestStore_ForeignHandle(t *testing.T) {
	s := NewStore("http://127.0.0.1:9")
	if _, ok := s.Resolve("http://elsewhere/blob/abc"); ok {
		t.Fatal("foreign handle resolved")
	}
	if s.Revoke("http://127.0.0.1:9/blob/") {
		t.Fatal("empty id revoked")
	}
}

func TestContentType(t *testing.T) {
	cases := []struct{ name, want string }{
		{"a/clip.mp4", "video/mp4"},
		{"shot.PNG", "image/png"},
		{"x.webm", "video/webm"},
		{"noext", "application/octet-stream"},
	}
	for _, c := range cases {
		if got := ContentType(c.name); got != c.want {
			t.Errorf("ContentType(%q) = %q, want %q", c.name, got, c.want)
		}
	}
}

func TestServer_ServesInlineAndDownload(t *testing.T) {
	store, _ := newTestServer(t)
	h := store.Put("run/clip.mp4", "", []byte("0123456789"))

	resp, err := http.Get(string(h))
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != 200 || string(body) != "0123456789" {
		t.Fatalf("inline: status=%d body=%q", resp.StatusCode, body)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "video/mp4" {
		t.Errorf("content type: %q", ct)
	}
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		t.Errorf("inline response should not be an attachment: %q", cd)
	}

	resp, err = http.Get(string(h) + "?download=1")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if cd := resp.Header.Get("Content-Disposition"); cd != "attachment; filename=clip.mp4" {
		t.Errorf("download disposition: %q", cd)
	}
}

func TestServer_Range(t *testing.T) {
	store, _ := newTestServer(t)
	h := store.Put("clip.mp4", "", []byte("0123456789"))

	req, _ := http.NewRequest(http.MethodGet, string(h), nil)
	req.Header.Set("Range", "bytes=2-4")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusPartialContent || string(body) != "234" {
		t.Fatalf("range: status=%d body=%q", resp.StatusCode, body)
	}
}

func TestServer_RevokedIs404(t *testing.T) {
	store, _ := newTestServer(t)
	h := store.Put("shot.png", "", []byte("x"))
	store.Revoke(h)

	resp, err := http.Get(string(h))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status: got %d, want 404", resp.StatusCode)
	}
}
