package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/artipeek/scanner"
)

func TestDefaults(t *testing.T) {
	c := Default()
	if c.Page.ScanInterval != 10*time.Second {
		t.Errorf("scan interval: %s", c.Page.ScanInterval)
	}
	if c.Page.LinkSelector != scanner.DefaultSelector || c.Page.Marker != "preview-attached" {
		t.Errorf("page: %+v", c.Page)
	}
	if err := c.Validate(); err != nil {
		t.Errorf("defaults must validate: %v", err)
	}
	if c.Archive.Headers["Turbo-Visit"] != "true" {
		t.Errorf("headers: %v", c.Archive.Headers)
	}
	if len(c.Archive.Accept) != 2 {
		t.Errorf("accept: %v", c.Archive.Accept)
	}
	if c.Viewer.PageURL != "http://127.0.0.1:7411/viewer" {
		t.Errorf("viewer page: %s", c.Viewer.PageURL)
	}
	if !strings.HasSuffix(c.Handoff.DB, filepath.Join("artipeek", "slots.db")) {
		t.Errorf("slot db: %s", c.Handoff.DB)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "artipeek.yaml")
	yml := `
page:
  url: https://github.com/acme/app/actions/runs/7
  scan_interval: 30s
archive:
  accept: [".webm", "*.mp4", "*.png"]
  cookie: user_session=abc
  timeout: 45s
handoff:
  db: /tmp/artipeek-test/slots.db
  poll_interval: 50ms
browser:
  remote: ws://127.0.0.1:9222
  stealth: true
viewer:
  listen: 127.0.0.1:9000
`
	if err := os.WriteFile(path, []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.Page.ScanInterval != 30*time.Second || c.Archive.Timeout != 45*time.Second {
		t.Errorf("durations: %s %s", c.Page.ScanInterval, c.Archive.Timeout)
	}
	if c.Handoff.PollInterval != 50*time.Millisecond {
		t.Errorf("poll: %s", c.Handoff.PollInterval)
	}
	if !c.Browser.Stealth || c.Browser.Remote != "ws://127.0.0.1:9222" {
		t.Errorf("browser: %+v", c.Browser)
	}
	if c.Viewer.PageURL != "http://127.0.0.1:9000/viewer" {
		t.Errorf("viewer page derived from listen: %s", c.Viewer.PageURL)
	}

	ex := c.Extractor()
	if ex.Cookie != "user_session=abc" || len(ex.Accept) != 3 || ex.Headers["Turbo-Visit"] != "true" {
		t.Errorf("extractor mapping: %+v", ex)
	}
	if sc := c.Scanner(); sc.Interval != 30*time.Second || sc.Selector != scanner.DefaultSelector {
		t.Errorf("scanner mapping: %+v", sc)
	}
}

func TestParse_Empty(t *testing.T) {
	c, err := Parse(nil)
	if err != nil {
		t.Fatal(err)
	}
	if c.Blob.Listen != "127.0.0.1:0" {
		t.Errorf("blob listen: %s", c.Blob.Listen)
	}
}

func TestParse_Rejects(t *testing.T) {
	cases := []struct{ name, yml string }{
		{"unknown key", "page:\n  nope: 1\n"},
		{"fast scanning", "page:\n  scan_interval: 10ms\n"},
		{"bad duration", "page:\n  scan_interval: soon\n"},
		{"bad selector", "page:\n  link_selector: 'a[href'\n"},
	}
	for _, c := range cases {
		if _, err := Parse([]byte(c.yml)); err == nil {
			t.Errorf("%s: expected error", c.name)
		}
	}
}

func TestLoadFile_Missing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error")
	}
}
