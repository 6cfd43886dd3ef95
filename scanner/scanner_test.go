package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hazyhaar/artipeek/artifact"
)

// fakeDoc is an in-memory Document. When forget is set it never keeps the
// marker, like a page that re-renders its anchors between passes.
type fakeDoc struct {
	mu     sync.Mutex
	links  []Candidate
	marked map[string]bool
	forget bool
	err    error
	calls  atomic.Int32
}

func newFakeDoc(n int) *fakeDoc {
	d := &fakeDoc{marked: make(map[string]bool)}
	d.add(n)
	return d
}

func (d *fakeDoc) add(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	start := len(d.links)
	for i := start; i < start+n; i++ {
		d.links = append(d.links, Candidate{
			Ref:   fmt.Sprintf("a%d", i),
			Label: fmt.Sprintf("shot-%d.png", i),
			URL:   fmt.Sprintf("https://ci.example/artifacts/%d", i),
		})
	}
}

func (d *fakeDoc) ClaimLinks(_ context.Context, selector, marker string) ([]Candidate, error) {
	d.calls.Add(1)
	if selector == "" || marker == "" {
		return nil, errors.New("empty selector or marker")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	var out []Candidate
	for _, c := range d.links {
		if d.marked[c.Ref] {
			continue
		}
		if !d.forget {
			d.marked[c.Ref] = true
		}
		out = append(out, c)
	}
	return out, nil
}

type recorder struct {
	mu    sync.Mutex
	links []*artifact.Link
}

func (r *recorder) Register(l *artifact.Link) {
	r.mu.Lock()
	r.links = append(r.links, l)
	r.mu.Unlock()
}

func TestScan_ClaimsAndRegisters(t *testing.T) {
	doc := newFakeDoc(3)
	rec := &recorder{}
	s := New(doc, rec, Config{})

	links, err := s.Scan(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(links) != 3 || len(rec.links) != 3 {
		t.Fatalf("claimed %d, registered %d", len(links), len(rec.links))
	}
	for _, l := range links {
		if !l.Processed() {
			t.Errorf("%s not marked processed", l.Ref)
		}
		if l.Kind != artifact.KindImage {
			t.Errorf("%s kind %s", l.Ref, l.Kind)
		}
	}

	again, err := s.Scan(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(again) != 0 {
		t.Fatalf("second pass claimed %d links", len(again))
	}

	doc.add(2)
	more, _ := s.Scan(context.Background())
	if len(more) != 2 {
		t.Fatalf("new links: got %d, want 2", len(more))
	}
}

func TestScan_ConcurrentPassesClaimOnce(t *testing.T) {
	// WHAT: many concurrent scans yield every link exactly once in total.
	// WHY: a link attached twice would get two previews.
	for _, forget := range []bool{false, true} {
		t.Run(fmt.Sprintf("forget=%v", forget), func(t *testing.T) {
			doc := newFakeDoc(50)
			doc.forget = forget
			rec := &recorder{}
			s := New(doc, rec, Config{})

			var wg sync.WaitGroup
			var total atomic.Int64
			for i := 0; i < 16; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					links, err := s.Scan(context.Background())
					if err != nil {
						t.Error(err)
						return
					}
					total.Add(int64(len(links)))
				}()
			}
			wg.Wait()

			if total.Load() != 50 {
				t.Fatalf("claimed %d links in total, want 50", total.Load())
			}
			seen := make(map[string]bool)
			for _, l := range rec.links {
				if seen[l.Ref] {
					t.Fatalf("%s registered twice", l.Ref)
				}
				seen[l.Ref] = true
			}
			if st := s.Stats(); st.Passes != 16 || st.Claimed != 50 {
				t.Fatalf("stats: %+v", st)
			}
		})
	}
}

func TestScan_DocumentError(t *testing.T) {
	doc := newFakeDoc(1)
	doc.err = errors.New("target closed")
	s := New(doc, nil, Config{})

	_, err := s.Scan(context.Background())
	if err == nil || !errors.Is(err, doc.err) {
		t.Fatalf("expected wrapped document error, got %v", err)
	}
	if s.Stats().Errors != 1 {
		t.Fatalf("stats: %+v", s.Stats())
	}
}

func TestScan_LinkLookup(t *testing.T) {
	doc := newFakeDoc(1)
	s := New(doc, nil, Config{})
	if _, err := s.Scan(context.Background()); err != nil {
		t.Fatal(err)
	}
	l, ok := s.Link("a0")
	if !ok || l.URL != "https://ci.example/artifacts/0" {
		t.Fatalf("lookup: %v %+v", ok, l)
	}
	if _, ok := s.Link("nope"); ok {
		t.Fatal("unknown ref resolved")
	}
}

func TestRun_EagerThenPeriodic(t *testing.T) {
	doc := newFakeDoc(1)
	rec := &recorder{}
	s := New(doc, rec, Config{Interval: 20 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for doc.calls.Load() < 1 {
		if time.Now().After(deadline) {
			t.Fatal("no eager pass")
		}
		time.Sleep(time.Millisecond)
	}

	doc.add(1)
	for {
		rec.mu.Lock()
		n := len(rec.links)
		rec.mu.Unlock()
		if n == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("periodic pass did not pick up new link, registered %d", n)
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	<-done
}

func TestRun_FailingPassKeepsLooping(t *testing.T) {
	doc := newFakeDoc(1)
	doc.err = errors.New("boom")
	s := New(doc, nil, Config{Interval: 10 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	if doc.calls.Load() < 2 {
		t.Fatalf("loop stopped after failure: %d calls", doc.calls.Load())
	}
}

func TestDefaultSelector(t *testing.T) {
	want := `a[href*="/artifacts/"]:not(.artipeek-control):not([data-test-selector="download-artifact-button"])`
	if DefaultSelector != want {
		t.Fatalf("selector %s", DefaultSelector)
	}
}

// scriptedDoc returns one canned batch per pass.
type scriptedDoc struct {
	passes [][]Candidate
	n      int
}

func (d *scriptedDoc) ClaimLinks(context.Context, string, string) ([]Candidate, error) {
	if d.n >= len(d.passes) {
		return nil, nil
	}
	out := d.passes[d.n]
	d.n++
	return out, nil
}

func TestScan_ReloadedDocumentReusesRefs(t *testing.T) {
	// WHAT: refs restarting in a new document still yield new links.
	// WHY: after a reload the fresh anchors must be registered, or their
	// previews stay dead.
	doc := &scriptedDoc{passes: [][]Candidate{
		{{Doc: "d1", Ref: "r1", Label: "old.png", URL: "https://ci/artifacts/1"}},
		{{Doc: "d2", Ref: "r1", Label: "old.png", URL: "https://ci/artifacts/1"}},
		{{Doc: "d2", Ref: "r1", Label: "new.mp4", URL: "https://ci/artifacts/2"}},
		{{Doc: "d2", Ref: "r1", Label: "new.mp4", URL: "https://ci/artifacts/2"}},
	}}
	rec := &recorder{}
	s := New(doc, rec, Config{})
	ctx := context.Background()

	var got []int
	for range doc.passes {
		links, err := s.Scan(ctx)
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, len(links))
	}
	if fmt.Sprint(got) != "[1 1 1 0]" {
		t.Fatalf("links per pass = %v, want [1 1 1 0]", got)
	}
	if len(rec.links) != 3 {
		t.Fatalf("registered %d links, want 3", len(rec.links))
	}
	l, ok := s.Link("r1")
	if !ok || l.URL != "https://ci/artifacts/2" || l.Kind != artifact.KindVideo {
		t.Fatalf("Link(r1) = %+v", l)
	}
}
