package viewer

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hazyhaar/artipeek/handoff"
)

type fakeOpener struct {
	mu     sync.Mutex
	urls   []string
	opened chan string
}

func newOpener() *fakeOpener { return &fakeOpener{opened: make(chan string, 8)} }

func (o *fakeOpener) Open(_ context.Context, u string) error {
	o.mu.Lock()
	o.urls = append(o.urls, u)
	o.mu.Unlock()
	select {
	case o.opened <- u:
	default:
	}
	return nil
}

func setup(t *testing.T) (*Viewer, *handoff.Channel, *fakeOpener, *httptest.Server) {
	t.Helper()
	store := handoff.NewMemoryStore()
	t.Cleanup(func() { store.Close() })
	ch := handoff.New(store)
	op := newOpener()
	v := New(ch, op, Config{ContextID: "ctx_viewer", PageURL: "http://127.0.0.1:7411/viewer"})
	srv := httptest.NewServer(v.Handler())
	t.Cleanup(srv.Close)
	return v, ch, op, srv
}

func get(t *testing.T, u string) (int, string) {
	t.Helper()
	resp, err := http.Get(u)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(b)
}

func TestRun_OpensPageOnHandoff(t *testing.T) {
	v, ch, op, _ := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- v.Run(ctx) }()

	// Run subscribes asynchronously; publish until the listener reacts.
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	deadline := time.After(3 * time.Second)
	for opened := false; !opened; {
		require.NoError(t, ch.Publish(ctx, "http://127.0.0.1:9/blob/a"))
		select {
		case u := <-op.opened:
			assert.Equal(t, "http://127.0.0.1:7411/viewer", u)
			opened = true
		case <-tick.C:
		case <-deadline:
			t.Fatal("viewer page not opened")
		}
	}

	// The listener does not consume the handle; the page does.
	h, ok, err := ch.Peek(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "http://127.0.0.1:9/blob/a", string(h))

	cancel()
	assert.NoError(t, <-done)
}

func TestPage_TakesHandleOnce(t *testing.T) {
	_, ch, _, srv := setup(t)
	ctx := context.Background()
	require.NoError(t, ch.Publish(ctx, "http://127.0.0.1:9/blob/a"))

	code, body := get(t, srv.URL+"/viewer")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `<video id="video-preview" controls="" autoplay="" src="http://127.0.0.1:9/blob/a">`)
	assert.Contains(t, body, `href="http://127.0.0.1:9/blob/a?download=1"`)

	_, ok, err := ch.Peek(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "page must clear the slot")

	code, body = get(t, srv.URL+"/viewer")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "No pending video.")
	assert.NotContains(t, body, "<video")
}

func TestPage_AnnouncesOriginatingContext(t *testing.T) {
	_, ch, _, srv := setup(t)
	ctx := context.Background()

	got := make(chan string, 1)
	sub, err := ch.Subscribe(ctx, handoff.KeyOriginatingContext, func(_ context.Context, id string) { got <- id })
	require.NoError(t, err)
	defer sub.Stop()

	get(t, srv.URL+"/viewer")
	select {
	case id := <-got:
		assert.Equal(t, "ctx_viewer", id)
	case <-time.After(3 * time.Second):
		t.Fatal("no announcement")
	}
}

func TestPage_EscapesHandle(t *testing.T) {
	_, ch, _, srv := setup(t)
	require.NoError(t, ch.Publish(context.Background(), `x"><script>alert(1)</script>`))
	_, body := get(t, srv.URL+"/viewer")
	assert.NotContains(t, body, "<script>")
}

func TestDecline(t *testing.T) {
	_, ch, _, srv := setup(t)
	ctx := context.Background()

	resp, err := http.PostForm(srv.URL+"/viewer/decline", url.Values{"url": {"https://ci.example/run/1"}})
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	sl, err := ch.Store().Get(ctx, handoff.KeyDeclinedURL)
	require.NoError(t, err)
	assert.Equal(t, "https://ci.example/run/1", sl.Value)

	resp, err = http.PostForm(srv.URL+"/viewer/decline", url.Values{})
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPage_ChannelDown(t *testing.T) {
	store := handoff.NewMemoryStore()
	v := New(handoff.New(store), newOpener(), Config{ContextID: "ctx_viewer"})
	store.Close()

	rec := httptest.NewRecorder()
	v.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/viewer", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealthz(t *testing.T) {
	_, _, _, srv := setup(t)
	code, body := get(t, srv.URL+"/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, strings.HasPrefix(body, "ok "))
}
