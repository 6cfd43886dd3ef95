// Package viewer is the privileged context: it waits for handles on the
// handoff channel, opens the viewer tab and serves the page that plays
// them. A handle is consumed by the page, not by the listener, so a tab
// opened late still finds it.
package viewer

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/artipeek/handoff"
	"github.com/hazyhaar/artipeek/shield"
)

// Opener opens the viewer page, or focuses it when already open.
type Opener interface {
	Open(ctx context.Context, url string) error
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, url string) error

func (f OpenerFunc) Open(ctx context.Context, url string) error { return f(ctx, url) }

// Config configures a Viewer.
type Config struct {
	// ContextID is announced on the handoff channel when the page loads.
	ContextID string
	// PageURL is where this viewer's page is reachable, for example
	// "http://127.0.0.1:7411/viewer".
	PageURL string
	Logger  *slog.Logger
}

// Viewer consumes handoffs.
type Viewer struct {
	ch     *handoff.Channel
	opener Opener
	cfg    Config
	router *chi.Mux

	opened atomic.Int64
	served atomic.Int64
}

// New creates a Viewer.
func New(ch *handoff.Channel, opener Opener, cfg Config) *Viewer {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	v := &Viewer{ch: ch, opener: opener, cfg: cfg}

	r := chi.NewRouter()
	for _, mw := range shield.Stack(shield.ViewerHeaders(), cfg.Logger) {
		r.Use(mw)
	}
	r.Get("/viewer", v.handlePage)
	r.Post("/viewer/decline", v.handleDecline)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprintf(w, "ok opened=%d served=%d\n", v.opened.Load(), v.served.Load())
	})
	v.router = r
	return v
}

// Handler returns the viewer's HTTP routes.
func (v *Viewer) Handler() http.Handler { return v.router }

// Run opens the viewer page for every handle published after Run starts.
// It blocks until ctx is cancelled or the channel becomes unavailable.
func (v *Viewer) Run(ctx context.Context) error {
	sub, err := v.ch.Subscribe(ctx, handoff.KeyResourceHandle, func(ctx context.Context, handle string) {
		v.cfg.Logger.Info("viewer: handoff received", "handle", handle)
		if err := v.opener.Open(ctx, v.cfg.PageURL); err != nil {
			v.cfg.Logger.Warn("viewer: open page", "url", v.cfg.PageURL, "error", err)
			return
		}
		v.opened.Add(1)
	})
	if err != nil {
		return err
	}
	v.cfg.Logger.Info("viewer: listening", "context_id", v.cfg.ContextID, "page", v.cfg.PageURL)

	select {
	case <-ctx.Done():
		sub.Stop()
		return nil
	case <-sub.Done():
		return sub.Err()
	}
}

// Serve serves the viewer routes on ln until ctx is cancelled.
func (v *Viewer) Serve(ctx context.Context, ln net.Listener) error {
	v.cfg.Logger.Info("viewer: serving", "addr", ln.Addr().String())
	if err := shield.Serve(ctx, ln, v.router); err != nil {
		return fmt.Errorf("viewer: %w", err)
	}
	return nil
}

func (v *Viewer) handlePage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := shield.GetLogger(ctx)

	if err := v.ch.AnnounceOriginating(ctx, v.cfg.ContextID); err != nil {
		log.Warn("viewer: announce", "error", err)
	}

	h, ok, err := v.ch.Take(ctx)
	if err != nil {
		log.Error("viewer: take handle", "error", err)
		http.Error(w, "handoff channel unavailable", http.StatusServiceUnavailable)
		return
	}
	if ok {
		v.served.Add(1)
		log.Info("viewer: playing", "handle", h)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := renderPage(w, h); err != nil {
		log.Error("viewer: render", "error", err)
	}
}

func (v *Viewer) handleDecline(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	url := r.PostForm.Get("url")
	if url == "" {
		http.Error(w, "url required", http.StatusBadRequest)
		return
	}
	if err := v.ch.Decline(r.Context(), url); err != nil {
		shield.GetLogger(r.Context()).Error("viewer: decline", "error", err)
		http.Error(w, "handoff channel unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
