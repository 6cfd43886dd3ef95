package blob

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"path"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/artipeek/shield"
)

// Server exposes a Store over HTTP:
//
//	GET /blob/{id}             inline, with Range support for video seeking
//	GET /blob/{id}?download=1  as an attachment named after the entry
//	GET /healthz
type Server struct {
	store  *Store
	router *chi.Mux
	logger *slog.Logger
}

// NewServer builds the router for store. Extra routes may be mounted on
// Router() before Serve is called.
func NewServer(store *Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{store: store, logger: logger}

	r := chi.NewRouter()
	for _, mw := range shield.Stack(shield.BlobHeaders(), logger) {
		r.Use(mw)
	}
	r.Get("/blob/{id}", s.handleBlob)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprintf(w, "ok blobs=%d bytes=%d\n", store.Len(), store.Bytes())
	})
	s.router = r
	return s
}

// Router returns the underlying chi router.
func (s *Server) Router() chi.Router { return s.router }

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler { return s.router }

// Serve serves on ln until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.logger.Info("blob: serving", "addr", ln.Addr().String())
	if err := shield.Serve(ctx, ln, s.router); err != nil {
		return fmt.Errorf("blob: %w", err)
	}
	return nil
}

func (s *Server) handleBlob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	b, ok := s.store.Get(id)
	if !ok {
		http.Error(w, "blob revoked or unknown", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", b.ContentType)
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	if r.URL.Query().Get("download") != "" {
		w.Header().Set("Content-Disposition",
			mime.FormatMediaType("attachment", map[string]string{"filename": path.Base(b.Name)}))
	}

	http.ServeContent(w, r, path.Base(b.Name), b.Created, bytes.NewReader(b.Data))
}
