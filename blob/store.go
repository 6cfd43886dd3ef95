// Package blob keeps extracted archive entries in memory and makes them
// addressable over a loopback HTTP server, the way an object URL makes a
// Blob addressable inside a page. Every Put allocates one resource that
// stays alive until Revoke.
package blob

import (
	"mime"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/hazyhaar/artipeek/artifact"
	"github.com/hazyhaar/artipeek/idgen"
)

// Blob is one stored resource.
type Blob struct {
	ID          string
	Name        string // archive entry name
	ContentType string
	Data        []byte
	Created     time.Time
}

// Store is a concurrency-safe map of revocable blobs. Handles are URLs
// rooted at the store's base.
type Store struct {
	base  string
	newID idgen.Generator

	mu    sync.RWMutex
	blobs map[string]*Blob
}

// NewStore creates a Store whose handles are rooted at base, for example
// "http://127.0.0.1:41873". base may be empty, which yields path-only handles.
func NewStore(base string) *Store {
	return &Store{
		base:  strings.TrimSuffix(base, "/"),
		newID: idgen.Blob,
		blobs: make(map[string]*Blob),
	}
}

// Base returns the URL prefix of handles.
func (s *Store) Base() string { return s.base }

// Put stores data under a fresh id and returns its handle. The content type
// is derived from name's extension when ctype is empty.
func (s *Store) Put(name, ctype string, data []byte) artifact.Handle {
	if ctype == "" {
		ctype = ContentType(name)
	}
	b := &Blob{
		ID:          s.newID(),
		Name:        name,
		ContentType: ctype,
		Data:        data,
		Created:     time.Now(),
	}

	s.mu.Lock()
	s.blobs[b.ID] = b
	s.mu.Unlock()

	return s.HandleFor(b.ID)
}

// HandleFor builds the handle of the blob with the given id.
func (s *Store) HandleFor(id string) artifact.Handle {
	return artifact.Handle(s.base + "/blob/" + id)
}

// Get returns the blob with the given id.
func (s *Store) Get(id string) (*Blob, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blobs[id]
	return b, ok
}

// Resolve maps a handle produced by this store back to its blob.
func (s *Store) Resolve(h artifact.Handle) (*Blob, bool) {
	id, ok := s.idOf(h)
	if !ok {
		return nil, false
	}
	return s.Get(id)
}

// Revoke releases the resource behind h. It reports whether anything was
// released; revoking twice is harmless.
func (s *Store) Revoke(h artifact.Handle) bool {
	id, ok := s.idOf(h)
	if !ok {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[id]; !ok {
		return false
	}
	delete(s.blobs, id)
	return true
}

// Len returns the number of live blobs.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}

// Bytes returns the total size of live blobs.
func (s *Store) Bytes() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, b := range s.blobs {
		n += int64(len(b.Data))
	}
	return n
}

func (s *Store) idOf(h artifact.Handle) (string, bool) {
	prefix := s.base + "/blob/"
	str := string(h)
	if !strings.HasPrefix(str, prefix) {
		return "", false
	}
	id := strings.TrimPrefix(str, prefix)
	if id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}

// ContentType guesses a MIME type from an entry name.
func ContentType(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".mp4":
		return "video/mp4"
	case ".webm":
		return "video/webm"
	case ".png":
		return "image/png"
	}
	if t := mime.TypeByExtension(path.Ext(name)); t != "" {
		return t
	}
	return "application/octet-stream"
}
