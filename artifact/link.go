// Package artifact holds the domain types shared by the scanner, the
// extractor, the preview controller and the handoff channel: candidate
// links, media kinds, resource handles and the error taxonomy.
package artifact

import (
	"strings"
	"sync"
)

// MediaKind is the kind of media a link is expected to point at.
type MediaKind string

const (
	KindImage MediaKind = "image"
	KindVideo MediaKind = "video"
)

// InferKind derives the media kind from a link label. Labels mentioning an
// .mp4 file are video, everything else is treated as an image.
func InferKind(label string) MediaKind {
	if strings.Contains(strings.ToLower(label), ".mp4") {
		return KindVideo
	}
	return KindImage
}

// Handle is an opaque, locally addressable reference to extracted bytes.
// The zero value means "no handle".
type Handle string

// Link is a candidate archive link discovered in a document.
//
// Ref identifies the link's position in its document and is opaque outside
// the Document implementation that produced it. The processed flag and the
// cached handle are both write-once.
type Link struct {
	Ref   string
	Label string
	URL   string
	Kind  MediaKind

	mu        sync.Mutex
	processed bool
	handle    Handle
}

// NewLink builds a Link and infers its media kind from the label.
func NewLink(ref, label, url string) *Link {
	label = strings.TrimSpace(label)
	return &Link{
		Ref:   ref,
		Label: label,
		URL:   url,
		Kind:  InferKind(label),
	}
}

// MarkProcessed sets the processed flag. It returns true only for the call
// that performed the false→true transition.
func (l *Link) MarkProcessed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.processed {
		return false
	}
	l.processed = true
	return true
}

// Processed reports whether the link has been claimed by a scan.
func (l *Link) Processed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.processed
}

// CachedHandle returns the handle stored after the first successful
// extraction, if any.
func (l *Link) CachedHandle() (Handle, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.handle, l.handle != ""
}

// CacheHandle stores h unless a handle is already cached. It returns the
// handle that is cached after the call and whether h was the one stored.
func (l *Link) CacheHandle(h Handle) (Handle, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.handle != "" || h == "" {
		return l.handle, false
	}
	l.handle = h
	return h, true
}
