// Package handoff moves a single resource handle from the context that
// extracted it to the privileged viewer context, and carries teardown
// signals back. It is a shared slot store with change notification: last
// write wins, and each listener sees a value at most once.
package handoff

import (
	"context"
	"errors"
)

// Slot keys.
const (
	// KeyResourceHandle carries the handle being handed off.
	KeyResourceHandle = "resource_handle"
	// KeyOriginatingContext is written by the viewer when it activates.
	KeyOriginatingContext = "originating_context_id"
	// KeyDeclinedURL tells a plain context to drop its pending notice.
	KeyDeclinedURL = "declined_url"
)

// Slot is the current content of one key. Version is a store-wide write
// counter: every Set, including a clear, gets a strictly larger version.
type Slot struct {
	Key     string
	Value   string
	Version int64
}

// Empty reports whether the slot holds no value.
func (s Slot) Empty() bool { return s.Value == "" }

// ErrClosed is returned by a store after Close.
var ErrClosed = errors.New("handoff: store closed")

// Store is the shared key-value backend. Implementations must be safe for
// concurrent use; SQLiteStore is also safe across processes.
type Store interface {
	// Get returns the slot for key. A key never written yields an empty
	// slot with version 0.
	Get(ctx context.Context, key string) (Slot, error)
	// Set overwrites key and returns the new slot.
	Set(ctx context.Context, key, value string) (Slot, error)
	// CompareAndSet overwrites key only if its version is still version.
	CompareAndSet(ctx context.Context, key string, version int64, value string) (Slot, bool, error)
	// Since returns the slots written after version, oldest first.
	Since(ctx context.Context, version int64) ([]Slot, error)
	// Version returns the latest write version.
	Version(ctx context.Context) (int64, error)
	// Wait blocks until the latest write version exceeds after.
	Wait(ctx context.Context, after int64) error
	Close() error
}
