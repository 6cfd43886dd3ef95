package handoff

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/hazyhaar/artipeek/artifact"
)

// Channel is the typed view over a Store used by both sides of a handoff.
type Channel struct {
	store  Store
	logger *slog.Logger
}

// Option configures a Channel.
type Option func(*Channel)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Channel) { c.logger = l }
}

// New wraps store.
func New(store Store, opts ...Option) *Channel {
	c := &Channel{store: store, logger: slog.Default()}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Store returns the underlying store.
func (c *Channel) Store() Store { return c.store }

func unavailable(key string, err error) error {
	if err == nil {
		return nil
	}
	return &artifact.ChannelUnavailableError{Key: key, Cause: err}
}

// Publish overwrites the pending handle. A handle not yet taken is lost.
func (c *Channel) Publish(ctx context.Context, h artifact.Handle) error {
	sl, err := c.store.Set(ctx, KeyResourceHandle, string(h))
	if err != nil {
		return unavailable(KeyResourceHandle, err)
	}
	c.logger.Debug("handoff: published", "handle", h, "version", sl.Version)
	return nil
}

// Take reads and clears the pending handle. ok is false when nothing is
// pending. Two concurrent takers never receive the same write.
func (c *Channel) Take(ctx context.Context) (artifact.Handle, bool, error) {
	for {
		sl, err := c.store.Get(ctx, KeyResourceHandle)
		if err != nil {
			return "", false, unavailable(KeyResourceHandle, err)
		}
		if sl.Empty() {
			return "", false, nil
		}
		_, ok, err := c.store.CompareAndSet(ctx, KeyResourceHandle, sl.Version, "")
		if err != nil {
			return "", false, unavailable(KeyResourceHandle, err)
		}
		if ok {
			c.logger.Debug("handoff: taken", "handle", sl.Value, "version", sl.Version)
			return artifact.Handle(sl.Value), true, nil
		}
		if err := ctx.Err(); err != nil {
			return "", false, err
		}
	}
}

// Peek returns the pending handle without clearing it.
func (c *Channel) Peek(ctx context.Context) (artifact.Handle, bool, error) {
	sl, err := c.store.Get(ctx, KeyResourceHandle)
	if err != nil {
		return "", false, unavailable(KeyResourceHandle, err)
	}
	return artifact.Handle(sl.Value), !sl.Empty(), nil
}

// AnnounceOriginating records the context that currently owns the viewer.
// Plain contexts with a different id tear their overlay down.
func (c *Channel) AnnounceOriginating(ctx context.Context, contextID string) error {
	_, err := c.store.Set(ctx, KeyOriginatingContext, contextID)
	return unavailable(KeyOriginatingContext, err)
}

// Decline tells plain contexts to drop their pending notice for url.
func (c *Channel) Decline(ctx context.Context, url string) error {
	_, err := c.store.Set(ctx, KeyDeclinedURL, url)
	return unavailable(KeyDeclinedURL, err)
}

// Subscription is a running listener started by Subscribe.
type Subscription struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

// Stop ends the subscription and waits for its goroutine.
func (s *Subscription) Stop() {
	s.cancel()
	<-s.done
}

// Done is closed when the listener goroutine exits.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Err reports why the listener stopped. It is nil after Stop or a
// cancelled context.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Subscribe calls fn once for every non-empty value written to key after
// Subscribe returns. Values written before are not replayed. Writes that
// land between two polls collapse to the latest one.
func (c *Channel) Subscribe(ctx context.Context, key string, fn func(ctx context.Context, value string)) (*Subscription, error) {
	last, err := c.store.Version(ctx)
	if err != nil {
		return nil, unavailable(key, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	sub := &Subscription{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(sub.done)
		for {
			if err := c.store.Wait(ctx, last); err != nil {
				if ctx.Err() == nil {
					sub.setErr(unavailable(key, err))
					c.logger.Warn("handoff: subscription stopped", "key", key, "error", err)
				}
				return
			}
			slots, err := c.store.Since(ctx, last)
			if err != nil {
				if ctx.Err() == nil && !errors.Is(err, ErrClosed) {
					sub.setErr(unavailable(key, err))
					c.logger.Warn("handoff: read changes", "key", key, "error", err)
				}
				return
			}
			for _, sl := range slots {
				if sl.Version > last {
					last = sl.Version
				}
				if sl.Key != key || sl.Empty() {
					continue
				}
				fn(ctx, sl.Value)
			}
		}
	}()
	return sub, nil
}

func (s *Subscription) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}
