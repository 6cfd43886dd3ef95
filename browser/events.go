package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"strings"

	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/artipeek/preview"
)

// Event is a message sent by the page script through the binding.
type Event struct {
	Type   string `json:"type"`             // activate | click
	Ref    string `json:"ref,omitempty"`    // for activate
	Target string `json:"target,omitempty"` // for click
}

// ParseEvent decodes a binding payload.
func ParseEvent(payload string) (Event, error) {
	var e Event
	if err := json.Unmarshal([]byte(payload), &e); err != nil {
		return Event{}, fmt.Errorf("browser: event payload: %w", err)
	}
	switch e.Type {
	case "activate":
		if e.Ref == "" {
			return Event{}, fmt.Errorf("browser: activate without ref")
		}
	case "click":
		if _, ok := preview.ParseClickTarget(e.Target); !ok {
			return Event{}, fmt.Errorf("browser: unknown click target %q", e.Target)
		}
	default:
		return Event{}, fmt.Errorf("browser: unknown event %q", e.Type)
	}
	return e, nil
}

// Controller is the part of *preview.Controller the page drives.
type Controller interface {
	Activate(ctx context.Context, ref string) (*preview.Session, error)
	Click(target preview.ClickTarget) bool
}

// Dispatch applies one event to ctrl.
func Dispatch(ctx context.Context, ctrl Controller, e Event) error {
	switch e.Type {
	case "activate":
		_, err := ctrl.Activate(ctx, e.Ref)
		return err
	case "click":
		t, _ := preview.ParseClickTarget(e.Target)
		ctrl.Click(t)
	}
	return nil
}

// eventQueue bounds binding events waiting for the dispatcher.
const eventQueue = 64

// Listen forwards binding calls to ctrl until ctx is cancelled. Events are
// applied one at a time in arrival order, off the CDP event loop.
func (p *Page) Listen(ctx context.Context, ctrl Controller) {
	events := make(chan Event, eventQueue)
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.dispatchLoop(ctx, ctrl, events)
	}()

	p.Rod.Context(ctx).EachEvent(func(e *proto.RuntimeBindingCalled) {
		if e.Name != BindingName {
			return
		}
		ev, err := ParseEvent(e.Payload)
		if err != nil {
			p.logger.Warn("browser: bad event", "error", err)
			return
		}
		p.logger.Debug("browser: event", "type", ev.Type, "ref", ev.Ref, "target", ev.Target)
		select {
		case events <- ev:
		case <-ctx.Done():
		}
	})()

	close(events)
	<-done
}

// dispatchLoop applies queued events in order until events is closed.
func (p *Page) dispatchLoop(ctx context.Context, ctrl Controller, events <-chan Event) {
	for ev := range events {
		if err := Dispatch(ctx, ctrl, ev); err != nil {
			p.logger.Warn("browser: dispatch", "type", ev.Type, "ref", ev.Ref, "error", err)
		}
	}
}

func collapse(s string) string {
	return strings.Join(strings.Fields(html.UnescapeString(s)), " ")
}
