package router

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/samber/lo"
)

// RelayNotification is the sum of events the Channel delivers to the
// router's inbound-forwarder loop. Exactly one of Event or EOSESubID is
// set; anything else the transport produces is dropped before it reaches
// this type.
type RelayNotification struct {
	Event     *nostr.Event
	SubID     string
	EOSESubID string
}

// Channel is the capability set the router consumes from the transport
// (spec §6.1). The router never talks to a relay socket directly — only
// through this interface — so it can be driven by RelayPoolChannel in
// production or a fake in tests.
type Channel interface {
	// Subscribe installs filter under id across every connected relay and
	// returns how many relays it was installed on.
	Subscribe(id PortalId, filter nostr.Filter) (int, error)
	// SubscribeTo installs filter under id on exactly the named relays.
	SubscribeTo(urls []string, id PortalId, filter nostr.Filter) error
	Unsubscribe(id PortalId)
	Broadcast(event *nostr.Event) error
	BroadcastTo(urls []string, event *nostr.Event) error
	// Notifications is the single stream of inbound relay notifications;
	// the router's listener goroutine is its only consumer.
	Notifications() <-chan RelayNotification
	AddRelay(ctx context.Context, url string) error
	RemoveRelay(url string)
	HasRelay(url string) bool
	NumRelays() int
	Shutdown()
}

// RelayPoolChannel is the production Channel: an xsync concurrent map of
// connected relays plus one nostr.Subscription per (relay, PortalId),
// grounded in the same xsync-backed pooling style as the teacher's relay
// pool but tracking per-relay/per-subscription identity throughout, which
// the router's fan-out and EOSE accounting require.
type RelayPoolChannel struct {
	ctx    context.Context
	cancel context.CancelFunc

	relays *xsync.MapOf[string, *nostr.Relay]
	// subs tracks, per PortalId text, the set of live subscriptions so
	// Unsubscribe can tear them down.
	subs *xsync.MapOf[string, []*nostr.Subscription]

	notifications chan RelayNotification

	mu           sync.Mutex
	connectedSet []string
}

// NewRelayPoolChannel constructs an empty pool with no relays connected.
func NewRelayPoolChannel(ctx context.Context) *RelayPoolChannel {
	ctx, cancel := context.WithCancel(ctx)
	return &RelayPoolChannel{
		ctx:           ctx,
		cancel:        cancel,
		relays:        xsync.NewMapOf[string, *nostr.Relay](),
		subs:          xsync.NewMapOf[string, []*nostr.Subscription](),
		notifications: make(chan RelayNotification, 256),
	}
}

func (c *RelayPoolChannel) Notifications() <-chan RelayNotification { return c.notifications }

func (c *RelayPoolChannel) AddRelay(ctx context.Context, url string) error {
	nm := nostr.NormalizeURL(url)
	if _, ok := c.relays.Load(nm); ok {
		return nil
	}
	connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	relay, err := nostr.RelayConnect(connectCtx, nm)
	if err != nil {
		return fmt.Errorf("connect relay %s: %w", nm, err)
	}
	c.relays.Store(nm, relay)
	c.mu.Lock()
	if !lo.Contains(c.connectedSet, nm) {
		c.connectedSet = append(c.connectedSet, nm)
	}
	c.mu.Unlock()
	return nil
}

func (c *RelayPoolChannel) RemoveRelay(url string) {
	nm := nostr.NormalizeURL(url)
	if relay, ok := c.relays.LoadAndDelete(nm); ok {
		relay.Close()
	}
	c.mu.Lock()
	c.connectedSet = lo.Without(c.connectedSet, nm)
	c.mu.Unlock()
}

func (c *RelayPoolChannel) HasRelay(url string) bool {
	_, ok := c.relays.Load(nostr.NormalizeURL(url))
	return ok
}

func (c *RelayPoolChannel) NumRelays() int {
	n := 0
	c.relays.Range(func(string, *nostr.Relay) bool { n++; return true })
	return n
}

func (c *RelayPoolChannel) Subscribe(id PortalId, filter nostr.Filter) (int, error) {
	c.mu.Lock()
	urls := append([]string(nil), c.connectedSet...)
	c.mu.Unlock()
	if err := c.subscribeTo(urls, id, filter); err != nil {
		return 0, err
	}
	return len(urls), nil
}

func (c *RelayPoolChannel) SubscribeTo(urls []string, id PortalId, filter nostr.Filter) error {
	return c.subscribeTo(urls, id, filter)
}

func (c *RelayPoolChannel) subscribeTo(urls []string, id PortalId, filter nostr.Filter) error {
	var live []*nostr.Subscription
	for _, url := range urls {
		nm := nostr.NormalizeURL(url)
		relay, ok := c.relays.Load(nm)
		if !ok {
			return fmt.Errorf("%w: %s", ErrRelayNotConnected, nm)
		}
		sub, err := relay.Subscribe(c.ctx, nostr.Filters{filter})
		if err != nil {
			return fmt.Errorf("subscribe %s on %s: %w", id.ToText(), nm, err)
		}
		live = append(live, sub)
		go c.forward(id.ToText(), sub)
	}
	prev, _ := c.subs.Load(id.ToText())
	c.subs.Store(id.ToText(), append(prev, live...))
	return nil
}

func (c *RelayPoolChannel) forward(subID string, sub *nostr.Subscription) {
	for {
		select {
		case <-c.ctx.Done():
			return
		case evt, more := <-sub.Events:
			if !more {
				return
			}
			select {
			case c.notifications <- RelayNotification{Event: evt, SubID: subID}:
			case <-c.ctx.Done():
				return
			}
		case <-sub.EndOfStoredEvents:
			select {
			case c.notifications <- RelayNotification{EOSESubID: subID}:
			case <-c.ctx.Done():
				return
			}
		}
	}
}

func (c *RelayPoolChannel) Unsubscribe(id PortalId) {
	if subs, ok := c.subs.LoadAndDelete(id.ToText()); ok {
		for _, sub := range subs {
			sub.Unsub()
		}
	}
}

func (c *RelayPoolChannel) Broadcast(event *nostr.Event) error {
	c.mu.Lock()
	urls := append([]string(nil), c.connectedSet...)
	c.mu.Unlock()
	return c.BroadcastTo(urls, event)
}

func (c *RelayPoolChannel) BroadcastTo(urls []string, event *nostr.Event) error {
	var firstErr error
	for _, url := range urls {
		nm := nostr.NormalizeURL(url)
		relay, ok := c.relays.Load(nm)
		if !ok {
			if firstErr == nil {
				firstErr = fmt.Errorf("%w: %s", ErrRelayNotConnected, nm)
			}
			continue
		}
		if err := relay.Publish(c.ctx, *event); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("publish to %s: %w", nm, err)
		}
	}
	return firstErr
}

func (c *RelayPoolChannel) Shutdown() {
	c.relays.Range(func(_ string, relay *nostr.Relay) bool {
		relay.Close()
		return true
	})
	c.cancel()
	close(c.notifications)
}
