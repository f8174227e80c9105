package relay

import (
	"context"

	"github.com/nbd-wtf/go-nostr"
)

// Link is the capability interface one relay connection exposes to the
// rest of the core: publish, subscribe and the NIP-42 challenge-response
// exchange. Implementations own exactly one underlying socket.
type Link interface {
	// Publish sends the event and waits for the relay's OK acknowledgment.
	// A rejection reason prefixed "auth-required" signals that the relay
	// wants authentication first.
	Publish(ctx context.Context, evt nostr.Event) error

	// Subscribe opens a REQ with the given filters.
	Subscribe(ctx context.Context, filters nostr.Filters) (Subscription, error)

	// Authenticate runs the relay's challenge-response exchange, calling
	// sign to sign the challenge event.
	Authenticate(ctx context.Context, sign func(evt *nostr.Event) error) error

	// IsConnected reports whether the underlying socket is live.
	IsConnected() bool

	// Done is closed when the underlying socket closes, expectedly or not.
	Done() <-chan struct{}

	Close() error
}

// Subscription is one per-relay subscription handle.
type Subscription interface {
	Events() <-chan *nostr.Event
	// EndOfStoredEvents signals the relay has finished replaying stored
	// events and switched to live delivery.
	EndOfStoredEvents() <-chan struct{}
	// ClosedReason delivers the reason string when the relay closes the
	// subscription from its side.
	ClosedReason() <-chan string
	Unsub()
}

// Dialer opens a Link to a relay URL.
type Dialer func(ctx context.Context, url string) (Link, error)

// DialNostr is the production Dialer, connecting over websocket via
// go-nostr.
func DialNostr(ctx context.Context, url string) (Link, error) {
	r, err := nostr.RelayConnect(ctx, url)
	if err != nil {
		return nil, err
	}
	return &nostrLink{relay: r}, nil
}

type nostrLink struct {
	relay *nostr.Relay
}

func (l *nostrLink) Publish(ctx context.Context, evt nostr.Event) error {
	return l.relay.Publish(ctx, evt)
}

func (l *nostrLink) Subscribe(ctx context.Context, filters nostr.Filters) (Subscription, error) {
	sub, err := l.relay.Subscribe(ctx, filters)
	if err != nil {
		return nil, err
	}
	return &nostrSubscription{sub: sub}, nil
}

func (l *nostrLink) Authenticate(ctx context.Context, sign func(evt *nostr.Event) error) error {
	return l.relay.Auth(ctx, sign)
}

func (l *nostrLink) IsConnected() bool {
	return l.relay.IsConnected()
}

func (l *nostrLink) Done() <-chan struct{} {
	return l.relay.Context().Done()
}

func (l *nostrLink) Close() error {
	return l.relay.Close()
}

type nostrSubscription struct {
	sub *nostr.Subscription
}

func (s *nostrSubscription) Events() <-chan *nostr.Event {
	return s.sub.Events
}

func (s *nostrSubscription) EndOfStoredEvents() <-chan struct{} {
	return s.sub.EndOfStoredEvents
}

func (s *nostrSubscription) ClosedReason() <-chan string {
	return s.sub.ClosedReason
}

func (s *nostrSubscription) Unsub() {
	s.sub.Unsub()
}
