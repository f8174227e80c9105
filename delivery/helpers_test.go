package delivery

import (
	"context"
	"sync"

	"github.com/nbd-wtf/go-nostr"

	"github.com/scm-repo-mirror/psic4t-nospeak-sub000/relay"
)

// fakeLink implements relay.Link; only Publish matters here.
type fakeLink struct {
	mu           sync.Mutex
	publishFn    func(call int, evt nostr.Event) error
	publishCalls int
}

func (l *fakeLink) Publish(ctx context.Context, evt nostr.Event) error {
	l.mu.Lock()
	l.publishCalls++
	call := l.publishCalls
	fn := l.publishFn
	l.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if fn != nil {
		return fn(call, evt)
	}
	return nil
}

func (l *fakeLink) calls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.publishCalls
}

func (l *fakeLink) Subscribe(ctx context.Context, filters nostr.Filters) (relay.Subscription, error) {
	return nil, context.Canceled
}

func (l *fakeLink) Authenticate(ctx context.Context, sign func(evt *nostr.Event) error) error {
	return nil
}

func (l *fakeLink) IsConnected() bool     { return true }
func (l *fakeLink) Done() <-chan struct{} { return nil }
func (l *fakeLink) Close() error          { return nil }

// fakeNetwork implements RelayNetwork over a static link table.
type fakeNetwork struct {
	mu           sync.Mutex
	links        map[string]*fakeLink // nil entry: managed but disconnected
	authErr      error
	authCalls    int
	requiredURLs []string
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{links: make(map[string]*fakeLink)}
}

func (n *fakeNetwork) addConnected(url string, link *fakeLink) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.links[url] = link
}

func (n *fakeNetwork) addDisconnected(url string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.links[url] = nil
}

func (n *fakeNetwork) remove(url string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.links, url)
}

func (n *fakeNetwork) ConnectedLink(url string) (relay.Link, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	link, ok := n.links[url]
	if !ok || link == nil {
		return nil, false
	}
	return link, true
}

func (n *fakeNetwork) IsManaged(url string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, ok := n.links[url]
	return ok
}

func (n *fakeNetwork) MarkAuthRequired(url string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.requiredURLs = append(n.requiredURLs, url)
}

func (n *fakeNetwork) AuthenticateRelay(ctx context.Context, url string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.authCalls++
	return n.authErr
}

func (n *fakeNetwork) authCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.authCalls
}
