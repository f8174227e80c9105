package relay

import (
	"context"
	"sync"

	"github.com/nbd-wtf/go-nostr"
)

// fakeSub is a scriptable Subscription for tests.
type fakeSub struct {
	events chan *nostr.Event
	eose   chan struct{}
	closed chan string

	mu       sync.Mutex
	unsubbed bool
}

func newFakeSub() *fakeSub {
	return &fakeSub{
		events: make(chan *nostr.Event, 16),
		eose:   make(chan struct{}, 1),
		closed: make(chan string, 1),
	}
}

func (s *fakeSub) Events() <-chan *nostr.Event      { return s.events }
func (s *fakeSub) EndOfStoredEvents() <-chan struct{} { return s.eose }
func (s *fakeSub) ClosedReason() <-chan string      { return s.closed }

func (s *fakeSub) Unsub() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unsubbed = true
}

func (s *fakeSub) wasUnsubbed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unsubbed
}

// fakeLink is a scriptable Link for tests.
type fakeLink struct {
	mu           sync.Mutex
	connected    bool
	done         chan struct{}
	subs         []*fakeSub
	publishFn    func(evt nostr.Event) error
	publishCalls int
	authFn       func() error
	authCalls    int
}

func newFakeLink() *fakeLink {
	return &fakeLink{connected: true, done: make(chan struct{})}
}

func (l *fakeLink) Publish(ctx context.Context, evt nostr.Event) error {
	l.mu.Lock()
	l.publishCalls++
	fn := l.publishFn
	l.mu.Unlock()
	if fn != nil {
		return fn(evt)
	}
	return nil
}

func (l *fakeLink) Subscribe(ctx context.Context, filters nostr.Filters) (Subscription, error) {
	sub := newFakeSub()
	l.mu.Lock()
	l.subs = append(l.subs, sub)
	l.mu.Unlock()
	return sub, nil
}

func (l *fakeLink) Authenticate(ctx context.Context, sign func(evt *nostr.Event) error) error {
	l.mu.Lock()
	l.authCalls++
	fn := l.authFn
	l.mu.Unlock()
	if fn != nil {
		return fn()
	}
	evt := nostr.Event{Kind: nostr.KindClientAuthentication, CreatedAt: nostr.Now()}
	return sign(&evt)
}

func (l *fakeLink) IsConnected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected
}

func (l *fakeLink) Done() <-chan struct{} { return l.done }

func (l *fakeLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.connected {
		l.connected = false
		close(l.done)
	}
	return nil
}

func (l *fakeLink) subCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.subs)
}

func (l *fakeLink) lastSub() *fakeSub {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.subs) == 0 {
		return nil
	}
	return l.subs[len(l.subs)-1]
}

// fakeDialer hands out scripted links per URL and counts dials.
type fakeDialer struct {
	mu    sync.Mutex
	links map[string][]*fakeLink // consumed in order; last one repeats
	errs  map[string]error       // error until cleared
	dials map[string]int
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{
		links: make(map[string][]*fakeLink),
		errs:  make(map[string]error),
		dials: make(map[string]int),
	}
}

func (d *fakeDialer) addLink(url string, link *fakeLink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.links[url] = append(d.links[url], link)
}

func (d *fakeDialer) setErr(url string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err == nil {
		delete(d.errs, url)
	} else {
		d.errs[url] = err
	}
}

func (d *fakeDialer) dialCount(url string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials[url]
}

func (d *fakeDialer) dial(ctx context.Context, url string) (Link, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials[url]++
	if err, ok := d.errs[url]; ok {
		return nil, err
	}
	queue := d.links[url]
	if len(queue) == 0 {
		link := newFakeLink()
		d.links[url] = []*fakeLink{link}
		return link, nil
	}
	link := queue[0]
	if len(queue) > 1 {
		d.links[url] = queue[1:]
	}
	return link, nil
}

// fastConfig keeps test timings tight.
func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.Backoff = BackoffConfig{Initial: 0, Max: 0, Multiplier: 2.0}
	cfg.BackgroundBackoff = BackoffConfig{Initial: 0, Max: 0, Multiplier: 2.0}
	return cfg
}
