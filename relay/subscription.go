package relay

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nbd-wtf/go-nostr"
	"github.com/sirupsen/logrus"
)

// subscription is one standing subscription entry: the caller's filters
// and callback, plus one underlying handle per relay it is applied to.
type subscription struct {
	id      string
	filters nostr.Filters
	onEvent func(evt *nostr.Event)

	mu          sync.Mutex
	handles     map[string]Subscription
	authRetried map[string]bool
}

func (s *subscription) setHandle(url string, handle Subscription) {
	s.mu.Lock()
	old := s.handles[url]
	s.handles[url] = handle
	s.mu.Unlock()
	if old != nil {
		old.Unsub()
	}
}

func (s *subscription) dropHandle(url string) {
	s.mu.Lock()
	handle := s.handles[url]
	delete(s.handles, url)
	s.mu.Unlock()
	if handle != nil {
		handle.Unsub()
	}
}

// markAuthRetry returns true the first time it is called for url; the
// auth-retry-once flag is per (subscription, relay).
func (s *subscription) markAuthRetry(url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.authRetried[url] {
		return false
	}
	s.authRetried[url] = true
	return true
}

func (s *subscription) closeAll() {
	s.mu.Lock()
	handles := s.handles
	s.handles = make(map[string]Subscription)
	s.mu.Unlock()
	for _, handle := range handles {
		handle.Unsub()
	}
}

// Subscribe registers a standing subscription. It is applied to every
// currently connected relay and re-applied whenever a relay (re)connects.
// The returned closure tears the subscription down on all relays.
func (m *Manager) Subscribe(filters nostr.Filters, onEvent func(evt *nostr.Event)) (unsubscribe func()) {
	sub := &subscription{
		id:          uuid.NewString(),
		filters:     filters,
		onEvent:     onEvent,
		handles:     make(map[string]Subscription),
		authRetried: make(map[string]bool),
	}

	m.subMu.Lock()
	m.subs[sub.id] = sub
	m.subMu.Unlock()

	for url, link := range m.connectedLinks() {
		m.applySubscription(sub, url, link)
	}

	return func() {
		m.subMu.Lock()
		delete(m.subs, sub.id)
		m.subMu.Unlock()
		sub.closeAll()
	}
}

// applySubscriptionsToRelay applies every registered subscription to a
// relay that just connected. A failure on this relay is logged and does
// not affect the others.
func (m *Manager) applySubscriptionsToRelay(url string, link Link) {
	m.subMu.Lock()
	subs := make([]*subscription, 0, len(m.subs))
	for _, sub := range m.subs {
		subs = append(subs, sub)
	}
	m.subMu.Unlock()

	for _, sub := range subs {
		m.applySubscription(sub, url, link)
	}
}

func (m *Manager) applySubscription(sub *subscription, url string, link Link) {
	handle, err := link.Subscribe(m.ctx, sub.filters)
	if err != nil {
		m.log.WithFields(logrus.Fields{
			"url":   url,
			"error": err,
		}).Warn("Failed to apply subscription to relay")
		return
	}
	sub.setHandle(url, handle)

	go m.pumpSubscription(sub, url, handle)
}

// pumpSubscription forwards events to the subscription callback and
// handles a relay-side close. An auth-required close marks the relay,
// authenticates, and re-applies the subscription once.
func (m *Manager) pumpSubscription(sub *subscription, url string, handle Subscription) {
	for {
		select {
		case <-m.ctx.Done():
			return
		case evt, ok := <-handle.Events():
			if !ok {
				return
			}
			sub.onEvent(evt)
		case reason, ok := <-handle.ClosedReason():
			if !ok {
				return
			}
			if IsAuthRequired(reason) && sub.markAuthRetry(url) {
				m.MarkAuthRequired(url)
				go m.reapplyAfterAuth(sub, url)
			}
			return
		}
	}
}

func (m *Manager) reapplyAfterAuth(sub *subscription, url string) {
	ctx, cancel := context.WithTimeout(m.ctx, 10*time.Second)
	defer cancel()

	if err := m.AuthenticateRelay(ctx, url); err != nil {
		return
	}
	// still registered?
	m.subMu.Lock()
	_, alive := m.subs[sub.id]
	m.subMu.Unlock()
	if !alive {
		return
	}
	if link, ok := m.ConnectedLink(url); ok {
		m.applySubscription(sub, url, link)
	}
}

// dropSubscriptionHandles clears every subscription's handle on one relay
// only; other relays keep streaming.
func (m *Manager) dropSubscriptionHandles(url string) {
	m.subMu.Lock()
	subs := make([]*subscription, 0, len(m.subs))
	for _, sub := range m.subs {
		subs = append(subs, sub)
	}
	m.subMu.Unlock()

	for _, sub := range subs {
		sub.dropHandle(url)
	}
}

// FetchEvents runs a one-shot query against every connected relay. It
// returns when each relay has signaled end-of-stored-events or the
// timeout elapses, deduplicating by event id across relays.
func (m *Manager) FetchEvents(ctx context.Context, filters nostr.Filters, timeout time.Duration) ([]*nostr.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	links := m.connectedLinks()

	var (
		mu   sync.Mutex
		seen = make(map[string]bool)
		out  []*nostr.Event
		wg   sync.WaitGroup
	)

	for url, link := range links {
		wg.Add(1)
		go func(url string, link Link) {
			defer wg.Done()

			handle, err := link.Subscribe(ctx, filters)
			if err != nil {
				m.log.WithFields(logrus.Fields{
					"url":   url,
					"error": err,
				}).Debug("Fetch subscribe failed")
				return
			}
			defer handle.Unsub()

			for {
				select {
				case <-ctx.Done():
					return
				case <-handle.EndOfStoredEvents():
					return
				case evt, ok := <-handle.Events():
					if !ok {
						return
					}
					mu.Lock()
					if !seen[evt.ID] {
						seen[evt.ID] = true
						out = append(out, evt)
					}
					mu.Unlock()
				}
			}
		}(url, link)
	}

	wg.Wait()
	return out, nil
}
