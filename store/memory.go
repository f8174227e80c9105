package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

const (
	profileTTL           = 30 * time.Minute
	profileSweepInterval = 10 * time.Minute
)

// MemoryStore is an in-memory Store implementation. It backs the default
// client configuration and the package tests; production embeddings
// replace it with an indexed on-disk store.
type MemoryStore struct {
	mu            sync.RWMutex
	messages      map[string]*Message
	reactions     map[string]*Reaction
	contacts      map[string]*Contact
	conversations map[string]time.Time
	retryItems    map[string]*RetryItem

	profiles *cache.Cache
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages:      make(map[string]*Message),
		reactions:     make(map[string]*Reaction),
		contacts:      make(map[string]*Contact),
		conversations: make(map[string]time.Time),
		retryItems:    make(map[string]*RetryItem),
		profiles:      cache.New(profileTTL, profileSweepInterval),
	}
}

func (s *MemoryStore) PutMessage(ctx context.Context, msg *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// duplicate-tolerant upsert
	s.messages[msg.EventID] = msg
	return nil
}

func (s *MemoryStore) HasMessage(ctx context.Context, eventID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.messages[eventID]
	return ok, nil
}

func (s *MemoryStore) MessagesByConversation(ctx context.Context, conversationID string, since, until time.Time, limit int) ([]*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Message
	for _, msg := range s.messages {
		if msg.ConversationID != conversationID {
			continue
		}
		if !since.IsZero() && msg.SentAt.Before(since) {
			continue
		}
		if !until.IsZero() && msg.SentAt.After(until) {
			continue
		}
		out = append(out, msg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SentAt.Before(out[j].SentAt) })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *MemoryStore) PutRetryItem(ctx context.Context, item *RetryItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retryItems[item.ID] = item
	return nil
}

func (s *MemoryStore) UpdateRetryItem(ctx context.Context, item *RetryItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retryItems[item.ID] = item
	return nil
}

func (s *MemoryStore) DeleteRetryItem(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.retryItems, id)
	return nil
}

func (s *MemoryStore) DueRetryItems(ctx context.Context, now time.Time) ([]*RetryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []*RetryItem
	for _, item := range s.retryItems {
		if !item.NextAttempt.After(now) {
			due = append(due, item)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NextAttempt.Before(due[j].NextAttempt) })
	return due, nil
}

func (s *MemoryStore) HasContact(ctx context.Context, pubKey string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.contacts[pubKey]
	return ok, nil
}

func (s *MemoryStore) PutContact(ctx context.Context, contact *Contact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contacts[contact.PubKey] = contact
	return nil
}

func (s *MemoryStore) TouchConversation(ctx context.Context, conversationID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.conversations[conversationID]; !ok || at.After(existing) {
		s.conversations[conversationID] = at
	}
	return nil
}

func (s *MemoryStore) PutReaction(ctx context.Context, reaction *Reaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reactions[reaction.EventID] = reaction
	return nil
}

func (s *MemoryStore) HasReaction(ctx context.Context, eventID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.reactions[eventID]
	return ok, nil
}

func (s *MemoryStore) Profile(ctx context.Context, pubKey string) (*Profile, bool) {
	if v, ok := s.profiles.Get(pubKey); ok {
		return v.(*Profile), true
	}
	return nil, false
}

func (s *MemoryStore) PutProfile(ctx context.Context, profile *Profile) {
	s.profiles.Set(profile.PubKey, profile, cache.DefaultExpiration)
}

var _ Store = (*MemoryStore)(nil)
