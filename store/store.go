// Package store defines the datastore collaborator consumed by the
// messaging core: point lookup by id, range queries by conversation and
// time, duplicate-tolerant upserts and delete-by-id. The core never
// depends on a concrete engine; the in-memory implementation in this
// package backs the default client and the tests.
package store

import (
	"context"
	"time"

	"github.com/nbd-wtf/go-nostr"
)

// Message is one decrypted chat message as the core persists it. EventID
// is the gift-wrap id of the copy this client stored (the self-wrap for
// sent messages); RumorID is the stable content hash shared by every
// per-recipient copy of the same logical message.
type Message struct {
	EventID        string
	RumorID        string
	ConversationID string
	SenderPubKey   string
	Kind           int
	Content        string
	IsGroup        bool
	SentAt         time.Time
	ReceivedAt     time.Time
	File           *FileMeta
}

// FileMeta describes an encrypted attachment referenced by a file message.
type FileMeta struct {
	URL                 string
	MimeType            string
	Hash                string
	Size                int64
	Dimensions          string
	Blurhash            string
	EncryptionAlgorithm string
	DecryptionKey       string
	DecryptionNonce     string
}

// Reaction is a persisted emoji reaction to a message.
type Reaction struct {
	EventID       string
	TargetEventID string
	AuthorPubKey  string
	Emoji         string
	CreatedAt     time.Time
}

// Contact is a known chat partner.
type Contact struct {
	PubKey  string
	AddedAt time.Time
}

// Profile is a cached kind-0 profile record. Entries expire after a TTL
// managed by the store.
type Profile struct {
	PubKey    string
	Name      string
	Picture   string
	FetchedAt time.Time
}

// RetryItem is one pending publish attempt owned by the retry queue.
type RetryItem struct {
	ID          string
	Event       nostr.Event
	RelayURL    string
	Attempts    int
	MaxAttempts int
	NextAttempt time.Time
	CreatedAt   time.Time
}

// MessageStore persists decrypted messages.
type MessageStore interface {
	// PutMessage upserts a message. Writing the same EventID twice is not
	// an error; re-delivery from multiple relays is expected.
	PutMessage(ctx context.Context, msg *Message) error
	HasMessage(ctx context.Context, eventID string) (bool, error)
	MessagesByConversation(ctx context.Context, conversationID string, since, until time.Time, limit int) ([]*Message, error)
}

// RetryStore persists retry-queue items across process restarts.
type RetryStore interface {
	PutRetryItem(ctx context.Context, item *RetryItem) error
	UpdateRetryItem(ctx context.Context, item *RetryItem) error
	DeleteRetryItem(ctx context.Context, id string) error
	// DueRetryItems returns every item whose NextAttempt is at or before now.
	DueRetryItems(ctx context.Context, now time.Time) ([]*RetryItem, error)
}

// ContactStore persists known chat partners.
type ContactStore interface {
	HasContact(ctx context.Context, pubKey string) (bool, error)
	PutContact(ctx context.Context, contact *Contact) error
}

// ConversationStore tracks per-conversation activity.
type ConversationStore interface {
	TouchConversation(ctx context.Context, conversationID string, at time.Time) error
}

// ReactionStore persists reactions.
type ReactionStore interface {
	PutReaction(ctx context.Context, reaction *Reaction) error
	HasReaction(ctx context.Context, eventID string) (bool, error)
}

// ProfileStore caches profiles with a TTL.
type ProfileStore interface {
	Profile(ctx context.Context, pubKey string) (*Profile, bool)
	PutProfile(ctx context.Context, profile *Profile)
}

// Store aggregates every collaborator interface the core consumes.
type Store interface {
	MessageStore
	RetryStore
	ContactStore
	ConversationStore
	ReactionStore
	ProfileStore
}
