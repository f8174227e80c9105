package envelope

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"

	"github.com/scm-repo-mirror/psic4t-nospeak-sub000/delivery"
	"github.com/scm-repo-mirror/psic4t-nospeak-sub000/session"
	"github.com/scm-repo-mirror/psic4t-nospeak-sub000/signer"
	"github.com/scm-repo-mirror/psic4t-nospeak-sub000/store"
)

// ErrNoRelayConfirmed is returned when not a single relay across the
// whole send confirmed the publish. It is the only delivery error that
// propagates to the caller; a message is never recorded as sent with
// zero real delivery.
var ErrNoRelayConfirmed = errors.New("no relay confirmed the publish")

// RelayOpener is the slice of the relay manager the pipeline uses to
// reach recipients' relays for the duration of a send.
type RelayOpener interface {
	AddTemporaryRelay(url string)
	CleanupTemporaryConnections()
}

// Publisher is the deadline-bounded publish stage.
type Publisher interface {
	PublishWithDeadline(ctx context.Context, evt nostr.Event, urls []string, deadline time.Duration, onRelaySuccess func(url string)) delivery.Result
}

// RetryEnqueuer receives every relay a deadline pass did not land.
type RetryEnqueuer interface {
	Enqueue(ctx context.Context, evt nostr.Event, relayURL string) error
}

// RelaySetResolver maps identities to relay sets. Discovery heuristics
// live outside the core.
type RelaySetResolver interface {
	// RelaysFor returns the relay set a recipient wants DMs delivered to.
	RelaysFor(ctx context.Context, pubKey string) ([]string, error)
	// OwnRelays returns the sender's own relay set, target of the
	// self-copy.
	OwnRelays(ctx context.Context) ([]string, error)
}

// Config holds the pipeline's tunables.
type Config struct {
	// PublishDeadline bounds each per-recipient publish pass.
	PublishDeadline time.Duration
	// TempRelayGrace is how long temporary connections opened for a send
	// live before forced cleanup, whether or not the send completed.
	TempRelayGrace time.Duration
	// WrapCacheTTL bounds the in-memory gift-wrap-id dedup cache.
	WrapCacheTTL time.Duration
}

// DefaultConfig returns the standard pipeline configuration.
func DefaultConfig() Config {
	return Config{
		PublishDeadline: 5 * time.Second,
		TempRelayGrace:  15 * time.Second,
		WrapCacheTTL:    time.Hour,
	}
}

// Pipeline constructs, fans out and classifies envelopes.
type Pipeline struct {
	signer   signer.Signer
	opener   RelayOpener
	publish  Publisher
	retry    RetryEnqueuer
	resolver RelaySetResolver
	store    store.Store
	session  *session.Context
	cfg      Config

	seen      *seenSet
	wrapCache *cache.Cache

	backfilling atomic.Bool

	mu                   sync.RWMutex
	onMessage            func(msg *store.Message)
	onReaction           func(reaction *store.Reaction)
	onUnreadReaction     func(reaction *store.Reaction)
	onRelaySuccess       func(url string)
	onContactListChanged func(ctx context.Context, pubKey string)

	log *logrus.Entry
}

// NewPipeline wires an envelope pipeline.
func NewPipeline(sgn signer.Signer, opener RelayOpener, publish Publisher, retry RetryEnqueuer, resolver RelaySetResolver, st store.Store, sess *session.Context, cfg Config) *Pipeline {
	return &Pipeline{
		signer:    sgn,
		opener:    opener,
		publish:   publish,
		retry:     retry,
		resolver:  resolver,
		store:     st,
		session:   sess,
		cfg:       cfg,
		seen:      newSeenSet(seenSetCapacity),
		wrapCache: cache.New(cfg.WrapCacheTTL, 2*cfg.WrapCacheTTL),
		log:       logrus.WithField("component", "envelope"),
	}
}

// OnMessage sets the callback for newly stored messages.
func (p *Pipeline) OnMessage(fn func(msg *store.Message)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onMessage = fn
}

// OnReaction sets the callback for newly stored reactions.
func (p *Pipeline) OnReaction(fn func(reaction *store.Reaction)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onReaction = fn
}

// OnUnreadReaction sets the callback raised for reactions from others
// arriving outside a backfill.
func (p *Pipeline) OnUnreadReaction(fn func(reaction *store.Reaction)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onUnreadReaction = fn
}

// OnRelaySuccess sets the per-relay delivery-receipt callback.
func (p *Pipeline) OnRelaySuccess(fn func(url string)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onRelaySuccess = fn
}

// OnContactListChanged sets the callback fired when auto-adding a new
// contact should publish an updated contact list.
func (p *Pipeline) OnContactListChanged(fn func(ctx context.Context, pubKey string)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onContactListChanged = fn
}

// SetBackfilling marks the pipeline as processing historical events;
// notification signals are suppressed while set.
func (p *Pipeline) SetBackfilling(active bool) {
	p.backfilling.Store(active)
}

// SendResult reports one completed send.
type SendResult struct {
	// RumorID is the stable content hash shared by every copy.
	RumorID string
	// SelfGiftWrapID is the wrap id of the sender's own copy; downstream
	// storage treats it as the message's event id.
	SelfGiftWrapID string
	// Delivery aggregates per-relay outcomes across all publish passes.
	Delivery delivery.Result
}

// SendText fans a text message out to recipients.
func (p *Pipeline) SendText(ctx context.Context, recipients []string, content string) (*SendResult, error) {
	self, err := p.signer.GetPublicKey(ctx)
	if err != nil {
		return nil, err
	}
	return p.SendEnvelope(ctx, recipients, NewTextRumor(self, recipients, content))
}

// SendReaction fans an emoji reaction out to recipients.
func (p *Pipeline) SendReaction(ctx context.Context, recipients []string, targetEventID, emoji string) (*SendResult, error) {
	self, err := p.signer.GetPublicKey(ctx)
	if err != nil {
		return nil, err
	}
	return p.SendEnvelope(ctx, recipients, NewReactionRumor(self, recipients, targetEventID, emoji))
}

// SendFile encrypts the file body, uploads the ciphertext and fans the
// resulting file message out to recipients.
func (p *Pipeline) SendFile(ctx context.Context, recipients []string, plaintext []byte, mimeType string, uploader Uploader) (*SendResult, error) {
	self, err := p.signer.GetPublicKey(ctx)
	if err != nil {
		return nil, err
	}

	attachment, err := EncryptAttachment(plaintext)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt attachment: %w", err)
	}
	url, err := uploader.Upload(ctx, attachment.Ciphertext, attachment.Hash)
	if err != nil {
		return nil, fmt.Errorf("failed to upload attachment: %w", err)
	}

	meta := &store.FileMeta{
		URL:                 url,
		MimeType:            mimeType,
		Hash:                attachment.Hash,
		Size:                attachment.Size,
		EncryptionAlgorithm: attachment.Algorithm,
		DecryptionKey:       attachment.Key,
		DecryptionNonce:     attachment.Nonce,
	}
	return p.SendEnvelope(ctx, recipients, NewFileRumor(self, recipients, meta))
}

// SendEnvelope wraps the rumor once per recipient plus a self-copy,
// publishes each wrap to its recipient's relay set, queues whatever a
// deadline pass missed, and persists the message locally only if at
// least one relay anywhere confirmed.
func (p *Pipeline) SendEnvelope(ctx context.Context, recipients []string, rumor *nostr.Event) (*SendResult, error) {
	self, err := p.signer.GetPublicKey(ctx)
	if err != nil {
		return nil, err
	}
	if rumor.ID == "" {
		rumor.ID = rumor.GetID()
	}

	ownRelays, err := p.resolver.OwnRelays(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve own relays: %w", err)
	}

	targets := make(map[string][]string, len(recipients))
	for _, pk := range recipients {
		if pk == self {
			continue
		}
		urls, err := p.resolver.RelaysFor(ctx, pk)
		if err != nil || len(urls) == 0 {
			// no advertised DM relays; fall back to our own set so the
			// message is at least retrievable
			if p.session.MarkAutoRelayNotified() {
				p.log.WithField("recipient", pk[:min(8, len(pk))]).Info("Recipient advertises no DM relays, using own relay set")
			} else {
				p.log.WithField("recipient", pk[:min(8, len(pk))]).Debug("No DM relays found, using own relay set")
			}
			urls = ownRelays
		}
		targets[pk] = urls
	}

	p.openTemporary(targets, ownRelays)

	var (
		resMu sync.Mutex
		total delivery.Result
		wg    sync.WaitGroup
	)

	p.mu.RLock()
	onRelaySuccess := p.onRelaySuccess
	p.mu.RUnlock()

	for pk, urls := range targets {
		wg.Add(1)
		go func(pk string, urls []string) {
			defer wg.Done()

			wrap, err := WrapRumor(ctx, p.signer, rumor, pk)
			if err != nil {
				p.log.WithFields(logrus.Fields{
					"recipient": pk[:min(8, len(pk))],
					"error":     err,
				}).Warn("Failed to build gift wrap")
				return
			}
			res := p.publish.PublishWithDeadline(ctx, *wrap, urls, p.cfg.PublishDeadline, onRelaySuccess)
			p.queueUnconfirmed(ctx, *wrap, res)

			resMu.Lock()
			total.Merge(res)
			resMu.Unlock()
		}(pk, urls)
	}
	wg.Wait()

	// the self-copy goes out after all recipient wraps are issued; its
	// outcome still counts toward the success policy
	selfWrap, err := WrapRumor(ctx, p.signer, rumor, self)
	if err != nil {
		return nil, fmt.Errorf("failed to build self gift wrap: %w", err)
	}
	selfRes := p.publish.PublishWithDeadline(ctx, *selfWrap, ownRelays, p.cfg.PublishDeadline, onRelaySuccess)
	p.queueUnconfirmed(ctx, *selfWrap, selfRes)
	total.Merge(selfRes)

	if !total.Confirmed() {
		p.log.WithField("rumor_id", rumor.ID).Warn("Send failed: zero relays confirmed")
		return nil, ErrNoRelayConfirmed
	}

	msg := p.messageFromRumor(selfWrap.ID, rumor, self)
	if err := p.store.PutMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to persist sent message: %w", err)
	}
	p.runPostSendHooks(ctx, msg, recipients, self)

	p.log.WithFields(logrus.Fields{
		"rumor_id":  rumor.ID,
		"confirmed": len(total.Successful),
		"queued":    len(total.Unconfirmed()),
	}).Info("Message sent")

	return &SendResult{
		RumorID:        rumor.ID,
		SelfGiftWrapID: selfWrap.ID,
		Delivery:       total,
	}, nil
}

// openTemporary connects the union of all relay sets involved for the
// duration of the grace window. Cleanup fires on a timer regardless of
// whether the sends completed, bounding temporary-connection lifetime
// even on failure paths.
func (p *Pipeline) openTemporary(targets map[string][]string, ownRelays []string) {
	union := make(map[string]bool)
	for _, urls := range targets {
		for _, url := range urls {
			union[url] = true
		}
	}
	for _, url := range ownRelays {
		union[url] = true
	}
	for url := range union {
		p.opener.AddTemporaryRelay(url)
	}
	time.AfterFunc(p.cfg.TempRelayGrace, p.opener.CleanupTemporaryConnections)
}

func (p *Pipeline) queueUnconfirmed(ctx context.Context, wrap nostr.Event, res delivery.Result) {
	for _, url := range res.Unconfirmed() {
		if err := p.retry.Enqueue(ctx, wrap, url); err != nil {
			p.log.WithFields(logrus.Fields{
				"url":   url,
				"error": err,
			}).Warn("Failed to queue publish retry")
		}
	}
}

// runPostSendHooks marks conversation activity for groups and auto-adds
// the partner for 1:1 chats. Auto-add never re-runs for known contacts
// and never publishes a contact-list update while bulk sync has deferred
// it.
func (p *Pipeline) runPostSendHooks(ctx context.Context, msg *store.Message, recipients []string, self string) {
	if msg.IsGroup {
		if err := p.store.TouchConversation(ctx, msg.ConversationID, msg.SentAt); err != nil {
			p.log.WithField("error", err).Warn("Failed to touch conversation")
		}
		return
	}

	for _, pk := range recipients {
		if pk == self {
			continue
		}
		known, err := p.store.HasContact(ctx, pk)
		if err != nil || known {
			return
		}
		if err := p.store.PutContact(ctx, &store.Contact{PubKey: pk, AddedAt: time.Now()}); err != nil {
			p.log.WithField("error", err).Warn("Failed to auto-add contact")
			return
		}
		p.mu.RLock()
		changed := p.onContactListChanged
		p.mu.RUnlock()
		if changed != nil && !p.session.DeferContactPublish() {
			changed(ctx, pk)
		}
		return
	}
}
