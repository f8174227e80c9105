package envelope

import (
	"context"
	"fmt"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"

	"github.com/scm-repo-mirror/psic4t-nospeak-sub000/store"
)

// Classified is the outcome of processing one inbound gift-wrap: at most
// one of the fields is set. Both nil means the event was a duplicate.
type Classified struct {
	Message  *store.Message
	Reaction *store.Reaction
}

// HandleGiftWrap is the subscription-callback adapter around Receive: a
// malformed or misdirected gift-wrap is logged and dropped, never allowed
// to halt the stream.
func (p *Pipeline) HandleGiftWrap(evt *nostr.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := p.Receive(ctx, evt); err != nil {
		p.log.WithFields(logrus.Fields{
			"event_id": evt.ID,
			"error":    err,
		}).Debug("Dropped inbound gift wrap")
	}
}

// Receive decrypts and classifies one inbound gift-wrap. Re-processing
// the same wrap, or another relay's copy of the same rumor, is an
// idempotent no-op.
func (p *Pipeline) Receive(ctx context.Context, wrap *nostr.Event) (*Classified, error) {
	if wrap.Kind != KindGiftWrap {
		return nil, fmt.Errorf("%w: kind %d is not a gift wrap", ErrMalformedEnvelope, wrap.Kind)
	}

	// fast path: this exact wrap was already processed
	if _, dup := p.wrapCache.Get(wrap.ID); dup {
		return nil, nil
	}
	if known, err := p.store.HasMessage(ctx, wrap.ID); err == nil && known {
		p.wrapCache.Set(wrap.ID, struct{}{}, cache.DefaultExpiration)
		return nil, nil
	}

	rumor, err := Open(ctx, p.signer, wrap)
	if err != nil {
		return nil, err
	}

	self, err := p.signer.GetPublicKey(ctx)
	if err != nil {
		return nil, err
	}
	if !p.addressedToSelf(self, rumor) {
		return nil, ErrMisdirected
	}

	p.wrapCache.Set(wrap.ID, struct{}{}, cache.DefaultExpiration)

	if rumor.Kind == KindReaction {
		return p.receiveReaction(ctx, wrap, rumor, self)
	}
	return p.receiveMessage(ctx, wrap, rumor, self)
}

// addressedToSelf rejects spoofed or misdirected rumors: the local
// identity must appear in the recipient tags, or be the author (the
// self-sent multi-device copy).
func (p *Pipeline) addressedToSelf(self string, rumor *nostr.Event) bool {
	if rumor.PubKey == self {
		return true
	}
	for _, tag := range rumor.Tags {
		if len(tag) >= 2 && tag[0] == "p" && tag[1] == self {
			return true
		}
	}
	return false
}

func (p *Pipeline) receiveMessage(ctx context.Context, wrap, rumor *nostr.Event, self string) (*Classified, error) {
	if p.seen.observe(rumor.ID) {
		return nil, nil
	}

	msg := p.messageFromRumor(wrap.ID, rumor, self)
	msg.ReceivedAt = time.Now()
	if err := p.store.PutMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to persist message: %w", err)
	}
	if err := p.store.TouchConversation(ctx, msg.ConversationID, msg.SentAt); err != nil {
		p.log.WithField("error", err).Warn("Failed to touch conversation")
	}

	p.mu.RLock()
	onMessage := p.onMessage
	p.mu.RUnlock()
	if onMessage != nil {
		onMessage(msg)
	}

	p.log.WithFields(logrus.Fields{
		"rumor_id":     rumor.ID,
		"conversation": msg.ConversationID,
		"kind":         rumor.Kind,
	}).Debug("Message stored")
	return &Classified{Message: msg}, nil
}

func (p *Pipeline) receiveReaction(ctx context.Context, wrap, rumor *nostr.Event, self string) (*Classified, error) {
	var target string
	for _, tag := range rumor.Tags {
		if len(tag) >= 2 && tag[0] == "e" {
			target = tag[1]
			break
		}
	}
	if target == "" {
		return nil, fmt.Errorf("%w: reaction without target", ErrMalformedEnvelope)
	}

	if known, err := p.store.HasReaction(ctx, wrap.ID); err == nil && known {
		return nil, nil
	}

	reaction := &store.Reaction{
		EventID:       wrap.ID,
		TargetEventID: target,
		AuthorPubKey:  rumor.PubKey,
		Emoji:         normalizeEmoji(rumor.Content),
		CreatedAt:     rumor.CreatedAt.Time(),
	}
	if err := p.store.PutReaction(ctx, reaction); err != nil {
		return nil, fmt.Errorf("failed to persist reaction: %w", err)
	}

	p.mu.RLock()
	onReaction := p.onReaction
	onUnread := p.onUnreadReaction
	p.mu.RUnlock()

	if onReaction != nil {
		onReaction(reaction)
	}
	// only someone else's reactions raise an unread signal, and only
	// outside a backfill
	if onUnread != nil && rumor.PubKey != self && !p.backfilling.Load() {
		onUnread(reaction)
	}

	p.log.WithFields(logrus.Fields{
		"target": reaction.TargetEventID,
		"emoji":  reaction.Emoji,
	}).Debug("Reaction stored")
	return &Classified{Reaction: reaction}, nil
}

// messageFromRumor builds the persisted record for a rumor, shared by the
// send and receive paths.
func (p *Pipeline) messageFromRumor(wrapID string, rumor *nostr.Event, self string) *store.Message {
	msg := &store.Message{
		EventID:        wrapID,
		RumorID:        rumor.ID,
		ConversationID: ConversationID(self, rumor),
		SenderPubKey:   rumor.PubKey,
		Kind:           rumor.Kind,
		Content:        rumor.Content,
		IsGroup:        IsGroupRumor(self, rumor),
		SentAt:         rumor.CreatedAt.Time(),
	}
	if rumor.Kind == KindFileMessage {
		msg.File = FileMetaFromRumor(rumor)
	}
	return msg
}

// normalizeEmoji maps the legacy like/dislike shorthand to real emoji.
func normalizeEmoji(content string) string {
	switch content {
	case "+":
		return "❤️"
	case "-":
		return "👎"
	default:
		return content
	}
}
