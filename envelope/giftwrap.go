package envelope

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip44"

	"github.com/scm-repo-mirror/psic4t-nospeak-sub000/signer"
)

// ErrMalformedEnvelope is returned when a gift-wrap does not decrypt into
// the expected seal/rumor structure.
var ErrMalformedEnvelope = errors.New("malformed envelope")

// ErrMisdirected is returned when a decrypted rumor is not addressed to
// the local identity and was not authored by it.
var ErrMisdirected = errors.New("rumor not addressed to local identity")

// timestampJitter is the window for backdating seal and wrap timestamps,
// hiding send timing from relay operators.
const timestampJitter = 2 * 24 * time.Hour

// randomPastTimestamp returns now minus a uniform random offset within
// the jitter window. Seal and wrap each draw independently.
func randomPastTimestamp() nostr.Timestamp {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(timestampJitter/time.Second)))
	if err != nil {
		// rand.Reader failing means the platform RNG is broken; backdating
		// by zero is still a valid timestamp
		return nostr.Now()
	}
	return nostr.Timestamp(time.Now().Unix() - n.Int64())
}

// Seal encrypts the rumor to recipientPubKey and signs the result with
// the true sender's key.
func Seal(ctx context.Context, sgn signer.Signer, rumor *nostr.Event, recipientPubKey string) (*nostr.Event, error) {
	rumorJSON, err := json.Marshal(rumor)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize rumor: %w", err)
	}

	content, err := sgn.Encrypt(ctx, recipientPubKey, string(rumorJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt rumor: %w", err)
	}

	seal := &nostr.Event{
		CreatedAt: randomPastTimestamp(),
		Kind:      KindSeal,
		Tags:      nostr.Tags{},
		Content:   content,
	}
	if err := sgn.SignEvent(ctx, seal); err != nil {
		return nil, fmt.Errorf("failed to sign seal: %w", err)
	}
	return seal, nil
}

// Wrap encrypts the seal to recipientPubKey under a conversation key
// derived from a fresh one-time keypair, and signs the wrap with that
// ephemeral key. Nothing in the result is linkable to the sender.
func Wrap(seal *nostr.Event, recipientPubKey string) (*nostr.Event, error) {
	sealJSON, err := json.Marshal(seal)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize seal: %w", err)
	}

	ephemeralKey := nostr.GeneratePrivateKey()
	conversationKey, err := nip44.GenerateConversationKey(recipientPubKey, ephemeralKey)
	if err != nil {
		return nil, fmt.Errorf("failed to derive wrap key: %w", err)
	}
	content, err := nip44.Encrypt(string(sealJSON), conversationKey)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt seal: %w", err)
	}

	wrap := &nostr.Event{
		CreatedAt: randomPastTimestamp(),
		Kind:      KindGiftWrap,
		Tags:      nostr.Tags{{"p", recipientPubKey}},
		Content:   content,
	}
	if err := wrap.Sign(ephemeralKey); err != nil {
		return nil, fmt.Errorf("failed to sign wrap: %w", err)
	}
	return wrap, nil
}

// WrapRumor runs the full rumor -> seal -> gift-wrap construction for one
// recipient.
func WrapRumor(ctx context.Context, sgn signer.Signer, rumor *nostr.Event, recipientPubKey string) (*nostr.Event, error) {
	seal, err := Seal(ctx, sgn, rumor, recipientPubKey)
	if err != nil {
		return nil, err
	}
	return Wrap(seal, recipientPubKey)
}

// Open unwraps a received gift-wrap back into its rumor. It rejects any
// wrap whose seal is not kind 13 or carries an invalid signature, whose
// rumor kind is not a chat, file or reaction rumor, or whose seal and
// rumor authors disagree (an impersonation attempt).
func Open(ctx context.Context, sgn signer.Signer, wrap *nostr.Event) (*nostr.Event, error) {
	sealJSON, err := sgn.Decrypt(ctx, wrap.PubKey, wrap.Content)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt wrap: %w", err)
	}

	var seal nostr.Event
	if err := json.Unmarshal([]byte(sealJSON), &seal); err != nil {
		return nil, fmt.Errorf("%w: seal is not an event", ErrMalformedEnvelope)
	}
	if seal.Kind != KindSeal {
		return nil, fmt.Errorf("%w: unexpected seal kind %d", ErrMalformedEnvelope, seal.Kind)
	}
	// the seal's claimed author is trusted for the rumor check below, so
	// its signature has to hold
	if ok, err := seal.CheckSignature(); err != nil || !ok {
		return nil, fmt.Errorf("%w: seal signature invalid", ErrMalformedEnvelope)
	}

	rumorJSON, err := sgn.Decrypt(ctx, seal.PubKey, seal.Content)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt seal: %w", err)
	}

	var rumor nostr.Event
	if err := json.Unmarshal([]byte(rumorJSON), &rumor); err != nil {
		return nil, fmt.Errorf("%w: rumor is not an event", ErrMalformedEnvelope)
	}
	switch rumor.Kind {
	case KindChatMessage, KindFileMessage, KindReaction:
	default:
		return nil, fmt.Errorf("%w: unexpected rumor kind %d", ErrMalformedEnvelope, rumor.Kind)
	}
	if rumor.PubKey != seal.PubKey {
		return nil, fmt.Errorf("%w: rumor author does not match seal author", ErrMalformedEnvelope)
	}
	if rumor.ID == "" {
		rumor.ID = rumor.GetID()
	}
	return &rumor, nil
}
