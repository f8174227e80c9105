package signer

import (
	"context"
	"fmt"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip44"
)

// LocalSigner is a Signer backed by a secret key held in memory.
type LocalSigner struct {
	secretKey string
	publicKey string
}

// NewLocalSigner creates a LocalSigner from a hex secret key.
func NewLocalSigner(secretKey string) (*LocalSigner, error) {
	pub, err := nostr.GetPublicKey(secretKey)
	if err != nil {
		return nil, fmt.Errorf("failed to derive public key: %w", err)
	}
	return &LocalSigner{secretKey: secretKey, publicKey: pub}, nil
}

// NewEphemeralSigner creates a LocalSigner with a freshly generated
// one-time key. Gift-wrap construction uses one per wrap.
func NewEphemeralSigner() (*LocalSigner, error) {
	return NewLocalSigner(nostr.GeneratePrivateKey())
}

func (s *LocalSigner) GetPublicKey(ctx context.Context) (string, error) {
	if s == nil || s.secretKey == "" {
		return "", ErrNoActiveSigner
	}
	return s.publicKey, nil
}

func (s *LocalSigner) SignEvent(ctx context.Context, evt *nostr.Event) error {
	if s == nil || s.secretKey == "" {
		return ErrNoActiveSigner
	}
	return evt.Sign(s.secretKey)
}

func (s *LocalSigner) Encrypt(ctx context.Context, peerPubKey string, plaintext string) (string, error) {
	if s == nil || s.secretKey == "" {
		return "", ErrNoActiveSigner
	}
	ck, err := nip44.GenerateConversationKey(peerPubKey, s.secretKey)
	if err != nil {
		return "", fmt.Errorf("failed to derive conversation key: %w", err)
	}
	return nip44.Encrypt(plaintext, ck)
}

func (s *LocalSigner) Decrypt(ctx context.Context, peerPubKey string, ciphertext string) (string, error) {
	if s == nil || s.secretKey == "" {
		return "", ErrNoActiveSigner
	}
	ck, err := nip44.GenerateConversationKey(peerPubKey, s.secretKey)
	if err != nil {
		return "", fmt.Errorf("failed to derive conversation key: %w", err)
	}
	return nip44.Decrypt(ciphertext, ck)
}

var _ Signer = (*LocalSigner)(nil)
