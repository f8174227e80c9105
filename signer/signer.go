// Package signer abstracts over the identity backends that can sign events
// and encrypt payloads for the active user: a local key held in memory, a
// browser-extension signer, or a remote signer. The messaging core only
// ever talks to the Signer interface and never branches on which backend
// is active.
package signer

import (
	"context"
	"errors"

	"github.com/nbd-wtf/go-nostr"
)

// ErrNoActiveSigner is returned by every Signer operation when no identity
// is active. Callers use it to distinguish "user not logged in" from a
// relay-side rejection.
var ErrNoActiveSigner = errors.New("no active signer")

// Signer signs events and performs NIP-44 encryption for the active
// identity.
type Signer interface {
	// GetPublicKey returns the hex public key of the active identity.
	GetPublicKey(ctx context.Context) (string, error)

	// SignEvent fills in the event's pubkey, id and signature.
	SignEvent(ctx context.Context, evt *nostr.Event) error

	// Encrypt encrypts plaintext to the conversation key shared with
	// peerPubKey.
	Encrypt(ctx context.Context, peerPubKey string, plaintext string) (string, error)

	// Decrypt decrypts ciphertext produced for the conversation key shared
	// with peerPubKey.
	Decrypt(ctx context.Context, peerPubKey string, ciphertext string) (string, error)
}
