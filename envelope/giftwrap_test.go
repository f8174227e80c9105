package envelope

import (
	"context"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scm-repo-mirror/psic4t-nospeak-sub000/signer"
	"github.com/scm-repo-mirror/psic4t-nospeak-sub000/store"
)

func newTestIdentity(t *testing.T) (*signer.LocalSigner, string) {
	t.Helper()
	s, err := signer.NewLocalSigner(nostr.GeneratePrivateKey())
	require.NoError(t, err)
	pub, err := s.GetPublicKey(context.Background())
	require.NoError(t, err)
	return s, pub
}

func TestWrapRumorRoundTrip(t *testing.T) {
	ctx := context.Background()
	sender, senderPub := newTestIdentity(t)
	recipient, recipientPub := newTestIdentity(t)

	rumor := NewTextRumor(senderPub, []string{recipientPub}, "hello from the other side")
	wrap, err := WrapRumor(ctx, sender, rumor, recipientPub)
	require.NoError(t, err)

	assert.Equal(t, KindGiftWrap, wrap.Kind)
	assert.NotEqual(t, senderPub, wrap.PubKey, "wrap is signed by an ephemeral key")
	assert.Equal(t, "p", wrap.Tags[0][0])
	assert.Equal(t, recipientPub, wrap.Tags[0][1])

	opened, err := Open(ctx, recipient, wrap)
	require.NoError(t, err)
	assert.Equal(t, rumor.ID, opened.ID)
	assert.Equal(t, rumor.Kind, opened.Kind)
	assert.Equal(t, rumor.Content, opened.Content)
	assert.Equal(t, senderPub, opened.PubKey)
	assert.Equal(t, rumor.Tags, opened.Tags)
}

func TestRumorIDStableAcrossCopies(t *testing.T) {
	ctx := context.Background()
	sender, senderPub := newTestIdentity(t)
	alice, alicePub := newTestIdentity(t)
	bob, bobPub := newTestIdentity(t)

	rumor := NewTextRumor(senderPub, []string{alicePub, bobPub}, "group hello")

	wrapA, err := WrapRumor(ctx, sender, rumor, alicePub)
	require.NoError(t, err)
	wrapB, err := WrapRumor(ctx, sender, rumor, bobPub)
	require.NoError(t, err)

	assert.NotEqual(t, wrapA.ID, wrapB.ID, "gift-wrap id differs per recipient")

	openedA, err := Open(ctx, alice, wrapA)
	require.NoError(t, err)
	openedB, err := Open(ctx, bob, wrapB)
	require.NoError(t, err)
	assert.Equal(t, openedA.ID, openedB.ID, "rumor id identical across copies")
}

func TestWrapTimestampsRandomizedIntoPast(t *testing.T) {
	ctx := context.Background()
	sender, senderPub := newTestIdentity(t)
	_, recipientPub := newTestIdentity(t)

	rumor := NewTextRumor(senderPub, []string{recipientPub}, "when was this sent?")

	now := time.Now()
	earliest := now.Add(-timestampJitter - time.Minute)
	for i := 0; i < 8; i++ {
		wrap, err := WrapRumor(ctx, sender, rumor, recipientPub)
		require.NoError(t, err)

		ts := wrap.CreatedAt.Time()
		assert.True(t, !ts.After(now.Add(time.Minute)), "wrap timestamp in the future")
		assert.True(t, ts.After(earliest), "wrap timestamp beyond jitter window")
	}
}

func TestOpenRejectsWrongRecipient(t *testing.T) {
	ctx := context.Background()
	sender, senderPub := newTestIdentity(t)
	_, recipientPub := newTestIdentity(t)
	eve, _ := newTestIdentity(t)

	rumor := NewTextRumor(senderPub, []string{recipientPub}, "secret")
	wrap, err := WrapRumor(ctx, sender, rumor, recipientPub)
	require.NoError(t, err)

	_, err = Open(ctx, eve, wrap)
	assert.Error(t, err, "a third party cannot open the wrap")
}

func TestOpenRejectsNonSealInterior(t *testing.T) {
	ctx := context.Background()
	sender, senderPub := newTestIdentity(t)
	recipient, recipientPub := newTestIdentity(t)

	// a wrap whose interior is a plain text note, not a seal
	notSeal := &nostr.Event{
		PubKey:    senderPub,
		CreatedAt: nostr.Now(),
		Kind:      nostr.KindTextNote,
		Content:   "not a seal",
	}
	require.NoError(t, sender.SignEvent(ctx, notSeal))
	wrap, err := Wrap(notSeal, recipientPub)
	require.NoError(t, err)

	_, err = Open(ctx, recipient, wrap)
	assert.ErrorIs(t, err, ErrMalformedEnvelope)
}

func TestOpenRejectsTamperedSealSignature(t *testing.T) {
	ctx := context.Background()
	sender, senderPub := newTestIdentity(t)
	recipient, recipientPub := newTestIdentity(t)

	rumor := NewTextRumor(senderPub, []string{recipientPub}, "hello")
	seal, err := Seal(ctx, sender, rumor, recipientPub)
	require.NoError(t, err)

	// graft a signature from an unrelated event onto the seal; it parses
	// but does not verify against the seal's id
	decoy := &nostr.Event{PubKey: senderPub, CreatedAt: nostr.Now(), Kind: nostr.KindTextNote}
	require.NoError(t, sender.SignEvent(ctx, decoy))
	seal.Sig = decoy.Sig

	wrap, err := Wrap(seal, recipientPub)
	require.NoError(t, err)

	_, err = Open(ctx, recipient, wrap)
	assert.ErrorIs(t, err, ErrMalformedEnvelope)
}

func TestOpenRejectsImpersonatedRumor(t *testing.T) {
	ctx := context.Background()
	sender, _ := newTestIdentity(t)
	recipient, recipientPub := newTestIdentity(t)
	_, victimPub := newTestIdentity(t)

	// rumor claims to be authored by the victim, but the seal is signed
	// by the attacker
	rumor := NewTextRumor(victimPub, []string{recipientPub}, "I definitely said this")
	wrap, err := WrapRumor(ctx, sender, rumor, recipientPub)
	require.NoError(t, err)

	_, err = Open(ctx, recipient, wrap)
	assert.ErrorIs(t, err, ErrMalformedEnvelope)
}

func TestFileRumorCarriesMetadata(t *testing.T) {
	_, senderPub := newTestIdentity(t)
	_, recipientPub := newTestIdentity(t)

	meta := &store.FileMeta{
		URL:                 "https://media.example/abc",
		MimeType:            "image/png",
		Hash:                "cafe",
		Size:                1234,
		Dimensions:          "800x600",
		Blurhash:            "LKO2?U%2Tw=w",
		EncryptionAlgorithm: "aes-gcm",
		DecryptionKey:       "a2V5",
		DecryptionNonce:     "bm9uY2U=",
	}
	rumor := NewFileRumor(senderPub, []string{recipientPub}, meta)
	assert.Equal(t, KindFileMessage, rumor.Kind)
	assert.Equal(t, meta.URL, rumor.Content)

	parsed := FileMetaFromRumor(rumor)
	assert.Equal(t, meta, parsed)
}
