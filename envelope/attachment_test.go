package envelope

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttachmentRoundTrip(t *testing.T) {
	plaintext := []byte("binary image bytes go here")

	att, err := EncryptAttachment(plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, att.Ciphertext)
	assert.Equal(t, attachmentAlgorithm, att.Algorithm)
	assert.Equal(t, int64(len(att.Ciphertext)), att.Size)
	assert.Len(t, att.Hash, 64)

	decrypted, err := DecryptAttachment(att.Ciphertext, att.Key, att.Nonce)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestAttachmentTamperDetected(t *testing.T) {
	att, err := EncryptAttachment([]byte("payload"))
	require.NoError(t, err)

	att.Ciphertext[0] ^= 0xff
	_, err = DecryptAttachment(att.Ciphertext, att.Key, att.Nonce)
	assert.Error(t, err)
}

func TestAttachmentKeysAreFresh(t *testing.T) {
	a, err := EncryptAttachment([]byte("same plaintext"))
	require.NoError(t, err)
	b, err := EncryptAttachment([]byte("same plaintext"))
	require.NoError(t, err)

	assert.NotEqual(t, a.Key, b.Key)
	assert.NotEqual(t, a.Ciphertext, b.Ciphertext)
}

func TestSeenSetBoundedOverflow(t *testing.T) {
	s := newSeenSet(3)

	assert.False(t, s.observe("a"))
	assert.True(t, s.observe("a"))
	assert.False(t, s.observe("b"))
	assert.False(t, s.observe("c"))

	// overflow clears and reseeds
	assert.False(t, s.observe("d"))
	assert.False(t, s.observe("a"), "cleared entries may be observed again")
	assert.True(t, s.observe("d"))
}
