package envelope

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// attachmentAlgorithm is the cipher name carried in the file rumor's
// encryption-algorithm tag.
const attachmentAlgorithm = "aes-gcm"

// Uploader places already-encrypted file bodies on a content server. The
// core never uploads plaintext.
type Uploader interface {
	Upload(ctx context.Context, ciphertext []byte, contentHash string) (url string, err error)
}

// Attachment is an encrypted file body plus the parameters a recipient
// needs to decrypt it.
type Attachment struct {
	Ciphertext []byte
	// Hash is the hex SHA-256 of the ciphertext, used as the upload
	// content address and integrity check.
	Hash      string
	Size      int64
	Key       string // base64
	Nonce     string // base64
	Algorithm string
}

// EncryptAttachment encrypts a file body under a fresh AES-256-GCM key.
func EncryptAttachment(plaintext []byte) (*Attachment, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate attachment key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate attachment nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)
	sum := sha256.Sum256(ciphertext)

	return &Attachment{
		Ciphertext: ciphertext,
		Hash:       hex.EncodeToString(sum[:]),
		Size:       int64(len(ciphertext)),
		Key:        base64.StdEncoding.EncodeToString(key),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Algorithm:  attachmentAlgorithm,
	}, nil
}

// DecryptAttachment reverses EncryptAttachment given the base64 key and
// nonce from a file rumor's tags.
func DecryptAttachment(ciphertext []byte, keyB64, nonceB64 string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(keyB64)
	if err != nil {
		return nil, fmt.Errorf("invalid attachment key: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(nonceB64)
	if err != nil {
		return nil, fmt.Errorf("invalid attachment nonce: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, fmt.Errorf("invalid attachment nonce length %d", len(nonce))
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("attachment decryption failed: %w", err)
	}
	return plaintext, nil
}
