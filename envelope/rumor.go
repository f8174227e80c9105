package envelope

import (
	"strconv"

	"github.com/nbd-wtf/go-nostr"

	"github.com/scm-repo-mirror/psic4t-nospeak-sub000/store"
)

// NewTextRumor builds the unsigned kind-14 rumor for a text message,
// addressed via p tags to every non-sender participant. The rumor id is a
// content hash and is identical across every per-recipient copy.
func NewTextRumor(senderPubKey string, recipients []string, content string) *nostr.Event {
	rumor := &nostr.Event{
		PubKey:    senderPubKey,
		CreatedAt: nostr.Now(),
		Kind:      KindChatMessage,
		Tags:      recipientTags(senderPubKey, recipients),
		Content:   content,
	}
	rumor.ID = rumor.GetID()
	return rumor
}

// NewFileRumor builds the unsigned kind-15 rumor for an encrypted file.
// The content is the upload URL; the decryption parameters travel in tags.
func NewFileRumor(senderPubKey string, recipients []string, meta *store.FileMeta) *nostr.Event {
	tags := recipientTags(senderPubKey, recipients)
	if meta.MimeType != "" {
		tags = append(tags, nostr.Tag{"file-type", meta.MimeType})
	}
	if meta.Hash != "" {
		tags = append(tags, nostr.Tag{"x", meta.Hash})
	}
	if meta.Size > 0 {
		tags = append(tags, nostr.Tag{"size", strconv.FormatInt(meta.Size, 10)})
	}
	if meta.Dimensions != "" {
		tags = append(tags, nostr.Tag{"dim", meta.Dimensions})
	}
	if meta.Blurhash != "" {
		tags = append(tags, nostr.Tag{"blurhash", meta.Blurhash})
	}
	if meta.EncryptionAlgorithm != "" {
		tags = append(tags, nostr.Tag{"encryption-algorithm", meta.EncryptionAlgorithm})
	}
	if meta.DecryptionKey != "" {
		tags = append(tags, nostr.Tag{"decryption-key", meta.DecryptionKey})
	}
	if meta.DecryptionNonce != "" {
		tags = append(tags, nostr.Tag{"decryption-nonce", meta.DecryptionNonce})
	}

	rumor := &nostr.Event{
		PubKey:    senderPubKey,
		CreatedAt: nostr.Now(),
		Kind:      KindFileMessage,
		Tags:      tags,
		Content:   meta.URL,
	}
	rumor.ID = rumor.GetID()
	return rumor
}

// NewReactionRumor builds the unsigned kind-7 rumor reacting to
// targetEventID with the given emoji.
func NewReactionRumor(senderPubKey string, recipients []string, targetEventID, emoji string) *nostr.Event {
	tags := recipientTags(senderPubKey, recipients)
	tags = append(tags, nostr.Tag{"e", targetEventID})

	rumor := &nostr.Event{
		PubKey:    senderPubKey,
		CreatedAt: nostr.Now(),
		Kind:      KindReaction,
		Tags:      tags,
		Content:   emoji,
	}
	rumor.ID = rumor.GetID()
	return rumor
}

// recipientTags builds p tags for every participant except the sender.
func recipientTags(senderPubKey string, recipients []string) nostr.Tags {
	tags := make(nostr.Tags, 0, len(recipients))
	seen := make(map[string]bool, len(recipients))
	for _, pk := range recipients {
		if pk == senderPubKey || seen[pk] {
			continue
		}
		seen[pk] = true
		tags = append(tags, nostr.Tag{"p", pk})
	}
	return tags
}

// FileMetaFromRumor extracts the attachment metadata carried by a kind-15
// rumor.
func FileMetaFromRumor(rumor *nostr.Event) *store.FileMeta {
	meta := &store.FileMeta{URL: rumor.Content}
	for _, tag := range rumor.Tags {
		if len(tag) < 2 {
			continue
		}
		switch tag[0] {
		case "file-type":
			meta.MimeType = tag[1]
		case "x":
			meta.Hash = tag[1]
		case "size":
			if size, err := strconv.ParseInt(tag[1], 10, 64); err == nil {
				meta.Size = size
			}
		case "dim":
			meta.Dimensions = tag[1]
		case "blurhash":
			meta.Blurhash = tag[1]
		case "encryption-algorithm":
			meta.EncryptionAlgorithm = tag[1]
		case "decryption-key":
			meta.DecryptionKey = tag[1]
		case "decryption-nonce":
			meta.DecryptionNonce = tag[1]
		}
	}
	return meta
}
