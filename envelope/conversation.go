package envelope

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
)

// participants returns the deduplicated set of pubkeys involved in a
// rumor: the author plus every p-tagged recipient.
func participants(rumor *nostr.Event) []string {
	seen := map[string]bool{rumor.PubKey: true}
	out := []string{rumor.PubKey}
	for _, tag := range rumor.Tags {
		if len(tag) < 2 || tag[0] != "p" {
			continue
		}
		if !seen[tag[1]] {
			seen[tag[1]] = true
			out = append(out, tag[1])
		}
	}
	return out
}

// IsGroupRumor reports whether a rumor belongs to a group conversation:
// more than one participant other than selfPubKey. The author counts as a
// participant even though the recipient tags never include them.
func IsGroupRumor(selfPubKey string, rumor *nostr.Event) bool {
	others := 0
	for _, pk := range participants(rumor) {
		if pk != selfPubKey {
			others++
		}
	}
	return others > 1
}

// ConversationID derives the stable conversation identifier for a rumor:
// the npub of the sole partner for 1:1 chats, or a hash of the sorted
// participant set (including self) for groups. Every device of every
// participant derives the same id.
func ConversationID(selfPubKey string, rumor *nostr.Event) string {
	parts := participants(rumor)

	var others []string
	for _, pk := range parts {
		if pk != selfPubKey {
			others = append(others, pk)
		}
	}

	if len(others) <= 1 {
		partner := selfPubKey // note-to-self conversation
		if len(others) == 1 {
			partner = others[0]
		}
		if npub, err := nip19.EncodePublicKey(partner); err == nil {
			return npub
		}
		return partner
	}

	sort.Strings(parts)
	sum := sha256.Sum256([]byte(strings.Join(parts, ",")))
	return hex.EncodeToString(sum[:])
}
