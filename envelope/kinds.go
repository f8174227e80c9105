package envelope

// Wire event kinds produced or consumed by the messaging core.
const (
	// KindProfile is a kind-0 profile metadata event.
	KindProfile = 0
	// KindReaction is an emoji reaction rumor.
	KindReaction = 7
	// KindSeal wraps a rumor, signed by the true sender. Never published
	// standalone.
	KindSeal = 13
	// KindChatMessage is a text rumor. Never published standalone.
	KindChatMessage = 14
	// KindFileMessage is a file rumor referencing an encrypted upload.
	// Never published standalone.
	KindFileMessage = 15
	// KindGiftWrap is the outermost, ephemeral-key-signed envelope.
	KindGiftWrap = 1059
	// KindRelayList is a NIP-65 relay list.
	KindRelayList = 10002
	// KindDMRelayList is the relay set a user wants DMs delivered to.
	KindDMRelayList = 10050
	// KindMediaServerList advertises the user's media upload servers.
	KindMediaServerList = 10063
	// KindPeopleList is an encrypted application list event used for
	// contacts and favorites.
	KindPeopleList = 30000
	// KindBookmarkList is an encrypted application list event used for
	// archived conversations.
	KindBookmarkList = 30003
)
