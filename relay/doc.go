// Package relay maintains the set of relay connections the messaging core
// operates on.
//
// A Manager owns one health record per relay URL and is the single source
// of truth for connection state. It reconnects with exponential backoff,
// re-applies standing subscriptions whenever a relay comes back, runs the
// NIP-42 challenge-response auth state machine, and answers one-shot
// multi-relay queries with per-relay end-of-stored-events tracking.
//
// Relays are reached through the Link capability interface rather than a
// concrete socket type, so tests inject fake links through the Dialer and
// production code wraps *nostr.Relay.
package relay
