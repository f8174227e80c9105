// Package nospeak implements the transport and envelope-encryption core
// of an end-to-end-encrypted Nostr messaging client.
//
// The core manages a set of relay connections with health tracking and
// reconnection backoff, publishes gift-wrapped messages to every
// participant's relay set under a bounded deadline, retries whatever a
// deadline pass missed, and decrypts inbound gift-wraps back into
// messages and reactions. This package is the facade that wires the
// subsystems together: relay management, deadline-bounded publishing,
// the retry queue, envelope construction, and history backfill.
//
// # Getting Started
//
// Create a client from a signer and a store, then start it and set up
// callbacks for inbound traffic:
//
//	sgn, err := signer.NewLocalSigner(secretKeyHex)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	options := nospeak.NewOptions()
//	options.RelayURLs = []string{"wss://relay.example.com"}
//
//	client, err := nospeak.New(sgn, store.NewMemoryStore(), options)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Stop()
//
//	client.OnMessage(func(msg *store.Message) {
//	    fmt.Printf("message in %s: %s\n", msg.ConversationID, msg.Content)
//	})
//
//	client.Start()
//
//	if _, err := client.SendText(ctx, []string{peerPubKey}, "hello"); err != nil {
//	    log.Printf("not sent: %v", err)
//	}
//
// Messages travel as three nested layers: an unsigned rumor carrying the
// application payload, a seal signed by the true sender and encrypted to
// one recipient, and an outer gift-wrap signed by a one-time key so
// relay operators learn neither sender nor content. A send succeeds when
// at least one relay anywhere confirmed a copy; anything less fails the
// call and nothing is recorded locally.
package nospeak
