// Package envelope implements the three-layer message envelope: an
// unsigned rumor (text, file or reaction) is sealed to a single recipient
// with the sender's key, and the seal is gift-wrapped under a fresh
// one-time key so relay operators see neither sender nor content. The
// Pipeline fans a message out to every recipient's relay set plus a
// self-copy, and classifies inbound gift-wraps back into messages and
// reactions.
//
// Construction order and timestamp randomization follow NIP-59: both the
// seal and the wrap carry independently randomized created_at values up
// to two days in the past, and every recipient gets an individually
// encrypted wrap. The rumor id stays identical across all copies of one
// logical message; the wrap id differs per copy.
package envelope
