// Package session holds per-login state that was previously scattered
// across module-level singletons. A Context is created when an identity
// becomes active and handed to the messaging core, so multiple sessions
// can coexist in tests without leaking flags between them.
package session

import "sync"

// Context carries the flags and identity of one active session.
type Context struct {
	mu     sync.RWMutex
	pubKey string

	deferContactPublish bool
	autoRelayNotified   bool
}

// New creates a session context for the given hex public key.
func New(pubKey string) *Context {
	return &Context{pubKey: pubKey}
}

// PubKey returns the hex public key of the session identity.
func (c *Context) PubKey() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pubKey
}

// SetDeferContactPublish toggles suppression of contact-list publishes.
// Bulk sync sets this while importing history so auto-added contacts do
// not each trigger a list update.
func (c *Context) SetDeferContactPublish(defer_ bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deferContactPublish = defer_
}

// DeferContactPublish reports whether contact-list publishes are
// currently suppressed.
func (c *Context) DeferContactPublish() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.deferContactPublish
}

// MarkAutoRelayNotified records that the user has been told about
// automatically added relays. It returns true the first time it is
// called for this session and false afterwards.
func (c *Context) MarkAutoRelayNotified() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.autoRelayNotified {
		return false
	}
	c.autoRelayNotified = true
	return true
}
