package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/sirupsen/logrus"

	"github.com/scm-repo-mirror/psic4t-nospeak-sub000/signer"
)

// ErrRelayNotConnected is returned when an auth attempt targets a relay
// without a live connection.
var ErrRelayNotConnected = errors.New("relay not connected")

// IsAuthRequired reports whether a relay rejection reason asks for NIP-42
// authentication.
func IsAuthRequired(reason string) bool {
	return strings.HasPrefix(reason, "auth-required")
}

// MarkAuthRequired records that url signaled an authentication challenge.
// Only relays currently not_required or authenticated transition to
// required; a relay mid-attempt or already failed is left untouched so
// duplicate signals cannot clobber an in-progress exchange.
func (m *Manager) MarkAuthRequired(url string) {
	url = nostr.NormalizeURL(url)

	m.mu.Lock()
	rec, ok := m.relays[url]
	if !ok {
		m.mu.Unlock()
		return
	}
	changed := false
	if rec.AuthStatus == AuthNotRequired || rec.AuthStatus == Authenticated {
		rec.AuthStatus = AuthRequired
		changed = true
	}
	m.mu.Unlock()

	if changed {
		m.log.WithField("url", url).Debug("Relay requires authentication")
		m.notifyObserver()
	}
}

// AuthenticateRelay runs the relay's challenge-response exchange using the
// injected signer. A missing-signer failure keeps its distinguished error
// so callers can tell "not logged in" apart from a relay rejection.
// Concurrent calls against one relay are collapsed: while an attempt is in
// flight, further calls return immediately.
func (m *Manager) AuthenticateRelay(ctx context.Context, url string) error {
	url = nostr.NormalizeURL(url)

	m.mu.Lock()
	rec, ok := m.relays[url]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("relay %s: not managed", url)
	}
	if rec.AuthStatus == Authenticating {
		m.mu.Unlock()
		return nil
	}
	link := rec.link
	if !rec.Connected || link == nil {
		m.mu.Unlock()
		return fmt.Errorf("relay %s: %w", url, ErrRelayNotConnected)
	}
	rec.AuthStatus = Authenticating
	m.mu.Unlock()

	err := link.Authenticate(ctx, func(evt *nostr.Event) error {
		return m.signer.SignEvent(ctx, evt)
	})

	m.mu.Lock()
	rec, ok = m.relays[url]
	if ok {
		if err != nil {
			rec.AuthStatus = AuthFailed
			rec.LastAuthError = err.Error()
		} else {
			rec.AuthStatus = Authenticated
			rec.LastAuthAt = time.Now()
			rec.LastAuthError = ""
		}
	}
	m.mu.Unlock()
	m.notifyObserver()

	if err != nil {
		if errors.Is(err, signer.ErrNoActiveSigner) {
			m.log.WithField("url", url).Warn("Relay auth skipped: no active signer")
			return fmt.Errorf("relay %s: %w", url, signer.ErrNoActiveSigner)
		}
		m.log.WithFields(logrus.Fields{
			"url":   url,
			"error": err,
		}).Warn("Relay auth failed")
		return fmt.Errorf("relay %s: auth failed: %w", url, err)
	}

	m.log.WithField("url", url).Info("Relay authenticated")
	return nil
}
