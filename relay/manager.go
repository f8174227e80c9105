package relay

import (
	"context"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/sirupsen/logrus"

	"github.com/scm-repo-mirror/psic4t-nospeak-sub000/signer"
)

// Config holds the Manager's tunables.
type Config struct {
	// Backoff drives reconnection delays in foreground mode.
	Backoff BackoffConfig
	// BackgroundBackoff replaces Backoff while background mode is enabled.
	// It raises the floor on both the initial and the maximum delay.
	BackgroundBackoff BackoffConfig
	// HealthCheckInterval is the cadence of the periodic reconnect sweep.
	HealthCheckInterval time.Duration
	// DialTimeout bounds a single connection attempt.
	DialTimeout time.Duration
}

// DefaultConfig returns the standard Manager configuration.
func DefaultConfig() Config {
	return Config{
		Backoff:             BackoffConfig{Initial: time.Second, Max: 30 * time.Second, Multiplier: 2.0},
		BackgroundBackoff:   BackoffConfig{Initial: 5 * time.Second, Max: 2 * time.Minute, Multiplier: 2.0},
		HealthCheckInterval: 30 * time.Second,
		DialTimeout:         10 * time.Second,
	}
}

// reconnectFailureThreshold bounds which disconnected relays the periodic
// sweep retries every tick; beyond it only every fifth failure retries,
// so chronically dead relays do not produce a thundering herd.
const reconnectFailureThreshold = 3

// HealthObserver receives a snapshot of all relay health records whenever
// one changes.
type HealthObserver func(snapshot []Health)

// Manager owns the relay set. It is the only mutator of the health map;
// other components read snapshots and call the narrow auth entry points.
type Manager struct {
	mu     sync.RWMutex
	relays map[string]*record

	subMu sync.Mutex
	subs  map[string]*subscription

	dial   Dialer
	signer signer.Signer
	cfg    Config

	// active backoff profile; swapped by SetBackgroundModeEnabled
	backoff BackoffConfig

	observer HealthObserver

	ctx    context.Context
	cancel context.CancelFunc

	running  bool
	stopChan chan struct{}

	log *logrus.Entry
}

// NewManager creates a Manager using the given dialer and signer. Pass
// DialNostr for production use.
func NewManager(dial Dialer, sgn signer.Signer, cfg Config) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		relays:   make(map[string]*record),
		subs:     make(map[string]*subscription),
		dial:     dial,
		signer:   sgn,
		cfg:      cfg,
		backoff:  cfg.Backoff,
		ctx:      ctx,
		cancel:   cancel,
		stopChan: make(chan struct{}),
		log:      logrus.WithField("component", "relay"),
	}
}

// Start launches the periodic health-check sweep.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}
	m.running = true
	go m.healthLoop()
}

// Stop tears down every connection and stops background work.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopChan)
	m.cancel()

	for url, rec := range m.relays {
		if rec.link != nil {
			_ = rec.link.Close()
		}
		delete(m.relays, url)
	}
	m.mu.Unlock()

	m.subMu.Lock()
	for id, sub := range m.subs {
		sub.closeAll()
		delete(m.subs, id)
	}
	m.subMu.Unlock()
}

// AddPersistentRelay registers url as a long-lived relay and triggers an
// initial connection attempt. Idempotent; a Temporary relay re-added here
// is promoted to Persistent.
func (m *Manager) AddPersistentRelay(url string) {
	m.addRelay(url, Persistent)
}

// AddTemporaryRelay registers url for a bounded task. Idempotent; an
// existing Persistent relay is never demoted.
func (m *Manager) AddTemporaryRelay(url string) {
	m.addRelay(url, Temporary)
}

func (m *Manager) addRelay(url string, kind Kind) {
	url = nostr.NormalizeURL(url)
	if url == "" {
		return
	}

	m.mu.Lock()
	rec, ok := m.relays[url]
	if !ok {
		rec = &record{Health: Health{URL: url, Kind: kind}}
		m.relays[url] = rec
		m.log.WithFields(logrus.Fields{
			"url":  url,
			"kind": kind.String(),
		}).Debug("Relay added")
	} else if kind == Persistent && rec.Kind == Temporary {
		rec.Kind = Persistent
		m.log.WithField("url", url).Debug("Relay promoted to persistent")
	}
	m.mu.Unlock()

	m.scheduleConnect(url)
}

// RemoveRelay closes the relay's socket, cancels its subscription handles
// and deletes its health record.
func (m *Manager) RemoveRelay(url string) {
	url = nostr.NormalizeURL(url)

	m.mu.Lock()
	rec, ok := m.relays[url]
	if ok {
		if rec.link != nil {
			_ = rec.link.Close()
		}
		delete(m.relays, url)
	}
	m.mu.Unlock()

	if ok {
		m.dropSubscriptionHandles(url)
		m.notifyObserver()
	}
}

// ClearAllRelays removes every managed relay.
func (m *Manager) ClearAllRelays() {
	for _, url := range m.managedURLs(func(*record) bool { return true }) {
		m.RemoveRelay(url)
	}
}

// CleanupTemporaryConnections removes every Temporary relay. Temporary
// relays are only ever dropped through this explicit call.
func (m *Manager) CleanupTemporaryConnections() {
	urls := m.managedURLs(func(r *record) bool { return r.Kind == Temporary })
	for _, url := range urls {
		m.RemoveRelay(url)
	}
	if len(urls) > 0 {
		m.log.WithField("count", len(urls)).Debug("Cleaned up temporary relays")
	}
}

// SetBackgroundModeEnabled swaps the backoff profile without discarding
// accumulated failure counts.
func (m *Manager) SetBackgroundModeEnabled(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if enabled {
		m.backoff = m.cfg.BackgroundBackoff
	} else {
		m.backoff = m.cfg.Backoff
	}
}

// NotifyNetworkOnline immediately re-triggers reconnection for all
// disconnected Persistent relays, bypassing the remaining backoff window.
func (m *Manager) NotifyNetworkOnline() {
	m.mu.Lock()
	var urls []string
	for url, rec := range m.relays {
		if !rec.Connected && rec.Kind == Persistent {
			rec.LastAttemptAt = time.Time{}
			urls = append(urls, url)
		}
	}
	m.mu.Unlock()

	for _, url := range urls {
		m.scheduleConnect(url)
	}
}

// NotifyNetworkOffline is a no-op: live sockets fail on their own and the
// failures feed the normal backoff path.
func (m *Manager) NotifyNetworkOffline() {
	m.log.Debug("Network offline signal received")
}

// SetHealthObserver registers the callback that receives health snapshots.
func (m *Manager) SetHealthObserver(observer HealthObserver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observer = observer
}

// GetRelayHealth returns the health snapshot for one relay.
func (m *Manager) GetRelayHealth(url string) (Health, bool) {
	url = nostr.NormalizeURL(url)
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.relays[url]
	if !ok {
		return Health{}, false
	}
	return rec.snapshot(), true
}

// GetAllRelayHealth returns snapshots for every managed relay.
func (m *Manager) GetAllRelayHealth() []Health {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Health, 0, len(m.relays))
	for _, rec := range m.relays {
		out = append(out, rec.snapshot())
	}
	return out
}

// GetConnectedRelays returns the URLs of all currently connected relays.
func (m *Manager) GetConnectedRelays() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for url, rec := range m.relays {
		if rec.Connected && rec.link != nil {
			out = append(out, url)
		}
	}
	return out
}

// IsManaged reports whether url has a health record.
func (m *Manager) IsManaged(url string) bool {
	url = nostr.NormalizeURL(url)
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.relays[url]
	return ok
}

// ConnectedLink returns the live Link for url, if connected.
func (m *Manager) ConnectedLink(url string) (Link, bool) {
	url = nostr.NormalizeURL(url)
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.relays[url]
	if !ok || !rec.Connected || rec.link == nil {
		return nil, false
	}
	return rec.link, true
}

func (m *Manager) managedURLs(keep func(*record) bool) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for url, rec := range m.relays {
		if keep(rec) {
			out = append(out, url)
		}
	}
	return out
}

func (m *Manager) connectedLinks() map[string]Link {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Link)
	for url, rec := range m.relays {
		if rec.Connected && rec.link != nil {
			out[url] = rec.link
		}
	}
	return out
}

// scheduleConnect starts a connection attempt for url unless one is
// already running or the relay is connected.
func (m *Manager) scheduleConnect(url string) {
	m.mu.Lock()
	rec, ok := m.relays[url]
	if !ok || rec.Connected || rec.connecting {
		m.mu.Unlock()
		return
	}
	rec.connecting = true
	wait := m.backoffRemainingLocked(rec)
	m.mu.Unlock()

	go m.connectRelay(url, wait)
}

// backoffRemainingLocked computes how much of the backoff window is left,
// measured from the last attempt. Caller holds m.mu.
func (m *Manager) backoffRemainingLocked(rec *record) time.Duration {
	if rec.LastAttemptAt.IsZero() {
		return 0
	}
	wait := m.backoff.Delay(rec.ConsecutiveFailures) - time.Since(rec.LastAttemptAt)
	if wait < 0 {
		return 0
	}
	return wait
}

func (m *Manager) connectRelay(url string, wait time.Duration) {
	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-m.ctx.Done():
			m.clearConnecting(url)
			return
		case <-timer.C:
		}
	}

	m.mu.Lock()
	rec, ok := m.relays[url]
	if !ok {
		m.mu.Unlock()
		return
	}
	rec.LastAttemptAt = time.Now()
	m.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(m.ctx, m.cfg.DialTimeout)
	link, err := m.dial(dialCtx, url)
	cancel()

	m.mu.Lock()
	rec, ok = m.relays[url]
	if !ok {
		m.mu.Unlock()
		if link != nil {
			_ = link.Close()
		}
		return
	}
	rec.connecting = false

	if err != nil {
		rec.Connected = false
		rec.FailureCount++
		rec.ConsecutiveFailures++
		failures := rec.ConsecutiveFailures
		m.mu.Unlock()

		m.log.WithFields(logrus.Fields{
			"url":                  url,
			"consecutive_failures": failures,
			"error":                err,
		}).Warn("Relay connection failed")
		m.notifyObserver()
		return
	}

	rec.link = link
	rec.Connected = true
	rec.LastConnectedAt = time.Now()
	rec.SuccessCount++
	rec.ConsecutiveFailures = 0
	m.mu.Unlock()

	m.log.WithField("url", url).Info("Relay connected")

	go m.watchLink(url, link)
	m.applySubscriptionsToRelay(url, link)
	m.notifyObserver()
}

func (m *Manager) clearConnecting(url string) {
	m.mu.Lock()
	if rec, ok := m.relays[url]; ok {
		rec.connecting = false
	}
	m.mu.Unlock()
}

// watchLink waits for the link's socket to close and degrades the record.
func (m *Manager) watchLink(url string, link Link) {
	select {
	case <-link.Done():
	case <-m.ctx.Done():
		return
	}

	m.mu.Lock()
	rec, ok := m.relays[url]
	if !ok || rec.link != link {
		// a newer connection already replaced this one
		m.mu.Unlock()
		return
	}
	rec.Connected = false
	rec.link = nil
	// a relay that was mid-auth must re-auth after reconnecting
	if rec.AuthStatus == Authenticated || rec.AuthStatus == Authenticating {
		rec.AuthStatus = AuthRequired
	}
	m.mu.Unlock()

	m.log.WithField("url", url).Info("Relay disconnected")
	m.dropSubscriptionHandles(url)
	m.notifyObserver()
}

// healthLoop periodically retries disconnected relays. Relays with few
// consecutive failures retry every tick; chronically failing ones only
// when the count is a multiple of five.
func (m *Manager) healthLoop() {
	ticker := time.NewTicker(m.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopChan:
			return
		case <-ticker.C:
			m.sweepDisconnected()
		}
	}
}

func (m *Manager) sweepDisconnected() {
	m.mu.RLock()
	var urls []string
	for url, rec := range m.relays {
		if rec.Connected || rec.connecting {
			continue
		}
		cf := rec.ConsecutiveFailures
		if cf <= reconnectFailureThreshold || cf%5 == 0 {
			urls = append(urls, url)
		}
	}
	m.mu.RUnlock()

	for _, url := range urls {
		m.scheduleConnect(url)
	}
}

func (m *Manager) notifyObserver() {
	m.mu.RLock()
	observer := m.observer
	m.mu.RUnlock()
	if observer != nil {
		observer(m.GetAllRelayHealth())
	}
}
