package nospeak

import (
	"context"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/sirupsen/logrus"

	"github.com/scm-repo-mirror/psic4t-nospeak-sub000/delivery"
	"github.com/scm-repo-mirror/psic4t-nospeak-sub000/envelope"
	"github.com/scm-repo-mirror/psic4t-nospeak-sub000/relay"
	"github.com/scm-repo-mirror/psic4t-nospeak-sub000/session"
	"github.com/scm-repo-mirror/psic4t-nospeak-sub000/signer"
	"github.com/scm-repo-mirror/psic4t-nospeak-sub000/store"
	"github.com/scm-repo-mirror/psic4t-nospeak-sub000/syncer"
)

// Options configures a Client.
type Options struct {
	// RelayURLs is the user's own persistent relay set.
	RelayURLs []string
	// Relay configures connection management and backoff.
	Relay relay.Config
	// Pipeline configures envelope construction and delivery.
	Pipeline envelope.Config
	// Sync configures history backfill.
	Sync syncer.Options
	// Dialer opens relay connections; nil means the production websocket
	// dialer.
	Dialer relay.Dialer
}

// NewOptions returns Options populated with the standard defaults.
func NewOptions() *Options {
	return &Options{
		Relay:    relay.DefaultConfig(),
		Pipeline: envelope.DefaultConfig(),
		Sync:     syncer.DefaultOptions(),
	}
}

// Client is the messaging core facade. It owns the relay manager, the
// publish coordinator, the retry queue, the envelope pipeline and the
// history syncer, and exposes the narrow surface an application consumes.
type Client struct {
	signer   signer.Signer
	session  *session.Context
	manager  *relay.Manager
	queue    *delivery.Queue
	pipeline *envelope.Pipeline
	syncCtl  *syncer.Controller
	resolver *relayResolver
	opts     *Options

	mu          sync.Mutex
	started     bool
	unsubscribe func()

	log *logrus.Entry
}

// New wires a Client around the given signing identity and datastore.
func New(sgn signer.Signer, st store.Store, opts *Options) (*Client, error) {
	if opts == nil {
		opts = NewOptions()
	}
	pubKey, err := sgn.GetPublicKey(context.Background())
	if err != nil {
		return nil, err
	}

	dial := opts.Dialer
	if dial == nil {
		dial = relay.DialNostr
	}

	manager := relay.NewManager(dial, sgn, opts.Relay)
	coordinator := delivery.NewCoordinator(manager)
	queue := delivery.NewQueue(st, manager)
	resolver := newRelayResolver(manager, opts.RelayURLs)
	sess := session.New(pubKey)
	pipeline := envelope.NewPipeline(sgn, manager, coordinator, queue, resolver, st, sess, opts.Pipeline)

	c := &Client{
		signer:   sgn,
		session:  sess,
		manager:  manager,
		queue:    queue,
		pipeline: pipeline,
		resolver: resolver,
		opts:     opts,
		log:      logrus.WithField("component", "client"),
	}
	c.syncCtl = syncer.NewController(manager, &pipelineIngestor{pipeline: pipeline}, opts.Sync)
	return c, nil
}

// PubKey returns the hex public key of the active identity.
func (c *Client) PubKey() string {
	return c.session.PubKey()
}

// Start connects the configured relays, starts the retry queue and opens
// the standing gift-wrap inbox subscription.
func (c *Client) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return
	}
	c.started = true

	c.manager.Start()
	for _, url := range c.opts.RelayURLs {
		c.manager.AddPersistentRelay(url)
	}
	c.queue.Start()
	c.unsubscribe = c.manager.Subscribe(c.inboxFilters(), c.pipeline.HandleGiftWrap)

	c.log.WithField("relays", len(c.opts.RelayURLs)).Info("Client started")
}

// Stop tears down the inbox subscription, the retry queue and every
// relay connection.
func (c *Client) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return
	}
	c.started = false

	if c.unsubscribe != nil {
		c.unsubscribe()
		c.unsubscribe = nil
	}
	c.queue.Stop()
	c.manager.Stop()

	c.log.Info("Client stopped")
}

func (c *Client) inboxFilters() nostr.Filters {
	return nostr.Filters{{
		Kinds: []int{envelope.KindGiftWrap},
		Tags:  nostr.TagMap{"p": []string{c.session.PubKey()}},
	}}
}

// SendText sends a text message to the given recipients.
func (c *Client) SendText(ctx context.Context, recipients []string, content string) (*envelope.SendResult, error) {
	return c.pipeline.SendText(ctx, recipients, content)
}

// SendReaction sends an emoji reaction to the given recipients.
func (c *Client) SendReaction(ctx context.Context, recipients []string, targetEventID, emoji string) (*envelope.SendResult, error) {
	return c.pipeline.SendReaction(ctx, recipients, targetEventID, emoji)
}

// SendFile encrypts, uploads and sends a file to the given recipients.
func (c *Client) SendFile(ctx context.Context, recipients []string, plaintext []byte, mimeType string, uploader envelope.Uploader) (*envelope.SendResult, error) {
	return c.pipeline.SendFile(ctx, recipients, plaintext, mimeType, uploader)
}

// BackfillHistory pages stored gift-wraps for this identity out of the
// relay set, back to minUntil. Notification callbacks stay quiet for the
// duration; contact-list publishes are deferred as well.
func (c *Client) BackfillHistory(ctx context.Context, minUntil time.Time) (*syncer.Stats, error) {
	c.session.SetDeferContactPublish(true)
	defer c.session.SetDeferContactPublish(false)

	return c.syncCtl.Backfill(ctx, syncer.BackfillOptions{
		Filter:            c.inboxFilters()[0],
		MinUntil:          minUntil,
		AbortOnDuplicates: true,
	})
}

// OnMessage sets the callback for newly stored messages.
func (c *Client) OnMessage(fn func(msg *store.Message)) {
	c.pipeline.OnMessage(fn)
}

// OnReaction sets the callback for newly stored reactions.
func (c *Client) OnReaction(fn func(reaction *store.Reaction)) {
	c.pipeline.OnReaction(fn)
}

// OnUnreadReaction sets the callback for reactions that should raise a
// notification.
func (c *Client) OnUnreadReaction(fn func(reaction *store.Reaction)) {
	c.pipeline.OnUnreadReaction(fn)
}

// OnRelaySuccess sets the per-relay delivery-receipt callback.
func (c *Client) OnRelaySuccess(fn func(url string)) {
	c.pipeline.OnRelaySuccess(fn)
}

// OnContactListChanged sets the callback fired when auto-adding a
// contact should publish an updated contact list.
func (c *Client) OnContactListChanged(fn func(ctx context.Context, pubKey string)) {
	c.pipeline.OnContactListChanged(fn)
}

// AddRelay adds a persistent relay at runtime.
func (c *Client) AddRelay(url string) {
	c.manager.AddPersistentRelay(url)
}

// RemoveRelay disconnects and forgets a relay.
func (c *Client) RemoveRelay(url string) {
	c.manager.RemoveRelay(url)
}

// RelayHealth returns a snapshot of every managed relay.
func (c *Client) RelayHealth() []relay.Health {
	return c.manager.GetAllRelayHealth()
}

// ConnectedRelays returns the URLs currently connected.
func (c *Client) ConnectedRelays() []string {
	return c.manager.GetConnectedRelays()
}

// SetBackgroundMode switches the relay manager between foreground and
// background reconnection profiles.
func (c *Client) SetBackgroundMode(enabled bool) {
	c.manager.SetBackgroundModeEnabled(enabled)
}

// NotifyNetworkOnline tells the relay manager connectivity returned.
func (c *Client) NotifyNetworkOnline() {
	c.manager.NotifyNetworkOnline()
}

// NotifyNetworkOffline tells the relay manager connectivity was lost.
func (c *Client) NotifyNetworkOffline() {
	c.manager.NotifyNetworkOffline()
}

// FetchEvents runs a one-shot query against the connected relay set.
func (c *Client) FetchEvents(ctx context.Context, filters nostr.Filters, timeout time.Duration) ([]*nostr.Event, error) {
	return c.manager.FetchEvents(ctx, filters, timeout)
}

// pipelineIngestor adapts the envelope pipeline to the syncer's batch
// consumer contract.
type pipelineIngestor struct {
	pipeline *envelope.Pipeline
}

func (i *pipelineIngestor) Ingest(ctx context.Context, evt *nostr.Event) (bool, error) {
	classified, err := i.pipeline.Receive(ctx, evt)
	if err != nil {
		return false, err
	}
	return classified != nil, nil
}

func (i *pipelineIngestor) SetBackfilling(active bool) {
	i.pipeline.SetBackfilling(active)
}
