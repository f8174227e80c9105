package delivery

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nbd-wtf/go-nostr"
	"github.com/sirupsen/logrus"

	"github.com/scm-repo-mirror/psic4t-nospeak-sub000/store"
)

const (
	retryTick        = time.Second
	retryBackoffBase = time.Second
	retryBackoffMax  = 30 * time.Second
	// maxRetryAttempts evicts an item after its fifth failed attempt.
	maxRetryAttempts = 5
	retryPublishWait = 5 * time.Second
)

// Queue drains persisted publish attempts that did not succeed within a
// coordinator deadline. Each item backs off independently and is evicted
// after maxRetryAttempts failures or when its target relay becomes
// unmanaged.
type Queue struct {
	store   store.RetryStore
	network RelayNetwork

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}

	// re-entrancy guard so overlapping ticks never double-process a batch
	draining atomic.Bool

	log *logrus.Entry
}

// NewQueue creates a retry queue over the given persisted store and relay
// network.
func NewQueue(st store.RetryStore, network RelayNetwork) *Queue {
	return &Queue{
		store:   st,
		network: network,
		log:     logrus.WithField("component", "retry_queue"),
	}
}

// Start launches the drain timer.
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return
	}
	q.running = true
	q.stopChan = make(chan struct{})
	go q.drainLoop(q.stopChan)
}

// Stop halts the drain timer. Persisted items survive for the next run.
func (q *Queue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.running {
		return
	}
	q.running = false
	close(q.stopChan)
}

// Enqueue persists a retry item for one event/relay pair, eligible one
// backoff interval from now.
func (q *Queue) Enqueue(ctx context.Context, evt nostr.Event, relayURL string) error {
	now := time.Now()
	item := &store.RetryItem{
		ID:          uuid.NewString(),
		Event:       evt,
		RelayURL:    relayURL,
		Attempts:    0,
		MaxAttempts: maxRetryAttempts,
		NextAttempt: now.Add(retryBackoffBase),
		CreatedAt:   now,
	}
	if err := q.store.PutRetryItem(ctx, item); err != nil {
		return err
	}
	q.log.WithFields(logrus.Fields{
		"event_id": evt.ID,
		"url":      relayURL,
	}).Debug("Publish queued for retry")
	return nil
}

func (q *Queue) drainLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(retryTick)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			q.Drain(context.Background())
		}
	}
}

// Drain processes every due item once. Concurrent calls are collapsed.
func (q *Queue) Drain(ctx context.Context) {
	if !q.draining.CompareAndSwap(false, true) {
		return
	}
	defer q.draining.Store(false)

	items, err := q.store.DueRetryItems(ctx, time.Now())
	if err != nil {
		q.log.WithField("error", err).Warn("Failed to scan retry items")
		return
	}

	for _, item := range items {
		q.processItem(ctx, item)
	}
}

func (q *Queue) processItem(ctx context.Context, item *store.RetryItem) {
	fields := logrus.Fields{
		"event_id": item.Event.ID,
		"url":      item.RelayURL,
		"attempt":  item.Attempts + 1,
	}

	// no retries against a relay the user removed
	if !q.network.IsManaged(item.RelayURL) {
		_ = q.store.DeleteRetryItem(ctx, item.ID)
		q.log.WithFields(fields).Debug("Retry item dropped: relay no longer managed")
		return
	}

	link, ok := q.network.ConnectedLink(item.RelayURL)
	if !ok {
		// relay managed but offline; leave the item for a later tick
		return
	}

	pubCtx, cancel := context.WithTimeout(ctx, retryPublishWait)
	err := link.Publish(pubCtx, item.Event)
	cancel()

	if err == nil {
		_ = q.store.DeleteRetryItem(ctx, item.ID)
		q.log.WithFields(fields).Info("Retried publish succeeded")
		return
	}

	item.Attempts++
	if item.Attempts >= item.MaxAttempts {
		_ = q.store.DeleteRetryItem(ctx, item.ID)
		q.log.WithFields(fields).Warn("Retry item evicted after max attempts")
		return
	}

	item.NextAttempt = time.Now().Add(retryDelay(item.Attempts))
	if updateErr := q.store.UpdateRetryItem(ctx, item); updateErr != nil {
		q.log.WithField("error", updateErr).Warn("Failed to update retry item")
	}
	fields["error"] = err
	q.log.WithFields(fields).Debug("Retried publish failed")
}

// retryDelay is the per-item backoff: base * 2^(attempts-1), capped.
func retryDelay(attempts int) time.Duration {
	d := retryBackoffBase
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= retryBackoffMax {
			return retryBackoffMax
		}
	}
	if d > retryBackoffMax {
		return retryBackoffMax
	}
	return d
}
