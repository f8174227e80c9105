package syncer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/sirupsen/logrus"
)

// ErrBackfillActive is returned when a backfill is already running or one
// finished inside the debounce window. Callers treat it as "nothing to
// do", not as a failure.
var ErrBackfillActive = errors.New("history backfill already active or debounced")

// Fetcher is the one-shot multi-relay query primitive the controller
// pages with.
type Fetcher interface {
	FetchEvents(ctx context.Context, filters nostr.Filters, timeout time.Duration) ([]*nostr.Event, error)
}

// Ingestor consumes fetched events. Ingest reports whether the event was
// new to the local store; a duplicate is not an error. SetBackfilling
// brackets a bulk run so the consumer can suppress notification signals.
type Ingestor interface {
	Ingest(ctx context.Context, evt *nostr.Event) (fresh bool, err error)
	SetBackfilling(active bool)
}

// Options holds the controller's tunables.
type Options struct {
	// BatchSize is the per-query event limit.
	BatchSize int
	// FetchTimeout bounds each individual multi-relay query.
	FetchTimeout time.Duration
	// Debounce is the minimum gap between backfill runs.
	Debounce time.Duration
}

// DefaultOptions returns the standard controller configuration.
func DefaultOptions() Options {
	return Options{
		BatchSize:    100,
		FetchTimeout: 10 * time.Second,
		Debounce:     5 * time.Second,
	}
}

// BackfillOptions bounds one backfill run.
type BackfillOptions struct {
	// Filter is the query template; the controller manages Until and
	// Limit itself while paging.
	Filter nostr.Filter
	// Until is the starting cursor. Zero means now.
	Until time.Time
	// MinUntil is the hard cutoff; paging stops once the cursor reaches
	// it. Zero means no time bound.
	MinUntil time.Time
	// MaxBatches caps the number of queries. Zero means unbounded.
	MaxBatches int
	// AbortOnDuplicates stops the run at the first checkpoint batch, a
	// non-empty batch containing no new events.
	AbortOnDuplicates bool
}

// Stats summarizes one backfill run.
type Stats struct {
	Batches int
	Events  int
	Fresh   int
}

// Controller pages history out of the relay set one bounded batch at a
// time. A single run is active at any moment; overlapping and rapid
// repeat calls collapse into ErrBackfillActive.
type Controller struct {
	fetch  Fetcher
	ingest Ingestor
	opts   Options

	mu       sync.Mutex
	inFlight bool
	lastRun  time.Time

	log *logrus.Entry
}

// NewController wires a backfill controller.
func NewController(fetch Fetcher, ingest Ingestor, opts Options) *Controller {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultOptions().BatchSize
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = DefaultOptions().FetchTimeout
	}
	return &Controller{
		fetch:  fetch,
		ingest: ingest,
		opts:   opts,
		log:    logrus.WithField("component", "syncer"),
	}
}

// Backfill pages backwards from opts.Until, feeding every batch to the
// ingestor, until the relay set is drained, a bound is hit, or a
// checkpoint batch is reached.
func (c *Controller) Backfill(ctx context.Context, opts BackfillOptions) (*Stats, error) {
	if err := c.acquire(); err != nil {
		return nil, err
	}
	defer c.release()

	c.ingest.SetBackfilling(true)
	defer c.ingest.SetBackfilling(false)

	cursor := opts.Until
	if cursor.IsZero() {
		cursor = time.Now()
	}

	stats := &Stats{}
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if opts.MaxBatches > 0 && stats.Batches >= opts.MaxBatches {
			break
		}
		if !opts.MinUntil.IsZero() && !cursor.After(opts.MinUntil) {
			break
		}

		filter := opts.Filter
		until := nostr.Timestamp(cursor.Unix())
		filter.Until = &until
		filter.Limit = c.opts.BatchSize

		events, err := c.fetch.FetchEvents(ctx, nostr.Filters{filter}, c.opts.FetchTimeout)
		if err != nil {
			return stats, err
		}
		if len(events) == 0 {
			break
		}
		stats.Batches++
		stats.Events += len(events)

		fresh := 0
		oldest := cursor
		for _, evt := range events {
			if ok, err := c.ingest.Ingest(ctx, evt); err != nil {
				c.log.WithFields(logrus.Fields{
					"event_id": evt.ID,
					"error":    err,
				}).Debug("Dropped event during backfill")
			} else if ok {
				fresh++
			}
			if at := evt.CreatedAt.Time(); at.Before(oldest) {
				oldest = at
			}
		}
		stats.Fresh += fresh

		if fresh == 0 && opts.AbortOnDuplicates {
			c.log.WithField("batches", stats.Batches).Debug("Backfill checkpoint reached")
			break
		}

		// move the cursor onto the oldest event rather than past it: a
		// limit-clipped batch may share that timestamp with events not
		// yet returned, and the receive path dedups the overlap. A pass
		// with no fresh events and no cursor movement means the window
		// is exhausted.
		if oldest.Before(cursor) {
			cursor = oldest
		} else if fresh == 0 {
			break
		}
	}

	c.log.WithFields(logrus.Fields{
		"batches": stats.Batches,
		"events":  stats.Events,
		"fresh":   stats.Fresh,
	}).Info("History backfill finished")
	return stats, nil
}

func (c *Controller) acquire() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inFlight {
		return ErrBackfillActive
	}
	if c.opts.Debounce > 0 && !c.lastRun.IsZero() && time.Since(c.lastRun) < c.opts.Debounce {
		return ErrBackfillActive
	}
	c.inFlight = true
	return nil
}

func (c *Controller) release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inFlight = false
	c.lastRun = time.Now()
}
