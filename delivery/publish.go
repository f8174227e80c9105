package delivery

import (
	"context"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/sirupsen/logrus"

	"github.com/scm-repo-mirror/psic4t-nospeak-sub000/relay"
)

// RelayNetwork is the slice of the relay manager the delivery stage needs:
// health snapshots, live handles and the narrow auth entry points. It
// never takes ownership of a relay handle.
type RelayNetwork interface {
	ConnectedLink(url string) (relay.Link, bool)
	IsManaged(url string) bool
	MarkAuthRequired(url string)
	AuthenticateRelay(ctx context.Context, url string) error
}

// Result classifies each relay of one publish call into exactly one
// bucket.
type Result struct {
	Successful []string
	Failed     []string
	TimedOut   []string
}

// Confirmed reports whether at least one relay acknowledged the event.
func (r Result) Confirmed() bool {
	return len(r.Successful) > 0
}

// Merge folds another result into this one.
func (r *Result) Merge(other Result) {
	r.Successful = append(r.Successful, other.Successful...)
	r.Failed = append(r.Failed, other.Failed...)
	r.TimedOut = append(r.TimedOut, other.TimedOut...)
}

// Unconfirmed returns the relays that did not acknowledge the event, in
// no particular order.
func (r Result) Unconfirmed() []string {
	out := make([]string, 0, len(r.Failed)+len(r.TimedOut))
	out = append(out, r.Failed...)
	return append(out, r.TimedOut...)
}

const defaultPollInterval = 50 * time.Millisecond

// Coordinator publishes one event to many relays under a single shared
// deadline.
type Coordinator struct {
	network      RelayNetwork
	pollInterval time.Duration
	log          *logrus.Entry
}

// NewCoordinator creates a Coordinator over the given relay network.
func NewCoordinator(network RelayNetwork) *Coordinator {
	return &Coordinator{
		network:      network,
		pollInterval: defaultPollInterval,
		log:          logrus.WithField("component", "delivery"),
	}
}

// PublishWithDeadline attempts delivery to every URL in parallel, each
// attempt bounded by the same wall-clock deadline. onRelaySuccess, if
// non-nil, is invoked for each confirming relay before its success is
// recorded. Fast relays confirm while slow ones are still polling for
// connectivity; the deadline bounds total latency regardless of relay
// count.
func (c *Coordinator) PublishWithDeadline(ctx context.Context, evt nostr.Event, urls []string, deadline time.Duration, onRelaySuccess func(url string)) Result {
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	type classified struct {
		url     string
		outcome outcome
	}

	results := make(chan classified, len(urls))
	var wg sync.WaitGroup
	for _, url := range urls {
		wg.Add(1)
		go func(url string) {
			defer wg.Done()
			oc := c.publishToRelay(ctx, evt, url)
			if oc == outcomeSuccess && onRelaySuccess != nil {
				onRelaySuccess(url)
			}
			results <- classified{url: url, outcome: oc}
		}(url)
	}
	wg.Wait()
	close(results)

	var res Result
	for r := range results {
		switch r.outcome {
		case outcomeSuccess:
			res.Successful = append(res.Successful, r.url)
		case outcomeTimeout:
			res.TimedOut = append(res.TimedOut, r.url)
		default:
			res.Failed = append(res.Failed, r.url)
		}
	}

	c.log.WithFields(logrus.Fields{
		"event_id":  evt.ID,
		"relays":    len(urls),
		"succeeded": len(res.Successful),
		"failed":    len(res.Failed),
		"timed_out": len(res.TimedOut),
	}).Debug("Publish classified")
	return res
}

type outcome uint8

const (
	outcomeSuccess outcome = iota
	outcomeFailure
	outcomeTimeout
)

// publishToRelay runs the per-relay pipeline: wait for connectivity, then
// publish, with a single inline auth retry on an auth-required rejection.
// Further retries belong to the retry queue, not this call.
func (c *Coordinator) publishToRelay(ctx context.Context, evt nostr.Event, url string) outcome {
	link, ok := c.waitForLink(ctx, url)
	if !ok {
		return outcomeTimeout
	}

	err := link.Publish(ctx, evt)
	if err == nil {
		return outcomeSuccess
	}
	if ctx.Err() != nil {
		return outcomeTimeout
	}

	if relay.IsAuthRequired(err.Error()) {
		// one-shot: authenticate and retry exactly once within this call
		c.network.MarkAuthRequired(url)
		if authErr := c.network.AuthenticateRelay(ctx, url); authErr != nil {
			c.log.WithFields(logrus.Fields{
				"url":   url,
				"error": authErr,
			}).Debug("Auth retry aborted")
			return c.classifyError(ctx)
		}
		err = link.Publish(ctx, evt)
		if err == nil {
			return outcomeSuccess
		}
		return c.classifyError(ctx)
	}

	c.log.WithFields(logrus.Fields{
		"url":   url,
		"error": err,
	}).Debug("Publish rejected")
	return outcomeFailure
}

func (c *Coordinator) classifyError(ctx context.Context) outcome {
	if ctx.Err() != nil {
		return outcomeTimeout
	}
	return outcomeFailure
}

// waitForLink polls the relay's health until it reports connected with a
// live handle, or the deadline passes.
func (c *Coordinator) waitForLink(ctx context.Context, url string) (relay.Link, bool) {
	if link, ok := c.network.ConnectedLink(url); ok {
		return link, true
	}

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, false
		case <-ticker.C:
			if link, ok := c.network.ConnectedLink(url); ok {
				return link, true
			}
		}
	}
}
