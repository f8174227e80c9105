package delivery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scm-repo-mirror/psic4t-nospeak-sub000/store"
)

func forceDue(t *testing.T, st *store.MemoryStore) []*store.RetryItem {
	t.Helper()
	ctx := context.Background()
	items, err := st.DueRetryItems(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	for _, item := range items {
		item.NextAttempt = time.Now().Add(-time.Millisecond)
		require.NoError(t, st.UpdateRetryItem(ctx, item))
	}
	return items
}

func TestEnqueueDefaults(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	q := NewQueue(st, newFakeNetwork())

	before := time.Now()
	require.NoError(t, q.Enqueue(ctx, nostr.Event{ID: "evt1"}, "wss://relay.example"))

	items, err := st.DueRetryItems(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, items, 1)

	item := items[0]
	assert.NotEmpty(t, item.ID)
	assert.Equal(t, "evt1", item.Event.ID)
	assert.Equal(t, "wss://relay.example", item.RelayURL)
	assert.Equal(t, 0, item.Attempts)
	assert.Equal(t, maxRetryAttempts, item.MaxAttempts)
	assert.True(t, item.NextAttempt.After(before), "first attempt is deferred one interval")
}

func TestRetryEvictionAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	link := &fakeLink{}
	link.publishFn = func(call int, evt nostr.Event) error {
		return errors.New("mined: proof of work required")
	}
	network := newFakeNetwork()
	network.addConnected("wss://relay.example", link)
	q := NewQueue(st, network)

	require.NoError(t, q.Enqueue(ctx, nostr.Event{ID: "evt1"}, "wss://relay.example"))

	for i := 0; i < maxRetryAttempts; i++ {
		forceDue(t, st)
		q.Drain(ctx)
	}

	assert.Equal(t, maxRetryAttempts, link.calls(), "exactly five attempts")

	items, err := st.DueRetryItems(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, items, "item evicted after max attempts")

	// a further drain must not retry a sixth time
	q.Drain(ctx)
	assert.Equal(t, maxRetryAttempts, link.calls())
}

func TestRetrySuccessDeletesItem(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	network := newFakeNetwork()
	network.addConnected("wss://relay.example", &fakeLink{})
	q := NewQueue(st, network)

	require.NoError(t, q.Enqueue(ctx, nostr.Event{ID: "evt1"}, "wss://relay.example"))
	forceDue(t, st)
	q.Drain(ctx)

	items, err := st.DueRetryItems(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestRetryDropsItemForUnmanagedRelay(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	network := newFakeNetwork()
	q := NewQueue(st, network)

	require.NoError(t, q.Enqueue(ctx, nostr.Event{ID: "evt1"}, "wss://removed.example"))
	forceDue(t, st)
	q.Drain(ctx)

	items, err := st.DueRetryItems(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, items, "no retries against a relay the user removed")
}

func TestRetryLeavesItemWhileRelayOffline(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	network := newFakeNetwork()
	network.addDisconnected("wss://offline.example")
	q := NewQueue(st, network)

	require.NoError(t, q.Enqueue(ctx, nostr.Event{ID: "evt1"}, "wss://offline.example"))
	forceDue(t, st)
	q.Drain(ctx)

	items, err := st.DueRetryItems(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 0, items[0].Attempts, "offline relay does not consume an attempt")
}

func TestRetryBackoffRecomputedPerAttempt(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	link := &fakeLink{}
	link.publishFn = func(call int, evt nostr.Event) error {
		return errors.New("error: internal")
	}
	network := newFakeNetwork()
	network.addConnected("wss://relay.example", link)
	q := NewQueue(st, network)

	require.NoError(t, q.Enqueue(ctx, nostr.Event{ID: "evt1"}, "wss://relay.example"))
	forceDue(t, st)

	before := time.Now()
	q.Drain(ctx)

	items, err := st.DueRetryItems(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 1, items[0].Attempts)
	assert.True(t, items[0].NextAttempt.After(before), "next attempt pushed into the future")
}

func TestRetryDelaySchedule(t *testing.T) {
	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},
		{10, 30 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, retryDelay(tt.attempts), "attempts=%d", tt.attempts)
	}
}

func TestDrainGuardCollapsesConcurrentPasses(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	block := make(chan struct{})
	link := &fakeLink{}
	link.publishFn = func(call int, evt nostr.Event) error {
		<-block
		return nil
	}
	network := newFakeNetwork()
	network.addConnected("wss://relay.example", link)
	q := NewQueue(st, network)

	require.NoError(t, q.Enqueue(ctx, nostr.Event{ID: "evt1"}, "wss://relay.example"))
	forceDue(t, st)

	done := make(chan struct{})
	go func() {
		q.Drain(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return link.calls() == 1 }, time.Second, time.Millisecond)

	// second pass while the first is mid-flight is a no-op
	q.Drain(ctx)
	assert.Equal(t, 1, link.calls())

	close(block)
	<-done
}
