package kafka

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// lifecycleEvent builds an envelope with a fixed event ID so dedupe behavior
// is observable (NewEvent would mint a fresh one).
func lifecycleEvent(eventID string) *Event {
	return &Event{
		EventID:     eventID,
		EventType:   "orderflow.order.state_changed",
		AggregateID: "order-7f3a",
	}
}

// countingHandler returns a Handler that counts invocations and returns err.
func countingHandler(count *int32, err error) Handler {
	return func(ctx context.Context, event *Event) error {
		atomic.AddInt32(count, 1)
		return err
	}
}

func TestMemoryIdempotencyStore_AddThenContains(t *testing.T) {
	store := NewMemoryIdempotencyStore(time.Minute)
	ctx := context.Background()

	require.NoError(t, store.Add(ctx, "evt-order-1"))

	seen, err := store.Contains(ctx, "evt-order-1")
	require.NoError(t, err)
	assert.True(t, seen)

	seen, err = store.Contains(ctx, "evt-never-added")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestMemoryIdempotencyStore_TTLExpiry(t *testing.T) {
	store := NewMemoryIdempotencyStore(10 * time.Millisecond)
	ctx := context.Background()

	require.NoError(t, store.Add(ctx, "evt-expiring"))

	seen, err := store.Contains(ctx, "evt-expiring")
	require.NoError(t, err)
	require.True(t, seen, "entry should be visible inside the TTL")

	time.Sleep(20 * time.Millisecond)

	seen, err = store.Contains(ctx, "evt-expiring")
	require.NoError(t, err)
	assert.False(t, seen, "entry should be gone after the TTL")
}

func TestMemoryIdempotencyStore_RepeatAddsKeepOneEntry(t *testing.T) {
	store := NewMemoryIdempotencyStore(time.Minute)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Add(ctx, "evt-repeat"))
	}

	assert.Equal(t, 1, store.Len())
}

func TestMemoryIdempotencyStore_ConcurrentSameKey(t *testing.T) {
	store := NewMemoryIdempotencyStore(time.Minute)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = store.Add(ctx, "evt-racing")
			_, _ = store.Contains(ctx, "evt-racing")
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, store.Len())
}

func TestIdempotentHandler_ProcessesFirstDelivery(t *testing.T) {
	store := NewMemoryIdempotencyStore(time.Minute)

	var calls int32
	handler := IdempotentHandler(store, countingHandler(&calls, nil), quietLogger())

	require.NoError(t, handler(context.Background(), lifecycleEvent("evt-first")))
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestIdempotentHandler_SkipsRedelivery(t *testing.T) {
	store := NewMemoryIdempotencyStore(time.Minute)

	var calls int32
	handler := IdempotentHandler(store, countingHandler(&calls, nil), quietLogger())
	evt := lifecycleEvent("evt-redelivered")

	require.NoError(t, handler(context.Background(), evt))
	require.NoError(t, handler(context.Background(), evt))

	assert.EqualValues(t, 1, atomic.LoadInt32(&calls), "the redelivery must not reach the handler")
}

func TestIdempotentHandler_EmptyEventIDAlwaysProcesses(t *testing.T) {
	store := NewMemoryIdempotencyStore(time.Minute)

	var calls int32
	handler := IdempotentHandler(store, countingHandler(&calls, nil), quietLogger())

	// Without an event ID there is nothing to dedupe on.
	evt := lifecycleEvent("")
	for i := 0; i < 3; i++ {
		require.NoError(t, handler(context.Background(), evt))
	}
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestIdempotentHandler_FailureLeavesEventRetryable(t *testing.T) {
	store := NewMemoryIdempotencyStore(time.Minute)
	handlerErr := errors.New("refund gateway unavailable")

	var calls int32
	handler := IdempotentHandler(store, countingHandler(&calls, handlerErr), quietLogger())
	evt := lifecycleEvent("evt-failing")

	require.ErrorIs(t, handler(context.Background(), evt), handlerErr)

	// A failed delivery must not be marked processed.
	seen, err := store.Contains(context.Background(), "evt-failing")
	require.NoError(t, err)
	assert.False(t, seen)

	require.ErrorIs(t, handler(context.Background(), evt), handlerErr)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls), "the retry should reach the handler again")
}

func TestIdempotentHandler_StoreOutageFailsOpen(t *testing.T) {
	var calls int32
	handler := IdempotentHandler(&brokenStore{}, countingHandler(&calls, nil), quietLogger())

	// Processing twice beats dropping an event when the store is down.
	require.NoError(t, handler(context.Background(), lifecycleEvent("evt-store-down")))
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestIdempotentHandler_DistinctEventsBothProcess(t *testing.T) {
	store := NewMemoryIdempotencyStore(time.Minute)

	var calls int32
	handler := IdempotentHandler(store, countingHandler(&calls, nil), quietLogger())

	require.NoError(t, handler(context.Background(), lifecycleEvent("evt-order-paid")))
	require.NoError(t, handler(context.Background(), lifecycleEvent("evt-order-shipped")))

	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
	for _, id := range []string{"evt-order-paid", "evt-order-shipped"} {
		seen, err := store.Contains(context.Background(), id)
		require.NoError(t, err)
		assert.True(t, seen, id)
	}
}

type brokenStore struct{}

func (b *brokenStore) Contains(context.Context, string) (bool, error) {
	return false, errors.New("store unavailable")
}

func (b *brokenStore) Add(context.Context, string) error {
	return errors.New("store unavailable")
}
