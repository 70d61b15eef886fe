package main

import (
	"SaleLedger/internal/observability"
	"SaleLedger/internal/persistence"
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore stands in for the snapshot table. logged holds the state hash the
// event log has for each durable sequence.
type memStore struct {
	saved    []*persistence.SnapshotData
	logged   map[int64][]byte
	verified []int64
}

func newMemStore() *memStore { return &memStore{logged: map[int64][]byte{}} }

func (m *memStore) SaveSnapshot(_ context.Context, snap *persistence.SnapshotData) (int, error) {
	m.saved = append(m.saved, snap)
	return 512, nil
}

func (m *memStore) StateHashAt(_ context.Context, seq int64) ([]byte, error) {
	h, ok := m.logged[seq]
	if !ok {
		return nil, fmt.Errorf("state hash at %d: %w", seq, sql.ErrNoRows)
	}
	return h, nil
}

func (m *memStore) MarkVerified(_ context.Context, seq int64) error {
	m.verified = append(m.verified, seq)
	return nil
}

func TestSnapshotter_VerifiesOnceDurable(t *testing.T) {
	c := newTestCore(t)
	store := newMemStore()
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	s := newSnapshotter(c, store, clockwork.NewFakeClockAt(saleStart), 1, -1, metrics, zerolog.Nop())
	ctx := context.Background()

	s.tick(ctx)
	assert.Empty(t, store.saved, "empty core")

	buy(t, c, "alice", 10_000)
	s.tick(ctx)
	require.Len(t, store.saved, 1)
	assert.Equal(t, int64(1), store.saved[0].Sequence)

	// event 1 not flushed yet
	s.tick(ctx)
	assert.Empty(t, store.verified)
	assert.Len(t, store.saved, 1)

	hash := c.GetStateHash()
	store.logged[1] = hash[:]
	s.tick(ctx)
	assert.Equal(t, []int64{1}, store.verified)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SnapshotTaken))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SnapshotLastSeq))
}

func TestSnapshotter_DiscardsMismatch(t *testing.T) {
	c := newTestCore(t)
	store := newMemStore()
	s := newSnapshotter(c, store, clockwork.NewFakeClockAt(saleStart), 1, -1, nil, zerolog.Nop())
	ctx := context.Background()

	buy(t, c, "alice", 10_000)
	s.tick(ctx)
	store.logged[1] = make([]byte, 32)
	s.tick(ctx)

	assert.Empty(t, store.verified)
	assert.Nil(t, s.pending)
}

func TestSnapshotter_Interval(t *testing.T) {
	c := newTestCore(t)
	store := newMemStore()
	s := newSnapshotter(c, store, clockwork.NewFakeClockAt(saleStart), 4, -1, nil, zerolog.Nop())

	buy(t, c, "alice", 10_000) // sequences 0, 1
	s.tick(context.Background())
	assert.Empty(t, store.saved)

	buy(t, c, "bob", 10_000) // sequences 2, 3
	s.tick(context.Background())
	require.Len(t, store.saved, 1)
	assert.Equal(t, int64(3), store.saved[0].Sequence)
}

func TestSnapshotter_FinalSkipsUnchangedState(t *testing.T) {
	c := newTestCore(t)
	buy(t, c, "alice", 10_000)
	store := newMemStore()
	// recovery restored a snapshot at the head of the log
	s := newSnapshotter(c, store, clockwork.NewFakeClockAt(saleStart), 1, 1, nil, zerolog.Nop())

	require.NoError(t, s.final(context.Background()))
	assert.Empty(t, store.saved)

	buy(t, c, "bob", 10_000)
	assert.Error(t, s.final(context.Background()), "event 3 is not in the log")

	hash := c.GetStateHash()
	store.logged[3] = hash[:]
	require.NoError(t, s.final(context.Background()))
	assert.Equal(t, []int64{3}, store.verified)
}

func TestSnapshotter_RunStopsOnCancel(t *testing.T) {
	c := newTestCore(t)
	clock := clockwork.NewFakeClockAt(saleStart)
	s := newSnapshotter(c, newMemStore(), clock, 1, -1, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, time.Minute) }()
	clock.BlockUntil(1)
	cancel()
	assert.NoError(t, <-done)
}
