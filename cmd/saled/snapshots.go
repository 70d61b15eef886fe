package main

import (
	"SaleLedger/internal/core"
	"SaleLedger/internal/observability"
	"SaleLedger/internal/persistence"
	"bytes"
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

type snapshotStore interface {
	SaveSnapshot(ctx context.Context, snap *persistence.SnapshotData) (int, error)
	StateHashAt(ctx context.Context, sequence int64) ([]byte, error)
	MarkVerified(ctx context.Context, sequence int64) error
}

// snapshotter saves a snapshot every interval events. A saved snapshot stays
// unverified, and so unused by recovery, until the event at its sequence is
// in the log with the same state hash.
type snapshotter struct {
	core     *core.SaleCore
	store    snapshotStore
	clock    clockwork.Clock
	interval int64
	metrics  *observability.Metrics
	logger   zerolog.Logger

	lastSeq int64
	pending *persistence.SnapshotData
}

// lastSnapshot is the sequence recovery restored from, -1 for none.
func newSnapshotter(c *core.SaleCore, store snapshotStore, clock clockwork.Clock, interval, lastSnapshot int64, metrics *observability.Metrics, logger zerolog.Logger) *snapshotter {
	if interval <= 0 {
		interval = 10_000
	}
	return &snapshotter{
		core:     c,
		store:    store,
		clock:    clock,
		interval: interval,
		metrics:  metrics,
		logger:   logger,
		lastSeq:  lastSnapshot,
	}
}

// Run checks every period until ctx is done.
func (s *snapshotter) Run(ctx context.Context, every time.Duration) error {
	ticker := s.clock.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			s.tick(ctx)
		}
	}
}

func (s *snapshotter) tick(ctx context.Context) {
	if s.pending != nil {
		s.verify(ctx)
	}
	if s.core.GetSequence()-1-s.lastSeq >= s.interval {
		if err := s.take(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("periodic snapshot failed")
		}
	}
}

// take saves the current state unless nothing has been applied since the
// last snapshot.
func (s *snapshotter) take(ctx context.Context) error {
	state := s.core.CreateSnapshotState()
	if state.Sequence < 0 || state.Sequence == s.lastSeq {
		return nil
	}
	start := s.clock.Now()
	data := persistence.EncodeSnapshot(state, start.UTC())
	size, err := s.store.SaveSnapshot(ctx, data)
	if err != nil {
		return err
	}

	s.lastSeq = state.Sequence
	s.pending = data
	if s.metrics != nil {
		s.metrics.SnapshotTaken.Inc()
		s.metrics.SnapshotSizeBytes.Set(float64(size))
	}
	s.logger.Info().
		Int64("sequence", state.Sequence).
		Int("bytes", size).
		Dur("took", s.clock.Since(start)).
		Msg("snapshot saved")
	return nil
}

// verify marks the pending snapshot once its event is durable. It reports
// whether nothing remains pending.
func (s *snapshotter) verify(ctx context.Context) bool {
	snap := s.pending
	logged, err := s.store.StateHashAt(ctx, snap.Sequence)
	if errors.Is(err, sql.ErrNoRows) {
		return false // not flushed yet
	}
	if err != nil {
		s.logger.Warn().Err(err).Int64("sequence", snap.Sequence).Msg("snapshot verification deferred")
		return false
	}

	s.pending = nil
	if !bytes.Equal(logged, snap.StateHash) {
		s.logger.Error().
			Int64("sequence", snap.Sequence).
			Hex("logged", logged).
			Hex("snapshot", snap.StateHash).
			Msg("snapshot hash differs from event log, discarded")
		return true
	}
	if err := s.store.MarkVerified(ctx, snap.Sequence); err != nil {
		s.logger.Warn().Err(err).Int64("sequence", snap.Sequence).Msg("mark snapshot verified")
		return true
	}
	if s.metrics != nil {
		s.metrics.SnapshotLastSeq.Set(float64(snap.Sequence))
	}
	return true
}

// final runs after the persistence worker has drained, so the snapshot can
// be verified immediately.
func (s *snapshotter) final(ctx context.Context) error {
	if err := s.take(ctx); err != nil {
		return err
	}
	if s.pending != nil && !s.verify(ctx) {
		return errors.New("final snapshot event not in log")
	}
	return nil
}
