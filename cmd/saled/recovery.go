package main

import (
	"SaleLedger/internal/core"
	"SaleLedger/internal/event"
	"SaleLedger/internal/observability"
	"SaleLedger/internal/persistence"
	"bytes"
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

const replayBatchSize = 1000

// recoverCore restores the latest verified snapshot, if any, then replays
// the event log tail. Every replayed event must reproduce the state hash the
// log recorded for it; a mismatch means the log and the code disagree and
// the process must not serve. It returns the restored snapshot's sequence,
// -1 for none, and the number of events replayed.
func recoverCore(
	ctx context.Context,
	c *core.SaleCore,
	snapMgr *persistence.SnapshotManager,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) (int64, int64, error) {
	snap, err := snapMgr.LoadLatestSnapshot(ctx)
	if err != nil {
		return -1, 0, err
	}
	snapSeq := int64(-1)
	if snap != nil {
		state, err := snap.Decode()
		if err != nil {
			return -1, 0, err
		}
		if err := c.RestoreFromSnapshot(state); err != nil {
			return -1, 0, fmt.Errorf("restore snapshot %d: %w", snap.Sequence, err)
		}
		if got := c.GetStateHash(); got != state.StateHash {
			return -1, 0, fmt.Errorf("snapshot %d hash mismatch: stored %x, restored %x", snap.Sequence, state.StateHash, got)
		}
		snapSeq = snap.Sequence
		logger.Info().Int64("sequence", snap.Sequence).Int("records", len(state.Records)).Msg("snapshot restored")
	} else {
		logger.Info().Msg("no verified snapshot, replaying from sequence 0")
	}

	replayed, err := replayEvents(ctx, c, snapMgr, metrics)
	return snapSeq, replayed, err
}

func replayEvents(
	ctx context.Context,
	c *core.SaleCore,
	snapMgr *persistence.SnapshotManager,
	metrics *observability.Metrics,
) (int64, error) {
	var replayed int64
	for {
		from := c.GetSequence()
		rows, err := snapMgr.LoadEventsFrom(ctx, from, replayBatchSize)
		if err != nil {
			return replayed, fmt.Errorf("load events from %d: %w", from, err)
		}
		if len(rows) == 0 {
			return replayed, nil
		}

		for _, row := range rows {
			if err := replayRow(c, row); err != nil {
				return replayed, err
			}
			replayed++
			if metrics != nil {
				metrics.ReplayEventsTotal.Inc()
			}
		}
	}
}

func replayRow(c *core.SaleCore, row persistence.EventRow) error {
	if want := c.GetSequence(); row.Sequence != want {
		return fmt.Errorf("event log gap: expected sequence %d, found %d", want, row.Sequence)
	}
	et := event.ParseEventType(row.EventType)
	if et == event.EventTypeUnknown {
		return fmt.Errorf("sequence %d: unknown event type %q", row.Sequence, row.EventType)
	}
	evt, err := event.DecodePayload(et, row.Payload)
	if err != nil {
		return fmt.Errorf("sequence %d: %w", row.Sequence, err)
	}

	out, err := c.Replay(evt)
	if err != nil {
		return fmt.Errorf("replay sequence %d (%s): %w", row.Sequence, row.EventType, err)
	}
	if !bytes.Equal(out.Envelope.StateHash[:], row.StateHash) {
		return fmt.Errorf("state hash mismatch at sequence %d: logged %x, replayed %x",
			row.Sequence, row.StateHash, out.Envelope.StateHash)
	}
	return nil
}
