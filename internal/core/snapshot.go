package core

import (
	"SaleLedger/internal/ledger"
	"SaleLedger/internal/state"
	"fmt"
	"time"

	"github.com/holiman/uint256"
)

// SnapshotState holds the in-memory state needed to resume without replaying
// the whole log. persistence.SnapshotData is its serialized form.
type SnapshotState struct {
	Sequence      int64 // last applied sequence, -1 when empty
	StateHash     [32]byte
	LastTimestamp time.Time

	Balances map[ledger.AccountKey]uint256.Int
	Inflow   map[ledger.AssetID]uint256.Int
	Outflow  map[ledger.AssetID]uint256.Int

	Committed uint256.Int
	Records   []state.ParticipantRecord

	IdempotencyKeys []string
}

// CreateSnapshotState captures the current in-memory state for persistence.
func (c *SaleCore) CreateSnapshotState() *SnapshotState {
	c.mu.Lock()
	defer c.mu.Unlock()

	inflow, outflow := c.balanceTracker.BoundaryTotals()
	snap := &SnapshotState{
		Sequence:        c.sequence - 1,
		StateHash:       c.hasher.GetPrevHash(),
		LastTimestamp:   c.ordering.Last(),
		Balances:        c.balanceTracker.Snapshot(),
		Inflow:          inflow,
		Outflow:         outflow,
		IdempotencyKeys: c.idempotency.Keys(),
	}
	snap.Committed.Set(c.treasury.Committed())
	for _, r := range c.records.All() {
		snap.Records = append(snap.Records, r.Clone())
	}
	return snap
}

// RestoreFromSnapshot loads snap into a core that has not processed anything
// yet, then re-verifies every invariant.
func (c *SaleCore) RestoreFromSnapshot(snap *SnapshotState) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sequence != 0 || c.records.Len() != 0 {
		return fmt.Errorf("restore into a core already at sequence %d", c.sequence)
	}
	if snap.Committed.Gt(c.treasury.Total()) {
		return fmt.Errorf("snapshot committed %s exceeds allocation %s", snap.Committed.Dec(), c.treasury.Total().Dec())
	}

	c.sequence = snap.Sequence + 1
	c.hasher.SetPrevHash(snap.StateHash)
	c.ordering.Restore(snap.LastTimestamp)
	c.journalGen.SetSequence(c.sequence)

	for key, balance := range snap.Balances {
		if key.IsExternal() {
			return fmt.Errorf("snapshot carries boundary account %s", key.AccountPath())
		}
		c.balanceTracker.SetBalance(key, balance)
	}
	for _, assetID := range []ledger.AssetID{ledger.AssetPayment, ledger.AssetSale} {
		c.balanceTracker.SetBoundaryTotals(assetID, snap.Inflow[assetID], snap.Outflow[assetID])
	}

	c.treasury.Restore(&snap.Committed)
	for _, r := range snap.Records {
		c.records.Restore(r)
	}
	c.idempotency.Warm(snap.IdempotencyKeys)

	if err := c.checkAllInvariants(); err != nil {
		return fmt.Errorf("snapshot at sequence %d fails invariants: %w", snap.Sequence, err)
	}
	return nil
}
