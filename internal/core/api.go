package core

import (
	"SaleLedger/internal/event"
	"SaleLedger/internal/ledger"
	"SaleLedger/internal/state"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// The methods below are the direct operation surface. Each one wraps its
// arguments in an event with a fresh request id and runs it through Submit,
// so the outcome is hashed, logged and emitted like any streamed event.

// Deposit credits amount of the payment asset to account's wallet
func (c *SaleCore) Deposit(account event.Identity, amount *uint256.Int, now time.Time) error {
	_, err := c.Submit(&event.PaymentDeposited{
		DepositID: uuid.New(),
		Account:   account,
		Amount:    amount,
		Timestamp: now,
	})
	return err
}

// Purchase buys units for buyer at now
func (c *SaleCore) Purchase(buyer event.Identity, units *uint256.Int, now time.Time) (*Grant, error) {
	out, err := c.Submit(&event.PurchaseRequested{
		RequestID: uuid.New(),
		Buyer:     buyer,
		Units:     units,
		Timestamp: now,
	})
	if err != nil {
		return nil, err
	}
	return out.Grant, nil
}

// Issue grants units to beneficiary without payment. caller must be an admin.
func (c *SaleCore) Issue(caller, beneficiary event.Identity, units *uint256.Int, now time.Time) (*Grant, error) {
	out, err := c.Submit(&event.IssueRequested{
		RequestID:   uuid.New(),
		Admin:       caller,
		Beneficiary: beneficiary,
		Units:       units,
		Timestamp:   now,
	})
	if err != nil {
		return nil, err
	}
	return out.Grant, nil
}

// Claim releases the next vesting tranche to id
func (c *SaleCore) Claim(id event.Identity, now time.Time) (*ClaimResult, error) {
	out, err := c.Submit(&event.ClaimRequested{
		RequestID: uuid.New(),
		Claimant:  id,
		Timestamp: now,
	})
	if err != nil {
		return nil, err
	}
	return out.Claim, nil
}

// SweepUnsold mints the unsold allocation to to once the sale has ended
func (c *SaleCore) SweepUnsold(caller, to event.Identity, now time.Time) (*uint256.Int, error) {
	out, err := c.Submit(&event.UnsoldSweepRequested{
		RequestID: uuid.New(),
		Admin:     caller,
		To:        to,
		Timestamp: now,
	})
	if err != nil {
		return nil, err
	}
	return out.Swept, nil
}

// SweepRaised withdraws all collected payment to to
func (c *SaleCore) SweepRaised(caller, to event.Identity, now time.Time) (*uint256.Int, error) {
	out, err := c.Submit(&event.RaisedSweepRequested{
		RequestID: uuid.New(),
		Admin:     caller,
		To:        to,
		Timestamp: now,
	})
	if err != nil {
		return nil, err
	}
	return out.Swept, nil
}

// --- Queries ---

// RecordOf returns a copy of id's record
func (c *SaleCore) RecordOf(id event.Identity) (state.ParticipantRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.records.Get(id)
	if !ok {
		return state.ParticipantRecord{}, false
	}
	return r.Clone(), true
}

// Records returns copies of every record sorted by identity
func (c *SaleCore) Records() []state.ParticipantRecord {
	c.mu.Lock()
	defer c.mu.Unlock()

	all := c.records.All()
	out := make([]state.ParticipantRecord, 0, len(all))
	for _, r := range all {
		out = append(out, r.Clone())
	}
	return out
}

// NextClaimAt returns when id's next claim clears the time gate
func (c *SaleCore) NextClaimAt(id event.Identity) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.records.Get(id)
	if !ok || r.PendingForClaim.IsZero() || r.NumUnlocks >= c.schedule.MaxClaims {
		return time.Time{}, false
	}
	return c.schedule.NextClaimAt(r), true
}

func (c *SaleCore) AvailableTreasury() *uint256.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.treasury.Available()
}

func (c *SaleCore) Treasury() TreasuryState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.treasuryState()
}

// BalanceOf returns id's wallet balance in asset
func (c *SaleCore) BalanceOf(asset ledger.AssetID, id event.Identity) *uint256.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balanceTracker.GetWalletBalance(id, asset)
}

// RaisedBalance returns the payment asset collected and not yet swept
func (c *SaleCore) RaisedBalance() *uint256.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balanceTracker.GetBalance(ledger.RaisedAccount())
}

// Config returns a copy; changing it does not affect the core
func (c *SaleCore) Config() SaleConfig {
	return c.cfg.Clone()
}

// IsAdmin exposes the injected admin check to transports
func (c *SaleCore) IsAdmin(id event.Identity) bool {
	return c.isAdmin(id)
}

// GetSequence returns the next global sequence the core will assign.
func (c *SaleCore) GetSequence() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sequence
}

// LastTimestamp is the timestamp of the last applied event, zero if none.
func (c *SaleCore) LastTimestamp() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ordering.Last()
}

// GetStateHash returns the current state hash (chain tip).
func (c *SaleCore) GetStateHash() [32]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasher.GetPrevHash()
}

// WarmLRU loads recent idempotency keys into the LRU cache.
func (c *SaleCore) WarmLRU(keys []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.idempotency.Warm(keys)
}
