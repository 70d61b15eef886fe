package ledger

import (
	"SaleLedger/internal/event"
	fpmath "SaleLedger/internal/math"
	"fmt"

	"github.com/holiman/uint256"
)

// BalanceTracker maintains in-memory account balances.
// Internal accounts are unsigned and can never go negative. External accounts
// are unbounded boundaries: value crossing them is tally-counted per asset so
// conservation can be checked.
type BalanceTracker struct {
	balances map[AccountKey]uint256.Int
	inflow   map[AssetID]uint256.Int // credited from external accounts
	outflow  map[AssetID]uint256.Int // debited to external accounts
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]uint256.Int),
		inflow:   make(map[AssetID]uint256.Int),
		outflow:  make(map[AssetID]uint256.Int),
	}
}

// ApplyBatch applies all journals in a batch, or none of them.
// The batch is first replayed against the touched accounts only; a credit that
// would underflow an internal account fails with ErrInsufficientBalance.
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	scratch := make(map[AccountKey]uint256.Int)
	read := func(k AccountKey) uint256.Int {
		if v, ok := scratch[k]; ok {
			return v
		}
		return bt.balances[k]
	}

	for _, j := range batch.Journals {
		if !j.CreditAccount.IsExternal() {
			have := read(j.CreditAccount)
			if have.Lt(&j.Amount) {
				return fmt.Errorf("%w: %s has %s, needs %s",
					ErrInsufficientBalance, j.CreditAccount.AccountPath(), have.Dec(), j.Amount.Dec())
			}
			have.Sub(&have, &j.Amount)
			scratch[j.CreditAccount] = have
		}
		if !j.DebitAccount.IsExternal() {
			have := read(j.DebitAccount)
			scratch[j.DebitAccount] = *fpmath.MustAdd(&have, &j.Amount)
		}
	}

	for k, v := range scratch {
		bt.balances[k] = v
	}
	for _, j := range batch.Journals {
		if j.CreditAccount.IsExternal() {
			in := bt.inflow[j.AssetID]
			bt.inflow[j.AssetID] = *fpmath.MustAdd(&in, &j.Amount)
		}
		if j.DebitAccount.IsExternal() {
			out := bt.outflow[j.AssetID]
			bt.outflow[j.AssetID] = *fpmath.MustAdd(&out, &j.Amount)
		}
	}

	return nil
}

// GetBalance returns a copy of the current balance for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) *uint256.Int {
	v := bt.balances[key]
	return &v
}

// GetWalletBalance returns the holder's wallet balance in one asset
func (bt *BalanceTracker) GetWalletBalance(holder event.Identity, assetID AssetID) *uint256.Int {
	return bt.GetBalance(NewUserAccountKey(holder, assetID))
}

// Circulating returns inflow - outflow for an asset: the amount that should
// be sitting in internal accounts.
func (bt *BalanceTracker) Circulating(assetID AssetID) *uint256.Int {
	in := bt.inflow[assetID]
	out := bt.outflow[assetID]
	return fpmath.MustSub(&in, &out)
}

// Inflow returns the total ever brought onto the ledger for an asset
func (bt *BalanceTracker) Inflow(assetID AssetID) *uint256.Int {
	v := bt.inflow[assetID]
	return &v
}

// ComputeInternalTotals sums every internal account per asset
func (bt *BalanceTracker) ComputeInternalTotals() map[AssetID]*uint256.Int {
	totals := make(map[AssetID]*uint256.Int)

	for key, balance := range bt.balances {
		cur, ok := totals[key.AssetID]
		if !ok {
			cur = new(uint256.Int)
		}
		totals[key.AssetID] = fpmath.MustAdd(cur, &balance)
	}

	return totals
}

// Snapshot returns a copy of all internal balances
func (bt *BalanceTracker) Snapshot() map[AccountKey]uint256.Int {
	snapshot := make(map[AccountKey]uint256.Int, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = v
	}
	return snapshot
}

// BoundaryTotals returns copies of the per-asset inflow and outflow tallies
func (bt *BalanceTracker) BoundaryTotals() (inflow, outflow map[AssetID]uint256.Int) {
	inflow = make(map[AssetID]uint256.Int, len(bt.inflow))
	outflow = make(map[AssetID]uint256.Int, len(bt.outflow))
	for k, v := range bt.inflow {
		inflow[k] = v
	}
	for k, v := range bt.outflow {
		outflow[k] = v
	}
	return inflow, outflow
}

// SetBalance overwrites an internal balance. Used by snapshot restore only.
func (bt *BalanceTracker) SetBalance(key AccountKey, v uint256.Int) {
	if key.IsExternal() {
		panic(fmt.Sprintf("FATAL: SetBalance on boundary account %s", key.AccountPath()))
	}
	if v.IsZero() {
		delete(bt.balances, key)
		return
	}
	bt.balances[key] = v
}

// SetBoundaryTotals overwrites the inflow/outflow tallies. Used by snapshot restore only.
func (bt *BalanceTracker) SetBoundaryTotals(assetID AssetID, inflow, outflow uint256.Int) {
	bt.inflow[assetID] = inflow
	bt.outflow[assetID] = outflow
}
