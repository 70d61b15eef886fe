package ledger

import (
	"fmt"

	"github.com/holiman/uint256"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatchBalance verifies batch is well-formed
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateEscrowMatches verifies the vesting escrow holds exactly what the
// participant records say is still pending.
func (v *InvariantValidator) ValidateEscrowMatches(pending *uint256.Int) error {
	escrow := v.tracker.GetBalance(EscrowAccount())
	if !escrow.Eq(pending) {
		return fmt.Errorf("vesting escrow holds %s, records expect %s", escrow.Dec(), pending.Dec())
	}
	return nil
}

// ValidateSaleSupply verifies every unit the treasury committed was issued
// onto the ledger and nothing more
func (v *InvariantValidator) ValidateSaleSupply(committed *uint256.Int) error {
	issued := v.tracker.Inflow(AssetSale)
	if !issued.Eq(committed) {
		return fmt.Errorf("issued %s != treasury committed %s", issued.Dec(), committed.Dec())
	}
	return nil
}

// ValidateConservation verifies internal balances equal inflow - outflow per asset
func (v *InvariantValidator) ValidateConservation() error {
	totals := v.tracker.ComputeInternalTotals()

	for _, assetID := range []AssetID{AssetPayment, AssetSale} {
		got, ok := totals[assetID]
		if !ok {
			got = new(uint256.Int)
		}
		want := v.tracker.Circulating(assetID)
		if !got.Eq(want) {
			assetName, _ := GetAssetName(assetID)
			return fmt.Errorf("%s internal total %s != circulating %s", assetName, got.Dec(), want.Dec())
		}
	}

	return nil
}
