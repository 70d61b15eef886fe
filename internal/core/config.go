package core

import (
	"SaleLedger/internal/ledger"
	fpmath "SaleLedger/internal/math"
	"SaleLedger/internal/state"
	"fmt"
	"time"

	"github.com/holiman/uint256"
)

// SaleConfig is immutable once the core is built. Amounts are base units of
// the asset they refer to.
type SaleConfig struct {
	PaymentAsset fpmath.DecimalConfig
	SaleAsset    fpmath.DecimalConfig

	// Price is payment base units per sale base unit
	Price fpmath.Ratio

	MinPurchase     *uint256.Int
	TotalAllocation *uint256.Int

	// ImmediateRelease is the share of a grant delivered liquid (0 < f < 1)
	ImmediateRelease fpmath.Ratio

	// ClaimFraction is the nominal per-claim share of the gross grant
	ClaimFraction fpmath.Ratio

	CliffDuration  time.Duration
	PeriodDuration time.Duration
	MaxClaims      uint32

	SaleStart time.Time
	SaleEnd   time.Time
}

// DefaultSaleConfig returns the reference sale: 60M tokens at 1 USDT per 100
// tokens, 5% at purchase and twelve claims of 7.9% after a 60-day cliff.
func DefaultSaleConfig(saleStart time.Time) SaleConfig {
	pay := fpmath.PaymentAssetConfig
	sale := fpmath.SaleAssetConfig
	return SaleConfig{
		PaymentAsset:     pay,
		SaleAsset:        sale,
		Price:            fpmath.NewRatio(1, 100),
		MinPurchase:      sale.Units(1333),
		TotalAllocation:  sale.Units(60_000_000),
		ImmediateRelease: fpmath.NewRatio(5, 100),
		ClaimFraction:    fpmath.NewRatio(79, 1000),
		CliffDuration:    60 * 24 * time.Hour,
		PeriodDuration:   30 * 24 * time.Hour,
		MaxClaims:        12,
		SaleStart:        saleStart,
		SaleEnd:          saleStart.Add(49 * 24 * time.Hour),
	}
}

// Validate rejects configs that would make the sale state machine inconsistent
func (c SaleConfig) Validate() error {
	if c.PaymentAsset.Decimals > fpmath.MaxDecimals || c.SaleAsset.Decimals > fpmath.MaxDecimals {
		return fmt.Errorf("%w: decimals above %d", ErrInvalidConfig, fpmath.MaxDecimals)
	}
	if !c.Price.Valid() || c.Price.Num == 0 {
		return fmt.Errorf("%w: price %s must be positive", ErrInvalidConfig, c.Price)
	}
	if c.TotalAllocation == nil || c.TotalAllocation.IsZero() {
		return fmt.Errorf("%w: total allocation must be positive", ErrInvalidConfig)
	}
	if c.MinPurchase == nil {
		return fmt.Errorf("%w: min purchase unset", ErrInvalidConfig)
	}
	if c.MinPurchase.Gt(c.TotalAllocation) {
		return fmt.Errorf("%w: min purchase exceeds allocation", ErrInvalidConfig)
	}
	if !c.ImmediateRelease.IsProperFraction() {
		return fmt.Errorf("%w: immediate release %s must be in (0,1)", ErrInvalidConfig, c.ImmediateRelease)
	}
	if !c.ClaimFraction.IsProperFraction() {
		return fmt.Errorf("%w: claim fraction %s must be in (0,1)", ErrInvalidConfig, c.ClaimFraction)
	}
	if c.MaxClaims == 0 {
		return fmt.Errorf("%w: max claims must be positive", ErrInvalidConfig)
	}
	if c.CliffDuration < 0 || c.PeriodDuration <= 0 {
		return fmt.Errorf("%w: cliff must be >= 0 and period > 0", ErrInvalidConfig)
	}
	if !c.SaleStart.Before(c.SaleEnd) {
		return fmt.Errorf("%w: sale start %s not before end %s", ErrInvalidConfig, c.SaleStart, c.SaleEnd)
	}

	// The nominal claims before the last must fit in the locked share:
	// (MaxClaims-1) * claim <= 1 - immediate
	locked := c.ImmediateRelease.Complement()
	lhs := fpmath.MustMul(
		uint256.NewInt(uint64(c.MaxClaims-1)),
		fpmath.MustMul(uint256.NewInt(c.ClaimFraction.Num), uint256.NewInt(locked.Den)),
	)
	rhs := fpmath.MustMul(uint256.NewInt(c.ClaimFraction.Den), uint256.NewInt(locked.Num))
	if lhs.Gt(rhs) {
		return fmt.Errorf("%w: %d claims of %s exceed the locked share %s",
			ErrInvalidConfig, c.MaxClaims-1, c.ClaimFraction, locked)
	}

	return nil
}

// Clone returns a copy that shares no amounts with c
func (c SaleConfig) Clone() SaleConfig {
	out := c
	if c.MinPurchase != nil {
		out.MinPurchase = c.MinPurchase.Clone()
	}
	if c.TotalAllocation != nil {
		out.TotalAllocation = c.TotalAllocation.Clone()
	}
	return out
}

// Schedule derives the vesting schedule
func (c SaleConfig) Schedule() state.Schedule {
	return state.Schedule{
		Cliff:          c.CliffDuration,
		Period:         c.PeriodDuration,
		MaxClaims:      c.MaxClaims,
		ClaimFraction:  c.ClaimFraction,
		LockedFraction: c.ImmediateRelease.Complement(),
	}
}

// InWindow reports whether purchases are open at now (both ends inclusive)
func (c SaleConfig) InWindow(now time.Time) bool {
	return !now.Before(c.SaleStart) && !now.After(c.SaleEnd)
}

// Split divides a grant into its liquid and locked parts
func (c SaleConfig) Split(units *uint256.Int) (immediate, locked *uint256.Int) {
	immediate = c.ImmediateRelease.MulFloor(units)
	locked = fpmath.MustSub(units, immediate)
	return immediate, locked
}

// PaymentFor prices units in payment base units, rounding in the sale's favour
func (c SaleConfig) PaymentFor(units *uint256.Int) *uint256.Int {
	return c.Price.MulCeil(units)
}

func (c SaleConfig) assetConfig(id ledger.AssetID) fpmath.DecimalConfig {
	if id == ledger.AssetPayment {
		return c.PaymentAsset
	}
	return c.SaleAsset
}
