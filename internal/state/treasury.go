package state

import (
	fpmath "SaleLedger/internal/math"
	"fmt"
	"time"

	"github.com/holiman/uint256"
)

// Treasury tracks how much of the fixed allocation has been committed.
// Not thread-safe; owned by the core.
type Treasury struct {
	total     uint256.Int
	committed uint256.Int
	saleEnd   time.Time
}

func NewTreasury(total *uint256.Int, saleEnd time.Time) *Treasury {
	t := &Treasury{saleEnd: saleEnd}
	t.total.Set(total)
	return t
}

// CheckReserve reports whether Reserve(amount) would succeed, without committing
func (t *Treasury) CheckReserve(amount *uint256.Int) error {
	if amount.IsZero() {
		return ErrInvalidAmount
	}
	if amount.Gt(t.Available()) {
		return fmt.Errorf("%w: requested %s, available %s", ErrCapacityExceeded, amount.Dec(), t.Available().Dec())
	}
	return nil
}

// Reserve commits amount against the allocation
func (t *Treasury) Reserve(amount *uint256.Int) error {
	if err := t.CheckReserve(amount); err != nil {
		return err
	}
	t.committed.Set(fpmath.MustAdd(&t.committed, amount))
	return nil
}

func (t *Treasury) Available() *uint256.Int {
	return fpmath.MustSub(&t.total, &t.committed)
}

func (t *Treasury) Committed() *uint256.Int {
	return t.committed.Clone()
}

func (t *Treasury) Total() *uint256.Int {
	return t.total.Clone()
}

// CheckSweep reports whether SweepUnsold(now) would succeed
func (t *Treasury) CheckSweep(now time.Time) error {
	if !now.After(t.saleEnd) {
		return ErrSaleNotEnded
	}
	return nil
}

// SweepUnsold closes the allocation once the sale is over and returns what was left
func (t *Treasury) SweepUnsold(now time.Time) (*uint256.Int, error) {
	if err := t.CheckSweep(now); err != nil {
		return nil, err
	}
	remaining := t.Available()
	t.committed.Set(&t.total)
	return remaining, nil
}

// Restore overwrites the committed amount. Used by snapshot restore only.
func (t *Treasury) Restore(committed *uint256.Int) {
	if committed.Gt(&t.total) {
		panic(fmt.Sprintf("FATAL: restored committed %s exceeds allocation %s", committed.Dec(), t.total.Dec()))
	}
	t.committed.Set(committed)
}
