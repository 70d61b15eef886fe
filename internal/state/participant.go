package state

import (
	"SaleLedger/internal/event"
	fpmath "SaleLedger/internal/math"
	"fmt"
	"time"

	"github.com/holiman/uint256"
)

// ParticipantRecord is the per-identity vesting state.
// TotalAllocated == LiquidBalance + PendingForClaim at all times.
type ParticipantRecord struct {
	Identity          event.Identity
	TotalAllocated    uint256.Int
	LiquidBalance     uint256.Int
	PendingForClaim   uint256.Int
	VestStart         time.Time
	LastClaimAt       time.Time // zero until the first claim of a cycle
	NumUnlocks        uint32
	LockedAtVestStart uint256.Int
}

func NewParticipantRecord(id event.Identity) *ParticipantRecord {
	return &ParticipantRecord{Identity: id}
}

// Grant merges a purchase or issuance and starts a new vesting cycle.
// Anything still pending is folded into the new cycle's base.
func (r *ParticipantRecord) Grant(immediate, locked *uint256.Int, now time.Time) {
	r.TotalAllocated.Set(fpmath.MustAdd(&r.TotalAllocated, fpmath.MustAdd(immediate, locked)))
	r.LiquidBalance.Set(fpmath.MustAdd(&r.LiquidBalance, immediate))
	r.PendingForClaim.Set(fpmath.MustAdd(&r.PendingForClaim, locked))

	r.LockedAtVestStart.Set(&r.PendingForClaim)
	r.NumUnlocks = 0
	r.VestStart = now
	r.LastClaimAt = time.Time{}
}

// Settle records one claim of amount at now
func (r *ParticipantRecord) Settle(amount *uint256.Int, now time.Time) {
	r.PendingForClaim.Set(fpmath.MustSub(&r.PendingForClaim, amount))
	r.LiquidBalance.Set(fpmath.MustAdd(&r.LiquidBalance, amount))
	r.NumUnlocks++
	r.LastClaimAt = now
}

// CheckBalance verifies the allocation invariant
func (r *ParticipantRecord) CheckBalance() error {
	sum := fpmath.MustAdd(&r.LiquidBalance, &r.PendingForClaim)
	if !sum.Eq(&r.TotalAllocated) {
		return fmt.Errorf("record %s: liquid %s + pending %s != allocated %s",
			r.Identity, r.LiquidBalance.Dec(), r.PendingForClaim.Dec(), r.TotalAllocated.Dec())
	}
	return nil
}

// Clone returns a deep copy. uint256.Int is an array so value copy is enough.
func (r *ParticipantRecord) Clone() ParticipantRecord {
	return *r
}
