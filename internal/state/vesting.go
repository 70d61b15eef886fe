package state

import (
	fpmath "SaleLedger/internal/math"
	"time"

	"github.com/holiman/uint256"
)

// Schedule is the cliff/period/claim-count shape shared by every cycle.
//
// ClaimFraction is quoted against the gross grant (7.9% of a 10,000 purchase
// is 790) while the cycle base is the locked part only, so the per-claim share
// of LockedAtVestStart is ClaimFraction / LockedFraction.
type Schedule struct {
	Cliff          time.Duration
	Period         time.Duration
	MaxClaims      uint32
	ClaimFraction  fpmath.Ratio
	LockedFraction fpmath.Ratio // 1 - immediate release
}

// Gate applies the claim preconditions in order. FullyClaimed is checked
// before the empty-pending case so a claim past the last one reports
// FullyClaimed even though the final claim left nothing pending.
func (s Schedule) Gate(r *ParticipantRecord, now time.Time) error {
	if r == nil {
		return ErrNothingToClaim
	}
	if r.NumUnlocks >= s.MaxClaims {
		return ErrFullyClaimed
	}
	if r.PendingForClaim.IsZero() {
		return ErrNothingToClaim
	}

	if r.NumUnlocks == 0 {
		if now.Sub(r.VestStart) < s.Cliff {
			return ErrStillLocked
		}
		return nil
	}
	if now.Sub(r.LastClaimAt) < s.Period {
		return ErrStillLocked
	}
	return nil
}

// UnlockAmount returns what the next claim pays. The last claim of the cycle
// takes everything still pending; earlier claims pay the nominal share, capped
// at pending.
func (s Schedule) UnlockAmount(r *ParticipantRecord) *uint256.Int {
	if r.NumUnlocks+1 >= s.MaxClaims {
		return r.PendingForClaim.Clone()
	}
	return fpmath.Min(s.NominalShare(&r.LockedAtVestStart), &r.PendingForClaim)
}

// NominalShare is floor(base * ClaimFraction / LockedFraction)
func (s Schedule) NominalShare(base *uint256.Int) *uint256.Int {
	num := fpmath.MustMul(uint256.NewInt(s.ClaimFraction.Num), uint256.NewInt(s.LockedFraction.Den))
	den := fpmath.MustMul(uint256.NewInt(s.ClaimFraction.Den), uint256.NewInt(s.LockedFraction.Num))
	return fpmath.MulDivFloor(base, num, den)
}

// NextClaimAt returns the earliest time the next claim clears the time gate
func (s Schedule) NextClaimAt(r *ParticipantRecord) time.Time {
	if r.NumUnlocks == 0 {
		return r.VestStart.Add(s.Cliff)
	}
	return r.LastClaimAt.Add(s.Period)
}
