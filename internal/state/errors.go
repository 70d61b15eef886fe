package state

import "errors"

var (
	ErrOutsideSaleWindow = errors.New("outside sale window")
	ErrBelowMinimum      = errors.New("below minimum purchase")
	ErrCapacityExceeded  = errors.New("treasury capacity exceeded")
	ErrNothingToClaim    = errors.New("nothing to claim")
	ErrFullyClaimed      = errors.New("all claims of this cycle already taken")
	ErrStillLocked       = errors.New("vesting still locked")
	ErrSaleNotEnded      = errors.New("sale has not ended")
	ErrInvalidAmount     = errors.New("amount must be positive")
)
