package core

import (
	"SaleLedger/internal/ledger"
	"SaleLedger/internal/state"
	"errors"
)

// Re-exported so callers only need to import core.
var (
	ErrOutsideSaleWindow   = state.ErrOutsideSaleWindow
	ErrBelowMinimum        = state.ErrBelowMinimum
	ErrCapacityExceeded    = state.ErrCapacityExceeded
	ErrNothingToClaim      = state.ErrNothingToClaim
	ErrFullyClaimed        = state.ErrFullyClaimed
	ErrStillLocked         = state.ErrStillLocked
	ErrSaleNotEnded        = state.ErrSaleNotEnded
	ErrInvalidAmount       = state.ErrInvalidAmount
	ErrInsufficientBalance = ledger.ErrInsufficientBalance
)

var (
	ErrUnauthorized = errors.New("caller is not an administrator")

	// ErrClockRegression rejects an event stamped before the last applied one
	ErrClockRegression = errors.New("event timestamp precedes last applied event")

	// ErrDuplicateEvent is returned by Submit for an already-applied idempotency key
	ErrDuplicateEvent = errors.New("duplicate event")

	ErrInvalidIdentity = errors.New("invalid identity")
	ErrInvalidConfig   = errors.New("invalid sale config")
)
