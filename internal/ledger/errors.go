package ledger

import "errors"

// ErrInsufficientBalance is returned when a batch would take a non-boundary
// account below zero. The batch is not applied.
var ErrInsufficientBalance = errors.New("insufficient balance")
