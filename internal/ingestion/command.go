package ingestion

import (
	"SaleLedger/internal/event"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// CommandKind is the last token of a sale.commands.* subject
type CommandKind string

const (
	KindPurchase    CommandKind = "purchase"
	KindIssue       CommandKind = "issue"
	KindClaim       CommandKind = "claim"
	KindDeposit     CommandKind = "deposit"
	KindSweepUnsold CommandKind = "sweep_unsold"
	KindSweepRaised CommandKind = "sweep_raised"
)

var ErrInvalidCommand = errors.New("invalid command")

// Command is a validated request that has not been stamped yet.
// The sequencer assigns the timestamp when it turns the command into an event.
type Command struct {
	Kind      CommandKind
	RequestID uuid.UUID
	Caller    event.Identity
	// Beneficiary for issuance, recipient for sweeps
	Target event.Identity
	Amount *uint256.Int
}

func (k CommandKind) Valid() bool {
	switch k {
	case KindPurchase, KindIssue, KindClaim, KindDeposit, KindSweepUnsold, KindSweepRaised:
		return true
	}
	return false
}

// needsAmount reports whether the kind carries an amount field.
func (k CommandKind) needsAmount() bool {
	return k == KindPurchase || k == KindIssue || k == KindDeposit
}

func (k CommandKind) needsTarget() bool {
	return k == KindIssue || k == KindSweepUnsold || k == KindSweepRaised
}

// Validate checks that every field the kind needs is present.
func (c Command) Validate() error {
	if !c.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidCommand, c.Kind)
	}
	if c.RequestID == uuid.Nil {
		return fmt.Errorf("%w: missing request_id", ErrInvalidCommand)
	}
	if c.Caller == "" {
		return fmt.Errorf("%w: missing caller", ErrInvalidCommand)
	}
	if c.Kind.needsTarget() && c.Target == "" {
		return fmt.Errorf("%w: %s needs a target identity", ErrInvalidCommand, c.Kind)
	}
	if c.Kind.needsAmount() && (c.Amount == nil || c.Amount.IsZero()) {
		return fmt.Errorf("%w: %s needs a positive amount", ErrInvalidCommand, c.Kind)
	}
	return nil
}

// Event stamps the command with now.
func (c Command) Event(now time.Time) event.Event {
	switch c.Kind {
	case KindPurchase:
		return &event.PurchaseRequested{RequestID: c.RequestID, Buyer: c.Caller, Units: c.Amount.Clone(), Timestamp: now}
	case KindIssue:
		return &event.IssueRequested{
			RequestID:   c.RequestID,
			Admin:       c.Caller,
			Beneficiary: c.Target,
			Units:       c.Amount.Clone(),
			Timestamp:   now,
		}
	case KindClaim:
		return &event.ClaimRequested{RequestID: c.RequestID, Claimant: c.Caller, Timestamp: now}
	case KindDeposit:
		return &event.PaymentDeposited{DepositID: c.RequestID, Account: c.Caller, Amount: c.Amount.Clone(), Timestamp: now}
	case KindSweepUnsold:
		return &event.UnsoldSweepRequested{RequestID: c.RequestID, Admin: c.Caller, To: c.Target, Timestamp: now}
	case KindSweepRaised:
		return &event.RaisedSweepRequested{RequestID: c.RequestID, Admin: c.Caller, To: c.Target, Timestamp: now}
	}
	panic(fmt.Sprintf("FATAL: unstamped command kind %q", c.Kind))
}
