package event

import (
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// PaymentDeposited funds a participant's payment-asset wallet from outside the sale
type PaymentDeposited struct {
	DepositID uuid.UUID
	Account   Identity
	Amount    *uint256.Int
	Timestamp time.Time
}

func (d *PaymentDeposited) IdempotencyKey() string { return d.DepositID.String() }
func (d *PaymentDeposited) EventType() EventType   { return EventTypePaymentDeposited }
func (d *PaymentDeposited) Caller() Identity       { return d.Account }
func (d *PaymentDeposited) OccurredAt() time.Time  { return d.Timestamp }

// PurchaseRequested exchanges payment for Units of the sale asset
type PurchaseRequested struct {
	RequestID uuid.UUID
	Buyer     Identity
	Units     *uint256.Int
	Timestamp time.Time
}

func (p *PurchaseRequested) IdempotencyKey() string { return p.RequestID.String() }
func (p *PurchaseRequested) EventType() EventType   { return EventTypePurchaseRequested }
func (p *PurchaseRequested) Caller() Identity       { return p.Buyer }
func (p *PurchaseRequested) OccurredAt() time.Time  { return p.Timestamp }

// IssueRequested grants an allocation without payment. Admin only.
type IssueRequested struct {
	RequestID   uuid.UUID
	Admin       Identity
	Beneficiary Identity
	Units       *uint256.Int
	Timestamp   time.Time
}

func (i *IssueRequested) IdempotencyKey() string { return i.RequestID.String() }
func (i *IssueRequested) EventType() EventType   { return EventTypeIssueRequested }
func (i *IssueRequested) Caller() Identity       { return i.Admin }
func (i *IssueRequested) OccurredAt() time.Time  { return i.Timestamp }

type ClaimRequested struct {
	RequestID uuid.UUID
	Claimant  Identity
	Timestamp time.Time
}

func (c *ClaimRequested) IdempotencyKey() string { return c.RequestID.String() }
func (c *ClaimRequested) EventType() EventType   { return EventTypeClaimRequested }
func (c *ClaimRequested) Caller() Identity       { return c.Claimant }
func (c *ClaimRequested) OccurredAt() time.Time  { return c.Timestamp }

// UnsoldSweepRequested mints whatever the treasury has left to To
type UnsoldSweepRequested struct {
	RequestID uuid.UUID
	Admin     Identity
	To        Identity
	Timestamp time.Time
}

func (s *UnsoldSweepRequested) IdempotencyKey() string { return s.RequestID.String() }
func (s *UnsoldSweepRequested) EventType() EventType   { return EventTypeUnsoldSweepRequested }
func (s *UnsoldSweepRequested) Caller() Identity       { return s.Admin }
func (s *UnsoldSweepRequested) OccurredAt() time.Time  { return s.Timestamp }

// RaisedSweepRequested withdraws the collected payment asset to To
type RaisedSweepRequested struct {
	RequestID uuid.UUID
	Admin     Identity
	To        Identity
	Timestamp time.Time
}

func (s *RaisedSweepRequested) IdempotencyKey() string { return s.RequestID.String() }
func (s *RaisedSweepRequested) EventType() EventType   { return EventTypeRaisedSweepRequested }
func (s *RaisedSweepRequested) Caller() Identity       { return s.Admin }
func (s *RaisedSweepRequested) OccurredAt() time.Time  { return s.Timestamp }
