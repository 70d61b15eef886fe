package event

import (
	"time"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypePaymentDeposited
	EventTypePurchaseRequested
	EventTypeIssueRequested
	EventTypeClaimRequested
	EventTypeUnsoldSweepRequested
	EventTypeRaisedSweepRequested
)

// EventEnvelope wraps every event in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	EventType EventType

	// Identity that submitted the operation
	Caller Identity

	// Versioned input timestamp (NOT wall-clock)
	Timestamp time.Time

	// JSON-encoded event-specific data (see codec.go)
	Payload []byte

	// SHA-256 of state AFTER applying this event
	StateHash [32]byte

	// Previous event's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all event payloads must implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	EventType() EventType

	// Caller returns the identity the operation is attributed to
	Caller() Identity

	// OccurredAt is the "now" the operation is evaluated at
	OccurredAt() time.Time
}

func (et EventType) String() string {
	switch et {
	case EventTypePaymentDeposited:
		return "PaymentDeposited"
	case EventTypePurchaseRequested:
		return "PurchaseRequested"
	case EventTypeIssueRequested:
		return "IssueRequested"
	case EventTypeClaimRequested:
		return "ClaimRequested"
	case EventTypeUnsoldSweepRequested:
		return "UnsoldSweepRequested"
	case EventTypeRaisedSweepRequested:
		return "RaisedSweepRequested"
	default:
		return "Unknown"
	}
}

// ParseEventType is the inverse of String
func ParseEventType(s string) EventType {
	for et := EventTypePaymentDeposited; et <= EventTypeRaisedSweepRequested; et++ {
		if et.String() == s {
			return et
		}
	}
	return EventTypeUnknown
}
