package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// payloadJSON is the event-log encoding shared by every event type.
// Amounts are base-unit decimal strings; 256-bit values do not fit a JSON number.
type payloadJSON struct {
	RequestID   string `json:"request_id"`
	Caller      string `json:"caller"`
	Beneficiary string `json:"beneficiary,omitempty"`
	Amount      string `json:"amount,omitempty"`
	TimestampUs int64  `json:"timestamp_us"`
}

// EncodePayload serializes an event for the envelope payload column
func EncodePayload(evt Event) ([]byte, error) {
	p := payloadJSON{
		RequestID:   evt.IdempotencyKey(),
		Caller:      evt.Caller().String(),
		TimestampUs: evt.OccurredAt().UnixMicro(),
	}

	switch e := evt.(type) {
	case *PaymentDeposited:
		p.Amount = e.Amount.Dec()
	case *PurchaseRequested:
		p.Amount = e.Units.Dec()
	case *IssueRequested:
		p.Beneficiary = e.Beneficiary.String()
		p.Amount = e.Units.Dec()
	case *ClaimRequested:
	case *UnsoldSweepRequested:
		p.Beneficiary = e.To.String()
	case *RaisedSweepRequested:
		p.Beneficiary = e.To.String()
	default:
		return nil, fmt.Errorf("encode: unknown event type %T", evt)
	}

	return json.Marshal(p)
}

// DecodePayload rebuilds a typed event from the event log (replay)
func DecodePayload(et EventType, data []byte) (Event, error) {
	var p payloadJSON
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode %s: %w", et, err)
	}

	id, err := uuid.Parse(p.RequestID)
	if err != nil {
		return nil, fmt.Errorf("decode %s request_id: %w", et, err)
	}
	ts := time.UnixMicro(p.TimestampUs).UTC()
	caller := Identity(p.Caller)

	amount := func() (*uint256.Int, error) {
		v, err := uint256.FromDecimal(p.Amount)
		if err != nil {
			return nil, fmt.Errorf("decode %s amount: %w", et, err)
		}
		return v, nil
	}

	switch et {
	case EventTypePaymentDeposited:
		v, err := amount()
		if err != nil {
			return nil, err
		}
		return &PaymentDeposited{DepositID: id, Account: caller, Amount: v, Timestamp: ts}, nil
	case EventTypePurchaseRequested:
		v, err := amount()
		if err != nil {
			return nil, err
		}
		return &PurchaseRequested{RequestID: id, Buyer: caller, Units: v, Timestamp: ts}, nil
	case EventTypeIssueRequested:
		v, err := amount()
		if err != nil {
			return nil, err
		}
		return &IssueRequested{RequestID: id, Admin: caller, Beneficiary: Identity(p.Beneficiary), Units: v, Timestamp: ts}, nil
	case EventTypeClaimRequested:
		return &ClaimRequested{RequestID: id, Claimant: caller, Timestamp: ts}, nil
	case EventTypeUnsoldSweepRequested:
		return &UnsoldSweepRequested{RequestID: id, Admin: caller, To: Identity(p.Beneficiary), Timestamp: ts}, nil
	case EventTypeRaisedSweepRequested:
		return &RaisedSweepRequested{RequestID: id, Admin: caller, To: Identity(p.Beneficiary), Timestamp: ts}, nil
	default:
		return nil, fmt.Errorf("decode: unknown event type %d", et)
	}
}
