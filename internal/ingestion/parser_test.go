package ingestion_test

import (
	"SaleLedger/internal/event"
	"SaleLedger/internal/ingestion"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

const reqID = "550e8400-e29b-41d4-a716-446655440000"

func rawFromJSON(t *testing.T, subject string, v interface{}) ingestion.RawEvent {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return ingestion.RawEvent{
		Subject:   subject,
		Data:      data,
		Timestamp: time.Now(),
		AckFunc:   func() {},
		NakFunc:   func() {},
	}
}

func TestParsePurchase(t *testing.T) {
	raw := rawFromJSON(t, "sale.commands.purchase", map[string]string{
		"request_id": reqID,
		"buyer":      "0xAlice",
		"units":      "10000000000000000000000",
	})

	cmd, err := ingestion.ParseRawEvent(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if cmd.Kind != ingestion.KindPurchase {
		t.Errorf("kind: got %s", cmd.Kind)
	}
	if cmd.Caller != "0xalice" {
		t.Errorf("caller should be case-folded: got %s", cmd.Caller)
	}
	if cmd.Amount.Dec() != "10000000000000000000000" {
		t.Errorf("units: got %s", cmd.Amount.Dec())
	}
	if cmd.RequestID.String() != reqID {
		t.Errorf("request id: got %s", cmd.RequestID)
	}
}

func TestParse_HeaderIdentityFillsCaller(t *testing.T) {
	raw := rawFromJSON(t, "sale.commands.claim", map[string]string{"request_id": reqID})
	raw.Identity = "0xbob"

	cmd, err := ingestion.ParseRawEvent(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if cmd.Caller != "0xbob" {
		t.Errorf("caller: got %s", cmd.Caller)
	}
}

func TestParse_HeaderIdentityMismatch(t *testing.T) {
	raw := rawFromJSON(t, "sale.commands.claim", map[string]string{
		"request_id": reqID,
		"claimant":   "0xalice",
	})
	raw.Identity = "0xbob"

	if _, err := ingestion.ParseRawEvent(raw); !errors.Is(err, ingestion.ErrInvalidCommand) {
		t.Fatalf("expected ErrInvalidCommand, got %v", err)
	}
}

func TestParseIssue(t *testing.T) {
	raw := rawFromJSON(t, "sale.commands.issue", map[string]string{
		"request_id":  reqID,
		"admin":       "0xadmin",
		"beneficiary": "0xcarol",
		"units":       "5",
	})

	cmd, err := ingestion.ParseRawEvent(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if cmd.Target != "0xcarol" {
		t.Errorf("beneficiary: got %s", cmd.Target)
	}

	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	issue, ok := cmd.Event(now).(*event.IssueRequested)
	if !ok {
		t.Fatalf("expected *event.IssueRequested")
	}
	if issue.Admin != "0xadmin" || issue.Beneficiary != "0xcarol" || !issue.Timestamp.Equal(now) {
		t.Errorf("unexpected event: %+v", issue)
	}
}

func TestParseDeposit(t *testing.T) {
	raw := rawFromJSON(t, "sale.commands.deposit", map[string]string{
		"deposit_id": reqID,
		"account":    "0xalice",
		"amount":     "100000000",
	})

	cmd, err := ingestion.ParseRawEvent(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	dep, ok := cmd.Event(time.Now()).(*event.PaymentDeposited)
	if !ok {
		t.Fatalf("expected *event.PaymentDeposited")
	}
	if dep.DepositID.String() != reqID || dep.Amount.Uint64() != 100_000_000 {
		t.Errorf("unexpected deposit: %+v", dep)
	}
}

func TestParseSweeps(t *testing.T) {
	for _, subject := range []string{"sale.commands.sweep_unsold", "sale.commands.sweep_raised"} {
		raw := rawFromJSON(t, subject, map[string]string{
			"request_id": reqID,
			"admin":      "0xadmin",
			"to":         "0xtreasury",
		})
		cmd, err := ingestion.ParseRawEvent(raw)
		if err != nil {
			t.Fatalf("%s: parse failed: %v", subject, err)
		}
		if cmd.Target != "0xtreasury" {
			t.Errorf("%s: to: got %s", subject, cmd.Target)
		}
	}
}

func TestParse_Rejects(t *testing.T) {
	cases := []struct {
		name    string
		subject string
		body    map[string]string
	}{
		{"unknown subject", "sale.commands.refund", map[string]string{"request_id": reqID}},
		{"foreign prefix", "perp.trades.purchase", map[string]string{"request_id": reqID}},
		{"bad request id", "sale.commands.claim", map[string]string{"request_id": "nope", "claimant": "0xa"}},
		{"missing caller", "sale.commands.claim", map[string]string{"request_id": reqID}},
		{"zero units", "sale.commands.purchase", map[string]string{"request_id": reqID, "buyer": "0xa", "units": "0"}},
		{"negative units", "sale.commands.purchase", map[string]string{"request_id": reqID, "buyer": "0xa", "units": "-1"}},
		{"fractional units", "sale.commands.purchase", map[string]string{"request_id": reqID, "buyer": "0xa", "units": "1.5"}},
		{"missing beneficiary", "sale.commands.issue", map[string]string{"request_id": reqID, "admin": "0xa", "units": "1"}},
		{"reserved char", "sale.commands.claim", map[string]string{"request_id": reqID, "claimant": "user:x"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ingestion.ParseRawEvent(rawFromJSON(t, tc.subject, tc.body))
			if !errors.Is(err, ingestion.ErrInvalidCommand) {
				t.Fatalf("expected ErrInvalidCommand, got %v", err)
			}
		})
	}
}

func TestParse_MalformedJSON(t *testing.T) {
	raw := ingestion.RawEvent{Subject: "sale.commands.purchase", Data: []byte("{")}
	if _, err := ingestion.ParseRawEvent(raw); err == nil {
		t.Fatal("expected error for malformed JSON")
	}
}

func TestDefaultSubjects(t *testing.T) {
	subjects := ingestion.DefaultSubjects()
	if len(subjects) != 6 {
		t.Fatalf("expected 6 subjects, got %d", len(subjects))
	}
	for _, s := range subjects {
		kind, err := ingestion.KindFromSubject(s.Subject)
		if err != nil {
			t.Errorf("%s: %v", s.Subject, err)
		}
		if kind != s.Kind {
			t.Errorf("%s: kind %s != %s", s.Subject, kind, s.Kind)
		}
		if s.StreamName != ingestion.CommandStream {
			t.Errorf("%s: stream %s", s.Subject, s.StreamName)
		}
	}
}
