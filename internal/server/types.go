package server

import (
	"SaleLedger/internal/query"
	"time"
)

// Amounts on the wire are decimal strings of base units.

type PurchaseRequest struct {
	RequestID string `json:"request_id"`
	Units     string `json:"units"`
}

type IssueRequest struct {
	RequestID   string `json:"request_id"`
	Beneficiary string `json:"beneficiary"`
	Units       string `json:"units"`
}

// GrantResponse answers both Purchase and Issue
type GrantResponse struct {
	Sequence    int64  `json:"sequence"`
	Beneficiary string `json:"beneficiary"`
	Units       string `json:"units"`
	Immediate   string `json:"immediate"`
	Locked      string `json:"locked"`
	Payment     string `json:"payment"`
}

type ClaimRequest struct {
	RequestID string `json:"request_id"`
}

type ClaimResponse struct {
	Sequence    int64      `json:"sequence"`
	Amount      string     `json:"amount"`
	ClaimNumber uint32     `json:"claim_number"`
	Final       bool       `json:"final"`
	Remaining   string     `json:"remaining"`
	NextClaimAt *time.Time `json:"next_claim_at,omitempty"`
}

type DepositRequest struct {
	DepositID string `json:"deposit_id"`
	Amount    string `json:"amount"`
}

type DepositResponse struct {
	Sequence int64  `json:"sequence"`
	Balance  string `json:"balance"`
}

// SweepRequest serves SweepUnsold and SweepRaised
type SweepRequest struct {
	RequestID string `json:"request_id"`
	To        string `json:"to"`
}

type SweepResponse struct {
	Sequence int64  `json:"sequence"`
	Amount   string `json:"amount"`
}

type GetRecordRequest struct {
	Identity string `json:"identity"`
}

// RecordResponse is read from live core state, not the projection.
type RecordResponse struct {
	Identity          string     `json:"identity"`
	TotalAllocated    string     `json:"total_allocated"`
	LiquidBalance     string     `json:"liquid_balance"`
	PendingForClaim   string     `json:"pending_for_claim"`
	LockedAtVestStart string     `json:"locked_at_vest_start"`
	VestStart         time.Time  `json:"vest_start"`
	LastClaimAt       *time.Time `json:"last_claim_at,omitempty"`
	NumUnlocks        uint32     `json:"num_unlocks"`
	NextClaimAt       *time.Time `json:"next_claim_at,omitempty"`
	PaymentBalance    string     `json:"payment_balance"`
	AsOfSequence      int64      `json:"as_of_sequence"`
}

type GetTreasuryRequest struct{}

type TreasuryResponse struct {
	Total        string    `json:"total"`
	Committed    string    `json:"committed"`
	Available    string    `json:"available"`
	Raised       string    `json:"raised"`
	SaleStart    time.Time `json:"sale_start"`
	SaleEnd      time.Time `json:"sale_end"`
	AsOfSequence int64     `json:"as_of_sequence"`
}

type ClaimHistoryResponse struct {
	Claims []query.ClaimHistoryEntry `json:"claims"`
}

type JournalHistoryResponse struct {
	Journals []query.JournalHistoryEntry `json:"journals"`
}

// HistoryRequest pages through claim or journal history, newest first.
type HistoryRequest struct {
	Identity       string `json:"identity"`
	Limit          int    `json:"limit"`
	BeforeSequence *int64 `json:"before_sequence,omitempty"`
}

type IntegrityRequest struct{}
