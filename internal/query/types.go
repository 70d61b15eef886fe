package query

import "time"

// RecordResponse is a participant record as served by the read model.
// Amounts are decimal strings of base units.
type RecordResponse struct {
	Identity          string     `json:"identity"`
	TotalAllocated    string     `json:"total_allocated"`
	LiquidBalance     string     `json:"liquid_balance"`
	PendingForClaim   string     `json:"pending_for_claim"`
	LockedAtVestStart string     `json:"locked_at_vest_start"`
	VestStart         time.Time  `json:"vest_start"`
	LastClaimAt       *time.Time `json:"last_claim_at,omitempty"`
	NumUnlocks        uint32     `json:"num_unlocks"`
	LastSequence      int64      `json:"last_sequence"`
	AsOfSequence      int64      `json:"as_of_sequence"`
}

// TreasuryResponse holds the sale's aggregate figures.
type TreasuryResponse struct {
	Total        string `json:"total"`
	Committed    string `json:"committed"`
	Available    string `json:"available"`
	Raised       string `json:"raised"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

// ClaimHistoryEntry is one settled claim.
type ClaimHistoryEntry struct {
	Sequence    int64     `json:"sequence"`
	Identity    string    `json:"identity"`
	Amount      string    `json:"amount"`
	ClaimNumber uint32    `json:"claim_number"`
	Final       bool      `json:"final"`
	Remaining   string    `json:"remaining"`
	ClaimedAt   time.Time `json:"claimed_at"`
}

// JournalHistoryEntry represents a journal entry for API queries.
type JournalHistoryEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	EventRef      string `json:"event_ref"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	AssetID       uint16 `json:"asset_id"`
	Amount        string `json:"amount"`
	JournalType   int32  `json:"journal_type"`
	Timestamp     int64  `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy       bool    `json:"is_healthy"`
	HashChainBreaks []int64 `json:"hash_chain_breaks,omitempty"`
	// Escrow balance from the journal vs the projected sum of pending claims
	EscrowJournal   string `json:"escrow_journal"`
	EscrowProjected string `json:"escrow_projected"`
}
