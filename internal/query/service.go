package query

import (
	"SaleLedger/internal/ledger"
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("not found")

const maxHistoryLimit = 500

// QueryService provides read-only access to projection tables. All
// responses carry as_of_sequence, the projection watermark at read time.
type QueryService struct {
	pool *pgxpool.Pool
}

func NewQueryService(pool *pgxpool.Pool) *QueryService {
	return &QueryService{pool: pool}
}

// GetRecord returns the projected participant record for identity.
func (qs *QueryService) GetRecord(ctx context.Context, identity string) (*RecordResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	r := RecordResponse{Identity: identity, AsOfSequence: asOfSeq}
	var numUnlocks int32
	err = qs.pool.QueryRow(ctx, `
		SELECT total_allocated::text, liquid_balance::text, pending_for_claim::text,
		       locked_at_vest_start::text, vest_start, last_claim_at, num_unlocks, last_sequence
		FROM projections.participants
		WHERE identity = $1
	`, identity).Scan(
		&r.TotalAllocated, &r.LiquidBalance, &r.PendingForClaim,
		&r.LockedAtVestStart, &r.VestStart, &r.LastClaimAt, &numUnlocks, &r.LastSequence,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	r.NumUnlocks = uint32(numUnlocks)
	r.VestStart = r.VestStart.UTC()
	if r.LastClaimAt != nil {
		t := r.LastClaimAt.UTC()
		r.LastClaimAt = &t
	}
	return &r, nil
}

// GetTreasury returns the projected sale totals.
func (qs *QueryService) GetTreasury(ctx context.Context) (*TreasuryResponse, error) {
	var t TreasuryResponse
	err := qs.pool.QueryRow(ctx, `
		SELECT total::text, committed::text, available::text, raised::text, last_sequence
		FROM projections.treasury
		WHERE id = 1
	`).Scan(&t.Total, &t.Committed, &t.Available, &t.Raised, &t.AsOfSequence)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get treasury: %w", err)
	}
	return &t, nil
}

// GetClaimHistory returns identity's claims, newest first. beforeSequence
// is the pagination cursor (exclusive).
func (qs *QueryService) GetClaimHistory(
	ctx context.Context,
	identity string,
	limit int,
	beforeSequence *int64,
) ([]ClaimHistoryEntry, error) {
	if limit <= 0 || limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	query := `
		SELECT sequence, identity, amount::text, claim_number, final, remaining::text, claimed_at
		FROM projections.claim_history
		WHERE identity = $1
	`
	args := []any{identity}
	argIdx := 2

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("claim history: %w", err)
	}
	defer rows.Close()

	var history []ClaimHistoryEntry
	for rows.Next() {
		var h ClaimHistoryEntry
		var claimNumber int32
		if err := rows.Scan(
			&h.Sequence, &h.Identity, &h.Amount, &claimNumber, &h.Final, &h.Remaining, &h.ClaimedAt,
		); err != nil {
			return nil, fmt.Errorf("scan claim row: %w", err)
		}
		h.ClaimNumber = uint32(claimNumber)
		h.ClaimedAt = h.ClaimedAt.UTC()
		history = append(history, h)
	}
	return history, rows.Err()
}

// GetJournalHistory returns journal entries touching identity's wallets.
func (qs *QueryService) GetJournalHistory(
	ctx context.Context,
	identity string,
	limit int,
	beforeSequence *int64,
) ([]JournalHistoryEntry, error) {
	if limit <= 0 || limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	accountPrefix := fmt.Sprintf("user:%s:%%", identity)

	query := `
		SELECT journal_id::text, batch_id::text, event_ref, sequence,
		       debit_account, credit_account, asset_id, amount::text, journal_type, timestamp
		FROM event_log.journal
		WHERE (debit_account LIKE $1 OR credit_account LIKE $1)
	`
	args := []any{accountPrefix}
	argIdx := 2

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("journal history: %w", err)
	}
	defer rows.Close()

	var entries []JournalHistoryEntry
	for rows.Next() {
		var e JournalHistoryEntry
		var assetID, journalType int16
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &assetID, &e.Amount,
			&journalType, &e.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("scan journal row: %w", err)
		}
		e.AssetID = uint16(assetID)
		e.JournalType = int32(journalType)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks hash chain continuity in the event log and that the
// journal's escrow balance equals the projected pending total.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	rows, err := qs.pool.Query(ctx, `
		SELECT e1.sequence
		FROM event_log.events e1
		JOIN event_log.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.prev_hash <> e2.state_hash
		ORDER BY e1.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, fmt.Errorf("hash chain: %w", err)
	}
	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			rows.Close()
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	escrow := ledger.EscrowAccount().AccountPath()
	if err := qs.pool.QueryRow(ctx, `
		SELECT (COALESCE(SUM(amount) FILTER (WHERE debit_account = $1), 0)
		      - COALESCE(SUM(amount) FILTER (WHERE credit_account = $1), 0))::text
		FROM event_log.journal
	`, escrow).Scan(&report.EscrowJournal); err != nil {
		return nil, fmt.Errorf("escrow journal: %w", err)
	}
	if err := qs.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(pending_for_claim), 0)::text FROM projections.participants
	`).Scan(&report.EscrowProjected); err != nil {
		return nil, fmt.Errorf("escrow projected: %w", err)
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && report.EscrowJournal == report.EscrowProjected
	return report, nil
}

// Ping reports whether the read model is reachable
func (qs *QueryService) Ping(ctx context.Context) error {
	return qs.pool.Ping(ctx)
}

// --- helpers ---

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.pool.QueryRow(ctx, `
		SELECT last_sequence FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if errors.Is(err, pgx.ErrNoRows) {
		return -1, nil
	}
	return seq, err
}
