package projection

import (
	"SaleLedger/internal/core"
	"SaleLedger/internal/observability"
	"SaleLedger/internal/state"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// workerID names this worker's row in projections.watermark
const workerID = "main"

// ProjectionOutput is the slice of a core output the read model needs.
type ProjectionOutput struct {
	Sequence  int64
	EventType string
	Records   []RecordRow
	Treasury  TreasuryRow
	Claim     *ClaimRow
	Timestamp time.Time
}

// RecordRow is a participant record with amounts as decimal strings.
type RecordRow struct {
	Identity          string
	TotalAllocated    string
	LiquidBalance     string
	PendingForClaim   string
	LockedAtVestStart string
	VestStart         time.Time
	LastClaimAt       *time.Time
	NumUnlocks        uint32
}

type TreasuryRow struct {
	Total     string
	Committed string
	Available string
	Raised    string
}

type ClaimRow struct {
	Identity    string
	Amount      string
	ClaimNumber uint32
	Final       bool
	Remaining   string
}

// OutputFromCore converts an applied core output.
func OutputFromCore(out core.CoreOutput) ProjectionOutput {
	po := ProjectionOutput{
		Sequence:  out.Envelope.Sequence,
		EventType: out.Envelope.EventType.String(),
		Treasury: TreasuryRow{
			Total:     out.Treasury.Total.Dec(),
			Committed: out.Treasury.Committed.Dec(),
			Available: out.Treasury.Available.Dec(),
			Raised:    out.Treasury.Raised.Dec(),
		},
		Timestamp: out.Envelope.Timestamp,
	}
	for _, r := range out.Records {
		po.Records = append(po.Records, RecordRowFrom(r))
	}
	if c := out.Claim; c != nil {
		po.Claim = &ClaimRow{
			Identity:    c.Claimant.String(),
			Amount:      c.Amount.Dec(),
			ClaimNumber: c.ClaimNumber,
			Final:       c.Final,
			Remaining:   c.Remaining.Dec(),
		}
	}
	return po
}

func RecordRowFrom(r state.ParticipantRecord) RecordRow {
	row := RecordRow{
		Identity:          r.Identity.String(),
		TotalAllocated:    r.TotalAllocated.Dec(),
		LiquidBalance:     r.LiquidBalance.Dec(),
		PendingForClaim:   r.PendingForClaim.Dec(),
		LockedAtVestStart: r.LockedAtVestStart.Dec(),
		VestStart:         r.VestStart,
		NumUnlocks:        r.NumUnlocks,
	}
	if !r.LastClaimAt.IsZero() {
		t := r.LastClaimAt
		row.LastClaimAt = &t
	}
	return row
}

// ProjectionWorker updates projection tables from processed events.
// Its input channel is lossy: the core drops outputs when it is full, and
// Sync brings the tables back in line from core state.
type ProjectionWorker struct {
	pool      *pgxpool.Pool
	inputChan <-chan ProjectionOutput
	lastSeq   int64
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

func NewProjectionWorker(pool *pgxpool.Pool, inputChan <-chan ProjectionOutput, metrics *observability.Metrics) *ProjectionWorker {
	return &ProjectionWorker{
		pool:      pool,
		inputChan: inputChan,
		lastSeq:   -1,
		metrics:   metrics,
		logger:    observability.NewLogger("projection"),
	}
}

// Run starts the projection worker loop.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}
			if output.Sequence <= pw.lastSeq {
				continue
			}

			start := time.Now()
			if err := pw.Apply(ctx, output); err != nil {
				// Eventually consistent: the next Sync repairs it
				pw.logger.Warn().Err(err).Int64("sequence", output.Sequence).Msg("projection update failed")
				continue
			}
			if pw.metrics != nil {
				pw.metrics.ProjectionUpdateDur.WithLabelValues(output.EventType).Observe(time.Since(start).Seconds())
			}
			pw.lastSeq = output.Sequence
		}
	}
}

// Apply writes one output in a single transaction.
func (pw *ProjectionWorker) Apply(ctx context.Context, output ProjectionOutput) error {
	tx, err := pw.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, r := range output.Records {
		if err := upsertRecord(ctx, tx, r, output.Sequence); err != nil {
			return fmt.Errorf("participant %s: %w", r.Identity, err)
		}
	}
	if err := upsertTreasury(ctx, tx, output.Treasury, output.Sequence); err != nil {
		return fmt.Errorf("treasury: %w", err)
	}
	if c := output.Claim; c != nil {
		if _, err := tx.Exec(ctx, `
			INSERT INTO projections.claim_history
				(sequence, identity, amount, claim_number, final, remaining, claimed_at)
			VALUES ($1, $2, $3::text::numeric, $4, $5, $6::text::numeric, $7)
			ON CONFLICT (sequence) DO NOTHING
		`, output.Sequence, c.Identity, c.Amount, int32(c.ClaimNumber), c.Final, c.Remaining, output.Timestamp); err != nil {
			return fmt.Errorf("claim history: %w", err)
		}
	}
	if err := setWatermark(ctx, tx, output.Sequence); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// Sync overwrites every participant row and the treasury from core state at
// sequence. Claim history that was dropped is not recovered.
func (pw *ProjectionWorker) Sync(ctx context.Context, sequence int64, records []state.ParticipantRecord, treasury core.TreasuryState) error {
	tx, err := pw.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `TRUNCATE projections.participants`); err != nil {
		return fmt.Errorf("truncate participants: %w", err)
	}
	for _, r := range records {
		if err := upsertRecord(ctx, tx, RecordRowFrom(r), sequence); err != nil {
			return fmt.Errorf("participant %s: %w", r.Identity, err)
		}
	}
	if err := upsertTreasury(ctx, tx, TreasuryRow{
		Total:     treasury.Total.Dec(),
		Committed: treasury.Committed.Dec(),
		Available: treasury.Available.Dec(),
		Raised:    treasury.Raised.Dec(),
	}, sequence); err != nil {
		return fmt.Errorf("treasury: %w", err)
	}
	if err := setWatermark(ctx, tx, sequence); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}

	pw.lastSeq = sequence
	pw.logger.Info().Int64("sequence", sequence).Int("participants", len(records)).Msg("projection synced")
	return nil
}

// Watermark returns the last sequence the read model reflects, -1 if none.
func (pw *ProjectionWorker) Watermark(ctx context.Context) (int64, error) {
	var seq int64
	err := pw.pool.QueryRow(ctx, `
		SELECT last_sequence FROM projections.watermark WHERE worker_id = $1
	`, workerID).Scan(&seq)
	if errors.Is(err, pgx.ErrNoRows) {
		return -1, nil
	}
	return seq, err
}

func upsertRecord(ctx context.Context, tx pgx.Tx, r RecordRow, sequence int64) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO projections.participants
			(identity, total_allocated, liquid_balance, pending_for_claim, locked_at_vest_start,
			 vest_start, last_claim_at, num_unlocks, last_sequence, updated_at)
		VALUES ($1, $2::text::numeric, $3::text::numeric, $4::text::numeric, $5::text::numeric,
			$6, $7, $8, $9, NOW())
		ON CONFLICT (identity) DO UPDATE SET
			total_allocated      = EXCLUDED.total_allocated,
			liquid_balance       = EXCLUDED.liquid_balance,
			pending_for_claim    = EXCLUDED.pending_for_claim,
			locked_at_vest_start = EXCLUDED.locked_at_vest_start,
			vest_start           = EXCLUDED.vest_start,
			last_claim_at        = EXCLUDED.last_claim_at,
			num_unlocks          = EXCLUDED.num_unlocks,
			last_sequence        = EXCLUDED.last_sequence,
			updated_at           = NOW()
		WHERE projections.participants.last_sequence <= EXCLUDED.last_sequence
	`, r.Identity, r.TotalAllocated, r.LiquidBalance, r.PendingForClaim, r.LockedAtVestStart,
		r.VestStart, r.LastClaimAt, int32(r.NumUnlocks), sequence)
	return err
}

func upsertTreasury(ctx context.Context, tx pgx.Tx, t TreasuryRow, sequence int64) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO projections.treasury (id, total, committed, available, raised, last_sequence, updated_at)
		VALUES (1, $1::text::numeric, $2::text::numeric, $3::text::numeric, $4::text::numeric, $5, NOW())
		ON CONFLICT (id) DO UPDATE SET
			total         = EXCLUDED.total,
			committed     = EXCLUDED.committed,
			available     = EXCLUDED.available,
			raised        = EXCLUDED.raised,
			last_sequence = EXCLUDED.last_sequence,
			updated_at    = NOW()
		WHERE projections.treasury.last_sequence <= EXCLUDED.last_sequence
	`, t.Total, t.Committed, t.Available, t.Raised, sequence)
	return err
}

func setWatermark(ctx context.Context, tx pgx.Tx, sequence int64) error {
	if _, err := tx.Exec(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = GREATEST(projections.watermark.last_sequence, $2), updated_at = NOW()
	`, workerID, sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}
	return nil
}
