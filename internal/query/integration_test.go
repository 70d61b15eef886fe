package query_test

import (
	"SaleLedger/internal/core"
	"SaleLedger/internal/persistence"
	"SaleLedger/internal/projection"
	"SaleLedger/internal/query"
	"SaleLedger/internal/testutil"
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var saleStart = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

// project runs a short sale and writes every output to the event log and the read model
func project(t *testing.T) (*query.QueryService, *core.SaleCore, *projection.ProjectionWorker) {
	t.Helper()
	db, dsn := testutil.SetupTestDB(t)
	pool := testutil.NewPool(t, dsn)
	ctx := context.Background()

	cfg := core.DefaultSaleConfig(saleStart)
	outputs := make(chan core.CoreOutput, 32)
	c, err := core.NewSaleCore(cfg, core.AdminSet("0xadmin"),
		core.WithLogger(zerolog.Nop()), core.WithOutputs(outputs, nil))
	require.NoError(t, err)

	units := cfg.SaleAsset.Units(10_000)
	require.NoError(t, c.Deposit("0xalice", cfg.PaymentFor(units), saleStart))
	_, err = c.Purchase("0xalice", units, saleStart)
	require.NoError(t, err)
	now := saleStart.Add(cfg.CliffDuration)
	for i := 0; i < 3; i++ {
		_, err = c.Claim("0xalice", now)
		require.NoError(t, err)
		now = now.Add(cfg.PeriodDuration)
	}
	close(outputs)

	worker := projection.NewProjectionWorker(pool, nil, nil)
	writer := persistence.NewEventLogWriter(db)
	for out := range outputs {
		require.NoError(t, writer.WriteEventBatch(ctx, db, []persistence.EventRow{persistence.EventRowFromEnvelope(out.Envelope)}))
		require.NoError(t, writer.WriteJournalBatch(ctx, db, persistence.JournalRowsFromBatch(out.Batch)))
		require.NoError(t, worker.Apply(ctx, projection.OutputFromCore(out)))
	}
	return query.NewQueryService(pool), c, worker
}

func TestIntegration_GetRecord(t *testing.T) {
	qs, c, _ := project(t)
	ctx := context.Background()

	rec, err := qs.GetRecord(ctx, "0xalice")
	require.NoError(t, err)

	live, ok := c.RecordOf("0xalice")
	require.True(t, ok)
	assert.Equal(t, live.LiquidBalance.Dec(), rec.LiquidBalance)
	assert.Equal(t, live.PendingForClaim.Dec(), rec.PendingForClaim)
	assert.Equal(t, uint32(3), rec.NumUnlocks)
	assert.Equal(t, c.GetSequence()-1, rec.AsOfSequence)
	require.NotNil(t, rec.LastClaimAt)

	_, err = qs.GetRecord(ctx, "0xnobody")
	assert.ErrorIs(t, err, query.ErrNotFound)
}

func TestIntegration_GetTreasury(t *testing.T) {
	qs, c, _ := project(t)
	tr, err := qs.GetTreasury(context.Background())
	require.NoError(t, err)

	live := c.Treasury()
	assert.Equal(t, live.Available.Dec(), tr.Available)
	assert.Equal(t, live.Raised.Dec(), tr.Raised)
}

func TestIntegration_ClaimHistoryPaging(t *testing.T) {
	qs, _, _ := project(t)
	ctx := context.Background()

	all, err := qs.GetClaimHistory(ctx, "0xalice", 10, nil)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, uint32(3), all[0].ClaimNumber)
	assert.Equal(t, uint32(1), all[2].ClaimNumber)

	page, err := qs.GetClaimHistory(ctx, "0xalice", 10, &all[0].Sequence)
	require.NoError(t, err)
	assert.Len(t, page, 2)
}

func TestIntegration_VerifyIntegrity(t *testing.T) {
	qs, _, _ := project(t)
	report, err := qs.VerifyIntegrity(context.Background())
	require.NoError(t, err)
	assert.True(t, report.IsHealthy, "%+v", report)
	assert.Empty(t, report.HashChainBreaks)
}

func TestIntegration_SyncRewritesReadModel(t *testing.T) {
	qs, c, worker := project(t)
	ctx := context.Background()

	seq := c.GetSequence() - 1
	require.NoError(t, worker.Sync(ctx, seq, c.Records(), c.Treasury()))

	wm, err := worker.Watermark(ctx)
	require.NoError(t, err)
	assert.Equal(t, seq, wm)

	rec, err := qs.GetRecord(ctx, "0xalice")
	require.NoError(t, err)
	assert.Equal(t, uint32(3), rec.NumUnlocks)
}

func TestIntegration_JournalHistory(t *testing.T) {
	qs, _, _ := project(t)
	entries, err := qs.GetJournalHistory(context.Background(), "0xalice", 100, nil)
	require.NoError(t, err)
	// deposit + payment + immediate + 3 claims
	assert.Len(t, entries, 6)
}
