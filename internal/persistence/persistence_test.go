package persistence_test

import (
	"SaleLedger/internal/core"
	"SaleLedger/internal/event"
	"SaleLedger/internal/persistence"
	"encoding/json"
	"io/fs"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var saleStart = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

func newCore(t *testing.T, persist chan core.CoreOutput) *core.SaleCore {
	t.Helper()
	opts := []core.Option{core.WithLogger(zerolog.Nop())}
	if persist != nil {
		opts = append(opts, core.WithOutputs(persist, nil))
	}
	c, err := core.NewSaleCore(core.DefaultSaleConfig(saleStart), core.AdminSet("0xadmin"), opts...)
	require.NoError(t, err)
	return c
}

// seed runs a deposit, a purchase and a claim through c
func seed(t *testing.T, c *core.SaleCore) {
	t.Helper()
	cfg := c.Config()
	units := cfg.SaleAsset.Units(10_000)
	require.NoError(t, c.Deposit("0xalice", cfg.PaymentFor(units), saleStart))
	_, err := c.Purchase("0xalice", units, saleStart)
	require.NoError(t, err)
	_, err = c.Claim("0xalice", saleStart.Add(cfg.CliffDuration))
	require.NoError(t, err)
}

// ============================================================================
// Test: row mapping
// ============================================================================

func TestRowsFromOutput(t *testing.T) {
	persist := make(chan core.CoreOutput, 4)
	c := newCore(t, persist)
	seed(t, c)

	<-persist
	out := <-persist // purchase

	row := persistence.EventRowFromEnvelope(out.Envelope)
	assert.Equal(t, int64(1), row.Sequence)
	assert.Equal(t, "PurchaseRequested", row.EventType)
	assert.Equal(t, "0xalice", row.Caller)
	assert.Len(t, row.StateHash, 32)
	assert.True(t, json.Valid(row.Payload))

	journals := persistence.JournalRowsFromBatch(out.Batch)
	require.Len(t, journals, 3)
	assert.Equal(t, "system:raised:PAYMENT", journals[0].DebitAccount)
	assert.Equal(t, "user:0xalice:wallet:PAYMENT", journals[0].CreditAccount)
	assert.Equal(t, "100000000000000000000", journals[0].Amount)
	for _, j := range journals {
		assert.Equal(t, int64(1), j.Sequence)
		assert.Equal(t, row.IdempotencyKey, j.EventRef)
	}

	assert.Nil(t, persistence.JournalRowsFromBatch(nil))
}

// ============================================================================
// Test: snapshot encoding
// ============================================================================

func TestSnapshot_EncodeDecodeRestores(t *testing.T) {
	c := newCore(t, nil)
	seed(t, c)

	data := persistence.EncodeSnapshot(c.CreateSnapshotState(), saleStart)
	raw, err := json.Marshal(data)
	require.NoError(t, err)

	var stored persistence.SnapshotData
	require.NoError(t, json.Unmarshal(raw, &stored))
	snap, err := stored.Decode()
	require.NoError(t, err)

	restored := newCore(t, nil)
	require.NoError(t, restored.RestoreFromSnapshot(snap))

	assert.Equal(t, c.GetStateHash(), restored.GetStateHash())
	assert.Equal(t, c.GetSequence(), restored.GetSequence())
	assert.Equal(t, c.Records(), restored.Records())
	assert.Equal(t, c.Treasury(), restored.Treasury())
}

func TestSnapshot_EncodeIsDeterministic(t *testing.T) {
	a, b := newCore(t, nil), newCore(t, nil)
	seed(t, a)
	seed(t, b)

	encode := func(c *core.SaleCore) string {
		snap := c.CreateSnapshotState()
		snap.IdempotencyKeys = nil // request ids are random per run
		raw, err := json.Marshal(persistence.EncodeSnapshot(snap, saleStart))
		require.NoError(t, err)
		return string(raw)
	}
	assert.Equal(t, encode(a), encode(b))
}

func TestSnapshot_DecodeRejectsBadAmount(t *testing.T) {
	c := newCore(t, nil)
	seed(t, c)
	data := persistence.EncodeSnapshot(c.CreateSnapshotState(), saleStart)
	data.Records[0].PendingForClaim = "-1"

	_, err := data.Decode()
	assert.ErrorContains(t, err, "pending_for_claim")
}

func TestSnapshot_DecodeRejectsShortHash(t *testing.T) {
	data := &persistence.SnapshotData{StateHash: []byte{1, 2, 3}}
	_, err := data.Decode()
	assert.Error(t, err)
}

// ============================================================================
// Test: migrations
// ============================================================================

func TestEmbeddedMigrations_Paired(t *testing.T) {
	fsys := persistence.EmbeddedMigrations()
	ups, err := fs.Glob(fsys, "*.up.sql")
	require.NoError(t, err)
	require.NotEmpty(t, ups)

	for _, up := range ups {
		down := strings.Replace(up, ".up.sql", ".down.sql", 1)
		_, err := fs.Stat(fsys, down)
		assert.NoError(t, err, "missing %s", down)
	}
}

func TestEmbeddedMigrations_DefineTables(t *testing.T) {
	fsys := persistence.EmbeddedMigrations()
	var all strings.Builder
	ups, _ := fs.Glob(fsys, "*.up.sql")
	for _, f := range ups {
		b, err := fs.ReadFile(fsys, f)
		require.NoError(t, err)
		all.Write(b)
	}
	for _, table := range []string{
		"event_log.events", "event_log.journal", "event_log.snapshots",
		"projections.participants", "projections.treasury", "projections.claim_history", "projections.watermark",
	} {
		assert.Contains(t, all.String(), "CREATE TABLE IF NOT EXISTS "+table)
	}
}

func TestRows_EmptySweepHasNoJournals(t *testing.T) {
	persist := make(chan core.CoreOutput, 4)
	c := newCore(t, persist)

	// An admin sweep of an empty raised account still logs an event
	_, err := c.SweepRaised("0xadmin", "0xadmin", saleStart)
	require.NoError(t, err)

	out := <-persist
	assert.Equal(t, event.EventTypeRaisedSweepRequested, out.Envelope.EventType)
	assert.Empty(t, persistence.JournalRowsFromBatch(out.Batch))
}
