package projection_test

import (
	"SaleLedger/internal/core"
	"SaleLedger/internal/projection"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutputFromCore(t *testing.T) {
	start := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	cfg := core.DefaultSaleConfig(start)
	outputs := make(chan core.CoreOutput, 8)
	c, err := core.NewSaleCore(cfg, core.AdminSet("0xadmin"),
		core.WithLogger(zerolog.Nop()), core.WithOutputs(outputs, nil))
	require.NoError(t, err)

	units := cfg.SaleAsset.Units(10_000)
	require.NoError(t, c.Deposit("0xalice", cfg.PaymentFor(units), start))
	_, err = c.Purchase("0xalice", units, start)
	require.NoError(t, err)
	claimAt := start.Add(cfg.CliffDuration)
	_, err = c.Claim("0xalice", claimAt)
	require.NoError(t, err)

	deposit := projection.OutputFromCore(<-outputs)
	assert.Empty(t, deposit.Records)
	assert.Nil(t, deposit.Claim)

	purchase := projection.OutputFromCore(<-outputs)
	assert.Equal(t, int64(1), purchase.Sequence)
	assert.Equal(t, "PurchaseRequested", purchase.EventType)
	require.Len(t, purchase.Records, 1)
	rec := purchase.Records[0]
	assert.Equal(t, "0xalice", rec.Identity)
	assert.Equal(t, cfg.SaleAsset.Units(10_000).Dec(), rec.TotalAllocated)
	assert.Equal(t, cfg.SaleAsset.Units(9_500).Dec(), rec.PendingForClaim)
	assert.Nil(t, rec.LastClaimAt)
	assert.Equal(t, cfg.PaymentAsset.Units(100).Dec(), purchase.Treasury.Raised)
	assert.Equal(t, cfg.SaleAsset.Units(10_000).Dec(), purchase.Treasury.Committed)

	claim := projection.OutputFromCore(<-outputs)
	require.NotNil(t, claim.Claim)
	assert.Equal(t, cfg.SaleAsset.Units(790).Dec(), claim.Claim.Amount)
	assert.Equal(t, uint32(1), claim.Claim.ClaimNumber)
	assert.False(t, claim.Claim.Final)
	require.NotNil(t, claim.Records[0].LastClaimAt)
	assert.True(t, claim.Records[0].LastClaimAt.Equal(claimAt))
	assert.True(t, claim.Timestamp.Equal(claimAt))
}
