package core_test

import (
	"SaleLedger/internal/core"
	"SaleLedger/internal/event"
	"SaleLedger/internal/ledger"
	"SaleLedger/internal/observability"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	day   = 24 * time.Hour
	admin = event.Identity("0xadmin")
	alice = event.Identity("0xalice")
	bob   = event.Identity("0xbob")
)

var saleStart = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

type harness struct {
	t     *testing.T
	core  *core.SaleCore
	cfg   core.SaleConfig
	clock clockwork.FakeClock
}

func newHarness(t *testing.T, mutate func(*core.SaleConfig), opts ...core.Option) *harness {
	t.Helper()
	cfg := core.DefaultSaleConfig(saleStart)
	if mutate != nil {
		mutate(&cfg)
	}
	opts = append([]core.Option{core.WithLogger(zerolog.Nop())}, opts...)
	c, err := core.NewSaleCore(cfg, core.AdminSet(admin), opts...)
	require.NoError(t, err)
	return &harness{t: t, core: c, cfg: cfg, clock: clockwork.NewFakeClockAt(saleStart)}
}

// tokens converts whole sale tokens to base units
func (h *harness) tokens(n uint64) *uint256.Int {
	return h.cfg.SaleAsset.Units(n)
}

func (h *harness) usdt(n uint64) *uint256.Int {
	return h.cfg.PaymentAsset.Units(n)
}

// buy funds id with exactly the payment needed and purchases n tokens
func (h *harness) buy(id event.Identity, n uint64) *core.Grant {
	h.t.Helper()
	units := h.tokens(n)
	require.NoError(h.t, h.core.Deposit(id, h.cfg.PaymentFor(units), h.clock.Now()))
	g, err := h.core.Purchase(id, units, h.clock.Now())
	require.NoError(h.t, err)
	return g
}

func (h *harness) claim(id event.Identity) *core.ClaimResult {
	h.t.Helper()
	res, err := h.core.Claim(id, h.clock.Now())
	require.NoError(h.t, err)
	return res
}

func (h *harness) record(id event.Identity) (liquid, pending *uint256.Int, unlocks uint32) {
	h.t.Helper()
	r, ok := h.core.RecordOf(id)
	require.True(h.t, ok, "record for %s", id)
	require.NoError(h.t, r.CheckBalance())
	return r.LiquidBalance.Clone(), r.PendingForClaim.Clone(), r.NumUnlocks
}

// claimAll walks a full cycle from the cliff
func (h *harness) claimAll(id event.Identity) {
	h.t.Helper()
	h.clock.Advance(h.cfg.CliffDuration)
	for i := uint32(0); i < h.cfg.MaxClaims; i++ {
		if i > 0 {
			h.clock.Advance(h.cfg.PeriodDuration)
		}
		h.claim(id)
	}
}

// ============================================================================
// Test: config
// ============================================================================

func TestConfig_DefaultIsValid(t *testing.T) {
	require.NoError(t, core.DefaultSaleConfig(saleStart).Validate())
}

func TestConfig_RejectsOverCommittedClaims(t *testing.T) {
	cfg := core.DefaultSaleConfig(saleStart)
	cfg.ClaimFraction.Num = 90 // 11 * 9% > 95%
	assert.ErrorIs(t, cfg.Validate(), core.ErrInvalidConfig)
}

func TestConfig_RejectsInvertedWindow(t *testing.T) {
	cfg := core.DefaultSaleConfig(saleStart)
	cfg.SaleEnd = cfg.SaleStart
	assert.ErrorIs(t, cfg.Validate(), core.ErrInvalidConfig)
}

func TestConfig_CopiesDoNotAliasCore(t *testing.T) {
	h := newHarness(t, nil)

	// Neither the caller's config nor a returned one reaches the core
	h.cfg.MinPurchase.SetUint64(1)
	got := h.core.Config()
	got.MinPurchase.SetUint64(1)
	got.TotalAllocation.SetUint64(1)

	assert.True(t, h.core.Config().MinPurchase.Eq(core.DefaultSaleConfig(saleStart).MinPurchase))
	require.NoError(t, h.core.Deposit(alice, h.usdt(1), h.clock.Now()))
	_, err := h.core.Purchase(alice, uint256.NewInt(1), h.clock.Now())
	assert.ErrorIs(t, err, core.ErrBelowMinimum)
	assert.True(t, h.core.AvailableTreasury().Eq(h.tokens(60_000_000)))
}

func TestConfig_PaymentRoundsUp(t *testing.T) {
	cfg := core.DefaultSaleConfig(saleStart)
	// 10,000 tokens cost 100 USDT
	assert.True(t, cfg.PaymentFor(cfg.SaleAsset.Units(10_000)).Eq(cfg.PaymentAsset.Units(100)))
	// one base unit still costs one base unit
	assert.Equal(t, uint64(1), cfg.PaymentFor(uint256.NewInt(1)).Uint64())
}

// ============================================================================
// Test: purchase
// ============================================================================

func TestPurchase_InstantReleaseSplit(t *testing.T) {
	h := newHarness(t, nil)

	g := h.buy(alice, 10_000)
	assert.True(t, g.Immediate.Eq(h.tokens(500)), "immediate %s", g.Immediate.Dec())
	assert.True(t, g.Locked.Eq(h.tokens(9500)), "locked %s", g.Locked.Dec())
	assert.True(t, g.Payment.Eq(h.usdt(100)), "payment %s", g.Payment.Dec())

	liquid, pending, unlocks := h.record(alice)
	assert.True(t, liquid.Eq(h.tokens(500)))
	assert.True(t, pending.Eq(h.tokens(9500)))
	assert.Zero(t, unlocks)

	assert.True(t, h.core.BalanceOf(ledger.AssetSale, alice).Eq(h.tokens(500)))
	assert.True(t, h.core.BalanceOf(ledger.AssetPayment, alice).IsZero())
	assert.True(t, h.core.RaisedBalance().Eq(h.usdt(100)))
	assert.True(t, h.core.AvailableTreasury().Eq(h.tokens(60_000_000-10_000)))
	require.NoError(t, h.core.CheckInvariants())
}

func TestPurchase_WindowEnforced(t *testing.T) {
	h := newHarness(t, nil)
	units := h.tokens(10_000)
	require.NoError(t, h.core.Deposit(alice, h.usdt(1_000), saleStart.Add(-2*time.Second)))

	_, err := h.core.Purchase(alice, units, saleStart.Add(-time.Second))
	assert.ErrorIs(t, err, core.ErrOutsideSaleWindow)

	// Both ends inclusive
	_, err = h.core.Purchase(alice, units, saleStart)
	assert.NoError(t, err)
	_, err = h.core.Purchase(alice, units, h.cfg.SaleEnd)
	assert.NoError(t, err)

	_, err = h.core.Purchase(alice, units, h.cfg.SaleEnd.Add(time.Second))
	assert.ErrorIs(t, err, core.ErrOutsideSaleWindow)
}

func TestPurchase_BelowMinimum(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.core.Deposit(alice, h.usdt(1_000), h.clock.Now()))

	_, err := h.core.Purchase(alice, h.tokens(1332), h.clock.Now())
	assert.ErrorIs(t, err, core.ErrBelowMinimum)

	_, err = h.core.Purchase(alice, h.tokens(1333), h.clock.Now())
	assert.NoError(t, err)
}

func TestPurchase_CapacityExceededLeavesStateUnchanged(t *testing.T) {
	h := newHarness(t, func(c *core.SaleConfig) {
		c.TotalAllocation = c.SaleAsset.Units(15_000)
	})
	h.buy(alice, 10_000)
	require.NoError(t, h.core.Deposit(bob, h.usdt(100), h.clock.Now()))
	hashBefore := h.core.GetStateHash()
	_, err := h.core.Purchase(bob, h.tokens(5_001), h.clock.Now())
	assert.ErrorIs(t, err, core.ErrCapacityExceeded)

	_, ok := h.core.RecordOf(bob)
	assert.False(t, ok, "failed purchase must not create a record")
	assert.True(t, h.core.BalanceOf(ledger.AssetPayment, bob).Eq(h.usdt(100)))
	assert.Equal(t, hashBefore, h.core.GetStateHash())

	// Exactly the remainder is accepted
	_, err = h.core.Purchase(bob, h.tokens(5_000), h.clock.Now())
	require.NoError(t, err)
	assert.True(t, h.core.AvailableTreasury().IsZero())
}

func TestPurchase_InsufficientPayment(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.core.Deposit(alice, h.usdt(99), h.clock.Now()))

	_, err := h.core.Purchase(alice, h.tokens(10_000), h.clock.Now())
	assert.ErrorIs(t, err, core.ErrInsufficientBalance)

	_, ok := h.core.RecordOf(alice)
	assert.False(t, ok)
	assert.True(t, h.core.AvailableTreasury().Eq(h.cfg.TotalAllocation))
	assert.True(t, h.core.BalanceOf(ledger.AssetSale, alice).IsZero())
	require.NoError(t, h.core.CheckInvariants())
}

func TestPurchase_ZeroUnitsWithoutMinimum(t *testing.T) {
	h := newHarness(t, func(c *core.SaleConfig) { c.MinPurchase = new(uint256.Int) })
	_, err := h.core.Purchase(alice, new(uint256.Int), h.clock.Now())
	assert.ErrorIs(t, err, core.ErrInvalidAmount)
}

// ============================================================================
// Test: claim
// ============================================================================

func TestClaim_NoRecord(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.core.Claim(alice, h.clock.Now())
	assert.ErrorIs(t, err, core.ErrNothingToClaim)
}

func TestClaim_CliffGate(t *testing.T) {
	h := newHarness(t, nil)
	h.buy(alice, 10_000)

	h.clock.Advance(h.cfg.CliffDuration - time.Second)
	_, err := h.core.Claim(alice, h.clock.Now())
	assert.ErrorIs(t, err, core.ErrStillLocked)

	h.clock.Advance(time.Second)
	res := h.claim(alice)
	assert.True(t, res.Amount.Eq(h.tokens(790)), "claim %s", res.Amount.Dec())
	assert.Equal(t, uint32(1), res.ClaimNumber)
	assert.False(t, res.Final)
}

func TestClaim_PeriodicUnlock(t *testing.T) {
	h := newHarness(t, nil)
	h.buy(alice, 10_000)

	h.clock.Advance(h.cfg.CliffDuration)
	h.claim(alice)

	h.clock.Advance(h.cfg.PeriodDuration - time.Second)
	_, err := h.core.Claim(alice, h.clock.Now())
	assert.ErrorIs(t, err, core.ErrStillLocked)

	h.clock.Advance(time.Second)
	h.claim(alice)

	liquid, _, unlocks := h.record(alice)
	assert.True(t, liquid.Eq(h.tokens(500+790+790)), "liquid %s", liquid.Dec())
	assert.Equal(t, uint32(2), unlocks)
}

func TestClaim_DustFreeTerminalClaimAndExhaustion(t *testing.T) {
	h := newHarness(t, nil)
	h.buy(alice, 10_000)

	h.clock.Advance(h.cfg.CliffDuration)
	var last *core.ClaimResult
	for i := 0; i < 12; i++ {
		if i > 0 {
			h.clock.Advance(h.cfg.PeriodDuration)
		}
		last = h.claim(alice)
	}

	assert.True(t, last.Final)
	assert.True(t, last.Amount.Eq(h.tokens(810)), "final claim %s", last.Amount.Dec())
	assert.True(t, last.Remaining.IsZero())

	liquid, pending, unlocks := h.record(alice)
	assert.True(t, pending.IsZero())
	assert.True(t, liquid.Eq(h.tokens(10_000)))
	assert.Equal(t, uint32(12), unlocks)
	assert.True(t, h.core.BalanceOf(ledger.AssetSale, alice).Eq(h.tokens(10_000)))

	h.clock.Advance(h.cfg.PeriodDuration)
	_, err := h.core.Claim(alice, h.clock.Now())
	assert.ErrorIs(t, err, core.ErrFullyClaimed)

	_, ok := h.core.NextClaimAt(alice)
	assert.False(t, ok)
	require.NoError(t, h.core.CheckInvariants())
}

func TestClaim_RepurchaseResetsCycle(t *testing.T) {
	h := newHarness(t, func(c *core.SaleConfig) {
		c.SaleEnd = c.SaleStart.Add(365 * day)
	})
	h.buy(alice, 10_000)

	h.clock.Advance(h.cfg.CliffDuration)
	h.claim(alice)
	_, _, unlocks := h.record(alice)
	require.Equal(t, uint32(1), unlocks)

	h.buy(alice, 10_000)
	r, _ := h.core.RecordOf(alice)
	assert.Zero(t, r.NumUnlocks)
	assert.True(t, r.LastClaimAt.IsZero())
	assert.True(t, r.VestStart.Equal(h.clock.Now()))
	// 9,500 - 790 left from the first cycle plus 9,500 new
	assert.True(t, r.LockedAtVestStart.Eq(h.tokens(8_710+9_500)), "base %s", r.LockedAtVestStart.Dec())

	// The cliff applies again from the repurchase
	_, err := h.core.Claim(alice, h.clock.Now().Add(h.cfg.PeriodDuration))
	assert.ErrorIs(t, err, core.ErrStillLocked)

	h.claimAll(alice)

	liquid, pending, _ := h.record(alice)
	assert.True(t, pending.IsZero())
	assert.True(t, liquid.Eq(h.tokens(20_000)), "liquid %s", liquid.Dec())
}

func TestClaim_InterleavedPurchasesFullyVest(t *testing.T) {
	h := newHarness(t, func(c *core.SaleConfig) {
		c.SaleEnd = c.SaleStart.Add(2 * 365 * day)
	})

	// claimN waits out a cliff-plus-margin, then claims n times a period
	// and a day apart
	claimN := func(n int) {
		h.clock.Advance(62 * day)
		for i := 0; i < n; i++ {
			h.clock.Advance(31 * day)
			h.claim(alice)
		}
	}

	h.buy(alice, 14_728)
	claimN(3)
	_, _, unlocks := h.record(alice)
	require.Equal(t, uint32(3), unlocks)

	h.buy(alice, 8_290)
	claimN(5)
	_, _, unlocks = h.record(alice)
	require.Equal(t, uint32(5), unlocks)

	h.buy(alice, 10_009)
	claimN(2)
	_, _, unlocks = h.record(alice)
	require.Equal(t, uint32(2), unlocks)

	h.buy(alice, 10_523)
	claimN(int(h.cfg.MaxClaims))

	liquid, pending, unlocks := h.record(alice)
	assert.Equal(t, h.cfg.MaxClaims, unlocks)
	assert.True(t, pending.IsZero(), "pending %s", pending.Dec())
	assert.True(t, liquid.Eq(h.tokens(43_550)), "liquid %s", liquid.Dec())
	require.NoError(t, h.core.CheckInvariants())
}

func TestClaim_NextClaimAt(t *testing.T) {
	h := newHarness(t, nil)
	h.buy(alice, 10_000)

	at, ok := h.core.NextClaimAt(alice)
	require.True(t, ok)
	assert.True(t, at.Equal(saleStart.Add(h.cfg.CliffDuration)))
}

// ============================================================================
// Test: issuance and sweeps
// ============================================================================

func TestIssue_AdminOnly(t *testing.T) {
	h := newHarness(t, nil)

	available := h.core.AvailableTreasury()
	seq := h.core.GetSequence()

	_, err := h.core.Issue(alice, bob, h.tokens(1_000), h.clock.Now())
	assert.ErrorIs(t, err, core.ErrUnauthorized)
	_, ok := h.core.RecordOf(bob)
	assert.False(t, ok)
	assert.True(t, h.core.AvailableTreasury().Eq(available))
	assert.Equal(t, seq, h.core.GetSequence())

	// No window check and no payment; below the purchase minimum is fine
	h.clock.Advance(100 * day)
	g, err := h.core.Issue(admin, bob, h.tokens(1_000), h.clock.Now())
	require.NoError(t, err)
	assert.True(t, g.Payment.IsZero())
	assert.True(t, g.Immediate.Eq(h.tokens(50)))

	liquid, pending, _ := h.record(bob)
	assert.True(t, liquid.Eq(h.tokens(50)))
	assert.True(t, pending.Eq(h.tokens(950)))
	assert.True(t, h.core.RaisedBalance().IsZero())
}

func TestIssue_CapacityExceeded(t *testing.T) {
	h := newHarness(t, func(c *core.SaleConfig) {
		c.TotalAllocation = c.SaleAsset.Units(1_000)
		c.MinPurchase = new(uint256.Int)
	})
	_, err := h.core.Issue(admin, bob, h.tokens(1_001), h.clock.Now())
	assert.ErrorIs(t, err, core.ErrCapacityExceeded)
}

func TestSweepUnsold(t *testing.T) {
	h := newHarness(t, nil)
	h.buy(alice, 10_000)

	_, err := h.core.SweepUnsold(admin, admin, h.clock.Now())
	assert.ErrorIs(t, err, core.ErrSaleNotEnded)

	h.clock.Advance(h.cfg.SaleEnd.Sub(h.clock.Now()) + time.Second)

	available := h.core.AvailableTreasury()
	seq := h.core.GetSequence()
	_, err = h.core.SweepUnsold(alice, alice, h.clock.Now())
	assert.ErrorIs(t, err, core.ErrUnauthorized)
	assert.True(t, h.core.AvailableTreasury().Eq(available))
	assert.Equal(t, seq, h.core.GetSequence())
	assert.True(t, h.core.BalanceOf(ledger.AssetSale, alice).IsZero())

	swept, err := h.core.SweepUnsold(admin, admin, h.clock.Now())
	require.NoError(t, err)
	assert.True(t, swept.Eq(h.tokens(60_000_000-10_000)))
	assert.True(t, h.core.AvailableTreasury().IsZero())
	assert.True(t, h.core.BalanceOf(ledger.AssetSale, admin).Eq(swept))

	_, err = h.core.Issue(admin, bob, h.tokens(1), h.clock.Now())
	assert.ErrorIs(t, err, core.ErrCapacityExceeded)
	require.NoError(t, h.core.CheckInvariants())
}

func TestSweepRaised(t *testing.T) {
	h := newHarness(t, nil)
	h.buy(alice, 10_000)
	h.buy(bob, 2_000)

	_, err := h.core.SweepRaised(bob, bob, h.clock.Now())
	assert.ErrorIs(t, err, core.ErrUnauthorized)

	treasury := event.Identity("0xtreasury")
	swept, err := h.core.SweepRaised(admin, treasury, h.clock.Now())
	require.NoError(t, err)
	assert.True(t, swept.Eq(h.usdt(120)), "swept %s", swept.Dec())
	assert.True(t, h.core.RaisedBalance().IsZero())
	assert.True(t, h.core.BalanceOf(ledger.AssetPayment, treasury).Eq(h.usdt(120)))

	// Nothing left: the sweep succeeds with zero
	swept, err = h.core.SweepRaised(admin, treasury, h.clock.Now())
	require.NoError(t, err)
	assert.True(t, swept.IsZero())
}

// ============================================================================
// Test: event pipeline
// ============================================================================

func TestSubmit_DuplicateIgnored(t *testing.T) {
	h := newHarness(t, nil)
	evt := &event.PaymentDeposited{
		DepositID: uuid.New(),
		Account:   alice,
		Amount:    h.usdt(5),
		Timestamp: h.clock.Now(),
	}

	_, err := h.core.Submit(evt)
	require.NoError(t, err)
	_, err = h.core.Submit(evt)
	assert.ErrorIs(t, err, core.ErrDuplicateEvent)
	assert.NoError(t, h.core.ProcessEvent(evt))

	assert.True(t, h.core.BalanceOf(ledger.AssetPayment, alice).Eq(h.usdt(5)))
	assert.Equal(t, int64(1), h.core.GetSequence())
}

func TestSubmit_RejectedEventCanBeRetried(t *testing.T) {
	h := newHarness(t, nil)
	h.buy(alice, 10_000)

	evt := &event.ClaimRequested{RequestID: uuid.New(), Claimant: alice, Timestamp: h.clock.Now()}
	_, err := h.core.Submit(evt)
	require.ErrorIs(t, err, core.ErrStillLocked)

	h.clock.Advance(h.cfg.CliffDuration)
	evt.Timestamp = h.clock.Now()
	_, err = h.core.Submit(evt)
	assert.NoError(t, err)
}

func TestSubmit_RejectsUnnormalizedIdentity(t *testing.T) {
	h := newHarness(t, nil)
	h.buy(alice, 10_000)

	_, err := h.core.Purchase("0xALICE", h.tokens(10_000), h.clock.Now())
	assert.ErrorIs(t, err, core.ErrInvalidIdentity)
	_, err = h.core.Claim("0xALICE", h.clock.Now().Add(h.cfg.CliffDuration))
	assert.ErrorIs(t, err, core.ErrInvalidIdentity)

	assert.Len(t, h.core.Records(), 1)
	_, _, unlocks := h.record(alice)
	assert.Zero(t, unlocks)
}

func TestSubmit_ClockRegression(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.core.Deposit(alice, h.usdt(1), h.clock.Now()))

	err := h.core.Deposit(alice, h.usdt(1), h.clock.Now().Add(-time.Microsecond))
	assert.ErrorIs(t, err, core.ErrClockRegression)

	// Same instant is fine
	assert.NoError(t, h.core.Deposit(alice, h.usdt(1), h.clock.Now()))
}

func TestSubmit_EmitsOutputs(t *testing.T) {
	persist := make(chan core.CoreOutput, 8)
	projection := make(chan core.CoreOutput) // unbuffered: always dropped
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)

	h := newHarness(t, nil, core.WithOutputs(persist, projection), core.WithMetrics(metrics))
	h.buy(alice, 10_000)

	require.Len(t, persist, 2)
	<-persist
	out := <-persist
	assert.Equal(t, event.EventTypePurchaseRequested, out.Envelope.EventType)
	assert.Equal(t, int64(1), out.Envelope.Sequence)
	assert.Equal(t, alice, out.Envelope.Caller)
	require.Len(t, out.Records, 1)
	assert.True(t, out.Records[0].PendingForClaim.Eq(h.tokens(9500)))
	require.NotNil(t, out.Grant)
	assert.Len(t, out.Batch.Journals, 3)
	assert.Equal(t, h.core.GetStateHash(), out.Envelope.StateHash)

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.ProjectionDrops.WithLabelValues("sale")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CoreEventsApplied.WithLabelValues("PurchaseRequested")))
}

func TestSubmit_HashChainLinks(t *testing.T) {
	persist := make(chan core.CoreOutput, 8)
	h := newHarness(t, nil, core.WithOutputs(persist, nil))
	h.buy(alice, 10_000)

	first := <-persist
	second := <-persist
	assert.Equal(t, first.Envelope.StateHash, second.Envelope.PrevHash)
	assert.NotEqual(t, first.Envelope.StateHash, second.Envelope.StateHash)
}

// ============================================================================
// Test: recovery
// ============================================================================

func TestSnapshot_RestoreResumes(t *testing.T) {
	h := newHarness(t, nil)
	h.buy(alice, 10_000)
	h.buy(bob, 2_000)
	h.clock.Advance(h.cfg.CliffDuration)
	h.claim(alice)

	snap := h.core.CreateSnapshotState()

	restored := newHarness(t, nil)
	require.NoError(t, restored.core.RestoreFromSnapshot(snap))

	assert.Equal(t, h.core.GetSequence(), restored.core.GetSequence())
	assert.Equal(t, h.core.GetStateHash(), restored.core.GetStateHash())
	assert.Equal(t, h.core.Records(), restored.core.Records())
	assert.True(t, h.core.AvailableTreasury().Eq(restored.core.AvailableTreasury()))

	// Both continue identically
	now := h.clock.Now().Add(h.cfg.PeriodDuration)
	a, err := h.core.Claim(alice, now)
	require.NoError(t, err)
	b, err := restored.core.Claim(alice, now)
	require.NoError(t, err)
	assert.True(t, a.Amount.Eq(b.Amount))
	assert.Equal(t, h.core.GetStateHash(), restored.core.GetStateHash())
}

func TestSnapshot_RestoreRejectsUsedCore(t *testing.T) {
	h := newHarness(t, nil)
	snap := h.core.CreateSnapshotState()
	require.NoError(t, h.core.Deposit(alice, h.usdt(1), h.clock.Now()))
	assert.Error(t, h.core.RestoreFromSnapshot(snap))
}

func TestSnapshot_RestoreRejectsBrokenEscrow(t *testing.T) {
	h := newHarness(t, nil)
	h.buy(alice, 10_000)
	snap := h.core.CreateSnapshotState()
	snap.Records[0].PendingForClaim.Clear()

	restored := newHarness(t, nil)
	assert.Error(t, restored.core.RestoreFromSnapshot(snap))
}

func TestReplay_ReproducesStateHash(t *testing.T) {
	persist := make(chan core.CoreOutput, 64)
	h := newHarness(t, nil, core.WithOutputs(persist, nil))
	h.buy(alice, 10_000)
	h.buy(bob, 5_000)
	h.clock.Advance(h.cfg.CliffDuration)
	h.claim(alice)
	require.True(t, h.clock.Now().After(h.cfg.SaleEnd))
	_, err := h.core.SweepUnsold(admin, admin, h.clock.Now())
	require.NoError(t, err)
	close(persist)

	replayed := newHarness(t, nil)
	for out := range persist {
		evt, err := event.DecodePayload(out.Envelope.EventType, out.Envelope.Payload)
		require.NoError(t, err)
		got, err := replayed.core.Replay(evt)
		require.NoError(t, err)
		assert.Equal(t, out.Envelope.StateHash, got.Envelope.StateHash, "sequence %d", out.Envelope.Sequence)
	}

	assert.Equal(t, h.core.GetStateHash(), replayed.core.GetStateHash())
	assert.Equal(t, h.core.Records(), replayed.core.Records())
}
