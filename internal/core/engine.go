package core

import (
	"SaleLedger/internal/event"
	"SaleLedger/internal/ledger"
	"SaleLedger/internal/observability"
	"SaleLedger/internal/state"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
)

// AdminChecker decides whether an identity may issue grants and sweep the sale
type AdminChecker func(event.Identity) bool

// AdminSet returns an AdminChecker accepting exactly ids
func AdminSet(ids ...event.Identity) AdminChecker {
	set := make(map[event.Identity]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return func(id event.Identity) bool {
		_, ok := set[id]
		return ok
	}
}

// SaleCore is the sale/vesting state machine. Every operation is serialized
// behind one mutex and is all-or-nothing. The core never reads the wall
// clock for state decisions; "now" is carried by each event.
type SaleCore struct {
	mu sync.Mutex

	cfg      SaleConfig
	schedule state.Schedule
	isAdmin  AdminChecker

	sequence       int64
	hasher         *StateHasher
	balanceTracker *ledger.BalanceTracker
	journalGen     *ledger.JournalGenerator
	validator      *ledger.InvariantValidator
	treasury       *state.Treasury
	records        *state.RecordManager
	idempotency    *IdempotencyChecker
	ordering       *TimestampValidator

	metrics *observability.Metrics
	logger  zerolog.Logger

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

// Grant describes one purchase or issuance
type Grant struct {
	Beneficiary event.Identity
	Units       *uint256.Int
	Immediate   *uint256.Int
	Locked      *uint256.Int
	Payment     *uint256.Int // zero for issuance
}

// ClaimResult describes one settled claim
type ClaimResult struct {
	Claimant    event.Identity
	Amount      *uint256.Int
	ClaimNumber uint32 // 1-based within the cycle
	Final       bool
	Remaining   *uint256.Int
}

// TreasuryState is a point-in-time copy of the sale's aggregate figures
type TreasuryState struct {
	Total     *uint256.Int
	Committed *uint256.Int
	Available *uint256.Int
	Raised    *uint256.Int
}

// CoreOutput is emitted once per applied event
type CoreOutput struct {
	Envelope   *event.EventEnvelope
	Event      event.Event
	Batch      *ledger.Batch
	StateDelta []byte

	// Post-state of the records the event touched
	Records  []state.ParticipantRecord
	Treasury TreasuryState

	// Exactly one of these is set, depending on event type
	Grant *Grant
	Claim *ClaimResult
	Swept *uint256.Int
}

// effect is what a handler wants to happen once its batch is accepted
type effect struct {
	batch   *ledger.Batch
	touched []event.Identity
	commit  func(out *CoreOutput)
}

// Option configures a SaleCore
type Option func(*coreOptions)

type coreOptions struct {
	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
	dbChecker      DBIdempotencyChecker
	lruCapacity    int
	metrics        *observability.Metrics
	logger         *zerolog.Logger
}

// WithOutputs wires the persist (blocking) and projection (lossy) channels
func WithOutputs(persist, projection chan<- CoreOutput) Option {
	return func(o *coreOptions) {
		o.persistChan = persist
		o.projectionChan = projection
	}
}

// WithIdempotencyDB enables the tier-2 Postgres dedup lookup
func WithIdempotencyDB(db DBIdempotencyChecker) Option {
	return func(o *coreOptions) { o.dbChecker = db }
}

func WithLRUCapacity(n int) Option {
	return func(o *coreOptions) { o.lruCapacity = n }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(o *coreOptions) { o.metrics = m }
}

func WithLogger(l zerolog.Logger) Option {
	return func(o *coreOptions) { o.logger = &l }
}

func NewSaleCore(cfg SaleConfig, isAdmin AdminChecker, opts ...Option) (*SaleCore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if isAdmin == nil {
		isAdmin = AdminSet()
	}

	o := coreOptions{lruCapacity: 1_000_000}
	for _, opt := range opts {
		opt(&o)
	}
	logger := observability.NewLogger("core")
	if o.logger != nil {
		logger = *o.logger
	}

	cfg = cfg.Clone()
	balanceTracker := ledger.NewBalanceTracker()

	return &SaleCore{
		cfg:            cfg,
		schedule:       cfg.Schedule(),
		isAdmin:        isAdmin,
		hasher:         NewStateHasher(),
		balanceTracker: balanceTracker,
		journalGen:     ledger.NewJournalGenerator(0),
		validator:      ledger.NewInvariantValidator(balanceTracker),
		treasury:       state.NewTreasury(cfg.TotalAllocation, cfg.SaleEnd),
		records:        state.NewRecordManager(),
		idempotency:    NewIdempotencyChecker(o.lruCapacity, o.dbChecker, o.metrics, logger),
		ordering:       NewTimestampValidator(),
		metrics:        o.metrics,
		logger:         logger,
		persistChan:    o.persistChan,
		projectionChan: o.projectionChan,
	}, nil
}

// Submit applies evt and returns its output. Already-applied idempotency
// keys yield ErrDuplicateEvent and change nothing.
func (c *SaleCore) Submit(evt event.Event) (*CoreOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.process(evt, true)
}

// ProcessEvent is Submit for event-stream callers: duplicates are not errors.
func (c *SaleCore) ProcessEvent(evt event.Event) error {
	_, err := c.Submit(evt)
	if errors.Is(err, ErrDuplicateEvent) {
		return nil
	}
	return err
}

// Replay re-applies an event read back from the event log during recovery.
// It skips dedup (the log already holds the key) and emits nothing.
func (c *SaleCore) Replay(evt event.Event) (*CoreOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.process(evt, false)
}

// process is the main pipeline. Caller holds c.mu.
func (c *SaleCore) process(evt event.Event, live bool) (*CoreOutput, error) {
	start := time.Now()
	eventType := evt.EventType().String()
	idempotencyKey := evt.IdempotencyKey()

	// Step 1: Idempotency check (two-tier)
	if live && c.idempotency.IsDuplicate(eventType, idempotencyKey) {
		c.recordRejected(eventType, "duplicate")
		return nil, ErrDuplicateEvent
	}

	// Step 2: Time ordering
	ts := evt.OccurredAt()
	if err := c.ordering.Check(ts); err != nil {
		c.recordRejected(eventType, "clock_regression")
		return nil, err
	}

	// Step 3: Dispatch - validates and builds the batch, mutates nothing
	c.journalGen.SetSequence(c.sequence)
	eff, err := c.dispatchEvent(evt)
	if err != nil {
		c.recordRejected(eventType, rejectReason(err))
		c.logger.Debug().
			Err(err).
			Str("event_type", eventType).
			Str("request_id", idempotencyKey).
			Str("caller", evt.Caller().String()).
			Msg("event rejected")
		return nil, err
	}

	// Step 4: Apply ledger batch (atomic)
	if eff.batch != nil && len(eff.batch.Journals) > 0 {
		if err := c.validator.ValidateBatchBalance(eff.batch); err != nil {
			panic(fmt.Sprintf("FATAL: malformed batch: %v", err))
		}
		if err := c.balanceTracker.ApplyBatch(eff.batch); err != nil {
			c.recordRejected(eventType, rejectReason(err))
			return nil, err
		}
	}

	// Step 5: Commit state mutations
	out := &CoreOutput{Event: evt, Batch: eff.batch}
	if eff.commit != nil {
		eff.commit(out)
	}

	// Step 6: Post-checks
	if err := c.postCheckInvariants(eff.touched); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
	}

	// Step 7: State hash + envelope
	stateDigest := c.computeStateDigest(eff.batch, eff.touched)
	prevHash := c.hasher.GetPrevHash()
	stateHash := c.hasher.ComputeHash(c.sequence, stateDigest)

	payload, err := event.EncodePayload(evt)
	if err != nil {
		panic(fmt.Sprintf("FATAL: encode applied event: %v", err))
	}

	out.Envelope = &event.EventEnvelope{
		Sequence:       c.sequence,
		IdempotencyKey: idempotencyKey,
		EventType:      evt.EventType(),
		Caller:         evt.Caller(),
		Timestamp:      ts,
		Payload:        payload,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}
	out.StateDelta = stateDigest
	out.Treasury = c.treasuryState()
	for _, id := range eff.touched {
		if r, ok := c.records.Get(id); ok {
			out.Records = append(out.Records, r.Clone())
		}
	}

	c.sequence++
	c.ordering.Advance(ts)
	c.idempotency.MarkProcessed(eventType, idempotencyKey)

	// Step 8: Emit. Persist blocks (backpressure); projection drops when full.
	if live {
		c.emit(*out)
	}

	c.recordApplied(eventType, out, start)
	c.logger.Info().
		Int64("sequence", out.Envelope.Sequence).
		Str("event_type", eventType).
		Str("request_id", idempotencyKey).
		Str("caller", evt.Caller().String()).
		Msg("event applied")

	return out, nil
}

func (c *SaleCore) emit(out CoreOutput) {
	if c.persistChan != nil {
		select {
		case c.persistChan <- out:
		default:
			if c.metrics != nil {
				c.metrics.PersistBackpressure.Inc()
			}
			c.persistChan <- out
		}
	}

	if c.projectionChan != nil {
		select {
		case c.projectionChan <- out:
		default:
			if c.metrics != nil {
				c.metrics.ProjectionDrops.WithLabelValues("sale").Inc()
			}
		}
	}
}

func (c *SaleCore) dispatchEvent(evt event.Event) (*effect, error) {
	switch e := evt.(type) {
	case *event.PaymentDeposited:
		return c.handlePaymentDeposited(e)
	case *event.PurchaseRequested:
		return c.handlePurchase(e)
	case *event.IssueRequested:
		return c.handleIssue(e)
	case *event.ClaimRequested:
		return c.handleClaim(e)
	case *event.UnsoldSweepRequested:
		return c.handleUnsoldSweep(e)
	case *event.RaisedSweepRequested:
		return c.handleRaisedSweep(e)
	default:
		return nil, fmt.Errorf("unknown event type: %T", evt)
	}
}

func (c *SaleCore) handlePaymentDeposited(e *event.PaymentDeposited) (*effect, error) {
	if err := checkIdentity(e.Account); err != nil {
		return nil, err
	}
	if e.Amount == nil || e.Amount.IsZero() {
		return nil, ErrInvalidAmount
	}
	return &effect{batch: c.journalGen.GeneratePaymentDeposit(e)}, nil
}

// handlePurchase checks window, then minimum, then capacity
func (c *SaleCore) handlePurchase(e *event.PurchaseRequested) (*effect, error) {
	if err := checkIdentity(e.Buyer); err != nil {
		return nil, err
	}
	if !c.cfg.InWindow(e.Timestamp) {
		return nil, ErrOutsideSaleWindow
	}
	if e.Units == nil {
		return nil, ErrInvalidAmount
	}
	if e.Units.Lt(c.cfg.MinPurchase) {
		return nil, fmt.Errorf("%w: %s < %s", ErrBelowMinimum, e.Units.Dec(), c.cfg.MinPurchase.Dec())
	}
	if err := c.treasury.CheckReserve(e.Units); err != nil {
		return nil, err
	}

	immediate, locked := c.cfg.Split(e.Units)
	payment := c.cfg.PaymentFor(e.Units)

	return &effect{
		batch:   c.journalGen.GeneratePurchase(e, payment, immediate, locked),
		touched: []event.Identity{e.Buyer},
		commit: func(out *CoreOutput) {
			out.Grant = c.commitGrant(e.Buyer, e.Units, immediate, locked, payment, e.Timestamp)
		},
	}, nil
}

// handleIssue grants without payment or window check
func (c *SaleCore) handleIssue(e *event.IssueRequested) (*effect, error) {
	if !c.isAdmin(e.Admin) {
		return nil, ErrUnauthorized
	}
	if err := checkIdentity(e.Beneficiary); err != nil {
		return nil, err
	}
	if e.Units == nil {
		return nil, ErrInvalidAmount
	}
	if err := c.treasury.CheckReserve(e.Units); err != nil {
		return nil, err
	}

	immediate, locked := c.cfg.Split(e.Units)

	return &effect{
		batch:   c.journalGen.GenerateIssue(e, immediate, locked),
		touched: []event.Identity{e.Beneficiary},
		commit: func(out *CoreOutput) {
			out.Grant = c.commitGrant(e.Beneficiary, e.Units, immediate, locked, new(uint256.Int), e.Timestamp)
		},
	}, nil
}

func (c *SaleCore) commitGrant(to event.Identity, units, immediate, locked, payment *uint256.Int, now time.Time) *Grant {
	if err := c.treasury.Reserve(units); err != nil {
		panic(fmt.Sprintf("FATAL: reserve after check: %v", err))
	}
	rec, register := c.records.GetOrCreate(to)
	rec.Grant(immediate, locked, now)
	register()

	return &Grant{
		Beneficiary: to,
		Units:       units.Clone(),
		Immediate:   immediate,
		Locked:      locked,
		Payment:     payment,
	}
}

func (c *SaleCore) handleClaim(e *event.ClaimRequested) (*effect, error) {
	if err := checkIdentity(e.Claimant); err != nil {
		return nil, err
	}
	rec, _ := c.records.Get(e.Claimant)
	if err := c.schedule.Gate(rec, e.Timestamp); err != nil {
		return nil, err
	}

	amount := c.schedule.UnlockAmount(rec)
	final := rec.NumUnlocks+1 >= c.schedule.MaxClaims

	return &effect{
		batch:   c.journalGen.GenerateClaim(e, amount),
		touched: []event.Identity{e.Claimant},
		commit: func(out *CoreOutput) {
			rec.Settle(amount, e.Timestamp)
			out.Claim = &ClaimResult{
				Claimant:    e.Claimant,
				Amount:      amount,
				ClaimNumber: rec.NumUnlocks,
				Final:       final,
				Remaining:   rec.PendingForClaim.Clone(),
			}
		},
	}, nil
}

func (c *SaleCore) handleUnsoldSweep(e *event.UnsoldSweepRequested) (*effect, error) {
	if !c.isAdmin(e.Admin) {
		return nil, ErrUnauthorized
	}
	if err := checkIdentity(e.To); err != nil {
		return nil, err
	}
	if err := c.treasury.CheckSweep(e.Timestamp); err != nil {
		return nil, err
	}

	amount := c.treasury.Available()

	return &effect{
		batch: c.journalGen.GenerateUnsoldSweep(e, amount),
		commit: func(out *CoreOutput) {
			swept, err := c.treasury.SweepUnsold(e.Timestamp)
			if err != nil {
				panic(fmt.Sprintf("FATAL: sweep after check: %v", err))
			}
			out.Swept = swept
		},
	}, nil
}

func (c *SaleCore) handleRaisedSweep(e *event.RaisedSweepRequested) (*effect, error) {
	if !c.isAdmin(e.Admin) {
		return nil, ErrUnauthorized
	}
	if err := checkIdentity(e.To); err != nil {
		return nil, err
	}

	amount := c.balanceTracker.GetBalance(ledger.RaisedAccount())

	return &effect{
		batch: c.journalGen.GenerateRaisedSweep(e, amount),
		commit: func(out *CoreOutput) {
			out.Swept = amount
		},
	}, nil
}

// postCheckInvariants runs the cheap checks on every event and the full
// scan every 1000 events.
func (c *SaleCore) postCheckInvariants(touched []event.Identity) error {
	for _, id := range touched {
		if r, ok := c.records.Get(id); ok {
			if err := r.CheckBalance(); err != nil {
				return fmt.Errorf("post-check record balance: %w", err)
			}
		}
	}

	if err := c.validator.ValidateSaleSupply(c.treasury.Committed()); err != nil {
		return fmt.Errorf("post-check supply: %w", err)
	}

	if c.sequence > 0 && c.sequence%1000 == 0 {
		return c.checkAllInvariants()
	}
	return nil
}

func (c *SaleCore) checkAllInvariants() error {
	if err := c.validator.ValidateEscrowMatches(c.records.TotalPending()); err != nil {
		return fmt.Errorf("escrow: %w", err)
	}
	if err := c.validator.ValidateConservation(); err != nil {
		return fmt.Errorf("conservation: %w", err)
	}
	if err := c.validator.ValidateSaleSupply(c.treasury.Committed()); err != nil {
		return fmt.Errorf("supply: %w", err)
	}
	for _, r := range c.records.All() {
		if err := r.CheckBalance(); err != nil {
			return err
		}
	}
	return nil
}

// CheckInvariants runs the full invariant scan
func (c *SaleCore) CheckInvariants() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.checkAllInvariants()
}

// computeStateDigest creates canonical bytes for the state hash: touched
// account balances sorted by path, the treasury, then touched records.
func (c *SaleCore) computeStateDigest(batch *ledger.Batch, touched []event.Identity) []byte {
	affected := make(map[ledger.AccountKey]bool)
	if batch != nil {
		for _, j := range batch.Journals {
			affected[j.DebitAccount] = true
			affected[j.CreditAccount] = true
		}
	}

	accounts := make([]ledger.AccountKey, 0, len(affected))
	for key := range affected {
		if !key.IsExternal() {
			accounts = append(accounts, key)
		}
	}
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].AccountPath() < accounts[j].AccountPath()
	})

	digest := make([]byte, 0, len(accounts)*64+64)

	for _, key := range accounts {
		digest = appendString(digest, key.AccountPath())
		digest = appendUint256(digest, c.balanceTracker.GetBalance(key))
	}

	digest = appendUint256(digest, c.treasury.Committed())

	for _, id := range touched {
		r, ok := c.records.Get(id)
		if !ok {
			continue
		}
		digest = appendString(digest, string(r.Identity))
		digest = appendUint256(digest, &r.TotalAllocated)
		digest = appendUint256(digest, &r.LiquidBalance)
		digest = appendUint256(digest, &r.PendingForClaim)
		digest = appendUint256(digest, &r.LockedAtVestStart)
		digest = binary.LittleEndian.AppendUint64(digest, uint64(unixMicroOrZero(r.VestStart)))
		digest = binary.LittleEndian.AppendUint64(digest, uint64(unixMicroOrZero(r.LastClaimAt)))
		digest = binary.LittleEndian.AppendUint32(digest, r.NumUnlocks)
	}

	return digest
}

func appendString(buf []byte, s string) []byte {
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(s)))
	return append(buf, s...)
}

func appendUint256(buf []byte, v *uint256.Int) []byte {
	b := v.Bytes32()
	return append(buf, b[:]...)
}

func unixMicroOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMicro()
}

// checkIdentity accepts only identities already in NewIdentity form, so one
// holder never maps to two records.
func checkIdentity(id event.Identity) error {
	norm, err := event.NewIdentity(string(id))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
	}
	if norm != id {
		return fmt.Errorf("%w: %q is not normalized, use %q", ErrInvalidIdentity, id, norm)
	}
	return nil
}

func (c *SaleCore) treasuryState() TreasuryState {
	return TreasuryState{
		Total:     c.treasury.Total(),
		Committed: c.treasury.Committed(),
		Available: c.treasury.Available(),
		Raised:    c.balanceTracker.GetBalance(ledger.RaisedAccount()),
	}
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrOutsideSaleWindow):
		return "outside_window"
	case errors.Is(err, ErrBelowMinimum):
		return "below_minimum"
	case errors.Is(err, ErrCapacityExceeded):
		return "capacity"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrNothingToClaim):
		return "nothing_to_claim"
	case errors.Is(err, ErrFullyClaimed):
		return "fully_claimed"
	case errors.Is(err, ErrStillLocked):
		return "still_locked"
	case errors.Is(err, ErrSaleNotEnded):
		return "sale_not_ended"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrInvalidIdentity):
		return "invalid"
	default:
		return "other"
	}
}

func (c *SaleCore) recordRejected(eventType, reason string) {
	if c.metrics != nil {
		c.metrics.CoreEventsRejected.WithLabelValues(eventType, reason).Inc()
	}
}

func (c *SaleCore) recordApplied(eventType string, out *CoreOutput, start time.Time) {
	if c.metrics == nil {
		return
	}
	c.metrics.CoreEventsApplied.WithLabelValues(eventType).Inc()
	c.metrics.CoreEventDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
	c.metrics.CoreSequence.Set(float64(c.sequence))
	c.metrics.Participants.Set(float64(c.records.Len()))
	c.metrics.TreasuryAvailable.Set(toTokens(out.Treasury.Available, c.cfg.SaleAsset.Scale()))
	c.metrics.PaymentRaisedTokens.Set(toTokens(out.Treasury.Raised, c.cfg.PaymentAsset.Scale()))

	if out.Batch != nil {
		for _, j := range out.Batch.Journals {
			c.metrics.CoreJournals.WithLabelValues(j.JournalType.String()).Inc()
		}
	}
	if out.Grant != nil {
		source := "purchase"
		if out.Grant.Payment.IsZero() {
			source = "issue"
		}
		c.metrics.SaleUnitsGranted.WithLabelValues(source).Add(toTokens(out.Grant.Units, c.cfg.SaleAsset.Scale()))
	}
	if out.Claim != nil {
		c.metrics.ClaimsTotal.WithLabelValues(fmt.Sprintf("%t", out.Claim.Final)).Inc()
	}
}

// toTokens converts base units to whole tokens for gauges; precision loss is fine there
func toTokens(v, scale *uint256.Int) float64 {
	whole := new(uint256.Int).Div(v, scale)
	if !whole.IsUint64() {
		return float64(^uint64(0))
	}
	return float64(whole.Uint64())
}
