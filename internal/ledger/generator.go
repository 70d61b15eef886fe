package ledger

import (
	"SaleLedger/internal/event"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// JournalGenerator creates balanced journal batches from events
type JournalGenerator struct {
	sequence int64
}

func NewJournalGenerator(startSequence int64) *JournalGenerator {
	return &JournalGenerator{
		sequence: startSequence,
	}
}

// SetSequence aligns the generator with the core after a restore
func (jg *JournalGenerator) SetSequence(seq int64) {
	jg.sequence = seq
}

// leg is one transfer of a batch under construction
type leg struct {
	debit  AccountKey
	credit AccountKey
	amount *uint256.Int
	kind   JournalType
}

// build assembles a batch from its legs. Zero-amount legs are dropped so a
// 0% immediate share or a dust-sized claim never produces an empty journal.
func (jg *JournalGenerator) build(eventRef string, ts time.Time, legs ...leg) *Batch {
	batchID := uuid.New()
	micros := ts.UnixMicro()

	batch := &Batch{
		BatchID:   batchID,
		EventRef:  eventRef,
		Sequence:  jg.sequence,
		Timestamp: micros,
		Journals:  make([]Journal, 0, len(legs)),
	}

	for _, l := range legs {
		if l.amount == nil || l.amount.IsZero() {
			continue
		}
		batch.Journals = append(batch.Journals, Journal{
			JournalID:     uuid.New(),
			BatchID:       batchID,
			EventRef:      eventRef,
			Sequence:      jg.sequence,
			DebitAccount:  l.debit,
			CreditAccount: l.credit,
			AssetID:       l.debit.AssetID,
			Amount:        *l.amount,
			JournalType:   l.kind,
			Timestamp:     micros,
		})
	}

	jg.sequence++
	return batch
}

// GeneratePaymentDeposit moves funds: external:deposits → user:wallet (payment)
func (jg *JournalGenerator) GeneratePaymentDeposit(evt *event.PaymentDeposited) *Batch {
	return jg.build(evt.IdempotencyKey(), evt.Timestamp, leg{
		debit:  NewUserAccountKey(evt.Account, AssetPayment),
		credit: NewExternalAccountKey(SubTypeExternalDeposits, AssetPayment),
		amount: evt.Amount,
		kind:   JournalTypePaymentDeposit,
	})
}

// GeneratePurchase collects payment and delivers the grant in one batch.
//
//	user:wallet(payment)   → system:raised           payment
//	external:issuance      → user:wallet(sale)       immediate
//	external:issuance      → system:vesting_escrow   locked
func (jg *JournalGenerator) GeneratePurchase(
	evt *event.PurchaseRequested,
	payment, immediate, locked *uint256.Int,
) *Batch {
	return jg.build(evt.IdempotencyKey(), evt.Timestamp,
		leg{
			debit:  RaisedAccount(),
			credit: NewUserAccountKey(evt.Buyer, AssetPayment),
			amount: payment,
			kind:   JournalTypePurchasePayment,
		},
		jg.immediateLeg(evt.Buyer, immediate),
		jg.lockLeg(locked),
	)
}

// GenerateIssue delivers a grant without payment
func (jg *JournalGenerator) GenerateIssue(evt *event.IssueRequested, immediate, locked *uint256.Int) *Batch {
	return jg.build(evt.IdempotencyKey(), evt.Timestamp,
		jg.immediateLeg(evt.Beneficiary, immediate),
		jg.lockLeg(locked),
	)
}

// GenerateClaim moves funds: system:vesting_escrow → user:wallet (sale)
func (jg *JournalGenerator) GenerateClaim(evt *event.ClaimRequested, amount *uint256.Int) *Batch {
	return jg.build(evt.IdempotencyKey(), evt.Timestamp, leg{
		debit:  NewUserAccountKey(evt.Claimant, AssetSale),
		credit: EscrowAccount(),
		amount: amount,
		kind:   JournalTypeClaimRelease,
	})
}

// GenerateUnsoldSweep mints the unsold treasury: external:issuance → user:wallet (sale)
func (jg *JournalGenerator) GenerateUnsoldSweep(evt *event.UnsoldSweepRequested, amount *uint256.Int) *Batch {
	return jg.build(evt.IdempotencyKey(), evt.Timestamp, leg{
		debit:  NewUserAccountKey(evt.To, AssetSale),
		credit: NewExternalAccountKey(SubTypeExternalIssuance, AssetSale),
		amount: amount,
		kind:   JournalTypeUnsoldSweep,
	})
}

// GenerateRaisedSweep moves funds: system:raised → user:wallet (payment)
func (jg *JournalGenerator) GenerateRaisedSweep(evt *event.RaisedSweepRequested, amount *uint256.Int) *Batch {
	return jg.build(evt.IdempotencyKey(), evt.Timestamp, leg{
		debit:  NewUserAccountKey(evt.To, AssetPayment),
		credit: RaisedAccount(),
		amount: amount,
		kind:   JournalTypeRaisedSweep,
	})
}

func (jg *JournalGenerator) immediateLeg(holder event.Identity, amount *uint256.Int) leg {
	return leg{
		debit:  NewUserAccountKey(holder, AssetSale),
		credit: NewExternalAccountKey(SubTypeExternalIssuance, AssetSale),
		amount: amount,
		kind:   JournalTypeImmediateRelease,
	}
}

func (jg *JournalGenerator) lockLeg(amount *uint256.Int) leg {
	return leg{
		debit:  EscrowAccount(),
		credit: NewExternalAccountKey(SubTypeExternalIssuance, AssetSale),
		amount: amount,
		kind:   JournalTypeVestingLock,
	}
}
