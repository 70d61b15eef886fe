package server

import (
	"SaleLedger/internal/core"
	"SaleLedger/internal/event"
	"SaleLedger/internal/ingestion"
	"SaleLedger/internal/ledger"
	fpmath "SaleLedger/internal/math"
	"SaleLedger/internal/query"
	"SaleLedger/internal/state"
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// Dispatcher submits commands to the core in order. *ingestion.Sequencer.
type Dispatcher interface {
	Submit(ctx context.Context, cmd ingestion.Command) (*core.CoreOutput, error)
}

// StateReader is the read side of *core.SaleCore.
type StateReader interface {
	RecordOf(id event.Identity) (state.ParticipantRecord, bool)
	NextClaimAt(id event.Identity) (time.Time, bool)
	Treasury() core.TreasuryState
	BalanceOf(asset ledger.AssetID, id event.Identity) *uint256.Int
	Config() core.SaleConfig
	GetSequence() int64
	IsAdmin(id event.Identity) bool
}

// HistoryReader serves projection-backed history. *query.QueryService.
type HistoryReader interface {
	GetClaimHistory(ctx context.Context, identity string, limit int, beforeSequence *int64) ([]query.ClaimHistoryEntry, error)
	GetJournalHistory(ctx context.Context, identity string, limit int, beforeSequence *int64) ([]query.JournalHistoryEntry, error)
	VerifyIntegrity(ctx context.Context) (*query.IntegrityReport, error)
}

// SaleServiceServer is implemented by SaleService and registered with SaleServiceDesc.
type SaleServiceServer interface {
	Purchase(context.Context, *PurchaseRequest) (*GrantResponse, error)
	Issue(context.Context, *IssueRequest) (*GrantResponse, error)
	Claim(context.Context, *ClaimRequest) (*ClaimResponse, error)
	Deposit(context.Context, *DepositRequest) (*DepositResponse, error)
	SweepUnsold(context.Context, *SweepRequest) (*SweepResponse, error)
	SweepRaised(context.Context, *SweepRequest) (*SweepResponse, error)
	GetRecord(context.Context, *GetRecordRequest) (*RecordResponse, error)
	GetTreasury(context.Context, *GetTreasuryRequest) (*TreasuryResponse, error)
	ListClaims(context.Context, *HistoryRequest) (*ClaimHistoryResponse, error)
	ListJournals(context.Context, *HistoryRequest) (*JournalHistoryResponse, error)
	VerifyIntegrity(context.Context, *IntegrityRequest) (*query.IntegrityReport, error)
}

// SaleService turns RPCs into sequenced commands and serves reads.
// The caller identity travels in the x-sale-identity metadata key.
type SaleService struct {
	dispatch Dispatcher
	state    StateReader
	history  HistoryReader // nil when the read model is not configured
}

func NewSaleService(dispatch Dispatcher, state StateReader, history HistoryReader) *SaleService {
	return &SaleService{dispatch: dispatch, state: state, history: history}
}

var _ SaleServiceServer = (*SaleService)(nil)

func (s *SaleService) Purchase(ctx context.Context, req *PurchaseRequest) (*GrantResponse, error) {
	cmd, err := newCommand(ctx, ingestion.KindPurchase, req.RequestID)
	if err != nil {
		return nil, toStatus(err)
	}
	if cmd.Amount, err = parseAmount("units", req.Units); err != nil {
		return nil, toStatus(err)
	}
	out, err := s.dispatch.Submit(ctx, cmd)
	if err != nil {
		return nil, toStatus(err)
	}
	return grantResponse(out), nil
}

func (s *SaleService) Issue(ctx context.Context, req *IssueRequest) (*GrantResponse, error) {
	cmd, err := newCommand(ctx, ingestion.KindIssue, req.RequestID)
	if err != nil {
		return nil, toStatus(err)
	}
	if cmd.Target, err = parseIdentity("beneficiary", req.Beneficiary); err != nil {
		return nil, toStatus(err)
	}
	if cmd.Amount, err = parseAmount("units", req.Units); err != nil {
		return nil, toStatus(err)
	}
	out, err := s.dispatch.Submit(ctx, cmd)
	if err != nil {
		return nil, toStatus(err)
	}
	return grantResponse(out), nil
}

func (s *SaleService) Claim(ctx context.Context, req *ClaimRequest) (*ClaimResponse, error) {
	cmd, err := newCommand(ctx, ingestion.KindClaim, req.RequestID)
	if err != nil {
		return nil, toStatus(err)
	}
	out, err := s.dispatch.Submit(ctx, cmd)
	if err != nil {
		return nil, toStatus(err)
	}

	c := out.Claim
	resp := &ClaimResponse{
		Sequence:    out.Envelope.Sequence,
		Amount:      c.Amount.Dec(),
		ClaimNumber: c.ClaimNumber,
		Final:       c.Final,
		Remaining:   c.Remaining.Dec(),
	}
	if next, ok := s.state.NextClaimAt(cmd.Caller); ok {
		resp.NextClaimAt = &next
	}
	return resp, nil
}

func (s *SaleService) Deposit(ctx context.Context, req *DepositRequest) (*DepositResponse, error) {
	cmd, err := newCommand(ctx, ingestion.KindDeposit, req.DepositID)
	if err != nil {
		return nil, toStatus(err)
	}
	if cmd.Amount, err = parseAmount("amount", req.Amount); err != nil {
		return nil, toStatus(err)
	}
	out, err := s.dispatch.Submit(ctx, cmd)
	if err != nil {
		return nil, toStatus(err)
	}
	return &DepositResponse{
		Sequence: out.Envelope.Sequence,
		Balance:  s.state.BalanceOf(ledger.AssetPayment, cmd.Caller).Dec(),
	}, nil
}

func (s *SaleService) SweepUnsold(ctx context.Context, req *SweepRequest) (*SweepResponse, error) {
	return s.sweep(ctx, ingestion.KindSweepUnsold, req)
}

func (s *SaleService) SweepRaised(ctx context.Context, req *SweepRequest) (*SweepResponse, error) {
	return s.sweep(ctx, ingestion.KindSweepRaised, req)
}

func (s *SaleService) sweep(ctx context.Context, kind ingestion.CommandKind, req *SweepRequest) (*SweepResponse, error) {
	cmd, err := newCommand(ctx, kind, req.RequestID)
	if err != nil {
		return nil, toStatus(err)
	}
	if cmd.Target, err = parseIdentity("to", req.To); err != nil {
		return nil, toStatus(err)
	}
	out, err := s.dispatch.Submit(ctx, cmd)
	if err != nil {
		return nil, toStatus(err)
	}
	return &SweepResponse{Sequence: out.Envelope.Sequence, Amount: out.Swept.Dec()}, nil
}

func (s *SaleService) GetRecord(ctx context.Context, req *GetRecordRequest) (*RecordResponse, error) {
	id, err := parseIdentity("identity", req.Identity)
	if err != nil {
		return nil, toStatus(err)
	}
	// Read the sequence first so as_of_sequence never claims more than the record reflects
	asOf := s.state.GetSequence() - 1
	r, ok := s.state.RecordOf(id)
	if !ok {
		return nil, status.Errorf(codes.NotFound, "no record for %s", id)
	}

	resp := &RecordResponse{
		Identity:          r.Identity.String(),
		TotalAllocated:    r.TotalAllocated.Dec(),
		LiquidBalance:     r.LiquidBalance.Dec(),
		PendingForClaim:   r.PendingForClaim.Dec(),
		LockedAtVestStart: r.LockedAtVestStart.Dec(),
		VestStart:         r.VestStart,
		NumUnlocks:        r.NumUnlocks,
		PaymentBalance:    s.state.BalanceOf(ledger.AssetPayment, id).Dec(),
		AsOfSequence:      asOf,
	}
	if !r.LastClaimAt.IsZero() {
		t := r.LastClaimAt
		resp.LastClaimAt = &t
	}
	if next, ok := s.state.NextClaimAt(id); ok {
		resp.NextClaimAt = &next
	}
	return resp, nil
}

func (s *SaleService) GetTreasury(ctx context.Context, _ *GetTreasuryRequest) (*TreasuryResponse, error) {
	asOf := s.state.GetSequence() - 1
	t := s.state.Treasury()
	cfg := s.state.Config()
	return &TreasuryResponse{
		Total:        t.Total.Dec(),
		Committed:    t.Committed.Dec(),
		Available:    t.Available.Dec(),
		Raised:       t.Raised.Dec(),
		SaleStart:    cfg.SaleStart,
		SaleEnd:      cfg.SaleEnd,
		AsOfSequence: asOf,
	}, nil
}

func (s *SaleService) ListClaims(ctx context.Context, req *HistoryRequest) (*ClaimHistoryResponse, error) {
	if s.history == nil {
		return nil, status.Error(codes.Unavailable, "read model not configured")
	}
	id, err := parseIdentity("identity", req.Identity)
	if err != nil {
		return nil, toStatus(err)
	}
	claims, err := s.history.GetClaimHistory(ctx, id.String(), req.Limit, req.BeforeSequence)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ClaimHistoryResponse{Claims: claims}, nil
}

func (s *SaleService) ListJournals(ctx context.Context, req *HistoryRequest) (*JournalHistoryResponse, error) {
	if s.history == nil {
		return nil, status.Error(codes.Unavailable, "read model not configured")
	}
	id, err := parseIdentity("identity", req.Identity)
	if err != nil {
		return nil, toStatus(err)
	}
	journals, err := s.history.GetJournalHistory(ctx, id.String(), req.Limit, req.BeforeSequence)
	if err != nil {
		return nil, toStatus(err)
	}
	return &JournalHistoryResponse{Journals: journals}, nil
}

// VerifyIntegrity is restricted to operators since it scans the whole log.
func (s *SaleService) VerifyIntegrity(ctx context.Context, _ *IntegrityRequest) (*query.IntegrityReport, error) {
	if s.history == nil {
		return nil, status.Error(codes.Unavailable, "read model not configured")
	}
	caller, err := callerFrom(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	if !s.state.IsAdmin(caller) {
		return nil, toStatus(core.ErrUnauthorized)
	}
	report, err := s.history.VerifyIntegrity(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return report, nil
}

// --- helpers ---

func newCommand(ctx context.Context, kind ingestion.CommandKind, requestID string) (ingestion.Command, error) {
	caller, err := callerFrom(ctx)
	if err != nil {
		return ingestion.Command{}, err
	}
	id, err := uuid.Parse(requestID)
	if err != nil {
		return ingestion.Command{}, fmt.Errorf("%w: request id: %v", ingestion.ErrInvalidCommand, err)
	}
	return ingestion.Command{Kind: kind, RequestID: id, Caller: caller}, nil
}

// callerFrom reads the caller identity from incoming metadata.
func callerFrom(ctx context.Context) (event.Identity, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	vals := md.Get(ingestion.IdentityHeader)
	if len(vals) == 0 || vals[0] == "" {
		return "", errMissingIdentity
	}
	id, err := event.NewIdentity(vals[0])
	if err != nil {
		return "", fmt.Errorf("%w: %v", core.ErrInvalidIdentity, err)
	}
	return id, nil
}

func parseIdentity(field, s string) (event.Identity, error) {
	id, err := event.NewIdentity(s)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ingestion.ErrInvalidCommand, field, err)
	}
	return id, nil
}

func parseAmount(field, s string) (*uint256.Int, error) {
	v, err := fpmath.ParseAmount(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ingestion.ErrInvalidCommand, field, err)
	}
	return v, nil
}

func grantResponse(out *core.CoreOutput) *GrantResponse {
	g := out.Grant
	return &GrantResponse{
		Sequence:    out.Envelope.Sequence,
		Beneficiary: g.Beneficiary.String(),
		Units:       g.Units.Dec(),
		Immediate:   g.Immediate.Dec(),
		Locked:      g.Locked.Dec(),
		Payment:     g.Payment.Dec(),
	}
}
