package server_test

import (
	"SaleLedger/internal/core"
	"SaleLedger/internal/ingestion"
	"SaleLedger/internal/observability"
	"SaleLedger/internal/query"
	"SaleLedger/internal/server"
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

var saleStart = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

type stubHistory struct {
	claims []query.ClaimHistoryEntry
}

func (h *stubHistory) GetClaimHistory(_ context.Context, identity string, limit int, _ *int64) ([]query.ClaimHistoryEntry, error) {
	var out []query.ClaimHistoryEntry
	for _, c := range h.claims {
		if c.Identity == identity {
			out = append(out, c)
		}
	}
	return out, nil
}

func (h *stubHistory) GetJournalHistory(context.Context, string, int, *int64) ([]query.JournalHistoryEntry, error) {
	return nil, nil
}

func (h *stubHistory) VerifyIntegrity(context.Context) (*query.IntegrityReport, error) {
	return &query.IntegrityReport{IsHealthy: true}, nil
}

type fixture struct {
	core    *core.SaleCore
	clock   clockwork.FakeClock
	srv     *server.GRPCServer
	http    http.Handler
	metrics *observability.Metrics
}

func newFixture(t *testing.T, history server.HistoryReader) *fixture {
	t.Helper()
	c, err := core.NewSaleCore(core.DefaultSaleConfig(saleStart), core.AdminSet("0xadmin"),
		core.WithLogger(zerolog.Nop()))
	require.NoError(t, err)

	clock := clockwork.NewFakeClockAt(saleStart)
	seq := ingestion.NewSequencer(c, clock, c.LastTimestamp(), 16)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go seq.Run(ctx)

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	srv := server.NewGRPCServer("", "", &server.ServerDeps{
		Service:       server.NewSaleService(seq, c, history),
		Metrics:       metrics,
		HealthChecker: observability.NewHealthChecker(),
	})
	h, err := srv.Handler()
	require.NoError(t, err)
	return &fixture{core: c, clock: clock, srv: srv, http: h, metrics: metrics}
}

func (f *fixture) do(t *testing.T, method, path, identity string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if identity != "" {
		req.Header.Set(ingestion.IdentityHeader, identity)
	}
	rec := httptest.NewRecorder()
	f.http.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) tokens(n uint64) string {
	return f.core.Config().SaleAsset.Units(n).Dec()
}

// fund deposits exactly the payment for n tokens
func (f *fixture) fund(t *testing.T, identity string, n uint64) {
	t.Helper()
	cfg := f.core.Config()
	rec := f.do(t, "POST", "/v1/deposits", identity, server.DepositRequest{
		DepositID: uuid.NewString(),
		Amount:    cfg.PaymentFor(cfg.SaleAsset.Units(n)).Dec(),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestHTTP_PurchaseAndRead(t *testing.T) {
	f := newFixture(t, nil)
	f.fund(t, "0xalice", 10_000)

	rec := f.do(t, "POST", "/v1/purchases", "0xAlice", server.PurchaseRequest{
		RequestID: uuid.NewString(),
		Units:     f.tokens(10_000),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var grant server.GrantResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &grant))
	assert.Equal(t, "0xalice", grant.Beneficiary)
	assert.Equal(t, f.tokens(500), grant.Immediate)
	assert.Equal(t, f.tokens(9_500), grant.Locked)
	assert.Equal(t, int64(1), grant.Sequence)

	rec = f.do(t, "GET", "/v1/records/0xalice", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var record server.RecordResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &record))
	assert.Equal(t, f.tokens(500), record.LiquidBalance)
	assert.Equal(t, "0", record.PaymentBalance)
	require.NotNil(t, record.NextClaimAt)
	assert.True(t, record.NextClaimAt.Equal(saleStart.Add(f.core.Config().CliffDuration)))

	rec = f.do(t, "GET", "/v1/treasury", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var tr server.TreasuryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tr))
	assert.Equal(t, f.tokens(10_000), tr.Committed)
	assert.Equal(t, int64(1), tr.AsOfSequence)

	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.QueryRequests.WithLabelValues("Purchase")))
}

func TestHTTP_ErrorMapping(t *testing.T) {
	f := newFixture(t, nil)
	f.fund(t, "0xalice", 20_000)

	reqID := uuid.NewString()
	cases := []struct {
		name     string
		method   string
		path     string
		identity string
		body     any
		want     int
	}{
		{"missing identity", "POST", "/v1/claims", "", server.ClaimRequest{RequestID: uuid.NewString()}, http.StatusUnauthorized},
		{"bad request id", "POST", "/v1/claims", "0xalice", server.ClaimRequest{RequestID: "x"}, http.StatusBadRequest},
		{"below minimum", "POST", "/v1/purchases", "0xalice", server.PurchaseRequest{RequestID: uuid.NewString(), Units: f.tokens(1)}, http.StatusBadRequest},
		{"not admin", "POST", "/v1/issues", "0xalice", server.IssueRequest{RequestID: uuid.NewString(), Beneficiary: "0xbob", Units: f.tokens(1)}, http.StatusForbidden},
		{"first purchase", "POST", "/v1/purchases", "0xalice", server.PurchaseRequest{RequestID: reqID, Units: f.tokens(10_000)}, http.StatusOK},
		{"duplicate", "POST", "/v1/purchases", "0xalice", server.PurchaseRequest{RequestID: reqID, Units: f.tokens(10_000)}, http.StatusConflict},
		{"unknown record", "GET", "/v1/records/0xnobody", "", nil, http.StatusNotFound},
		{"no read model", "GET", "/v1/claims/0xalice", "", nil, http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := f.do(t, tc.method, tc.path, tc.identity, tc.body)
			assert.Equal(t, tc.want, rec.Code, rec.Body.String())
		})
	}
}

func TestHTTP_ClaimHistoryFromReadModel(t *testing.T) {
	history := &stubHistory{claims: []query.ClaimHistoryEntry{
		{Sequence: 7, Identity: "0xalice", Amount: "790", ClaimNumber: 1},
		{Sequence: 8, Identity: "0xbob", Amount: "1", ClaimNumber: 1},
	}}
	f := newFixture(t, history)

	rec := f.do(t, "GET", "/v1/claims/0xALICE?limit=5", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp server.ClaimHistoryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Claims, 1)
	assert.Equal(t, int64(7), resp.Claims[0].Sequence)

	rec = f.do(t, "GET", "/v1/claims/0xalice?before=abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, "GET", "/v1/integrity", "0xalice", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = f.do(t, "GET", "/v1/integrity", "0xadmin", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHTTP_SweepAfterEnd(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, "POST", "/v1/sweeps/unsold", "0xadmin", server.SweepRequest{RequestID: uuid.NewString(), To: "0xtreasury"})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "sweep before the sale ends is a failed precondition")

	f.clock.Advance(f.core.Config().SaleEnd.Sub(saleStart) + time.Second)
	rec = f.do(t, "POST", "/v1/sweeps/unsold", "0xadmin", server.SweepRequest{RequestID: uuid.NewString(), To: "0xtreasury"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp server.SweepResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, f.tokens(60_000_000), resp.Amount)
}

func dialBufconn(t *testing.T, f *fixture) *server.SaleServiceClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go f.srv.ServeGRPC(ctx, lis)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	f.srv.SetServing(true)
	hc := healthpb.NewHealthClient(conn)
	resp, err := hc.Check(ctx, &healthpb.HealthCheckRequest{Service: "saleledger.v1.SaleService"})
	require.NoError(t, err)
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)

	return server.NewSaleServiceClient(conn)
}

func TestGRPC_PurchaseAndClaimGate(t *testing.T) {
	f := newFixture(t, nil)
	client := dialBufconn(t, f)
	f.fund(t, "0xalice", 10_000)

	ctx := metadata.AppendToOutgoingContext(context.Background(), ingestion.IdentityHeader, "0xalice")
	var grant server.GrantResponse
	require.NoError(t, client.Invoke(ctx, "Purchase", &server.PurchaseRequest{
		RequestID: uuid.NewString(),
		Units:     f.tokens(10_000),
	}, &grant))
	assert.Equal(t, f.tokens(9_500), grant.Locked)

	var claim server.ClaimResponse
	err := client.Invoke(ctx, "Claim", &server.ClaimRequest{RequestID: uuid.NewString()}, &claim)
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))

	f.clock.Advance(f.core.Config().CliffDuration)
	require.NoError(t, client.Invoke(ctx, "Claim", &server.ClaimRequest{RequestID: uuid.NewString()}, &claim))
	assert.Equal(t, f.tokens(790), claim.Amount)
	assert.Equal(t, uint32(1), claim.ClaimNumber)
	require.NotNil(t, claim.NextClaimAt)

	err = client.Invoke(context.Background(), "GetTreasury", &server.GetTreasuryRequest{}, &server.TreasuryResponse{})
	assert.NoError(t, err, "reads need no identity")

	assert.Equal(t, float64(1),
		testutil.ToFloat64(f.metrics.QueryErrors.WithLabelValues("Claim", codes.FailedPrecondition.String())))
}
