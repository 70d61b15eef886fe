package server

import (
	"SaleLedger/internal/ingestion"
	"SaleLedger/internal/observability"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const maxBodyBytes = 64 << 10

// NewGatewayMux routes the HTTP/JSON API straight onto srv, in process.
// x-sale-identity is copied into incoming metadata so handlers see the same
// caller they would over gRPC.
func NewGatewayMux(srv SaleServiceServer, metrics *observability.Metrics) (*runtime.ServeMux, error) {
	mux := runtime.NewServeMux()

	routes := []struct {
		method, pattern, name string
		handler               runtime.HandlerFunc
	}{
		{"POST", "/v1/purchases", "Purchase", post(srv.Purchase)},
		{"POST", "/v1/issues", "Issue", post(srv.Issue)},
		{"POST", "/v1/claims", "Claim", post(srv.Claim)},
		{"POST", "/v1/deposits", "Deposit", post(srv.Deposit)},
		{"POST", "/v1/sweeps/unsold", "SweepUnsold", post(srv.SweepUnsold)},
		{"POST", "/v1/sweeps/raised", "SweepRaised", post(srv.SweepRaised)},
		{"GET", "/v1/records/{identity}", "GetRecord", func(w http.ResponseWriter, r *http.Request, p map[string]string) {
			resp, err := srv.GetRecord(incoming(r), &GetRecordRequest{Identity: p["identity"]})
			writeResult(w, resp, err)
		}},
		{"GET", "/v1/treasury", "GetTreasury", func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
			resp, err := srv.GetTreasury(incoming(r), &GetTreasuryRequest{})
			writeResult(w, resp, err)
		}},
		{"GET", "/v1/claims/{identity}", "ListClaims", func(w http.ResponseWriter, r *http.Request, p map[string]string) {
			req, err := historyRequest(r, p["identity"])
			if err != nil {
				writeResult(w, nil, err)
				return
			}
			resp, err := srv.ListClaims(incoming(r), req)
			writeResult(w, resp, err)
		}},
		{"GET", "/v1/journals/{identity}", "ListJournals", func(w http.ResponseWriter, r *http.Request, p map[string]string) {
			req, err := historyRequest(r, p["identity"])
			if err != nil {
				writeResult(w, nil, err)
				return
			}
			resp, err := srv.ListJournals(incoming(r), req)
			writeResult(w, resp, err)
		}},
		{"GET", "/v1/integrity", "VerifyIntegrity", func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
			resp, err := srv.VerifyIntegrity(incoming(r), &IntegrityRequest{})
			writeResult(w, resp, err)
		}},
	}

	for _, rt := range routes {
		if err := mux.HandlePath(rt.method, rt.pattern, instrumentHTTP(metrics, rt.name, rt.handler)); err != nil {
			return nil, err
		}
	}
	return mux, nil
}

// post decodes a JSON body into Req and calls fn.
func post[Req, Resp any](fn func(context.Context, *Req) (*Resp, error)) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
		req := new(Req)
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			writeResult(w, nil, err)
			return
		}
		if err := json.Unmarshal(body, req); err != nil {
			writeResult(w, nil, errors.Join(ingestion.ErrInvalidCommand, err))
			return
		}
		resp, err := fn(incoming(r), req)
		writeResult(w, resp, err)
	}
}

func incoming(r *http.Request) context.Context {
	md := metadata.MD{}
	if id := r.Header.Get(ingestion.IdentityHeader); id != "" {
		md.Set(ingestion.IdentityHeader, id)
	}
	return metadata.NewIncomingContext(r.Context(), md)
}

func historyRequest(r *http.Request, identity string) (*HistoryRequest, error) {
	req := &HistoryRequest{Identity: identity}
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, errors.Join(ingestion.ErrInvalidCommand, err)
		}
		req.Limit = n
	}
	if v := q.Get("before"); v != "" {
		seq, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, errors.Join(ingestion.ErrInvalidCommand, err)
		}
		req.BeforeSequence = &seq
	}
	return req, nil
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeResult(w http.ResponseWriter, resp any, err error) {
	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		st := status.Convert(toStatus(err))
		if rec, ok := w.(*codeRecorder); ok {
			rec.code = st.Code()
		}
		w.WriteHeader(runtime.HTTPStatusFromCode(st.Code()))
		json.NewEncoder(w).Encode(errorBody{Code: st.Code().String(), Message: st.Message()})
		return
	}
	json.NewEncoder(w).Encode(resp)
}
