package server

import (
	"SaleLedger/internal/observability"
	"context"
	"net/http"
	"path"
	"time"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func observe(m *observability.Metrics, method string, start time.Time, code codes.Code) {
	if m == nil {
		return
	}
	m.QueryRequests.WithLabelValues(method).Inc()
	m.QueryDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	if code != codes.OK {
		m.QueryErrors.WithLabelValues(method, code.String()).Inc()
	}
}

// UnaryMetricsInterceptor records request count, latency and error codes per method.
func UnaryMetricsInterceptor(m *observability.Metrics) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		observe(m, path.Base(info.FullMethod), start, status.Code(err))
		return resp, err
	}
}

// codeRecorder carries the status code writeResult chose back to instrumentHTTP.
type codeRecorder struct {
	http.ResponseWriter
	code codes.Code
}

func instrumentHTTP(m *observability.Metrics, method string, h runtime.HandlerFunc) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, p map[string]string) {
		start := time.Now()
		rec := &codeRecorder{ResponseWriter: w, code: codes.OK}
		h(rec, r, p)
		observe(m, method, start, rec.code)
	}
}
