package server

import (
	"context"

	"google.golang.org/grpc"
)

const serviceName = "saleledger.v1.SaleService"

// unary builds the method handler protoc-gen-go-grpc would generate for one RPC.
func unary[Req, Resp any](name string, call func(SaleServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	fullMethod := "/" + serviceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(SaleServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(SaleServiceServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// SaleServiceDesc describes saleledger.v1.SaleService. Messages are the
// structs in types.go, carried by the json codec.
var SaleServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*SaleServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Purchase", SaleServiceServer.Purchase),
		unary("Issue", SaleServiceServer.Issue),
		unary("Claim", SaleServiceServer.Claim),
		unary("Deposit", SaleServiceServer.Deposit),
		unary("SweepUnsold", SaleServiceServer.SweepUnsold),
		unary("SweepRaised", SaleServiceServer.SweepRaised),
		unary("GetRecord", SaleServiceServer.GetRecord),
		unary("GetTreasury", SaleServiceServer.GetTreasury),
		unary("ListClaims", SaleServiceServer.ListClaims),
		unary("ListJournals", SaleServiceServer.ListJournals),
		unary("VerifyIntegrity", SaleServiceServer.VerifyIntegrity),
	},
	Streams: []grpc.StreamDesc{},
}

func RegisterSaleServiceServer(s grpc.ServiceRegistrar, srv SaleServiceServer) {
	s.RegisterService(&SaleServiceDesc, srv)
}

// SaleServiceClient is a thin client over the json codec.
type SaleServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewSaleServiceClient(cc grpc.ClientConnInterface) *SaleServiceClient {
	return &SaleServiceClient{cc: cc}
}

// Invoke calls method with req and decodes into resp.
func (c *SaleServiceClient) Invoke(ctx context.Context, method string, req, resp any, opts ...grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	return c.cc.Invoke(ctx, "/"+serviceName+"/"+method, req, resp, opts...)
}
