package grpcserver

import (
	"context"

	"google.golang.org/grpc"
)

const serviceName = "hybridbook.v1.Exchange"

// ExchangeServer is the method set registered under serviceName.
type ExchangeServer interface {
	Deposit(context.Context, *DepositRequest) (*Ack, error)
	Withdraw(context.Context, *WithdrawRequest) (*Ack, error)
	PlaceOrder(context.Context, *PlaceOrderRequest) (*PlaceOrderResponse, error)
	CancelOrder(context.Context, *OrderRequest) (*Ack, error)
	Swap(context.Context, *SwapRequest) (*SwapResponse, error)
	GetOrder(context.Context, *OrderRequest) (*OrderResponse, error)
	GetBalance(context.Context, *BalanceRequest) (*BalanceResponse, error)
	Depth(context.Context, *DepthRequest) (*DepthResponse, error)
	ListPools(context.Context, *PoolsRequest) (*PoolsResponse, error)
}

var _ ExchangeServer = (*Server)(nil)

func unary[Req, Resp any](name string, call func(ExchangeServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	full := "/" + serviceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(ExchangeServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: full}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(ExchangeServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*ExchangeServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Deposit", ExchangeServer.Deposit),
		unary("Withdraw", ExchangeServer.Withdraw),
		unary("PlaceOrder", ExchangeServer.PlaceOrder),
		unary("CancelOrder", ExchangeServer.CancelOrder),
		unary("Swap", ExchangeServer.Swap),
		unary("GetOrder", ExchangeServer.GetOrder),
		unary("GetBalance", ExchangeServer.GetBalance),
		unary("Depth", ExchangeServer.Depth),
		unary("ListPools", ExchangeServer.ListPools),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "hybridbook/v1/exchange",
}

func Register(s grpc.ServiceRegistrar, srv ExchangeServer) {
	s.RegisterService(&ServiceDesc, srv)
}
