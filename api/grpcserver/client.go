package grpcserver

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// Client calls the exchange service over conn using the JSON codec.
type Client struct {
	conn grpc.ClientConnInterface
}

func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// AsUser returns a context that identifies the caller as user.
func AsUser(ctx context.Context, user string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, UserMetadataKey, user)
}

func (c *Client) invoke(ctx context.Context, method string, in, out any) error {
	return c.conn.Invoke(ctx, "/"+serviceName+"/"+method, in, out, grpc.CallContentSubtype(CodecName))
}

func (c *Client) Deposit(ctx context.Context, in *DepositRequest) (*Ack, error) {
	out := new(Ack)
	return out, c.invoke(ctx, "Deposit", in, out)
}

func (c *Client) Withdraw(ctx context.Context, in *WithdrawRequest) (*Ack, error) {
	out := new(Ack)
	return out, c.invoke(ctx, "Withdraw", in, out)
}

func (c *Client) PlaceOrder(ctx context.Context, in *PlaceOrderRequest) (*PlaceOrderResponse, error) {
	out := new(PlaceOrderResponse)
	return out, c.invoke(ctx, "PlaceOrder", in, out)
}

func (c *Client) CancelOrder(ctx context.Context, in *OrderRequest) (*Ack, error) {
	out := new(Ack)
	return out, c.invoke(ctx, "CancelOrder", in, out)
}

func (c *Client) Swap(ctx context.Context, in *SwapRequest) (*SwapResponse, error) {
	out := new(SwapResponse)
	return out, c.invoke(ctx, "Swap", in, out)
}

func (c *Client) GetOrder(ctx context.Context, in *OrderRequest) (*OrderResponse, error) {
	out := new(OrderResponse)
	return out, c.invoke(ctx, "GetOrder", in, out)
}

func (c *Client) GetBalance(ctx context.Context, in *BalanceRequest) (*BalanceResponse, error) {
	out := new(BalanceResponse)
	return out, c.invoke(ctx, "GetBalance", in, out)
}

func (c *Client) Depth(ctx context.Context, in *DepthRequest) (*DepthResponse, error) {
	out := new(DepthResponse)
	return out, c.invoke(ctx, "Depth", in, out)
}

func (c *Client) ListPools(ctx context.Context, in *PoolsRequest) (*PoolsResponse, error) {
	out := new(PoolsResponse)
	return out, c.invoke(ctx, "ListPools", in, out)
}
