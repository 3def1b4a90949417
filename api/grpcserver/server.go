// Package grpcserver exposes the exchange over gRPC. Messages are plain Go
// structs carried by a JSON codec; the service descriptor is declared by
// hand.
package grpcserver

import (
	"context"

	"github.com/holiman/uint256"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"hybridbook/domain/market"
	"hybridbook/domain/orderbook"
	"hybridbook/pkg/errors"
	"hybridbook/pkg/fixed"
	"hybridbook/service"
)

// UserMetadataKey identifies the caller. Authentication happens upstream.
const UserMetadataKey = "x-user-id"

const (
	defaultDepth = 10
	maxDepth     = 500
)

// Server adapts service.Exchange to gRPC.
type Server struct {
	ex *service.Exchange
}

func NewServer(ex *service.Exchange) *Server {
	return &Server{ex: ex}
}

// -------------------- Commands --------------------

func (s *Server) Deposit(ctx context.Context, req *DepositRequest) (*Ack, error) {
	user, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		return nil, toStatus(err)
	}
	if err := s.ex.Deposit(ctx, user, market.Asset(req.Asset), &amount); err != nil {
		return nil, toStatus(err)
	}
	return &Ack{Status: "ok"}, nil
}

func (s *Server) Withdraw(ctx context.Context, req *WithdrawRequest) (*Ack, error) {
	user, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		return nil, toStatus(err)
	}
	if err := s.ex.Withdraw(ctx, user, market.Asset(req.Asset), &amount); err != nil {
		return nil, toStatus(err)
	}
	return &Ack{Status: "ok"}, nil
}

func (s *Server) PlaceOrder(ctx context.Context, req *PlaceOrderRequest) (*PlaceOrderResponse, error) {
	user, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	side, err := market.ParseSide(req.Side)
	if err != nil {
		return nil, toStatus(err)
	}
	price, err := fixed.ParsePrice(req.Price)
	if err != nil {
		return nil, toStatus(err)
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		return nil, toStatus(err)
	}

	id, err := s.ex.PlaceOrder(ctx, market.PoolID(req.Pool), user, side, &price, &amount)
	if err != nil {
		return nil, toStatus(err)
	}
	return &PlaceOrderResponse{OrderID: uint64(id)}, nil
}

func (s *Server) CancelOrder(ctx context.Context, req *OrderRequest) (*Ack, error) {
	user, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.ex.CancelOrder(ctx, user, orderbook.OrderID(req.OrderID)); err != nil {
		return nil, toStatus(err)
	}
	return &Ack{Status: "ok"}, nil
}

func (s *Server) Swap(ctx context.Context, req *SwapRequest) (*SwapResponse, error) {
	user, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	side, err := market.ParseSide(req.Side)
	if err != nil {
		return nil, toStatus(err)
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		return nil, toStatus(err)
	}

	res, err := s.ex.Swap(ctx, market.PoolID(req.Pool), user, side, &amount)
	if err != nil {
		return nil, toStatus(err)
	}
	return service.NewSwapView(&res), nil
}

// -------------------- Queries --------------------

// GetOrder only shows an order to its maker.
func (s *Server) GetOrder(ctx context.Context, req *OrderRequest) (*OrderResponse, error) {
	user, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	o, err := s.ex.GetOrder(ctx, orderbook.OrderID(req.OrderID))
	if err != nil {
		return nil, toStatus(err)
	}
	if o.Maker != user {
		return nil, status.Error(codes.NotFound, "order not found")
	}
	return service.NewOrderView(&o), nil
}

func (s *Server) GetBalance(ctx context.Context, req *BalanceRequest) (*BalanceResponse, error) {
	user, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	info, err := s.ex.GetBalanceInfo(ctx, user, market.Asset(req.Asset))
	if err != nil {
		return nil, toStatus(err)
	}
	return &BalanceResponse{
		Asset:     req.Asset,
		Total:     info.Total.Dec(),
		Locked:    info.Locked.Dec(),
		Available: info.Available.Dec(),
	}, nil
}

func (s *Server) Depth(ctx context.Context, req *DepthRequest) (*DepthResponse, error) {
	side, err := market.ParseSide(req.Side)
	if err != nil {
		return nil, toStatus(err)
	}
	levels := req.Levels
	switch {
	case levels <= 0:
		levels = defaultDepth
	case levels > maxDepth:
		levels = maxDepth
	}

	depth, err := s.ex.Depth(ctx, market.PoolID(req.Pool), side, levels)
	if err != nil {
		return nil, toStatus(err)
	}
	resp := &DepthResponse{Levels: make([]Level, 0, len(depth))}
	for _, d := range depth {
		resp.Levels = append(resp.Levels, Level{
			Price:  fixed.FormatPrice(&d.Price),
			Amount: d.Amount.Dec(),
			Orders: d.Orders,
		})
	}
	return resp, nil
}

func (s *Server) ListPools(ctx context.Context, _ *PoolsRequest) (*PoolsResponse, error) {
	pools, err := s.ex.Pools(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	resp := &PoolsResponse{Pools: make([]Pool, 0, len(pools))}
	for _, p := range pools {
		resp.Pools = append(resp.Pools, Pool{
			ID:           string(p.ID),
			Base:         string(p.Base),
			Quote:        string(p.Quote),
			TickSpacing:  fixed.FormatPrice(&p.TickSpacing),
			MinPrice:     fixed.FormatPrice(&p.MinPrice),
			MaxPrice:     fixed.FormatPrice(&p.MaxPrice),
			MaxDeviation: fixed.FormatPrice(&p.MaxDeviation),
		})
	}
	return resp, nil
}

// -------------------- Helpers --------------------

func caller(ctx context.Context) (market.UserID, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	if v := md.Get(UserMetadataKey); len(v) > 0 && v[0] != "" {
		return market.UserID(v[0]), nil
	}
	return "", status.Error(codes.Unauthenticated, "missing "+UserMetadataKey)
}

func parseAmount(s string) (uint256.Int, error) {
	if s == "" {
		return uint256.Int{}, errors.WithStack(errors.ErrZeroAmount)
	}
	return fixed.ParseDec(s)
}

// toStatus maps an error category to a gRPC code.
func toStatus(err error) error {
	code := codes.Internal
	switch errors.CategoryOf(err) {
	case errors.CategoryValidation:
		code = codes.InvalidArgument
	case errors.CategoryAuthorization:
		code = codes.PermissionDenied
	case errors.CategoryState, errors.CategoryResource:
		code = codes.FailedPrecondition
	case errors.CategoryNotFound:
		code = codes.NotFound
	case errors.CategoryArithmetic:
		code = codes.OutOfRange
	case errors.CategoryExternal:
		code = codes.Unavailable
	}
	if errors.Is(err, errors.ErrReentrant) {
		code = codes.Aborted
	}

	if c := errors.CodeOf(err); c != "" {
		return status.Error(code, string(c)+": "+err.Error())
	}
	return status.Error(code, err.Error())
}
