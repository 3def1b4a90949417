package grpcserver

import "hybridbook/service"

// Amounts are decimal strings of raw units. Prices are decimals such as
// "0.99". The caller is identified by the x-user-id metadata key.

type DepositRequest struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

type WithdrawRequest = DepositRequest

type Ack struct {
	Status string `json:"status"`
}

type PlaceOrderRequest struct {
	Pool   string `json:"pool"`
	Side   string `json:"side"`
	Price  string `json:"price"`
	Amount string `json:"amount"`
}

type PlaceOrderResponse struct {
	OrderID uint64 `json:"order_id"`
}

type OrderRequest struct {
	OrderID uint64 `json:"order_id"`
}

type SwapRequest struct {
	Pool   string `json:"pool"`
	Side   string `json:"side"`
	Amount string `json:"amount"`
}

type SwapResponse = service.SwapView

type OrderResponse = service.OrderView

type BalanceRequest struct {
	Asset string `json:"asset"`
}

type BalanceResponse struct {
	Asset     string `json:"asset"`
	Total     string `json:"total"`
	Locked    string `json:"locked"`
	Available string `json:"available"`
}

type DepthRequest struct {
	Pool   string `json:"pool"`
	Side   string `json:"side"`
	Levels int    `json:"levels"`
}

type Level struct {
	Price  string `json:"price"`
	Amount string `json:"amount"`
	Orders int    `json:"orders"`
}

type DepthResponse struct {
	Levels []Level `json:"levels"`
}

type PoolsRequest struct{}

type Pool struct {
	ID           string `json:"id"`
	Base         string `json:"base"`
	Quote        string `json:"quote"`
	TickSpacing  string `json:"tick_spacing"`
	MinPrice     string `json:"min_price"`
	MaxPrice     string `json:"max_price"`
	MaxDeviation string `json:"max_deviation"`
}

type PoolsResponse struct {
	Pools []Pool `json:"pools"`
}
