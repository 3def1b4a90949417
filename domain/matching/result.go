package matching

import (
	"github.com/holiman/uint256"

	"hybridbook/domain/market"
	"hybridbook/domain/orderbook"
	"hybridbook/pkg/fixed"
)

// Fill is one resting order consumed by a swap.
type Fill struct {
	OrderID orderbook.OrderID
	Maker   market.UserID
	Price   uint256.Int
	Amount  uint256.Int
	// Value is floor(Amount*Price/SCALE) in quote.
	Value uint256.Int
	// Done is set when the fill completed the order.
	Done bool
}

// Result of a swap. ClobFilled + AmmFilled == Requested.
type Result struct {
	Pool      market.PoolID
	Taker     market.UserID
	Side      market.Side
	Requested uint256.Int
	Spot      uint256.Int

	ClobFilled   uint256.Int
	ClobProceeds uint256.Int
	AmmFilled    uint256.Int
	AmmProceeds  uint256.Int

	// ReferenceProceeds is what the curve quoted for the whole request
	// before anything executed.
	ReferenceProceeds uint256.Int
	// Settled is the quote the taker received (Sell) or paid (Buy) before
	// the refund.
	Settled uint256.Int
	Refund  uint256.Int
	// Dust is price improvement at or below the side's threshold. It is
	// not refunded to the taker but credited to the pool treasury rather
	// than dropped, so ledger totals per asset still match custody.
	Dust uint256.Int

	Fills []Fill
}

// VWAP is the volume-weighted price of the book leg, zero when no resting
// order filled.
func (r *Result) VWAP() uint256.Int {
	if r.ClobFilled.IsZero() {
		return uint256.Int{}
	}
	v, err := fixed.MulDiv(&r.ClobProceeds, fixed.Scale, &r.ClobFilled)
	if err != nil {
		return uint256.Int{}
	}
	return v
}

// Improvement is Refund + Dust.
func (r *Result) Improvement() uint256.Int {
	var v uint256.Int
	v.Add(&r.Refund, &r.Dust)
	return v
}
