package orderbook

import (
	"github.com/holiman/uint256"

	"hybridbook/domain/market"
	"hybridbook/pkg/fixed"
)

type OrderID uint64

type Status uint8

const (
	Open Status = iota
	PartiallyFilled
	Filled
	Cancelled
)

func (s Status) String() string {
	switch s {
	case Open:
		return "open"
	case PartiallyFilled:
		return "partially_filled"
	case Filled:
		return "filled"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Order is a resting limit order. Records are never erased: a filled or
// cancelled order stays in the arena as a tombstone with Filled == Amount.
type Order struct {
	ID    OrderID
	Maker market.UserID
	Pool  market.PoolID
	Side  market.Side

	Price uint256.Int
	Slot  market.Slot

	Amount uint256.Int
	Filled uint256.Int
	// Locked is what this order still holds locked in the maker's balance.
	Locked uint256.Int

	Seq    uint64
	Status Status

	next int32
}

// Remaining is Amount - Filled.
func (o *Order) Remaining() uint256.Int {
	var r uint256.Int
	r.Sub(&o.Amount, &o.Filled)
	return r
}

// Terminal reports whether the order can no longer be filled or cancelled.
func (o *Order) Terminal() bool {
	return o.Filled.Eq(&o.Amount)
}

// LockFor is the lock a maker on side must hold to rest amount at price:
// floor(amount*price/SCALE) of quote for a buy, amount of base for a sell.
func LockFor(side market.Side, amount, price *uint256.Int) (uint256.Int, error) {
	if side == market.Sell {
		return *amount, nil
	}
	return fixed.QuoteValue(amount, price)
}
