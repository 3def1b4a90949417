// Package market defines the vocabulary shared by the domain packages:
// identities, sides, pool configuration and price discretization.
package market

import (
	"github.com/holiman/uint256"

	"hybridbook/pkg/errors"
)

type (
	PoolID string
	UserID string
	Asset  string
)

// Side of an order or of a trade request.
//
// For a resting order, Buy means the maker bids quote for base; Sell means
// the maker offers base for quote. For a trade request, Sell means the taker
// supplies base and seeks quote; Buy means the taker supplies quote and seeks
// base.
type Side uint8

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return "unknown"
	}
}

// Valid reports whether s is Buy or Sell.
func (s Side) Valid() bool {
	return s == Buy || s == Sell
}

// Opposite returns the resting side a taker on s consumes.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// ParseSide maps "buy"/"sell".
func ParseSide(v string) (Side, error) {
	switch v {
	case "buy", "BUY", "bid", "BID":
		return Buy, nil
	case "sell", "SELL", "ask", "ASK":
		return Sell, nil
	default:
		return 0, errors.Wrapf(errors.ErrInvalidSide, "side %q", v)
	}
}

// Direction of a price-level scan.
type Direction int8

const (
	Down Direction = -1
	Up   Direction = 1
)

// Slot is a discretized price level index within a pool.
type Slot = uint32

// Amount is the numeric type of every amount, price and balance.
type Amount = uint256.Int
