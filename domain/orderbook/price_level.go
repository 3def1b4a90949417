package orderbook

import "github.com/holiman/uint256"

const none int32 = -1

// PriceLevel is a FIFO queue of arena indexes at a single slot. The queue
// may start with tombstones; they are evicted lazily when the head is read.
type PriceLevel struct {
	head int32
	tail int32
	// live counts queued orders with Filled < Amount.
	live int
}

func newLevel() *PriceLevel {
	return &PriceLevel{head: none, tail: none}
}

func (p *PriceLevel) Live() int {
	return p.live
}

// LevelDepth is one row of an aggregated depth view.
type LevelDepth struct {
	Price  uint256.Int
	Amount uint256.Int
	Orders int
}
