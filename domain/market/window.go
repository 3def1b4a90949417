package market

import "github.com/holiman/uint256"

// Window is an inclusive slot range scanned from From towards To.
type Window struct {
	From Slot
	To   Slot
	Dir  Direction
}

// Contains reports whether slot lies in the window.
func (w Window) Contains(slot Slot) bool {
	if w.Dir == Down {
		return slot <= w.From && slot >= w.To
	}
	return slot >= w.From && slot <= w.To
}

// Window returns the levels a taker on side may consume given the curve spot
// price: resting bids priced in [spot, spot+MaxDeviation] walked downward for
// a Sell taker, resting asks priced in [spot-MaxDeviation, spot] walked
// upward for a Buy taker. ok is false when no slot qualifies.
func (c *Config) Window(side Side, spot *uint256.Int) (w Window, ok bool) {
	var lo, hi uint256.Int
	if side == Sell {
		lo.Set(spot)
		if _, overflow := hi.AddOverflow(spot, &c.MaxDeviation); overflow {
			hi.SetAllOne()
		}
	} else {
		if _, underflow := lo.SubOverflow(spot, &c.MaxDeviation); underflow {
			lo.Clear()
		}
		hi.Set(spot)
	}

	if hi.Lt(&c.MinPrice) || lo.Gt(&c.MaxPrice) {
		return Window{}, false
	}
	loSlot := c.ceilSlot(&lo)
	hiSlot := c.floorSlot(&hi)
	if loSlot > hiSlot {
		return Window{}, false
	}

	if side == Sell {
		return Window{From: hiSlot, To: loSlot, Dir: Down}, true
	}
	return Window{From: loSlot, To: hiSlot, Dir: Up}, true
}

// ceilSlot is the lowest slot priced at or above p, for p <= MaxPrice.
func (c *Config) ceilSlot(p *uint256.Int) Slot {
	if !p.Gt(&c.MinPrice) {
		return 0
	}
	offset := new(uint256.Int).Sub(p, &c.MinPrice)
	var q, r uint256.Int
	q.DivMod(offset, &c.TickSpacing, &r)
	if !r.IsZero() {
		q.AddUint64(&q, 1)
	}
	return Slot(q.Uint64())
}

// floorSlot is the highest slot priced at or below p, for p >= MinPrice.
func (c *Config) floorSlot(p *uint256.Int) Slot {
	if !p.Lt(&c.MaxPrice) {
		return c.MaxSlot()
	}
	offset := new(uint256.Int).Sub(p, &c.MinPrice)
	return Slot(offset.Div(offset, &c.TickSpacing).Uint64())
}
