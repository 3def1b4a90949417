// Package curve is an in-process constant-product liquidity curve
// (x*y = k, no fee). It stands in for the external curve engine in local
// runs and tests.
package curve

import (
	"context"
	"sync"

	"github.com/holiman/uint256"

	"hybridbook/domain/market"
	"hybridbook/pkg/errors"
	"hybridbook/pkg/fixed"
)

var (
	ErrUnknownPool       = errors.New("curve_unknown_pool", errors.CategoryNotFound, "curve has no such pool")
	ErrInsufficientDepth = errors.New("curve_insufficient_depth", errors.CategoryResource, "curve reserves too small")
)

type reserves struct {
	base  uint256.Int
	quote uint256.Int
}

// ConstantProduct is safe for concurrent use.
type ConstantProduct struct {
	mu    sync.Mutex
	pools map[market.PoolID]*reserves
}

func NewConstantProduct() *ConstantProduct {
	return &ConstantProduct{pools: make(map[market.PoolID]*reserves)}
}

// AddPool sets the reserves of pool.
func (c *ConstantProduct) AddPool(pool market.PoolID, base, quote *uint256.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pools[pool] = &reserves{base: *base, quote: *quote}
}

// Reserves returns the current reserves of pool.
func (c *ConstantProduct) Reserves(pool market.PoolID) (base, quote uint256.Int, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.pools[pool]
	if !ok {
		return base, quote, false
	}
	return r.base, r.quote, true
}

func (c *ConstantProduct) SpotPrice(_ context.Context, pool market.PoolID) (uint256.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, err := c.lookup(pool)
	if err != nil {
		return uint256.Int{}, err
	}
	if r.base.IsZero() {
		return uint256.Int{}, errors.Wrapf(ErrInsufficientDepth, "pool %s", pool)
	}
	return fixed.MulDiv(&r.quote, fixed.Scale, &r.base)
}

func (c *ConstantProduct) Quote(_ context.Context, pool market.PoolID, side market.Side, amount *uint256.Int) (uint256.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, err := c.lookup(pool)
	if err != nil {
		return uint256.Int{}, err
	}
	out, _, err := trade(r, side, amount)
	return out, err
}

func (c *ConstantProduct) Execute(_ context.Context, pool market.PoolID, side market.Side, amount *uint256.Int) (uint256.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, err := c.lookup(pool)
	if err != nil {
		return uint256.Int{}, err
	}
	out, next, err := trade(r, side, amount)
	if err != nil {
		return uint256.Int{}, err
	}
	*r = next
	return out, nil
}

// Revert takes back an Execute of amount that returned proceeds, for a
// command that rolled back after the curve had traded.
func (c *ConstantProduct) Revert(pool market.PoolID, side market.Side, amount, proceeds *uint256.Int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, err := c.lookup(pool)
	if err != nil {
		return err
	}
	var next reserves
	if side == market.Sell {
		// the sale added amount base and paid proceeds quote out
		if next.base, err = fixed.Sub(&r.base, amount); err != nil {
			return err
		}
		if next.quote, err = fixed.Add(&r.quote, proceeds); err != nil {
			return err
		}
	} else {
		if next.base, err = fixed.Add(&r.base, amount); err != nil {
			return err
		}
		if next.quote, err = fixed.Sub(&r.quote, proceeds); err != nil {
			return err
		}
	}
	*r = next
	return nil
}

func (c *ConstantProduct) lookup(pool market.PoolID) (*reserves, error) {
	r, ok := c.pools[pool]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownPool, "pool %s", pool)
	}
	return r, nil
}

// trade prices amount base against r. A Sell adds amount to the base
// reserve and returns floor(quote*amount/(base+amount)); a Buy removes
// amount and returns the quote paid, rounded up.
func trade(r *reserves, side market.Side, amount *uint256.Int) (uint256.Int, reserves, error) {
	next := *r
	if side == market.Sell {
		denom, err := fixed.Add(&r.base, amount)
		if err != nil {
			return uint256.Int{}, next, err
		}
		out, err := fixed.MulDiv(&r.quote, amount, &denom)
		if err != nil {
			return uint256.Int{}, next, err
		}
		next.base = denom
		next.quote.Sub(&r.quote, &out)
		return out, next, nil
	}

	if !amount.Lt(&r.base) {
		return uint256.Int{}, next, errors.Wrapf(ErrInsufficientDepth, "buy %s with %s in reserve", amount.Dec(), r.base.Dec())
	}
	var denom uint256.Int
	denom.Sub(&r.base, amount)
	in, err := fixed.MulDiv(&r.quote, amount, &denom)
	if err != nil {
		return uint256.Int{}, next, err
	}
	// round up so the product never decreases
	var rem uint256.Int
	if !rem.MulMod(&r.quote, amount, &denom).IsZero() {
		in.AddUint64(&in, 1)
	}
	next.base = denom
	if _, overflow := next.quote.AddOverflow(&r.quote, &in); overflow {
		return uint256.Int{}, next, errors.WithStack(errors.ErrOverflow)
	}
	return in, next, nil
}
