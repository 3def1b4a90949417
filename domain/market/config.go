package market

import (
	"github.com/holiman/uint256"

	"hybridbook/pkg/errors"
	"hybridbook/pkg/fixed"
)

// BitsPerWord is the width of one price-index word.
const BitsPerWord = 256

// Config is fixed at pool creation.
type Config struct {
	ID    PoolID
	Base  Asset
	Quote Asset

	// TickSpacing is the price increment between adjacent slots.
	TickSpacing uint256.Int
	// Words is the number of 256-bit index words; the pool addresses
	// Words*256 slots starting at MinPrice.
	Words    int
	MinPrice uint256.Int
	MaxPrice uint256.Int

	// Refunds at or below the threshold for the taker's side are kept by
	// Treasury instead of being credited.
	DustThresholdBuy  uint256.Int
	DustThresholdSell uint256.Int
	Treasury          UserID

	// MaxDeviation bounds how far from the curve spot price a resting
	// level may be and still be matched.
	MaxDeviation uint256.Int
}

// Validate checks the invariants the index and store depend on.
func (c *Config) Validate() error {
	switch {
	case c.ID == "":
		return errors.Wrap(errors.ErrInvalidConfig, "empty pool id")
	case c.Base == "" || c.Quote == "" || c.Base == c.Quote:
		return errors.Wrapf(errors.ErrInvalidConfig, "pool %s: base and quote must be distinct", c.ID)
	case c.TickSpacing.IsZero():
		return errors.Wrapf(errors.ErrInvalidConfig, "pool %s: zero tick spacing", c.ID)
	case c.Words <= 0:
		return errors.Wrapf(errors.ErrInvalidConfig, "pool %s: words must be positive", c.ID)
	case c.MinPrice.IsZero():
		return errors.Wrapf(errors.ErrInvalidConfig, "pool %s: min price must be positive", c.ID)
	case c.MaxPrice.Lt(&c.MinPrice):
		return errors.Wrapf(errors.ErrInvalidConfig, "pool %s: max price below min price", c.ID)
	case c.Treasury == "":
		return errors.Wrapf(errors.ErrInvalidConfig, "pool %s: empty treasury account", c.ID)
	}

	span := new(uint256.Int).Sub(&c.MaxPrice, &c.MinPrice)
	var rem uint256.Int
	rem.Mod(span, &c.TickSpacing)
	if !rem.IsZero() {
		return errors.Wrapf(errors.ErrInvalidConfig, "pool %s: price range is not a multiple of tick spacing", c.ID)
	}
	slots := new(uint256.Int).Div(span, &c.TickSpacing)
	if !slots.Lt(uint256.NewInt(uint64(c.Words) * BitsPerWord)) {
		return errors.Wrapf(errors.ErrInvalidConfig, "pool %s: price range needs more than %d index words", c.ID, c.Words)
	}
	return nil
}

// MaxSlot is the slot of MaxPrice.
func (c *Config) MaxSlot() Slot {
	span := new(uint256.Int).Sub(&c.MaxPrice, &c.MinPrice)
	return Slot(span.Div(span, &c.TickSpacing).Uint64())
}

// Slot rounds price to the nearest valid increment, ties rounding up, and
// returns its slot.
func (c *Config) Slot(price *uint256.Int) (Slot, error) {
	if price.IsZero() {
		return 0, errors.WithStack(errors.ErrInvalidPrice)
	}
	if price.Lt(&c.MinPrice) || price.Gt(&c.MaxPrice) {
		return 0, errors.Wrapf(errors.ErrPriceOutOfRange, "price %s outside [%s, %s]",
			fixed.FormatPrice(price), fixed.FormatPrice(&c.MinPrice), fixed.FormatPrice(&c.MaxPrice))
	}
	offset := new(uint256.Int).Sub(price, &c.MinPrice)
	var q, r uint256.Int
	q.DivMod(offset, &c.TickSpacing, &r)
	// r >= spacing - r  <=>  round up
	var rest uint256.Int
	rest.Sub(&c.TickSpacing, &r)
	if !r.IsZero() && !r.Lt(&rest) {
		q.AddUint64(&q, 1)
	}
	return Slot(q.Uint64()), nil
}

// PriceAt is the price of slot.
func (c *Config) PriceAt(slot Slot) uint256.Int {
	var p uint256.Int
	p.Mul(&c.TickSpacing, uint256.NewInt(uint64(slot)))
	p.Add(&p, &c.MinPrice)
	return p
}

// DustThreshold returns the refund threshold for a taker on side.
func (c *Config) DustThreshold(side Side) *uint256.Int {
	if side == Buy {
		return &c.DustThresholdBuy
	}
	return &c.DustThresholdSell
}

// LockAsset is the asset a maker on side must lock.
func (c *Config) LockAsset(side Side) Asset {
	if side == Buy {
		return c.Quote
	}
	return c.Base
}
