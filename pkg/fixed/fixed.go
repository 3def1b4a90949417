// Package fixed holds the numeric model shared by every component: unsigned
// 256-bit amounts and prices scaled by 10^18.
package fixed

import (
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"hybridbook/pkg/errors"
)

// Decimals is the number of fractional digits carried by a price.
const Decimals = 18

// Scale is 10^Decimals, the fixed-point unit of a price.
var Scale = uint256.NewInt(1_000_000_000_000_000_000)

// Zero returns a fresh zero value.
func Zero() uint256.Int {
	return uint256.Int{}
}

// U64 converts v.
func U64(v uint64) uint256.Int {
	return *uint256.NewInt(v)
}

// Add returns a+b or ErrOverflow.
func Add(a, b *uint256.Int) (uint256.Int, error) {
	var z uint256.Int
	if _, overflow := z.AddOverflow(a, b); overflow {
		return uint256.Int{}, errors.WithStack(errors.ErrOverflow)
	}
	return z, nil
}

// Sub returns a-b or ErrOverflow when b > a.
func Sub(a, b *uint256.Int) (uint256.Int, error) {
	var z uint256.Int
	if _, underflow := z.SubOverflow(a, b); underflow {
		return uint256.Int{}, errors.WithStack(errors.ErrOverflow)
	}
	return z, nil
}

// MulDiv returns floor(a*b/d) computed on the full 512-bit product, or
// ErrOverflow when the result does not fit 256 bits or d is zero.
func MulDiv(a, b, d *uint256.Int) (uint256.Int, error) {
	if d.IsZero() {
		return uint256.Int{}, errors.WithStack(errors.ErrOverflow)
	}
	var z uint256.Int
	if _, overflow := z.MulDivOverflow(a, b, d); overflow {
		return uint256.Int{}, errors.WithStack(errors.ErrOverflow)
	}
	return z, nil
}

// QuoteValue is floor(amount*price/Scale): the quote-asset value of a base
// amount at a scaled price.
func QuoteValue(amount, price *uint256.Int) (uint256.Int, error) {
	return MulDiv(amount, price, Scale)
}

// Min returns the smaller of a and b.
func Min(a, b *uint256.Int) uint256.Int {
	if a.Lt(b) {
		return *a
	}
	return *b
}

// Max returns the larger of a and b.
func Max(a, b *uint256.Int) uint256.Int {
	if a.Gt(b) {
		return *a
	}
	return *b
}

// ParsePrice converts a decimal string such as "0.99" to a scaled price.
func ParsePrice(s string) (uint256.Int, error) {
	return parseShifted(s, Decimals, errors.ErrInvalidPrice)
}

// ParseAmount converts a decimal string to an integer amount carrying
// decimals fractional digits, e.g. ParseAmount("1.5", 18).
func ParseAmount(s string, decimals int32) (uint256.Int, error) {
	return parseShifted(s, decimals, errors.ErrZeroAmount)
}

func parseShifted(s string, decimals int32, invalid *errors.Error) (uint256.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return uint256.Int{}, errors.Wrapf(invalid, "parse %q", s)
	}
	if d.Sign() < 0 {
		return uint256.Int{}, errors.Wrapf(invalid, "negative value %q", s)
	}
	shifted := d.Shift(decimals)
	if !shifted.IsInteger() {
		return uint256.Int{}, errors.Wrapf(invalid, "%q has more than %d fractional digits", s, decimals)
	}
	v, overflow := uint256.FromBig(shifted.BigInt())
	if overflow {
		return uint256.Int{}, errors.Wrapf(errors.ErrOverflow, "parse %q", s)
	}
	return *v, nil
}

// FormatPrice renders a scaled price as a decimal string.
func FormatPrice(p *uint256.Int) string {
	return decimal.NewFromBigInt(p.ToBig(), -Decimals).String()
}

// ParseDec parses a base-10 integer string, the wire form of amounts.
func ParseDec(s string) (uint256.Int, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return uint256.Int{}, errors.Wrapf(errors.ErrOverflow, "parse %q: %v", s, err)
	}
	return *v, nil
}
