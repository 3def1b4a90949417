package fixed

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hybridbook/pkg/errors"
)

func TestParsePrice(t *testing.T) {
	p, err := ParsePrice("0.99")
	require.NoError(t, err)
	assert.Equal(t, "990000000000000000", p.Dec())
	assert.Equal(t, "0.99", FormatPrice(&p))

	_, err = ParsePrice("0.0000000000000000001")
	assert.True(t, errors.Is(err, errors.ErrInvalidPrice))

	_, err = ParsePrice("-1")
	assert.True(t, errors.Is(err, errors.ErrInvalidPrice))

	_, err = ParsePrice("abc")
	assert.True(t, errors.Is(err, errors.ErrInvalidPrice))
}

func TestQuoteValueFloors(t *testing.T) {
	amount := U64(3)
	price, err := ParsePrice("0.5")
	require.NoError(t, err)

	v, err := QuoteValue(&amount, &price)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), v.Uint64())
}

func TestQuoteValueLargeProduct(t *testing.T) {
	// amount*price exceeds 256 bits but the scaled result fits.
	amount := new(uint256.Int).Lsh(uint256.NewInt(1), 200)
	price := new(uint256.Int).Mul(Scale, uint256.NewInt(4))

	v, err := QuoteValue(amount, price)
	require.NoError(t, err)
	want := new(uint256.Int).Lsh(uint256.NewInt(1), 202)
	assert.True(t, v.Eq(want))
}

func TestOverflow(t *testing.T) {
	max := new(uint256.Int).SetAllOne()
	one := U64(1)

	_, err := Add(max, &one)
	assert.True(t, errors.Is(err, errors.ErrOverflow))

	_, err = Sub(&one, max)
	assert.True(t, errors.Is(err, errors.ErrOverflow))

	_, err = MulDiv(max, max, &one)
	assert.True(t, errors.Is(err, errors.ErrOverflow))

	zero := Zero()
	_, err = MulDiv(&one, &one, &zero)
	assert.True(t, errors.Is(err, errors.ErrOverflow))
}

func TestMinMax(t *testing.T) {
	a, b := U64(2), U64(5)
	lo, hi := Min(&a, &b), Max(&a, &b)
	assert.Equal(t, uint64(2), lo.Uint64())
	assert.Equal(t, uint64(5), hi.Uint64())
}

func TestParseDec(t *testing.T) {
	v, err := ParseDec("1980000000000000000")
	require.NoError(t, err)
	assert.Equal(t, "1980000000000000000", v.Dec())

	_, err = ParseDec("1.5")
	assert.Error(t, err)
}
