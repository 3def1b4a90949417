package curve

import (
	"context"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hybridbook/domain/market"
	"hybridbook/pkg/errors"
	"hybridbook/pkg/fixed"
)

func units(t *testing.T, s string) *uint256.Int {
	t.Helper()
	v, err := fixed.ParseAmount(s, fixed.Decimals)
	require.NoError(t, err)
	return &v
}

func TestSpotPrice(t *testing.T) {
	c := NewConstantProduct()
	c.AddPool("p", units(t, "1000"), units(t, "1000"))

	spot, err := c.SpotPrice(context.Background(), "p")
	require.NoError(t, err)
	assert.Equal(t, "1", fixed.FormatPrice(&spot))

	_, err = c.SpotPrice(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrUnknownPool))
}

func TestQuoteDoesNotMoveReserves(t *testing.T) {
	c := NewConstantProduct()
	c.AddPool("p", uint256.NewInt(100), uint256.NewInt(100))

	out, err := c.Quote(context.Background(), "p", market.Sell, uint256.NewInt(25))
	require.NoError(t, err)
	assert.Equal(t, uint64(20), out.Uint64()) // 100*25/125

	b, q, ok := c.Reserves("p")
	require.True(t, ok)
	assert.Equal(t, uint64(100), b.Uint64())
	assert.Equal(t, uint64(100), q.Uint64())
}

func TestExecuteKeepsProduct(t *testing.T) {
	c := NewConstantProduct()
	c.AddPool("p", uint256.NewInt(100), uint256.NewInt(100))
	ctx := context.Background()

	in, err := c.Execute(ctx, "p", market.Buy, uint256.NewInt(3))
	require.NoError(t, err)
	assert.Equal(t, uint64(4), in.Uint64()) // ceil(300/97)

	b, q, _ := c.Reserves("p")
	assert.Equal(t, uint64(97), b.Uint64())
	assert.Equal(t, uint64(104), q.Uint64())
	assert.GreaterOrEqual(t, b.Uint64()*q.Uint64(), uint64(100*100))

	out, err := c.Execute(ctx, "p", market.Sell, uint256.NewInt(3))
	require.NoError(t, err)
	assert.Equal(t, uint64(3), out.Uint64()) // floor(104*3/100)
	b, q, _ = c.Reserves("p")
	assert.GreaterOrEqual(t, b.Uint64()*q.Uint64(), uint64(100*100))
}

func TestBuyCannotDrainReserve(t *testing.T) {
	c := NewConstantProduct()
	c.AddPool("p", uint256.NewInt(10), uint256.NewInt(10))

	_, err := c.Execute(context.Background(), "p", market.Buy, uint256.NewInt(10))
	assert.True(t, errors.Is(err, ErrInsufficientDepth))
	b, _, _ := c.Reserves("p")
	assert.Equal(t, uint64(10), b.Uint64())
}

func TestRevertRestoresReserves(t *testing.T) {
	ctx := context.Background()
	for _, side := range []market.Side{market.Sell, market.Buy} {
		t.Run(side.String(), func(t *testing.T) {
			c := NewConstantProduct()
			c.AddPool("p", units(t, "1000"), units(t, "2000"))

			out, err := c.Execute(ctx, "p", side, units(t, "7"))
			require.NoError(t, err)
			require.NoError(t, c.Revert("p", side, units(t, "7"), &out))

			b, q, ok := c.Reserves("p")
			require.True(t, ok)
			assert.Equal(t, *units(t, "1000"), b)
			assert.Equal(t, *units(t, "2000"), q)
		})
	}

	c := NewConstantProduct()
	assert.True(t, errors.Is(c.Revert("missing", market.Sell, units(t, "1"), units(t, "1")), ErrUnknownPool))
}
