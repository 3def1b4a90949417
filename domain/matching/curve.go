package matching

import (
	"context"

	"github.com/holiman/uint256"

	"hybridbook/domain/market"
)

// Curve is the external liquidity collaborator. Amounts are in base units;
// for a Sell the result is the quote received, for a Buy the quote paid.
type Curve interface {
	// SpotPrice is the marginal price used to bound the matching window.
	SpotPrice(ctx context.Context, pool market.PoolID) (uint256.Int, error)
	// Quote prices amount without changing curve state.
	Quote(ctx context.Context, pool market.PoolID, side market.Side, amount *uint256.Int) (uint256.Int, error)
	// Execute trades amount against the curve.
	Execute(ctx context.Context, pool market.PoolID, side market.Side, amount *uint256.Int) (uint256.Int, error)
}
