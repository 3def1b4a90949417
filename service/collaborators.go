package service

import (
	"context"

	"github.com/holiman/uint256"

	"hybridbook/domain/market"
	"hybridbook/domain/matching"
	"hybridbook/domain/txn"
	"hybridbook/infra/wal/entry"
	"hybridbook/pkg/logger"
)

// Settlement realizes ledger changes against external custody.
type Settlement interface {
	Credit(ctx context.Context, user market.UserID, asset market.Asset, amount *uint256.Int) error
	Debit(ctx context.Context, user market.UserID, asset market.Asset, amount *uint256.Int) error
}

// stagedSettlement holds instructions until the command commits.
type stagedSettlement interface {
	Settlement
	Flush() error
	Discard()
}

// Journal appends committed commands.
type Journal interface {
	Append(r *entry.Record) error
}

// Publisher sends feed events.
type Publisher interface {
	Publish(ctx context.Context, key string, v any) error
}

type nopSettlement struct{}

func (nopSettlement) Credit(context.Context, market.UserID, market.Asset, *uint256.Int) error {
	return nil
}

func (nopSettlement) Debit(context.Context, market.UserID, market.Asset, *uint256.Int) error {
	return nil
}

// Reverter is implemented by curves that can take back an Execute whose
// command rolled back. Curves without it keep the trade.
type Reverter interface {
	Revert(pool market.PoolID, side market.Side, amount, proceeds *uint256.Int) error
}

// ---- curve recording ----

// recordingCurve remembers what the live curve reported so the swap can be
// journaled and replayed without calling the curve again.
type recordingCurve struct {
	matching.Curve
	journal *txn.Journal
	log     *logger.Logger

	spot      uint256.Int
	reference uint256.Int
	amm       uint256.Int
}

func (c *recordingCurve) SpotPrice(ctx context.Context, pool market.PoolID) (uint256.Int, error) {
	v, err := c.Curve.SpotPrice(ctx, pool)
	c.spot = v
	return v, err
}

func (c *recordingCurve) Quote(ctx context.Context, pool market.PoolID, side market.Side, amount *uint256.Int) (uint256.Int, error) {
	v, err := c.Curve.Quote(ctx, pool, side, amount)
	c.reference = v
	return v, err
}

func (c *recordingCurve) Execute(ctx context.Context, pool market.PoolID, side market.Side, amount *uint256.Int) (uint256.Int, error) {
	v, err := c.Curve.Execute(ctx, pool, side, amount)
	c.amm = v
	if err != nil {
		return v, err
	}
	if r, ok := c.Curve.(Reverter); ok {
		traded, proceeds := *amount, v
		c.journal.Record(func() {
			if err := r.Revert(pool, side, &traded, &proceeds); err != nil {
				c.log.Error(err, logger.NewField("pool", string(pool)), logger.NewField("op", "curve_revert"))
			}
		})
	}
	return v, nil
}

// recordedCurve answers with a journaled swap outcome.
type recordedCurve struct {
	spot      uint256.Int
	reference uint256.Int
	amm       uint256.Int
}

func (c *recordedCurve) SpotPrice(context.Context, market.PoolID) (uint256.Int, error) {
	return c.spot, nil
}

func (c *recordedCurve) Quote(context.Context, market.PoolID, market.Side, *uint256.Int) (uint256.Int, error) {
	return c.reference, nil
}

func (c *recordedCurve) Execute(context.Context, market.PoolID, market.Side, *uint256.Int) (uint256.Int, error) {
	return c.amm, nil
}
