package matching

import (
	"context"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"hybridbook/domain/ledger"
	"hybridbook/domain/market"
	"hybridbook/domain/orderbook"
	"hybridbook/domain/txn"
	"hybridbook/pkg/errors"
	"hybridbook/pkg/fixed"
)

const (
	taker    market.UserID = "taker"
	maker1   market.UserID = "maker1"
	maker2   market.UserID = "maker2"
	treasury market.UserID = "treasury"
	base     market.Asset  = "ETH"
	quote    market.Asset  = "USDC"
)

// flatCurve trades any size at one price.
type flatCurve struct {
	price     uint256.Int
	executed  []uint256.Int
	onExecute func(ctx context.Context) (uint256.Int, error)
}

func (c *flatCurve) SpotPrice(context.Context, market.PoolID) (uint256.Int, error) {
	return c.price, nil
}

func (c *flatCurve) Quote(_ context.Context, _ market.PoolID, _ market.Side, amount *uint256.Int) (uint256.Int, error) {
	return fixed.QuoteValue(amount, &c.price)
}

func (c *flatCurve) Execute(ctx context.Context, pool market.PoolID, side market.Side, amount *uint256.Int) (uint256.Int, error) {
	c.executed = append(c.executed, *amount)
	if c.onExecute != nil {
		return c.onExecute(ctx)
	}
	return c.Quote(ctx, pool, side, amount)
}

func price(t require.TestingT, s string) uint256.Int {
	p, err := fixed.ParsePrice(s)
	require.NoError(t, err)
	return p
}

func units(t require.TestingT, s string) uint256.Int {
	a, err := fixed.ParseAmount(s, fixed.Decimals)
	require.NoError(t, err)
	return a
}

type counter struct{ v uint64 }

func (c *counter) Next() uint64    { c.v++; return c.v }
func (c *counter) Current() uint64 { return c.v }
func (c *counter) Reset(v uint64)  { c.v = v }

type fixture struct {
	journal *txn.Journal
	ledger  *ledger.Ledger
	book    *orderbook.Book
	ctl     *orderbook.Controller
	curve   *flatCurve
	engine  *Engine
}

func newFixture(t require.TestingT, mutate ...func(*market.Config)) *fixture {
	cfg := market.Config{
		ID:           "ETH-USDC",
		Base:         base,
		Quote:        quote,
		TickSpacing:  price(t, "0.01"),
		Words:        1,
		MinPrice:     price(t, "0.01"),
		MaxPrice:     price(t, "2.56"),
		Treasury:     treasury,
		MaxDeviation: price(t, "0.05"),
	}
	for _, m := range mutate {
		m(&cfg)
	}
	j := txn.New()
	l := ledger.New(j)
	book, err := orderbook.New(cfg, j)
	require.NoError(t, err)
	curve := &flatCurve{price: price(t, "1.00")}
	return &fixture{
		journal: j,
		ledger:  l,
		book:    book,
		ctl:     orderbook.NewController(l, &counter{}, j),
		curve:   curve,
		engine:  New(l, curve),
	}
}

func (f *fixture) deposit(t require.TestingT, user market.UserID, asset market.Asset, amount string) {
	a := units(t, amount)
	require.NoError(t, f.ledger.Deposit(user, asset, &a))
}

func (f *fixture) place(t require.TestingT, user market.UserID, side market.Side, p, amount string) orderbook.Order {
	f.journal.Begin()
	o, err := f.ctl.Place(f.book, orderbook.PlaceRequest{Maker: user, Side: side, Price: price(t, p), Amount: units(t, amount)})
	require.NoError(t, err)
	f.journal.Commit()
	return o
}

func (f *fixture) swap(t require.TestingT, side market.Side, amount string) (Result, error) {
	f.journal.Begin()
	res, err := f.engine.Swap(context.Background(), f.book, Request{Taker: taker, Side: side, Amount: units(t, amount)})
	if err != nil {
		f.journal.Rollback()
		return res, err
	}
	f.journal.Commit()
	return res, nil
}

func TestRestingSellFilledBeforeCurve(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, maker1, base, "6")
	o := f.place(t, maker1, market.Sell, "0.99", "6")
	f.deposit(t, taker, quote, "20")

	res, err := f.swap(t, market.Buy, "10")
	require.NoError(t, err)

	assert.Equal(t, units(t, "6"), res.ClobFilled)
	assert.Equal(t, units(t, "5.94"), res.ClobProceeds)
	assert.Equal(t, units(t, "4"), res.AmmFilled)
	assert.Equal(t, units(t, "4"), res.AmmProceeds)
	assert.Equal(t, units(t, "10"), res.ReferenceProceeds)
	// refund = quote(10) - (6*0.99 + execute(4))
	assert.Equal(t, units(t, "0.06"), res.Refund)
	assert.True(t, res.Dust.IsZero())
	assert.Equal(t, price(t, "0.99"), res.VWAP())
	require.Len(t, res.Fills, 1)
	assert.Equal(t, o.ID, res.Fills[0].OrderID)
	assert.True(t, res.Fills[0].Done)
	require.Len(t, f.curve.executed, 1)
	assert.Equal(t, units(t, "4"), f.curve.executed[0])

	// taker paid 9.94 net and got 10 base
	assert.Equal(t, units(t, "10.06"), f.ledger.Info(taker, quote).Total)
	assert.Equal(t, units(t, "10"), f.ledger.Info(taker, base).Total)
	// maker sold its base for 5.94
	makerBase := f.ledger.Info(maker1, base)
	assert.True(t, makerBase.Total.IsZero())
	assert.True(t, makerBase.Locked.IsZero())
	assert.Equal(t, units(t, "5.94"), f.ledger.Info(maker1, quote).Total)

	got, _ := f.book.Get(o.ID)
	assert.Equal(t, orderbook.Filled, got.Status)
	assert.False(t, f.book.Index(market.Sell).IsSet(o.Slot))
}

func TestEmptyBookIsPureCurve(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, taker, base, "5")

	res, err := f.swap(t, market.Sell, "5")
	require.NoError(t, err)
	assert.True(t, res.ClobFilled.IsZero())
	assert.True(t, res.Refund.IsZero())
	assert.True(t, res.Dust.IsZero())
	assert.Equal(t, units(t, "5"), res.AmmFilled)
	assert.Equal(t, units(t, "5"), res.Settled)
	vwap := res.VWAP()
	assert.True(t, vwap.IsZero())
	assert.Equal(t, units(t, "5"), f.ledger.Info(taker, quote).Total)
	takerBase := f.ledger.Info(taker, base)
	assert.True(t, takerBase.Total.IsZero())
}

func TestEqualPriceIsFIFO(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, maker1, base, "3")
	f.deposit(t, maker2, base, "3")
	first := f.place(t, maker1, market.Sell, "0.99", "3")
	second := f.place(t, maker2, market.Sell, "0.99", "3")
	f.deposit(t, taker, quote, "10")

	res, err := f.swap(t, market.Buy, "4")
	require.NoError(t, err)
	require.Len(t, res.Fills, 2)
	assert.Equal(t, first.ID, res.Fills[0].OrderID)
	assert.Equal(t, units(t, "3"), res.Fills[0].Amount)
	assert.Equal(t, second.ID, res.Fills[1].OrderID)
	assert.Equal(t, units(t, "1"), res.Fills[1].Amount)

	got, _ := f.book.Get(second.ID)
	assert.Equal(t, orderbook.PartiallyFilled, got.Status)
	assert.Equal(t, units(t, "2"), f.ledger.Info(maker2, base).Locked)
}

func TestBestPriceFirstAndWindowBounds(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, maker1, base, "10")
	f.place(t, maker1, market.Sell, "0.90", "1") // below spot - deviation
	f.place(t, maker1, market.Sell, "0.98", "1")
	cheap := f.place(t, maker1, market.Sell, "0.96", "1")
	f.place(t, maker1, market.Sell, "1.01", "1") // worse than spot
	f.deposit(t, taker, quote, "10")

	res, err := f.swap(t, market.Buy, "3")
	require.NoError(t, err)
	require.Len(t, res.Fills, 2)
	assert.Equal(t, cheap.ID, res.Fills[0].OrderID)
	assert.Equal(t, price(t, "0.98"), res.Fills[1].Price)
	assert.Equal(t, units(t, "1"), res.AmmFilled)

	depth, err := f.book.Depth(market.Sell, 0)
	require.NoError(t, err)
	require.Len(t, depth, 2)
	assert.Equal(t, price(t, "0.90"), depth[0].Price)
	assert.Equal(t, price(t, "1.01"), depth[1].Price)
}

func TestSellTakerAgainstBids(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, maker1, quote, "10")
	bid := f.place(t, maker1, market.Buy, "1.02", "6")
	f.place(t, maker1, market.Buy, "0.99", "1") // below spot
	f.deposit(t, taker, base, "10")

	res, err := f.swap(t, market.Sell, "10")
	require.NoError(t, err)
	require.Len(t, res.Fills, 1)
	assert.Equal(t, bid.ID, res.Fills[0].OrderID)
	assert.Equal(t, units(t, "6.12"), res.ClobProceeds)
	assert.Equal(t, units(t, "10"), res.Settled)
	assert.Equal(t, units(t, "0.12"), res.Refund)

	assert.Equal(t, units(t, "10.12"), f.ledger.Info(taker, quote).Total)
	takerBase := f.ledger.Info(taker, base)
	assert.True(t, takerBase.Total.IsZero())
	assert.Equal(t, units(t, "6"), f.ledger.Info(maker1, base).Total)
	// only the 0.99 bid stays locked
	assert.Equal(t, units(t, "0.99"), f.ledger.Info(maker1, quote).Locked)
	assert.Equal(t, units(t, "3.88"), f.ledger.Info(maker1, quote).Total)
}

func TestImprovementAtOrBelowThresholdGoesToTreasury(t *testing.T) {
	f := newFixture(t, func(c *market.Config) {
		c.DustThresholdBuy = units(t, "0.06")
	})
	f.deposit(t, maker1, base, "6")
	f.place(t, maker1, market.Sell, "0.99", "6")
	f.deposit(t, taker, quote, "20")

	res, err := f.swap(t, market.Buy, "10")
	require.NoError(t, err)
	assert.True(t, res.Refund.IsZero())
	assert.Equal(t, units(t, "0.06"), res.Dust)
	assert.Equal(t, units(t, "10"), f.ledger.Info(taker, quote).Total)
	assert.Equal(t, units(t, "0.06"), f.ledger.Info(treasury, quote).Total)
}

func TestOverflowAbortsWholeSwap(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, maker1, base, "6")
	o := f.place(t, maker1, market.Sell, "0.99", "6")
	f.deposit(t, taker, quote, "20")
	f.curve.onExecute = func(context.Context) (uint256.Int, error) {
		return *new(uint256.Int).SetAllOne(), nil
	}
	before := f.ledger.Balances()

	_, err := f.swap(t, market.Buy, "10")
	assert.True(t, errors.Is(err, errors.ErrOverflow))

	assert.Equal(t, before, f.ledger.Balances())
	got, _ := f.book.Get(o.ID)
	assert.Equal(t, orderbook.Open, got.Status)
	assert.True(t, got.Filled.IsZero())
	assert.True(t, f.book.Index(market.Sell).IsSet(o.Slot))
}

func TestCurveFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, maker1, base, "6")
	f.place(t, maker1, market.Sell, "0.99", "6")
	f.deposit(t, taker, quote, "20")
	boom := errors.New("boom", errors.CategoryExternal, "pool paused")
	f.curve.onExecute = func(context.Context) (uint256.Int, error) {
		return uint256.Int{}, boom
	}
	before := f.ledger.Balances()

	_, err := f.swap(t, market.Buy, "10")
	assert.True(t, errors.Is(err, errors.ErrCurve))
	assert.True(t, errors.Is(err, boom))
	assert.Equal(t, before, f.ledger.Balances())
}

func TestReentrantSwapFromCurveIsRejected(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, taker, base, "10")
	var inner error
	f.curve.onExecute = func(ctx context.Context) (uint256.Int, error) {
		_, inner = f.engine.Swap(ctx, f.book, Request{Taker: taker, Side: market.Sell, Amount: units(t, "1")})
		return uint256.Int{}, inner
	}

	_, err := f.swap(t, market.Sell, "5")
	assert.True(t, errors.Is(inner, errors.ErrReentrant))
	assert.True(t, errors.Is(err, errors.ErrReentrant))
	assert.Equal(t, units(t, "10"), f.ledger.Info(taker, base).Total)

	// guard released after the failed call
	f.curve.onExecute = nil
	_, err = f.swap(t, market.Sell, "5")
	require.NoError(t, err)
}

func TestTakerBalanceChecks(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, taker, base, "1")
	f.deposit(t, taker, quote, "1")

	_, err := f.swap(t, market.Sell, "2")
	assert.True(t, errors.Is(err, errors.ErrInsufficientAvailableBalance))

	_, err = f.swap(t, market.Buy, "2")
	assert.True(t, errors.Is(err, errors.ErrInsufficientAvailableBalance))
	assert.Empty(t, f.curve.executed)

	_, err = f.swap(t, market.Sell, "0")
	assert.True(t, errors.Is(err, errors.ErrZeroAmount))
}

// Random books and swaps keep every maker's locked balance equal to the sum
// of its open orders' locks, conserve base, and never pay a negative refund.
func TestLockAccountingInvariant(t *testing.T) {
	makers := []market.UserID{maker1, maker2}
	rapid.Check(t, func(rt *rapid.T) {
		f := newFixture(rt)
		for _, m := range makers {
			f.deposit(rt, m, base, "1000")
			f.deposit(rt, m, quote, "1000")
		}
		f.deposit(rt, taker, base, "1000")
		f.deposit(rt, taker, quote, "1000")
		startBase := f.ledger.Sum(base)
		var curveIn, curveOut uint256.Int

		steps := rapid.IntRange(1, 40).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			side := rapid.SampledFrom([]market.Side{market.Buy, market.Sell}).Draw(rt, "side")
			amount := *uint256.NewInt(rapid.Uint64Range(1, 5_000_000).Draw(rt, "amount"))
			switch rapid.IntRange(0, 2).Draw(rt, "op") {
			case 0:
				p := price(rt, "0.95")
				tick := price(rt, "0.01")
				var off uint256.Int
				off.Mul(&tick, uint256.NewInt(rapid.Uint64Range(0, 10).Draw(rt, "tick")))
				p.Add(&p, &off)
				f.journal.Begin()
				if _, err := f.ctl.Place(f.book, orderbook.PlaceRequest{
					Maker: rapid.SampledFrom(makers).Draw(rt, "maker"), Side: side, Price: p, Amount: amount,
				}); err != nil {
					f.journal.Rollback()
				} else {
					f.journal.Commit()
				}
			case 1:
				open := f.book.Open()
				if len(open) == 0 {
					continue
				}
				o := rapid.SampledFrom(open).Draw(rt, "order")
				f.journal.Begin()
				if _, err := f.ctl.Cancel(f.book, o.Maker, o.ID); err != nil {
					rt.Fatalf("cancel open order %d: %v", o.ID, err)
				}
				f.journal.Commit()
			case 2:
				f.journal.Begin()
				res, err := f.engine.Swap(context.Background(), f.book, Request{Taker: taker, Side: side, Amount: amount})
				if err != nil {
					f.journal.Rollback()
					continue
				}
				f.journal.Commit()
				if side == market.Sell {
					curveIn.Add(&curveIn, &res.AmmFilled)
				} else {
					curveOut.Add(&curveOut, &res.AmmFilled)
				}
				if res.ClobFilled.IsZero() && !res.Refund.IsZero() {
					rt.Fatalf("refund %s without book fill", res.Refund.Dec())
				}
			}

			for _, m := range makers {
				for _, asset := range []market.Asset{base, quote} {
					var sum uint256.Int
					for _, o := range f.book.Open() {
						if o.Maker == m && f.book.Config().LockAsset(o.Side) == asset {
							sum.Add(&sum, &o.Locked)
						}
					}
					info := f.ledger.Info(m, asset)
					if !sum.Eq(&info.Locked) {
						rt.Fatalf("%s %s locked %s, open orders hold %s", m, asset, info.Locked.Dec(), sum.Dec())
					}
					if info.Locked.Gt(&info.Total) {
						rt.Fatalf("%s %s locked exceeds total", m, asset)
					}
				}
			}
		}

		// base only enters or leaves the ledger through the curve
		var want uint256.Int
		want.Add(&startBase, &curveOut)
		want.Sub(&want, &curveIn)
		if got := f.ledger.Sum(base); !got.Eq(&want) {
			rt.Fatalf("base sum %s, want %s", got.Dec(), want.Dec())
		}
	})
}
