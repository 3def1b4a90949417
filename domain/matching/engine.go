// Package matching executes a trade request against the resting orders of a
// pool first and routes the remainder to the curve, returning the price
// improvement to the taker.
package matching

import (
	"context"

	"github.com/holiman/uint256"

	"hybridbook/domain/ledger"
	"hybridbook/domain/market"
	"hybridbook/domain/orderbook"
	"hybridbook/pkg/errors"
	"hybridbook/pkg/fixed"
)

// Engine is single-writer. It leaves transaction control to the caller:
// on error the caller rolls back the journal shared by the ledger and book.
type Engine struct {
	ledger *ledger.Ledger
	curve  Curve
}

func New(l *ledger.Ledger, curve Curve) *Engine {
	return &Engine{ledger: l, curve: curve}
}

// Request is a taker trade. Amount is in base units: supplied for a Sell,
// wanted for a Buy.
type Request struct {
	Taker  market.UserID
	Side   market.Side
	Amount uint256.Int
}

// Swap fills req from resting orders inside the deviation window around the
// curve spot price, best price first and FIFO within a level, then executes
// the remainder on the curve and settles the taker.
func (e *Engine) Swap(ctx context.Context, book *orderbook.Book, req Request) (Result, error) {
	if err := book.Enter(); err != nil {
		return Result{}, err
	}
	defer book.Exit()

	cfg := book.Config()
	if !req.Side.Valid() {
		return Result{}, errors.Wrapf(errors.ErrInvalidSide, "side %d", req.Side)
	}
	if req.Amount.IsZero() {
		return Result{}, errors.WithStack(errors.ErrZeroAmount)
	}

	res := Result{
		Pool:      cfg.ID,
		Taker:     req.Taker,
		Side:      req.Side,
		Requested: req.Amount,
	}

	var err error
	if res.ReferenceProceeds, err = e.curve.Quote(ctx, cfg.ID, req.Side, &req.Amount); err != nil {
		return Result{}, errors.Cause(errors.ErrCurve, err)
	}
	if res.Spot, err = e.curve.SpotPrice(ctx, cfg.ID); err != nil {
		return Result{}, errors.Cause(errors.ErrCurve, err)
	}

	// The taker's input is reserved before anything executes.
	if req.Side == market.Sell {
		if err := e.ledger.Debit(req.Taker, cfg.Base, &req.Amount); err != nil {
			return Result{}, err
		}
	} else {
		avail := e.ledger.Info(req.Taker, cfg.Quote).Available
		if res.ReferenceProceeds.Gt(&avail) {
			return Result{}, errors.Wrapf(errors.ErrInsufficientAvailableBalance,
				"swap needs about %s %s, available %s", res.ReferenceProceeds.Dec(), cfg.Quote, avail.Dec())
		}
	}

	remaining := req.Amount
	if err := e.walk(book, &res, &remaining); err != nil {
		return Result{}, err
	}

	if !remaining.IsZero() {
		res.AmmFilled = remaining
		if res.AmmProceeds, err = e.curve.Execute(ctx, cfg.ID, req.Side, &remaining); err != nil {
			return Result{}, errors.Cause(errors.ErrCurve, err)
		}
	}

	if err := e.settleTaker(cfg, &res); err != nil {
		return Result{}, err
	}
	return res, nil
}

// walk consumes eligible levels until remaining is zero or the window is
// exhausted.
func (e *Engine) walk(book *orderbook.Book, res *Result, remaining *uint256.Int) error {
	cfg := book.Config()
	w, ok := cfg.Window(res.Side, &res.Spot)
	if !ok {
		return nil
	}
	resting := res.Side.Opposite()
	ix := book.Index(resting)

	from := w.From
	for !remaining.IsZero() {
		slot, found := ix.Next(from, w.Dir, w.To)
		if !found {
			return nil
		}
		for !remaining.IsZero() {
			o, live := book.Front(resting, slot)
			if !live {
				break
			}
			if err := e.fill(book, res, &o, remaining); err != nil {
				return err
			}
		}
		if slot == w.To {
			return nil
		}
		if w.Dir == market.Up {
			from = slot + 1
		} else {
			from = slot - 1
		}
	}
	return nil
}

func (e *Engine) fill(book *orderbook.Book, res *Result, o *orderbook.Order, remaining *uint256.Int) error {
	cfg := book.Config()
	rem := o.Remaining()
	qty := fixed.Min(remaining, &rem)
	value, err := fixed.QuoteValue(&qty, &o.Price)
	if err != nil {
		return err
	}

	released, err := book.Fill(o.ID, &qty)
	if err != nil {
		return err
	}

	if o.Side == market.Buy {
		// maker pays quote out of its lock and receives base
		if err := e.ledger.SpendLocked(o.Maker, cfg.Quote, &value); err != nil {
			return err
		}
		var rest uint256.Int
		rest.Sub(&released, &value)
		e.ledger.Unlock(o.Maker, cfg.Quote, &rest)
		if err := e.ledger.Credit(o.Maker, cfg.Base, &qty); err != nil {
			return err
		}
	} else {
		if err := e.ledger.SpendLocked(o.Maker, cfg.Base, &qty); err != nil {
			return err
		}
		if err := e.ledger.Credit(o.Maker, cfg.Quote, &value); err != nil {
			return err
		}
	}

	if res.ClobFilled, err = fixed.Add(&res.ClobFilled, &qty); err != nil {
		return err
	}
	if res.ClobProceeds, err = fixed.Add(&res.ClobProceeds, &value); err != nil {
		return err
	}
	remaining.Sub(remaining, &qty)

	res.Fills = append(res.Fills, Fill{
		OrderID: o.ID,
		Maker:   o.Maker,
		Price:   o.Price,
		Amount:  qty,
		Value:   value,
		Done:    qty.Eq(&rem),
	})
	return nil
}

// settleTaker computes the improvement over the curve-only reference and
// moves the taker's funds. With no book fill the taker gets or pays exactly
// what was executed.
func (e *Engine) settleTaker(cfg *market.Config, res *Result) error {
	actual, err := fixed.Add(&res.ClobProceeds, &res.AmmProceeds)
	if err != nil {
		return err
	}

	var improvement uint256.Int
	res.Settled = actual
	if !res.ClobFilled.IsZero() {
		if res.Side == market.Sell {
			res.Settled = fixed.Min(&actual, &res.ReferenceProceeds)
			improvement.Sub(&actual, &res.Settled)
		} else {
			res.Settled = fixed.Max(&actual, &res.ReferenceProceeds)
			improvement.Sub(&res.Settled, &actual)
		}
	}
	if improvement.Gt(cfg.DustThreshold(res.Side)) {
		res.Refund = improvement
	} else {
		res.Dust = improvement
	}

	taker := res.Taker
	if err := e.ledger.Credit(taker, cfg.Quote, &res.Refund); err != nil {
		return err
	}
	if res.Side == market.Sell {
		if err := e.ledger.Credit(taker, cfg.Quote, &res.Settled); err != nil {
			return err
		}
	} else {
		if err := e.ledger.Debit(taker, cfg.Quote, &res.Settled); err != nil {
			return err
		}
		if err := e.ledger.Credit(taker, cfg.Base, &res.Requested); err != nil {
			return err
		}
	}
	return e.ledger.Credit(cfg.Treasury, cfg.Quote, &res.Dust)
}
