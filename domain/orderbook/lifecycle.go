package orderbook

import (
	"github.com/holiman/uint256"

	"hybridbook/domain/ledger"
	"hybridbook/domain/market"
	"hybridbook/domain/txn"
	"hybridbook/pkg/errors"
)

// IDSource issues order identifiers. Reset rewinds it when a placement is
// rolled back so identifiers stay dense and replayable.
type IDSource interface {
	Next() uint64
	Current() uint64
	Reset(v uint64)
}

// PlaceRequest is a validated-by-Place limit order request.
type PlaceRequest struct {
	Maker  market.UserID
	Side   market.Side
	Price  uint256.Int
	Amount uint256.Int
	// Seq is the creation sequence number stamped on the order.
	Seq uint64
}

// Controller places and cancels orders, keeping the maker's locked balance
// equal to the sum of its open orders' Locked.
type Controller struct {
	ledger  *ledger.Ledger
	ids     IDSource
	journal *txn.Journal
}

func NewController(l *ledger.Ledger, ids IDSource, j *txn.Journal) *Controller {
	return &Controller{ledger: l, ids: ids, journal: j}
}

// Place validates the request, locks the maker's funds and queues the order
// at the tail of its level. The price is rounded to the nearest increment.
func (c *Controller) Place(book *Book, req PlaceRequest) (Order, error) {
	if err := book.Enter(); err != nil {
		return Order{}, err
	}
	defer book.Exit()

	cfg := book.Config()
	if !req.Side.Valid() {
		return Order{}, errors.Wrapf(errors.ErrInvalidSide, "side %d", req.Side)
	}
	if req.Amount.IsZero() {
		return Order{}, errors.WithStack(errors.ErrZeroAmount)
	}
	slot, err := cfg.Slot(&req.Price)
	if err != nil {
		return Order{}, err
	}
	price := cfg.PriceAt(slot)

	lock, err := LockFor(req.Side, &req.Amount, &price)
	if err != nil {
		return Order{}, err
	}
	if lock.IsZero() {
		return Order{}, errors.Wrapf(errors.ErrZeroAmount, "order value of %s at %s rounds to zero", req.Amount.Dec(), price.Dec())
	}
	if err := c.ledger.Lock(req.Maker, cfg.LockAsset(req.Side), &lock); err != nil {
		return Order{}, err
	}

	prev := c.ids.Current()
	id := OrderID(c.ids.Next())
	c.journal.Record(func() { c.ids.Reset(prev) })

	o := Order{
		ID:     id,
		Maker:  req.Maker,
		Pool:   cfg.ID,
		Side:   req.Side,
		Price:  price,
		Slot:   slot,
		Amount: req.Amount,
		Locked: lock,
		Seq:    req.Seq,
	}
	book.Insert(o)
	o, _ = book.Get(id)
	return o, nil
}

// Cancel tombstones an open order of caller and releases its remaining lock.
func (c *Controller) Cancel(book *Book, caller market.UserID, id OrderID) (Order, error) {
	if err := book.Enter(); err != nil {
		return Order{}, err
	}
	defer book.Exit()

	o, ok := book.Get(id)
	if !ok {
		return Order{}, errors.Wrapf(errors.ErrOrderNotFound, "order %d", id)
	}
	if o.Maker != caller {
		return Order{}, errors.Wrapf(errors.ErrNotOrderMaker, "cancel order %d", id)
	}
	if o.Terminal() {
		return Order{}, errors.Wrapf(errors.ErrAlreadyTerminal, "cancel order %d", id)
	}

	released, err := book.Cancel(id)
	if err != nil {
		return Order{}, err
	}
	c.ledger.Unlock(o.Maker, book.Config().LockAsset(o.Side), &released)

	o, _ = book.Get(id)
	return o, nil
}
