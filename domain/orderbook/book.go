// Package orderbook stores the resting orders of one pool: an arena of order
// records, per-slot FIFO queues linking arena indexes, and one price index
// per side marking the slots that hold at least one live order.
package orderbook

import (
	"sync/atomic"

	"github.com/holiman/uint256"

	"hybridbook/domain/market"
	"hybridbook/domain/priceindex"
	"hybridbook/domain/txn"
	"hybridbook/pkg/errors"
	"hybridbook/pkg/fixed"
)

type levelKey struct {
	side market.Side
	slot market.Slot
}

// Book is single-writer and deterministic. Mutations record undo steps in
// the journal it was created with.
type Book struct {
	cfg market.Config

	bids *priceindex.Index
	asks *priceindex.Index

	levels map[levelKey]*PriceLevel
	arena  []Order
	byID   map[OrderID]int32

	busy    atomic.Bool
	journal *txn.Journal
}

func New(cfg market.Config, j *txn.Journal) (*Book, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Book{
		cfg:     cfg,
		bids:    priceindex.New(cfg.Words, j),
		asks:    priceindex.New(cfg.Words, j),
		levels:  make(map[levelKey]*PriceLevel),
		byID:    make(map[OrderID]int32),
		journal: j,
	}, nil
}

func (b *Book) Config() *market.Config {
	return &b.cfg
}

// Index returns the price index of resting orders on side.
func (b *Book) Index(side market.Side) *priceindex.Index {
	if side == market.Buy {
		return b.bids
	}
	return b.asks
}

// ---- guard ----

// Enter claims the book for one placement, cancellation or match. A second
// Enter before Exit fails with ErrReentrant.
func (b *Book) Enter() error {
	if !b.busy.CompareAndSwap(false, true) {
		return errors.Wrapf(errors.ErrReentrant, "pool %s", b.cfg.ID)
	}
	return nil
}

func (b *Book) Exit() {
	b.busy.Store(false)
}

// ---- records ----

// Get returns a copy of the order.
func (b *Book) Get(id OrderID) (Order, bool) {
	i, ok := b.byID[id]
	if !ok {
		return Order{}, false
	}
	return b.arena[i], true
}

// Len is the number of records, tombstones included.
func (b *Book) Len() int {
	return len(b.arena)
}

// Insert appends o to the tail of its level and marks the level active. The
// caller has validated o and locked its funds.
func (b *Book) Insert(o Order) {
	o.next = none
	o.Status = Open

	i := int32(len(b.arena))
	b.arena = append(b.arena, o)
	b.byID[o.ID] = i
	b.journal.Record(func() {
		delete(b.byID, o.ID)
		b.arena = b.arena[:i]
	})

	k := levelKey{o.Side, o.Slot}
	lvl, existed := b.levels[k]
	if !existed {
		lvl = newLevel()
		b.levels[k] = lvl
	}
	b.saveLevel(k, lvl, existed)

	if lvl.tail == none {
		lvl.head = i
	} else {
		b.saveOrder(lvl.tail)
		b.arena[lvl.tail].next = i
	}
	lvl.tail = i
	lvl.live++
	b.Index(o.Side).Set(o.Slot)
}

// Front returns the oldest live order at slot, evicting the tombstones in
// front of it. ok is false when the level holds no live order.
func (b *Book) Front(side market.Side, slot market.Slot) (Order, bool) {
	k := levelKey{side, slot}
	lvl := b.levels[k]
	if lvl == nil || lvl.live == 0 {
		return Order{}, false
	}
	if b.arena[lvl.head].Terminal() {
		b.saveLevel(k, lvl, true)
		for lvl.head != none && b.arena[lvl.head].Terminal() {
			lvl.head = b.arena[lvl.head].next
		}
	}
	return b.arena[lvl.head], true
}

// Fill records qty filled on order id and returns the lock it released. A
// buy fill releases floor(qty*price/SCALE) of quote; the fill that
// completes the order releases whatever it still holds.
func (b *Book) Fill(id OrderID, qty *uint256.Int) (uint256.Int, error) {
	i, ok := b.byID[id]
	if !ok {
		return uint256.Int{}, errors.Wrapf(errors.ErrOrderNotFound, "order %d", id)
	}
	o := &b.arena[i]
	rem := o.Remaining()
	if qty.IsZero() || qty.Gt(&rem) {
		return uint256.Int{}, errors.Wrapf(errors.ErrOverflow, "fill %s of order %d with %s remaining", qty.Dec(), id, rem.Dec())
	}

	release, err := LockFor(o.Side, qty, &o.Price)
	if err != nil {
		return uint256.Int{}, err
	}
	complete := qty.Eq(&rem)
	if complete || release.Gt(&o.Locked) {
		release = o.Locked
	}

	b.saveOrder(i)
	o.Filled.Add(&o.Filled, qty)
	o.Locked.Sub(&o.Locked, &release)
	if complete {
		o.Status = Filled
		b.retire(o)
	} else {
		o.Status = PartiallyFilled
	}
	return release, nil
}

// Cancel tombstones order id and returns the lock it held. The caller
// checks ownership and terminal state.
func (b *Book) Cancel(id OrderID) (uint256.Int, error) {
	i, ok := b.byID[id]
	if !ok {
		return uint256.Int{}, errors.Wrapf(errors.ErrOrderNotFound, "order %d", id)
	}
	o := &b.arena[i]
	if o.Terminal() {
		return uint256.Int{}, errors.Wrapf(errors.ErrAlreadyTerminal, "order %d", id)
	}

	b.saveOrder(i)
	released := o.Locked
	o.Filled = o.Amount
	o.Locked.Clear()
	o.Status = Cancelled
	b.retire(o)
	return released, nil
}

// retire drops o from its level's live count. A level left with no live
// order is removed together with its tombstones and its index bit cleared.
func (b *Book) retire(o *Order) {
	k := levelKey{o.Side, o.Slot}
	lvl := b.levels[k]
	b.saveLevel(k, lvl, true)
	lvl.live--
	if lvl.live > 0 {
		return
	}
	delete(b.levels, k)
	b.Index(o.Side).Clear(o.Slot)
}

// ---- undo ----

func (b *Book) saveOrder(i int32) {
	prev := b.arena[i]
	b.journal.Record(func() { b.arena[i] = prev })
}

func (b *Book) saveLevel(k levelKey, lvl *PriceLevel, existed bool) {
	prev := *lvl
	b.journal.Record(func() {
		if !existed {
			delete(b.levels, k)
			return
		}
		*lvl = prev
		b.levels[k] = lvl
	})
}

// ---- queries ----

// Depth aggregates the live amount per level on side, best price first:
// highest bids, lowest asks. levels <= 0 means all.
func (b *Book) Depth(side market.Side, levels int) ([]LevelDepth, error) {
	ix := b.Index(side)
	if ix.Capacity() == 0 {
		return nil, nil
	}
	top := b.cfg.MaxSlot()

	from, dir, bound := market.Slot(0), market.Up, top
	if side == market.Buy {
		from, dir, bound = top, market.Down, 0
	}

	var out []LevelDepth
	for levels <= 0 || len(out) < levels {
		slot, ok := ix.Next(from, dir, bound)
		if !ok {
			break
		}
		row := LevelDepth{Price: b.cfg.PriceAt(slot)}
		for i := b.levels[levelKey{side, slot}].head; i != none; i = b.arena[i].next {
			o := &b.arena[i]
			if o.Terminal() {
				continue
			}
			rem := o.Remaining()
			sum, err := fixed.Add(&row.Amount, &rem)
			if err != nil {
				return nil, err
			}
			row.Amount = sum
			row.Orders++
		}
		out = append(out, row)

		if dir == market.Up {
			if slot == bound {
				break
			}
			from = slot + 1
		} else {
			if slot == bound {
				break
			}
			from = slot - 1
		}
	}
	return out, nil
}

// Orders returns a copy of every record in insertion order.
func (b *Book) Orders() []Order {
	out := make([]Order, len(b.arena))
	copy(out, b.arena)
	return out
}

// Open returns a copy of every live order in insertion order.
func (b *Book) Open() []Order {
	var out []Order
	for i := range b.arena {
		if !b.arena[i].Terminal() {
			out = append(out, b.arena[i])
		}
	}
	return out
}

// Restore rebuilds the book from records in insertion order. Live orders
// are queued again; terminal ones are kept for lookups only. It is not
// journaled.
func (b *Book) Restore(orders []Order) {
	b.levels = make(map[levelKey]*PriceLevel)
	b.arena = make([]Order, 0, len(orders))
	b.byID = make(map[OrderID]int32, len(orders))
	b.bids.Reset()
	b.asks.Reset()

	for _, o := range orders {
		o.next = none
		i := int32(len(b.arena))
		b.arena = append(b.arena, o)
		b.byID[o.ID] = i
		if o.Terminal() {
			continue
		}
		k := levelKey{o.Side, o.Slot}
		lvl := b.levels[k]
		if lvl == nil {
			lvl = newLevel()
			b.levels[k] = lvl
		}
		if lvl.tail == none {
			lvl.head = i
		} else {
			b.arena[lvl.tail].next = i
		}
		lvl.tail = i
		lvl.live++
		b.Index(o.Side).Set(o.Slot)
	}
}
