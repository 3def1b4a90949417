package snapshot

import (
	"context"
	"time"

	"github.com/holiman/uint256"

	"hybridbook/domain/ledger"
	"hybridbook/domain/market"
	"hybridbook/domain/orderbook"
	"hybridbook/pkg/errors"
	"hybridbook/pkg/fixed"
)

// Store saves and loads the latest snapshot. Load returns nil, nil when no
// snapshot exists.
type Store interface {
	Save(ctx context.Context, s *Snapshot) error
	Load(ctx context.Context) (*Snapshot, error)
}

type Snapshot struct {
	// Seq is the last journal sequence included.
	Seq uint64
	// OrderSeq is the last order id issued.
	OrderSeq uint64
	Created  time.Time
	Pools    []PoolEntry
	Balances []BalanceEntry
}

type PoolEntry struct {
	ID                string
	Base              string
	Quote             string
	TickSpacing       string
	Words             int
	MinPrice          string
	MaxPrice          string
	DustThresholdBuy  string
	DustThresholdSell string
	Treasury          string
	MaxDeviation      string
	Orders            []OrderEntry
}

type OrderEntry struct {
	ID     uint64
	Maker  string
	Side   uint8
	Price  string
	Slot   uint32
	Amount string
	Filled string
	Locked string
	Seq    uint64
	Status uint8
}

type BalanceEntry struct {
	User   string
	Asset  string
	Total  string
	Locked string
}

// ---- encode ----

func FromPool(cfg *market.Config, orders []orderbook.Order) PoolEntry {
	p := PoolEntry{
		ID:                string(cfg.ID),
		Base:              string(cfg.Base),
		Quote:             string(cfg.Quote),
		TickSpacing:       cfg.TickSpacing.Dec(),
		Words:             cfg.Words,
		MinPrice:          cfg.MinPrice.Dec(),
		MaxPrice:          cfg.MaxPrice.Dec(),
		DustThresholdBuy:  cfg.DustThresholdBuy.Dec(),
		DustThresholdSell: cfg.DustThresholdSell.Dec(),
		Treasury:          string(cfg.Treasury),
		MaxDeviation:      cfg.MaxDeviation.Dec(),
		Orders:            make([]OrderEntry, 0, len(orders)),
	}
	for _, o := range orders {
		p.Orders = append(p.Orders, OrderEntry{
			ID:     uint64(o.ID),
			Maker:  string(o.Maker),
			Side:   uint8(o.Side),
			Price:  o.Price.Dec(),
			Slot:   o.Slot,
			Amount: o.Amount.Dec(),
			Filled: o.Filled.Dec(),
			Locked: o.Locked.Dec(),
			Seq:    o.Seq,
			Status: uint8(o.Status),
		})
	}
	return p
}

func FromBalances(entries []ledger.Entry) []BalanceEntry {
	out := make([]BalanceEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, BalanceEntry{
			User:   string(e.User),
			Asset:  string(e.Asset),
			Total:  e.Total.Dec(),
			Locked: e.Locked.Dec(),
		})
	}
	return out
}

// ---- decode ----

type decoder struct{ err error }

func (d *decoder) amount(field, s string) uint256.Int {
	if d.err != nil {
		return uint256.Int{}
	}
	v, err := fixed.ParseDec(s)
	if err != nil {
		d.err = errors.Wrapf(err, "snapshot field %s", field)
	}
	return v
}

// Config rebuilds the pool configuration.
func (p *PoolEntry) Config() (market.Config, error) {
	var d decoder
	cfg := market.Config{
		ID:                market.PoolID(p.ID),
		Base:              market.Asset(p.Base),
		Quote:             market.Asset(p.Quote),
		TickSpacing:       d.amount("tick_spacing", p.TickSpacing),
		Words:             p.Words,
		MinPrice:          d.amount("min_price", p.MinPrice),
		MaxPrice:          d.amount("max_price", p.MaxPrice),
		DustThresholdBuy:  d.amount("dust_threshold_buy", p.DustThresholdBuy),
		DustThresholdSell: d.amount("dust_threshold_sell", p.DustThresholdSell),
		Treasury:          market.UserID(p.Treasury),
		MaxDeviation:      d.amount("max_deviation", p.MaxDeviation),
	}
	if d.err != nil {
		return market.Config{}, d.err
	}
	return cfg, cfg.Validate()
}

// OrderRecords rebuilds the order records of the pool.
func (p *PoolEntry) OrderRecords() ([]orderbook.Order, error) {
	var d decoder
	out := make([]orderbook.Order, 0, len(p.Orders))
	for _, e := range p.Orders {
		out = append(out, orderbook.Order{
			ID:     orderbook.OrderID(e.ID),
			Maker:  market.UserID(e.Maker),
			Pool:   market.PoolID(p.ID),
			Side:   market.Side(e.Side),
			Price:  d.amount("price", e.Price),
			Slot:   e.Slot,
			Amount: d.amount("amount", e.Amount),
			Filled: d.amount("filled", e.Filled),
			Locked: d.amount("locked", e.Locked),
			Seq:    e.Seq,
			Status: orderbook.Status(e.Status),
		})
	}
	return out, d.err
}

// LedgerEntries rebuilds the balances.
func (s *Snapshot) LedgerEntries() ([]ledger.Entry, error) {
	var d decoder
	out := make([]ledger.Entry, 0, len(s.Balances))
	for _, b := range s.Balances {
		out = append(out, ledger.Entry{
			User:  market.UserID(b.User),
			Asset: market.Asset(b.Asset),
			Balance: ledger.Balance{
				Total:  d.amount("total", b.Total),
				Locked: d.amount("locked", b.Locked),
			},
		})
	}
	return out, d.err
}
