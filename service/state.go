package service

import (
	"context"
	"sort"
	"time"

	"hybridbook/domain/ledger"
	"hybridbook/domain/market"
	"hybridbook/domain/orderbook"
	"hybridbook/snapshot"
)

// Snapshot captures the full state as of the last committed command.
func (ex *Exchange) Snapshot(ctx context.Context) (*snapshot.Snapshot, error) {
	unlock, err := ex.query(ctx, "snapshot")
	if err != nil {
		return nil, err
	}
	defer unlock()

	ids := make([]market.PoolID, 0, len(ex.pools))
	for id := range ex.pools {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	s := &snapshot.Snapshot{
		Seq:      ex.cmdSeq.Current(),
		OrderSeq: ex.orderIDs.Current(),
		Created:  time.Now().UTC(),
		Pools:    make([]snapshot.PoolEntry, 0, len(ids)),
		Balances: snapshot.FromBalances(ex.ledger.Balances()),
	}
	for _, id := range ids {
		b := ex.pools[id]
		s.Pools = append(s.Pools, snapshot.FromPool(b.Config(), b.Orders()))
	}
	return s, nil
}

// Restore replaces the whole state with s. It must run before the exchange
// serves traffic.
func (ex *Exchange) Restore(ctx context.Context, s *snapshot.Snapshot) error {
	unlock, err := ex.query(ctx, "restore")
	if err != nil {
		return err
	}
	defer unlock()

	pools := make(map[market.PoolID]*orderbook.Book, len(s.Pools))
	orders := make(map[orderbook.OrderID]market.PoolID)
	for i := range s.Pools {
		p := &s.Pools[i]
		cfg, err := p.Config()
		if err != nil {
			return err
		}
		recs, err := p.OrderRecords()
		if err != nil {
			return err
		}
		b, err := orderbook.New(cfg, ex.journal)
		if err != nil {
			return err
		}
		b.Restore(recs)
		for _, o := range recs {
			orders[o.ID] = cfg.ID
		}
		pools[cfg.ID] = b
	}
	entries, err := s.LedgerEntries()
	if err != nil {
		return err
	}

	ex.pools = pools
	ex.orders = orders
	ex.ledger.Restore(entries)
	ex.cmdSeq.Reset(s.Seq)
	ex.orderIDs.Reset(s.OrderSeq)
	ex.metrics.JournalSeq.Set(float64(s.Seq))
	return nil
}

// Balances lists every non-empty balance ordered by user and asset.
func (ex *Exchange) Balances(ctx context.Context) ([]ledger.Entry, error) {
	unlock, err := ex.query(ctx, "balances")
	if err != nil {
		return nil, err
	}
	defer unlock()
	return ex.ledger.Balances(), nil
}
