package service

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"

	"hybridbook/domain/matching"
	"hybridbook/domain/orderbook"
	"hybridbook/pkg/fixed"
	"hybridbook/pkg/logger"
)

const (
	EventOrderPlaced    = "order_placed"
	EventOrderCancelled = "order_cancelled"
	EventSwapExecuted   = "swap_executed"
)

// Event is one feed message. Amounts are decimal strings of raw units,
// prices are human-readable decimals.
type Event struct {
	ID    string     `json:"id"`
	Type  string     `json:"type"`
	Seq   uint64     `json:"seq"`
	Pool  string     `json:"pool"`
	User  string     `json:"user"`
	Time  int64      `json:"time"`
	Order *OrderView `json:"order,omitempty"`
	Swap  *SwapView  `json:"swap,omitempty"`
}

type OrderView struct {
	ID     uint64 `json:"id"`
	Pool   string `json:"pool"`
	Maker  string `json:"maker"`
	Side   string `json:"side"`
	Price  string `json:"price"`
	Amount string `json:"amount"`
	Filled string `json:"filled"`
	Status string `json:"status"`
}

type FillView struct {
	OrderID uint64 `json:"order_id"`
	Maker   string `json:"maker"`
	Price   string `json:"price"`
	Amount  string `json:"amount"`
	Value   string `json:"value"`
}

type SwapView struct {
	Side         string     `json:"side"`
	Requested    string     `json:"requested"`
	ClobFilled   string     `json:"clob_filled"`
	ClobProceeds string     `json:"clob_proceeds"`
	AmmFilled    string     `json:"amm_filled"`
	AmmProceeds  string     `json:"amm_proceeds"`
	Reference    string     `json:"reference"`
	Settled      string     `json:"settled"`
	Refund       string     `json:"refund"`
	Dust         string     `json:"dust"`
	VWAP         string     `json:"vwap"`
	Fills        []FillView `json:"fills"`
}

func newEvent(typ string, seq uint64, pool, user string) Event {
	return Event{
		ID:   ulid.Make().String(),
		Type: typ,
		Seq:  seq,
		Pool: pool,
		User: user,
		Time: time.Now().UnixNano(),
	}
}

// NewOrderView renders o for the feed and the API.
func NewOrderView(o *orderbook.Order) *OrderView {
	return &OrderView{
		ID:     uint64(o.ID),
		Pool:   string(o.Pool),
		Maker:  string(o.Maker),
		Side:   o.Side.String(),
		Price:  fixed.FormatPrice(&o.Price),
		Amount: o.Amount.Dec(),
		Filled: o.Filled.Dec(),
		Status: o.Status.String(),
	}
}

// NewSwapView renders r for the feed and the API.
func NewSwapView(r *matching.Result) *SwapView {
	vwap := r.VWAP()
	v := &SwapView{
		Side:         r.Side.String(),
		Requested:    r.Requested.Dec(),
		ClobFilled:   r.ClobFilled.Dec(),
		ClobProceeds: r.ClobProceeds.Dec(),
		AmmFilled:    r.AmmFilled.Dec(),
		AmmProceeds:  r.AmmProceeds.Dec(),
		Reference:    r.ReferenceProceeds.Dec(),
		Settled:      r.Settled.Dec(),
		Refund:       r.Refund.Dec(),
		Dust:         r.Dust.Dec(),
		VWAP:         fixed.FormatPrice(&vwap),
		Fills:        make([]FillView, 0, len(r.Fills)),
	}
	for _, f := range r.Fills {
		v.Fills = append(v.Fills, FillView{
			OrderID: uint64(f.OrderID),
			Maker:   string(f.Maker),
			Price:   fixed.FormatPrice(&f.Price),
			Amount:  f.Amount.Dec(),
			Value:   f.Value.Dec(),
		})
	}
	return v
}

// feed decouples publishing from the command path. Events are queued in
// commit order and dropped when the queue is full.
type feed struct {
	pub   Publisher
	queue chan Event
	log   *logger.Logger
}

func newFeed(pub Publisher, size int, log *logger.Logger) *feed {
	return &feed{pub: pub, queue: make(chan Event, size), log: log}
}

func (f *feed) emit(ev Event) {
	if f == nil {
		return
	}
	select {
	case f.queue <- ev:
	default:
		f.log.Warn("event feed full, dropping event",
			logger.NewField("type", ev.Type),
			logger.NewField("seq", ev.Seq),
		)
	}
}

func (f *feed) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-f.queue:
			if err := f.pub.Publish(ctx, ev.Pool, ev); err != nil {
				f.log.Warn("publish event failed",
					logger.NewField("type", ev.Type),
					logger.NewField("seq", ev.Seq),
					logger.NewField("error", err.Error()),
				)
			}
		}
	}
}
