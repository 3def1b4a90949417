package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/holiman/uint256"

	"hybridbook/domain/ledger"
	"hybridbook/domain/market"
	"hybridbook/domain/matching"
	"hybridbook/domain/orderbook"
	"hybridbook/domain/txn"
	"hybridbook/infra/metrics"
	"hybridbook/infra/sequence"
	"hybridbook/infra/wal/entry"
	"hybridbook/pkg/errors"
	"hybridbook/pkg/logger"
)

type inFlightKey struct{}

type Option func(*Exchange)

func WithJournal(j Journal) Option {
	return func(ex *Exchange) { ex.wal = j }
}

// WithPublisher enables the event feed; Run must be started to drain it.
func WithPublisher(p Publisher, queue int) Option {
	return func(ex *Exchange) { ex.feed = newFeed(p, queue, ex.log) }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(ex *Exchange) { ex.metrics = m }
}

func WithLogger(l *logger.Logger) Option {
	return func(ex *Exchange) { ex.log = l }
}

// Exchange serializes every command and query behind one lock. Calls made
// from inside a collaborator while a command is in flight are rejected
// with ErrReentrant instead of deadlocking.
type Exchange struct {
	mu sync.Mutex

	journal *txn.Journal
	ledger  *ledger.Ledger
	ctl     *orderbook.Controller
	pools   map[market.PoolID]*orderbook.Book
	orders  map[orderbook.OrderID]market.PoolID

	cmdSeq   *sequence.Sequencer
	orderIDs *sequence.Sequencer

	curve  matching.Curve
	settle Settlement
	wal    Journal
	feed   *feed

	metrics   *metrics.Metrics
	log       *logger.Logger
	replaying bool

	// committed runs after the in-flight command commits.
	committed []func()
}

func New(curve matching.Curve, settle Settlement, opts ...Option) *Exchange {
	j := txn.New()
	l := ledger.New(j)
	ids := sequence.New(0)
	ex := &Exchange{
		journal:  j,
		ledger:   l,
		ctl:      orderbook.NewController(l, ids, j),
		pools:    make(map[market.PoolID]*orderbook.Book),
		orders:   make(map[orderbook.OrderID]market.PoolID),
		cmdSeq:   sequence.New(0),
		orderIDs: ids,
		curve:    curve,
		settle:   settle,
		metrics:  metrics.NewNop(),
		log:      logger.NewNop(),
	}
	for _, opt := range opts {
		opt(ex)
	}
	if ex.settle == nil {
		ex.settle = nopSettlement{}
	}
	if ex.feed != nil {
		ex.feed.log = ex.log
	}
	return ex
}

// Run drains the event feed until ctx is done.
func (ex *Exchange) Run(ctx context.Context) {
	if ex.feed == nil {
		<-ctx.Done()
		return
	}
	ex.feed.run(ctx)
}

// LastSeq is the last committed journal sequence.
func (ex *Exchange) LastSeq() uint64 {
	return ex.cmdSeq.Current()
}

// ---- command execution ----

func reentrant(ctx context.Context, ex *Exchange) bool {
	owner, _ := ctx.Value(inFlightKey{}).(*Exchange)
	return owner == ex
}

// lock takes the exchange lock unless ctx is already inside one of its
// commands, and returns the context to hand to collaborators.
func (ex *Exchange) lock(ctx context.Context, op string) (context.Context, error) {
	if reentrant(ctx, ex) {
		return nil, errors.Wrapf(errors.ErrReentrant, "%s called from inside a command", op)
	}
	ex.mu.Lock()
	return context.WithValue(ctx, inFlightKey{}, ex), nil
}

// step is the body of a command. It returns the journal payload and the
// feed events to emit after commit.
type step func(ctx context.Context, seq uint64) (*command, []Event, error)

func (ex *Exchange) exec(ctx context.Context, op string, typ entry.RecordType, fields []logger.Field, fn step) error {
	start := time.Now()
	ctx, err := ex.lock(ctx, op)
	if err != nil {
		ex.metrics.ObserveCommand(op, start, string(errors.CodeOf(err)))
		return err
	}
	defer ex.mu.Unlock()

	ex.journal.Begin()
	ex.committed = ex.committed[:0]
	prev := ex.cmdSeq.Current()
	seq := ex.cmdSeq.Next()
	ex.journal.Record(func() { ex.cmdSeq.Reset(prev) })

	cmd, events, err := fn(ctx, seq)
	if err == nil && ex.wal != nil && !ex.replaying {
		err = ex.wal.Append(entry.NewRecord(typ, seq, cmd.marshal()))
	}
	if err != nil {
		ex.journal.Rollback()
		if s, ok := ex.settle.(stagedSettlement); ok && !ex.replaying {
			s.Discard()
		}
		ex.metrics.ObserveCommand(op, start, string(errors.CodeOf(err)))
		ex.logFailure(ctx, op, err, fields)
		return err
	}
	ex.journal.Commit()
	for _, fn := range ex.committed {
		fn()
	}
	clear(ex.committed)

	if s, ok := ex.settle.(stagedSettlement); ok && !ex.replaying {
		if err := s.Flush(); err != nil {
			// The command is journaled; the outbox entry is lost and
			// needs operator attention.
			ex.log.ErrorContext(ctx, err, append(fields, logger.NewField("op", op), logger.NewField("seq", seq))...)
		}
	}
	ex.metrics.ObserveCommand(op, start, "")
	ex.metrics.JournalSeq.Set(float64(seq))
	if !ex.replaying {
		for _, ev := range events {
			ex.feed.emit(ev)
		}
		ex.log.Debug("command committed", append(fields, logger.NewField("op", op), logger.NewField("seq", seq))...)
	}
	return nil
}

// onCommit defers fn until the running command commits.
func (ex *Exchange) onCommit(fn func()) {
	ex.committed = append(ex.committed, fn)
}

func (ex *Exchange) logFailure(ctx context.Context, op string, err error, fields []logger.Field) {
	fields = append(fields, logger.NewField("op", op))
	switch errors.CategoryOf(err) {
	case errors.CategoryExternal, errors.CategoryArithmetic, "":
		ex.log.ErrorContext(ctx, err, fields...)
	default:
		ex.log.Debug(err.Error(), append(fields, logger.NewField("code", string(errors.CodeOf(err))))...)
	}
}

func (ex *Exchange) settlement() Settlement {
	if ex.replaying {
		return nopSettlement{}
	}
	return ex.settle
}

func (ex *Exchange) book(id market.PoolID) (*orderbook.Book, error) {
	b, ok := ex.pools[id]
	if !ok {
		return nil, errors.Wrapf(errors.ErrPoolNotFound, "pool %s", id)
	}
	return b, nil
}

// ---- commands ----

// CreatePool registers a pool. Its configuration is fixed for its lifetime.
func (ex *Exchange) CreatePool(ctx context.Context, cfg market.Config) error {
	fields := []logger.Field{logger.NewField("pool", string(cfg.ID))}
	return ex.exec(ctx, "create_pool", entry.RecordCreatePool, fields, func(ctx context.Context, seq uint64) (*command, []Event, error) {
		if _, ok := ex.pools[cfg.ID]; ok {
			return nil, nil, errors.Wrapf(errors.ErrPoolExists, "pool %s", cfg.ID)
		}
		b, err := orderbook.New(cfg, ex.journal)
		if err != nil {
			return nil, nil, err
		}
		ex.pools[cfg.ID] = b
		ex.journal.Record(func() { delete(ex.pools, cfg.ID) })
		return &command{Pool: cfg.ID, Config: cfg}, nil, nil
	})
}

// Deposit pulls amount from custody and credits the ledger.
func (ex *Exchange) Deposit(ctx context.Context, user market.UserID, asset market.Asset, amount *uint256.Int) error {
	fields := []logger.Field{logger.NewField("user", string(user)), logger.NewField("asset", string(asset))}
	return ex.exec(ctx, "deposit", entry.RecordDeposit, fields, func(ctx context.Context, seq uint64) (*command, []Event, error) {
		if amount.IsZero() {
			return nil, nil, errors.WithStack(errors.ErrZeroAmount)
		}
		if err := ex.settlement().Debit(ctx, user, asset, amount); err != nil {
			return nil, nil, errors.Cause(errors.ErrSettlement, err)
		}
		if err := ex.ledger.Deposit(user, asset, amount); err != nil {
			return nil, nil, err
		}
		return &command{User: user, Asset: asset, Amount: *amount}, nil, nil
	})
}

// Withdraw debits the ledger and pushes amount to custody.
func (ex *Exchange) Withdraw(ctx context.Context, user market.UserID, asset market.Asset, amount *uint256.Int) error {
	fields := []logger.Field{logger.NewField("user", string(user)), logger.NewField("asset", string(asset))}
	return ex.exec(ctx, "withdraw", entry.RecordWithdraw, fields, func(ctx context.Context, seq uint64) (*command, []Event, error) {
		if err := ex.ledger.Withdraw(user, asset, amount); err != nil {
			return nil, nil, err
		}
		if err := ex.settlement().Credit(ctx, user, asset, amount); err != nil {
			return nil, nil, errors.Cause(errors.ErrSettlement, err)
		}
		return &command{User: user, Asset: asset, Amount: *amount}, nil, nil
	})
}

// PlaceOrder rests a limit order and returns its identifier.
func (ex *Exchange) PlaceOrder(ctx context.Context, pool market.PoolID, user market.UserID, side market.Side, price, amount *uint256.Int) (orderbook.OrderID, error) {
	var id orderbook.OrderID
	fields := []logger.Field{logger.NewField("pool", string(pool)), logger.NewField("user", string(user))}
	err := ex.exec(ctx, "place_order", entry.RecordPlace, fields, func(ctx context.Context, seq uint64) (*command, []Event, error) {
		book, err := ex.book(pool)
		if err != nil {
			return nil, nil, err
		}
		o, err := ex.ctl.Place(book, orderbook.PlaceRequest{
			Maker:  user,
			Side:   side,
			Price:  *price,
			Amount: *amount,
			Seq:    seq,
		})
		if err != nil {
			return nil, nil, err
		}
		ex.orders[o.ID] = pool
		ex.journal.Record(func() { delete(ex.orders, o.ID) })
		id = o.ID

		ev := newEvent(EventOrderPlaced, seq, string(pool), string(user))
		ev.Order = NewOrderView(&o)
		ex.onCommit(func() { ex.metrics.OrdersPlaced.WithLabelValues(string(pool), side.String()).Inc() })
		return &command{Pool: pool, User: user, Side: side, Price: *price, Amount: *amount, OrderID: o.ID}, []Event{ev}, nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// CancelOrder cancels an open order of user.
func (ex *Exchange) CancelOrder(ctx context.Context, user market.UserID, id orderbook.OrderID) error {
	fields := []logger.Field{logger.NewField("user", string(user)), logger.NewField("order_id", uint64(id))}
	return ex.exec(ctx, "cancel_order", entry.RecordCancel, fields, func(ctx context.Context, seq uint64) (*command, []Event, error) {
		pool, ok := ex.orders[id]
		if !ok {
			return nil, nil, errors.Wrapf(errors.ErrOrderNotFound, "order %d", id)
		}
		book, err := ex.book(pool)
		if err != nil {
			return nil, nil, err
		}
		o, err := ex.ctl.Cancel(book, user, id)
		if err != nil {
			return nil, nil, err
		}

		ev := newEvent(EventOrderCancelled, seq, string(pool), string(user))
		ev.Order = NewOrderView(&o)
		ex.onCommit(func() { ex.metrics.OrdersCancelled.WithLabelValues(string(pool)).Inc() })
		return &command{Pool: pool, User: user, OrderID: id}, []Event{ev}, nil
	})
}

// Swap executes a taker trade of amount base units: resting orders inside
// the deviation window first, the curve for the rest.
func (ex *Exchange) Swap(ctx context.Context, pool market.PoolID, user market.UserID, side market.Side, amount *uint256.Int) (matching.Result, error) {
	var res matching.Result
	fields := []logger.Field{logger.NewField("pool", string(pool)), logger.NewField("user", string(user))}
	err := ex.exec(ctx, "swap", entry.RecordSwap, fields, func(ctx context.Context, seq uint64) (*command, []Event, error) {
		book, err := ex.book(pool)
		if err != nil {
			return nil, nil, err
		}
		curve := &recordingCurve{Curve: ex.curve, journal: ex.journal, log: ex.log}
		r, err := matching.New(ex.ledger, curve).Swap(ctx, book, matching.Request{Taker: user, Side: side, Amount: *amount})
		if err != nil {
			return nil, nil, err
		}
		res = r

		ev := newEvent(EventSwapExecuted, seq, string(pool), string(user))
		ev.Swap = NewSwapView(&r)
		ex.onCommit(func() { ex.observeSwap(&r) })
		return &command{
			Pool:        pool,
			User:        user,
			Side:        side,
			Amount:      *amount,
			Spot:        curve.spot,
			Reference:   curve.reference,
			AmmProceeds: curve.amm,
		}, []Event{ev}, nil
	})
	if err != nil {
		return matching.Result{}, err
	}
	return res, nil
}

func (ex *Exchange) observeSwap(r *matching.Result) {
	pool, side := string(r.Pool), r.Side.String()
	route := "hybrid"
	switch {
	case r.ClobFilled.IsZero():
		route = "curve"
	case r.AmmFilled.IsZero():
		route = "book"
	}
	ex.metrics.Swaps.WithLabelValues(pool, side, route).Inc()
	ex.metrics.FilledVolume.WithLabelValues(pool, "book").Add(wholeUnits(&r.ClobFilled))
	ex.metrics.FilledVolume.WithLabelValues(pool, "curve").Add(wholeUnits(&r.AmmFilled))
	switch {
	case !r.Refund.IsZero():
		ex.metrics.Refunds.WithLabelValues(pool, "refund").Inc()
	case !r.Dust.IsZero():
		ex.metrics.Refunds.WithLabelValues(pool, "dust").Inc()
	}
}

func wholeUnits(v *uint256.Int) float64 {
	return v.Float64() / 1e18
}

// ---- queries ----

func (ex *Exchange) query(ctx context.Context, op string) (func(), error) {
	if _, err := ex.lock(ctx, op); err != nil {
		return nil, err
	}
	return ex.mu.Unlock, nil
}

func (ex *Exchange) GetOrder(ctx context.Context, id orderbook.OrderID) (orderbook.Order, error) {
	unlock, err := ex.query(ctx, "get_order")
	if err != nil {
		return orderbook.Order{}, err
	}
	defer unlock()

	pool, ok := ex.orders[id]
	if !ok {
		return orderbook.Order{}, errors.Wrapf(errors.ErrOrderNotFound, "order %d", id)
	}
	o, _ := ex.pools[pool].Get(id)
	return o, nil
}

func (ex *Exchange) GetBalanceInfo(ctx context.Context, user market.UserID, asset market.Asset) (ledger.Info, error) {
	unlock, err := ex.query(ctx, "get_balance")
	if err != nil {
		return ledger.Info{}, err
	}
	defer unlock()
	return ex.ledger.Info(user, asset), nil
}

// Depth aggregates live resting amount per level on side, best first.
func (ex *Exchange) Depth(ctx context.Context, pool market.PoolID, side market.Side, levels int) ([]orderbook.LevelDepth, error) {
	unlock, err := ex.query(ctx, "depth")
	if err != nil {
		return nil, err
	}
	defer unlock()

	book, err := ex.book(pool)
	if err != nil {
		return nil, err
	}
	return book.Depth(side, levels)
}

// Pools lists pool configurations ordered by id.
func (ex *Exchange) Pools(ctx context.Context) ([]market.Config, error) {
	unlock, err := ex.query(ctx, "pools")
	if err != nil {
		return nil, err
	}
	defer unlock()

	out := make([]market.Config, 0, len(ex.pools))
	for _, b := range ex.pools {
		out = append(out, *b.Config())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
