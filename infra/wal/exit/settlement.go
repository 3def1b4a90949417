package exit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/holiman/uint256"
	"github.com/oklog/ulid/v2"

	"hybridbook/domain/market"
	"hybridbook/pkg/errors"
)

type Kind string

const (
	// KindCredit pushes value from the exchange to the user's custody account.
	KindCredit Kind = "credit"
	// KindDebit pulls value from the user's custody account.
	KindDebit Kind = "debit"
)

// Instruction is the outbox payload relayed to the custody layer.
type Instruction struct {
	ID     string `json:"id"`
	Seq    uint64 `json:"seq"`
	Kind   Kind   `json:"kind"`
	User   string `json:"user"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
	Time   int64  `json:"time"`
}

// Settlement records custody instructions in the outbox. Instructions of
// one command are staged in a batch and become durable on Flush; Discard
// drops them. It is single-writer.
type Settlement struct {
	wal       *ExitWAL
	committed uint64
	next      uint64
	pending   *pebble.Batch
}

func NewSettlement(w *ExitWAL) (*Settlement, error) {
	last, err := w.LastSeq()
	if err != nil {
		return nil, errors.Wrap(err, "read outbox sequence")
	}
	return &Settlement{wal: w, committed: last, next: last}, nil
}

func (s *Settlement) Credit(ctx context.Context, user market.UserID, asset market.Asset, amount *uint256.Int) error {
	return s.stage(ctx, KindCredit, user, asset, amount)
}

func (s *Settlement) Debit(ctx context.Context, user market.UserID, asset market.Asset, amount *uint256.Int) error {
	return s.stage(ctx, KindDebit, user, asset, amount)
}

func (s *Settlement) stage(ctx context.Context, kind Kind, user market.UserID, asset market.Asset, amount *uint256.Int) error {
	if err := ctx.Err(); err != nil {
		return errors.Cause(errors.ErrSettlement, err)
	}
	if s.pending == nil {
		s.pending = s.wal.NewBatch()
	}
	s.next++
	ins := Instruction{
		ID:     ulid.Make().String(),
		Seq:    s.next,
		Kind:   kind,
		User:   string(user),
		Asset:  string(asset),
		Amount: amount.Dec(),
		Time:   time.Now().UnixNano(),
	}
	payload, err := json.Marshal(ins)
	if err != nil {
		return errors.Cause(errors.ErrSettlement, err)
	}
	if err := s.wal.PutNew(s.pending, s.next, payload); err != nil {
		return errors.Cause(errors.ErrSettlement, err)
	}
	return nil
}

// Flush makes the staged instructions durable.
func (s *Settlement) Flush() error {
	if s.pending == nil {
		return nil
	}
	b := s.pending
	s.pending = nil
	defer b.Close()

	if err := s.wal.Commit(b); err != nil {
		s.next = s.committed
		return errors.Cause(errors.ErrSettlement, err)
	}
	s.committed = s.next
	return nil
}

// Discard drops the staged instructions.
func (s *Settlement) Discard() {
	if s.pending != nil {
		_ = s.pending.Close()
		s.pending = nil
	}
	s.next = s.committed
}
