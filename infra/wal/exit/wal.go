// Package exit is the durable settlement outbox. Instructions for the
// custody layer are written here and relayed by the broadcaster with
// at-least-once delivery: NEW -> SENT -> ACKED -> deleted.
package exit

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"time"

	"github.com/cockroachdb/pebble"

	"hybridbook/pkg/errors"
)

// -------------------- State --------------------

type ExitState uint8

const (
	StateNew ExitState = iota
	StateSent
	StateAcked
	StateFailed
)

func (s ExitState) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateSent:
		return "SENT"
	case StateAcked:
		return "ACKED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// -------------------- Record --------------------

type ExitRecord struct {
	Seq         uint64
	State       ExitState
	Retries     uint32
	LastAttempt int64
	Payload     []byte
}

const recordHeader = 1 + 4 + 8

// binary encoding: [state:1][retries:4][lastAttempt:8][payload]
func encodeRecord(r ExitRecord) []byte {
	buf := make([]byte, recordHeader+len(r.Payload))
	buf[0] = byte(r.State)
	binary.BigEndian.PutUint32(buf[1:5], r.Retries)
	binary.BigEndian.PutUint64(buf[5:13], uint64(r.LastAttempt))
	copy(buf[recordHeader:], r.Payload)
	return buf
}

func decodeRecord(seq uint64, b []byte) (ExitRecord, error) {
	if len(b) < recordHeader {
		return ExitRecord{}, errors.Wrapf(errors.ErrSettlement, "outbox record %d: invalid length %d", seq, len(b))
	}
	payload := make([]byte, len(b)-recordHeader)
	copy(payload, b[recordHeader:])
	return ExitRecord{
		Seq:         seq,
		State:       ExitState(b[0]),
		Retries:     binary.BigEndian.Uint32(b[1:5]),
		LastAttempt: int64(binary.BigEndian.Uint64(b[5:13])),
		Payload:     payload,
	}, nil
}

// -------------------- WAL --------------------

// ExitWAL is safe for one writer (the service) and one relay goroutine.
type ExitWAL struct {
	db *pebble.DB
}

func Open(dir string) (*ExitWAL, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, errors.Wrapf(err, "open outbox %s", dir)
	}
	return &ExitWAL{db: db}, nil
}

func (w *ExitWAL) Close() error {
	return w.db.Close()
}

// -------------------- API --------------------

// LastSeq is the highest sequence stored, zero when empty.
func (w *ExitWAL) LastSeq() (uint64, error) {
	iter, err := w.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(keyPrefix),
		UpperBound: []byte(keyUpper),
	})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	if !iter.Last() {
		return 0, iter.Error()
	}
	return parseKey(iter.Key())
}

// PutNew stages a NEW entry into batch.
func (w *ExitWAL) PutNew(b *pebble.Batch, seq uint64, payload []byte) error {
	rec := ExitRecord{State: StateNew, Payload: payload}
	return b.Set(keyFor(seq), encodeRecord(rec), nil)
}

// NewBatch starts a write batch; Commit applies it durably.
func (w *ExitWAL) NewBatch() *pebble.Batch {
	return w.db.NewBatch()
}

func (w *ExitWAL) Commit(b *pebble.Batch) error {
	return b.Commit(pebble.Sync)
}

// UpdateState updates state after send / ack / failure.
func (w *ExitWAL) UpdateState(seq uint64, state ExitState, retries uint32) error {
	rec, err := w.Get(seq)
	if err != nil {
		return err
	}
	rec.State = state
	rec.Retries = retries
	rec.LastAttempt = time.Now().UnixNano()
	return w.db.Set(keyFor(seq), encodeRecord(rec), pebble.Sync)
}

func (w *ExitWAL) MarkSent(seq uint64) error {
	rec, err := w.Get(seq)
	if err != nil {
		return err
	}
	return w.UpdateState(seq, StateSent, rec.Retries)
}

func (w *ExitWAL) MarkAcked(seq uint64) error {
	rec, err := w.Get(seq)
	if err != nil {
		return err
	}
	return w.UpdateState(seq, StateAcked, rec.Retries)
}

// MarkFailed returns the entry to the pending set with one more retry.
func (w *ExitWAL) MarkFailed(seq uint64) error {
	rec, err := w.Get(seq)
	if err != nil {
		return err
	}
	return w.UpdateState(seq, StateFailed, rec.Retries+1)
}

// Delete removes ACKED records (cleanup).
func (w *ExitWAL) Delete(seq uint64) error {
	return w.db.Delete(keyFor(seq), pebble.Sync)
}

// Get returns the current record for seq.
func (w *ExitWAL) Get(seq uint64) (ExitRecord, error) {
	val, closer, err := w.db.Get(keyFor(seq))
	if err != nil {
		if err == pebble.ErrNotFound {
			return ExitRecord{}, errors.Wrapf(errors.ErrSettlement, "outbox record %d not found", seq)
		}
		return ExitRecord{}, err
	}
	defer closer.Close()

	return decodeRecord(seq, val)
}

// -------------------- Scan --------------------

// ScanByState iterates all records in the given state in sequence order.
func (w *ExitWAL) ScanByState(state ExitState, fn func(rec *ExitRecord) error) error {
	return w.scan(func(rec *ExitRecord) error {
		if rec.State != state {
			return nil
		}
		return fn(rec)
	})
}

// ScanPending iterates entries not yet acknowledged: NEW, FAILED, and SENT
// ones whose outcome was lost. This is used by the Broadcaster.
func (w *ExitWAL) ScanPending(fn func(rec *ExitRecord) error) error {
	return w.scan(func(rec *ExitRecord) error {
		if rec.State == StateAcked {
			return nil
		}
		return fn(rec)
	})
}

// TruncateAckedUpTo deletes ACKED entries with seq <= upTo.
func (w *ExitWAL) TruncateAckedUpTo(upTo uint64) (int, error) {
	b := w.db.NewBatch()
	defer b.Close()

	n := 0
	err := w.ScanByState(StateAcked, func(rec *ExitRecord) error {
		if rec.Seq > upTo {
			return nil
		}
		n++
		return b.Delete(keyFor(rec.Seq), nil)
	})
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	return n, b.Commit(pebble.Sync)
}

func (w *ExitWAL) scan(fn func(rec *ExitRecord) error) error {
	iter, err := w.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(keyPrefix),
		UpperBound: []byte(keyUpper),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		seq, err := parseKey(iter.Key())
		if err != nil {
			return err
		}
		rec, err := decodeRecord(seq, iter.Value())
		if err != nil {
			return err
		}
		if err := fn(&rec); err != nil {
			return err
		}
	}
	return iter.Error()
}

// -------------------- Helpers --------------------

const (
	keyPrefix = "settle/"
	keyUpper  = "settle/~"
)

func keyFor(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", keyPrefix, seq))
}

func parseKey(b []byte) (uint64, error) {
	return strconv.ParseUint(string(b[len(keyPrefix):]), 10, 64)
}
