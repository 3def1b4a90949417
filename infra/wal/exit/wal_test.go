package exit

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTest(t *testing.T) *ExitWAL {
	t.Helper()
	w, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func pending(t *testing.T, w *ExitWAL) []ExitRecord {
	t.Helper()
	var out []ExitRecord
	require.NoError(t, w.ScanPending(func(rec *ExitRecord) error {
		out = append(out, *rec)
		return nil
	}))
	return out
}

func TestSettlementFlushAndDiscard(t *testing.T) {
	w := openTest(t)
	s, err := NewSettlement(w)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Debit(ctx, "alice", "USDC", uint256.NewInt(10)))
	s.Discard()
	assert.Empty(t, pending(t, w))

	require.NoError(t, s.Debit(ctx, "alice", "USDC", uint256.NewInt(10)))
	require.NoError(t, s.Credit(ctx, "bob", "ETH", uint256.NewInt(3)))
	assert.Empty(t, pending(t, w), "staged entries are invisible before Flush")
	require.NoError(t, s.Flush())

	recs := pending(t, w)
	require.Len(t, recs, 2)
	assert.Equal(t, uint64(1), recs[0].Seq, "discarded sequences are reused")
	assert.Equal(t, StateNew, recs[0].State)

	var ins Instruction
	require.NoError(t, json.Unmarshal(recs[1].Payload, &ins))
	assert.Equal(t, KindCredit, ins.Kind)
	assert.Equal(t, "bob", ins.User)
	assert.Equal(t, "3", ins.Amount)
	assert.NotEmpty(t, ins.ID)

	last, err := w.LastSeq()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), last)
}

func TestStateTransitionsAndTruncate(t *testing.T) {
	w := openTest(t)
	s, err := NewSettlement(w)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Credit(context.Background(), "alice", "USDC", uint256.NewInt(1)))
	}
	require.NoError(t, s.Flush())

	require.NoError(t, w.MarkSent(1))
	require.NoError(t, w.MarkAcked(1))
	require.NoError(t, w.MarkSent(2))
	require.NoError(t, w.MarkFailed(2))

	rec, err := w.Get(2)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, rec.State)
	assert.Equal(t, uint32(1), rec.Retries)
	assert.NotEmpty(t, rec.Payload, "state updates keep the payload")

	recs := pending(t, w)
	require.Len(t, recs, 2)
	assert.Equal(t, uint64(2), recs[0].Seq)
	assert.Equal(t, uint64(3), recs[1].Seq)

	n, err := w.TruncateAckedUpTo(10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = w.Get(1)
	assert.Error(t, err)
}

func TestSequenceSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir)
	require.NoError(t, err)
	s, err := NewSettlement(w)
	require.NoError(t, err)
	require.NoError(t, s.Credit(context.Background(), "alice", "USDC", uint256.NewInt(1)))
	require.NoError(t, s.Flush())
	require.NoError(t, w.Close())

	w, err = Open(dir)
	require.NoError(t, err)
	defer w.Close()
	s, err = NewSettlement(w)
	require.NoError(t, err)
	require.NoError(t, s.Credit(context.Background(), "alice", "USDC", uint256.NewInt(1)))
	require.NoError(t, s.Flush())

	last, err := w.LastSeq()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), last)
}
