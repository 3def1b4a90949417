package entry

import (
	stderrors "errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hybridbook/pkg/errors"
)

func appendN(t *testing.T, w *WAL, from, to uint64) {
	t.Helper()
	for seq := from; seq <= to; seq++ {
		require.NoError(t, w.Append(NewRecord(RecordDeposit, seq, []byte{byte(seq)})))
	}
}

func collect(t *testing.T, dir string, after uint64) ([]uint64, uint64) {
	t.Helper()
	var seqs []uint64
	last, err := Replay(dir, after, func(r *Record) error {
		assert.Equal(t, RecordDeposit, r.Type)
		assert.Equal(t, []byte{byte(r.Seq)}, r.Data)
		seqs = append(seqs, r.Seq)
		return nil
	})
	require.NoError(t, err)
	return seqs, last
}

func TestAppendReplay(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(Config{Dir: dir, SegmentSize: 64})
	require.NoError(t, err)
	appendN(t, w, 1, 10)
	require.NoError(t, w.Close())

	files, err := listSegments(dir)
	require.NoError(t, err)
	assert.Greater(t, len(files), 1, "small segments rotate")

	seqs, last := collect(t, dir, 0)
	assert.Equal(t, []uint64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, seqs)
	assert.Equal(t, uint64(10), last)

	seqs, last = collect(t, dir, 7)
	assert.Equal(t, []uint64{8, 9, 10}, seqs)
	assert.Equal(t, uint64(10), last)
}

func TestReopenResumesNewestSegment(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(Config{Dir: dir, SegmentSize: 64})
	require.NoError(t, err)
	appendN(t, w, 1, 5)
	require.NoError(t, w.Close())

	w, err = Open(Config{Dir: dir, SegmentSize: 64})
	require.NoError(t, err)
	appendN(t, w, 6, 8)
	require.NoError(t, w.Close())

	seqs, _ := collect(t, dir, 0)
	assert.Equal(t, []uint64{1, 2, 3, 4, 5, 6, 7, 8}, seqs)
}

func TestTruncateBefore(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(Config{Dir: dir, SegmentSize: 64})
	require.NoError(t, err)
	appendN(t, w, 1, 10)

	require.NoError(t, w.TruncateBefore(6))
	seqs, _ := collect(t, dir, 6)
	assert.Equal(t, []uint64{7, 8, 9, 10}, seqs)

	// everything older than the snapshot may be gone, nothing newer is
	all, _ := collect(t, dir, 0)
	assert.Contains(t, all, uint64(7))
	require.NoError(t, w.Close())
}

func TestTornTailIsIgnored(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(Config{Dir: dir})
	require.NoError(t, err)
	appendN(t, w, 1, 3)
	path := w.current.path
	require.NoError(t, w.Close())

	st, err := os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(path, st.Size()-3))

	seqs, last := collect(t, dir, 0)
	assert.Equal(t, []uint64{1, 2}, seqs)
	assert.Equal(t, uint64(2), last)

	// reopening drops the torn frame and appends after the good ones
	w, err = Open(Config{Dir: dir})
	require.NoError(t, err)
	appendN(t, w, 3, 4)
	require.NoError(t, w.Close())
	seqs, _ = collect(t, dir, 0)
	assert.Equal(t, []uint64{1, 2, 3, 4}, seqs)
}

func TestCorruptRecordFails(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(Config{Dir: dir})
	require.NoError(t, err)
	appendN(t, w, 1, 2)
	path := w.current.path
	require.NoError(t, w.Close())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	b[headerSize] ^= 0xff
	require.NoError(t, os.WriteFile(path, b, 0o644))

	_, err = Replay(dir, 0, func(*Record) error { return nil })
	assert.True(t, errors.Is(err, errors.ErrJournal))
}

var errDisk = stderrors.New("disk failure")

// flakyFile fails on demand. A failing Write still lands half the frame.
type flakyFile struct {
	*os.File
	failWrite    bool
	failSync     bool
	failTruncate bool
}

func (f *flakyFile) Write(b []byte) (int, error) {
	if f.failWrite {
		n, _ := f.File.Write(b[:len(b)/2])
		return n, errDisk
	}
	return f.File.Write(b)
}

func (f *flakyFile) Sync() error {
	if f.failSync {
		return errDisk
	}
	return f.File.Sync()
}

func (f *flakyFile) Truncate(size int64) error {
	if f.failTruncate {
		return errDisk
	}
	return f.File.Truncate(size)
}

func size(t *testing.T, path string) int64 {
	t.Helper()
	st, err := os.Stat(path)
	require.NoError(t, err)
	return st.Size()
}

func TestFailedAppendLeavesNothing(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(Config{Dir: dir})
	require.NoError(t, err)
	appendN(t, w, 1, 2)
	path := w.current.path
	before := size(t, path)

	f := &flakyFile{File: w.current.file.(*os.File), failWrite: true}
	w.current.file = f
	err = w.Append(NewRecord(RecordDeposit, 3, []byte{3}))
	assert.True(t, errors.Is(err, errors.ErrJournal))
	assert.Equal(t, before, size(t, path), "torn frame is cut back")

	f.failWrite = false
	w.sync = true
	f.failSync = true
	err = w.Append(NewRecord(RecordDeposit, 3, []byte{3}))
	assert.True(t, errors.Is(err, errors.ErrJournal))
	assert.Equal(t, before, size(t, path), "unsynced frame is cut back")

	f.failSync = false
	appendN(t, w, 3, 4)
	require.NoError(t, w.Close())

	seqs, last := collect(t, dir, 0)
	assert.Equal(t, []uint64{1, 2, 3, 4}, seqs)
	assert.Equal(t, uint64(4), last)
}

func TestUnrecoverableAppendStopsJournal(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(Config{Dir: dir})
	require.NoError(t, err)
	appendN(t, w, 1, 1)

	f := &flakyFile{File: w.current.file.(*os.File), failWrite: true, failTruncate: true}
	w.current.file = f
	require.Error(t, w.Append(NewRecord(RecordDeposit, 2, []byte{2})))

	// the torn frame is still on disk, so nothing may follow it
	f.failWrite, f.failTruncate = false, false
	err = w.Append(NewRecord(RecordDeposit, 2, []byte{2}))
	assert.True(t, errors.Is(err, errors.ErrJournal))
	require.NoError(t, w.Close())

	seqs, _ := collect(t, dir, 0)
	assert.Equal(t, []uint64{1}, seqs)
}

func TestFailedRotationKeepsRecord(t *testing.T) {
	root := t.TempDir()
	dir := root + "/wal"
	moved := root + "/moved"
	w, err := Open(Config{Dir: dir, SegmentSize: 1})
	require.NoError(t, err)
	appendN(t, w, 1, 1)

	// the open segment stays writable but the next one cannot be created
	require.NoError(t, os.Rename(dir, moved))
	appendN(t, w, 2, 2)
	seqs, _ := collect(t, moved, 0)
	assert.Equal(t, []uint64{1, 2}, seqs)

	// rotation is retried once the directory is back
	require.NoError(t, os.Rename(moved, dir))
	appendN(t, w, 3, 3)
	require.NoError(t, w.Close())

	files, err := listSegments(dir)
	require.NoError(t, err)
	assert.Len(t, files, 3)
	seqs, _ = collect(t, dir, 0)
	assert.Equal(t, []uint64{1, 2, 3}, seqs)
}
