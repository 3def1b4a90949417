// Package entry is the command journal: every committed command is appended
// as a CRC-framed record with a strictly increasing sequence number, and
// replayed on start past the latest snapshot.
package entry

import (
	"encoding/binary"
	"os"
	"time"

	"hybridbook/infra/memory"
	"hybridbook/pkg/errors"
	"hybridbook/pkg/logger"
)

// Frame: [type:1][seq:8][time:8][len:4][payload][crc:4]
const headerSize = 1 + 8 + 8 + 4

type Config struct {
	Dir             string
	SegmentSize     int64
	SegmentDuration time.Duration
	// Sync fsyncs every append.
	Sync bool
	Log  *logger.Logger
}

// WAL is single-writer.
type WAL struct {
	dir        string
	segSize    int64
	segDur     time.Duration
	sync       bool
	current    *segment
	lastRotate time.Time
	log        *logger.Logger

	// broken is set when a failed append could not be cut back off the
	// segment; nothing more may be written after it.
	broken error
}

// Open resumes appending to the newest segment in cfg.Dir.
func Open(cfg Config) (*WAL, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create wal dir")
	}

	files, err := listSegments(cfg.Dir)
	if err != nil {
		return nil, errors.Wrap(err, "list wal segments")
	}
	index := 0
	if len(files) > 0 {
		last := files[len(files)-1]
		index = segmentIndex(last)
		// drop a torn frame left by a crash so new frames stay readable
		n, err := completeLength(last)
		if err != nil {
			return nil, errors.Wrapf(err, "scan %s", last)
		}
		if err := os.Truncate(last, n); err != nil {
			return nil, errors.Wrapf(err, "truncate %s", last)
		}
	}

	seg, err := openSegment(cfg.Dir, index)
	if err != nil {
		return nil, errors.Wrap(err, "open wal segment")
	}

	log := cfg.Log
	if log == nil {
		log = logger.NewNop()
	}
	return &WAL{
		dir:        cfg.Dir,
		segSize:    cfg.SegmentSize,
		segDur:     cfg.SegmentDuration,
		sync:       cfg.Sync,
		current:    seg,
		lastRotate: time.Now(),
		log:        log,
	}, nil
}

var frames = memory.NewBufferPool(512)

// Append writes r as one frame. On error nothing of r is left in the
// journal; once Append returns nil, r is part of it even if the segment
// could not be rotated afterwards.
func (w *WAL) Append(r *Record) error {
	if w.broken != nil {
		return errors.Cause(errors.ErrJournal, w.broken)
	}

	start := w.current.offset
	buf := frames.Get()
	*buf = appendFrame(*buf, r)
	err := w.current.append(*buf)
	frames.Put(buf)
	if err == nil && w.sync {
		err = w.current.sync()
	}
	if err != nil {
		if terr := w.current.truncate(start); terr != nil {
			w.broken = errors.Wrapf(terr, "truncate %s to %d", w.current.path, start)
		}
		return errors.Cause(errors.ErrJournal, err)
	}

	if w.segSize > 0 && w.current.offset >= w.segSize ||
		w.segDur > 0 && time.Since(w.lastRotate) >= w.segDur {
		if err := w.rotate(); err != nil {
			// retried on the next append
			w.log.Error(err, logger.NewField("segment", w.current.path), logger.NewField("seq", r.Seq))
		}
	}
	return nil
}

func appendFrame(dst []byte, r *Record) []byte {
	payloadLen := uint32(len(r.Data))
	n := len(dst)
	dst = append(dst, make([]byte, headerSize+payloadLen+4)...)
	buf := dst[n:]

	buf[0] = byte(r.Type)
	binary.BigEndian.PutUint64(buf[1:9], r.Seq)
	binary.BigEndian.PutUint64(buf[9:17], uint64(r.Time))
	binary.BigEndian.PutUint32(buf[17:21], payloadLen)
	copy(buf[headerSize:], r.Data)

	crc := CRC32(buf[:headerSize+payloadLen])
	binary.BigEndian.PutUint32(buf[headerSize+payloadLen:], crc)
	return dst
}

// rotate leaves the current segment in place unless the next one opened.
func (w *WAL) rotate() error {
	seg, err := openSegment(w.dir, w.current.index+1)
	if err != nil {
		return errors.Wrap(err, "open next wal segment")
	}
	if err := w.current.sync(); err != nil {
		_ = seg.close()
		_ = os.Remove(seg.path)
		return errors.Wrapf(err, "sync %s", w.current.path)
	}
	_ = w.current.close()

	w.current = seg
	w.lastRotate = time.Now()
	return nil
}

// TruncateBefore removes closed segments whose records are all at or below
// seq. The segment being appended to is never removed.
func (w *WAL) TruncateBefore(seq uint64) error {
	files, err := listSegments(w.dir)
	if err != nil {
		return err
	}

	for _, path := range files {
		if path == w.current.path {
			continue
		}
		maxSeq, err := maxSeqInSegment(path)
		if err != nil {
			continue
		}
		if maxSeq <= seq {
			if err := os.Remove(path); err != nil {
				return errors.Wrapf(err, "remove %s", path)
			}
		}
	}
	return nil
}

func (w *WAL) Close() error {
	if err := w.current.sync(); err != nil {
		return err
	}
	return w.current.close()
}
