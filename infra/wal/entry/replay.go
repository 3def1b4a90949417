package entry

import (
	"encoding/binary"
	"io"
	"os"

	"hybridbook/pkg/errors"
)

type ReplayHandler func(*Record) error

// Replay feeds fn every record with Seq > after, in order, and returns the
// highest sequence seen. A torn frame at the end of the newest segment is
// treated as the end of the journal.
func Replay(dir string, after uint64, fn ReplayHandler) (lastSeq uint64, err error) {
	files, err := listSegments(dir)
	if err != nil {
		return 0, err
	}

	lastSeq = after
	var prev uint64
	for i, path := range files {
		f, err := os.Open(path)
		if err != nil {
			return lastSeq, err
		}

		for {
			rec, err := readRecord(f)
			if err != nil {
				if err == io.EOF {
					break
				}
				if err == io.ErrUnexpectedEOF && i == len(files)-1 {
					break
				}
				_ = f.Close()
				return lastSeq, errors.Wrapf(err, "read %s", path)
			}

			if rec.Seq <= prev {
				_ = f.Close()
				return lastSeq, errors.Wrapf(errors.ErrJournal, "non-monotonic seq %d after %d", rec.Seq, prev)
			}
			prev = rec.Seq
			if rec.Seq <= after {
				continue
			}
			lastSeq = rec.Seq

			if err := fn(rec); err != nil {
				_ = f.Close()
				return lastSeq, errors.Wrapf(err, "replay seq %d", rec.Seq)
			}
		}
		_ = f.Close()
	}

	return lastSeq, nil
}

func readRecord(r io.Reader) (*Record, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	t := RecordType(header[0])
	seq := binary.BigEndian.Uint64(header[1:9])
	ts := binary.BigEndian.Uint64(header[9:17])
	l := binary.BigEndian.Uint32(header[17:21])

	data := make([]byte, l+4)
	if _, err := io.ReadFull(r, data); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}

	payload := data[:l]
	crc := binary.BigEndian.Uint32(data[l:])

	if !CRC32Valid(append(header, payload...), crc) {
		return nil, errors.Wrapf(errors.ErrJournal, "crc mismatch at seq %d", seq)
	}

	return &Record{
		Type: t,
		Seq:  seq,
		Time: int64(ts),
		Data: payload,
	}, nil
}
