package snapshot

import (
	"context"
	"encoding/gob"
	"os"
	"path/filepath"

	"hybridbook/pkg/errors"
)

const fileName = "snapshot.bin"

// FileStore keeps the latest snapshot as a gob file in Dir. Save writes a
// temporary file and renames it over the previous snapshot.
type FileStore struct {
	Dir string
}

func (w *FileStore) Save(_ context.Context, s *Snapshot) error {
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return errors.Wrap(err, "create snapshot dir")
	}

	tmp, err := os.CreateTemp(w.Dir, fileName+".*")
	if err != nil {
		return errors.Wrap(err, "create snapshot file")
	}
	defer os.Remove(tmp.Name())

	if err := gob.NewEncoder(tmp).Encode(s); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "encode snapshot")
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "sync snapshot")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close snapshot")
	}
	return errors.Wrap(os.Rename(tmp.Name(), filepath.Join(w.Dir, fileName)), "install snapshot")
}

func (w *FileStore) Load(_ context.Context) (*Snapshot, error) {
	f, err := os.Open(filepath.Join(w.Dir, fileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil // snapshot optional
		}
		return nil, errors.Wrap(err, "open snapshot")
	}
	defer f.Close()

	var s Snapshot
	if err := gob.NewDecoder(f).Decode(&s); err != nil {
		return nil, errors.Wrap(err, "decode snapshot")
	}
	return &s, nil
}
