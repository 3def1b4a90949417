package service

import (
	"context"
	"time"

	"hybridbook/pkg/logger"
	"hybridbook/snapshot"
)

// Truncater drops journal segments fully covered by a snapshot.
type Truncater interface {
	TruncateBefore(seq uint64) error
}

// Outbox garbage-collects delivered settlement instructions.
type Outbox interface {
	LastSeq() (uint64, error)
	TruncateAckedUpTo(upTo uint64) (int, error)
}

// SnapshotJob periodically saves a snapshot, then truncates the journal
// and the settlement outbox behind it.
type SnapshotJob struct {
	Exchange *Exchange
	Store    snapshot.Store
	Journal  Truncater
	Outbox   Outbox
	Interval time.Duration
	Log      *logger.Logger

	lastSeq uint64
}

func (j *SnapshotJob) Run(ctx context.Context) {
	t := time.NewTicker(j.Interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := j.RunOnce(ctx); err != nil {
				j.Log.ErrorContext(ctx, err, logger.NewField("job", "snapshot"))
			}
		}
	}
}

// RunOnce takes one snapshot. Nothing is written when no command committed
// since the previous one.
func (j *SnapshotJob) RunOnce(ctx context.Context) error {
	snap, err := j.Exchange.Snapshot(ctx)
	if err != nil {
		return err
	}
	if snap.Seq == j.lastSeq && j.lastSeq != 0 {
		return nil
	}
	if err := j.Store.Save(ctx, snap); err != nil {
		return err
	}
	j.lastSeq = snap.Seq

	if j.Journal != nil {
		if err := j.Journal.TruncateBefore(snap.Seq); err != nil {
			return err
		}
	}
	if j.Outbox != nil {
		last, err := j.Outbox.LastSeq()
		if err != nil {
			return err
		}
		n, err := j.Outbox.TruncateAckedUpTo(last)
		if err != nil {
			return err
		}
		j.Log.Debug("snapshot saved",
			logger.NewField("seq", snap.Seq),
			logger.NewField("outbox_removed", n),
		)
	}
	return nil
}
