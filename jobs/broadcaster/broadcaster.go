// Package broadcaster relays the settlement outbox to Kafka. Instructions
// are delivered at least once and in sequence order; consumers dedupe on
// the instruction id.
package broadcaster

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/IBM/sarama"

	"hybridbook/infra/metrics"
	exitwal "hybridbook/infra/wal/exit"
	"hybridbook/pkg/errors"
	"hybridbook/pkg/logger"
)

// Outbox is the part of the exit WAL the relay drives.
type Outbox interface {
	ScanPending(fn func(rec *exitwal.ExitRecord) error) error
	MarkSent(seq uint64) error
	MarkAcked(seq uint64) error
	MarkFailed(seq uint64) error
}

type Broadcaster struct {
	outbox   Outbox
	producer sarama.SyncProducer
	topic    string
	interval time.Duration
	metrics  *metrics.Metrics
	log      *logger.Logger
}

// NewProducer builds the synchronous producer the relay expects: every
// send waits for all in-sync replicas.
func NewProducer(brokers []string) (sarama.SyncProducer, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1
	cfg.Version = sarama.V2_1_0_0

	return sarama.NewSyncProducer(brokers, cfg)
}

func New(
	outbox Outbox,
	producer sarama.SyncProducer,
	topic string,
	interval time.Duration,
	m *metrics.Metrics,
	log *logger.Logger,
) *Broadcaster {
	return &Broadcaster{
		outbox:   outbox,
		producer: producer,
		topic:    topic,
		interval: interval,
		metrics:  m,
		log:      log,
	}
}

// Run relays pending instructions every interval until ctx is done.
func (b *Broadcaster) Run(ctx context.Context) {
	b.log.Info("broadcaster started", logger.NewField("topic", b.topic))

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := b.RelayOnce(); err != nil {
				b.log.Warn("outbox relay stopped", logger.NewField("error", err.Error()))
			}
		}
	}
}

// RelayOnce sends pending instructions in order and stops at the first
// failure so later instructions never overtake it. It returns the number
// acknowledged.
func (b *Broadcaster) RelayOnce() (int, error) {
	sent := 0
	err := b.outbox.ScanPending(func(rec *exitwal.ExitRecord) error {
		if err := b.outbox.MarkSent(rec.Seq); err != nil {
			return err
		}

		msg := &sarama.ProducerMessage{
			Topic: b.topic,
			Key:   sarama.StringEncoder(messageKey(rec)),
			Value: sarama.ByteEncoder(rec.Payload),
			Headers: []sarama.RecordHeader{
				{Key: []byte("seq"), Value: []byte(strconv.FormatUint(rec.Seq, 10))},
			},
		}
		if _, _, err := b.producer.SendMessage(msg); err != nil {
			b.metrics.OutboxRelayed.WithLabelValues("failed").Inc()
			if markErr := b.outbox.MarkFailed(rec.Seq); markErr != nil {
				return markErr
			}
			return errors.Cause(errors.ErrSettlement, err)
		}

		if err := b.outbox.MarkAcked(rec.Seq); err != nil {
			return err
		}
		b.metrics.OutboxRelayed.WithLabelValues("acked").Inc()
		sent++
		return nil
	})
	return sent, err
}

// messageKey partitions by user so one user's instructions stay ordered.
func messageKey(rec *exitwal.ExitRecord) string {
	var in exitwal.Instruction
	if err := json.Unmarshal(rec.Payload, &in); err != nil || in.User == "" {
		return strconv.FormatUint(rec.Seq, 10)
	}
	return in.User
}

func (b *Broadcaster) Close() error {
	return b.producer.Close()
}
