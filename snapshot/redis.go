package snapshot

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"hybridbook/pkg/errors"
	"hybridbook/pkg/logger"
)

// kv is the subset of redis.Cmdable the store needs.
type kv interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// RedisStore keeps the latest snapshot as JSON under Key.
type RedisStore struct {
	client kv
	key    string
	logger *logger.Logger
}

func NewRedisStore(client redis.Cmdable, key string, log *logger.Logger) *RedisStore {
	return &RedisStore{client: client, key: key, logger: log}
}

func (s *RedisStore) Save(ctx context.Context, snap *Snapshot) error {
	buf, err := json.Marshal(snap)
	if err != nil {
		return errors.Wrap(err, "marshal snapshot")
	}
	if err := s.client.Set(ctx, s.key, buf, 0).Err(); err != nil {
		s.logger.ErrorContext(ctx, err, logger.NewField("key", s.key), logger.NewField("action", "store snapshot"))
		return errors.Wrapf(err, "store snapshot %s", s.key)
	}
	s.logger.InfoContext(ctx, "snapshot stored",
		logger.NewField("key", s.key),
		logger.NewField("seq", snap.Seq),
	)
	return nil
}

func (s *RedisStore) Load(ctx context.Context) (*Snapshot, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if err != nil {
		if err == redis.Nil {
			s.logger.Warn("no snapshot found", logger.NewField("key", s.key))
			return nil, nil
		}
		return nil, errors.Wrapf(err, "load snapshot %s", s.key)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, errors.Wrapf(err, "unmarshal snapshot %s", s.key)
	}
	return &snap, nil
}
