package users

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/2beens/lxcgate/internal/telemetry/tracing"

	"github.com/go-redis/redis/v8"
	log "github.com/sirupsen/logrus"
)

var _ Store = (*RedisStore)(nil)

const maxUpdateAttempts = 5

// RedisStore keeps the same JSON document as FileStore under a single redis key,
// so several gateway instances can share one credentials store.
type RedisStore struct {
	key         string
	redisClient *redis.Client
	mutex       sync.Mutex
}

func NewRedisStore(redisClient *redis.Client, key string) *RedisStore {
	return &RedisStore{
		key:         key,
		redisClient: redisClient,
	}
}

func (s *RedisStore) Load(ctx context.Context) []Credential {
	ctx, span := tracing.GlobalTracer.Start(ctx, "redisStore.load")
	defer span.End()

	records, err := s.get(ctx, s.redisClient)
	if err != nil {
		log.Errorf("users redis store, load [%s]: %s", s.key, err)
		return []Credential{}
	}
	return records
}

func (s *RedisStore) Save(ctx context.Context, records []Credential) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "redisStore.save")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	data, err := marshalRecords(records)
	if err != nil {
		return err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()
	if err := s.redisClient.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("redis set users: %w", err)
	}
	return nil
}

// Update serializes writers of this process with a mutex, and writers across
// processes with an optimistic WATCH/MULTI transaction on the key.
func (s *RedisStore) Update(ctx context.Context, fn UpdateFunc) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "redisStore.update")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	s.mutex.Lock()
	defer s.mutex.Unlock()

	txf := func(tx *redis.Tx) error {
		records, err := s.get(ctx, tx)
		if err != nil {
			return err
		}
		updated, err := fn(records)
		if err != nil {
			return err
		}
		data, err := marshalRecords(updated)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, s.key, data, 0)
			return nil
		})
		return err
	}

	for i := 0; i < maxUpdateAttempts; i++ {
		err = s.redisClient.Watch(ctx, txf, s.key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
		log.Debugf("users redis store: concurrent update of [%s], attempt %d", s.key, i+1)
	}
	return fmt.Errorf("users redis store: update gave up after %d attempts: %w", maxUpdateAttempts, err)
}

// getter is satisfied by both *redis.Client and *redis.Tx
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisStore) get(ctx context.Context, g getter) ([]Credential, error) {
	data, err := g.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []Credential{}, nil
		}
		return nil, fmt.Errorf("redis get users: %w", err)
	}

	records := []Credential{}
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrStoreCorrupt, err)
	}
	return records, nil
}

func marshalRecords(records []Credential) ([]byte, error) {
	if records == nil {
		records = []Credential{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal users: %w", err)
	}
	return data, nil
}
