package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	taskKeyPrefix     = "task:"
	maxUpdateAttempts = 10
)

// Store はタスクの状態を保存します。
// Get は存在しないタスクに対して nil, nil を返します。
type Store interface {
	Get(ctx context.Context, taskID string) (*Record, error)
	Put(ctx context.Context, record *Record) error
	// Update は mutate を適用した結果を保存して返します。mutate がエラーを返した場合は保存しません。
	Update(ctx context.Context, taskID string, mutate func(*Record) error) (*Record, error)
	List(ctx context.Context) ([]*Record, error)
	Delete(ctx context.Context, taskID string) error
}

// RedisStore はタスク状態を Redis に保存します。
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
	now func() time.Time
}

// NewRedisStore は RedisStore を作成します。ttl が0の場合は期限を設定しません。
func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{
		rdb: rdb,
		ttl: ttl,
		now: time.Now,
	}
}

// Get はタスク情報を取得します。
func (s *RedisStore) Get(ctx context.Context, taskID string) (*Record, error) {
	if taskID == "" {
		return nil, fmt.Errorf("taskID is required")
	}
	data, err := s.rdb.Get(ctx, taskKey(taskID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// Put はタスク情報を保存します（存在しない場合は作成）。
func (s *RedisStore) Put(ctx context.Context, record *Record) error {
	if record == nil {
		return fmt.Errorf("record is nil")
	}
	now := s.now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now

	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, taskKey(record.TaskID), payload, s.ttl).Err()
}

// Update は WATCH による楽観ロックでタスク情報を更新します。
func (s *RedisStore) Update(ctx context.Context, taskID string, mutate func(*Record) error) (*Record, error) {
	key := taskKey(taskID)
	var updated Record
	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return fmt.Errorf("%w: %s", ErrNotFound, taskID)
			}
			return err
		}
		var record Record
		if err := json.Unmarshal(data, &record); err != nil {
			return err
		}
		if err := mutate(&record); err != nil {
			return err
		}
		record.UpdatedAt = s.now().UTC()
		payload, err := json.Marshal(&record)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, s.ttl)
			return nil
		})
		if err == nil {
			updated = record
		}
		return err
	}

	for i := 0; i < maxUpdateAttempts; i++ {
		err := s.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return &updated, nil
	}
	return nil, fmt.Errorf("update task %s: too many concurrent updates", taskID)
}

// List は保存されているすべてのタスクを作成日時順に返します。
func (s *RedisStore) List(ctx context.Context) ([]*Record, error) {
	var (
		records []*Record
		cursor  uint64
	)
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, taskKeyPrefix+"*", 100).Result()
		if err != nil {
			return nil, err
		}
		if len(keys) > 0 {
			values, err := s.rdb.MGet(ctx, keys...).Result()
			if err != nil {
				return nil, err
			}
			for _, v := range values {
				raw, ok := v.(string)
				if !ok {
					continue // 取得までの間に期限切れになったキー
				}
				var record Record
				if err := json.Unmarshal([]byte(raw), &record); err != nil {
					return nil, err
				}
				records = append(records, &record)
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	sortRecords(records)
	return records, nil
}

// Delete はタスク情報を削除します。
func (s *RedisStore) Delete(ctx context.Context, taskID string) error {
	return s.rdb.Del(ctx, taskKey(taskID)).Err()
}

func taskKey(id string) string {
	return taskKeyPrefix + id
}

func sortRecords(records []*Record) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
}
