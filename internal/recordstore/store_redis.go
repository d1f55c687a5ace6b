package recordstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"medigate/pkg/domain"
	"medigate/pkg/platform/sentinel"
)

const recordKeyPrefix = "hra:subject:"

// RedisStore is the redis-backed record store. Merge is read-modify-write:
// concurrent upserts for the same key are last-write-wins, which the
// completion latch upstream prevents from mattering within one attempt.
type RedisStore struct {
	client *redis.Client
	now    func() time.Time
}

func NewRedis(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, now: time.Now}
}

func recordKey(subjectID domain.SubjectID) string {
	return recordKeyPrefix + subjectID.String()
}

func (s *RedisStore) Upsert(ctx context.Context, record HealthRecordAggregate, mode WriteMode) (WriteResult, error) {
	start := time.Now()
	defer func() {
		upsertDurationMs.WithLabelValues("redis", string(mode)).
			Observe(float64(time.Since(start).Microseconds()) / 1000.0)
	}()

	now := s.now()
	existing, err := s.Get(ctx, record.SubjectID)
	created := false
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		record.CreatedAt = now
		record.UpdatedAt = now
		created = true
	case err != nil:
		return WriteResult{}, err
	default:
		record = merged(existing, record, mode, now)
	}

	data, err := json.Marshal(record)
	if err != nil {
		return WriteResult{}, fmt.Errorf("marshal record: %w", err)
	}
	if err := s.client.Set(ctx, recordKey(record.SubjectID), data, 0).Err(); err != nil {
		return WriteResult{}, fmt.Errorf("write record: %w", err)
	}
	return WriteResult{Created: created}, nil
}

func (s *RedisStore) Get(ctx context.Context, subjectID domain.SubjectID) (HealthRecordAggregate, error) {
	data, err := s.client.Get(ctx, recordKey(subjectID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return HealthRecordAggregate{}, sentinel.ErrNotFound
	}
	if err != nil {
		return HealthRecordAggregate{}, fmt.Errorf("read record: %w", err)
	}
	var record HealthRecordAggregate
	if err := json.Unmarshal(data, &record); err != nil {
		return HealthRecordAggregate{}, fmt.Errorf("decode record: %w", err)
	}
	return record, nil
}

func (s *RedisStore) Delete(ctx context.Context, subjectID domain.SubjectID) error {
	if err := s.client.Del(ctx, recordKey(subjectID)).Err(); err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	return nil
}

func (s *RedisStore) ListAll(ctx context.Context) ([]HealthRecordAggregate, error) {
	var out []HealthRecordAggregate
	iter := s.client.Scan(ctx, 0, recordKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		data, err := s.client.Get(ctx, iter.Val()).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read record: %w", err)
		}
		var record HealthRecordAggregate
		if err := json.Unmarshal(data, &record); err != nil {
			return nil, fmt.Errorf("decode record: %w", err)
		}
		out = append(out, record)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan records: %w", err)
	}
	return out, nil
}
